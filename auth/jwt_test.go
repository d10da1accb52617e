package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_GenerateAndResolve(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	token, err := manager.Generate("user-1", "Alice")
	require.NoError(t, err)

	userID, err := manager.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestJWTManager_RejectsForeignSignature(t *testing.T) {
	token, err := NewJWTManager("other-secret", time.Hour).Generate("user-1", "Alice")
	require.NoError(t, err)

	_, err = NewJWTManager("test-secret", time.Hour).Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTManager_RejectsExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", -time.Minute)

	token, err := manager.Generate("user-1", "Alice")
	require.NoError(t, err)

	_, err = manager.Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
