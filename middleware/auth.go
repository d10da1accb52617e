package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fadhlanhapp/splitbill-backend/auth"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "user_id"

// GetUserID returns the authenticated user id or an empty string
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// RequireAuth rejects requests without a valid bearer token
func RequireAuth(resolver auth.IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			utils.HandleError(c, utils.NewUnauthenticatedError(auth.ErrMissingToken.Error()))
			return
		}

		userID, err := resolver.Resolve(token)
		if err != nil {
			utils.HandleError(c, utils.NewUnauthenticatedError(auth.ErrInvalidToken.Error()))
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// OptionalAuth sets the user id when a valid token is present and never rejects
func OptionalAuth(resolver auth.IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if userID, err := resolver.Resolve(token); err == nil {
				c.Set(UserIDKey, userID)
			}
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
