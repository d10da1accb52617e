package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fadhlanhapp/splitbill-backend/models"
)

// SlackConfigRepository stores per-user Slack webhook settings
type SlackConfigRepository struct {
	db *DB
}

// NewSlackConfigRepository creates a new SlackConfigRepository
func NewSlackConfigRepository(db *DB) *SlackConfigRepository {
	return &SlackConfigRepository{db: db}
}

// GetSlackConfig returns ErrNotFound when the user never configured Slack
func (r *SlackConfigRepository) GetSlackConfig(ctx context.Context, userID string) (*models.SlackConfig, error) {
	var cfg models.SlackConfig
	var channel sql.NullString
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		"SELECT user_id, webhook_url, channel, enabled, updated_at FROM slack_configs WHERE user_id = $1"),
		userID,
	).Scan(&cfg.UserID, &cfg.WebhookURL, &channel, &cfg.Enabled, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("slack config %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slack config: %w", err)
	}
	cfg.Channel = channel.String
	return &cfg, nil
}

// UpsertSlackConfig creates or replaces the user's Slack settings
func (r *SlackConfigRepository) UpsertSlackConfig(ctx context.Context, cfg *models.SlackConfig) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO slack_configs (user_id, webhook_url, channel, enabled, updated_at)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (user_id) DO UPDATE SET
             webhook_url = excluded.webhook_url,
             channel = excluded.channel,
             enabled = excluded.enabled,
             updated_at = excluded.updated_at`),
		cfg.UserID, cfg.WebhookURL, nullString(cfg.Channel), cfg.Enabled, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save slack config: %w", err)
	}
	return nil
}
