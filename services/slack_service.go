package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/repository"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// SlackService manages a user's Slack webhook and on-demand group summaries
type SlackService struct {
	configs  SlackConfigStore
	groups   GroupStore
	bills    BillStore
	notifier *NotificationService
	now      func() time.Time
}

// NewSlackService creates a new Slack service
func NewSlackService(configs SlackConfigStore, groups GroupStore, bills BillStore, notifier *NotificationService) *SlackService {
	return &SlackService{
		configs:  configs,
		groups:   groups,
		bills:    bills,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetConfig returns the caller's Slack settings
func (s *SlackService) GetConfig(ctx context.Context, userID string) (*models.SlackConfig, error) {
	cfg, err := s.configs.GetSlackConfig(ctx, userID)
	if err != nil {
		return nil, storeError(err, "Slack config")
	}
	return cfg, nil
}

// SaveConfig stores the caller's webhook. Only Slack incoming webhooks are accepted.
func (s *SlackService) SaveConfig(ctx context.Context, userID string, req *models.SlackConfigRequest) (*models.SlackConfig, error) {
	if err := utils.ValidateSlackWebhookURL(req.WebhookURL); err != nil {
		return nil, err
	}

	cfg := &models.SlackConfig{
		UserID:     userID,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		Channel:    strings.TrimSpace(req.Channel),
		Enabled:    true,
		UpdatedAt:  s.now(),
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}

	if err := s.configs.UpsertSlackConfig(ctx, cfg); err != nil {
		return nil, storeError(err, "Slack config")
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "enabled": cfg.Enabled}).Info("Slack config saved")
	return cfg, nil
}

// NotifyGroup resends the summary of an allocated group to the creator's
// Slack channel. A failed delivery is reported, not returned as an error.
func (s *SlackService) NotifyGroup(ctx context.Context, groupID, callerID string) (*models.SlackNotifyResponse, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	if !group.IsAdmin(callerID) {
		return nil, utils.NewPermissionDeniedError(utils.ErrOnlyCreator)
	}
	if group.IsOutstanding() {
		return nil, utils.NewInvalidStateError(utils.ErrNotAllocated)
	}

	cfg, err := s.configs.GetSlackConfig(ctx, callerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, utils.NewInvalidStateError("Slack is not configured")
	}
	if err != nil {
		return nil, storeError(err, "Slack config")
	}

	members, err := s.groups.ListMembers(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	var bill *models.Bill
	if group.BillID != "" {
		if bill, err = s.bills.GetBill(ctx, group.BillID); err != nil {
			return nil, storeError(err, utils.ErrBillNotFound)
		}
	}

	return &models.SlackNotifyResponse{
		GroupID:     groupID,
		SentToSlack: s.notifier.NotifyGroup(ctx, group, bill, members, cfg),
	}, nil
}
