package services

import (
	"context"
	"errors"
	"time"

	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/repository"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// BillStore reads bills
type BillStore interface {
	GetBill(ctx context.Context, billID string) (*models.Bill, error)
	IsVisibleTo(ctx context.Context, billID, userID string) (bool, error)
}

// GroupStore persists groups, their members and the allocation write
type GroupStore interface {
	CreateBillWithGroup(ctx context.Context, bill *models.Bill, group *models.Group, members []*models.GroupMember, guests []*models.User) error
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	ListMembers(ctx context.Context, groupID string) ([]*models.GroupMember, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	AddMember(ctx context.Context, member *models.GroupMember, guest *models.User) error
	RemoveMember(ctx context.Context, groupID, memberID string) (*models.GroupMember, error)
	SaveAllocation(ctx context.Context, groupID, receiverMemberID string, aggregate *models.AllocationAggregate, settlements []*models.Settlement) error
}

// SettlementStore persists settlements
type SettlementStore interface {
	GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error)
	ListByGroup(ctx context.Context, groupID string) ([]*models.Settlement, error)
	ListByUser(ctx context.Context, userID string, role repository.SettlementRole) ([]*models.Settlement, error)
	UpdateStatus(ctx context.Context, settlementID string, from, to models.SettlementStatus, paidAt *time.Time, now time.Time) error
}

// SlackConfigStore persists per-user Slack settings
type SlackConfigStore interface {
	GetSlackConfig(ctx context.Context, userID string) (*models.SlackConfig, error)
	UpsertSlackConfig(ctx context.Context, cfg *models.SlackConfig) error
}

// storeError maps repository sentinels onto the error taxonomy
func storeError(err error, resource string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return utils.NewNotFoundError(resource)
	case errors.Is(err, repository.ErrGroupNotOutstanding):
		return utils.NewInvalidStateError(utils.ErrAlreadyAllocated)
	case errors.Is(err, repository.ErrDuplicateMember):
		return utils.NewValidationError(utils.ErrAlreadyMember)
	default:
		return utils.NewInternalError("Database error", err)
	}
}
