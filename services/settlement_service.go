package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/repository"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// SettlementService generates settlements and moves them between pending and paid
type SettlementService struct {
	groups      GroupStore
	settlements SettlementStore
	metrics     *Metrics
	now         func() time.Time
}

// NewSettlementService creates a new settlement service
func NewSettlementService(groups GroupStore, settlements SettlementStore, metrics *Metrics) *SettlementService {
	return &SettlementService{
		groups:      groups,
		settlements: settlements,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GenerateSettlements emits one pending settlement per member that owes the
// receiver something. Members are resolved to their user ids; the receiver
// and members with a zero total are skipped. Output follows allocation order.
func (s *SettlementService) GenerateSettlements(groupID, currency string, allocations []models.MemberAllocation, members []*models.GroupMember, receiverUserID string) []*models.Settlement {
	now := s.now()
	settlements := []*models.Settlement{}
	for _, allocation := range allocations {
		if allocation.Breakdown.Total <= 0 {
			continue
		}
		member, ok := models.FindMember(members, allocation.MemberID)
		if !ok || member.UserID == "" || member.UserID == receiverUserID {
			continue
		}
		settlements = append(settlements, &models.Settlement{
			ID:         utils.GenerateID(),
			GroupID:    groupID,
			PayerID:    member.UserID,
			ReceiverID: receiverUserID,
			Amount:     allocation.Breakdown.Total,
			Currency:   currency,
			Status:     models.SettlementStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return settlements
}

// UpdateStatus sets the status of a settlement. Only the payer or the receiver
// may change it, in either direction. Setting the current status again is a
// no-op that keeps paidAt unchanged.
func (s *SettlementService) UpdateStatus(ctx context.Context, settlementID, callerID string, status models.SettlementStatus) (*models.Settlement, error) {
	if !status.Valid() {
		return nil, utils.NewValidationError("status must be pending or paid")
	}

	settlement, err := s.settlements.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, storeError(err, utils.ErrSettlementNotFound)
	}
	if !settlement.Involves(callerID) {
		return nil, utils.NewPermissionDeniedError(utils.ErrNotSettlementParty)
	}
	if settlement.Status == status {
		return settlement, nil
	}

	now := s.now()
	var paidAt *time.Time
	if status == models.SettlementStatusPaid {
		paidAt = &now
	}

	err = s.settlements.UpdateStatus(ctx, settlementID, settlement.Status, status, paidAt, now)
	if errors.Is(err, repository.ErrStatusChanged) {
		// someone else moved it first; fine when they moved it where we wanted
		current, getErr := s.settlements.GetSettlement(ctx, settlementID)
		if getErr != nil {
			return nil, storeError(getErr, utils.ErrSettlementNotFound)
		}
		if current.Status == status {
			return current, nil
		}
		return nil, utils.NewInvalidStateError("Settlement changed while updating, please retry")
	}
	if err != nil {
		return nil, storeError(err, utils.ErrSettlementNotFound)
	}

	s.metrics.SettlementStatusUpdates.WithLabelValues(string(status)).Inc()
	logrus.WithFields(logrus.Fields{
		"settlement_id": settlementID,
		"group_id":      settlement.GroupID,
		"user_id":       callerID,
		"from":          settlement.Status,
		"to":            status,
	}).Info("Settlement status updated")

	settlement.Status = status
	settlement.PaidAt = paidAt
	settlement.UpdatedAt = now
	return settlement, nil
}

// ListByGroup returns the settlements of a group to one of its members
func (s *SettlementService) ListByGroup(ctx context.Context, groupID, callerID string) ([]*models.Settlement, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	if err := requireMember(ctx, s.groups, group, callerID); err != nil {
		return nil, err
	}

	settlements, err := s.settlements.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrSettlementNotFound)
	}
	return settlements, nil
}

// ListForUser returns the settlements a user pays or receives
func (s *SettlementService) ListForUser(ctx context.Context, userID string, role repository.SettlementRole) ([]*models.Settlement, error) {
	switch role {
	case repository.SettlementRoleAny, repository.SettlementRolePayer, repository.SettlementRoleReceiver:
	default:
		return nil, utils.NewValidationError("role must be payer or receiver")
	}

	settlements, err := s.settlements.ListByUser(ctx, userID, role)
	if err != nil {
		return nil, storeError(err, utils.ErrSettlementNotFound)
	}
	return settlements, nil
}

// requireMember allows the creator and the members of a group
func requireMember(ctx context.Context, groups GroupStore, group *models.Group, userID string) error {
	if group.IsAdmin(userID) {
		return nil
	}
	ok, err := groups.IsMember(ctx, group.ID, userID)
	if err != nil {
		return storeError(err, utils.ErrGroupNotFound)
	}
	if !ok {
		// hide groups from outsiders
		return utils.NewNotFoundError(utils.ErrGroupNotFound)
	}
	return nil
}
