package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fadhlanhapp/splitbill-backend/cache"
	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/repository"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

const (
	allocationLockTTL   = 30 * time.Second
	slackDeliveryWindow = 30 * time.Second
)

// AllocationService previews, saves and reads group allocations
type AllocationService struct {
	groups      GroupStore
	bills       BillStore
	settlements SettlementStore
	slack       SlackConfigStore
	calculator  *CalculationService
	generator   *SettlementService
	notifier    *NotificationService
	locker      cache.Locker
	cache       cache.Cache
	metrics     *Metrics
	now         func() time.Time
	// async runs fire-and-forget work such as Slack delivery
	async func(func())
}

// AllocationDeps groups the collaborators of an AllocationService
type AllocationDeps struct {
	Groups      GroupStore
	Bills       BillStore
	Settlements SettlementStore
	Slack       SlackConfigStore
	Calculator  *CalculationService
	Generator   *SettlementService
	Notifier    *NotificationService
	Locker      cache.Locker
	Cache       cache.Cache
	Metrics     *Metrics
}

// NewAllocationService creates a new allocation service
func NewAllocationService(deps AllocationDeps) *AllocationService {
	return &AllocationService{
		groups:      deps.Groups,
		bills:       deps.Bills,
		settlements: deps.Settlements,
		slack:       deps.Slack,
		calculator:  deps.Calculator,
		generator:   deps.Generator,
		notifier:    deps.Notifier,
		locker:      deps.Locker,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
		async:       func(f func()) { go f() },
	}
}

// Preview runs the calculator for every member of the group without saving
func (s *AllocationService) Preview(ctx context.Context, groupID, callerID string, req *models.PreviewAllocationRequest) (*models.PreviewAllocationResponse, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	if err := requireMember(ctx, s.groups, group, callerID); err != nil {
		return nil, err
	}
	bill, err := s.groupBill(ctx, group)
	if err != nil {
		return nil, err
	}
	if bill == nil {
		return nil, utils.NewInvalidStateError("Group has no bill to allocate")
	}

	members, err := s.groups.ListMembers(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	if err := s.validateItemAllocation(bill, members, req.ItemAllocation); err != nil {
		return nil, err
	}

	allocations, err := s.calculator.CalculateAllocations(bill, members, req.ItemAllocation, req.SplitConfig)
	if err != nil {
		return nil, err
	}

	resp := &models.PreviewAllocationResponse{
		GroupID:       groupID,
		Allocations:   allocations,
		ItemsSubtotal: bill.ItemsSubtotal(),
		Currency:      bill.Currency,
	}
	for _, allocation := range allocations {
		resp.AllocatedSubtotal += allocation.Breakdown.Subtotal
		resp.Total += allocation.Breakdown.Total
	}
	return resp, nil
}

// validateItemAllocation checks members and per-item quantity sums
func (s *AllocationService) validateItemAllocation(bill *models.Bill, members []*models.GroupMember, allocation models.ItemAllocation) error {
	for _, quantities := range allocation {
		for memberID := range quantities {
			if _, ok := models.FindMember(members, memberID); !ok {
				return utils.NewValidationError(fmt.Sprintf("member %s is not part of this group", memberID))
			}
		}
	}
	if err := allocation.Validate(bill); err != nil {
		return utils.NewValidationError(err.Error())
	}
	return nil
}

// SaveAllocation finalizes the allocation of an outstanding group. Only the
// group creator may call it, and only once: the status flip, the aggregate
// and the settlements are written in one transaction. Breakdowns are
// recomputed from the submitted item quantities when the group has a bill.
func (s *AllocationService) SaveAllocation(ctx context.Context, groupID, callerID string, req *models.SaveAllocationRequest) (*models.SaveAllocationResponse, error) {
	log := logrus.WithFields(logrus.Fields{"group_id": groupID, "user_id": callerID})

	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	if !group.IsAdmin(callerID) {
		return nil, utils.NewPermissionDeniedError(utils.ErrOnlyCreator)
	}
	if !group.IsOutstanding() {
		return nil, utils.NewInvalidStateError(utils.ErrAlreadyAllocated)
	}
	if req.BillID != "" && group.BillID != "" && req.BillID != group.BillID {
		return nil, utils.NewValidationError("billId does not belong to this group")
	}

	members, err := s.groups.ListMembers(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	receiver, ok := models.FindMember(members, req.PaymentReceiverID)
	if !ok {
		return nil, utils.NewValidationError("paymentReceiverId is not a member of this group")
	}

	bill, err := s.groupBill(ctx, group)
	if err != nil {
		return nil, err
	}
	allocations, err := s.resolveAllocations(bill, members, req.Allocations)
	if err != nil {
		return nil, err
	}
	if len(allocations) == 0 {
		return nil, utils.NewValidationError("allocation does not assign any item")
	}

	release, err := s.locker.Obtain(ctx, "allocation:"+groupID, allocationLockTTL)
	switch {
	case errors.Is(err, cache.ErrNotObtained):
		return nil, utils.NewInvalidStateError(utils.ErrAllocationInFlight)
	case err != nil:
		// the conditional write below still guards the state change
		log.WithError(err).Warn("Allocation lock unavailable")
	default:
		defer func() {
			if err := release(context.Background()); err != nil {
				log.WithError(err).Warn("Failed to release allocation lock")
			}
		}()
	}

	now := s.now()
	aggregate := &models.AllocationAggregate{
		GroupID:     groupID,
		BillID:      group.BillID,
		Allocations: allocations,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	currency := utils.DefaultCurrency
	if bill != nil {
		currency = bill.Currency
	}
	settlements := s.generator.GenerateSettlements(groupID, currency, allocations, members, receiver.UserID)

	if err := s.groups.SaveAllocation(ctx, groupID, receiver.ID, aggregate, settlements); err != nil {
		if errors.Is(err, repository.ErrGroupNotOutstanding) {
			return nil, utils.NewInvalidStateError(utils.ErrAlreadyAllocated)
		}
		return nil, storeError(err, utils.ErrGroupNotFound)
	}

	s.metrics.AllocationsSaved.Inc()
	s.metrics.SettlementsCreated.Add(float64(len(settlements)))
	invalidatePublicBill(ctx, s.cache, groupID)
	log.WithFields(logrus.Fields{
		"allocations": len(allocations),
		"settlements": len(settlements),
		"receiver_id": receiver.ID,
	}).Info("Allocation saved")

	group.Status = models.GroupStatusAllocated
	group.PaymentReceiverID = receiver.ID
	group.AllocationData = aggregate
	group.UpdatedAt = now

	broadcasts := s.notifier.BuildBroadcasts(group, bill, members, aggregate)
	s.async(func() { s.deliverSlack(group, bill, members) })

	return &models.SaveAllocationResponse{
		GroupID:            groupID,
		Saved:              true,
		SettlementsCreated: len(settlements),
		AllocationsCount:   len(allocations),
		WhatsAppBroadcasts: broadcasts,
		BroadcastCount:     len(broadcasts),
	}, nil
}

// resolveAllocations validates the submitted member allocations and returns
// the ones to persist: members with a nonzero item subtotal
func (s *AllocationService) resolveAllocations(bill *models.Bill, members []*models.GroupMember, submitted []models.MemberAllocation) ([]models.MemberAllocation, error) {
	seen := make(map[string]bool, len(submitted))
	ordered := make([]*models.GroupMember, 0, len(submitted))
	for _, allocation := range submitted {
		member, ok := models.FindMember(members, allocation.MemberID)
		if !ok {
			return nil, utils.NewValidationError(fmt.Sprintf("member %s is not part of this group", allocation.MemberID))
		}
		if seen[member.ID] {
			return nil, utils.NewValidationError(fmt.Sprintf("member %s is allocated twice", member.ID))
		}
		seen[member.ID] = true
		ordered = append(ordered, member)
	}

	config := submitted[0].SplitConfig.WithDefaults()
	for _, allocation := range submitted[1:] {
		if allocation.SplitConfig.WithDefaults() != config {
			return nil, utils.NewValidationError("splitConfig must be the same for every member")
		}
	}

	if bill == nil {
		return s.acceptSubmitted(submitted, config)
	}

	itemAllocation := ItemAllocationFromMembers(submitted)
	if err := itemAllocation.Validate(bill); err != nil {
		return nil, utils.NewValidationError(err.Error())
	}
	computed, err := s.calculator.CalculateAllocations(bill, ordered, itemAllocation, config)
	if err != nil {
		return nil, err
	}
	return ActiveAllocations(computed), nil
}

// acceptSubmitted keeps client breakdowns for groups without a bill
func (s *AllocationService) acceptSubmitted(submitted []models.MemberAllocation, config models.SplitConfig) ([]models.MemberAllocation, error) {
	for _, mode := range []models.SplitMode{config.Tax, config.ServiceCharge, config.Discount, config.AdditionalFees} {
		if mode == models.SplitModeCustom {
			return nil, utils.NewNotImplementedError(utils.ErrCustomSplitMode)
		}
	}
	accepted := make([]models.MemberAllocation, 0, len(submitted))
	for _, allocation := range submitted {
		b := allocation.Breakdown
		for _, v := range []models.Money{b.Subtotal, b.Discount, b.Tax, b.ServiceCharge, b.AdditionalFees, b.Total} {
			if v < 0 {
				return nil, utils.NewValidationError("breakdown amounts cannot be negative")
			}
		}
		allocation.SplitConfig = config
		accepted = append(accepted, allocation)
	}
	return ActiveAllocations(accepted), nil
}

// deliverSlack sends the allocation summary to the creator's Slack channel
func (s *AllocationService) deliverSlack(group *models.Group, bill *models.Bill, members []*models.GroupMember) {
	ctx, cancel := context.WithTimeout(context.Background(), slackDeliveryWindow)
	defer cancel()

	cfg, err := s.slack.GetSlackConfig(ctx, group.CreatedBy)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		logrus.WithError(err).WithField("group_id", group.ID).Warn("Failed to load Slack config")
		return
	}
	s.notifier.NotifyGroup(ctx, group, bill, members, cfg)
}

// GetMemberAllocation returns one member's saved allocation with the
// receiver and the member's settlement
func (s *AllocationService) GetMemberAllocation(ctx context.Context, groupID, memberID string) (*models.MemberAllocationResponse, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	if group.AllocationData == nil {
		return nil, utils.NewNotFoundError(utils.ErrAllocationNotFound)
	}
	allocation, ok := group.AllocationData.Member(memberID)
	if !ok {
		return nil, utils.NewNotFoundError(utils.ErrMemberNotFound)
	}

	members, err := s.groups.ListMembers(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	members = models.WithRoles(group, members)

	resp := &models.MemberAllocationResponse{
		Group:  models.GroupSummary{ID: group.ID, Name: group.Name, Status: group.Status},
		Member: allocation,
	}
	if receiver, ok := models.FindMember(members, group.PaymentReceiverID); ok {
		resp.PaymentReceiver = receiver
	}

	if member, ok := models.FindMember(members, memberID); ok {
		settlements, err := s.settlements.ListByGroup(ctx, groupID)
		if err != nil {
			return nil, storeError(err, utils.ErrSettlementNotFound)
		}
		for _, settlement := range settlements {
			if settlement.PayerID == member.UserID {
				resp.Settlement = settlement
				break
			}
		}
	}
	return resp, nil
}

// groupBill loads the bill of a group, nil when the group has none
func (s *AllocationService) groupBill(ctx context.Context, group *models.Group) (*models.Bill, error) {
	if group.BillID == "" {
		return nil, nil
	}
	bill, err := s.bills.GetBill(ctx, group.BillID)
	if err != nil {
		return nil, storeError(err, utils.ErrBillNotFound)
	}
	return bill, nil
}
