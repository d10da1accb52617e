package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/fadhlanhapp/splitbill-backend/cache"
	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

const (
	defaultCreatorName    = "Me"
	publicBillLoadTimeout = 10 * time.Second
)

func publicBillKey(groupID string) string {
	return "public-bill:" + groupID
}

// invalidatePublicBill drops the cached share view of a group
func invalidatePublicBill(ctx context.Context, c cache.Cache, groupID string) {
	if err := c.Delete(ctx, publicBillKey(groupID)); err != nil {
		logrus.WithError(err).WithField("group_id", groupID).Warn("Failed to invalidate public bill cache")
	}
}

// GroupService handles bills, groups and their members
type GroupService struct {
	groups          GroupStore
	bills           BillStore
	settlements     SettlementStore
	cache           cache.Cache
	cacheTTL        time.Duration
	defaultCurrency string
	loads           singleflight.Group
	now             func() time.Time
}

// NewGroupService creates a new group service
func NewGroupService(groups GroupStore, bills BillStore, settlements SettlementStore, c cache.Cache, cacheTTL time.Duration, defaultCurrency string) *GroupService {
	return &GroupService{
		groups:          groups,
		bills:           bills,
		settlements:     settlements,
		cache:           c,
		cacheTTL:        cacheTTL,
		defaultCurrency: defaultCurrency,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// CreateBill stores a bill together with an outstanding group, the creator
// as its first member and any additional members
func (s *GroupService) CreateBill(ctx context.Context, callerID string, req *models.CreateBillRequest) (*models.CreateBillResponse, error) {
	if err := utils.ValidateRequired(req.GroupName, "groupName"); err != nil {
		return nil, err
	}
	if err := utils.ValidateNotEmpty(req.Items, "items"); err != nil {
		return nil, err
	}
	for i, item := range req.Items {
		if err := utils.ValidateBillItem(item); err != nil {
			return nil, utils.NewValidationError(fmt.Sprintf("Item %d: %s", i+1, err.Error()))
		}
	}
	for i, discount := range req.Discounts {
		if err := utils.ValidateDiscount(discount); err != nil {
			return nil, utils.NewValidationError(fmt.Sprintf("Discount %d: %s", i+1, err.Error()))
		}
	}

	now := s.now()
	bill := s.newBill(callerID, req, now)
	group := &models.Group{
		ID:        utils.GenerateID(),
		Name:      utils.NormalizeName(req.GroupName),
		BillID:    bill.ID,
		CreatedBy: callerID,
		Status:    models.GroupStatusOutstanding,
		CreatedAt: now,
		UpdatedAt: now,
	}

	creatorName := utils.NormalizeName(req.CreatorName)
	if creatorName == "" {
		creatorName = defaultCreatorName
	}
	members := []*models.GroupMember{{
		ID:        utils.GenerateID(),
		GroupID:   group.ID,
		UserID:    callerID,
		Name:      creatorName,
		CreatedAt: now,
	}}
	var guests []*models.User

	seen := map[string]bool{callerID: true}
	for i, m := range req.Members {
		if m.UserID != "" && seen[m.UserID] {
			continue
		}
		// keep join order stable for members created in the same request
		member, guest, err := s.newMember(group.ID, &m, now.Add(time.Duration(i+1)*time.Millisecond))
		if err != nil {
			return nil, err
		}
		seen[member.UserID] = true
		members = append(members, member)
		if guest != nil {
			guests = append(guests, guest)
		}
	}

	if err := s.groups.CreateBillWithGroup(ctx, bill, group, members, guests); err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}

	logrus.WithFields(logrus.Fields{
		"group_id": group.ID,
		"bill_id":  bill.ID,
		"user_id":  callerID,
		"members":  len(members),
	}).Info("Bill and group created")

	return &models.CreateBillResponse{
		Bill:    bill,
		Group:   group,
		Members: models.WithRoles(group, members),
	}, nil
}

func (s *GroupService) newBill(callerID string, req *models.CreateBillRequest, now time.Time) *models.Bill {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	bill := &models.Bill{
		ID:             utils.GenerateID(),
		MerchantName:   strings.TrimSpace(req.MerchantName),
		Date:           req.Date,
		Items:          make([]models.BillItem, len(req.Items)),
		Subtotal:       req.Subtotal,
		Discounts:      make([]models.Discount, len(req.Discounts)),
		ServiceCharge:  req.ServiceCharge,
		Tax:            req.Tax,
		AdditionalFees: make([]models.Fee, len(req.AdditionalFees)),
		TotalAmount:    req.TotalAmount,
		Currency:       currency,
		PaymentMethod:  req.PaymentMethod,
		CreatedBy:      callerID,
		CreatedAt:      now,
	}
	for i, item := range req.Items {
		item.ID = utils.GenerateID()
		item.Name = utils.NormalizeName(item.Name)
		if item.TotalPrice == 0 {
			item.TotalPrice = models.Money(item.Quantity) * item.UnitPrice
		}
		bill.Items[i] = item
	}
	for i, discount := range req.Discounts {
		discount.ID = utils.GenerateID()
		if discount.Type == "" {
			discount.Type = models.DiscountTypeFixed
		}
		bill.Discounts[i] = discount
	}
	for i, fee := range req.AdditionalFees {
		fee.ID = utils.GenerateID()
		bill.AdditionalFees[i] = fee
	}

	if bill.Subtotal == 0 {
		bill.Subtotal = bill.ItemsSubtotal()
	}
	if bill.TotalAmount == 0 {
		bill.TotalAmount = bill.ExpectedTotal()
	}
	return bill
}

// newMember builds a member; without a user id a guest user backs it
func (s *GroupService) newMember(groupID string, req *models.AddMemberRequest, now time.Time) (*models.GroupMember, *models.User, error) {
	name := utils.NormalizeName(req.Name)
	if err := utils.ValidateRequired(name, "member name"); err != nil {
		return nil, nil, err
	}

	member := &models.GroupMember{
		ID:        utils.GenerateID(),
		GroupID:   groupID,
		UserID:    req.UserID,
		Name:      name,
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: now,
	}
	if req.UserID != "" {
		return member, nil, nil
	}

	guest := &models.User{ID: utils.GenerateID(), Name: name, IsGuest: true, CreatedAt: now}
	member.UserID = guest.ID
	member.IsGuest = true
	return member, guest, nil
}

// GetBill returns a bill to its creator or to a member of a group splitting it
func (s *GroupService) GetBill(ctx context.Context, billID, callerID string) (*models.Bill, error) {
	visible, err := s.bills.IsVisibleTo(ctx, billID, callerID)
	if err != nil {
		return nil, storeError(err, utils.ErrBillNotFound)
	}
	if !visible {
		return nil, utils.NewNotFoundError(utils.ErrBillNotFound)
	}
	bill, err := s.bills.GetBill(ctx, billID)
	if err != nil {
		return nil, storeError(err, utils.ErrBillNotFound)
	}
	return bill, nil
}

// GetGroupDetail returns the full group view to one of its members
func (s *GroupService) GetGroupDetail(ctx context.Context, groupID, callerID string) (*models.GroupDetailResponse, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	if err := requireMember(ctx, s.groups, group, callerID); err != nil {
		return nil, err
	}

	members, err := s.groups.ListMembers(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	settlements, err := s.settlements.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrSettlementNotFound)
	}

	resp := &models.GroupDetailResponse{
		Group:       group,
		Members:     models.WithRoles(group, members),
		Settlements: settlements,
	}
	if group.BillID != "" {
		if resp.Bill, err = s.bills.GetBill(ctx, group.BillID); err != nil {
			return nil, storeError(err, utils.ErrBillNotFound)
		}
	}
	return resp, nil
}

// AddMember adds a participant while the group is outstanding. Only the
// creator may add members.
func (s *GroupService) AddMember(ctx context.Context, groupID, callerID string, req *models.AddMemberRequest) (*models.GroupMember, error) {
	group, err := s.mutableGroup(ctx, groupID, callerID)
	if err != nil {
		return nil, err
	}

	if req.UserID != "" {
		exists, err := s.groups.IsMember(ctx, groupID, req.UserID)
		if err != nil {
			return nil, storeError(err, utils.ErrGroupNotFound)
		}
		if exists {
			return nil, utils.NewValidationError(utils.ErrAlreadyMember)
		}
	}

	member, guest, err := s.newMember(groupID, req, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.groups.AddMember(ctx, member, guest); err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	invalidatePublicBill(ctx, s.cache, groupID)

	member.Role = group.RoleFor(member.UserID)
	logrus.WithFields(logrus.Fields{
		"group_id":  groupID,
		"member_id": member.ID,
		"guest":     member.IsGuest,
	}).Info("Member added")
	return member, nil
}

// RemoveMember removes a participant while the group is outstanding. The
// creator cannot be removed; removing a guest deletes its user record.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, memberID, callerID string) error {
	group, err := s.mutableGroup(ctx, groupID, callerID)
	if err != nil {
		return err
	}

	members, err := s.groups.ListMembers(ctx, groupID)
	if err != nil {
		return storeError(err, utils.ErrGroupNotFound)
	}
	member, ok := models.FindMember(members, memberID)
	if !ok {
		return utils.NewNotFoundError(utils.ErrMemberNotFound)
	}
	if group.IsAdmin(member.UserID) {
		return utils.NewValidationError("The group creator cannot be removed")
	}

	if _, err := s.groups.RemoveMember(ctx, groupID, memberID); err != nil {
		return storeError(err, utils.ErrMemberNotFound)
	}
	invalidatePublicBill(ctx, s.cache, groupID)

	logrus.WithFields(logrus.Fields{
		"group_id":  groupID,
		"member_id": memberID,
	}).Info("Member removed")
	return nil
}

// mutableGroup loads a group the caller may change
func (s *GroupService) mutableGroup(ctx context.Context, groupID, callerID string) (*models.Group, error) {
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
	return group, nil
}

// PublicBill returns the unauthenticated share view of a group. Views of
// allocated groups are read through the cache, since nothing changes them
// any more; outstanding groups are always loaded fresh so a load racing a
// mutation cannot put an old view back. Concurrent misses share one load.
func (s *GroupService) PublicBill(ctx context.Context, groupID string) (*models.PublicBillResponse, error) {
	key := publicBillKey(groupID)
	log := logrus.WithField("group_id", groupID)

	var cached models.PublicBillResponse
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		log.WithError(err).Warn("Public bill cache read failed")
	}
	if found {
		return &cached, nil
	}

	v, err, _ := s.loads.Do(groupID, func() (interface{}, error) {
		// the load is shared, so one caller going away must not fail the rest
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publicBillLoadTimeout)
		defer cancel()

		view, err := s.loadPublicBill(loadCtx, groupID)
		if err != nil {
			return nil, err
		}
		if view.Group.IsOutstanding() {
			return view, nil
		}
		if err := s.cache.Set(loadCtx, key, view, s.cacheTTL); err != nil {
			log.WithError(err).Warn("Public bill cache write failed")
		}
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PublicBillResponse), nil
}

func (s *GroupService) loadPublicBill(ctx context.Context, groupID string) (*models.PublicBillResponse, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	members, err := s.groups.ListMembers(ctx, groupID)
	if err != nil {
		return nil, storeError(err, utils.ErrGroupNotFound)
	}
	for _, member := range members {
		member.Phone = ""
	}

	view := &models.PublicBillResponse{
		Group:      group,
		Members:    models.WithRoles(group, members),
		Allocation: group.AllocationData,
	}
	if receiver, ok := models.FindMember(members, group.PaymentReceiverID); ok {
		view.PaymentReceiver = receiver
	}
	if group.BillID != "" {
		if view.Bill, err = s.bills.GetBill(ctx, group.BillID); err != nil {
			return nil, storeError(err, utils.ErrBillNotFound)
		}
	}
	return view, nil
}
