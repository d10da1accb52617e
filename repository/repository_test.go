package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadhlanhapp/splitbill-backend/config"
	"github.com/fadhlanhapp/splitbill-backend/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := InitDB(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedGroup(t *testing.T, db *DB) (*models.Bill, *models.Group, []*models.GroupMember) {
	t.Helper()
	now := time.Date(2024, 5, 1, 19, 30, 0, 0, time.UTC)

	bill := &models.Bill{
		ID:           "bill-1",
		MerchantName: "Sate Khas Senayan",
		Date:         "2024-05-01",
		Items: []models.BillItem{
			{ID: "item-1", Name: "Sate Ayam", Quantity: 2, UnitPrice: 50000, TotalPrice: 100000},
			{ID: "item-2", Name: "Es Teh", Quantity: 2, UnitPrice: 5000, TotalPrice: 10000, Category: "drinks"},
		},
		Subtotal:       110000,
		Discounts:      []models.Discount{{ID: "disc-1", Name: "Promo", Amount: 10, Type: models.DiscountTypePercentage}},
		Tax:            11000,
		AdditionalFees: []models.Fee{{ID: "fee-1", Name: "Parkir", Amount: 2000}},
		TotalAmount:    112000,
		Currency:       "IDR",
		CreatedBy:      "user-alice",
		CreatedAt:      now,
	}
	group := &models.Group{
		ID: "group-1", Name: "Makan Malam", BillID: bill.ID, CreatedBy: "user-alice",
		Status: models.GroupStatusOutstanding, CreatedAt: now, UpdatedAt: now,
	}
	guest := &models.User{ID: "guest-bob", Name: "Bob", IsGuest: true, CreatedAt: now}
	members := []*models.GroupMember{
		{ID: "member-alice", GroupID: group.ID, UserID: "user-alice", Name: "Alice", CreatedAt: now},
		{ID: "member-bob", GroupID: group.ID, UserID: guest.ID, Name: "Bob", Phone: "0812-3456-7890", IsGuest: true, CreatedAt: now.Add(time.Second)},
	}

	repo := NewGroupRepository(db)
	require.NoError(t, repo.CreateBillWithGroup(context.Background(), bill, group, members, []*models.User{guest}))
	return bill, group, members
}

func TestRebind(t *testing.T) {
	sqlite := &DB{Driver: "sqlite"}
	postgres := &DB{Driver: "postgres"}
	query := "UPDATE groups SET status = $1 WHERE id = $2 AND status = $3"

	assert.Equal(t, "UPDATE groups SET status = ? WHERE id = ? AND status = ?", sqlite.Rebind(query))
	assert.Equal(t, query, postgres.Rebind(query))
}

func TestBillRoundTrip(t *testing.T) {
	db := newTestDB(t)
	bill, _, _ := seedGroup(t, db)

	got, err := NewBillRepository(db).GetBill(context.Background(), bill.ID)
	require.NoError(t, err)

	assert.Equal(t, bill.MerchantName, got.MerchantName)
	assert.Equal(t, bill.Items, got.Items)
	assert.Equal(t, bill.Discounts, got.Discounts)
	assert.Equal(t, bill.AdditionalFees, got.AdditionalFees)
	assert.Equal(t, models.Money(112000), got.TotalAmount)
	assert.True(t, bill.CreatedAt.Equal(got.CreatedAt))

	_, err = NewBillRepository(db).GetBill(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	for userID, want := range map[string]bool{"user-alice": true, "guest-bob": true, "user-mallory": false} {
		visible, err := NewBillRepository(db).IsVisibleTo(context.Background(), bill.ID, userID)
		require.NoError(t, err)
		assert.Equal(t, want, visible, userID)
	}
}

func TestGroupMembers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, group, _ := seedGroup(t, db)
	repo := NewGroupRepository(db)

	members, err := repo.ListMembers(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Alice", members[0].Name)
	assert.Equal(t, "0812-3456-7890", members[1].Phone)
	assert.True(t, members[1].IsGuest)

	isMember, err := repo.IsMember(ctx, group.ID, "user-alice")
	require.NoError(t, err)
	assert.True(t, isMember)
	isMember, err = repo.IsMember(ctx, group.ID, "user-mallory")
	require.NoError(t, err)
	assert.False(t, isMember)

	now := time.Now().UTC()
	carol := &models.GroupMember{ID: "member-carol", GroupID: group.ID, UserID: "guest-carol", Name: "Carol", IsGuest: true, CreatedAt: now}
	require.NoError(t, repo.AddMember(ctx, carol, &models.User{ID: "guest-carol", Name: "Carol", IsGuest: true, CreatedAt: now}))

	removed, err := repo.RemoveMember(ctx, group.ID, "member-carol")
	require.NoError(t, err)
	assert.Equal(t, "guest-carol", removed.UserID)

	var guests int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM users WHERE id = ?", "guest-carol").Scan(&guests))
	assert.Zero(t, guests, "removing a guest member deletes its user")

	_, err = repo.RemoveMember(ctx, group.ID, "member-carol")
	assert.ErrorIs(t, err, ErrNotFound)

	again := &models.GroupMember{ID: "member-alice-2", GroupID: group.ID, UserID: "user-alice", Name: "Alice", CreatedAt: now}
	assert.ErrorIs(t, repo.AddMember(ctx, again, nil), ErrDuplicateMember)
	members, err = repo.ListMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestSaveAllocationIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, group, _ := seedGroup(t, db)
	groups := NewGroupRepository(db)
	settlements := NewSettlementRepository(db)

	now := time.Now().UTC()
	aggregate := &models.AllocationAggregate{
		GroupID: group.ID,
		BillID:  group.BillID,
		Allocations: []models.MemberAllocation{
			{MemberID: "member-alice", MemberName: "Alice", Breakdown: models.Breakdown{Subtotal: 55000, Total: 56000}},
			{MemberID: "member-bob", MemberName: "Bob", Breakdown: models.Breakdown{Subtotal: 55000, Total: 56000}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	batch := []*models.Settlement{{
		ID: "settlement-1", GroupID: group.ID, PayerID: "guest-bob", ReceiverID: "user-alice",
		Amount: 56000, Currency: "IDR", Status: models.SettlementStatusPending, CreatedAt: now, UpdatedAt: now,
	}}

	require.NoError(t, groups.SaveAllocation(ctx, group.ID, "member-alice", aggregate, batch))

	saved, err := groups.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupStatusAllocated, saved.Status)
	assert.Equal(t, "member-alice", saved.PaymentReceiverID)
	require.NotNil(t, saved.AllocationData)
	assert.Equal(t, models.Money(112000), saved.AllocationData.Total())

	batch[0].ID = "settlement-2"
	err = groups.SaveAllocation(ctx, group.ID, "member-bob", aggregate, batch)
	assert.ErrorIs(t, err, ErrGroupNotOutstanding)

	list, err := settlements.ListByGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1, "second save must not add settlements")

	err = groups.AddMember(ctx, &models.GroupMember{ID: "late", GroupID: group.ID, UserID: "u", Name: "Late", CreatedAt: now}, nil)
	assert.ErrorIs(t, err, ErrGroupNotOutstanding)
	_, err = groups.RemoveMember(ctx, group.ID, "member-bob")
	assert.ErrorIs(t, err, ErrGroupNotOutstanding)
}

func TestSettlementStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, group, _ := seedGroup(t, db)
	repo := NewSettlementRepository(db)

	now := time.Now().UTC()
	aggregate := &models.AllocationAggregate{GroupID: group.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, NewGroupRepository(db).SaveAllocation(ctx, group.ID, "member-alice", aggregate, []*models.Settlement{{
		ID: "settlement-1", GroupID: group.ID, PayerID: "guest-bob", ReceiverID: "user-alice",
		Amount: 56000, Currency: "IDR", Status: models.SettlementStatusPending, CreatedAt: now, UpdatedAt: now,
	}}))

	paidAt := now.Add(time.Minute)
	require.NoError(t, repo.UpdateStatus(ctx, "settlement-1", models.SettlementStatusPending, models.SettlementStatusPaid, &paidAt, paidAt))

	got, err := repo.GetSettlement(ctx, "settlement-1")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.True(t, paidAt.Equal(*got.PaidAt))

	err = repo.UpdateStatus(ctx, "settlement-1", models.SettlementStatusPending, models.SettlementStatusPaid, &paidAt, paidAt)
	assert.ErrorIs(t, err, ErrStatusChanged)

	payer, err := repo.ListByUser(ctx, "guest-bob", SettlementRolePayer)
	require.NoError(t, err)
	assert.Len(t, payer, 1)
	receiver, err := repo.ListByUser(ctx, "guest-bob", SettlementRoleReceiver)
	require.NoError(t, err)
	assert.Empty(t, receiver)
	both, err := repo.ListByUser(ctx, "user-alice", SettlementRoleAny)
	require.NoError(t, err)
	assert.Len(t, both, 1)
}

func TestSlackConfigUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewSlackConfigRepository(newTestDB(t))

	_, err := repo.GetSlackConfig(ctx, "user-alice")
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := &models.SlackConfig{UserID: "user-alice", WebhookURL: "https://hooks.slack.com/services/T0/B0/x", Enabled: true, UpdatedAt: time.Now().UTC()}
	require.NoError(t, repo.UpsertSlackConfig(ctx, cfg))

	cfg.Channel = "#makan"
	cfg.Enabled = false
	require.NoError(t, repo.UpsertSlackConfig(ctx, cfg))

	got, err := repo.GetSlackConfig(ctx, "user-alice")
	require.NoError(t, err)
	assert.Equal(t, "#makan", got.Channel)
	assert.False(t, got.Enabled)
}
