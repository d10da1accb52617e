package services

import (
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

func TestAllocationService_Preview(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	resp, err := env.allocations.Preview(env.ctx, "group-1", "user-cici", &models.PreviewAllocationRequest{
		ItemAllocation: models.ItemAllocation{
			"item-sate": {"member-alice": 1, "member-bob": 1},
			"item-teh":  {"member-bob": 2},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.Money(110000), resp.ItemsSubtotal)
	assert.Equal(t, models.Money(110000), resp.AllocatedSubtotal)
	assert.Equal(t, models.Money(121000), resp.Total)
	assert.Equal(t, "IDR", resp.Currency)
	require.Len(t, resp.Allocations, 3)
	assert.Equal(t, models.Money(55000), breakdownOf(t, resp.Allocations, "member-alice").Total)
	assert.Equal(t, models.Money(66000), breakdownOf(t, resp.Allocations, "member-bob").Total)
	assert.True(t, breakdownOf(t, resp.Allocations, "member-cici").IsZero())
}

func TestAllocationService_PreviewRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	tests := []struct {
		name       string
		caller     string
		allocation models.ItemAllocation
		kind       string
	}{
		{name: "outsider", caller: "user-mallory", allocation: models.ItemAllocation{}, kind: utils.KindNotFound},
		{name: "over quantity", caller: "user-alice", allocation: models.ItemAllocation{"item-teh": {"member-bob": 3}}, kind: utils.KindValidation},
		{name: "unknown member", caller: "user-alice", allocation: models.ItemAllocation{"item-teh": {"member-zed": 1}}, kind: utils.KindValidation},
		{name: "unknown item", caller: "user-alice", allocation: models.ItemAllocation{"item-kopi": {"member-bob": 1}}, kind: utils.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.allocations.Preview(env.ctx, "group-1", tt.caller, &models.PreviewAllocationRequest{ItemAllocation: tt.allocation})
			assert.True(t, utils.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestAllocationService_SaveAllocation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	resp := env.saveDinner(t)

	assert.True(t, resp.Saved)
	assert.Equal(t, 2, resp.AllocationsCount)
	assert.Equal(t, 1, resp.SettlementsCreated)
	require.Len(t, resp.WhatsAppBroadcasts, 1)
	broadcast := resp.WhatsAppBroadcasts[0]
	assert.Equal(t, "member-bob", broadcast.MemberID)
	assert.Equal(t, "6281234567890", broadcast.Phone)
	assert.Equal(t, models.Money(66000), broadcast.Amount)
	assert.Contains(t, broadcast.URL, "https://wa.me/6281234567890?text=")

	group, err := env.groupRepo.GetGroup(env.ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, models.GroupStatusAllocated, group.Status)
	assert.Equal(t, "member-alice", group.PaymentReceiverID)
	require.NotNil(t, group.AllocationData)
	assert.Equal(t, models.Money(121000), group.AllocationData.Total())

	settlements, err := env.settleRepo.ListByGroup(env.ctx, "group-1")
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.Equal(t, "guest-bob", settlements[0].PayerID)
	assert.Equal(t, "user-alice", settlements[0].ReceiverID)
	assert.Equal(t, models.Money(66000), settlements[0].Amount)
	assert.Equal(t, models.SettlementStatusPending, settlements[0].Status)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.AllocationsSaved))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.SettlementsCreated))
}

func TestAllocationService_SaveAllocationIsWriteOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.saveDinner(t)

	_, err := env.allocations.SaveAllocation(env.ctx, "group-1", "user-alice", dinnerAllocation())
	assert.True(t, utils.IsKind(err, utils.KindInvalidState))

	settlements, err := env.settleRepo.ListByGroup(env.ctx, "group-1")
	require.NoError(t, err)
	assert.Len(t, settlements, 1)
}

func TestAllocationService_SaveAllocationPermissions(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	_, err := env.allocations.SaveAllocation(env.ctx, "group-1", "user-cici", dinnerAllocation())
	assert.True(t, utils.IsKind(err, utils.KindPermissionDenied))

	_, err = env.allocations.SaveAllocation(env.ctx, "group-404", "user-alice", dinnerAllocation())
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}

func TestAllocationService_SaveAllocationValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	tests := []struct {
		name   string
		mutate func(*models.SaveAllocationRequest)
		kind   string
	}{
		{name: "foreign bill", mutate: func(r *models.SaveAllocationRequest) { r.BillID = "bill-2" }, kind: utils.KindValidation},
		{name: "receiver outside group", mutate: func(r *models.SaveAllocationRequest) { r.PaymentReceiverID = "member-zed" }, kind: utils.KindValidation},
		{name: "duplicate member", mutate: func(r *models.SaveAllocationRequest) {
			r.Allocations = append(r.Allocations, r.Allocations[0])
		}, kind: utils.KindValidation},
		{name: "over quantity", mutate: func(r *models.SaveAllocationRequest) {
			r.Allocations[0].Items[0].Quantity = 2
		}, kind: utils.KindValidation},
		{name: "mixed split configs", mutate: func(r *models.SaveAllocationRequest) {
			r.Allocations[1].SplitConfig = models.SplitConfig{Tax: models.SplitModeEqual}
		}, kind: utils.KindValidation},
		{name: "custom split", mutate: func(r *models.SaveAllocationRequest) {
			for i := range r.Allocations {
				r.Allocations[i].SplitConfig = models.SplitConfig{Tax: models.SplitModeCustom}
			}
		}, kind: utils.KindNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := dinnerAllocation()
			tt.mutate(req)
			_, err := env.allocations.SaveAllocation(env.ctx, "group-1", "user-alice", req)
			assert.True(t, utils.IsKind(err, tt.kind), "got %v", err)
		})
	}

	group, err := env.groupRepo.GetGroup(env.ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, models.GroupStatusOutstanding, group.Status)
}

func TestAllocationService_SaveAllocationRecomputesBreakdowns(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	req := dinnerAllocation()
	req.Allocations[1].Breakdown = models.Breakdown{Subtotal: 1, Total: 1}
	_, err := env.allocations.SaveAllocation(env.ctx, "group-1", "user-alice", req)
	require.NoError(t, err)

	group, err := env.groupRepo.GetGroup(env.ctx, "group-1")
	require.NoError(t, err)
	bob, ok := group.AllocationData.Member("member-bob")
	require.True(t, ok)
	assert.Equal(t, models.Money(60000), bob.Breakdown.Subtotal)
	assert.Equal(t, models.Money(6000), bob.Breakdown.Tax)
	assert.Equal(t, models.Money(66000), bob.Breakdown.Total)
	assert.Equal(t, "Bob", bob.MemberName)
}

func TestAllocationService_SaveAllocationSendsSlack(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.enableSlack(t, "user-alice")

	env.saveDinner(t)

	require.Equal(t, 1, env.slack.count())
	assert.Contains(t, env.slack.bodies[0], "Makan Malam")
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.SlackNotifications.WithLabelValues("sent")))
}

func TestAllocationService_SlackFailureDoesNotFailSave(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.enableSlack(t, "user-alice")
	env.notifier.client.Transport = roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	resp := env.saveDinner(t)

	assert.True(t, resp.Saved)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.SlackNotifications.WithLabelValues("failed")))
}

func TestAllocationService_SaveAllocationInvalidatesPublicView(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	before, err := env.groups.PublicBill(env.ctx, "group-1")
	require.NoError(t, err)
	assert.Nil(t, before.Allocation)

	env.saveDinner(t)

	after, err := env.groups.PublicBill(env.ctx, "group-1")
	require.NoError(t, err)
	require.NotNil(t, after.Allocation)
	assert.Equal(t, models.GroupStatusAllocated, after.Group.Status)
	require.NotNil(t, after.PaymentReceiver)
	assert.Equal(t, "Alice", after.PaymentReceiver.Name)
}

func TestAllocationService_GetMemberAllocation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	_, err := env.allocations.GetMemberAllocation(env.ctx, "group-1", "member-bob")
	assert.True(t, utils.IsKind(err, utils.KindNotFound))

	env.saveDinner(t)

	resp, err := env.allocations.GetMemberAllocation(env.ctx, "group-1", "member-bob")
	require.NoError(t, err)
	assert.Equal(t, "Makan Malam", resp.Group.Name)
	assert.Equal(t, models.Money(66000), resp.Member.Breakdown.Total)
	require.NotNil(t, resp.PaymentReceiver)
	assert.Equal(t, "member-alice", resp.PaymentReceiver.ID)
	assert.Equal(t, models.RoleAdmin, resp.PaymentReceiver.Role)
	require.NotNil(t, resp.Settlement)
	assert.Equal(t, "guest-bob", resp.Settlement.PayerID)

	alice, err := env.allocations.GetMemberAllocation(env.ctx, "group-1", "member-alice")
	require.NoError(t, err)
	assert.Nil(t, alice.Settlement)

	_, err = env.allocations.GetMemberAllocation(env.ctx, "group-1", "member-cici")
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}
