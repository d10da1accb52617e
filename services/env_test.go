package services

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/fadhlanhapp/splitbill-backend/cache"
	"github.com/fadhlanhapp/splitbill-backend/config"
	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/repository"
)

const testWebhook = "https://hooks.slack.com/services/T000/B000/XXXX"

// roundTripFunc fakes the Slack endpoint
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// slackRecorder answers like Slack and keeps every posted body
type slackRecorder struct {
	mu     sync.Mutex
	bodies []string
	fail   bool
}

func (r *slackRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, string(body))
	if r.fail {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("no_service")), Header: http.Header{}}, nil
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok")), Header: http.Header{}}, nil
}

func (r *slackRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

type testEnv struct {
	ctx         context.Context
	groupRepo   *repository.GroupRepository
	billRepo    *repository.BillRepository
	settleRepo  *repository.SettlementRepository
	slackRepo   *repository.SlackConfigRepository
	cache       *cache.MemoryCache
	metrics     *Metrics
	slack       *slackRecorder
	notifier    *NotificationService
	settlements *SettlementService
	allocations *AllocationService
	groups      *GroupService
	slackSvc    *SlackService
	excel       *ExcelService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := repository.InitDB(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "services.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		ctx:        context.Background(),
		groupRepo:  repository.NewGroupRepository(db),
		billRepo:   repository.NewBillRepository(db),
		settleRepo: repository.NewSettlementRepository(db),
		slackRepo:  repository.NewSlackConfigRepository(db),
		cache:      cache.NewMemoryCache(64, time.Minute),
		metrics:    NewMetrics(prometheus.NewRegistry()),
		slack:      &slackRecorder{},
	}

	env.notifier = NewNotificationService("https://split.example", "ID", time.Second, cache.NewMemoryRateLimiter(1, time.Minute), env.metrics)
	env.notifier.client.Transport = env.slack
	env.settlements = NewSettlementService(env.groupRepo, env.settleRepo, env.metrics)
	env.allocations = NewAllocationService(AllocationDeps{
		Groups:      env.groupRepo,
		Bills:       env.billRepo,
		Settlements: env.settleRepo,
		Slack:       env.slackRepo,
		Calculator:  NewCalculationService(),
		Generator:   env.settlements,
		Notifier:    env.notifier,
		Locker:      cache.NewMemoryLocker(),
		Cache:       env.cache,
		Metrics:     env.metrics,
	})
	env.allocations.async = func(f func()) { f() }
	env.groups = NewGroupService(env.groupRepo, env.billRepo, env.settleRepo, env.cache, time.Minute, "IDR")
	env.slackSvc = NewSlackService(env.slackRepo, env.groupRepo, env.billRepo, env.notifier)
	env.excel = NewExcelService(env.groupRepo, env.billRepo, env.settleRepo)
	return env
}

// seed stores the Sate Khas Senayan dinner: Alice created it, Bob is a guest
// with a phone number and Cici is a registered member
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	now := time.Date(2024, 5, 1, 19, 30, 0, 0, time.UTC)

	bill := &models.Bill{
		ID:           "bill-1",
		MerchantName: "Sate Khas Senayan",
		Date:         "2024-05-01",
		Items: []models.BillItem{
			{ID: "item-sate", Name: "Sate Ayam", Quantity: 2, UnitPrice: 50000, TotalPrice: 100000},
			{ID: "item-teh", Name: "Es Teh", Quantity: 2, UnitPrice: 5000, TotalPrice: 10000},
		},
		Subtotal:       110000,
		Discounts:      []models.Discount{},
		Tax:            11000,
		AdditionalFees: []models.Fee{},
		TotalAmount:    121000,
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
		{ID: "member-cici", GroupID: group.ID, UserID: "user-cici", Name: "Cici", CreatedAt: now.Add(2 * time.Second)},
	}
	require.NoError(t, e.groupRepo.CreateBillWithGroup(e.ctx, bill, group, members, []*models.User{guest}))
}

// dinnerAllocation gives Alice one sate and Bob one sate and both teas
func dinnerAllocation() *models.SaveAllocationRequest {
	return &models.SaveAllocationRequest{
		BillID:            "bill-1",
		PaymentReceiverID: "member-alice",
		Allocations: []models.MemberAllocation{
			{MemberID: "member-alice", Items: []models.AllocatedItem{{ItemID: "item-sate", Quantity: 1}}},
			{MemberID: "member-bob", Items: []models.AllocatedItem{
				{ItemID: "item-sate", Quantity: 1},
				{ItemID: "item-teh", Quantity: 2},
			}},
		},
	}
}

func (e *testEnv) saveDinner(t *testing.T) *models.SaveAllocationResponse {
	t.Helper()
	resp, err := e.allocations.SaveAllocation(e.ctx, "group-1", "user-alice", dinnerAllocation())
	require.NoError(t, err)
	return resp
}

func (e *testEnv) enableSlack(t *testing.T, userID string) {
	t.Helper()
	enabled := true
	_, err := e.slackSvc.SaveConfig(e.ctx, userID, &models.SlackConfigRequest{WebhookURL: testWebhook, Enabled: &enabled})
	require.NoError(t, err)
}
