package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadhlanhapp/splitbill-backend/auth"
	"github.com/fadhlanhapp/splitbill-backend/cache"
	"github.com/fadhlanhapp/splitbill-backend/config"
	"github.com/fadhlanhapp/splitbill-backend/handlers"
	"github.com/fadhlanhapp/splitbill-backend/middleware"
	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/repository"
	"github.com/fadhlanhapp/splitbill-backend/routes"
	"github.com/fadhlanhapp/splitbill-backend/services"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	jwt    *auth.JWTManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.InitDB(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "handlers.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	groupRepo := repository.NewGroupRepository(db)
	billRepo := repository.NewBillRepository(db)
	settlementRepo := repository.NewSettlementRepository(db)
	slackRepo := repository.NewSlackConfigRepository(db)
	registry := prometheus.NewRegistry()
	metrics := services.NewMetrics(registry)
	memoryCache := cache.NewMemoryCache(16, time.Minute)
	notifier := services.NewNotificationService("https://split.example", "ID", time.Second, cache.NewMemoryRateLimiter(5, time.Minute), metrics)
	settlementService := services.NewSettlementService(groupRepo, settlementRepo, metrics)
	receiptService, err := services.NewReceiptService(config.OCRConfig{}, "IDR")
	require.NoError(t, err)

	h := handlers.New(&handlers.HandlerServices{
		Groups: services.NewGroupService(groupRepo, billRepo, settlementRepo, memoryCache, time.Minute, "IDR"),
		Allocations: services.NewAllocationService(services.AllocationDeps{
			Groups:      groupRepo,
			Bills:       billRepo,
			Settlements: settlementRepo,
			Slack:       slackRepo,
			Calculator:  services.NewCalculationService(),
			Generator:   settlementService,
			Notifier:    notifier,
			Locker:      cache.NewMemoryLocker(),
			Cache:       memoryCache,
			Metrics:     metrics,
		}),
		Settlements: settlementService,
		Slack:       services.NewSlackService(slackRepo, groupRepo, billRepo, notifier),
		Receipts:    receiptService,
		Excel:       services.NewExcelService(groupRepo, billRepo, settlementRepo),
		DB:          db,
	})

	jwt := auth.NewJWTManager("test-secret", time.Hour)
	router := gin.New()
	router.Use(middleware.RequestMetrics(metrics.HTTPRequestDuration))
	routes.SetupRoutes(router, h, jwt, registry)
	return &testServer{t: t, router: router, jwt: jwt}
}

func (s *testServer) token(userID string) string {
	token, err := s.jwt.Generate(userID, userID)
	require.NoError(s.t, err)
	return token
}

func (s *testServer) do(method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(userID))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// createDinner creates a one-item bill split between Alice and Cici
func (s *testServer) createDinner() models.CreateBillResponse {
	w := s.do(http.MethodPost, "/bills", "user-alice", map[string]interface{}{
		"groupName":    "Makan Malam",
		"merchantName": "Bakmi GM",
		"creatorName":  "Alice",
		"items":        []map[string]interface{}{{"name": "Bakmi Goreng", "quantity": 2, "unitPrice": 50000}},
		"tax":          10000,
		"members":      []map[string]interface{}{{"name": "Cici", "userId": "user-cici"}},
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.CreateBillResponse](s.t, w)
}

func saveBody(created models.CreateBillResponse) map[string]interface{} {
	itemID := created.Bill.Items[0].ID
	return map[string]interface{}{
		"billId":            created.Bill.ID,
		"paymentReceiverId": created.Members[0].ID,
		"allocations": []map[string]interface{}{
			{"memberId": created.Members[0].ID, "items": []map[string]interface{}{{"itemId": itemID, "quantity": 1}}},
			{"memberId": created.Members[1].ID, "items": []map[string]interface{}{{"itemId": itemID, "quantity": 1}}},
		},
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/bills", "", map[string]string{"groupName": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", decode[models.ErrorResponse](t, w).Kind)

	req := httptest.NewRequest(http.MethodGet, "/settlements", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateBillValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/bills", "user-alice", map[string]interface{}{"groupName": "Lunch", "merchantName": "X"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decode[models.ErrorResponse](t, w).Kind)

	w = s.do(http.MethodPost, "/bills", "user-alice", map[string]interface{}{
		"groupName": "Lunch", "merchantName": "X",
		"items":     []map[string]interface{}{{"name": "Nasi", "quantity": 1, "unitPrice": 1000}},
		"discounts": []map[string]interface{}{{"name": "Promo", "amount": 10, "type": "bogus"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAllocationFlow(t *testing.T) {
	s := newTestServer(t)
	created := s.createDinner()
	groupID := created.Group.ID
	cici := created.Members[1]

	w := s.do(http.MethodGet, "/groups/"+groupID, "user-mallory", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/groups/"+groupID, "user-cici", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[models.GroupDetailResponse](t, w)
	assert.Equal(t, models.RoleAdmin, detail.Members[0].Role)

	w = s.do(http.MethodPost, "/groups/"+groupID+"/allocations/preview", "user-cici", map[string]interface{}{
		"itemAllocation": map[string]map[string]int{created.Bill.Items[0].ID: {cici.ID: 1}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	preview := decode[models.PreviewAllocationResponse](t, w)
	assert.Equal(t, models.Money(55000), preview.Total)

	w = s.do(http.MethodPost, "/groups/"+groupID+"/allocations", "user-cici", saveBody(created))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/groups/"+groupID+"/allocations", "user-alice", saveBody(created))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decode[models.SaveAllocationResponse](t, w)
	assert.True(t, saved.Saved)
	assert.Equal(t, 1, saved.SettlementsCreated)
	assert.Equal(t, 2, saved.AllocationsCount)

	w = s.do(http.MethodPost, "/groups/"+groupID+"/allocations", "user-alice", saveBody(created))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_state", decode[models.ErrorResponse](t, w).Kind)

	// the member page is public
	w = s.do(http.MethodGet, "/groups/"+groupID+"/allocations/"+cici.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	member := decode[models.MemberAllocationResponse](t, w)
	assert.Equal(t, models.Money(55000), member.Member.Breakdown.Total)
	require.NotNil(t, member.Settlement)
	settlementID := member.Settlement.ID

	w = s.do(http.MethodGet, "/groups/"+groupID+"/allocations/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPatch, "/settlements/"+settlementID+"/status", "user-mallory", map[string]string{"status": "paid"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPatch, "/settlements/"+settlementID+"/status", "user-cici", map[string]string{"status": "done"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPatch, "/settlements/"+settlementID+"/status", "user-cici", map[string]string{"status": "paid"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.UpdateSettlementStatusResponse{ID: settlementID, Status: models.SettlementStatusPaid},
		decode[models.UpdateSettlementStatusResponse](t, w))

	w = s.do(http.MethodGet, "/settlements?role=payer", "user-cici", nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[struct{ Settlements []models.Settlement }](t, w)
	require.Len(t, mine.Settlements, 1)
	assert.Equal(t, models.SettlementStatusPaid, mine.Settlements[0].Status)

	w = s.do(http.MethodGet, "/public/bills/"+groupID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[models.PublicBillResponse](t, w)
	assert.Equal(t, models.GroupStatusAllocated, view.Group.Status)
	require.NotNil(t, view.PaymentReceiver)
	assert.Equal(t, "Alice", view.PaymentReceiver.Name)

	w = s.do(http.MethodGet, "/groups/"+groupID+"/export", "user-cici", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Makan_Malam_Split_")
}

func TestMembersEndpoints(t *testing.T) {
	s := newTestServer(t)
	created := s.createDinner()
	groupID := created.Group.ID

	w := s.do(http.MethodPost, "/groups/"+groupID+"/members", "user-cici", map[string]string{"name": "Eka"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/groups/"+groupID+"/members", "user-alice", map[string]string{"phone": "0812"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/groups/"+groupID+"/members", "user-alice", map[string]string{"name": "Eka", "phone": "0812 1111 2222"})
	require.Equal(t, http.StatusCreated, w.Code)
	eka := decode[models.GroupMember](t, w)
	assert.True(t, eka.IsGuest)

	w = s.do(http.MethodDelete, "/groups/"+groupID+"/members/"+eka.ID, "user-alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodDelete, "/groups/"+groupID+"/members/"+created.Members[0].ID, "user-alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSlackEndpoints(t *testing.T) {
	s := newTestServer(t)
	created := s.createDinner()

	w := s.do(http.MethodGet, "/slack/config", "user-alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPut, "/slack/config", "user-alice", map[string]string{"webhookUrl": "https://example.com/hook"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/slack/config", "user-alice", map[string]interface{}{
		"webhookUrl": "https://hooks.slack.com/services/T000/B000/XXXX",
		"enabled":    false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.SlackConfig](t, w).Enabled)

	w = s.do(http.MethodPost, "/groups/"+created.Group.ID+"/notify/slack", "user-alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtractReceipt(t *testing.T) {
	s := newTestServer(t)

	upload := func(filename string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("receipt", filename)
		require.NoError(t, err)
		_, _ = part.Write([]byte("fake image"))
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/receipts/extract", &body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+s.token("user-alice"))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusBadRequest, upload("receipt.gif").Code)

	// extraction is not configured in tests
	w := upload("receipt.png")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "upstream_failure", decode[models.ErrorResponse](t, w).Kind)
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	s.do(http.MethodGet, "/settlements", "user-alice", nil)
	w = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "splitbill_http_request_duration_seconds")
}
