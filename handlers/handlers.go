package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fadhlanhapp/splitbill-backend/middleware"
	"github.com/fadhlanhapp/splitbill-backend/services"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// Pinger reports whether the database is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HandlerServices contains all service dependencies
type HandlerServices struct {
	Groups      *services.GroupService
	Allocations *services.AllocationService
	Settlements *services.SettlementService
	Slack       *services.SlackService
	Receipts    *services.ReceiptService
	Excel       *services.ExcelService
	DB          Pinger
}

// Handlers serves the HTTP API on top of the services
type Handlers struct {
	svc *HandlerServices
}

// New creates the handlers
func New(svc *HandlerServices) *Handlers {
	return &Handlers{svc: svc}
}

// bindJSON binds the request body and answers 400 on failure
func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		utils.HandleError(c, utils.NewValidationError(utils.BindingErrorMessage(err)))
		return false
	}
	return true
}

// callerID returns the authenticated user. Routes behind RequireAuth always have one.
func callerID(c *gin.Context) string {
	return middleware.GetUserID(c)
}

// Health reports liveness and database reachability
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.svc.DB.PingContext(ctx); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok"})
}
