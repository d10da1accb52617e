package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fadhlanhapp/splitbill-backend/auth"
	"github.com/fadhlanhapp/splitbill-backend/handlers"
	"github.com/fadhlanhapp/splitbill-backend/middleware"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// SetupRoutes configures all API routes for the application
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, resolver auth.IdentityResolver, gatherer prometheus.Gatherer) {
	utils.RegisterValidators()

	// Operational endpoints
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Public endpoints, shared over WhatsApp and Slack
	public := router.Group("/", middleware.OptionalAuth(resolver))
	{
		public.GET("/public/bills/:groupId", h.PublicBill)
		public.GET("/groups/:id/allocations/:memberId", h.GetMemberAllocation)
	}

	api := router.Group("/", middleware.RequireAuth(resolver))
	{
		// Receipt processing endpoint
		api.POST("/receipts/extract", h.ExtractReceipt)

		// Bill and group endpoints
		api.POST("/bills", h.CreateBill)
		api.GET("/bills/:id", h.GetBill)
		api.GET("/groups/:id", h.GetGroup)
		api.POST("/groups/:id/members", h.AddMember)
		api.DELETE("/groups/:id/members/:memberId", h.RemoveMember)
		api.GET("/groups/:id/export", h.ExportGroup)

		// Allocation endpoints
		api.POST("/groups/:id/allocations/preview", h.PreviewAllocation)
		api.POST("/groups/:id/allocations", h.SaveAllocation)

		// Settlement endpoints
		api.GET("/groups/:id/settlements", h.ListGroupSettlements)
		api.GET("/settlements", h.ListMySettlements)
		api.PATCH("/settlements/:id/status", h.UpdateSettlementStatus)

		// Slack endpoints
		api.GET("/slack/config", h.GetSlackConfig)
		api.PUT("/slack/config", h.SaveSlackConfig)
		api.POST("/groups/:id/notify/slack", h.NotifySlack)
	}
}
