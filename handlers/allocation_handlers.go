package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// PreviewAllocation runs the calculator without saving
func (h *Handlers) PreviewAllocation(c *gin.Context) {
	var request models.PreviewAllocationRequest
	if !bindJSON(c, &request) {
		return
	}

	resp, err := h.svc.Allocations.Preview(c.Request.Context(), c.Param("id"), callerID(c), &request)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, resp)
}

// SaveAllocation finalizes the allocation of a group
func (h *Handlers) SaveAllocation(c *gin.Context) {
	var request models.SaveAllocationRequest
	if !bindJSON(c, &request) {
		return
	}

	resp, err := h.svc.Allocations.SaveAllocation(c.Request.Context(), c.Param("id"), callerID(c), &request)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, resp)
}

// GetMemberAllocation returns one member's saved allocation. The member URL
// is shared over WhatsApp, so no identity is required.
func (h *Handlers) GetMemberAllocation(c *gin.Context) {
	resp, err := h.svc.Allocations.GetMemberAllocation(c.Request.Context(), c.Param("id"), c.Param("memberId"))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, resp)
}
