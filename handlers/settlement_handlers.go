package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/repository"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// UpdateSettlementStatus toggles a settlement between pending and paid
func (h *Handlers) UpdateSettlementStatus(c *gin.Context) {
	var request models.UpdateSettlementStatusRequest
	if !bindJSON(c, &request) {
		return
	}

	settlement, err := h.svc.Settlements.UpdateStatus(c.Request.Context(), c.Param("id"), callerID(c), request.Status)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, models.UpdateSettlementStatusResponse{ID: settlement.ID, Status: settlement.Status})
}

// ListGroupSettlements returns the settlements of a group to its members
func (h *Handlers) ListGroupSettlements(c *gin.Context) {
	settlements, err := h.svc.Settlements.ListByGroup(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, gin.H{"settlements": settlements})
}

// ListMySettlements returns the caller's settlements, optionally by ?role=payer|receiver
func (h *Handlers) ListMySettlements(c *gin.Context) {
	role := repository.SettlementRole(c.Query("role"))
	settlements, err := h.svc.Settlements.ListForUser(c.Request.Context(), callerID(c), role)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, gin.H{"settlements": settlements})
}
