package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// CreateBill stores a bill together with its outstanding group
func (h *Handlers) CreateBill(c *gin.Context) {
	var request models.CreateBillRequest
	if !bindJSON(c, &request) {
		return
	}

	resp, err := h.svc.Groups.CreateBill(c.Request.Context(), callerID(c), &request)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleCreated(c, resp)
}

// GetBill returns a bill visible to the caller
func (h *Handlers) GetBill(c *gin.Context) {
	bill, err := h.svc.Groups.GetBill(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, bill)
}

// GetGroup returns the full group view to a member
func (h *Handlers) GetGroup(c *gin.Context) {
	detail, err := h.svc.Groups.GetGroupDetail(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, detail)
}

// AddMember adds a participant to an outstanding group
func (h *Handlers) AddMember(c *gin.Context) {
	var request models.AddMemberRequest
	if !bindJSON(c, &request) {
		return
	}

	member, err := h.svc.Groups.AddMember(c.Request.Context(), c.Param("id"), callerID(c), &request)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleCreated(c, member)
}

// RemoveMember removes a participant from an outstanding group
func (h *Handlers) RemoveMember(c *gin.Context) {
	groupID, memberID := c.Param("id"), c.Param("memberId")
	if err := h.svc.Groups.RemoveMember(c.Request.Context(), groupID, memberID, callerID(c)); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, gin.H{"groupId": groupID, "memberId": memberID, "removed": true})
}

// PublicBill is the unauthenticated share view of a group
func (h *Handlers) PublicBill(c *gin.Context) {
	view, err := h.svc.Groups.PublicBill(c.Request.Context(), c.Param("groupId"))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, view)
}
