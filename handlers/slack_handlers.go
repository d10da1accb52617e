package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// GetSlackConfig returns the caller's Slack webhook settings
func (h *Handlers) GetSlackConfig(c *gin.Context) {
	cfg, err := h.svc.Slack.GetConfig(c.Request.Context(), callerID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, cfg)
}

// SaveSlackConfig stores the caller's Slack webhook settings
func (h *Handlers) SaveSlackConfig(c *gin.Context) {
	var request models.SlackConfigRequest
	if !bindJSON(c, &request) {
		return
	}

	cfg, err := h.svc.Slack.SaveConfig(c.Request.Context(), callerID(c), &request)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, cfg)
}

// NotifySlack resends the summary of an allocated group to Slack
func (h *Handlers) NotifySlack(c *gin.Context) {
	resp, err := h.svc.Slack.NotifyGroup(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.HandleSuccess(c, resp)
}
