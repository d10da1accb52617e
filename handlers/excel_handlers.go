package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// ExportGroup exports an allocated group to Excel format
func (h *Handlers) ExportGroup(c *gin.Context) {
	excelFile, filename, err := h.svc.Excel.ExportGroup(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	defer excelFile.Close()

	// Set headers for file download
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.Header("Content-Transfer-Encoding", "binary")

	// headers are already sent, a failed write can only be logged
	if err := excelFile.Write(c.Writer); err != nil {
		logrus.WithError(err).WithField("group_id", c.Param("id")).Error("Failed to write Excel file")
		_ = c.Error(err)
	}
}
