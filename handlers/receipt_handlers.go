// handlers/receipt_handlers.go
package handlers

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fadhlanhapp/splitbill-backend/utils"
)

const maxReceiptBytes = 10 << 20

// ExtractReceipt processes a receipt image into bill data
func (h *Handlers) ExtractReceipt(c *gin.Context) {
	// 1. Receive the image file
	file, header, err := c.Request.FormFile(utils.ReceiptFormField)
	if err != nil {
		utils.HandleError(c, utils.NewValidationError(fmt.Sprintf("No file uploaded or invalid form: %v", err)))
		return
	}
	defer file.Close()

	log := logrus.WithFields(logrus.Fields{
		"user_id":      callerID(c),
		"filename":     header.Filename,
		"size":         header.Size,
		"content_type": header.Header.Get("Content-Type"),
	})
	log.Debug("Received receipt")

	// Check file type
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		utils.HandleError(c, utils.NewValidationError("Only JPG, JPEG, and PNG files are supported"))
		return
	}
	if header.Size > maxReceiptBytes {
		utils.HandleError(c, utils.NewValidationError("Receipt image is larger than 10 MB"))
		return
	}

	image, err := io.ReadAll(io.LimitReader(file, maxReceiptBytes+1))
	if err != nil {
		utils.HandleError(c, utils.NewValidationError("Failed to read uploaded file"))
		return
	}

	// 2. Process the image with the OCR model
	extracted, err := h.svc.Receipts.Extract(c.Request.Context(), image, strings.TrimPrefix(ext, "."))
	if err != nil {
		log.WithError(err).Warn("Receipt extraction failed")
		utils.HandleError(c, err)
		return
	}

	log.WithField("items", len(extracted.Items)).Info("Receipt extracted")
	utils.HandleSuccess(c, extracted)
}
