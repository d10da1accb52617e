// services/receipt_service.go
package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fadhlanhapp/splitbill-backend/config"
	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

const anthropicVersion = "2023-06-01"

// Detailed prompt for consistent JSON extraction
const receiptPrompt = `Extract receipt data in this JSON format:
{
  "merchant_name": "store name",
  "date": "YYYY-MM-DD",
  "items": [
    {
      "name": "item name",
      "quantity": number,
      "unit_price": number,
      "total_price": number,
      "category": "food | drink | other"
    }
  ],
  "subtotal": number,
  "discounts": [{"name": "discount name", "amount": number, "type": "fixed | percentage"}],
  "service_charge": number,
  "tax": number,
  "additional_fees": [{"name": "fee name", "amount": number}],
  "total_amount": number,
  "payment_method": "cash | card | qris | ...",
  "currency": "ISO 4217 code"
}
Amounts are plain numbers in the receipt currency without currency symbols or thousand separators.
Return only valid JSON. No explanations or formatting.`

var amountSchema = map[string]any{"type": []string{"number", "string", "null"}}

var receiptSchema = map[string]any{
	"type":     "object",
	"required": []string{"items", "total_amount"},
	"properties": map[string]any{
		"merchant_name": map[string]any{"type": []string{"string", "null"}},
		"date":          map[string]any{"type": []string{"string", "null"}},
		"items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"name"},
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"quantity":    amountSchema,
					"unit_price":  amountSchema,
					"total_price": amountSchema,
					"category":    map[string]any{"type": []string{"string", "null"}},
				},
			},
		},
		"subtotal":       amountSchema,
		"service_charge": amountSchema,
		"tax":            amountSchema,
		"total_amount":   amountSchema,
		"discounts": map[string]any{
			"type": []string{"array", "null"},
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":   map[string]any{"type": []string{"string", "null"}},
					"amount": amountSchema,
					"type":   map[string]any{"enum": []any{"fixed", "percentage", nil}},
				},
			},
		},
		"additional_fees": map[string]any{
			"type": []string{"array", "null"},
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":   map[string]any{"type": []string{"string", "null"}},
					"amount": amountSchema,
				},
			},
		},
		"payment_method": map[string]any{"type": []string{"string", "null"}},
		"currency":       map[string]any{"type": []string{"string", "null"}},
	},
}

// looseAmount accepts a JSON number or a formatted string such as "55.000"
type looseAmount struct {
	value decimal.Decimal
	set   bool
}

func (a *looseAmount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		return nil
	}
	if !strings.HasPrefix(raw, `"`) {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return err
		}
		a.value, a.set = value, true
		return nil
	}
	value, err := utils.ParseAmount(strings.Trim(raw, `"`))
	if err != nil {
		return err
	}
	a.value, a.set = value, true
	return nil
}

type ocrReceipt struct {
	MerchantName string `json:"merchant_name"`
	Date         string `json:"date"`
	Items        []struct {
		Name       string      `json:"name"`
		Quantity   looseAmount `json:"quantity"`
		UnitPrice  looseAmount `json:"unit_price"`
		TotalPrice looseAmount `json:"total_price"`
		Category   string      `json:"category"`
	} `json:"items"`
	Subtotal      looseAmount `json:"subtotal"`
	ServiceCharge looseAmount `json:"service_charge"`
	Tax           looseAmount `json:"tax"`
	TotalAmount   looseAmount `json:"total_amount"`
	Discounts     []struct {
		Name   string      `json:"name"`
		Amount looseAmount `json:"amount"`
		Type   string      `json:"type"`
	} `json:"discounts"`
	AdditionalFees []struct {
		Name   string      `json:"name"`
		Amount looseAmount `json:"amount"`
	} `json:"additional_fees"`
	PaymentMethod string `json:"payment_method"`
	Currency      string `json:"currency"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// ReceiptService extracts bill data from receipt photos
type ReceiptService struct {
	cfg             config.OCRConfig
	defaultCurrency string
	client          *http.Client
	schema          *jsonschema.Schema
}

// NewReceiptService compiles the receipt schema and creates the service
func NewReceiptService(cfg config.OCRConfig, defaultCurrency string) (*ReceiptService, error) {
	b, err := json.Marshal(receiptSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal receipt schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("receipt.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add receipt schema: %w", err)
	}
	schema, err := compiler.Compile("receipt.json")
	if err != nil {
		return nil, fmt.Errorf("compile receipt schema: %w", err)
	}

	return &ReceiptService{
		cfg:             cfg,
		defaultCurrency: defaultCurrency,
		client:          &http.Client{Timeout: cfg.Timeout},
		schema:          schema,
	}, nil
}

// Extract sends the image to the OCR model and normalizes its answer.
// Upstream problems are returned as retryable upstream errors.
func (s *ReceiptService) Extract(ctx context.Context, image []byte, format string) (*models.ExtractedBill, error) {
	if s.cfg.APIKey == "" {
		return nil, utils.NewUpstreamError("Receipt extraction is not configured", nil)
	}

	image, format, err := s.downscale(image, format)
	if err != nil {
		return nil, utils.NewValidationError("Receipt image could not be read")
	}

	text, err := s.callModel(ctx, image, format)
	if err != nil {
		return nil, utils.NewUpstreamError("Failed to process receipt", err)
	}

	raw := []byte(stripCodeFence(text))
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, utils.NewUpstreamError("Receipt extraction returned invalid JSON", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, utils.NewUpstreamError("Receipt extraction returned an unexpected shape", err)
	}

	var receipt ocrReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, utils.NewUpstreamError("Receipt extraction returned unreadable amounts", err)
	}
	return s.normalize(&receipt), nil
}

// downscale shrinks images wider than the configured width and re-encodes them as JPEG
func (s *ReceiptService) downscale(data []byte, format string) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if s.cfg.MaxImageWidth <= 0 || img.Bounds().Dx() <= s.cfg.MaxImageWidth {
		return data, format, nil
	}

	resized := imaging.Resize(img, s.cfg.MaxImageWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG); err != nil {
		return nil, "", err
	}
	logrus.WithFields(logrus.Fields{
		"original_width": img.Bounds().Dx(),
		"width":          s.cfg.MaxImageWidth,
	}).Debug("Receipt image downscaled")
	return buf.Bytes(), "jpeg", nil
}

func (s *ReceiptService) callModel(ctx context.Context, image []byte, format string) (string, error) {
	mediaType := "image/" + format
	if format == "jpg" {
		mediaType = "image/jpeg"
	}

	requestBody := map[string]interface{}{
		"model":      s.cfg.Model,
		"max_tokens": 4000,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": receiptPrompt},
					{
						"type": "image",
						"source": map[string]interface{}{
							"type":       "base64",
							"media_type": mediaType,
							"data":       base64.StdEncoding.EncodeToString(image),
						},
					},
				},
			},
		},
	}
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal OCR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send OCR request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("OCR API returned non-200 status: %d - %s", resp.StatusCode, string(body))
	}

	var decoded claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode OCR response: %w", err)
	}
	for _, content := range decoded.Content {
		if content.Type == "text" && strings.TrimSpace(content.Text) != "" {
			return content.Text, nil
		}
	}
	return "", fmt.Errorf("no text content found in OCR response")
}

// stripCodeFence removes a markdown code fence around the JSON answer
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// normalize converts the model answer into minor units of its currency
func (s *ReceiptService) normalize(r *ocrReceipt) *models.ExtractedBill {
	currency := strings.ToUpper(strings.TrimSpace(r.Currency))
	if len(currency) != 3 {
		currency = s.defaultCurrency
	}
	money := func(a looseAmount) models.Money {
		if !a.set {
			return 0
		}
		return utils.ToMinorUnits(a.value, currency)
	}

	bill := &models.ExtractedBill{
		MerchantName:   strings.TrimSpace(r.MerchantName),
		Date:           r.Date,
		Items:          []models.BillItem{},
		Subtotal:       money(r.Subtotal),
		Discounts:      []models.Discount{},
		ServiceCharge:  money(r.ServiceCharge),
		Tax:            money(r.Tax),
		AdditionalFees: []models.Fee{},
		TotalAmount:    money(r.TotalAmount),
		PaymentMethod:  strings.TrimSpace(r.PaymentMethod),
		Currency:       currency,
	}

	for _, item := range r.Items {
		quantity := 1
		if item.Quantity.set && item.Quantity.value.IntPart() > 0 {
			quantity = int(item.Quantity.value.IntPart())
		}
		unitPrice, totalPrice := money(item.UnitPrice), money(item.TotalPrice)
		switch {
		case unitPrice == 0 && totalPrice > 0:
			unitPrice = totalPrice / models.Money(quantity)
		case totalPrice == 0:
			totalPrice = unitPrice * models.Money(quantity)
		}
		bill.Items = append(bill.Items, models.BillItem{
			ID:         utils.GenerateID(),
			Name:       utils.NormalizeName(item.Name),
			Quantity:   quantity,
			UnitPrice:  unitPrice,
			TotalPrice: totalPrice,
			Category:   item.Category,
		})
	}

	for _, discount := range r.Discounts {
		d := models.Discount{ID: utils.GenerateID(), Name: discount.Name, Type: models.DiscountTypeFixed}
		if discount.Type == string(models.DiscountTypePercentage) {
			d.Type = models.DiscountTypePercentage
			d.Amount = models.Money(discount.Amount.value.Round(0).IntPart())
		} else {
			d.Amount = money(discount.Amount)
			if d.Amount < 0 {
				d.Amount = -d.Amount
			}
		}
		bill.Discounts = append(bill.Discounts, d)
	}
	for _, fee := range r.AdditionalFees {
		bill.AdditionalFees = append(bill.AdditionalFees, models.Fee{ID: utils.GenerateID(), Name: fee.Name, Amount: money(fee.Amount)})
	}

	if bill.Subtotal == 0 {
		for _, item := range bill.Items {
			bill.Subtotal += item.TotalPrice
		}
	}
	return bill
}
