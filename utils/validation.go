package utils

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/fadhlanhapp/splitbill-backend/models"
)

var registerOnce sync.Once

// RegisterValidators adds the domain tags to gin's validator engine
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("splitmode", func(fl validator.FieldLevel) bool {
			switch models.SplitMode(fl.Field().String()) {
			case models.SplitModeEqual, models.SplitModeProportional, models.SplitModeCustom:
				return true
			}
			return false
		})
		_ = v.RegisterValidation("settlementstatus", func(fl validator.FieldLevel) bool {
			return models.SettlementStatus(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("discounttype", func(fl validator.FieldLevel) bool {
			switch models.DiscountType(fl.Field().String()) {
			case models.DiscountTypeFixed, models.DiscountTypePercentage:
				return true
			}
			return false
		})
	})
}

// BindingErrorMessage turns a gin binding error into a readable message
func BindingErrorMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return ErrInvalidRequest
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s failed on '%s'", fieldErr.Namespace(), fieldErr.Tag()))
	}
	return strings.Join(messages, "; ")
}

// ValidateRequired checks if a string field is not empty
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return NewValidationError(fmt.Sprintf("%s is required", fieldName))
	}
	return nil
}

// ValidateNonNegative checks if an amount is non-negative
func ValidateNonNegative(value models.Money, fieldName string) error {
	if value < 0 {
		return NewValidationError(fmt.Sprintf("%s cannot be negative", fieldName))
	}
	return nil
}

// ValidateNotEmpty checks if a slice is not empty
func ValidateNotEmpty[T any](slice []T, fieldName string) error {
	if len(slice) == 0 {
		return NewValidationError(fmt.Sprintf("%s cannot be empty", fieldName))
	}
	return nil
}

// ValidateBillItem validates basic item data
func ValidateBillItem(item models.BillItem) error {
	if err := ValidateRequired(item.Name, "item name"); err != nil {
		return err
	}
	if item.Quantity <= 0 {
		return NewValidationError("item quantity must be positive")
	}
	if err := ValidateNonNegative(item.UnitPrice, "item unit price"); err != nil {
		return err
	}
	return ValidateNonNegative(item.TotalPrice, "item total price")
}

// ValidateDiscount checks a bill discount. Percentages are whole percents of
// the items subtotal and cannot exceed it.
func ValidateDiscount(discount models.Discount) error {
	if err := ValidateNonNegative(discount.Amount, "discount amount"); err != nil {
		return err
	}
	if discount.Type == models.DiscountTypePercentage && discount.Amount > 100 {
		return NewValidationError("percentage discount cannot exceed 100")
	}
	return nil
}

// ValidateSlackWebhookURL only accepts Slack incoming webhooks
func ValidateSlackWebhookURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" || u.Host != "hooks.slack.com" || !strings.HasPrefix(u.Path, "/services/") {
		return NewValidationError(ErrSlackWebhookInvalid)
	}
	return nil
}
