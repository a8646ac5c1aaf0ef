// Package validation provides input validation for the Vigil API.
package validation

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vigilhq/vigil/internal/transaction"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// NonNegativeAmount checks a dollar amount.
func NonNegativeAmount(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value < 0 {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return nil
	}
}

// HourOfDay checks a 0-23 hour value.
func HourOfDay(field string, value int) func() *ValidationError {
	return func() *ValidationError {
		if value < 0 || value > 23 {
			return &ValidationError{Field: field, Message: "must be between 0 and 23"}
		}
		return nil
	}
}

// ValidateTransaction checks a transaction submitted for screening. Sanitizes
// free-text fields in place.
func ValidateTransaction(tx *transaction.Transaction) error {
	tx.ID = SanitizeString(tx.ID, 64)
	tx.FromAccount = SanitizeString(tx.FromAccount, 64)
	tx.ToAccount = SanitizeString(tx.ToAccount, 64)
	tx.MerchantCategory = SanitizeString(tx.MerchantCategory, 200)
	tx.DeviceID = SanitizeString(tx.DeviceID, 64)
	tx.Location = SanitizeString(tx.Location, 200)

	errs := Validate(
		Required("transaction_id", tx.ID),
		NonNegativeAmount("amount", tx.Amount),
		HourOfDay("hour", tx.Hour),
	)
	if len(errs) > 0 {
		return errs
	}
	return nil
}
