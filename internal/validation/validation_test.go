package validation

import (
	"testing"

	"github.com/vigilhq/vigil/internal/transaction"
)

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("transaction_id", "TXN_1"),
		NonNegativeAmount("amount", 12.50),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("transaction_id", ""),
		NonNegativeAmount("amount", -1),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestHourOfDay(t *testing.T) {
	tests := []struct {
		hour  int
		valid bool
	}{
		{0, true},
		{12, true},
		{23, true},
		{-1, false},
		{24, false},
	}

	for _, tc := range tests {
		err := HourOfDay("hour", tc.hour)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("HourOfDay(%d) valid=%v, want %v", tc.hour, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}

func TestValidateTransaction(t *testing.T) {
	tx := &transaction.Transaction{
		ID:               "  TXN_OK  ",
		Amount:           100,
		Hour:             12,
		MerchantCategory: "Grocery\x00",
	}
	if err := ValidateTransaction(tx); err != nil {
		t.Fatalf("expected valid transaction, got %v", err)
	}
	if tx.ID != "TXN_OK" {
		t.Errorf("ID not sanitized: %q", tx.ID)
	}
	if tx.MerchantCategory != "Grocery" {
		t.Errorf("merchant not sanitized: %q", tx.MerchantCategory)
	}

	bad := &transaction.Transaction{ID: "", Amount: -5, Hour: 30}
	err := ValidateTransaction(bad)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if errs, ok := err.(ValidationErrors); !ok || len(errs) != 3 {
		t.Errorf("expected 3 errors, got %v", err)
	}
}
