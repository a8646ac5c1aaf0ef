// Package transaction provides the transaction store backing the screening
// workflow and the dashboard API.
package transaction

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("transaction not found")

// Transaction is a single payment observed by the platform. Immutable once
// stored; screening never mutates it.
type Transaction struct {
	ID               string    `json:"transaction_id"`
	Timestamp        time.Time `json:"timestamp"`
	FromAccount      string    `json:"from_account"`
	ToAccount        string    `json:"to_account"`
	Amount           float64   `json:"amount"`
	MerchantCategory string    `json:"merchant_category"`
	DeviceID         string    `json:"device_id"`
	Location         string    `json:"location"`
	Hour             int       `json:"hour"`
	DayOfWeek        string    `json:"day_of_week"`
	Velocity         int       `json:"velocity"` // Transactions from the account in the last hour
	IsFraud          bool      `json:"is_fraud"`
	FraudReason      string    `json:"fraud_reason,omitempty"`
}

// Metrics is the dashboard aggregate view over all stored transactions.
type Metrics struct {
	TotalTransactions int     `json:"total_transactions"`
	FraudDetected     int     `json:"fraud_detected"`
	FraudRate         float64 `json:"fraud_rate"`
	MoneySaved        float64 `json:"money_saved"` // Sum of flagged-fraud amounts
	TransactionsToday int     `json:"transactions_today"`
	HighRiskCount     int     `json:"high_risk_count"`
}

// HourlyStat aggregates transactions for one hour of day.
type HourlyStat struct {
	Hour        int     `json:"hour"`
	Count       int     `json:"count"`
	FraudCount  int     `json:"fraud_count"`
	TotalAmount float64 `json:"total_amount"`
	FraudRate   float64 `json:"fraud_rate"`
}

// MerchantStat aggregates transactions for one merchant category.
type MerchantStat struct {
	Category    string  `json:"category"`
	Count       int     `json:"count"`
	FraudCount  int     `json:"fraud_count"`
	TotalAmount float64 `json:"total_amount"`
	AvgAmount   float64 `json:"avg_amount"`
	FraudRate   float64 `json:"fraud_rate"`
}

// ListOptions filters and paginates transaction listings.
type ListOptions struct {
	Page             int
	PageSize         int
	IsFraud          *bool
	MerchantCategory string
	MinAmount        *float64
	MaxAmount        *float64
}

// Store persists transactions
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	List(ctx context.Context, opts ListOptions) ([]*Transaction, error)

	// Aggregates for the dashboard
	Metrics(ctx context.Context) (*Metrics, error)
	MerchantCategories(ctx context.Context) ([]string, error)
	HourlyStats(ctx context.Context) ([]*HourlyStat, error)
	MerchantStats(ctx context.Context) ([]*MerchantStat, error)
}

// Merchant categories and locations that the risk heuristics treat as
// elevated. Shared with the dashboard's high-risk count.
var (
	highRiskMerchants = map[string]bool{
		"Gift Cards":    true,
		"Crypto":        true,
		"Wire Transfer": true,
	}
	highRiskLocations = map[string]bool{
		"Unknown": true,
		"Foreign": true,
		"VPN":     true,
	}
)

// IsHighRisk reports whether a transaction matches the coarse dashboard
// high-risk heuristic (large amount, risky merchant, or risky location).
func IsHighRisk(tx *Transaction) bool {
	return tx.Amount > 5000 ||
		highRiskMerchants[tx.MerchantCategory] ||
		highRiskLocations[tx.Location]
}
