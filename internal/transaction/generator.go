package transaction

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	feedMerchants = []string{
		"Groceries", "Gas", "Restaurant", "Shopping",
		"Electronics", "Gift Cards", "Travel", "Utilities",
	}
	feedLocations = []string{"Home", "Work", "Local", "Unknown"}

	fraudShapes = []func(tx *Transaction, r *rand.Rand){
		func(tx *Transaction, r *rand.Rand) {
			// Card testing: micro charge from an unfamiliar location
			tx.Amount = float64(r.Intn(99)+1) / 100
			tx.Location = "Unknown"
			tx.FraudReason = "card_testing"
		},
		func(tx *Transaction, r *rand.Rand) {
			// Large purchase funneled into gift cards
			tx.Amount = 5000 + r.Float64()*5000
			tx.MerchantCategory = "Gift Cards"
			tx.FraudReason = "gift_card_drain"
		},
		func(tx *Transaction, r *rand.Rand) {
			// Rapid-fire spending burst
			tx.Velocity = 6 + r.Intn(10)
			tx.Location = "VPN"
			tx.FraudReason = "velocity_burst"
		},
	}
)

// Generator produces synthetic transactions for the demo feed.
type Generator struct {
	mu        sync.Mutex
	rand      *rand.Rand
	fraudRate float64
}

// NewGenerator creates a generator. fraudRate is the fraction of generated
// transactions shaped like known fraud patterns.
func NewGenerator(seed int64, fraudRate float64) *Generator {
	return &Generator{
		rand:      rand.New(rand.NewSource(seed)),
		fraudRate: fraudRate,
	}
}

// Next generates one transaction stamped with the current time.
func (g *Generator) Next() *Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	r := g.rand
	tx := &Transaction{
		ID:               fmt.Sprintf("TXN%08d", r.Intn(100000000)),
		Timestamp:        now,
		FromAccount:      fmt.Sprintf("ACC%04d", r.Intn(9000)+1000),
		ToAccount:        fmt.Sprintf("ACC%04d", r.Intn(9000)+1000),
		Amount:           float64(int(10+r.Float64()*4990)*100) / 100,
		MerchantCategory: feedMerchants[r.Intn(len(feedMerchants))],
		DeviceID:         fmt.Sprintf("DEV%04d", r.Intn(9000)+1000),
		Location:         feedLocations[r.Intn(len(feedLocations))],
		Hour:             now.Hour(),
		DayOfWeek:        now.Weekday().String(),
		Velocity:         r.Intn(4),
	}

	if r.Float64() < g.fraudRate {
		tx.IsFraud = true
		fraudShapes[r.Intn(len(fraudShapes))](tx, r)
	}

	return tx
}
