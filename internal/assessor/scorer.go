package assessor

import (
	"context"
	"fmt"

	"github.com/vigilhq/vigil/internal/transaction"
)

// Scorer is a pluggable learned risk model. When wired in and healthy its
// score supersedes the heuristic sum; on error the assessor falls back.
type Scorer interface {
	Score(ctx context.Context, tx *transaction.Transaction) (float64, error)
}

const (
	weightMicroAmount  = 0.30
	weightLargeAmount  = 0.20
	weightUnusualHour  = 0.20
	weightLocation     = 0.25
	weightMerchant     = 0.15
	weightVelocity     = 0.10
	velocityLimit      = 5
	largeAmountCutoff  = 5000.0
	microAmountCutoff  = 1.0
	modelPatternCutoff = 0.7
)

var (
	riskyMerchants = map[string]bool{
		"Gift Cards":    true,
		"Crypto":        true,
		"Wire Transfer": true,
		"Electronics":   true,
		"Jewelry":       true,
	}
	riskyLocations = map[string]bool{
		"Unknown": true,
		"Foreign": true,
		"VPN":     true,
		"Proxy":   true,
	}
)

func unusualHour(hour int) bool {
	return (hour >= 0 && hour <= 4) || hour == 23
}

// heuristicScore computes the weighted-factor risk score with a breakdown of
// each contribution. Result is clamped to [0, 1].
func heuristicScore(tx *transaction.Transaction) (float64, Breakdown) {
	score := 0.0
	breakdown := Breakdown{Factors: []Factor{}}

	if tx.Amount < microAmountCutoff {
		score += weightMicroAmount
		breakdown.Factors = append(breakdown.Factors, Factor{
			Name:         "Micro-transaction",
			Contribution: weightMicroAmount,
			Reason:       fmt.Sprintf("Amount $%.2f suggests card testing pattern", tx.Amount),
		})
	} else if tx.Amount > largeAmountCutoff {
		score += weightLargeAmount
		breakdown.Factors = append(breakdown.Factors, Factor{
			Name:         "Large transaction",
			Contribution: weightLargeAmount,
			Reason:       fmt.Sprintf("High value $%.2f exceeds typical threshold", tx.Amount),
		})
	}

	if unusualHour(tx.Hour) {
		score += weightUnusualHour
		breakdown.Factors = append(breakdown.Factors, Factor{
			Name:         "Unusual hours",
			Contribution: weightUnusualHour,
			Reason:       fmt.Sprintf("Transaction at %d:00 - high-risk time window", tx.Hour),
		})
	}

	if riskyLocations[tx.Location] {
		score += weightLocation
		breakdown.Factors = append(breakdown.Factors, Factor{
			Name:         "Suspicious location",
			Contribution: weightLocation,
			Reason:       fmt.Sprintf("Location '%s' indicates potential fraud", tx.Location),
		})
	}

	if riskyMerchants[tx.MerchantCategory] {
		score += weightMerchant
		breakdown.Factors = append(breakdown.Factors, Factor{
			Name:         "High-risk merchant",
			Contribution: weightMerchant,
			Reason:       fmt.Sprintf("'%s' category commonly used for fraud", tx.MerchantCategory),
		})
	}

	if tx.Velocity > velocityLimit {
		score += weightVelocity
		breakdown.Factors = append(breakdown.Factors, Factor{
			Name:         "High velocity",
			Contribution: weightVelocity,
			Reason:       fmt.Sprintf("%d transactions/hour exceeds normal rate", tx.Velocity),
		})
	}

	score = clamp(score)
	breakdown.TotalScore = score
	return score, breakdown
}

// identifyPatterns enumerates named fraud patterns matching the transaction.
func identifyPatterns(tx *transaction.Transaction, score float64) []string {
	patterns := []string{}

	if score > modelPatternCutoff {
		patterns = append(patterns, "High model risk score")
	}

	if tx.Amount < microAmountCutoff {
		patterns = append(patterns, "Card testing (micro-transaction)")
	} else if tx.Amount > largeAmountCutoff {
		patterns = append(patterns, "Large value transaction")
	}

	if unusualHour(tx.Hour) {
		patterns = append(patterns, "Unusual transaction time")
	}

	if riskyMerchants[tx.MerchantCategory] {
		patterns = append(patterns, "High-risk merchant: "+tx.MerchantCategory)
	}

	if riskyLocations[tx.Location] {
		patterns = append(patterns, "Suspicious location: "+tx.Location)
	}

	if tx.Velocity > velocityLimit {
		patterns = append(patterns, fmt.Sprintf("High velocity: %d tx/hour", tx.Velocity))
	}

	return patterns
}
