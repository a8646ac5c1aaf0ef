// Package investigator performs deep fraud investigation on transactions the
// assessor escalated. The investigation itself runs on the reasoning service;
// failures degrade to a conservative REVIEW finding, never an error.
package investigator

import (
	"context"
	"fmt"
	"strings"

	"github.com/vigilhq/vigil/internal/logging"
	"github.com/vigilhq/vigil/internal/metrics"
	"github.com/vigilhq/vigil/internal/reasoning"
	"github.com/vigilhq/vigil/internal/transaction"
)

// AgentName identifies this agent in events and reasoning metrics.
const AgentName = "Fraud Investigator"

// Likelihood is the investigator's fraud probability bucket.
type Likelihood string

const (
	LikelihoodLow     Likelihood = "Low"
	LikelihoodMedium  Likelihood = "Medium"
	LikelihoodHigh    Likelihood = "High"
	LikelihoodUnknown Likelihood = "Unknown"
)

// Recommendation is the investigator's suggested disposition.
type Recommendation string

const (
	RecommendApprove Recommendation = "APPROVE"
	RecommendDecline Recommendation = "DECLINE"
	RecommendReview  Recommendation = "REVIEW"
)

// Finding is the investigation result for one transaction.
type Finding struct {
	Agent            string         `json:"agent"`
	FraudLikelihood  Likelihood     `json:"fraud_likelihood"`
	Recommendation   Recommendation `json:"recommendation"`
	FraudIndicators  []string       `json:"fraud_indicators"`
	Explanation      string         `json:"explanation"`
	Confidence       float64        `json:"confidence"` // [0, 1]
	SuggestedActions []string       `json:"suggested_actions"`
}

const systemPrompt = `You are Fraud Investigator, a fraud detection specialist.

Your responsibilities:
- Analyze suspicious transactions for fraud indicators
- Generate detailed investigation reports
- Recommend actions (APPROVE, DECLINE, REVIEW)
- Explain reasoning in clear, non-technical language
- Consider customer impact and false positive risk
- Identify specific fraud patterns and indicators

Always provide clear, actionable insights based on the data provided.
Respond in valid JSON format when requested.`

// Investigator runs deep investigations. Safe for concurrent use.
type Investigator struct {
	client reasoning.Client
}

// New creates an investigator backed by the given reasoning client.
func New(client reasoning.Client) *Investigator {
	return &Investigator{client: client}
}

// Investigate builds a case narrative for the transaction and asks the
// reasoning service for a verdict. Call and parse failures return the
// conservative fallback finding; the error return is nil in both cases so
// the workflow can treat investigation as non-fatal.
func (inv *Investigator) Investigate(ctx context.Context, tx *transaction.Transaction, riskScore float64, patterns []string) *Finding {
	prompt := fmt.Sprintf(`Investigate this transaction for potential fraud:

Transaction Details:
- ID: %s
- Amount: $%.2f
- From: %s -> To: %s
- Merchant: %s
- Time: %s (Hour: %d)
- Device: %s
- Location: %s
- Transaction Velocity: %d transactions/hour

Risk Assessment:
- Risk Score: %.2f (0-1 scale, higher = more suspicious)
- Detected Patterns: %s

Your task:
1. Analyze all available information
2. Identify specific fraud indicators
3. Assess likelihood of fraud (Low/Medium/High)
4. Recommend action (APPROVE/DECLINE/REVIEW)
5. Provide clear explanation for your recommendation

Format your response as JSON:
{
  "fraud_likelihood": "Low/Medium/High",
  "recommendation": "APPROVE/DECLINE/REVIEW",
  "fraud_indicators": ["indicator1", "indicator2"],
  "explanation": "Clear explanation of your reasoning",
  "confidence": 0.0-1.0,
  "suggested_actions": ["action1", "action2"]
}`,
		tx.ID, tx.Amount, tx.FromAccount, tx.ToAccount, tx.MerchantCategory,
		tx.Timestamp.Format("2006-01-02 15:04:05"), tx.Hour, tx.DeviceID, tx.Location,
		tx.Velocity, riskScore, patternsOrNone(patterns))

	raw, err := inv.client.Invoke(ctx, systemPrompt, prompt)
	if err != nil {
		metrics.ReasoningRequestsTotal.WithLabelValues("fraud_investigator", "call_error").Inc()
		logging.L(ctx).Warn("investigation call failed, using fallback finding",
			"transaction_id", tx.ID, "error", err)
		return Fallback(err.Error())
	}

	var parsed struct {
		FraudLikelihood  string   `json:"fraud_likelihood"`
		Recommendation   string   `json:"recommendation"`
		FraudIndicators  []string `json:"fraud_indicators"`
		Explanation      string   `json:"explanation"`
		Confidence       *float64 `json:"confidence"`
		SuggestedActions []string `json:"suggested_actions"`
	}
	if err := reasoning.DecodeJSON(raw, &parsed); err != nil {
		metrics.ReasoningRequestsTotal.WithLabelValues("fraud_investigator", "parse_error").Inc()
		logging.L(ctx).Warn("investigation response unparsable, using fallback finding",
			"transaction_id", tx.ID, "error", err)
		return Fallback(raw)
	}
	metrics.ReasoningRequestsTotal.WithLabelValues("fraud_investigator", "ok").Inc()

	finding := &Finding{
		Agent:            AgentName,
		FraudLikelihood:  LikelihoodUnknown,
		Recommendation:   RecommendReview,
		FraudIndicators:  []string{},
		Explanation:      raw,
		Confidence:       0.5,
		SuggestedActions: []string{},
	}
	if parsed.FraudLikelihood != "" {
		finding.FraudLikelihood = Likelihood(parsed.FraudLikelihood)
	}
	if parsed.Recommendation != "" {
		finding.Recommendation = Recommendation(parsed.Recommendation)
	}
	if parsed.FraudIndicators != nil {
		finding.FraudIndicators = parsed.FraudIndicators
	}
	if parsed.Explanation != "" {
		finding.Explanation = parsed.Explanation
	}
	if parsed.Confidence != nil {
		finding.Confidence = *parsed.Confidence
	}
	if parsed.SuggestedActions != nil {
		finding.SuggestedActions = parsed.SuggestedActions
	}
	return finding
}

// Fallback is the conservative finding used when the investigation could not
// produce a verdict: unknown likelihood, REVIEW, and the raw text or error
// as the explanation.
func Fallback(explanation string) *Finding {
	return &Finding{
		Agent:            AgentName,
		FraudLikelihood:  LikelihoodUnknown,
		Recommendation:   RecommendReview,
		FraudIndicators:  []string{},
		Explanation:      explanation,
		Confidence:       0.5,
		SuggestedActions: []string{},
	}
}

func patternsOrNone(patterns []string) string {
	if len(patterns) == 0 {
		return "None"
	}
	return strings.Join(patterns, ", ")
}
