// Package assessor scores transactions for fraud risk.
//
// Scoring is deterministic: a weighted-factor heuristic, or an optional
// learned Scorer when one is wired in. The reasoning service only adds a
// qualitative narrative on top and can never change the score or fail the
// assessment.
package assessor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vigilhq/vigil/internal/logging"
	"github.com/vigilhq/vigil/internal/metrics"
	"github.com/vigilhq/vigil/internal/reasoning"
	"github.com/vigilhq/vigil/internal/transaction"
)

// AgentName identifies this agent in events and reasoning metrics.
const AgentName = "Risk Analyst"

// Level buckets a risk score.
type Level string

const (
	LevelLow      Level = "Low"
	LevelMedium   Level = "Medium"
	LevelHigh     Level = "High"
	LevelCritical Level = "Critical"
)

// Factor is one contribution to a heuristic risk score.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
	Reason       string  `json:"reason"`
}

// Breakdown explains how a score was produced.
type Breakdown struct {
	Method     string   `json:"method"` // "heuristic", "model", "heuristic (model fallback)"
	Factors    []Factor `json:"factors"`
	TotalScore float64  `json:"total_score"`
}

// RiskAssessment is the assessor's full output for one transaction.
type RiskAssessment struct {
	Agent     string    `json:"agent"`
	Score     float64   `json:"risk_score"` // [0, 1]
	Level     Level     `json:"risk_level"`
	Patterns  []string  `json:"patterns"`
	Breakdown Breakdown `json:"score_breakdown"`

	// Qualitative narrative from the reasoning service.
	RiskFactors          []string `json:"risk_factors"`
	MonitoringActions    []string `json:"monitoring_actions"`
	PreventionStrategies []string `json:"prevention_strategies"`
	NetworkAnalysis      string   `json:"network_analysis,omitempty"`
	RawResponse          string   `json:"raw_response,omitempty"`
	ParseError           string   `json:"parse_error,omitempty"`

	// Routing
	Escalate      bool   `json:"escalate"`
	RoutingReason string `json:"routing_reason"`
	Explanation   string `json:"explanation"`
}

const systemPrompt = `You are Risk Analyst, a risk assessment specialist.

Your responsibilities:
- Calculate risk scores for financial transactions
- Identify fraud rings and suspicious patterns
- Analyze transaction networks and relationships
- Provide quantitative risk metrics
- Suggest prevention strategies
- Monitor for emerging fraud patterns

Always provide clear, actionable insights based on the data provided.
Respond in valid JSON format when requested.`

// Assessor produces risk assessments. Safe for concurrent use.
type Assessor struct {
	scorer    Scorer // optional learned model
	client    reasoning.Client
	threshold float64
}

// New creates an assessor. scorer may be nil; escalation uses strict
// score > threshold comparison.
func New(client reasoning.Client, scorer Scorer, threshold float64) *Assessor {
	return &Assessor{
		scorer:    scorer,
		client:    client,
		threshold: threshold,
	}
}

// Assess scores a transaction. It never returns an error: reasoning and model
// failures degrade to heuristic scoring and default narrative fields.
func (a *Assessor) Assess(ctx context.Context, tx *transaction.Transaction) *RiskAssessment {
	score, breakdown := a.computeScore(ctx, tx)
	patterns := identifyPatterns(tx, score)

	assessment := &RiskAssessment{
		Agent:                AgentName,
		Score:                score,
		Level:                ScoreToLevel(score),
		Patterns:             patterns,
		Breakdown:            breakdown,
		RiskFactors:          []string{},
		MonitoringActions:    []string{},
		PreventionStrategies: []string{},
	}

	a.addNarrative(ctx, tx, assessment)

	assessment.Escalate = score > a.threshold
	if assessment.Escalate {
		assessment.RoutingReason = fmt.Sprintf(
			"Risk score %.2f exceeds threshold %.2f (%s) - escalating to deep investigation",
			score, a.threshold, assessment.Level)
	} else {
		assessment.RoutingReason = fmt.Sprintf(
			"Risk score %.2f within threshold %.2f (%s) - no investigation needed",
			score, a.threshold, assessment.Level)
	}
	assessment.Explanation = explain(score, breakdown, patterns)

	return assessment
}

// computeScore prefers the learned scorer and falls back to the heuristic.
func (a *Assessor) computeScore(ctx context.Context, tx *transaction.Transaction) (float64, Breakdown) {
	if a.scorer != nil {
		score, err := a.scorer.Score(ctx, tx)
		if err == nil {
			return clamp(score), Breakdown{
				Method: "model",
				Factors: []Factor{{
					Name:         "Learned model",
					Contribution: clamp(score),
					Reason:       "Model scored transaction patterns and relationships",
				}},
				TotalScore: clamp(score),
			}
		}
		logging.L(ctx).Warn("learned scorer failed, using heuristic",
			"transaction_id", tx.ID, "error", err)
		score, breakdown := heuristicScore(tx)
		breakdown.Method = "heuristic (model fallback)"
		return score, breakdown
	}

	score, breakdown := heuristicScore(tx)
	breakdown.Method = "heuristic"
	return score, breakdown
}

// narrative is the JSON shape requested from the reasoning service.
type narrative struct {
	RiskLevel            string   `json:"risk_level"`
	RiskFactors          []string `json:"risk_factors"`
	MonitoringActions    []string `json:"monitoring_actions"`
	PreventionStrategies []string `json:"prevention_strategies"`
	NetworkAnalysis      string   `json:"network_analysis"`
}

// addNarrative asks the reasoning service for qualitative analysis and fills
// in the assessment. Failures leave the defaults in place.
func (a *Assessor) addNarrative(ctx context.Context, tx *transaction.Transaction, assessment *RiskAssessment) {
	prompt := fmt.Sprintf(`Analyze the risk profile of this transaction:

Transaction: %s
Amount: $%.2f
Merchant Category: %s
Location: %s
Time: Hour %d
Device: %s

Risk Score: %.3f (0-1 scale)
Detected Patterns: %s

Provide:
1. Risk level (Low/Medium/High/Critical)
2. Key risk factors
3. Recommended monitoring actions
4. Prevention strategies

Format as JSON:
{
  "risk_level": "Low/Medium/High/Critical",
  "risk_factors": ["factor1", "factor2"],
  "monitoring_actions": ["action1", "action2"],
  "prevention_strategies": ["strategy1", "strategy2"],
  "network_analysis": "Brief analysis of transaction network patterns"
}`,
		tx.ID, tx.Amount, tx.MerchantCategory, tx.Location, tx.Hour, tx.DeviceID,
		assessment.Score, patternsOrNone(assessment.Patterns))

	raw, err := a.client.Invoke(ctx, systemPrompt, prompt)
	if err != nil {
		metrics.ReasoningRequestsTotal.WithLabelValues("risk_analyst", "call_error").Inc()
		logging.L(ctx).Warn("risk narrative unavailable",
			"transaction_id", tx.ID, "error", err)
		return
	}

	var n narrative
	if err := reasoning.DecodeJSON(raw, &n); err != nil {
		metrics.ReasoningRequestsTotal.WithLabelValues("risk_analyst", "parse_error").Inc()
		assessment.RawResponse = raw
		assessment.ParseError = err.Error()
		return
	}
	metrics.ReasoningRequestsTotal.WithLabelValues("risk_analyst", "ok").Inc()

	if n.RiskFactors != nil {
		assessment.RiskFactors = n.RiskFactors
	}
	if n.MonitoringActions != nil {
		assessment.MonitoringActions = n.MonitoringActions
	}
	if n.PreventionStrategies != nil {
		assessment.PreventionStrategies = n.PreventionStrategies
	}
	assessment.NetworkAnalysis = n.NetworkAnalysis
}

// ScoreToLevel buckets a score: >=0.8 Critical, >=0.6 High, >=0.4 Medium.
func ScoreToLevel(score float64) Level {
	switch {
	case score >= 0.8:
		return LevelCritical
	case score >= 0.6:
		return LevelHigh
	case score >= 0.4:
		return LevelMedium
	default:
		return LevelLow
	}
}

// explain builds the human-readable summary, ranking the top factors.
func explain(score float64, breakdown Breakdown, patterns []string) string {
	level := ScoreToLevel(score)

	if len(breakdown.Factors) == 0 && len(patterns) == 0 {
		return fmt.Sprintf("%s risk (%.0f%%). No significant risk factors detected.", level, score*100)
	}

	factors := make([]Factor, len(breakdown.Factors))
	copy(factors, breakdown.Factors)
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Contribution > factors[j].Contribution
	})
	if len(factors) > 3 {
		factors = factors[:3]
	}
	reasons := make([]string, 0, len(factors))
	for _, f := range factors {
		reasons = append(reasons, f.Reason)
	}

	switch level {
	case LevelLow:
		return fmt.Sprintf("%s risk (%.0f%%). Transaction appears normal with no major red flags.", level, score*100)
	case LevelMedium:
		if len(reasons) > 2 {
			reasons = reasons[:2]
		}
		return fmt.Sprintf("%s risk (%.0f%%). %s. Escalating for investigation.",
			level, score*100, strings.Join(reasons, "; "))
	default:
		return fmt.Sprintf("%s risk (%.0f%%). %s. Immediate review required.",
			level, score*100, strings.Join(reasons, "; "))
	}
}

func patternsOrNone(patterns []string) string {
	if len(patterns) == 0 {
		return "None"
	}
	return strings.Join(patterns, ", ")
}

func clamp(score float64) float64 {
	if score > 1.0 {
		return 1.0
	}
	if score < 0.0 {
		return 0.0
	}
	return score
}
