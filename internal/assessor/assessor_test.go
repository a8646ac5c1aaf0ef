package assessor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vigilhq/vigil/internal/transaction"
)

type fakeClient struct {
	resp string
	err  error
}

func (f fakeClient) Invoke(ctx context.Context, system, prompt string) (string, error) {
	return f.resp, f.err
}

type fakeScorer struct {
	score float64
	err   error
}

func (f fakeScorer) Score(ctx context.Context, tx *transaction.Transaction) (float64, error) {
	return f.score, f.err
}

var offlineClient = fakeClient{err: errors.New("reasoning offline")}

func near(a, b float64) bool {
	diff := a - b
	return diff < 1e-9 && diff > -1e-9
}

func TestScoreToLevel(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0.0, LevelLow},
		{0.39, LevelLow},
		{0.4, LevelMedium},
		{0.59, LevelMedium},
		{0.6, LevelHigh},
		{0.79, LevelHigh},
		{0.8, LevelCritical},
		{1.0, LevelCritical},
	}
	for _, tt := range tests {
		if got := ScoreToLevel(tt.score); got != tt.want {
			t.Errorf("ScoreToLevel(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestHeuristicScore_Factors(t *testing.T) {
	tests := []struct {
		name string
		tx   transaction.Transaction
		want float64
	}{
		{"normal grocery run", transaction.Transaction{Amount: 45, Hour: 14, Location: "Home", MerchantCategory: "Groceries", Velocity: 1}, 0.0},
		{"micro amount", transaction.Transaction{Amount: 0.50, Hour: 14, Location: "Home", MerchantCategory: "Groceries"}, 0.30},
		{"large amount", transaction.Transaction{Amount: 7500, Hour: 14, Location: "Home", MerchantCategory: "Groceries"}, 0.20},
		{"unusual hour", transaction.Transaction{Amount: 45, Hour: 3, Location: "Home", MerchantCategory: "Groceries"}, 0.20},
		{"late evening hour", transaction.Transaction{Amount: 45, Hour: 23, Location: "Home", MerchantCategory: "Groceries"}, 0.20},
		{"risky location", transaction.Transaction{Amount: 45, Hour: 14, Location: "VPN", MerchantCategory: "Groceries"}, 0.25},
		{"risky merchant", transaction.Transaction{Amount: 45, Hour: 14, Location: "Home", MerchantCategory: "Crypto"}, 0.15},
		{"high velocity", transaction.Transaction{Amount: 45, Hour: 14, Location: "Home", MerchantCategory: "Groceries", Velocity: 6}, 0.10},
		{"velocity at limit does not fire", transaction.Transaction{Amount: 45, Hour: 14, Location: "Home", MerchantCategory: "Groceries", Velocity: 5}, 0.0},
		{"stacked factors", transaction.Transaction{Amount: 7500, Hour: 2, Location: "Foreign", MerchantCategory: "Jewelry", Velocity: 8}, 0.90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, breakdown := heuristicScore(&tt.tx)
			if diff := score - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("score = %v, want %v", score, tt.want)
			}
			if breakdown.TotalScore != score {
				t.Errorf("breakdown total %v != score %v", breakdown.TotalScore, score)
			}
			sum := 0.0
			for _, f := range breakdown.Factors {
				sum += f.Contribution
			}
			if score < 1.0 && (sum-score > 1e-9 || score-sum > 1e-9) {
				t.Errorf("factor contributions sum %v != score %v", sum, score)
			}
		})
	}
}

func TestHeuristicScore_NeverExceedsOne(t *testing.T) {
	// Every factor fires: 0.30 + 0.20 + 0.25 + 0.15 + 0.10
	tx := transaction.Transaction{
		Amount: 0.25, Hour: 0, Location: "Proxy", MerchantCategory: "Gift Cards", Velocity: 20,
	}
	score, _ := heuristicScore(&tx)
	if score > 1.0 {
		t.Errorf("score %v exceeds 1.0", score)
	}
	if score != 1.0 {
		t.Errorf("expected all factors to sum to exactly 1.0, got %v", score)
	}
}

func TestIdentifyPatterns(t *testing.T) {
	tx := transaction.Transaction{
		Amount: 0.50, Hour: 2, Location: "Unknown", MerchantCategory: "Gift Cards", Velocity: 9,
	}
	patterns := identifyPatterns(&tx, 0.95)

	want := []string{
		"High model risk score",
		"Card testing (micro-transaction)",
		"Unusual transaction time",
		"High-risk merchant: Gift Cards",
		"Suspicious location: Unknown",
		"High velocity: 9 tx/hour",
	}
	if len(patterns) != len(want) {
		t.Fatalf("expected %d patterns, got %d: %v", len(want), len(patterns), patterns)
	}
	for i, p := range want {
		if patterns[i] != p {
			t.Errorf("pattern[%d] = %q, want %q", i, patterns[i], p)
		}
	}

	// Below the model cutoff the model pattern is absent
	patterns = identifyPatterns(&transaction.Transaction{Amount: 45, Hour: 14, Location: "Home", MerchantCategory: "Gas"}, 0.3)
	if len(patterns) != 0 {
		t.Errorf("expected no patterns for clean transaction, got %v", patterns)
	}
}

func TestAssess_LowRiskSkipsEscalation(t *testing.T) {
	a := New(offlineClient, nil, 0.4)

	tx := &transaction.Transaction{
		ID: "TXN_LOW", Amount: 45, Hour: 14, Location: "Home",
		MerchantCategory: "Groceries", Velocity: 1,
	}
	assessment := a.Assess(context.Background(), tx)

	if assessment.Score != 0.0 {
		t.Errorf("expected score 0, got %v", assessment.Score)
	}
	if assessment.Level != LevelLow {
		t.Errorf("expected Low level, got %s", assessment.Level)
	}
	if assessment.Escalate {
		t.Error("low-risk transaction must not escalate")
	}
	if !strings.Contains(assessment.RoutingReason, "within threshold") {
		t.Errorf("unexpected routing reason: %s", assessment.RoutingReason)
	}
	if assessment.Breakdown.Method != "heuristic" {
		t.Errorf("expected heuristic method, got %s", assessment.Breakdown.Method)
	}
}

func TestAssess_ExactThresholdDoesNotEscalate(t *testing.T) {
	a := New(offlineClient, nil, 0.4)

	// Large amount (0.20) + unusual hour (0.20) = exactly 0.40
	tx := &transaction.Transaction{
		ID: "TXN_EDGE", Amount: 6000, Hour: 1, Location: "Home",
		MerchantCategory: "Groceries", Velocity: 1,
	}
	assessment := a.Assess(context.Background(), tx)

	if assessment.Score != 0.4 {
		t.Fatalf("expected score exactly 0.4, got %v", assessment.Score)
	}
	if assessment.Escalate {
		t.Error("score exactly at threshold must not escalate (strict comparison)")
	}
	if assessment.Level != LevelMedium {
		t.Errorf("expected Medium level at 0.4, got %s", assessment.Level)
	}
}

func TestAssess_HighRiskEscalates(t *testing.T) {
	a := New(offlineClient, nil, 0.4)

	tx := &transaction.Transaction{
		ID: "TXN_HIGH", Amount: 7500, Hour: 2, Location: "Foreign",
		MerchantCategory: "Jewelry", Velocity: 8,
	}
	assessment := a.Assess(context.Background(), tx)

	if !near(assessment.Score, 0.9) {
		t.Errorf("expected score 0.9, got %v", assessment.Score)
	}
	if !assessment.Escalate {
		t.Error("high-risk transaction must escalate")
	}
	if assessment.Level != LevelCritical {
		t.Errorf("expected Critical level, got %s", assessment.Level)
	}
	if !strings.Contains(assessment.Explanation, "Immediate review required") {
		t.Errorf("unexpected explanation: %s", assessment.Explanation)
	}
}

func TestAssess_ModelScorerSupersedesHeuristic(t *testing.T) {
	a := New(offlineClient, fakeScorer{score: 0.85}, 0.4)

	tx := &transaction.Transaction{
		ID: "TXN_MODEL", Amount: 45, Hour: 14, Location: "Home", MerchantCategory: "Groceries",
	}
	assessment := a.Assess(context.Background(), tx)

	if assessment.Score != 0.85 {
		t.Errorf("expected model score 0.85, got %v", assessment.Score)
	}
	if assessment.Breakdown.Method != "model" {
		t.Errorf("expected model method, got %s", assessment.Breakdown.Method)
	}
	if !assessment.Escalate {
		t.Error("model-scored high risk must escalate")
	}
}

func TestAssess_ModelFailureFallsBackToHeuristic(t *testing.T) {
	a := New(offlineClient, fakeScorer{err: errors.New("model unavailable")}, 0.4)

	tx := &transaction.Transaction{
		ID: "TXN_FALLBACK", Amount: 7500, Hour: 14, Location: "Home", MerchantCategory: "Groceries",
	}
	assessment := a.Assess(context.Background(), tx)

	if !near(assessment.Score, 0.2) {
		t.Errorf("expected heuristic score 0.2, got %v", assessment.Score)
	}
	if assessment.Breakdown.Method != "heuristic (model fallback)" {
		t.Errorf("expected fallback method, got %s", assessment.Breakdown.Method)
	}
}

func TestAssess_ModelScoreClamped(t *testing.T) {
	a := New(offlineClient, fakeScorer{score: 1.7}, 0.4)

	assessment := a.Assess(context.Background(), &transaction.Transaction{ID: "TXN_CLAMP", Amount: 45, Hour: 14})
	if assessment.Score != 1.0 {
		t.Errorf("expected clamped score 1.0, got %v", assessment.Score)
	}
}

func TestAssess_NarrativeFromReasoning(t *testing.T) {
	client := fakeClient{resp: "```json\n" + `{
		"risk_level": "High",
		"risk_factors": ["unusual location", "high value"],
		"monitoring_actions": ["flag account"],
		"prevention_strategies": ["step-up auth"],
		"network_analysis": "No ring structure detected"
	}` + "\n```"}
	a := New(client, nil, 0.4)

	assessment := a.Assess(context.Background(), &transaction.Transaction{
		ID: "TXN_NARR", Amount: 7500, Hour: 2, Location: "Foreign", MerchantCategory: "Jewelry",
	})

	if len(assessment.RiskFactors) != 2 || assessment.RiskFactors[0] != "unusual location" {
		t.Errorf("unexpected risk factors: %v", assessment.RiskFactors)
	}
	if assessment.NetworkAnalysis != "No ring structure detected" {
		t.Errorf("unexpected network analysis: %s", assessment.NetworkAnalysis)
	}
	if assessment.ParseError != "" || assessment.RawResponse != "" {
		t.Error("successful parse must not set degradation markers")
	}
}

func TestAssess_NarrativeParseFailureDegrades(t *testing.T) {
	client := fakeClient{resp: "I am unable to produce JSON today."}
	a := New(client, nil, 0.4)

	assessment := a.Assess(context.Background(), &transaction.Transaction{
		ID: "TXN_DEGRADE", Amount: 7500, Hour: 2, Location: "Foreign", MerchantCategory: "Jewelry",
	})

	if assessment.RawResponse != "I am unable to produce JSON today." {
		t.Errorf("expected raw response preserved, got %q", assessment.RawResponse)
	}
	if assessment.ParseError == "" {
		t.Error("expected parse error marker")
	}
	// Scoring is unaffected by narrative failure
	if !near(assessment.Score, 0.8) {
		t.Errorf("expected score 0.8, got %v", assessment.Score)
	}
	if assessment.RiskFactors == nil || assessment.MonitoringActions == nil {
		t.Error("expected safe default empty lists")
	}
}

func TestExplain_RanksTopThreeFactors(t *testing.T) {
	breakdown := Breakdown{Factors: []Factor{
		{Name: "a", Contribution: 0.10, Reason: "velocity reason"},
		{Name: "b", Contribution: 0.25, Reason: "location reason"},
		{Name: "c", Contribution: 0.20, Reason: "hour reason"},
		{Name: "d", Contribution: 0.15, Reason: "merchant reason"},
	}}
	got := explain(0.7, breakdown, nil)

	if !strings.Contains(got, "location reason; hour reason; merchant reason") {
		t.Errorf("expected top-3 reasons in contribution order, got %q", got)
	}
	if strings.Contains(got, "velocity reason") {
		t.Errorf("fourth factor should be omitted, got %q", got)
	}
}
