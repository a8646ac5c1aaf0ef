// Package compliance performs the regulatory review stage of a screening run.
//
// The reasoning service drafts the regulatory assessment, but the two
// statutory rules are applied deterministically afterward and always win:
// amounts over $10,000 require a CTR, and suspicious amounts over $5,000
// require a SAR. Reapplying the rules to an outcome never changes it.
package compliance

import (
	"context"
	"fmt"
	"strings"

	"github.com/vigilhq/vigil/internal/investigator"
	"github.com/vigilhq/vigil/internal/logging"
	"github.com/vigilhq/vigil/internal/metrics"
	"github.com/vigilhq/vigil/internal/reasoning"
	"github.com/vigilhq/vigil/internal/transaction"
)

// AgentName identifies this agent in events and reasoning metrics.
const AgentName = "Compliance Officer"

// Statutory thresholds (Bank Secrecy Act / FinCEN).
const (
	CTRThreshold = 10000.0
	SARThreshold = 5000.0
)

// Outcome is the compliance review result for one transaction.
type Outcome struct {
	Agent             string   `json:"agent"`
	SARRequired       bool     `json:"sar_required"`
	SARReason         string   `json:"sar_reason"`
	CTRRequired       bool     `json:"ctr_required"`
	AMLViolations     []string `json:"aml_violations"`
	KYCFlags          []string `json:"kyc_flags"`
	RegulatoryActions []string `json:"regulatory_actions"`
	ComplianceNotes   string   `json:"compliance_notes"`
	RiskRating        string   `json:"risk_rating"` // Low/Medium/High
	ReportingDeadline string   `json:"reporting_deadline,omitempty"`
	Summary           string   `json:"compliance_summary"`
}

// SARReport is a drafted Suspicious Activity Report.
type SARReport struct {
	Agent         string         `json:"agent"`
	ReportType    string         `json:"report_type"`
	TransactionID string         `json:"transaction_id"`
	Fields        map[string]any `json:"fields"`
	RawResponse   string         `json:"raw_response,omitempty"`
	ParseError    string         `json:"parse_error,omitempty"`
}

const systemPrompt = `You are Compliance Officer, a regulatory compliance specialist.

Your responsibilities:
- Ensure AML/KYC compliance
- Generate Suspicious Activity Reports (SAR)
- Check FINRA/FinCEN requirements
- Flag regulatory violations
- Provide compliance recommendations
- Maintain audit trail for regulatory purposes
- Apply Bank Secrecy Act (BSA) requirements

Always provide clear, actionable insights based on the data provided.
Respond in valid JSON format when requested.`

// Reviewer runs compliance reviews. Safe for concurrent use.
type Reviewer struct {
	client reasoning.Client
}

// New creates a compliance reviewer.
func New(client reasoning.Client) *Reviewer {
	return &Reviewer{client: client}
}

// Review checks a transaction against regulatory requirements. finding may be
// nil (investigation failed or was skipped); a default REVIEW/Unknown finding
// is assumed in that case. Never returns an error: total reasoning failure
// produces an outcome with no filings and an explanatory note, with the
// statutory rules still applied on top.
func (r *Reviewer) Review(ctx context.Context, tx *transaction.Transaction, finding *investigator.Finding) *Outcome {
	if finding == nil {
		finding = investigator.Fallback("investigation unavailable")
	}

	outcome := r.requestAssessment(ctx, tx, finding)
	ApplyStatutoryRules(outcome, tx, finding)
	outcome.Summary = summarize(outcome, tx, finding)
	return outcome
}

func (r *Reviewer) requestAssessment(ctx context.Context, tx *transaction.Transaction, finding *investigator.Finding) *Outcome {
	prompt := fmt.Sprintf(`Review this transaction for regulatory compliance:

Transaction Details:
- ID: %s
- Amount: $%.2f
- From: %s -> To: %s
- Merchant: %s
- Location: %s

Investigation Result:
- Recommendation: %s
- Fraud Likelihood: %s
- Confidence: %.2f

Regulatory Requirements to Check:
- Bank Secrecy Act (BSA): Transactions >$10,000 must be reported (CTR)
- FinCEN: Suspicious Activity Reports (SAR) for suspected fraud >$5,000
- FINRA: Customer protection rules
- AML: Anti-Money Laundering checks
- KYC: Know Your Customer verification
- OFAC: Sanctions screening

Your task:
1. Determine if SAR filing is required
2. Check for AML/KYC violations
3. Identify any regulatory requirements
4. Provide compliance recommendations
5. Note any audit trail requirements

Format as JSON:
{
  "sar_required": true/false,
  "sar_reason": "reason if required",
  "ctr_required": true/false,
  "aml_violations": ["violation1", "violation2"],
  "kyc_flags": ["flag1", "flag2"],
  "regulatory_actions": ["action1", "action2"],
  "compliance_notes": "additional notes",
  "risk_rating": "Low/Medium/High",
  "reporting_deadline": "timeframe for required reports"
}`,
		tx.ID, tx.Amount, tx.FromAccount, tx.ToAccount, tx.MerchantCategory, tx.Location,
		finding.Recommendation, finding.FraudLikelihood, finding.Confidence)

	outcome := &Outcome{
		Agent:             AgentName,
		AMLViolations:     []string{},
		KYCFlags:          []string{},
		RegulatoryActions: []string{},
		RiskRating:        "Low",
	}

	raw, err := r.client.Invoke(ctx, systemPrompt, prompt)
	if err != nil {
		metrics.ReasoningRequestsTotal.WithLabelValues("compliance_officer", "call_error").Inc()
		logging.L(ctx).Warn("compliance assessment unavailable",
			"transaction_id", tx.ID, "error", err)
		outcome.ComplianceNotes = "Automated compliance assessment unavailable: " + err.Error()
		return outcome
	}

	var parsed struct {
		SARRequired       *bool    `json:"sar_required"`
		SARReason         string   `json:"sar_reason"`
		CTRRequired       *bool    `json:"ctr_required"`
		AMLViolations     []string `json:"aml_violations"`
		KYCFlags          []string `json:"kyc_flags"`
		RegulatoryActions []string `json:"regulatory_actions"`
		ComplianceNotes   string   `json:"compliance_notes"`
		RiskRating        string   `json:"risk_rating"`
		ReportingDeadline string   `json:"reporting_deadline"`
	}
	if err := reasoning.DecodeJSON(raw, &parsed); err != nil {
		metrics.ReasoningRequestsTotal.WithLabelValues("compliance_officer", "parse_error").Inc()
		logging.L(ctx).Warn("compliance response unparsable",
			"transaction_id", tx.ID, "error", err)
		outcome.ComplianceNotes = "Automated compliance assessment unparsable; statutory rules applied only"
		return outcome
	}
	metrics.ReasoningRequestsTotal.WithLabelValues("compliance_officer", "ok").Inc()

	if parsed.SARRequired != nil {
		outcome.SARRequired = *parsed.SARRequired
	}
	outcome.SARReason = parsed.SARReason
	if parsed.CTRRequired != nil {
		outcome.CTRRequired = *parsed.CTRRequired
	}
	if parsed.AMLViolations != nil {
		outcome.AMLViolations = parsed.AMLViolations
	}
	if parsed.KYCFlags != nil {
		outcome.KYCFlags = parsed.KYCFlags
	}
	if parsed.RegulatoryActions != nil {
		outcome.RegulatoryActions = parsed.RegulatoryActions
	}
	outcome.ComplianceNotes = parsed.ComplianceNotes
	if parsed.RiskRating != "" {
		outcome.RiskRating = parsed.RiskRating
	}
	outcome.ReportingDeadline = parsed.ReportingDeadline
	return outcome
}

// ApplyStatutoryRules deterministically enforces the two BSA/FinCEN rules on
// an outcome. Idempotent: applying twice yields the same outcome.
func ApplyStatutoryRules(outcome *Outcome, tx *transaction.Transaction, finding *investigator.Finding) {
	if tx.Amount > CTRThreshold {
		outcome.CTRRequired = true
		action := "File Currency Transaction Report (CTR) - amount exceeds $10,000"
		if !containsString(outcome.RegulatoryActions, action) {
			outcome.RegulatoryActions = append(outcome.RegulatoryActions, action)
		}
	}

	likelihood := investigator.LikelihoodLow
	if finding != nil {
		likelihood = finding.FraudLikelihood
	}
	if tx.Amount > SARThreshold &&
		(likelihood == investigator.LikelihoodMedium || likelihood == investigator.LikelihoodHigh) {
		outcome.SARRequired = true
		if outcome.SARReason == "" {
			outcome.SARReason = fmt.Sprintf(
				"Suspicious transaction over $5,000 with %s fraud likelihood", likelihood)
		}
	}
}

// summarize builds the one-line human-readable compliance summary.
func summarize(outcome *Outcome, tx *transaction.Transaction, finding *investigator.Finding) string {
	var parts []string

	if outcome.CTRRequired {
		parts = append(parts, fmt.Sprintf("CTR required: $%.2f exceeds $10,000 threshold.", tx.Amount))
	}

	if outcome.SARRequired {
		likelihood := investigator.LikelihoodUnknown
		if finding != nil {
			likelihood = finding.FraudLikelihood
		}
		parts = append(parts, fmt.Sprintf(
			"SAR filing initiated: %s fraud likelihood on $%.2f transaction.", likelihood, tx.Amount))
	} else if tx.Amount > SARThreshold {
		parts = append(parts, fmt.Sprintf(
			"SAR not required: Transaction $%.2f reviewed, no suspicious indicators confirmed.", tx.Amount))
	}

	if n := len(outcome.AMLViolations); n > 0 {
		parts = append(parts, fmt.Sprintf("%d AML violation(s) flagged for review.", n))
	}
	if n := len(outcome.KYCFlags); n > 0 {
		parts = append(parts, fmt.Sprintf("%d KYC flag(s) require verification.", n))
	}

	if len(parts) == 0 {
		parts = append(parts, "All compliance checks passed. No regulatory filings required.")
	}

	return strings.Join(parts, " ")
}

// GenerateSAR drafts a Suspicious Activity Report for a transaction via the
// reasoning service. An unparsable draft is returned with the raw text and a
// parse-error marker; a failed call returns an error since there is nothing
// to file.
func (r *Reviewer) GenerateSAR(ctx context.Context, tx *transaction.Transaction, finding *investigator.Finding) (*SARReport, error) {
	if finding == nil {
		finding = investigator.Fallback("investigation unavailable")
	}

	prompt := fmt.Sprintf(`Generate a Suspicious Activity Report (SAR) for this transaction:

Transaction:
- ID: %s
- Amount: $%.2f
- From: %s -> To: %s
- Merchant: %s
- Location: %s
- Time: %s

Investigation Findings:
- Fraud Likelihood: %s
- Recommendation: %s
- Indicators: %s
- Explanation: %s

Generate a complete SAR with:
1. Subject information
2. Suspicious activity description
3. Amount involved
4. Date/time of activity
5. Account information
6. Narrative describing suspicious activity

Format as JSON with SAR fields.`,
		tx.ID, tx.Amount, tx.FromAccount, tx.ToAccount, tx.MerchantCategory, tx.Location,
		tx.Timestamp.Format("2006-01-02 15:04:05"),
		finding.FraudLikelihood, finding.Recommendation,
		strings.Join(finding.FraudIndicators, ", "), finding.Explanation)

	raw, err := r.client.Invoke(ctx, systemPrompt, prompt)
	if err != nil {
		metrics.ReasoningRequestsTotal.WithLabelValues("compliance_officer", "call_error").Inc()
		return nil, fmt.Errorf("generating SAR for %s: %w", tx.ID, err)
	}

	report := &SARReport{
		Agent:         AgentName,
		ReportType:    "SAR",
		TransactionID: tx.ID,
	}
	if err := reasoning.DecodeJSON(raw, &report.Fields); err != nil {
		metrics.ReasoningRequestsTotal.WithLabelValues("compliance_officer", "parse_error").Inc()
		report.RawResponse = raw
		report.ParseError = err.Error()
		return report, nil
	}
	metrics.ReasoningRequestsTotal.WithLabelValues("compliance_officer", "ok").Inc()
	metrics.SARReportsTotal.Inc()
	return report, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
