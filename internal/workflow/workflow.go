// Package workflow orchestrates the screening pipeline for one transaction:
// risk assessment, conditional deep investigation and compliance review, then
// a final decision. The escalation edge is a pure function of the assessment
// (risk score strictly above the threshold).
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vigilhq/vigil/internal/assessor"
	"github.com/vigilhq/vigil/internal/compliance"
	"github.com/vigilhq/vigil/internal/investigator"
	"github.com/vigilhq/vigil/internal/logging"
	"github.com/vigilhq/vigil/internal/metrics"
	"github.com/vigilhq/vigil/internal/traces"
	"github.com/vigilhq/vigil/internal/transaction"
)

// State names the FSM stages of a run.
type State string

const (
	StateStart         State = "start"
	StateAssessing     State = "assessing"
	StateInvestigating State = "investigating"
	StateReviewing     State = "reviewing"
	StateFinalizing    State = "finalizing"
	StateDone          State = "done"
)

// Status is the lifecycle state of a run record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Stage labels for metrics and spans. The run's Steps trace carries
// human-readable summaries instead, built from each stage's result.
const (
	stepAssessRisk      = "assess_risk"
	stepInvestigation   = "deep_investigation"
	stepComplianceCheck = "compliance_check"
	stepFinalize        = "finalize"
)

// Run is the record of one screening. Fields are written by the single
// goroutine executing the run and are immutable once Status is terminal.
type Run struct {
	TransactionID  string                      `json:"transaction_id"`
	StartedAt      time.Time                   `json:"started_at"`
	CompletedAt    time.Time                   `json:"completed_at,omitempty"`
	Steps          []string                    `json:"steps"`
	Assessment     *assessor.RiskAssessment    `json:"risk_assessment,omitempty"`
	Finding        *investigator.Finding       `json:"investigation,omitempty"`
	Compliance     *compliance.Outcome         `json:"compliance,omitempty"`
	FinalDecision  investigator.Recommendation `json:"final_decision,omitempty"`
	DecisionReason string                      `json:"decision_reason,omitempty"`
	Status         Status                      `json:"status"`
	Error          string                      `json:"error,omitempty"`
}

// Engine runs screenings. Safe for concurrent use; each Run call owns its run
// state and observers are wired per call, not on the engine.
type Engine struct {
	assessor     *assessor.Assessor
	investigator *investigator.Investigator
	reviewer     *compliance.Reviewer
	log          *RunLog
}

// New creates a workflow engine.
func New(a *assessor.Assessor, inv *investigator.Investigator, rev *compliance.Reviewer, log *RunLog) *Engine {
	return &Engine{
		assessor:     a,
		investigator: inv,
		reviewer:     rev,
		log:          log,
	}
}

// Run screens one transaction synchronously. emit may be nil. The returned
// run always has a terminal status and a terminal event is always emitted,
// including on orchestration failure. The run is appended to the run log
// before the terminal event fires.
func (e *Engine) Run(ctx context.Context, tx *transaction.Transaction, emit Emitter) *Run {
	run := &Run{
		TransactionID: tx.ID,
		StartedAt:     time.Now(),
		Steps:         []string{},
		Status:        StatusPending,
	}

	send := func(eventType string, data any) {
		emitSafely(ctx, emit, Event{
			Type:          eventType,
			TransactionID: tx.ID,
			Timestamp:     time.Now(),
			Data:          data,
		})
	}

	send(EventInvestigationStart, tx)

	assessment, err := e.assess(ctx, tx, send)
	if err != nil {
		run.Status = StatusError
		run.Error = err.Error()
		run.CompletedAt = time.Now()
		metrics.ScreeningsTotal.WithLabelValues("ERROR").Inc()
		e.log.Append(run)
		send(EventInvestigationError, runError{Error: run.Error})
		return run
	}
	run.Assessment = assessment
	run.Steps = append(run.Steps, fmt.Sprintf("%s: %s risk (score: %.3f)",
		assessor.AgentName, assessment.Level, assessment.Score))

	if assessment.Escalate {
		metrics.EscalationsTotal.Inc()

		run.Finding = e.investigate(ctx, tx, assessment, send)
		run.Steps = append(run.Steps, fmt.Sprintf("%s: %s (%s likelihood)",
			investigator.AgentName, run.Finding.Recommendation, run.Finding.FraudLikelihood))

		run.Compliance = e.review(ctx, tx, run.Finding, send)
		run.Steps = append(run.Steps, complianceStep(run.Compliance))
	}

	e.finalize(ctx, tx, run)
	run.Steps = append(run.Steps, "Final Decision: "+string(run.FinalDecision))

	run.Status = StatusCompleted
	run.CompletedAt = time.Now()
	metrics.ScreeningsTotal.WithLabelValues(string(run.FinalDecision)).Inc()

	e.log.Append(run)
	send(EventInvestigationComplete, run)
	return run
}

// assess runs the risk assessment stage. A panic here means the pipeline
// cannot continue, so it surfaces as an orchestration error.
func (e *Engine) assess(ctx context.Context, tx *transaction.Transaction, send func(string, any)) (a *assessor.RiskAssessment, err error) {
	ctx, span := traces.StartSpan(ctx, "workflow.assess_risk",
		traces.TransactionID(tx.ID), traces.Stage(stepAssessRisk))
	defer span.End()
	defer observeStage(stepAssessRisk, time.Now())
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("risk assessment stage panicked",
				"transaction_id", tx.ID, "panic", r)
			err = fmt.Errorf("risk assessment failed: %v", r)
		}
	}()

	send(EventAgentThinking, agentThinking{
		Agent:   assessor.AgentName,
		Message: "Analyzing transaction patterns and calculating risk score...",
	})

	a = e.assessor.Assess(ctx, tx)
	span.SetAttributes(traces.RiskScore(a.Score))
	send(EventAgentResult, agentResult{Agent: assessor.AgentName, Result: a})
	return a, nil
}

// investigate runs the deep investigation stage. Failures, including panics,
// degrade to the conservative fallback finding.
func (e *Engine) investigate(ctx context.Context, tx *transaction.Transaction, a *assessor.RiskAssessment, send func(string, any)) (f *investigator.Finding) {
	ctx, span := traces.StartSpan(ctx, "workflow.deep_investigation",
		traces.TransactionID(tx.ID), traces.Stage(stepInvestigation))
	defer span.End()
	defer observeStage(stepInvestigation, time.Now())
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("investigation stage panicked, using fallback finding",
				"transaction_id", tx.ID, "panic", r)
			f = investigator.Fallback(fmt.Sprintf("investigation failed: %v", r))
			send(EventAgentResult, agentResult{Agent: investigator.AgentName, Result: f})
		}
	}()

	send(EventAgentThinking, agentThinking{
		Agent:   investigator.AgentName,
		Message: "Conducting deep fraud investigation...",
	})

	f = e.investigator.Investigate(ctx, tx, a.Score, a.Patterns)
	send(EventAgentResult, agentResult{Agent: investigator.AgentName, Result: f})
	return f
}

// review runs the compliance stage. Failures, including panics, degrade to an
// outcome with the statutory rules applied and nothing else.
func (e *Engine) review(ctx context.Context, tx *transaction.Transaction, f *investigator.Finding, send func(string, any)) (out *compliance.Outcome) {
	ctx, span := traces.StartSpan(ctx, "workflow.compliance_check",
		traces.TransactionID(tx.ID), traces.Stage(stepComplianceCheck))
	defer span.End()
	defer observeStage(stepComplianceCheck, time.Now())
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("compliance stage panicked, applying statutory rules only",
				"transaction_id", tx.ID, "panic", r)
			out = statutoryOnlyOutcome(tx, f, r)
			send(EventAgentResult, agentResult{Agent: compliance.AgentName, Result: out})
		}
	}()

	send(EventAgentThinking, agentThinking{
		Agent:   compliance.AgentName,
		Message: "Performing regulatory compliance review...",
	})

	out = e.reviewer.Review(ctx, tx, f)
	send(EventAgentResult, agentResult{Agent: compliance.AgentName, Result: out})
	return out
}

// finalize derives the final decision and rationale from whatever the earlier
// stages produced.
func (e *Engine) finalize(ctx context.Context, tx *transaction.Transaction, run *Run) {
	_, span := traces.StartSpan(ctx, "workflow.finalize",
		traces.TransactionID(tx.ID), traces.Stage(stepFinalize))
	defer span.End()
	defer observeStage(stepFinalize, time.Now())

	switch {
	case run.Finding != nil:
		run.FinalDecision = run.Finding.Recommendation
		run.DecisionReason = decisionReason(run.Finding)
	case run.Assessment != nil && !run.Assessment.Escalate:
		run.FinalDecision = investigator.RecommendApprove
		run.DecisionReason = fmt.Sprintf(
			"Risk score %.2f below escalation threshold - transaction approved",
			run.Assessment.Score)
	default:
		run.FinalDecision = investigator.RecommendReview
		run.DecisionReason = "Analysis incomplete - manual review required"
	}

	span.SetAttributes(traces.Decision(string(run.FinalDecision)))
}

// decisionReason explains the investigator's recommendation. Declines name at
// most two indicators to keep the rationale short.
func decisionReason(f *investigator.Finding) string {
	switch f.Recommendation {
	case investigator.RecommendDecline:
		indicators := f.FraudIndicators
		if len(indicators) > 2 {
			indicators = indicators[:2]
		}
		if len(indicators) == 0 {
			return fmt.Sprintf("%s fraud likelihood - investigation recommends declining",
				f.FraudLikelihood)
		}
		return fmt.Sprintf("%s fraud likelihood. Key indicators: %s",
			f.FraudLikelihood, strings.Join(indicators, ", "))
	case investigator.RecommendApprove:
		return fmt.Sprintf("Investigation cleared the transaction (%s fraud likelihood)",
			f.FraudLikelihood)
	default:
		return fmt.Sprintf("%s fraud likelihood - flagged for manual review",
			f.FraudLikelihood)
	}
}

// complianceStep summarizes the compliance outcome for the run's step trace.
func complianceStep(out *compliance.Outcome) string {
	sar := "not required"
	if out.SARRequired {
		sar = "required"
	}
	return fmt.Sprintf("%s: SAR %s", compliance.AgentName, sar)
}

// statutoryOnlyOutcome is the compliance result when the review stage itself
// failed: no assessment, but the deterministic rules still apply.
func statutoryOnlyOutcome(tx *transaction.Transaction, f *investigator.Finding, cause any) *compliance.Outcome {
	out := &compliance.Outcome{
		Agent:             compliance.AgentName,
		AMLViolations:     []string{},
		KYCFlags:          []string{},
		RegulatoryActions: []string{},
		RiskRating:        "Low",
		ComplianceNotes:   fmt.Sprintf("Compliance review failed: %v. Statutory rules applied only.", cause),
	}
	compliance.ApplyStatutoryRules(out, tx, f)
	out.Summary = "Compliance review degraded; statutory filing rules enforced."
	return out
}

// emitSafely delivers an event to the observer, absorbing observer panics.
func emitSafely(ctx context.Context, emit Emitter, event Event) {
	if emit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Warn("event observer panicked",
				"event_type", event.Type, "transaction_id", event.TransactionID, "panic", r)
		}
	}()
	emit(event)
}

func observeStage(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
