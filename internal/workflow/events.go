package workflow

import "time"

// Event types streamed to observers during a screening run.
const (
	EventInvestigationStart    = "investigation_start"
	EventAgentThinking         = "agent_thinking"
	EventAgentResult           = "agent_result"
	EventInvestigationComplete = "investigation_complete"
	EventInvestigationError    = "investigation_error"
)

// Event is the envelope streamed to observers. Events within a run arrive in
// strict stage order; there is no ordering guarantee across runs.
type Event struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
	Data          any       `json:"data,omitempty"`
}

// Emitter receives events for a single run. A nil emitter is valid and means
// no observer. Emitter panics are caught and logged; they never abort a run.
type Emitter func(Event)

type agentThinking struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

type agentResult struct {
	Agent  string `json:"agent"`
	Result any    `json:"result"`
}

type runError struct {
	Error string `json:"error"`
}
