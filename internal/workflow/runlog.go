package workflow

import "sync"

// RunLog is an append-only in-memory record of finished screening runs.
type RunLog struct {
	mu   sync.Mutex
	runs []*Run
}

// NewRunLog creates an empty run log.
func NewRunLog() *RunLog {
	return &RunLog{}
}

// Append records a finished run.
func (l *RunLog) Append(run *Run) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, run)
}

// Runs returns all recorded runs in insertion order.
func (l *RunLog) Runs() []*Run {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Run, len(l.runs))
	copy(out, l.runs)
	return out
}

// Find returns the most recent run for a transaction, if any.
func (l *RunLog) Find(transactionID string) (*Run, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.runs) - 1; i >= 0; i-- {
		if l.runs[i].TransactionID == transactionID {
			return l.runs[i], true
		}
	}
	return nil, false
}

// Len returns the number of recorded runs.
func (l *RunLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.runs)
}
