package governance

import (
	"sync"
	"time"

	"github.com/kestrelflow/engine/pkg/models"
)

// AuditEntry is one immutable record of a gate evaluation
// "Audit": run_id, phase, gate_id, threshold, actual, status, timestamp).
type AuditEntry struct {
	RunID     string                  `json:"run_id"`
	Phase     string                  `json:"phase"`
	GateID    string                  `json:"gate_id"`
	Threshold float64                 `json:"threshold"`
	Actual    float64                 `json:"actual"`
	Status    models.GateResultStatus `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
}

// AuditLog is an append-only, in-memory log of every gate evaluation.
// Entries are never removed or mutated once appended; callers needing
// durability persist entries via ForRun into their own store (the run
// engine mirrors these into checkpoint GovernanceResults).
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Append records a new entry. The log never rewrites or discards a
// previous entry.
func (a *AuditLog) Append(entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

// ForRun returns every entry recorded for runID, in append order.
func (a *AuditLog) ForRun(runID string) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []AuditEntry
	for _, e := range a.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// All returns a copy of every entry recorded so far.
func (a *AuditLog) All() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEntry(nil), a.entries...)
}
