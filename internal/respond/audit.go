package respond

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Attempt outcomes recorded in the audit log. Every mitigation attempt is
// recorded whether it succeeds or fails; mitigation failure must never be
// invisible.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
)

// AuditEntry records one mitigation attempt.
type AuditEntry struct {
	ID        string     `json:"id"`
	Action    ActionType `json:"action"`
	Target    string     `json:"target"`
	Timestamp time.Time  `json:"timestamp"`
	Outcome   string     `json:"outcome"`
	Detail    string     `json:"detail,omitempty"`
}

// AuditLog is an append-only in-memory record of mitigation attempts,
// bounded to the most recent entries.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
}

func NewAuditLog(max int) *AuditLog {
	if max <= 0 {
		max = 10000
	}
	return &AuditLog{max: max}
}

func (l *AuditLog) Append(action ActionType, target, outcome, detail string) AuditEntry {
	entry := AuditEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Target:    target,
		Timestamp: time.Now().UTC(),
		Outcome:   outcome,
		Detail:    detail,
	}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	l.mu.Unlock()
	return entry
}

// Entries returns a copy of the log, oldest first.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEntry(nil), l.entries...)
}
