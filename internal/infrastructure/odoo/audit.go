package odoo

import (
	"sync"
	"time"
)

// Call outcome labels used by audit entries and metrics.
const (
	StatusSuccess = "success"
	StatusRetry   = "retry"
	StatusFailed  = "failed"
)

// CallEntry records one attempt of an execute_kw call.
type CallEntry struct {
	Timestamp  time.Time     `json:"timestamp"`
	Model      string        `json:"model"`
	Method     string        `json:"method"`
	Status     string        `json:"status"`
	Attempt    int           `json:"attempt"`
	Duration   time.Duration `json:"duration"`
	ResultType string        `json:"result_type,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// CallRecorder receives every call attempt.
type CallRecorder interface {
	RecordCall(CallEntry)
}

// CallLog is a bounded, concurrency-safe CallRecorder that keeps the most
// recent entries.
type CallLog struct {
	mu      sync.Mutex
	entries []CallEntry
	limit   int
	total   int
	failed  int
}

// NewCallLog creates a CallLog keeping at most limit entries (default 10000).
func NewCallLog(limit int) *CallLog {
	if limit <= 0 {
		limit = 10000
	}
	return &CallLog{limit: limit}
}

// RecordCall implements CallRecorder.
func (l *CallLog) RecordCall(e CallEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	if e.Status == StatusFailed {
		l.failed++
	}
	if len(l.entries) >= l.limit {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, e)
}

// Entries returns a copy of the retained entries.
func (l *CallLog) Entries() []CallEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CallEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Counts returns the total and failed attempt counts.
func (l *CallLog) Counts() (total, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total, l.failed
}
