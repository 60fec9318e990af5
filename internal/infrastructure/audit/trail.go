// Package audit collects what each provisioning step did to the ERP and
// writes it out as a JSON artifact when the step ends.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/erp/provisioner/internal/infrastructure/storage"
)

// Actions recorded by the loaders
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionMerged   = "merged"
	ActionArchived = "archived"
	ActionSkipped  = "skipped"
	ActionDeleted  = "deleted"
)

// Entry is one change made by a step
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Step      string         `json:"step"`
	Action    string         `json:"action"`
	Model     string         `json:"model"`
	RecordID  int64          `json:"record_id,omitempty"`
	Key       string         `json:"key,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Trail is the audit log of one step. It is safe for concurrent use.
type Trail struct {
	step string
	now  func() time.Time

	mu      sync.Mutex
	entries []Entry
}

// NewTrail creates an empty trail for step
func NewTrail(step string) *Trail {
	return &Trail{step: step, now: time.Now}
}

// Step returns the step the trail belongs to
func (t *Trail) Step() string {
	return t.step
}

// Record appends an entry. Timestamp and Step are filled in when unset.
func (t *Trail) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now()
	}
	if e.Step == "" {
		e.Step = t.step
	}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
}

// Add records action on model for the record id found by key
func (t *Trail) Add(action, model string, id int64, key string, details map[string]any) {
	t.Record(Entry{Action: action, Model: model, RecordID: id, Key: key, Details: details})
}

// Entries returns a copy of the recorded entries
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// FileName is the artifact name of the trail, <step>_audit.json
func (t *Trail) FileName() string {
	return t.step + "_audit.json"
}

// Persist writes the trail as indented JSON to store and returns the
// location reported by the store.
func (t *Trail) Persist(ctx context.Context, store storage.ArtifactStore) (string, error) {
	entries := t.Entries()
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit trail of %s: %w", t.step, err)
	}
	loc, err := store.Save(ctx, t.FileName(), data, "application/json")
	if err != nil {
		return loc, fmt.Errorf("failed to persist audit trail of %s: %w", t.step, err)
	}
	return loc, nil
}
