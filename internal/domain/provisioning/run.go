// Package provisioning holds the run history of the provisioner: one Run per
// CLI invocation with the outcome of every step it executed.
package provisioning

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/provisioner/internal/domain/shared"
)

// RunMode is what a run was asked to do
type RunMode string

const (
	RunModeFull    RunMode = "full"
	RunModeKPIOnly RunMode = "kpi_only"
	RunModeSubset  RunMode = "subset"
)

// IsValid checks if the mode is valid
func (m RunMode) IsValid() bool {
	switch m {
	case RunModeFull, RunModeKPIOnly, RunModeSubset:
		return true
	}
	return false
}

// RunStatus represents the status of a run
type RunStatus string

const (
	RunStatusPending             RunStatus = "pending"
	RunStatusRunning             RunStatus = "running"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
	RunStatusFailed              RunStatus = "failed"
	RunStatusCancelled           RunStatus = "cancelled"
)

// IsValid checks if the status is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted,
		RunStatusCompletedWithErrors, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCompletedWithErrors, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// StepStatus is the outcome of one step
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult is the recorded outcome of one step of a run
type StepResult struct {
	Name       string         `json:"name"`
	Status     StepStatus     `json:"status"`
	Critical   bool           `json:"critical"`
	Stats      map[string]int `json:"stats,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Run is one provisioning invocation
type Run struct {
	shared.BaseAggregateRoot
	Mode         RunMode         `json:"mode"`
	DataDir      string          `json:"data_dir"`
	Status       RunStatus       `json:"status"`
	Steps        []StepResult    `json:"steps"`
	KPISummary   json.RawMessage `json:"kpi_summary,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NewRun creates a pending run
func NewRun(mode RunMode, dataDir string) (*Run, error) {
	if !mode.IsValid() {
		return nil, shared.NewDomainError("INVALID_RUN_MODE", fmt.Sprintf("Invalid run mode: %s", mode))
	}
	if dataDir == "" {
		return nil, shared.NewDomainError("INVALID_DATA_DIR", "Data directory cannot be empty")
	}
	return &Run{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Mode:              mode,
		DataDir:           dataDir,
		Status:            RunStatusPending,
		Steps:             make([]StepResult, 0),
	}, nil
}

// Start marks the run as running
func (r *Run) Start() error {
	if r.Status != RunStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot start run from state: %s", r.Status))
	}
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
	r.UpdatedAt = now
	r.IncrementVersion()
	return nil
}

// RecordStep appends the outcome of a step
func (r *Run) RecordStep(result StepResult) error {
	if r.Status != RunStatusRunning {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot record step in state: %s", r.Status))
	}
	if result.Name == "" {
		return shared.NewDomainError("INVALID_STEP", "Step name cannot be empty")
	}
	r.Steps = append(r.Steps, result)
	r.UpdatedAt = time.Now()
	return nil
}

// Complete finishes the run. Any failed step turns it into
// completed_with_errors.
func (r *Run) Complete() error {
	if r.Status != RunStatusRunning {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot complete run from state: %s", r.Status))
	}
	status := RunStatusCompleted
	if len(r.FailedSteps()) > 0 {
		status = RunStatusCompletedWithErrors
	}
	r.finish(status)
	return nil
}

// Fail marks the run as failed
func (r *Run) Fail(reason string) error {
	if r.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot fail run from terminal state: %s", r.Status))
	}
	r.ErrorMessage = reason
	r.finish(RunStatusFailed)
	return nil
}

// Cancel marks the run as cancelled
func (r *Run) Cancel() error {
	if r.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot cancel run from terminal state: %s", r.Status))
	}
	r.finish(RunStatusCancelled)
	return nil
}

func (r *Run) finish(status RunStatus) {
	now := time.Now()
	r.Status = status
	r.CompletedAt = &now
	r.UpdatedAt = now
	r.IncrementVersion()
}

// SetKPISummary stores the KPI report of the run as JSON
func (r *Run) SetKPISummary(summary any) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal kpi summary: %w", err)
	}
	r.KPISummary = data
	return nil
}

// FailedSteps returns the names of failed steps in execution order
func (r *Run) FailedSteps() []string {
	var names []string
	for _, s := range r.Steps {
		if s.Status == StepStatusFailed {
			names = append(names, s.Name)
		}
	}
	return names
}

// SucceededCount returns the number of succeeded steps
func (r *Run) SucceededCount() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == StepStatusSucceeded {
			n++
		}
	}
	return n
}

// StepsJSON returns the step results as a JSON string
func (r *Run) StepsJSON() (string, error) {
	if len(r.Steps) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(r.Steps)
	if err != nil {
		return "", fmt.Errorf("failed to marshal step results: %w", err)
	}
	return string(data), nil
}

// SetStepsFromJSON parses step results from a JSON string
func (r *Run) SetStepsFromJSON(jsonStr string) error {
	if jsonStr == "" || jsonStr == "[]" {
		r.Steps = make([]StepResult, 0)
		return nil
	}
	var steps []StepResult
	if err := json.Unmarshal([]byte(jsonStr), &steps); err != nil {
		return fmt.Errorf("failed to unmarshal step results: %w", err)
	}
	r.Steps = steps
	return nil
}

// Duration returns how long the run took, or has taken so far
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(*r.StartedAt)
}
