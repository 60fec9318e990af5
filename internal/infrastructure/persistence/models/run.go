package models

import (
	"encoding/json"
	"time"

	"github.com/erp/provisioner/internal/domain/provisioning"
)

// RunModel is the persistence model for the provisioning Run aggregate.
type RunModel struct {
	AggregateModel
	Mode         string  `gorm:"type:varchar(20);not null"`
	DataDir      string  `gorm:"type:varchar(1024);not null"`
	Status       string  `gorm:"type:varchar(30);not null;index"`
	Steps        string  `gorm:"type:text;not null"`
	KPISummary   *string `gorm:"type:text"`
	ErrorMessage string  `gorm:"type:text"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// TableName returns the table name for GORM
func (RunModel) TableName() string {
	return "provisioning_runs"
}

// ToDomain converts the persistence model to a domain Run.
func (m *RunModel) ToDomain() *provisioning.Run {
	run := &provisioning.Run{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Mode:              provisioning.RunMode(m.Mode),
		DataDir:           m.DataDir,
		Status:            provisioning.RunStatus(m.Status),
		ErrorMessage:      m.ErrorMessage,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
	}
	if err := run.SetStepsFromJSON(m.Steps); err != nil {
		run.Steps = make([]provisioning.StepResult, 0)
	}
	if m.KPISummary != nil && *m.KPISummary != "" {
		run.KPISummary = json.RawMessage(*m.KPISummary)
	}
	return run
}

// FromDomain populates the persistence model from a domain Run.
func (m *RunModel) FromDomain(r *provisioning.Run) {
	m.FromDomainAggregateRoot(r.BaseAggregateRoot)
	m.Mode = string(r.Mode)
	m.DataDir = r.DataDir
	m.Status = string(r.Status)
	m.ErrorMessage = r.ErrorMessage
	m.StartedAt = r.StartedAt
	m.CompletedAt = r.CompletedAt

	if steps, err := r.StepsJSON(); err == nil {
		m.Steps = steps
	} else {
		m.Steps = "[]"
	}
	m.KPISummary = nil
	if len(r.KPISummary) > 0 {
		s := string(r.KPISummary)
		m.KPISummary = &s
	}
}

// RunModelFromDomain creates a new persistence model from a domain Run.
func RunModelFromDomain(r *provisioning.Run) *RunModel {
	m := &RunModel{}
	m.FromDomain(r)
	return m
}
