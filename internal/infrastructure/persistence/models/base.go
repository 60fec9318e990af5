// Package models holds the gorm persistence models of the run history store.
package models

import (
	"time"

	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/google/uuid"
)

// AggregateModel holds the identity columns shared by every aggregate table
type AggregateModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
	Version   int       `gorm:"not null;default:1"`
}

// FromDomainAggregateRoot copies the identity of a
func (m *AggregateModel) FromDomainAggregateRoot(a shared.BaseAggregateRoot) {
	*m = AggregateModel(a)
}

// ToDomainAggregateRoot returns the identity as a domain root
func (m *AggregateModel) ToDomainAggregateRoot() shared.BaseAggregateRoot {
	return shared.BaseAggregateRoot(*m)
}
