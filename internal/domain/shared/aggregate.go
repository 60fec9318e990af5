// Package shared holds the identity and error types of the provisioner's
// aggregates.
package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseAggregateRoot is the identity of an aggregate together with its
// timestamps and an optimistic version that starts at 1.
type BaseAggregateRoot struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// NewBaseAggregateRoot creates a root with a fresh id
func NewBaseAggregateRoot() BaseAggregateRoot {
	now := time.Now()
	return BaseAggregateRoot{ID: uuid.New(), CreatedAt: now, UpdatedAt: now, Version: 1}
}

// IncrementVersion marks a state change
func (a *BaseAggregateRoot) IncrementVersion() { a.Version++ }

// IsNew reports whether the aggregate has not changed state since creation
func (a *BaseAggregateRoot) IsNew() bool { return a.Version <= 1 }
