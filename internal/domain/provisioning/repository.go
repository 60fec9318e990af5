package provisioning

import (
	"context"

	"github.com/google/uuid"
)

// RunRepository defines the interface for run history persistence
type RunRepository interface {
	// FindByID finds a run by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Run, error)

	// FindRecent returns the latest runs, newest first
	FindRecent(ctx context.Context, limit int) ([]*Run, error)

	// FindByStatus finds all runs with a specific status
	FindByStatus(ctx context.Context, status RunStatus) ([]*Run, error)

	// Save saves a run (create or update)
	Save(ctx context.Context, run *Run) error
}
