package persistence

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/erp/provisioner/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultRecentLimit bounds FindRecent when the caller passes no limit.
const DefaultRecentLimit = 20

// GormRunRepository implements RunRepository using GORM
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// FindByID finds a run by ID
func (r *GormRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*provisioning.Run, error) {
	var model models.RunModel
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindRecent returns the latest runs, newest first
func (r *GormRunRepository) FindRecent(ctx context.Context, limit int) ([]*provisioning.Run, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	var runModels []models.RunModel
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runModels).Error; err != nil {
		return nil, err
	}
	return toDomainRuns(runModels), nil
}

// FindByStatus finds all runs with a specific status
func (r *GormRunRepository) FindByStatus(ctx context.Context, status provisioning.RunStatus) ([]*provisioning.Run, error) {
	var runModels []models.RunModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at DESC").
		Find(&runModels).Error; err != nil {
		return nil, err
	}
	return toDomainRuns(runModels), nil
}

// Save saves a run (create or update)
func (r *GormRunRepository) Save(ctx context.Context, run *provisioning.Run) error {
	model := models.RunModelFromDomain(run)
	return r.db.WithContext(ctx).Save(model).Error
}

func toDomainRuns(runModels []models.RunModel) []*provisioning.Run {
	runs := make([]*provisioning.Run, len(runModels))
	for i := range runModels {
		runs[i] = runModels[i].ToDomain()
	}
	return runs
}

// MemoryRunRepository keeps runs in process memory. It backs the "none"
// audit store driver, so a run can still be summarised without a database.
type MemoryRunRepository struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*provisioning.Run
}

// NewMemoryRunRepository creates an empty MemoryRunRepository
func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{runs: make(map[uuid.UUID]*provisioning.Run)}
}

// FindByID finds a run by ID
func (r *MemoryRunRepository) FindByID(_ context.Context, id uuid.UUID) (*provisioning.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

// FindRecent returns the latest runs, newest first
func (r *MemoryRunRepository) FindRecent(_ context.Context, limit int) ([]*provisioning.Run, error) {
	return r.filter(func(*provisioning.Run) bool { return true }, limit), nil
}

// FindByStatus finds all runs with a specific status
func (r *MemoryRunRepository) FindByStatus(_ context.Context, status provisioning.RunStatus) ([]*provisioning.Run, error) {
	return r.filter(func(run *provisioning.Run) bool { return run.Status == status }, 0), nil
}

// Save saves a run (create or update)
func (r *MemoryRunRepository) Save(_ context.Context, run *provisioning.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *MemoryRunRepository) filter(keep func(*provisioning.Run) bool, limit int) []*provisioning.Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*provisioning.Run, 0, len(r.runs))
	for _, run := range r.runs {
		if keep(run) {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Compile-time interface compliance check
var (
	_ provisioning.RunRepository = (*GormRunRepository)(nil)
	_ provisioning.RunRepository = (*MemoryRunRepository)(nil)
)
