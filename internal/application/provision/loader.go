package provisionapp

import (
	"context"
	"path/filepath"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/audit"
	"github.com/erp/provisioner/internal/infrastructure/config"
	csvimport "github.com/erp/provisioner/internal/infrastructure/import"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/storage"
	"go.uber.org/zap"
)

// maxRowErrors bounds the row errors kept per step
const maxRowErrors = 200

// Loader automates one runbook step. Run returns an error only when the step
// as a whole cannot proceed; row problems are counted in the stats.
type Loader interface {
	Name() string
	Run(ctx context.Context) (*provisioning.StepResult, error)
}

// Deps are the collaborators shared by all loaders
type Deps struct {
	ERP      ERP
	Resolver *Resolver
	Config   *config.Config
	// Store receives the audit trail of every step; nil writes to AuditDir.
	Store storage.ArtifactStore
}

// Stats counts the outcomes of a step by name
type Stats map[string]int

// Inc adds one to key
func (s Stats) Inc(key string) { s[key]++ }

// Add adds n to key
func (s Stats) Add(key string, n int) { s[key] += n }

// loaderBase is embedded by every loader
type loaderBase struct {
	name      string
	deps      Deps
	stats     Stats
	trail     *audit.Trail
	rowErrors *csvimport.ErrorCollection
}

func newLoaderBase(name string, deps Deps, statKeys ...string) loaderBase {
	if deps.Resolver == nil {
		deps.Resolver = NewResolver(deps.ERP, nil)
	}
	stats := make(Stats, len(statKeys))
	for _, k := range statKeys {
		stats[k] = 0
	}
	return loaderBase{
		name:      name,
		deps:      deps,
		stats:     stats,
		trail:     audit.NewTrail(name),
		rowErrors: csvimport.NewErrorCollection(maxRowErrors),
	}
}

// Name returns the step name
func (b *loaderBase) Name() string { return b.name }

// Trail returns the audit trail of the step
func (b *loaderBase) Trail() *audit.Trail { return b.trail }

// RowErrors returns the row problems recorded so far
func (b *loaderBase) RowErrors() *csvimport.ErrorCollection { return b.rowErrors }

func (b *loaderBase) erp() ERP { return b.deps.ERP }

func (b *loaderBase) resolver() *Resolver { return b.deps.Resolver }

// dataPath joins parts below the data directory
func (b *loaderBase) dataPath(parts ...string) string {
	return filepath.Join(append([]string{b.deps.Config.Data.DataDir}, parts...)...)
}

func (b *loaderBase) dataPaths(rel ...string) []string {
	out := make([]string, len(rel))
	for i, r := range rel {
		out[i] = b.dataPath(r)
	}
	return out
}

func (b *loaderBase) artifactStore() storage.ArtifactStore {
	if b.deps.Store != nil {
		return b.deps.Store
	}
	return storage.NewLocalStore(b.deps.Config.Data.AuditDir)
}

// rowError records a row problem and logs it
func (b *loaderBase) rowError(ctx context.Context, line int, column, code, msg, value string) {
	b.rowErrors.AddError(line, column, code, msg, value)
	logger.L(ctx).Warn(msg, zap.Int("row", line), zap.String("column", column), zap.String("value", value))
}

// remoteError records an ERP rejection of a row
func (b *loaderBase) remoteError(ctx context.Context, line int, err error) {
	b.rowErrors.AddRemoteError(line, err)
	logger.L(ctx).Warn("ERP rejected row", zap.Int("row", line), zap.Error(err))
}

// skipped finishes a step that had nothing to do
func (b *loaderBase) skipped(ctx context.Context, reason string) *provisioning.StepResult {
	logger.L(ctx).Warn("step skipped", zap.String("reason", reason))
	return b.finish(ctx, provisioning.StepStatusSkipped)
}

// finish persists the audit trail and builds the step result. A trail that
// cannot be written is logged; the ERP changes are already made.
func (b *loaderBase) finish(ctx context.Context, status provisioning.StepStatus) *provisioning.StepResult {
	log := logger.L(ctx)
	if loc, err := b.trail.Persist(ctx, b.artifactStore()); err != nil {
		log.Error("failed to write audit trail", zap.Error(err))
	} else {
		log.Debug("audit trail written", zap.String("location", loc), zap.Int("entries", b.trail.Len()))
	}
	if b.rowErrors.HasErrors() {
		log.Warn("rows with problems",
			zap.Int("count", b.rowErrors.TotalCount()),
			zap.Any("by_code", b.rowErrors.ErrorSummary()))
	}

	stats := make(map[string]int, len(b.stats))
	for k, v := range b.stats {
		stats[k] = v
	}
	log.Info("step finished", zap.String("status", string(status)), zap.Any("stats", stats))
	return &provisioning.StepResult{Name: b.name, Status: status, Stats: stats}
}
