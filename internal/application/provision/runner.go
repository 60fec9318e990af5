package provisionapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/erp/provisioner/internal/domain/masterdata"
	"github.com/erp/provisioner/internal/domain/provisioning"
	csvimport "github.com/erp/provisioner/internal/infrastructure/import"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

var (
	// ErrCriticalStepFailed wraps the error of a critical step that aborted the run
	ErrCriticalStepFailed = errors.New("critical step failed")
	// ErrMissingDataFile is returned when a file a selected step needs is absent
	ErrMissingDataFile = errors.New("required data file missing")
)

// criticalFiles are checked before any ERP work, per step that reads them
var criticalFiles = map[string]string{
	"products": StructureCSV,
	"routing":  OperationsCSV,
}

const summaryErrorMax = 50

// KPIFunc produces the KPI report of a run. The result is stored on the run.
type KPIFunc func(ctx context.Context) (any, error)

// RunOptions select what a run does
type RunOptions struct {
	// Steps restricts the run to these steps and their dependencies.
	Steps   []string
	KPIOnly bool
	SkipKPI bool
	// Progress receives the percentage after every step.
	Progress ProgressHook
	// Out receives the human-readable summary; nil discards it.
	Out io.Writer
}

// Runner executes the steps of a run in dependency order
type Runner struct {
	steps   []Step
	deps    Deps
	repo    provisioning.RunRepository
	metrics *telemetry.Metrics
	kpi     KPIFunc
}

// NewRunner creates a Runner. repo, metrics and kpi may be nil.
func NewRunner(steps []Step, deps Deps, repo provisioning.RunRepository, metrics *telemetry.Metrics, kpi KPIFunc) *Runner {
	return &Runner{steps: steps, deps: deps, repo: repo, metrics: metrics, kpi: kpi}
}

func (o RunOptions) mode() provisioning.RunMode {
	switch {
	case o.KPIOnly:
		return provisioning.RunModeKPIOnly
	case len(o.Steps) > 0:
		return provisioning.RunModeSubset
	}
	return provisioning.RunModeFull
}

// Plan returns the steps a run with opts executes, in execution order
func (r *Runner) Plan(opts RunOptions) ([]Step, error) {
	if opts.KPIOnly {
		return nil, nil
	}
	selected, err := SelectSteps(r.steps, opts.Steps)
	if err != nil {
		return nil, err
	}
	return SortSteps(selected)
}

// CheckDataFiles verifies that the critical files of the planned steps exist
func (r *Runner) CheckDataFiles(plan []Step) error {
	var missing []string
	for _, s := range plan {
		rel, ok := criticalFiles[s.Name]
		if !ok {
			continue
		}
		path := filepath.Join(r.deps.Config.Data.DataDir, rel)
		if _, found := csvimport.FirstExisting(path); !found {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingDataFile, missing)
	}
	return nil
}

// Run executes a run and returns it in its final state. The error is set
// when the run failed or was cancelled.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*provisioning.Run, error) {
	run, err := provisioning.NewRun(opts.mode(), r.deps.Config.Data.DataDir)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithRunID(ctx, run.ID.String())
	ctx, span := telemetry.StartSpan(ctx, "provision.run", telemetry.WithAttribute("provision.mode", string(run.Mode)))
	defer span.End()
	log := logger.L(ctx)

	if err := run.Start(); err != nil {
		return run, err
	}
	r.save(ctx, run)

	plan, err := r.Plan(opts)
	if err == nil {
		err = r.CheckDataFiles(plan)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return run, r.fail(ctx, run, err)
	}
	log.Info("provisioning run started", zap.String("mode", string(run.Mode)), zap.Int("steps", len(plan)))

	progress := NewProgressTracker(plan, opts.Progress)
	for _, step := range plan {
		if ctx.Err() != nil {
			return run, r.cancel(ctx, run, opts.Out)
		}
		result, stepErr := r.executeStep(ctx, step)
		if recErr := run.RecordStep(result); recErr != nil {
			log.Error("failed to record step", zap.String("step", step.Name), zap.Error(recErr))
		}
		progress.Complete(ctx, step)

		if stepErr == nil {
			continue
		}
		if ctx.Err() != nil {
			return run, r.cancel(ctx, run, opts.Out)
		}
		if step.Critical {
			r.writeSummary(ctx, opts.Out, run)
			err := fmt.Errorf("%w: %s: %w", ErrCriticalStepFailed, step.Name, stepErr)
			telemetry.RecordError(span, err)
			return run, r.fail(ctx, run, err)
		}
		log.Warn("non-critical step failed, continuing", zap.String("step", step.Name), zap.Error(stepErr))
	}
	if len(plan) > 0 {
		r.writeSummary(ctx, opts.Out, run)
	}

	if (opts.KPIOnly || !opts.SkipKPI) && r.kpi != nil {
		if err := r.runKPI(ctx, run); err != nil {
			if opts.KPIOnly {
				telemetry.RecordError(span, err)
				return run, r.fail(ctx, run, err)
			}
			log.Warn("KPI report failed", zap.Error(err))
		}
	}

	if err := run.Complete(); err != nil {
		return run, err
	}
	r.save(ctx, run)
	r.metrics.ObserveRun(string(run.Status))
	telemetry.SetOK(span)
	log.Info("provisioning run finished", zap.String("status", string(run.Status)), zap.Duration("duration", run.Duration()))
	return run, nil
}

// executeStep runs one loader inside its own span and logger scope
func (r *Runner) executeStep(ctx context.Context, step Step) (provisioning.StepResult, error) {
	ctx = logger.WithStep(ctx, step.Name)
	ctx, span := telemetry.StartStepSpan(ctx, step.Name)
	defer span.End()
	log := logger.L(ctx)
	log.Info("step started", zap.String("description", step.Description))

	started := time.Now()
	res, err := step.Factory(r.deps).Run(ctx)
	finished := time.Now()

	result := provisioning.StepResult{Name: step.Name, Status: provisioning.StepStatusSucceeded}
	if res != nil {
		result = *res
	}
	result.Name = step.Name
	result.Critical = step.Critical
	result.StartedAt = started
	result.FinishedAt = finished
	result.Duration = finished.Sub(started)
	if err != nil {
		result.Status = provisioning.StepStatusFailed
		result.Error = err.Error()
		telemetry.RecordError(span, err)
		log.Error("step failed", zap.Duration("duration", result.Duration), zap.Error(err))
	} else {
		telemetry.SetAttributes(span, "provision.status", string(result.Status))
		telemetry.SetOK(span)
		log.Info("step completed", zap.Duration("duration", result.Duration), zap.String("status", string(result.Status)))
	}
	r.metrics.ObserveStep(step.Name, string(result.Status), result.Duration, result.Stats)
	return result, err
}

func (r *Runner) runKPI(ctx context.Context, run *provisioning.Run) error {
	ctx = logger.WithStep(ctx, "kpi")
	ctx, span := telemetry.StartStepSpan(ctx, "kpi")
	defer span.End()

	summary, err := r.kpi(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetOK(span)
	return run.SetKPISummary(summary)
}

func (r *Runner) fail(ctx context.Context, run *provisioning.Run, err error) error {
	if ferr := run.Fail(err.Error()); ferr != nil {
		logger.L(ctx).Error("failed to mark run failed", zap.Error(ferr))
	}
	r.save(ctx, run)
	r.metrics.ObserveRun(string(run.Status))
	logger.L(ctx).Error("provisioning run failed", zap.Error(err))
	return err
}

func (r *Runner) cancel(ctx context.Context, run *provisioning.Run, out io.Writer) error {
	if err := run.Cancel(); err != nil {
		logger.L(ctx).Error("failed to mark run cancelled", zap.Error(err))
	}
	// ctx is done; the final state is still written.
	r.save(context.WithoutCancel(ctx), run)
	r.metrics.ObserveRun(string(run.Status))
	r.writeSummary(ctx, out, run)
	logger.L(ctx).Warn("provisioning run cancelled")
	return ctx.Err()
}

func (r *Runner) save(ctx context.Context, run *provisioning.Run) {
	if r.repo == nil {
		return
	}
	if err := r.repo.Save(ctx, run); err != nil {
		logger.L(ctx).Warn("failed to save run history", zap.Error(err))
	}
}

// SummaryLines renders one line per step and a closing verdict
func SummaryLines(run *provisioning.Run) []string {
	lines := make([]string, 0, len(run.Steps)+1)
	failed := 0
	for _, s := range run.Steps {
		if s.Status == provisioning.StepStatusFailed {
			failed++
			lines = append(lines, fmt.Sprintf("✗ %-22s %s", s.Name, masterdata.Truncate(s.Error, summaryErrorMax)))
			continue
		}
		line := fmt.Sprintf("✓ %-22s %s", s.Name, s.Duration.Round(10*time.Millisecond))
		if s.Status == provisioning.StepStatusSkipped {
			line += " (skipped)"
		}
		lines = append(lines, line)
	}
	if failed == 0 {
		lines = append(lines, "completed successfully")
	} else {
		lines = append(lines, fmt.Sprintf("completed with errors %d/%d", failed, len(run.Steps)))
	}
	return lines
}

func (r *Runner) writeSummary(ctx context.Context, out io.Writer, run *provisioning.Run) {
	lines := SummaryLines(run)
	for _, line := range lines {
		if out != nil {
			fmt.Fprintln(out, line)
		}
	}
	logger.L(ctx).Info("run summary", zap.Strings("lines", lines))
}
