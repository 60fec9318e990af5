package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	provisionapp "github.com/erp/provisioner/internal/application/provision"
	reportapp "github.com/erp/provisioner/internal/application/report"
	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/cache"
	"github.com/erp/provisioner/internal/infrastructure/config"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"github.com/erp/provisioner/internal/infrastructure/persistence"
	"github.com/erp/provisioner/internal/infrastructure/storage"
	"github.com/erp/provisioner/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Exit codes.
const (
	exitOK          = 0
	exitFatal       = 1
	exitInterrupted = 130
)

var version = "dev"

type options struct {
	configPath string
	dataDir    string
	logLevel   string
	steps      string
	kpiOnly    bool
	skipKPI    bool
	full       bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("provisioner", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to config.toml (default: search ., ./config, /etc/provisioner)")
	fs.StringVar(&o.dataDir, "data-dir", "", "Data directory with the CSV inputs (overrides data.data_dir)")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warning, error")
	fs.StringVar(&o.steps, "steps", "", "Comma separated steps to run, dependencies are added")
	fs.BoolVar(&o.kpiOnly, "kpi-only", false, "Only generate the KPI report")
	fs.BoolVar(&o.skipKPI, "skip-kpi", false, "Do not generate the KPI report after the steps")
	fs.BoolVar(&o.full, "full", false, "Run every step (default)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: provisioner [flags]\n\nSteps:\n")
		for _, s := range provisionapp.DefaultSteps() {
			fmt.Fprintf(fs.Output(), "  %-22s %s\n", s.Name, s.Description)
		}
		fmt.Fprintln(fs.Output(), "\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.kpiOnly && (o.skipKPI || o.steps != "") {
		return o, errors.New("--kpi-only cannot be combined with --skip-kpi or --steps")
	}
	if o.logLevel != "" {
		if _, err := logger.ParseLevel(o.logLevel); err != nil {
			return o, err
		}
	}
	return o, nil
}

func (o options) runOptions() provisionapp.RunOptions {
	var steps []string
	if o.steps != "" && !o.full {
		steps = strings.Split(o.steps, ",")
	}
	return provisionapp.RunOptions{
		Steps:   steps,
		KPIOnly: o.kpiOnly,
		SkipKPI: o.skipKPI,
		Out:     os.Stdout,
	}
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		return exitFatal
	}

	// Load configuration
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitFatal
	}
	if opts.dataDir != "" {
		cfg.Data.ApplyDataDir(opts.dataDir)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitFatal
	}
	defer logger.Sync(log)

	// SIGINT and SIGTERM cancel the run between steps
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	log.Info("Starting ERP provisioner",
		zap.String("version", version),
		zap.String("odoo_url", cfg.Odoo.URL),
		zap.String("odoo_db", cfg.Odoo.DB),
		zap.String("data_dir", cfg.Data.DataDir),
	)

	// Initialize telemetry
	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
		ExportLogs:        cfg.Telemetry.ExportLogs,
		ExportMetrics:     cfg.Telemetry.ExportMetrics,
		MetricInterval:    cfg.Telemetry.MetricInterval,
	}
	tp, err := telemetry.NewTracerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Error("Failed to initialize tracing", zap.Error(err))
		return exitFatal
	}
	defer func() {
		_ = tp.Shutdown(context.WithoutCancel(ctx))
	}()

	lp, err := telemetry.NewLoggerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Error("Failed to initialize log export", zap.Error(err))
		return exitFatal
	}
	defer func() {
		_ = lp.Shutdown(context.WithoutCancel(ctx))
	}()
	if lp.Enabled() {
		level, _ := logger.ParseLevel(cfg.Log.Level)
		log = logger.Tee(log, lp.Core(level))
		ctx = logger.WithContext(ctx, log)
	}

	mp, err := telemetry.NewMeterProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Error("Failed to initialize metric export", zap.Error(err))
		return exitFatal
	}
	defer func() {
		_ = mp.Shutdown(context.WithoutCancel(ctx))
	}()

	metrics := telemetry.NewMetrics()
	if mp.Enabled() {
		if err := metrics.Instrument(mp.Meter("github.com/erp/provisioner/internal/application/provision")); err != nil {
			log.Error("Failed to register run metrics", zap.Error(err))
			return exitFatal
		}
	}
	defer func() {
		if err := metrics.WriteMetricsFile(cfg.Telemetry.MetricsFile); err != nil {
			log.Warn("Failed to write metrics file", zap.Error(err))
		}
	}()

	// Lookup cache
	lookups, err := cache.New(ctx, cfg.Cache, true, log)
	if err != nil {
		log.Error("Failed to initialize lookup cache", zap.Error(err))
		return exitFatal
	}
	defer lookups.Close()

	// Artifact stores
	auditStore, reportStore, err := newArtifactStores(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize artifact storage", zap.Error(err))
		return exitFatal
	}

	// Run history
	repo, closeRepo := newRunRepository(cfg, log)
	defer closeRepo()

	// ERP client
	transport, err := odoo.NewTransport(cfg.Odoo.Protocol, cfg.Odoo.URL, cfg.Odoo.Timeout)
	if err != nil {
		log.Error("Failed to create RPC transport", zap.Error(err))
		return exitFatal
	}
	if c, ok := transport.(io.Closer); ok {
		defer c.Close()
	}
	rpcMetrics, err := odoo.NewMetrics(metrics.Registry)
	if err != nil {
		log.Error("Failed to register RPC metrics", zap.Error(err))
		return exitFatal
	}
	calls := odoo.NewCallLog(0)
	clientCfg := odoo.DefaultConfig()
	clientCfg.URL = cfg.Odoo.URL
	clientCfg.DB = cfg.Odoo.DB
	clientCfg.Username = cfg.Odoo.User
	clientCfg.Password = cfg.Odoo.Password
	clientCfg.MaxRetries = cfg.Odoo.MaxRetries
	clientCfg.BackoffFactor = cfg.Odoo.BackoffFactor
	clientCfg.BatchSize = cfg.Odoo.BatchSize
	clientCfg.SearchLimit = cfg.Odoo.SearchLimit
	clientCfg.RateLimit = cfg.Odoo.RateLimit
	clientCfg.AuthTTL = cfg.Odoo.AuthTTL
	client, err := odoo.NewClient(clientCfg, transport,
		odoo.WithLogger(log),
		odoo.WithMetrics(rpcMetrics),
		odoo.WithCallRecorder(calls),
		odoo.WithTracer(tp.Tracer("github.com/erp/provisioner/internal/infrastructure/odoo")),
	)
	if err != nil {
		log.Error("Failed to create RPC client", zap.Error(err))
		return exitFatal
	}
	defer persistCallLog(ctx, auditStore, calls, log)

	deps := provisionapp.Deps{
		ERP:      client,
		Resolver: provisionapp.NewResolver(client, lookups),
		Config:   cfg,
		Store:    auditStore,
	}
	runner := provisionapp.NewRunner(provisionapp.DefaultSteps(), deps, repo, metrics, kpiReport(client, reportStore))

	runOpts := opts.runOptions()
	runOpts.Progress = func(step string, _, total float64) {
		log.Info("Progress", zap.String("step", step), zap.String("percent", fmt.Sprintf("%.1f%%", total)))
	}

	result, err := runner.Run(ctx, runOpts)
	switch {
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		log.Warn("Interrupted")
		return exitInterrupted
	case err != nil:
		log.Error("Provisioning failed", zap.Error(err))
		return exitFatal
	}
	log.Info("Provisioning finished",
		zap.String("run_id", result.ID.String()),
		zap.String("status", string(result.Status)),
		zap.Strings("failed_steps", result.FailedSteps()),
	)
	return exitOK
}

// newArtifactStores returns the audit and report stores: the local
// directories, teed to the S3 bucket when upload is enabled.
func newArtifactStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.ArtifactStore, storage.ArtifactStore, error) {
	auditStore := storage.ArtifactStore(storage.NewLocalStore(cfg.Data.AuditDir))
	reportStore := storage.ArtifactStore(storage.NewLocalStore(cfg.Data.ReportDir))
	if !cfg.Storage.Enabled {
		return auditStore, reportStore, nil
	}

	s3Store, err := storage.NewS3Store(ctx, &cfg.Storage, storage.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	if err := s3Store.EnsureBucket(ctx); err != nil {
		return nil, nil, err
	}
	log.Info("Uploading artifacts", zap.String("bucket", s3Store.Bucket()))
	return storage.Tee{auditStore, s3Store.WithPrefix("audit")},
		storage.Tee{reportStore, s3Store.WithPrefix("reports")}, nil
}

// newRunRepository opens the run history store. A store that cannot be
// opened falls back to memory; the run itself does not depend on it.
func newRunRepository(cfg *config.Config, log *zap.Logger) (provisioning.RunRepository, func()) {
	if cfg.AuditStore.Driver == persistence.DriverNone {
		return persistence.NewMemoryRunRepository(), func() {}
	}
	db, err := persistence.NewDatabase(cfg.AuditStore.Driver, cfg.AuditDSN(), persistence.Options{
		Logger:   log,
		LogLevel: logger.MapGormLogLevel(cfg.Log.Level),
		Tracing:  cfg.Telemetry.Enabled,
	})
	if err == nil {
		err = db.AutoMigrate()
		if err != nil {
			_ = db.Close()
		}
	}
	if err != nil {
		log.Warn("Run history unavailable, keeping it in memory",
			zap.String("driver", cfg.AuditStore.Driver), zap.Error(err))
		return persistence.NewMemoryRunRepository(), func() {}
	}
	return persistence.NewGormRunRepository(db.DB), func() {
		if err := db.Close(); err != nil {
			log.Warn("Failed to close run history", zap.Error(err))
		}
	}
}

// kpiReport generates the KPI report, exports it and prints the summary
func kpiReport(client *odoo.Client, store storage.ArtifactStore) provisionapp.KPIFunc {
	return func(ctx context.Context) (any, error) {
		svc := reportapp.NewKPIService(client)
		r, err := svc.GenerateReport(ctx, reportapp.DefaultPeriodDays)
		if err != nil {
			return nil, err
		}
		jsonLoc, err := reportapp.ExportJSON(ctx, store, r)
		if err != nil {
			return nil, err
		}
		csvLoc, err := reportapp.ExportCSV(ctx, store, r)
		if err != nil {
			return nil, err
		}
		logger.L(ctx).Info("KPI report exported",
			zap.String("json", jsonLoc),
			zap.String("csv", csvLoc),
			zap.Any("stats", svc.Stats()),
		)
		if err := reportapp.WriteSummary(os.Stdout, r); err != nil {
			return nil, err
		}
		return r, nil
	}
}

// persistCallLog writes every RPC attempt of the run next to the step trails
func persistCallLog(ctx context.Context, store storage.ArtifactStore, calls *odoo.CallLog, log *zap.Logger) {
	total, failed := calls.Counts()
	log.Info("RPC calls", zap.Int("total", total), zap.Int("failed", failed))
	if total == 0 {
		return
	}
	data, err := json.MarshalIndent(calls.Entries(), "", "  ")
	if err != nil {
		log.Warn("Failed to encode RPC call log", zap.Error(err))
		return
	}
	name := "rpc_calls_" + time.Now().UTC().Format("20060102_150405") + ".json"
	if _, err := store.Save(context.WithoutCancel(ctx), name, data, "application/json"); err != nil {
		log.Warn("Failed to save RPC call log", zap.Error(err))
	}
}
