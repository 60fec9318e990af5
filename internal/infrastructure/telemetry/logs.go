package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerProvider ships log records to the collector next to the spans.
// A disabled provider yields a core that drops everything.
type LoggerProvider struct {
	sdk *sdklog.LoggerProvider
	log *zap.Logger
	cfg Config
}

// NewLoggerProvider builds the OTLP log pipeline and installs it globally
// when cfg enables telemetry and log export.
func NewLoggerProvider(ctx context.Context, cfg Config, log *zap.Logger) (*LoggerProvider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	lp := &LoggerProvider{log: log.Named("telemetry"), cfg: cfg}
	if !cfg.Enabled || !cfg.ExportLogs {
		return lp, nil
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create log exporter: %w", err)
	}
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	lp.sdk = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	global.SetLoggerProvider(lp.sdk)
	lp.log.Info("Exporting logs", zap.String("endpoint", cfg.CollectorEndpoint))
	return lp, nil
}

// Enabled reports whether log records are exported
func (lp *LoggerProvider) Enabled() bool { return lp.sdk != nil }

// Core returns a zap core that forwards entries at level and above to the
// collector. Tee it with the console core of the process logger.
func (lp *LoggerProvider) Core(level zapcore.Level) zapcore.Core {
	if lp.sdk == nil {
		return zapcore.NewNopCore()
	}
	core := otelzap.NewCore(lp.cfg.ServiceName, otelzap.WithLoggerProvider(lp.sdk))
	filtered, err := zapcore.NewIncreaseLevelCore(core, level)
	if err != nil {
		return core
	}
	return filtered
}

// Flush exports buffered records
func (lp *LoggerProvider) Flush(ctx context.Context) error {
	if lp.sdk == nil {
		return nil
	}
	return lp.sdk.ForceFlush(ctx)
}

// Shutdown exports buffered records and stops the exporter. It waits at
// most ten seconds.
func (lp *LoggerProvider) Shutdown(ctx context.Context) error {
	if lp.sdk == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := lp.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown logger provider: %w", err)
	}
	return nil
}
