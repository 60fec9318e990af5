// Package logger builds the zap loggers of the provisioner and carries
// run-scoped loggers through contexts.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config mirrors the [log] section of the configuration file.
type Config struct {
	Level      string // debug, info, warn (or warning), error
	Format     string // console or json
	Output     string // stderr, stdout or a file path
	TimeFormat string
}

// DefaultConfig is a colored console logger on stderr at info.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: "console", Output: "stderr", TimeFormat: "2006-01-02 15:04:05"}
}

// New builds a logger from cfg; nil means DefaultConfig. Errors and above
// carry a stack trace.
func New(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	sink, err := openSink(cfg.Output)
	if err != nil {
		return nil, err
	}
	return zap.New(zapcore.NewCore(encoder(cfg), sink, level),
		zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Tee returns log writing to the extra cores as well. Fields already
// attached to log reach only its own core.
func Tee(log *zap.Logger, cores ...zapcore.Core) *zap.Logger {
	if len(cores) == 0 {
		return log
	}
	return log.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(append([]zapcore.Core{c}, cores...)...)
	}))
}

// ParseLevel maps a level name to zap, ignoring case. Empty is info.
func ParseLevel(level string) (zapcore.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	case "debug", "info", "warn", "error":
		var l zapcore.Level
		return l, l.UnmarshalText([]byte(name))
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

func encoder(cfg *Config) zapcore.Encoder {
	layout := cfg.TimeFormat
	if layout == "" {
		layout = DefaultConfig().TimeFormat
	}
	if cfg.Format == "json" {
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "time"
		ec.EncodeTime = zapcore.TimeEncoderOfLayout(layout)
		ec.EncodeDuration = zapcore.MillisDurationEncoder
		return zapcore.NewJSONEncoder(ec)
	}
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(layout)
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	ec.FunctionKey = zapcore.OmitKey
	return zapcore.NewConsoleEncoder(ec)
}

func openSink(output string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	}
	f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return zapcore.AddSync(f), nil
}

// Sync flushes buffered entries. Terminals reject fsync, so its error is
// dropped.
func Sync(log *zap.Logger) {
	_ = log.Sync()
}
