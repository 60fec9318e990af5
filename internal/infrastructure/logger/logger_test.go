package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)
	assert.NotEmpty(t, cfg.TimeFormat)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "nil config", cfg: nil},
		{name: "default config", cfg: DefaultConfig()},
		{name: "json config", cfg: &Config{Level: "debug", Format: "json", Output: "stdout"}},
		{name: "warning alias", cfg: &Config{Level: "WARNING", Format: "console", Output: "stdout"}},
		{name: "unknown level", cfg: &Config{Level: "verbose"}, wantErr: true},
		{name: "unwritable file", cfg: &Config{Level: "info", Output: filepath.Join(t.TempDir(), "missing", "x.log")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
		wantErr  bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"WARNING", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := ParseLevel(tt.level)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provision.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("step finished")
	Sync(logger)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"step finished"`)
}

func TestTee(t *testing.T) {
	base, baseLogs := observer.New(zapcore.InfoLevel)
	extra, extraLogs := observer.New(zapcore.WarnLevel)

	log := Tee(zap.New(base), extra)
	log.Info("step started")
	log.Warn("row skipped", zap.Int("row", 4))

	assert.Equal(t, 2, baseLogs.Len())
	require.Equal(t, 1, extraLogs.Len())
	assert.Equal(t, "row skipped", extraLogs.All()[0].Message)
	assert.Equal(t, int64(4), extraLogs.All()[0].ContextMap()["row"])

	plain := zap.New(base)
	assert.Same(t, plain, Tee(plain))
}
