package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, o options)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, o options) {
				ro := o.runOptions()
				assert.Empty(t, ro.Steps)
				assert.False(t, ro.KPIOnly)
				assert.False(t, ro.SkipKPI)
			},
		},
		{
			name: "steps subset",
			args: []string{"--steps", "bom,routing", "--skip-kpi", "--data-dir", "/srv/data"},
			check: func(t *testing.T, o options) {
				ro := o.runOptions()
				assert.Equal(t, []string{"bom", "routing"}, ro.Steps)
				assert.True(t, ro.SkipKPI)
				assert.Equal(t, "/srv/data", o.dataDir)
			},
		},
		{
			name: "full wins over steps",
			args: []string{"--full", "--steps", "bom"},
			check: func(t *testing.T, o options) {
				assert.Empty(t, o.runOptions().Steps)
			},
		},
		{
			name: "warning level",
			args: []string{"--log-level", "warning"},
			check: func(t *testing.T, o options) {
				assert.Equal(t, "warning", o.logLevel)
			},
		},
		{name: "kpi only", args: []string{"--kpi-only"}, check: func(t *testing.T, o options) {
			assert.True(t, o.runOptions().KPIOnly)
		}},
		{name: "kpi only with skip", args: []string{"--kpi-only", "--skip-kpi"}, wantErr: true},
		{name: "kpi only with steps", args: []string{"--kpi-only", "--steps", "bom"}, wantErr: true},
		{name: "bad level", args: []string{"--log-level", "verbose"}, wantErr: true},
		{name: "unknown flag", args: []string{"--dry-run"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, o)
		})
	}
}

func TestRun_InvalidArguments(t *testing.T) {
	assert.Equal(t, exitFatal, run([]string{"--log-level", "verbose"}))
	assert.Equal(t, exitOK, run([]string{"-h"}))
}

func TestRun_MissingConfig(t *testing.T) {
	t.Setenv("ODOO_URL", "")
	t.Setenv("ODOO_DB", "")
	t.Setenv("ODOO_USER", "")
	t.Setenv("ODOO_PASSWORD", "")
	assert.Equal(t, exitFatal, run([]string{"--config", "/nonexistent/config.toml"}))
}
