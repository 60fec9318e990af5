package provisionapp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/erp/provisioner/internal/infrastructure/config"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"github.com/erp/provisioner/internal/infrastructure/odoo/odootest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testEnv is an in-memory ERP, a client talking to it and a data directory
type testEnv struct {
	server *odootest.Server
	client *odoo.Client
	dir    string
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	server := odootest.NewServer()
	cfg := odoo.DefaultConfig()
	cfg.URL = "http://erp.local"
	cfg.DB = "drohnen"
	cfg.Username = "admin"
	cfg.Password = "secret"
	cfg.MaxRetries = 1
	client, err := odoo.NewClient(cfg, server,
		odoo.WithLogger(zaptest.NewLogger(t)),
		odoo.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	require.NoError(t, err)

	dir := t.TempDir()
	appCfg := &config.Config{
		Data: config.DataConfig{
			DataDir:      dir,
			AuditDir:     filepath.Join(dir, "audit"),
			ReportDir:    filepath.Join(dir, "reports"),
			QualityFiles: []string{"quality/quality_points.csv"},
		},
		Manufacturing: config.ManufacturingConfig{
			MOSequencePrefix:  "WH/MO/",
			MOSequencePadding: 5,
			MOSequenceCode:    "mrp.production",
		},
	}
	return &testEnv{server: server, client: client, dir: dir, cfg: appCfg}
}

func (e *testEnv) deps() Deps {
	return Deps{ERP: e.client, Resolver: NewResolver(e.client, nil), Config: e.cfg}
}

// writeFile writes lines below the data directory
func (e *testEnv) writeFile(t *testing.T, rel string, lines ...string) string {
	t.Helper()
	path := filepath.Join(e.dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// byField returns the first record of model whose field equals value
func (e *testEnv) byField(model, field string, value any) odoo.Record {
	for _, rec := range e.server.Records(model) {
		if rec[field] == value {
			return rec
		}
	}
	return nil
}
