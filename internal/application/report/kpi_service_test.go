package report

import (
	"context"
	"testing"
	"time"

	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"github.com/erp/provisioner/internal/infrastructure/odoo/odootest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*KPIService, *odootest.Server) {
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
	return NewKPIService(client).WithNow(func() time.Time { return testNow }), server
}

func seedKPIData(server *odootest.Server) {
	mos := []map[string]any{
		{"state": "done", "create_date": "2026-10-01 00:00:00", "date_finished": "2026-10-03 00:00:00"},
		{"state": "done", "create_date": "2026-10-05 00:00:00", "date_finished": "2026-10-09 12:00:00"},
		{"state": "done", "create_date": "2026-10-10 00:00:00", "date_finished": "2026-10-11 00:00:00"},
		{"state": "done", "create_date": "2026-08-01 00:00:00", "date_finished": "2026-08-02 00:00:00"},
		{"state": "confirmed", "create_date": "2026-10-01 00:00:00", "date_finished": false},
		{"state": "done", "create_date": "2026-10-12 00:00:00", "date_finished": false},
	}
	for _, mo := range mos {
		server.Seed("mrp.production", mo)
	}
	for _, state := range []string{"pass", "pass", "fail", "none"} {
		server.Seed("quality.check", map[string]any{"quality_state": state})
	}
	server.Seed("product.product", map[string]any{"name": "Rotor", "qty_available": 10.0})
	server.Seed("product.product", map[string]any{"name": "Rahmen", "qty_available": 0.0})
	server.Seed("product.product", map[string]any{"name": "Akku", "qty_available": 25.0})

	so1 := server.Seed("sale.order", map[string]any{"name": "S00001", "state": "sale", "create_date": "2026-10-01 00:00:00"})
	server.Seed("sale.order", map[string]any{"name": "S00002", "state": "draft", "create_date": "2026-10-01 00:00:00"})
	server.Seed("sale.order", map[string]any{"name": "S00003", "state": "done", "create_date": "2026-10-02 00:00:00"})
	for _, done := range []string{"2026-10-03 00:00:00", "2026-10-04 00:00:00"} {
		server.Seed("stock.picking", map[string]any{"sale_id": so1, "picking_type_code": "outgoing", "state": "done", "date_done": done})
	}
	server.Seed("stock.picking", map[string]any{"sale_id": so1, "picking_type_code": "incoming", "state": "done", "date_done": "2026-10-09 00:00:00"})
}

func TestKPIService_GenerateReport(t *testing.T) {
	svc, server := newTestService(t)
	seedKPIData(server)

	r, err := svc.GenerateReport(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, testNow, r.Timestamp)
	assert.Equal(t, testNow.AddDate(0, 0, -DefaultPeriodDays), r.PeriodStart)

	assert.Equal(t, 3, r.MO.MOCount)
	assert.InDelta(t, 2.5, r.MO.AvgThroughputDays, 1e-9)
	assert.InDelta(t, 1.0, r.MO.MinThroughputDays, 1e-9)
	assert.InDelta(t, 4.5, r.MO.MaxThroughputDays, 1e-9)
	assert.InDelta(t, 2.0, r.MO.MedianThroughputDays, 1e-9)

	assert.Equal(t, 4, r.QC.ChecksTotal)
	assert.InDelta(t, 50.0, r.QC.PassRate, 1e-9)
	assert.InDelta(t, 25.0, r.QC.FailRate, 1e-9)
	assert.Equal(t, 1, r.QC.PendingChecks)

	assert.Equal(t, 2, r.Inventory.ProductsWithStock)
	assert.InDelta(t, 35.0, r.Inventory.TotalStockQty, 1e-9)
	require.Len(t, r.Inventory.TopProducts, 3)
	assert.Equal(t, "Akku", r.Inventory.TopProducts[0].Name)

	assert.Equal(t, 1, r.LeadTime.OrdersAnalyzed)
	assert.InDelta(t, 3.0, r.LeadTime.AvgLeadTimeDays, 1e-9)

	stats := svc.Stats()
	assert.Equal(t, 4, stats.MOsAnalyzed)
	assert.Equal(t, 4, stats.QCChecksAnalyzed)
	assert.Equal(t, 3, stats.ProductsAnalyzed)
	assert.Equal(t, 1, stats.SalesOrdersAnalyzed)
	assert.Equal(t, 1, stats.ReportsGenerated)
	assert.Zero(t, stats.Errors)
}

func TestKPIService_EmptyERP(t *testing.T) {
	svc, _ := newTestService(t)

	r, err := svc.GenerateReport(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 0, -7), r.PeriodStart)
	assert.Zero(t, r.MO.MOCount)
	assert.Zero(t, r.QC.PassRate)
	assert.Empty(t, r.Inventory.TopProducts)
	assert.Zero(t, r.LeadTime.OrdersAnalyzed)
}

func TestKPIService_MOPerformance_InvalidPeriod(t *testing.T) {
	svc, server := newTestService(t)
	_, err := svc.MOPerformance(context.Background(), testNow, testNow.Add(-time.Hour))
	assert.Error(t, err)
	assert.Zero(t, server.CallCount("mrp.production", "search_read"))
}

func TestKPIService_ReadFailures(t *testing.T) {
	fault := &odoo.Fault{Code: 2, Message: "odoo.exceptions.AccessDenied: not allowed"}

	t.Run("manufacturing orders fail the report", func(t *testing.T) {
		svc, server := newTestService(t)
		server.FailNext("mrp.production", "search_read", fault)
		_, err := svc.GenerateReport(context.Background(), 30)
		assert.Error(t, err)
		assert.Equal(t, 1, svc.Stats().Errors)
		assert.Zero(t, svc.Stats().ReportsGenerated)
	})

	t.Run("other sections degrade to zero", func(t *testing.T) {
		svc, server := newTestService(t)
		seedKPIData(server)
		server.FailNext("quality.check", "search_read", fault)
		server.FailNext("product.product", "search_read", fault)
		server.FailNext("sale.order", "search_read", fault)

		r, err := svc.GenerateReport(context.Background(), 30)
		require.NoError(t, err)
		assert.Equal(t, 3, r.MO.MOCount)
		assert.Zero(t, r.QC.ChecksTotal)
		assert.Zero(t, r.Inventory.ProductsAnalyzed)
		assert.NotNil(t, r.Inventory.TopProducts)
		assert.Zero(t, r.LeadTime.OrdersAnalyzed)
		assert.Equal(t, 3, svc.Stats().Errors)
	})
}
