// Package report extracts manufacturing, quality, inventory and lead time
// KPIs from the ERP and exports them.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/provisioner/internal/domain/report"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"go.uber.org/zap"
)

const (
	moLimit         = 1000
	qcLimit         = 1000
	inventoryLimit  = 1000
	saleOrderLimit  = 50
	pickingsPerSale = 5
	topProducts     = 5

	// DefaultPeriodDays is the reporting window of GenerateReport
	DefaultPeriodDays = 30
)

// Reader is the part of the RPC client the extractor needs
type Reader interface {
	SearchRead(ctx context.Context, model string, domain odoo.Domain, fields []string, opts odoo.SearchOptions) ([]odoo.Record, error)
}

// Stats counts what the extractor looked at
type Stats struct {
	MOsAnalyzed         int `json:"mos_analyzed"`
	QCChecksAnalyzed    int `json:"qc_checks_analyzed"`
	ProductsAnalyzed    int `json:"products_analyzed"`
	SalesOrdersAnalyzed int `json:"sales_orders_analyzed"`
	ReportsGenerated    int `json:"reports_generated"`
	Errors              int `json:"errors"`
}

// KPIService computes KPI reports from ERP data
type KPIService struct {
	erp   Reader
	now   func() time.Time
	stats Stats
}

// NewKPIService creates a KPIService
func NewKPIService(erp Reader) *KPIService {
	return &KPIService{erp: erp, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow replaces the clock, for tests
func (s *KPIService) WithNow(now func() time.Time) *KPIService {
	s.now = now
	return s
}

// Stats returns the counters collected so far
func (s *KPIService) Stats() Stats { return s.stats }

// MOPerformance measures the throughput of manufacturing orders finished
// and created inside [start, end].
func (s *KPIService) MOPerformance(ctx context.Context, start, end time.Time) (report.MOPerformance, error) {
	period, err := report.NewPeriod(start, end)
	if err != nil {
		return report.MOPerformance{}, fmt.Errorf("invalid MO period %s..%s: %w",
			odoo.FormatDateTime(start), odoo.FormatDateTime(end), err)
	}
	mos, err := s.erp.SearchRead(ctx, "mrp.production",
		odoo.Where("state", "=", "done").
			And("create_date", ">=", odoo.FormatDateTime(period.Start)).
			And("create_date", "<=", odoo.FormatDateTime(period.End)),
		[]string{"id", "product_id", "product_qty", "create_date", "date_finished"},
		odoo.SearchOptions{Limit: moLimit})
	if err != nil {
		s.stats.Errors++
		return report.MOPerformance{}, fmt.Errorf("failed to read manufacturing orders: %w", err)
	}
	s.stats.MOsAnalyzed += len(mos)

	days := make([]float64, 0, len(mos))
	for _, mo := range mos {
		created, ok1 := mo.Time("create_date")
		finished, ok2 := mo.Time("date_finished")
		if !ok1 || !ok2 {
			logger.L(ctx).Debug("MO without dates skipped", zap.Int64("id", mo.ID()))
			continue
		}
		days = append(days, report.Days(finished.Sub(created)))
	}
	st := report.Summarize(days)
	if st.Count == 0 {
		logger.L(ctx).Warn("no finished manufacturing orders in period")
	}
	return report.MOPerformance{
		MOCount:              st.Count,
		AvgThroughputDays:    st.Avg,
		MinThroughputDays:    st.Min,
		MaxThroughputDays:    st.Max,
		MedianThroughputDays: st.Median,
	}, nil
}

// QCMetrics counts quality checks by state. A read failure yields zeros.
func (s *KPIService) QCMetrics(ctx context.Context) report.QCMetrics {
	checks, err := s.erp.SearchRead(ctx, "quality.check", nil,
		[]string{"id", "product_id", "point_id", "quality_state"}, odoo.SearchOptions{Limit: qcLimit})
	if err != nil {
		logger.L(ctx).Error("failed to read quality checks", zap.Error(err))
		s.stats.Errors++
		return report.NewQCMetrics(0, 0, 0, 0)
	}
	s.stats.QCChecksAnalyzed += len(checks)
	var passed, failed, pending int
	for _, c := range checks {
		switch c.String("quality_state") {
		case "pass":
			passed++
		case "fail":
			failed++
		case "none":
			pending++
		}
	}
	return report.NewQCMetrics(len(checks), passed, failed, pending)
}

// InventoryMetrics summarizes on-hand quantities. A read failure yields zeros.
func (s *KPIService) InventoryMetrics(ctx context.Context) report.InventoryMetrics {
	products, err := s.erp.SearchRead(ctx, "product.product", nil,
		[]string{"id", "name", "qty_available"}, odoo.SearchOptions{Limit: inventoryLimit})
	if err != nil {
		logger.L(ctx).Error("failed to read stock levels", zap.Error(err))
		s.stats.Errors++
		return report.NewInventoryMetrics(nil, topProducts)
	}
	s.stats.ProductsAnalyzed += len(products)
	levels := make([]report.StockLevel, len(products))
	for i, p := range products {
		levels[i] = report.StockLevel{ProductID: p.ID(), Name: p.String("name"), Quantity: p.Float("qty_available")}
	}
	return report.NewInventoryMetrics(levels, topProducts)
}

// LeadTimeMetrics measures order creation to the last finished outgoing
// delivery of recent confirmed sale orders. A read failure yields zeros.
func (s *KPIService) LeadTimeMetrics(ctx context.Context) report.LeadTimeMetrics {
	log := logger.L(ctx)
	orders, err := s.erp.SearchRead(ctx, "sale.order", odoo.Where("state", "in", []string{"sale", "done"}),
		[]string{"id", "name", "create_date"}, odoo.SearchOptions{Limit: saleOrderLimit})
	if err != nil {
		log.Error("failed to read sale orders", zap.Error(err))
		s.stats.Errors++
		return report.LeadTimeMetrics{}
	}

	var days []float64
	for _, so := range orders {
		created, ok := so.Time("create_date")
		if !ok {
			continue
		}
		pickings, err := s.erp.SearchRead(ctx, "stock.picking",
			odoo.Where("sale_id", "=", so.ID()).And("picking_type_code", "=", "outgoing").And("state", "=", "done"),
			[]string{"date_done"}, odoo.SearchOptions{Limit: pickingsPerSale})
		if err != nil {
			log.Debug("failed to read deliveries", zap.String("order", so.String("name")), zap.Error(err))
			continue
		}
		var delivered time.Time
		for _, p := range pickings {
			if t, ok := p.Time("date_done"); ok && t.After(delivered) {
				delivered = t
			}
		}
		if delivered.IsZero() {
			continue
		}
		days = append(days, report.Days(delivered.Sub(created)))
	}
	s.stats.SalesOrdersAnalyzed += len(days)

	st := report.Summarize(days)
	return report.LeadTimeMetrics{
		AvgLeadTimeDays: st.Avg,
		MinLeadTimeDays: st.Min,
		MaxLeadTimeDays: st.Max,
		OrdersAnalyzed:  st.Count,
	}
}

// GenerateReport collects every KPI over the last periodDays days. A
// non-positive periodDays means DefaultPeriodDays.
func (s *KPIService) GenerateReport(ctx context.Context, periodDays int) (*report.KPIReport, error) {
	if periodDays <= 0 {
		periodDays = DefaultPeriodDays
	}
	now := s.now()
	period := report.LastDays(now, periodDays)
	logger.L(ctx).Info("generating KPI report", zap.Int("period_days", periodDays))

	mo, err := s.MOPerformance(ctx, period.Start, period.End)
	if err != nil {
		return nil, err
	}
	r := &report.KPIReport{
		Timestamp:   now,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		MO:          mo,
		QC:          s.QCMetrics(ctx),
		Inventory:   s.InventoryMetrics(ctx),
		LeadTime:    s.LeadTimeMetrics(ctx),
	}
	s.stats.ReportsGenerated++
	return r, nil
}
