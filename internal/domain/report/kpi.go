// Package report holds the KPI read models computed after a provisioning run.
package report

import (
	"errors"
	"sort"
	"time"
)

// ErrInvalidPeriod is returned when a period does not start before it ends
var ErrInvalidPeriod = errors.New("period start must be before period end")

// Period is a half-open reporting window
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewPeriod validates and creates a period
func NewPeriod(start, end time.Time) (Period, error) {
	if !start.Before(end) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start, End: end}, nil
}

// LastDays returns the days before now
func LastDays(now time.Time, days int) Period {
	return Period{Start: now.AddDate(0, 0, -days), End: now}
}

// MOPerformance summarizes the throughput of finished manufacturing orders
type MOPerformance struct {
	MOCount              int     `json:"mo_count"`
	AvgThroughputDays    float64 `json:"avg_throughput_days"`
	MinThroughputDays    float64 `json:"min_throughput_days"`
	MaxThroughputDays    float64 `json:"max_throughput_days"`
	MedianThroughputDays float64 `json:"median_throughput_days"`
}

// QCMetrics summarizes quality check outcomes
type QCMetrics struct {
	ChecksTotal   int     `json:"checks_total"`
	ChecksPassed  int     `json:"checks_passed"`
	ChecksFailed  int     `json:"checks_failed"`
	PendingChecks int     `json:"pending_checks"`
	PassRate      float64 `json:"pass_rate"`
	FailRate      float64 `json:"fail_rate"`
}

// StockLevel is the on-hand quantity of one product
type StockLevel struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
}

// InventoryMetrics summarizes on-hand stock
type InventoryMetrics struct {
	ProductsWithStock  int          `json:"products_with_stock"`
	TotalStockQty      float64      `json:"total_stock_qty"`
	AvgStockPerProduct float64      `json:"avg_stock_per_product"`
	ProductsAnalyzed   int          `json:"products_analyzed"`
	TopProducts        []StockLevel `json:"top_products"`
}

// LeadTimeMetrics summarizes sale order to delivery lead times
type LeadTimeMetrics struct {
	AvgLeadTimeDays float64 `json:"avg_lead_time_days"`
	MinLeadTimeDays float64 `json:"min_lead_time_days"`
	MaxLeadTimeDays float64 `json:"max_lead_time_days"`
	OrdersAnalyzed  int     `json:"orders_analyzed"`
}

// KPIReport is the full KPI snapshot of a period
type KPIReport struct {
	Timestamp   time.Time        `json:"timestamp"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	MO          MOPerformance    `json:"mo_performance"`
	QC          QCMetrics        `json:"qc_metrics"`
	Inventory   InventoryMetrics `json:"inventory_metrics"`
	LeadTime    LeadTimeMetrics  `json:"lead_time_metrics"`
}

// DurationStats are descriptive statistics over durations in days
type DurationStats struct {
	Count  int
	Avg    float64
	Min    float64
	Max    float64
	Median float64
}

// Summarize computes count, mean, min, max and median of days. The median
// of an even count is the mean of the two middle values. No input yields
// all zeros.
func Summarize(days []float64) DurationStats {
	if len(days) == 0 {
		return DurationStats{}
	}
	sorted := make([]float64, len(days))
	copy(sorted, days)
	sort.Float64s(sorted)

	sum := 0.0
	for _, d := range sorted {
		sum += d
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return DurationStats{
		Count:  n,
		Avg:    sum / float64(n),
		Min:    sorted[0],
		Max:    sorted[n-1],
		Median: median,
	}
}

// Days returns d in fractional days
func Days(d time.Duration) float64 {
	return d.Hours() / 24
}

// NewQCMetrics computes the rates from the counts
func NewQCMetrics(total, passed, failed, pending int) QCMetrics {
	m := QCMetrics{ChecksTotal: total, ChecksPassed: passed, ChecksFailed: failed, PendingChecks: pending}
	if total > 0 {
		m.PassRate = float64(passed) / float64(total) * 100
		m.FailRate = float64(failed) / float64(total) * 100
	}
	return m
}

// NewInventoryMetrics summarizes stock levels and keeps the top n by quantity
func NewInventoryMetrics(levels []StockLevel, top int) InventoryMetrics {
	m := InventoryMetrics{ProductsAnalyzed: len(levels), TopProducts: []StockLevel{}}
	for _, l := range levels {
		if l.Quantity > 0 {
			m.ProductsWithStock++
		}
		m.TotalStockQty += l.Quantity
	}
	if len(levels) > 0 {
		m.AvgStockPerProduct = m.TotalStockQty / float64(len(levels))
	}
	sorted := make([]StockLevel, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Quantity > sorted[j].Quantity })
	if len(sorted) > top {
		sorted = sorted[:top]
	}
	m.TopProducts = append(m.TopProducts, sorted...)
	return m
}
