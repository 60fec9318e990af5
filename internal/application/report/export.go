package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/erp/provisioner/internal/domain/masterdata"
	"github.com/erp/provisioner/internal/domain/report"
	"github.com/erp/provisioner/internal/infrastructure/storage"
)

const (
	reportFilePrefix = "kpi_report_"
	reportTimeLayout = "20060102_150405"
	barWidth         = 30
)

// FileName returns kpi_report_<YYYYmmdd_HHMMSS>.<ext> for the report time
func FileName(r *report.KPIReport, ext string) string {
	return reportFilePrefix + r.Timestamp.Format(reportTimeLayout) + "." + ext
}

// ExportJSON saves the report as indented JSON and returns its location
func ExportJSON(ctx context.Context, store storage.ArtifactStore, r *report.KPIReport) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal KPI report: %w", err)
	}
	loc, err := store.Save(ctx, FileName(r, "json"), data, "application/json")
	if err != nil {
		return "", fmt.Errorf("failed to save KPI report: %w", err)
	}
	return loc, nil
}

// CSVRows returns the report as KPI Category, Metric, Value rows
func CSVRows(r *report.KPIReport) [][]string {
	f2 := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	f1 := func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }
	return [][]string{
		{"KPI Category", "Metric", "Value"},
		{"Manufacturing", "MO Count", strconv.Itoa(r.MO.MOCount)},
		{"Manufacturing", "Avg Throughput (days)", f2(r.MO.AvgThroughputDays)},
		{"Manufacturing", "Median Throughput (days)", f2(r.MO.MedianThroughputDays)},
		{"Quality Control", "Total Checks", strconv.Itoa(r.QC.ChecksTotal)},
		{"Quality Control", "Pass Rate (%)", f1(r.QC.PassRate)},
		{"Quality Control", "Fail Rate (%)", f1(r.QC.FailRate)},
		{"Inventory", "Products in Stock", strconv.Itoa(r.Inventory.ProductsWithStock)},
		{"Inventory", "Total Qty", strconv.FormatFloat(r.Inventory.TotalStockQty, 'f', 0, 64)},
		{"Lead Time", "Avg (days)", f2(r.LeadTime.AvgLeadTimeDays)},
		{"Lead Time", "Orders Analyzed", strconv.Itoa(r.LeadTime.OrdersAnalyzed)},
	}
}

// ExportCSV saves the report as CSV and returns its location
func ExportCSV(ctx context.Context, store storage.ArtifactStore, r *report.KPIReport) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(CSVRows(r)); err != nil {
		return "", fmt.Errorf("failed to encode KPI report: %w", err)
	}
	loc, err := store.Save(ctx, FileName(r, "csv"), buf.Bytes(), "text/csv")
	if err != nil {
		return "", fmt.Errorf("failed to save KPI report: %w", err)
	}
	return loc, nil
}

// bar renders value/max as a fixed-width bar
func bar(value, full float64) string {
	filled := 0
	if full > 0 && value > 0 {
		filled = int(value / full * barWidth)
		if filled > barWidth {
			filled = barWidth
		}
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

// WriteSummary prints a console table of the report
func WriteSummary(w io.Writer, r *report.KPIReport) error {
	var b strings.Builder
	line := strings.Repeat("=", 72)
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "KPI REPORT  %s .. %s\n", r.PeriodStart.Format(time.DateOnly), r.PeriodEnd.Format(time.DateOnly))
	fmt.Fprintln(&b, line)

	fmt.Fprintf(&b, "%-28s %10d\n", "Manufacturing orders", r.MO.MOCount)
	fmt.Fprintf(&b, "%-28s %10.2f  %s\n", "Avg throughput (days)", r.MO.AvgThroughputDays, bar(r.MO.AvgThroughputDays, r.MO.MaxThroughputDays))
	fmt.Fprintf(&b, "%-28s %10.2f  %s\n", "Median throughput (days)", r.MO.MedianThroughputDays, bar(r.MO.MedianThroughputDays, r.MO.MaxThroughputDays))
	fmt.Fprintf(&b, "%-28s %10d\n", "Quality checks", r.QC.ChecksTotal)
	fmt.Fprintf(&b, "%-28s %9.1f%%  %s\n", "Pass rate", r.QC.PassRate, bar(r.QC.PassRate, 100))
	fmt.Fprintf(&b, "%-28s %9.1f%%  %s\n", "Fail rate", r.QC.FailRate, bar(r.QC.FailRate, 100))
	fmt.Fprintf(&b, "%-28s %10d / %d\n", "Products in stock", r.Inventory.ProductsWithStock, r.Inventory.ProductsAnalyzed)
	fmt.Fprintf(&b, "%-28s %10.0f\n", "Total stock qty", r.Inventory.TotalStockQty)
	for _, p := range r.Inventory.TopProducts {
		top := r.Inventory.TopProducts[0].Quantity
		fmt.Fprintf(&b, "  %-26s %10.0f  %s\n", masterdata.Truncate(p.Name, 26), p.Quantity, bar(p.Quantity, top))
	}
	fmt.Fprintf(&b, "%-28s %10.2f  (%d orders)\n", "Avg lead time (days)", r.LeadTime.AvgLeadTimeDays, r.LeadTime.OrdersAnalyzed)
	fmt.Fprintln(&b, line)

	_, err := io.WriteString(w, b.String())
	return err
}
