package provisionapp

import (
	"context"
	"fmt"
	"strconv"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/audit"
	"github.com/erp/provisioner/internal/infrastructure/cache"
	csvimport "github.com/erp/provisioner/internal/infrastructure/import"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BOMCSV is the bill of materials file
const BOMCSV = "bom/bom.csv"

const (
	modelBOM     = "mrp.bom"
	modelBOMLine = "mrp.bom.line"

	bomUoMName      = "Units"
	bomType         = "normal"
	defaultSequence = 10
)

var bomColumns = []string{"bom_id", "bom_name", "product_code", "product_qty", "component_code", "component_qty"}

// minBOMQty is the smallest quantity accepted for headers and lines
var minBOMQty = decimal.RequireFromString("0.001")

// BOMLoader imports bills of materials keyed by the head product and replaces
// their component lines.
type BOMLoader struct {
	loaderBase
	uomID     int64
	templates map[string]int64
	variants  map[string]int64
}

// NewBOMLoader creates a BOMLoader
func NewBOMLoader(deps Deps) *BOMLoader {
	return &BOMLoader{loaderBase: newLoaderBase("bom", deps,
		"bom_created", "bom_updated", "bom_skipped", "bom_line_created", "bom_line_skipped",
		"errors_product_not_found", "errors_component_not_found", "errors_invalid_quantity", "errors")}
}

type bomGroup struct {
	id   string
	rows []*csvimport.Row
}

// Run imports the BOM file
func (l *BOMLoader) Run(ctx context.Context) (*provisioning.StepResult, error) {
	table, err := csvimport.LoadFileWithRequired(l.dataPath(BOMCSV), []rune{';', ',', '\t'}, bomColumns...)
	if err != nil {
		return nil, fmt.Errorf("failed to read BOM file: %w", err)
	}
	if len(table.Rows) == 0 {
		return l.skipped(ctx, "BOM file has no rows"), nil
	}

	if err := l.prefetch(ctx, table.Rows); err != nil {
		return nil, err
	}
	if l.uomID, err = l.lookupUoM(ctx); err != nil {
		return nil, err
	}

	groups := groupBOMRows(table.Rows)
	logger.L(ctx).Info("processing BOMs", zap.Int("boms", len(groups)), zap.Int("rows", len(table.Rows)))
	for _, g := range groups {
		if err := l.processBOM(ctx, g); err != nil {
			if isFatal(err) {
				return nil, err
			}
			l.stats.Inc("errors")
			l.remoteError(ctx, g.rows[0].LineNumber, err)
		}
	}
	return l.finish(ctx, provisioning.StepStatusSucceeded), nil
}

// groupBOMRows groups rows by bom_id in first-seen order
func groupBOMRows(rows []*csvimport.Row) []bomGroup {
	index := make(map[string]int)
	var groups []bomGroup
	for _, row := range rows {
		id := row.Get("bom_id")
		if id == "" {
			continue
		}
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, bomGroup{id: id})
		}
		groups[i].rows = append(groups[i].rows, row)
	}
	return groups
}

func (l *BOMLoader) prefetch(ctx context.Context, rows []*csvimport.Row) error {
	products := make([]string, 0, len(rows))
	components := make([]string, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.Get("product_code"))
		components = append(components, row.Get("component_code"))
	}
	var err error
	if l.templates, err = l.resolver().PrefetchCodes(ctx, cache.NamespaceProduct, modelTemplate, products); err != nil {
		return fmt.Errorf("failed to prefetch products: %w", err)
	}
	if l.variants, err = l.resolver().PrefetchCodes(ctx, cache.NamespaceVariant, modelVariant, components); err != nil {
		return fmt.Errorf("failed to prefetch components: %w", err)
	}
	logger.L(ctx).Info("products prefetched", zap.Int("templates", len(l.templates)), zap.Int("variants", len(l.variants)))
	return nil
}

func (l *BOMLoader) lookupUoM(ctx context.Context) (int64, error) {
	ids, err := l.erp().Search(ctx, "uom.uom", odoo.Where("name", "=", bomUoMName), odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		logger.L(ctx).Warn("BOM unit not found, using the product unit", zap.String("uom", bomUoMName))
		return 0, nil
	}
	return ids[0], nil
}

func (l *BOMLoader) qtyValidator(column string) *csvimport.FieldValidator {
	return csvimport.NewFieldValidator([]csvimport.FieldRule{
		csvimport.Field(column).Decimal().MinValue(minBOMQty).Build(),
	}, maxRowErrors)
}

// quantity validates column of row, defaulting an empty value to 1
func (l *BOMLoader) quantity(ctx context.Context, row *csvimport.Row, column string) (float64, bool) {
	v := l.qtyValidator(column)
	if !v.ValidateRow(row) {
		for _, e := range v.Errors().Errors() {
			l.rowError(ctx, e.Row, e.Column, e.Code, e.Message, e.Value)
		}
		l.stats.Inc("errors_invalid_quantity")
		return 0, false
	}
	raw := row.Get(column)
	if raw == "" {
		return 1, true
	}
	qty, _ := csvimport.ParseDecimal(raw)
	return qty.InexactFloat64(), true
}

func (l *BOMLoader) processBOM(ctx context.Context, g bomGroup) error {
	log := logger.L(ctx).With(zap.String("bom_id", g.id))
	header := g.rows[0]
	code := header.Get("product_code")
	if code == "" {
		log.Warn("BOM without product_code skipped")
		l.stats.Inc("bom_skipped")
		return nil
	}
	productID, ok := l.templates[code]
	if !ok {
		l.RowErrors().AddReferenceError(header.LineNumber, "product_code", code, "product")
		log.Warn("BOM product not found", zap.String("product_code", code))
		l.stats.Inc("errors_product_not_found")
		l.stats.Inc("bom_skipped")
		return nil
	}
	qty, ok := l.quantity(ctx, header, "product_qty")
	if !ok {
		l.stats.Inc("bom_skipped")
		return nil
	}

	bomID, created, err := l.ensureHeader(ctx, productID, qty)
	if err != nil {
		return err
	}
	name := header.GetOrDefault("bom_name", "BoM "+g.id)
	if created {
		l.stats.Inc("bom_created")
		l.trail.Add(audit.ActionCreated, modelBOM, bomID, g.id, map[string]any{"name": name, "product_code": code})
	} else {
		l.stats.Inc("bom_updated")
		l.trail.Add(audit.ActionUpdated, modelBOM, bomID, g.id, map[string]any{"name": name, "product_code": code})
	}
	log.Info("BOM header ensured", zap.Int64("id", bomID), zap.Bool("created", created))

	lines := l.buildLines(ctx, g, bomID)
	if len(lines) == 0 {
		return nil
	}
	return l.replaceLines(ctx, g.id, bomID, lines)
}

// ensureHeader upserts the BOM of productID
func (l *BOMLoader) ensureHeader(ctx context.Context, productID int64, qty float64) (int64, bool, error) {
	ids, err := l.erp().Search(ctx, modelBOM, odoo.Where("product_tmpl_id", "=", productID), odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, false, err
	}
	vals := odoo.Values{"product_qty": qty}
	if l.uomID > 0 {
		vals["product_uom_id"] = l.uomID
	}
	if len(ids) > 0 {
		_, err := l.erp().Write(ctx, modelBOM, ids[:1], vals)
		return ids[0], false, err
	}
	vals["product_tmpl_id"] = productID
	vals["type"] = bomType
	id, err := l.erp().Create(ctx, modelBOM, vals)
	return id, err == nil, err
}

func (l *BOMLoader) buildLines(ctx context.Context, g bomGroup, bomID int64) []odoo.Values {
	seen := make(map[string]bool, len(g.rows))
	lines := make([]odoo.Values, 0, len(g.rows))
	for _, row := range g.rows {
		code := row.Get("component_code")
		if code == "" {
			l.stats.Inc("bom_line_skipped")
			continue
		}
		if seen[code] {
			logger.L(ctx).Warn("duplicate component skipped", zap.String("bom_id", g.id), zap.String("component", code))
			l.stats.Inc("bom_line_skipped")
			continue
		}
		seen[code] = true

		componentID, ok := l.variants[code]
		if !ok {
			l.RowErrors().AddReferenceError(row.LineNumber, "component_code", code, "component")
			l.stats.Inc("errors_component_not_found")
			l.stats.Inc("bom_line_skipped")
			continue
		}
		qty, ok := l.quantity(ctx, row, "component_qty")
		if !ok {
			l.stats.Inc("bom_line_skipped")
			continue
		}

		vals := odoo.Values{
			"bom_id":      bomID,
			"product_id":  componentID,
			"product_qty": qty,
			"sequence":    lineSequence(row.Get("sequence")),
		}
		if l.uomID > 0 {
			vals["product_uom_id"] = l.uomID
		}
		lines = append(lines, vals)
	}
	return lines
}

// lineSequence parses a line sequence; empty or invalid values are 10
func lineSequence(raw string) int {
	if raw == "" {
		return defaultSequence
	}
	seq, err := strconv.Atoi(raw)
	if err != nil || seq < 1 {
		return defaultSequence
	}
	return seq
}

// replaceLines unlinks every existing line of the BOM and creates lines in
// batches. A failed batch is counted and the next one is tried.
func (l *BOMLoader) replaceLines(ctx context.Context, key string, bomID int64, lines []odoo.Values) error {
	for {
		existing, err := l.erp().Search(ctx, modelBOMLine, odoo.Where("bom_id", "=", bomID), odoo.SearchOptions{Limit: l.erp().BatchSize()})
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			break
		}
		if _, err := l.erp().Unlink(ctx, modelBOMLine, existing); err != nil {
			return err
		}
		l.trail.Add(audit.ActionDeleted, modelBOMLine, bomID, key, map[string]any{"lines": len(existing)})
	}

	batch := l.erp().BatchSize()
	if batch <= 0 {
		batch = len(lines)
	}
	for start := 0; start < len(lines); start += batch {
		end := start + batch
		if end > len(lines) {
			end = len(lines)
		}
		ids, err := l.erp().CreateBatch(ctx, modelBOMLine, lines[start:end])
		if err != nil {
			if isFatal(err) {
				return err
			}
			logger.L(ctx).Error("failed to create BOM lines", zap.String("bom_id", key), zap.Error(err))
			l.stats.Inc("errors")
			continue
		}
		l.stats.Add("bom_line_created", len(ids))
		l.trail.Add(audit.ActionCreated, modelBOMLine, bomID, key, map[string]any{"lines": len(ids)})
	}
	return nil
}
