package provisionapp

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/audit"
	csvimport "github.com/erp/provisioner/internal/infrastructure/import"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"go.uber.org/zap"
)

// SupplierInfoCSVCandidates are tried in order
var SupplierInfoCSVCandidates = []string{
	"production_data/product_supplierinfo.csv",
	"product_supplierinfo.csv",
}

// SupplierMappingCSV maps supplier ids of the price list to partner names
const SupplierMappingCSV = "data_normalized/supplier_mapping.csv"

var (
	supplierInfoProductColumns  = []string{"product_tmpl_id/default_code", "product_code", "default_code"}
	supplierInfoSupplierColumns = []string{"name/id", "partner_name", "supplier_id"}
)

const (
	defaultSupplierInfoSequence = 10
	defaultSupplierInfoMinQty   = 1.0
)

// SupplierInfoLoader links products to supplier prices keyed by
// product_tmpl_id and partner_id.
type SupplierInfoLoader struct {
	loaderBase
	mapping    map[string]string
	currencyID int64
}

// NewSupplierInfoLoader creates a SupplierInfoLoader
func NewSupplierInfoLoader(deps Deps) *SupplierInfoLoader {
	return &SupplierInfoLoader{
		loaderBase: newLoaderBase("supplierinfo", deps,
			"supplierinfo_created", "supplierinfo_updated", "rows_processed", "rows_skipped",
			"errors_product_not_found", "errors_supplier_not_found", "errors_invalid_price",
			"errors_invalid_qty", "errors"),
		mapping: make(map[string]string),
	}
}

type supplierInfoValues struct {
	price    float64
	minQty   float64
	sequence int
}

// Run imports the supplier price list
func (l *SupplierInfoLoader) Run(ctx context.Context) (*provisioning.StepResult, error) {
	path, ok := csvimport.FirstExisting(l.dataPaths(SupplierInfoCSVCandidates...)...)
	if !ok {
		return l.skipped(ctx, "no supplier price list found"), nil
	}
	table, err := csvimport.LoadFile(path, csvimport.WithAutoDelimiter())
	if err != nil {
		if errors.Is(err, csvimport.ErrEmptyFile) {
			return l.skipped(ctx, "supplier price list is empty"), nil
		}
		return nil, fmt.Errorf("failed to read supplier price list: %w", err)
	}
	l.loadMapping(ctx)

	l.currencyID, err = l.currency(ctx)
	if err != nil {
		return nil, err
	}

	for _, row := range table.Rows {
		l.stats.Inc("rows_processed")
		if err := l.importRow(ctx, row); err != nil {
			if isFatal(err) {
				return nil, err
			}
			l.stats.Inc("errors")
			l.remoteError(ctx, row.LineNumber, err)
		}
	}
	return l.finish(ctx, provisioning.StepStatusSucceeded), nil
}

// loadMapping reads the optional supplier id mapping. Problems only warn.
func (l *SupplierInfoLoader) loadMapping(ctx context.Context) {
	path := l.dataPath(SupplierMappingCSV)
	if _, ok := csvimport.FirstExisting(path); !ok {
		return
	}
	table, err := csvimport.LoadFile(path, csvimport.WithAutoDelimiter())
	if err != nil {
		logger.L(ctx).Warn("failed to read supplier mapping", zap.String("path", path), zap.Error(err))
		return
	}
	for _, row := range table.Rows {
		id, name := row.Get("supplier_id"), row.Get("supplier_name")
		if id != "" && name != "" {
			l.mapping[id] = name
		}
	}
	logger.L(ctx).Info("supplier mapping loaded", zap.Int("entries", len(l.mapping)))
}

// currency returns EUR, else the first currency, else 0 to leave it unset
func (l *SupplierInfoLoader) currency(ctx context.Context) (int64, error) {
	ids, err := l.erp().Search(ctx, "res.currency", odoo.Where("name", "=", "EUR"), odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		ids, err = l.erp().Search(ctx, "res.currency", nil, odoo.SearchOptions{Limit: 1})
		if err != nil {
			return 0, err
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

func (l *SupplierInfoLoader) importRow(ctx context.Context, row *csvimport.Row) error {
	code := row.GetFirst(supplierInfoProductColumns...)
	rawSupplier := row.GetFirst(supplierInfoSupplierColumns...)
	if code == "" || rawSupplier == "" {
		l.stats.Inc("rows_skipped")
		return nil
	}
	supplierName := rawSupplier
	if mapped, ok := l.mapping[rawSupplier]; ok {
		supplierName = mapped
	}

	productID, found, err := l.resolver().Product(ctx, code)
	if err != nil {
		return err
	}
	if !found {
		l.RowErrors().AddReferenceError(row.LineNumber, "default_code", code, "product")
		l.stats.Inc("errors_product_not_found")
		l.stats.Inc("rows_skipped")
		return nil
	}
	partnerID, found, err := l.resolver().Supplier(ctx, supplierName)
	if err != nil {
		return err
	}
	if !found {
		l.RowErrors().AddReferenceError(row.LineNumber, "supplier", supplierName, "supplier")
		l.stats.Inc("errors_supplier_not_found")
		l.stats.Inc("rows_skipped")
		return nil
	}

	v, ok := l.parseValues(ctx, row)
	if !ok {
		l.stats.Inc("rows_skipped")
		return nil
	}

	vals := odoo.Values{
		"product_tmpl_id": productID,
		"partner_id":      partnerID,
		"price":           v.price,
		"min_qty":         v.minQty,
		"sequence":        v.sequence,
	}
	if l.currencyID > 0 {
		vals["currency_id"] = l.currencyID
	}
	id, created, err := l.erp().EnsureRecord(ctx, modelSupplierInfo,
		odoo.Where("product_tmpl_id", "=", productID).And("partner_id", "=", partnerID), vals, vals)
	if err != nil {
		var ambiguous *odoo.RecordAmbiguousError
		if errors.As(err, &ambiguous) {
			logger.L(ctx).Error("ambiguous supplier info", zap.Int("row", row.LineNumber), zap.Error(err))
			l.stats.Inc("errors")
			return nil
		}
		return err
	}
	action := audit.ActionUpdated
	if created {
		action = audit.ActionCreated
		l.stats.Inc("supplierinfo_created")
	} else {
		l.stats.Inc("supplierinfo_updated")
	}
	l.trail.Add(action, modelSupplierInfo, id, code+"/"+supplierName, map[string]any{
		"price":   v.price,
		"min_qty": v.minQty,
		"row":     row.LineNumber,
	})
	return nil
}

func (l *SupplierInfoLoader) parseValues(ctx context.Context, row *csvimport.Row) (supplierInfoValues, bool) {
	v := supplierInfoValues{minQty: defaultSupplierInfoMinQty, sequence: defaultSupplierInfoSequence}

	raw := row.Get("price")
	price, err := csvimport.ParseDecimal(raw)
	if err != nil || !price.IsPositive() {
		l.rowError(ctx, row.LineNumber, "price", csvimport.ErrCodeInvalidRange, "price must be > 0", raw)
		l.stats.Inc("errors_invalid_price")
		return v, false
	}
	v.price = price.InexactFloat64()

	if raw := row.Get("min_qty"); raw != "" {
		qty, err := csvimport.ParseDecimal(raw)
		if err != nil || qty.IsNegative() {
			l.rowError(ctx, row.LineNumber, "min_qty", csvimport.ErrCodeInvalidRange, "min_qty must be >= 0", raw)
			l.stats.Inc("errors_invalid_qty")
			return v, false
		}
		v.minQty = qty.InexactFloat64()
	}

	if raw := row.Get("sequence"); raw != "" {
		seq, err := strconv.Atoi(raw)
		if err != nil || seq < 1 {
			l.rowError(ctx, row.LineNumber, "sequence", csvimport.ErrCodeInvalidRange, "sequence must be >= 1", raw)
			l.stats.Inc("errors")
			return v, false
		}
		v.sequence = seq
	}
	return v, true
}
