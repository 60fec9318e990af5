package provisionapp

import (
	"context"
	"fmt"

	"github.com/erp/provisioner/internal/domain/masterdata"
	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/audit"
	"github.com/erp/provisioner/internal/infrastructure/cache"
	csvimport "github.com/erp/provisioner/internal/infrastructure/import"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StructureCSV is the structure list the product and BOM data come from
const StructureCSV = "data_normalized/Strukturstu-eckliste-Table_normalized.csv"

const (
	modelTemplate     = "product.template"
	modelVariant      = "product.product"
	modelPartner      = "res.partner"
	modelSupplierInfo = "product.supplierinfo"

	productNameMax = 128
)

var structureColumns = []string{"warehouse_id", "Artikelbezeichnung", "Gesamtpreis_raw", "Artikelart", "default_code"}

// structureDelimiters are tried in order until every column is found
var structureDelimiters = []rune{',', ';', '\t'}

// ProductsLoader imports the product templates of the structure list keyed by
// their new default code, merges legacy codes and archives obsolete ones.
type ProductsLoader struct {
	loaderBase
}

// NewProductsLoader creates a ProductsLoader
func NewProductsLoader(deps Deps) *ProductsLoader {
	return &ProductsLoader{loaderBase: newLoaderBase("products", deps,
		"csv_rows_processed", "typos_fixed", "duplicates_merged", "products_created",
		"products_updated", "old_codes_archived", "products_skipped")}
}

type structureRow struct {
	line       int
	code       string
	legacyCode string
	name       string
	kind       string
	price      string
}

// Run imports the structure list
func (l *ProductsLoader) Run(ctx context.Context) (*provisioning.StepResult, error) {
	rows, err := l.readStructure(ctx)
	if err != nil {
		return nil, err
	}

	supplierID, err := l.internalSupplier(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure internal supplier: %w", err)
	}
	uomID, err := l.uom(ctx)
	if err != nil {
		return nil, err
	}

	for _, r := range rows {
		if err := l.importRow(ctx, r, supplierID, uomID); err != nil {
			if isFatal(err) {
				return nil, err
			}
			l.stats.Inc("products_skipped")
			l.remoteError(ctx, r.line, err)
		}
	}

	if err := l.archiveLegacyCodes(ctx); err != nil {
		return nil, err
	}
	return l.finish(ctx, provisioning.StepStatusSucceeded), nil
}

func (l *ProductsLoader) readStructure(ctx context.Context) ([]structureRow, error) {
	table, err := csvimport.LoadFileWithRequired(l.dataPath(StructureCSV), structureDelimiters, structureColumns...)
	if err != nil {
		return nil, fmt.Errorf("failed to read structure list: %w", err)
	}

	seen := make(map[string]bool, len(table.Rows))
	rows := make([]structureRow, 0, len(table.Rows))
	for _, row := range table.Rows {
		code := row.Get("warehouse_id")
		if code == "" {
			continue
		}
		if fixed, changed := masterdata.FixWarehouseID(code); changed {
			logger.L(ctx).Info("fixed warehouse_id typo", zap.String("from", code), zap.String("to", fixed))
			l.stats.Inc("typos_fixed")
			code = fixed
		}
		if seen[code] {
			logger.L(ctx).Warn("duplicate warehouse_id, keeping first row",
				zap.String("warehouse_id", code), zap.Int("row", row.LineNumber))
			continue
		}
		seen[code] = true
		rows = append(rows, structureRow{
			line:       row.LineNumber,
			code:       code,
			legacyCode: row.Get("default_code"),
			name:       row.Get("Artikelbezeichnung"),
			kind:       row.GetOrDefault("Artikelart", "Kaufartikel"),
			price:      row.Get("Gesamtpreis_raw"),
		})
	}
	l.stats.Add("csv_rows_processed", len(rows))
	logger.L(ctx).Info("structure list loaded", zap.Int("rows", len(rows)), zap.String("path", table.Path))
	return rows, nil
}

func (l *ProductsLoader) internalSupplier(ctx context.Context) (int64, error) {
	id, found, err := l.resolver().Supplier(ctx, masterdata.InternalSupplierName)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}
	id, err = l.erp().Create(ctx, modelPartner, odoo.Values{
		"name":          masterdata.InternalSupplierName,
		"supplier_rank": 1,
		"company_type":  "company",
	})
	if err != nil {
		return 0, err
	}
	l.resolver().Remember(ctx, cache.NamespacePartner, masterdata.InternalSupplierName, id)
	l.trail.Add(audit.ActionCreated, modelPartner, id, masterdata.InternalSupplierName, nil)
	return id, nil
}

// uom returns the id of the default unit, 0 when the ERP has none by that name
func (l *ProductsLoader) uom(ctx context.Context) (int64, error) {
	ids, err := l.erp().Search(ctx, "uom.uom", odoo.Where("name", "=", masterdata.DefaultUoMName), odoo.SearchOptions{Limit: 1})
	if err != nil {
		if isFatal(err) {
			return 0, err
		}
		logger.L(ctx).Warn("unit of measure lookup failed", zap.Error(err))
		return 0, nil
	}
	if len(ids) == 0 {
		logger.L(ctx).Warn("unit of measure not found, using the ERP default", zap.String("uom", masterdata.DefaultUoMName))
		return 0, nil
	}
	return ids[0], nil
}

func (l *ProductsLoader) importRow(ctx context.Context, r structureRow, supplierID, uomID int64) error {
	log := logger.L(ctx).With(zap.String("code", r.code), zap.Int("row", r.line))
	if r.price == "" {
		log.Warn("no price, product skipped")
		l.stats.Inc("products_skipped")
		return nil
	}
	cost, err := masterdata.ParsePrice(r.price)
	if err != nil {
		l.rowError(ctx, r.line, "Gesamtpreis_raw", csvimport.ErrCodeInvalidFormat, err.Error(), r.price)
		l.stats.Inc("products_skipped")
		return nil
	}
	if cost.LessThan(masterdata.MinPrice) {
		l.rowError(ctx, r.line, "Gesamtpreis_raw", csvimport.ErrCodeInvalidRange, "price below minimum", r.price)
		l.stats.Inc("products_skipped")
		return nil
	}

	name := r.name
	if name == "" {
		name = "Product_" + r.code
	}
	name = masterdata.Truncate(name, productNameMax)
	ptype := masterdata.ProductTypeFor(r.kind)
	standard := cost.InexactFloat64()
	list := masterdata.ListPrice(cost).InexactFloat64()

	id, found, err := l.resolver().Product(ctx, r.code)
	if err != nil {
		return err
	}
	switch {
	case found:
		if _, err := l.erp().Write(ctx, modelTemplate, []int64{id}, odoo.Values{
			"standard_price": standard,
			"list_price":     list,
		}); err != nil {
			return err
		}
		l.stats.Inc("products_updated")
		l.trail.Add(audit.ActionUpdated, modelTemplate, id, r.code, map[string]any{"cost_price": cost.StringFixed(2)})
		log.Debug("product updated")

	default:
		legacyID, merged, err := l.mergeLegacy(ctx, r, name, ptype, standard, list)
		if err != nil {
			return err
		}
		if merged {
			id = legacyID
			break
		}
		vals := odoo.Values{
			"name":           name,
			"default_code":   r.code,
			"standard_price": standard,
			"list_price":     list,
			"type":           string(ptype),
			"sale_ok":        true,
			"purchase_ok":    masterdata.Purchasable(r.kind),
		}
		if uomID > 0 {
			vals["uom_id"] = uomID
			vals["uom_po_id"] = uomID
		}
		id, err = l.erp().Create(ctx, modelTemplate, vals)
		if err != nil {
			return err
		}
		l.resolver().Remember(ctx, cache.NamespaceProduct, r.code, id)
		l.stats.Inc("products_created")
		l.trail.Add(audit.ActionCreated, modelTemplate, id, r.code, map[string]any{"name": name, "type": string(ptype)})
		log.Debug("product created")
	}

	return l.ensureSupplierInfo(ctx, id, supplierID, cost)
}

// mergeLegacy moves a template still carrying its legacy code onto the new code
func (l *ProductsLoader) mergeLegacy(ctx context.Context, r structureRow, name string, ptype masterdata.ProductType, standard, list float64) (int64, bool, error) {
	if r.legacyCode == "" || r.legacyCode == r.code {
		return 0, false, nil
	}
	ids, err := l.erp().Search(ctx, modelTemplate, odoo.Where("default_code", "=", r.legacyCode), odoo.SearchOptions{Limit: 1})
	if err != nil || len(ids) == 0 {
		return 0, false, err
	}
	id := ids[0]
	if _, err := l.erp().Write(ctx, modelTemplate, []int64{id}, odoo.Values{
		"default_code":   r.code,
		"name":           name,
		"standard_price": standard,
		"list_price":     list,
		"type":           string(ptype),
	}); err != nil {
		return 0, false, err
	}
	l.resolver().Forget(ctx, cache.NamespaceProduct, r.legacyCode)
	l.resolver().Remember(ctx, cache.NamespaceProduct, r.code, id)
	l.stats.Inc("duplicates_merged")
	l.trail.Add(audit.ActionMerged, modelTemplate, id, r.code, map[string]any{"old_code": r.legacyCode})
	logger.L(ctx).Info("legacy product merged", zap.String("old_code", r.legacyCode), zap.String("code", r.code))
	return id, true, nil
}

func (l *ProductsLoader) ensureSupplierInfo(ctx context.Context, productID, supplierID int64, cost decimal.Decimal) error {
	price := cost.InexactFloat64()
	_, _, err := l.erp().EnsureRecord(ctx, modelSupplierInfo,
		odoo.Where("product_tmpl_id", "=", productID).And("partner_id", "=", supplierID),
		odoo.Values{
			"product_tmpl_id": productID,
			"partner_id":      supplierID,
			"price":           price,
			"min_qty":         1,
		},
		odoo.Values{"price": price},
	)
	return err
}

// archiveLegacyCodes deactivates templates with a legacy code once a template
// of the same name exists under another code.
func (l *ProductsLoader) archiveLegacyCodes(ctx context.Context) error {
	log := logger.L(ctx)
	for _, code := range masterdata.LegacyCodes {
		recs, err := l.erp().SearchRead(ctx, modelTemplate, odoo.Where("default_code", "=", code),
			[]string{"name", "default_code"}, odoo.SearchOptions{})
		if err != nil {
			if isFatal(err) {
				return err
			}
			log.Warn("legacy code lookup failed", zap.String("code", code), zap.Error(err))
			continue
		}
		for _, rec := range recs {
			name := rec.String("name")
			if name == "" {
				continue
			}
			others, err := l.erp().Search(ctx, modelTemplate,
				odoo.Where("name", "=", name).And("default_code", "!=", code), odoo.SearchOptions{Limit: 1})
			if err != nil {
				if isFatal(err) {
					return err
				}
				log.Warn("replacement lookup failed", zap.String("code", code), zap.Error(err))
				continue
			}
			if len(others) == 0 {
				continue
			}
			if _, err := l.erp().Write(ctx, modelTemplate, []int64{rec.ID()}, odoo.Values{"active": false}); err != nil {
				if isFatal(err) {
					return err
				}
				log.Warn("failed to archive legacy product", zap.String("code", code), zap.Error(err))
				continue
			}
			l.resolver().Forget(ctx, cache.NamespaceProduct, code)
			l.stats.Inc("old_codes_archived")
			l.trail.Add(audit.ActionArchived, modelTemplate, rec.ID(), code, map[string]any{"name": name, "replaced_by": others[0]})
			log.Info("legacy product archived", zap.String("code", code), zap.String("name", name))
		}
	}
	return nil
}
