package provisionapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erp/provisioner/internal/domain/masterdata"
	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/audit"
	"github.com/erp/provisioner/internal/infrastructure/cache"
	csvimport "github.com/erp/provisioner/internal/infrastructure/import"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"go.uber.org/zap"
)

// SupplierCSVCandidates are tried in order
var SupplierCSVCandidates = []string{
	"data_normalized/Lieferanten-Table_normalized.csv",
	"data_normalized/Lieferanten-Table.normalized.csv",
	"Lieferanten.csv",
}

// Column aliases of the supplier list
var (
	supplierNameColumns    = []string{"name", "Lieferant", "Supplier Name", "supplier_name"}
	supplierEmailColumns   = []string{"email", "email_norm", "Email", "E-Mail", "EmailAddress"}
	supplierPhoneColumns   = []string{"phone", "phone_raw", "Telefon", "Phone", "Phone Number"}
	supplierStreetColumns  = []string{"address_raw", "Adresse", "Street", "address", "Street Address", "Strasse"}
	supplierCityColumns    = []string{"Stadt", "City", "city"}
	supplierCountryColumns = []string{"Land", "Country", "country"}
)

// ErrInvalidSupplierSchema is returned when the supplier list has no name column
var ErrInvalidSupplierSchema = errors.New("supplier list has no name column")

// SuppliersLoader upserts the supplier partners keyed by name
type SuppliersLoader struct {
	loaderBase
	countries map[string]int64
}

// NewSuppliersLoader creates a SuppliersLoader
func NewSuppliersLoader(deps Deps) *SuppliersLoader {
	return &SuppliersLoader{
		loaderBase: newLoaderBase("suppliers", deps,
			"suppliers_created", "suppliers_updated", "suppliers_skipped", "errors"),
		countries: make(map[string]int64),
	}
}

// Run imports the supplier list
func (l *SuppliersLoader) Run(ctx context.Context) (*provisioning.StepResult, error) {
	path, ok := csvimport.FirstExisting(l.dataPaths(SupplierCSVCandidates...)...)
	if !ok {
		return l.skipped(ctx, "no supplier list found"), nil
	}
	table, err := csvimport.LoadFile(path, csvimport.WithAutoDelimiter())
	if err != nil {
		if errors.Is(err, csvimport.ErrEmptyFile) {
			return l.skipped(ctx, "supplier list is empty"), nil
		}
		return nil, fmt.Errorf("failed to read supplier list: %w", err)
	}
	if !table.HasAnyHeader(supplierNameColumns...) {
		return nil, fmt.Errorf("%s: %w (expected one of %s)", path, ErrInvalidSupplierSchema, strings.Join(supplierNameColumns, ", "))
	}
	if len(table.Rows) == 0 {
		return l.skipped(ctx, "supplier list has no rows"), nil
	}
	logger.L(ctx).Info("supplier list loaded", zap.String("path", path), zap.Int("rows", len(table.Rows)))

	seen := make(map[string]bool, len(table.Rows))
	for _, row := range table.Rows {
		if err := l.importRow(ctx, row, seen); err != nil {
			if isFatal(err) {
				return nil, err
			}
			l.stats.Inc("errors")
			l.remoteError(ctx, row.LineNumber, err)
		}
	}
	return l.finish(ctx, provisioning.StepStatusSucceeded), nil
}

func (l *SuppliersLoader) importRow(ctx context.Context, row *csvimport.Row, seen map[string]bool) error {
	name := strings.TrimSpace(row.GetFirst(supplierNameColumns...))
	if name == "" {
		l.stats.Inc("suppliers_skipped")
		return nil
	}
	if seen[name] {
		logger.L(ctx).Warn("duplicate supplier skipped", zap.String("name", name), zap.Int("row", row.LineNumber))
		l.stats.Inc("suppliers_skipped")
		return nil
	}
	seen[name] = true
	if err := masterdata.ValidateSupplierName(name); err != nil {
		l.rowError(ctx, row.LineNumber, "name", csvimport.ErrCodeValidation, err.Error(), name)
		l.stats.Inc("suppliers_skipped")
		return nil
	}

	vals := odoo.Values{
		"name":          name,
		"supplier_rank": 1,
		"customer_rank": 0,
		"is_company":    true,
	}
	if email := row.GetFirst(supplierEmailColumns...); email != "" {
		if masterdata.ValidEmail(email) {
			vals["email"] = strings.TrimSpace(email)
		} else {
			logger.L(ctx).Warn("invalid email dropped", zap.String("supplier", name), zap.String("email", email))
		}
	}
	if phone := row.GetFirst(supplierPhoneColumns...); phone != "" {
		if masterdata.ValidPhone(phone) {
			vals["phone"] = strings.TrimSpace(phone)
		} else {
			logger.L(ctx).Warn("invalid phone dropped", zap.String("supplier", name), zap.String("phone", phone))
		}
	}
	if street := row.GetFirst(supplierStreetColumns...); street != "" {
		vals["street"] = street
	}
	if city := row.GetFirst(supplierCityColumns...); city != "" {
		vals["city"] = city
	}
	if country := row.GetFirst(supplierCountryColumns...); country != "" {
		id, err := l.country(ctx, country)
		if err != nil {
			return err
		}
		if id > 0 {
			vals["country_id"] = id
		} else {
			logger.L(ctx).Warn("country not found", zap.String("supplier", name), zap.String("country", country))
		}
	}

	id, created, err := l.erp().EnsureRecord(ctx, modelPartner, odoo.Where("name", "=", name), vals, vals)
	if err != nil {
		var ambiguous *odoo.RecordAmbiguousError
		if errors.As(err, &ambiguous) {
			l.rowError(ctx, row.LineNumber, "name", csvimport.ErrCodeDuplicateInFile, "several partners share this name", name)
			l.stats.Inc("errors")
			return nil
		}
		return err
	}
	l.resolver().Remember(ctx, cache.NamespacePartner, name, id)
	if created {
		l.stats.Inc("suppliers_created")
		l.trail.Add(audit.ActionCreated, modelPartner, id, name, nil)
	} else {
		l.stats.Inc("suppliers_updated")
		l.trail.Add(audit.ActionUpdated, modelPartner, id, name, nil)
	}
	return nil
}

// country resolves a country by ISO code, then by name. 0 means not found.
func (l *SuppliersLoader) country(ctx context.Context, value string) (int64, error) {
	value = strings.TrimSpace(value)
	if id, ok := l.countries[value]; ok {
		return id, nil
	}
	ids, err := l.erp().Search(ctx, "res.country", odoo.Where("code", "=", strings.ToUpper(value)), odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		ids, err = l.erp().Search(ctx, "res.country", odoo.Where("name", "ilike", value), odoo.SearchOptions{Limit: 1})
		if err != nil {
			return 0, err
		}
	}
	var id int64
	if len(ids) > 0 {
		id = ids[0]
	}
	l.countries[value] = id
	return id, nil
}
