package provisionapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erp/provisioner/internal/domain/masterdata"
	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/audit"
	csvimport "github.com/erp/provisioner/internal/infrastructure/import"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	modelQualityPoint     = "quality.point"
	modelQualityCheckType = "quality.check.type"

	defaultCheckType   = "Manual"
	qualityTitleMax    = 255
	qualityTitleStored = 64
)

var (
	qualityTitleColumns      = []string{"qp_id", "name", "title"}
	qualityWorkcenterColumns = []string{"operation_id", "operation_id/id", "workcenter_name"}
	qualityProductColumns    = []string{"product_id/default_code", "product_default_code", "default_code"}
)

// QualityLoader creates quality points per product and workcenter
type QualityLoader struct {
	loaderBase
	checkTypes map[string]int64
}

// NewQualityLoader creates a QualityLoader
func NewQualityLoader(deps Deps) *QualityLoader {
	return &QualityLoader{
		loaderBase: newLoaderBase("quality", deps,
			"qp_created", "qp_updated", "qp_skipped", "errors_missing_operation",
			"errors_missing_product", "errors_invalid_data", "errors"),
		checkTypes: make(map[string]int64),
	}
}

// Run imports every configured quality file. Missing files are skipped with
// a warning; the step is skipped when none exists.
func (l *QualityLoader) Run(ctx context.Context) (*provisioning.StepResult, error) {
	loaded := 0
	for _, rel := range l.deps.Config.Data.QualityFiles {
		path := l.dataPath(rel)
		if _, ok := csvimport.FirstExisting(path); !ok {
			logger.L(ctx).Warn("quality file not found", zap.String("path", path))
			continue
		}
		table, err := csvimport.LoadFile(path, csvimport.WithAutoDelimiter())
		if err != nil {
			if errors.Is(err, csvimport.ErrEmptyFile) {
				logger.L(ctx).Warn("quality file is empty", zap.String("path", path))
				continue
			}
			return nil, fmt.Errorf("failed to read quality file: %w", err)
		}
		loaded++
		if err := l.importTable(ctx, table); err != nil {
			return nil, err
		}
	}
	if loaded == 0 {
		return l.skipped(ctx, "no quality file found"), nil
	}
	return l.finish(ctx, provisioning.StepStatusSucceeded), nil
}

func (l *QualityLoader) importTable(ctx context.Context, table *csvimport.Table) error {
	titleColumn := ""
	for _, c := range qualityTitleColumns {
		if table.HasHeader(c) {
			titleColumn = c
			break
		}
	}
	logger.L(ctx).Info("loading quality points", zap.String("path", table.Path), zap.Int("rows", len(table.Rows)))

	for _, row := range table.Rows {
		if row.IsEmpty() {
			continue
		}
		if err := l.importRow(ctx, row, titleColumn); err != nil {
			if isFatal(err) {
				return err
			}
			l.stats.Inc("errors")
			l.remoteError(ctx, row.LineNumber, err)
		}
	}
	return nil
}

// titleValid checks the title column; a title from a later alias column is
// checked by hand.
func (l *QualityLoader) titleValid(ctx context.Context, row *csvimport.Row, column string) bool {
	if column == "" || row.Get(column) == "" {
		return true
	}
	v := csvimport.NewFieldValidator([]csvimport.FieldRule{
		csvimport.Field(column).Required().MaxLength(qualityTitleMax).Build(),
	}, maxRowErrors)
	if v.ValidateRow(row) {
		return true
	}
	for _, e := range v.Errors().Errors() {
		l.rowError(ctx, e.Row, e.Column, e.Code, e.Message, masterdata.Truncate(e.Value, 50))
	}
	return false
}

func (l *QualityLoader) importRow(ctx context.Context, row *csvimport.Row, titleColumn string) error {
	log := logger.L(ctx).With(zap.Int("row", row.LineNumber))
	title := strings.TrimSpace(row.GetFirst(qualityTitleColumns...))
	if title == "" {
		log.Debug("quality point without title skipped")
		l.stats.Inc("qp_skipped")
		return nil
	}
	if !l.titleValid(ctx, row, titleColumn) || len([]rune(title)) > qualityTitleMax {
		l.stats.Inc("errors_invalid_data")
		l.stats.Inc("qp_skipped")
		return nil
	}

	wcName := row.GetFirst(qualityWorkcenterColumns...)
	workcenterID, found, err := l.resolver().Workcenter(ctx, wcName)
	if err != nil {
		return err
	}
	if !found {
		l.RowErrors().AddReferenceError(row.LineNumber, "operation_id", wcName, "workcenter")
		log.Warn("workcenter not found", zap.String("workcenter", wcName))
		l.stats.Inc("errors_missing_operation")
		l.stats.Inc("qp_skipped")
		return nil
	}

	var productID int64
	if code := row.GetFirst(qualityProductColumns...); code != "" {
		id, found, err := l.resolver().Product(ctx, code)
		if err != nil {
			return err
		}
		if found {
			productID = id
		} else {
			log.Warn("product not found, quality point kept without product", zap.String("default_code", code))
			l.stats.Inc("errors_missing_product")
		}
	}

	checkTypeID, err := l.checkType(ctx, row.GetOrDefault("test_type", defaultCheckType))
	if err != nil {
		return err
	}

	vals := odoo.Values{
		"title":         masterdata.Truncate(title, qualityTitleStored),
		"workcenter_id": workcenterID,
		"check_type_id": checkTypeID,
	}
	if productID > 0 {
		vals["product_tmpl_id"] = productID
	}
	if pass, fail, err := parseThresholds(row.Get("pass_threshold"), row.Get("fail_threshold")); err != nil {
		log.Warn("thresholds dropped", zap.Error(err))
	} else {
		if pass != nil {
			vals["pass_threshold"] = pass.InexactFloat64()
		}
		if fail != nil {
			vals["fail_threshold"] = fail.InexactFloat64()
		}
	}
	if criteria := row.Get("test_criteria"); criteria != "" {
		vals["test_criteria"] = criteria
	}

	domain := odoo.Where("workcenter_id", "=", workcenterID).And("title", "=", vals["title"])
	if productID > 0 {
		domain = odoo.Where("product_tmpl_id", "=", productID).And("workcenter_id", "=", workcenterID)
	}
	id, created, err := l.erp().EnsureRecord(ctx, modelQualityPoint, domain, vals, vals)
	if err != nil {
		var ambiguous *odoo.RecordAmbiguousError
		if errors.As(err, &ambiguous) {
			log.Error("ambiguous quality point", zap.Error(err))
			l.stats.Inc("errors")
			return nil
		}
		return err
	}

	action := audit.ActionUpdated
	if created {
		action = audit.ActionCreated
		l.stats.Inc("qp_created")
	} else {
		l.stats.Inc("qp_updated")
	}
	l.trail.Add(action, modelQualityPoint, id, title, map[string]any{
		"workcenter_id": workcenterID,
		"product_id":    productID,
		"row":           row.LineNumber,
	})
	return nil
}

// checkType returns the quality.check.type named name, creating it if needed
func (l *QualityLoader) checkType(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultCheckType
	}
	if id, ok := l.checkTypes[name]; ok {
		return id, nil
	}
	ids, err := l.erp().Search(ctx, modelQualityCheckType, odoo.Where("name", "=", name), odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		l.checkTypes[name] = ids[0]
		return ids[0], nil
	}
	id, err := l.erp().Create(ctx, modelQualityCheckType, odoo.Values{
		"name":           name,
		"technical_name": masterdata.TechnicalName(name),
	})
	if err != nil {
		return 0, err
	}
	l.checkTypes[name] = id
	l.trail.Add(audit.ActionCreated, modelQualityCheckType, id, name, nil)
	logger.L(ctx).Info("quality check type created", zap.String("name", name), zap.Int64("id", id))
	return id, nil
}

// parseThresholds parses the optional pass and fail thresholds. Both must be
// non-negative and pass must be below fail.
func parseThresholds(rawPass, rawFail string) (pass, fail *decimal.Decimal, err error) {
	parse := func(label, raw string) (*decimal.Decimal, error) {
		if strings.TrimSpace(raw) == "" {
			return nil, nil
		}
		d, err := csvimport.ParseDecimal(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s threshold %q", label, raw)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("%s threshold cannot be negative: %s", label, d)
		}
		return &d, nil
	}
	if pass, err = parse("pass", rawPass); err != nil {
		return nil, nil, err
	}
	if fail, err = parse("fail", rawFail); err != nil {
		return nil, nil, err
	}
	if pass != nil && fail != nil && !pass.LessThan(*fail) {
		return nil, nil, fmt.Errorf("pass threshold %s must be below fail threshold %s", pass, fail)
	}
	return pass, fail, nil
}
