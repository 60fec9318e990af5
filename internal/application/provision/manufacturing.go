package provisionapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/erp/provisioner/internal/domain/masterdata"
	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/audit"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"go.uber.org/zap"
)

const (
	modelSequence    = "ir.sequence"
	modelWarehouse   = "stock.warehouse"
	modelPickingType = "stock.picking.type"
	modelCategory    = "product.category"

	moSequenceName = "Manufacturing Order (MO)"
)

// manufacturingPickingTypes are the operation types a manufacturing order
// consumes from and produces into.
var manufacturingPickingTypes = []struct {
	name string
	code string
}{
	{name: "Manufacturing Consumption", code: "incoming"},
	{name: "Manufacturing Production", code: "internal"},
}

// ManufacturingConfigLoader sets up the manufacturing order sequence, the
// manufacturing picking types and per-category tracking.
type ManufacturingConfigLoader struct {
	loaderBase
}

// NewManufacturingConfigLoader creates a ManufacturingConfigLoader
func NewManufacturingConfigLoader(deps Deps) *ManufacturingConfigLoader {
	return &ManufacturingConfigLoader{loaderBase: newLoaderBase("manufacturing_config", deps,
		"sequences_created", "sequences_updated", "picking_types_created", "picking_types_updated",
		"products_tracking_updated", "errors")}
}

// Run applies the manufacturing configuration
func (l *ManufacturingConfigLoader) Run(ctx context.Context) (*provisioning.StepResult, error) {
	companyID, err := firstCompany(ctx, l.erp())
	if err != nil {
		return nil, err
	}

	sequenceID, err := l.ensureSequence(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure MO sequence: %w", err)
	}
	warehouseID, err := l.ensureWarehouse(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure warehouse: %w", err)
	}
	for _, pt := range manufacturingPickingTypes {
		if err := l.ensurePickingType(ctx, companyID, warehouseID, sequenceID, pt.name, pt.code); err != nil {
			if isFatal(err) {
				return nil, err
			}
			logger.L(ctx).Error("failed to ensure picking type", zap.String("name", pt.name), zap.Error(err))
			l.stats.Inc("errors")
		}
	}
	if err := l.applyTracking(ctx); err != nil {
		return nil, err
	}
	return l.finish(ctx, provisioning.StepStatusSucceeded), nil
}

func (l *ManufacturingConfigLoader) ensureSequence(ctx context.Context, companyID int64) (int64, error) {
	mc := l.deps.Config.Manufacturing
	domain := odoo.Where("code", "=", mc.MOSequenceCode).
		AndDomain(odoo.Or(odoo.Where("company_id", "=", companyID), odoo.Where("company_id", "=", false)))
	recs, err := l.erp().SearchRead(ctx, modelSequence, domain, []string{"id", "prefix", "padding"}, odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(recs) > 0 {
		seq := recs[0]
		if seq.String("prefix") != mc.MOSequencePrefix || int(seq.Int("padding")) != mc.MOSequencePadding {
			if _, err := l.erp().Write(ctx, modelSequence, []int64{seq.ID()}, odoo.Values{
				"prefix":  mc.MOSequencePrefix,
				"padding": mc.MOSequencePadding,
			}); err != nil {
				return 0, err
			}
			l.stats.Inc("sequences_updated")
			l.trail.Add(audit.ActionUpdated, modelSequence, seq.ID(), mc.MOSequenceCode,
				map[string]any{"prefix": mc.MOSequencePrefix, "padding": mc.MOSequencePadding})
		}
		return seq.ID(), nil
	}

	id, err := l.erp().Create(ctx, modelSequence, odoo.Values{
		"name":             moSequenceName,
		"code":             mc.MOSequenceCode,
		"prefix":           mc.MOSequencePrefix,
		"padding":          mc.MOSequencePadding,
		"suffix":           "",
		"number_next":      1,
		"number_increment": 1,
		"implementation":   "standard",
		"company_id":       companyID,
	})
	if err != nil {
		return 0, err
	}
	l.stats.Inc("sequences_created")
	l.trail.Add(audit.ActionCreated, modelSequence, id, mc.MOSequenceCode, nil)
	logger.L(ctx).Info("MO sequence created", zap.Int64("id", id), zap.String("prefix", mc.MOSequencePrefix))
	return id, nil
}

// ensureWarehouse returns the first warehouse of the company, creating one
// when it has none.
func (l *ManufacturingConfigLoader) ensureWarehouse(ctx context.Context, companyID int64) (int64, error) {
	ids, err := l.erp().Search(ctx, modelWarehouse, odoo.Where("company_id", "=", companyID), odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		return ids[0], nil
	}
	code := fmt.Sprintf("WH%d", companyID)
	id, err := l.erp().Create(ctx, modelWarehouse, odoo.Values{
		"name":       fmt.Sprintf("Warehouse Company %d", companyID),
		"code":       code,
		"company_id": companyID,
	})
	if err != nil {
		return 0, err
	}
	l.trail.Add(audit.ActionCreated, modelWarehouse, id, code, nil)
	return id, nil
}

// pickingSequenceCode builds MRP_OPERATION-<warehouse>-<first three letters of code>
func pickingSequenceCode(warehouseID int64, code string) string {
	short := strings.ToUpper(masterdata.Truncate(code, 3))
	return fmt.Sprintf("MRP_OPERATION-%d-%s", warehouseID, short)
}

func (l *ManufacturingConfigLoader) ensurePickingType(ctx context.Context, companyID, warehouseID, sequenceID int64, name, code string) error {
	recs, err := l.erp().SearchRead(ctx, modelPickingType,
		odoo.Where("name", "=", name).And("warehouse_id", "=", warehouseID).And("code", "=", code),
		[]string{"id", "sequence_id"}, odoo.SearchOptions{Limit: 1})
	if err != nil {
		return err
	}
	if len(recs) > 0 {
		pt := recs[0]
		if pt.Many2OneID("sequence_id") == 0 {
			if _, err := l.erp().Write(ctx, modelPickingType, []int64{pt.ID()}, odoo.Values{"sequence_id": sequenceID}); err != nil {
				return err
			}
			l.stats.Inc("picking_types_updated")
			l.trail.Add(audit.ActionUpdated, modelPickingType, pt.ID(), name, map[string]any{"sequence_id": sequenceID})
		}
		return nil
	}

	id, err := l.erp().Create(ctx, modelPickingType, odoo.Values{
		"name":          name,
		"code":          code,
		"warehouse_id":  warehouseID,
		"sequence_id":   sequenceID,
		"sequence_code": pickingSequenceCode(warehouseID, code),
		"company_id":    companyID,
	})
	if err != nil {
		return err
	}
	l.stats.Inc("picking_types_created")
	l.trail.Add(audit.ActionCreated, modelPickingType, id, name, map[string]any{"code": code})
	return nil
}

// applyTracking sets the tracking of every template of the configured
// categories. A failing category is logged and counted.
func (l *ManufacturingConfigLoader) applyTracking(ctx context.Context) error {
	log := logger.L(ctx)
	for _, ct := range l.deps.Config.Manufacturing.CategoryTracking {
		tracking := masterdata.Tracking(ct.Tracking)
		if !tracking.IsValid() {
			log.Warn("unknown tracking mode", zap.String("category", ct.Category), zap.String("tracking", ct.Tracking))
			l.stats.Inc("errors")
			continue
		}
		n, err := l.trackCategory(ctx, ct.Category, tracking)
		if err != nil {
			if isFatal(err) {
				return err
			}
			log.Error("failed to set category tracking", zap.String("category", ct.Category), zap.Error(err))
			l.stats.Inc("errors")
			continue
		}
		l.stats.Add("products_tracking_updated", n)
	}
	return nil
}

func (l *ManufacturingConfigLoader) trackCategory(ctx context.Context, category string, tracking masterdata.Tracking) (int, error) {
	cats, err := l.erp().Search(ctx, modelCategory, odoo.Where("name", "=", category), odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(cats) == 0 {
		logger.L(ctx).Warn("product category not found", zap.String("category", category))
		return 0, nil
	}
	total := 0
	written := make(map[int64]bool)
	for {
		ids, err := l.erp().Search(ctx, modelTemplate,
			odoo.Where("categ_id", "=", cats[0]).And("tracking", "!=", string(tracking)),
			odoo.SearchOptions{Limit: l.erp().BatchSize()})
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			break
		}
		if written[ids[0]] {
			return total, fmt.Errorf("tracking %s was not applied to category %s", tracking, category)
		}
		for _, id := range ids {
			written[id] = true
		}
		if _, err := l.erp().Write(ctx, modelTemplate, ids, odoo.Values{"tracking": string(tracking)}); err != nil {
			return total, err
		}
		total += len(ids)
		l.trail.Add(audit.ActionUpdated, modelTemplate, 0, category, map[string]any{"tracking": string(tracking), "templates": len(ids)})
	}
	return total, nil
}
