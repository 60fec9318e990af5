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
	"go.uber.org/zap"
)

// StorageLocationsCSV lists additional storage places below the value stream
const StorageLocationsCSV = "data_normalized/Lagerplätze.csv"

const (
	modelLocation   = "stock.location"
	modelOrderpoint = "stock.warehouse.orderpoint"
	modelRoute      = "stock.route"

	barcodeMax          = 20
	kanbanProductsLimit = 3
	kanbanMinQty        = 1.0
	kanbanMaxQty        = 3.0
)

// valueStreamLocations are created parents first
var valueStreamLocations = []string{
	"WH",
	"WH/Stock", "WH/PROD", "WH/Puffer", "WH/Versand",
	"WH/FlowRack",
	"WH/FlowRack/FIFO-Lane-1", "WH/FlowRack/FIFO-Lane-2",
	"WH/FlowRack/FIFO-Lane-3", "WH/FlowRack/FIFO-Lane-4",
	"WH/Receipt", "WH/Quality-In", "WH/Quality-Out", "WH/Scrap",
}

// kanbanLocations get min/max orderpoints
var kanbanLocations = []string{
	"WH/FlowRack",
	"WH/FlowRack/FIFO-Lane-1", "WH/FlowRack/FIFO-Lane-2",
	"WH/FlowRack/FIFO-Lane-3", "WH/FlowRack/FIFO-Lane-4",
}

// StockStructureLoader creates the value-stream locations and the kanban
// replenishment of the flow rack.
type StockStructureLoader struct {
	loaderBase
	companyID int64
	locations map[string]int64
}

// NewStockStructureLoader creates a StockStructureLoader
func NewStockStructureLoader(deps Deps) *StockStructureLoader {
	return &StockStructureLoader{
		loaderBase: newLoaderBase("stock_structure", deps,
			"locations_created", "locations_existing", "orderpoints_created", "orderpoints_existing", "errors"),
		locations: make(map[string]int64),
	}
}

// Run creates the locations and orderpoints
func (l *StockStructureLoader) Run(ctx context.Context) (*provisioning.StepResult, error) {
	var err error
	if l.companyID, err = firstCompany(ctx, l.erp()); err != nil {
		return nil, err
	}

	for _, path := range valueStreamLocations {
		if _, err := l.ensureLocation(ctx, path, parentPath(path), locationUsage(path), locationBarcode(path)); err != nil {
			return nil, fmt.Errorf("failed to ensure location %s: %w", path, err)
		}
	}
	if err := l.loadStorageLocations(ctx); err != nil {
		return nil, err
	}
	if err := l.setupKanban(ctx); err != nil {
		return nil, err
	}
	return l.finish(ctx, provisioning.StepStatusSucceeded), nil
}

// parentPath returns the path without its last segment, "" for a root
func parentPath(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// locationUsage is customer for shipping, inventory for scrap, internal otherwise
func locationUsage(path string) string {
	switch {
	case strings.Contains(path, "Versand"):
		return "customer"
	case strings.Contains(path, "Scrap"):
		return "inventory"
	}
	return "internal"
}

// locationBarcode builds LOC-<path with dashes> cut to 20 characters
func locationBarcode(path string) string {
	return masterdata.Truncate("LOC-"+strings.ReplaceAll(path, "/", "-"), barcodeMax)
}

// ensureLocation searches a location by complete name and company and
// creates it when missing. Existing locations are left as they are.
func (l *StockStructureLoader) ensureLocation(ctx context.Context, path, parent, usage, barcode string) (int64, error) {
	if id, ok := l.locations[path]; ok {
		return id, nil
	}
	ids, err := l.erp().Search(ctx, modelLocation,
		odoo.Where("complete_name", "=", path).And("company_id", "=", l.companyID), odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		l.locations[path] = ids[0]
		l.stats.Inc("locations_existing")
		return ids[0], nil
	}

	name := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		name = path[i+1:]
	}
	vals := odoo.Values{
		"name":          name,
		"complete_name": path,
		"usage":         usage,
		"company_id":    l.companyID,
		"barcode":       barcode,
	}
	if parentID, ok := l.locations[parent]; ok {
		vals["location_id"] = parentID
	}
	id, err := l.erp().Create(ctx, modelLocation, vals)
	if err != nil {
		return 0, err
	}
	l.locations[path] = id
	l.stats.Inc("locations_created")
	l.trail.Add(audit.ActionCreated, modelLocation, id, path, map[string]any{"usage": usage})
	logger.L(ctx).Debug("location created", zap.String("path", path), zap.Int64("id", id))
	return id, nil
}

// loadStorageLocations adds the optional storage places file
func (l *StockStructureLoader) loadStorageLocations(ctx context.Context) error {
	path := l.dataPath(StorageLocationsCSV)
	if _, ok := csvimport.FirstExisting(path); !ok {
		return nil
	}
	table, err := csvimport.LoadFile(path, csvimport.WithDelimiter(';'))
	if err != nil {
		if errors.Is(err, csvimport.ErrEmptyFile) {
			return nil
		}
		return fmt.Errorf("failed to read storage locations: %w", err)
	}
	for _, row := range table.Rows {
		name := row.Get("name")
		if name == "" {
			continue
		}
		if _, known := l.locations[name]; known {
			continue
		}
		usage := row.GetOrDefault("usage", "internal")
		barcode := row.GetOrDefault("barcode", masterdata.Truncate("LOC-"+name, barcodeMax))
		if _, err := l.ensureLocation(ctx, name, row.Get("parent_name"), usage, barcode); err != nil {
			if isFatal(err) {
				return err
			}
			l.stats.Inc("errors")
			l.remoteError(ctx, row.LineNumber, err)
		}
	}
	return nil
}

// setupKanban gives every flow rack location a min/max orderpoint for the
// first storable products, using the Buy route when it exists.
func (l *StockStructureLoader) setupKanban(ctx context.Context) error {
	routes, err := l.erp().Search(ctx, modelRoute, odoo.Where("name", "ilike", "Buy"), odoo.SearchOptions{Limit: 1})
	if err != nil {
		return err
	}
	products, err := l.erp().Search(ctx, modelVariant, odoo.Where("type", "=", "product"), odoo.SearchOptions{Limit: kanbanProductsLimit})
	if err != nil {
		return err
	}
	if len(products) == 0 {
		logger.L(ctx).Warn("no storable products, kanban orderpoints skipped")
		return nil
	}

	for _, path := range kanbanLocations {
		locationID, ok := l.locations[path]
		if !ok {
			continue
		}
		for _, productID := range products {
			vals := odoo.Values{
				"product_id":      productID,
				"location_id":     locationID,
				"product_min_qty": kanbanMinQty,
				"product_max_qty": kanbanMaxQty,
			}
			if len(routes) > 0 {
				vals["route_id"] = routes[0]
			}
			id, created, err := l.erp().EnsureRecord(ctx, modelOrderpoint,
				odoo.Where("product_id", "=", productID).And("location_id", "=", locationID), vals, nil)
			if err != nil {
				if isFatal(err) {
					return err
				}
				logger.L(ctx).Error("failed to ensure orderpoint",
					zap.String("location", path), zap.Int64("product_id", productID), zap.Error(err))
				l.stats.Inc("errors")
				continue
			}
			if created {
				l.stats.Inc("orderpoints_created")
				l.trail.Add(audit.ActionCreated, modelOrderpoint, id, path, map[string]any{"product_id": productID})
			} else {
				l.stats.Inc("orderpoints_existing")
			}
		}
	}
	return nil
}
