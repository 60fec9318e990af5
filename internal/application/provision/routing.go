package provisionapp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

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

// Routing input files
const (
	WorkcenterCSV = "routing_data/workcenter.csv"
	OperationsCSV = "routing_data/operations.csv"
)

const (
	modelCompany    = "res.company"
	modelWorkcenter = "mrp.workcenter"
	modelRouting    = "mrp.routing"
	modelOperation  = "mrp.routing.workcenter"

	operationNameMax    = 64
	workcenterCodeMax   = 20
	minRoutingCapacity  = 5.0
	unsetSequence       = 999
	defaultBlockingMode = "no"
)

var maxWorkcenterCapacity = decimal.NewFromInt(1000)

// ErrNoCompany is returned when the ERP has no company
var ErrNoCompany = errors.New("no company found in ERP")

// ErrNoWorkcenter is returned when no fallback workcenter exists
var ErrNoWorkcenter = errors.New("no workcenter found for company")

// ErrProductsNotFound is returned when none of the routed products exists
var ErrProductsNotFound = errors.New("routed products not found")

// RoutingLoader creates the workcenters and links the routing operations of
// every head product that has a BOM.
type RoutingLoader struct {
	loaderBase
	companyID   int64
	workcenters map[string]workcenterRef
}

type workcenterRef struct {
	id       int64
	capacity float64
}

type operationSpec struct {
	line         int
	name         string
	sequence     int
	workcenter   string
	blocking     string
	timeCycle    float64
	hasTimeCycle bool
}

// NewRoutingLoader creates a RoutingLoader
func NewRoutingLoader(deps Deps) *RoutingLoader {
	return &RoutingLoader{
		loaderBase: newLoaderBase("routing", deps,
			"workcenters_created", "workcenters_updated", "routings_created", "routings_updated",
			"operations_created", "operations_updated", "validation_errors"),
		workcenters: make(map[string]workcenterRef),
	}
}

// Run builds workcenters, routings and operations
func (l *RoutingLoader) Run(ctx context.Context) (*provisioning.StepResult, error) {
	var err error
	if l.companyID, err = firstCompany(ctx, l.erp()); err != nil {
		return nil, err
	}

	codes := l.deps.Config.Manufacturing.ProductCodes
	products, err := l.resolver().PrefetchCodes(ctx, cache.NamespaceProduct, modelTemplate, codes)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrProductsNotFound, codes)
	}

	if err := l.loadWorkcenters(ctx); err != nil {
		return nil, err
	}
	ops, err := l.readOperations(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.L(ctx)
	for _, code := range codes {
		productID, ok := products[code]
		if !ok {
			log.Warn("routed product not found", zap.String("product_code", code))
			continue
		}
		if err := l.routeProduct(ctx, code, productID, ops); err != nil {
			if isFatal(err) || errors.Is(err, ErrNoWorkcenter) {
				return nil, err
			}
			log.Error("failed to route product", zap.String("product_code", code), zap.Error(err))
			l.stats.Inc("validation_errors")
		}
	}
	return l.finish(ctx, provisioning.StepStatusSucceeded), nil
}

// firstCompany returns the id of the first res.company
func firstCompany(ctx context.Context, erp ERP) (int64, error) {
	ids, err := erp.Search(ctx, modelCompany, nil, odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, ErrNoCompany
	}
	return ids[0], nil
}

func (l *RoutingLoader) loadWorkcenters(ctx context.Context) error {
	path := l.dataPath(WorkcenterCSV)
	if _, ok := csvimport.FirstExisting(path); !ok {
		logger.L(ctx).Warn("workcenter file missing, using configured workcenters", zap.String("path", path))
		for _, wc := range l.deps.Config.Manufacturing.Workcenters {
			vals := odoo.Values{
				"name":            wc.Name,
				"code":            wc.Code,
				"capacity":        wc.Capacity,
				"time_efficiency": wc.Efficiency,
				"company_id":      l.companyID,
			}
			if wc.CostPerHour > 0 {
				vals["costs_hour"] = wc.CostPerHour
			}
			if err := l.ensureWorkcenter(ctx, wc.Name, wc.Code, wc.Capacity, vals); err != nil {
				return err
			}
		}
		return nil
	}

	table, err := csvimport.LoadFile(path, csvimport.WithAutoDelimiter())
	if err != nil {
		return fmt.Errorf("failed to read workcenter file: %w", err)
	}
	for _, row := range table.Rows {
		name := row.Get("name")
		if name == "" {
			l.RowErrors().AddRequiredError(row.LineNumber, "name")
			continue
		}
		cost, errCost := csvimport.ParseDecimal(row.GetOrDefault("cost_per_hour", "0"))
		capacity, errCap := csvimport.ParseDecimal(row.GetOrDefault("capacity", "1"))
		efficiency, errEff := csvimport.ParseDecimal(row.GetOrDefault("time_efficiency", "1"))
		if errCost != nil || errCap != nil || errEff != nil {
			l.rowError(ctx, row.LineNumber, "", csvimport.ErrCodeInvalidType, "workcenter numbers do not parse", name)
			continue
		}
		if !capacity.IsPositive() || capacity.GreaterThan(maxWorkcenterCapacity) {
			l.rowError(ctx, row.LineNumber, "capacity", csvimport.ErrCodeInvalidRange, "capacity must be in (0, 1000]", capacity.String())
			continue
		}
		code := masterdata.Truncate(row.Get("code"), workcenterCodeMax)
		vals := odoo.Values{
			"name":            name,
			"code":            code,
			"costs_hour":      cost.InexactFloat64(),
			"capacity":        capacity.InexactFloat64(),
			"time_efficiency": efficiency.InexactFloat64(),
			"blocking":        row.GetOrDefault("blocking", defaultBlockingMode),
			"company_id":      l.companyID,
		}
		if err := l.ensureWorkcenter(ctx, name, code, capacity.InexactFloat64(), vals); err != nil {
			if isFatal(err) {
				return err
			}
			l.remoteError(ctx, row.LineNumber, err)
		}
	}
	return nil
}

func (l *RoutingLoader) ensureWorkcenter(ctx context.Context, name, code string, capacity float64, vals odoo.Values) error {
	id, created, err := l.erp().EnsureRecord(ctx, modelWorkcenter,
		odoo.Where("name", "=", name).And("company_id", "=", l.companyID), vals, vals)
	if err != nil {
		return err
	}
	ref := workcenterRef{id: id, capacity: capacity}
	l.workcenters[name] = ref
	if code != "" {
		l.workcenters[code] = ref
	}
	l.resolver().Remember(ctx, cache.NamespaceWorkcenter, name, id)
	action := audit.ActionUpdated
	if created {
		action = audit.ActionCreated
		l.stats.Inc("workcenters_created")
	} else {
		l.stats.Inc("workcenters_updated")
	}
	l.trail.Add(action, modelWorkcenter, id, name, map[string]any{"capacity": capacity})
	return nil
}

func (l *RoutingLoader) readOperations(ctx context.Context) ([]operationSpec, error) {
	path := l.dataPath(OperationsCSV)
	if _, ok := csvimport.FirstExisting(path); !ok {
		logger.L(ctx).Warn("operations file missing", zap.String("path", path))
		return nil, nil
	}
	table, err := csvimport.LoadFile(path, csvimport.WithAutoDelimiter())
	if err != nil {
		return nil, fmt.Errorf("failed to read operations file: %w", err)
	}
	ops := make([]operationSpec, 0, len(table.Rows))
	for _, row := range table.Rows {
		name := row.Get("name")
		if name == "" {
			l.RowErrors().AddRequiredError(row.LineNumber, "name")
			continue
		}
		op := operationSpec{
			line:       row.LineNumber,
			name:       masterdata.Truncate(name, operationNameMax),
			sequence:   unsetSequence,
			workcenter: row.Get("workcenter_name"),
			blocking:   row.GetOrDefault("blocking", defaultBlockingMode),
		}
		if raw := row.Get("sequence"); raw != "" {
			seq, err := strconv.Atoi(raw)
			if err != nil {
				l.rowError(ctx, row.LineNumber, "sequence", csvimport.ErrCodeInvalidType, "sequence is not an integer", raw)
				continue
			}
			op.sequence = seq
		}
		if raw := row.Get("time_cycle_manual"); raw != "" {
			if tc, err := csvimport.ParseDecimal(raw); err == nil {
				op.timeCycle, op.hasTimeCycle = tc.InexactFloat64(), tc.IsPositive()
			} else {
				logger.L(ctx).Warn("invalid time_cycle_manual ignored", zap.Int("row", row.LineNumber), zap.String("value", raw))
			}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// fallbackWorkcenter is the first configured fallback present, else any
// workcenter of the company.
func (l *RoutingLoader) fallbackWorkcenter(ctx context.Context) (workcenterRef, error) {
	for _, key := range l.deps.Config.Manufacturing.FallbackWorkcenters {
		if ref, ok := l.workcenters[key]; ok {
			return ref, nil
		}
	}
	recs, err := l.erp().SearchRead(ctx, modelWorkcenter, odoo.Where("company_id", "=", l.companyID),
		[]string{"id", "capacity"}, odoo.SearchOptions{Limit: 1})
	if err != nil {
		return workcenterRef{}, err
	}
	if len(recs) == 0 {
		return workcenterRef{}, ErrNoWorkcenter
	}
	return workcenterRef{id: recs[0].ID(), capacity: recs[0].Float("capacity")}, nil
}

func (l *RoutingLoader) routeProduct(ctx context.Context, code string, productID int64, ops []operationSpec) error {
	log := logger.L(ctx).With(zap.String("product_code", code))
	boms, err := l.erp().Search(ctx, modelBOM, odoo.Where("product_tmpl_id", "=", productID), odoo.SearchOptions{Limit: 1})
	if err != nil {
		return err
	}
	if len(boms) == 0 {
		log.Warn("no BOM for product, routing skipped")
		return nil
	}
	routingID, err := l.ensureRouting(ctx, boms[0])
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	var fallback *workcenterRef
	planned := make([]plannedOperation, 0, len(ops))
	for _, op := range ops {
		ref, ok := l.workcenters[op.workcenter]
		if !ok {
			if fallback == nil {
				fb, err := l.fallbackWorkcenter(ctx)
				if err != nil {
					return err
				}
				fallback = &fb
			}
			log.Warn("operation workcenter unknown, using fallback",
				zap.String("operation", op.name), zap.String("workcenter", op.workcenter))
			ref = *fallback
		}
		vals := odoo.Values{
			"name":          op.name,
			"routing_id":    routingID,
			"workcenter_id": ref.id,
			"sequence":      op.sequence,
			"blocking":      op.blocking,
			"company_id":    l.companyID,
		}
		if op.hasTimeCycle {
			vals["time_cycle_manual"] = op.timeCycle
		}
		id, created, err := l.erp().EnsureRecord(ctx, modelOperation,
			odoo.Where("routing_id", "=", routingID).And("sequence", "=", op.sequence).And("name", "=", op.name),
			vals, vals)
		if err != nil {
			if isFatal(err) {
				return err
			}
			log.Error("failed to ensure operation", zap.String("operation", op.name), zap.Error(err))
			l.stats.Inc("validation_errors")
			continue
		}
		action := audit.ActionUpdated
		if created {
			action = audit.ActionCreated
			l.stats.Inc("operations_created")
		} else {
			l.stats.Inc("operations_updated")
		}
		l.trail.Add(action, modelOperation, id, op.name, map[string]any{"sequence": op.sequence, "routing_id": routingID})
		planned = append(planned, plannedOperation{name: op.name, sequence: op.sequence, workcenterID: ref.id, capacity: ref.capacity})
	}

	for _, problem := range checkRoutingCompleteness(planned) {
		log.Warn("routing incomplete", zap.Int64("routing_id", routingID), zap.String("problem", problem))
		l.stats.Inc("validation_errors")
	}
	return nil
}

func (l *RoutingLoader) ensureRouting(ctx context.Context, bomID int64) (int64, error) {
	ids, err := l.erp().Search(ctx, modelRouting, odoo.Where("bom_id", "=", bomID), odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		l.stats.Inc("routings_updated")
		return ids[0], nil
	}
	id, err := l.erp().Create(ctx, modelRouting, odoo.Values{
		"name":       fmt.Sprintf("Routing for BoM %d", bomID),
		"bom_id":     bomID,
		"company_id": l.companyID,
	})
	if err != nil {
		return 0, err
	}
	l.stats.Inc("routings_created")
	l.trail.Add(audit.ActionCreated, modelRouting, id, strconv.FormatInt(bomID, 10), map[string]any{"bom_id": bomID})
	return id, nil
}

// maxReportedSequences caps the sequences listed for one routing
const maxReportedSequences = 10

type plannedOperation struct {
	name         string
	sequence     int
	workcenterID int64
	capacity     float64
}

// checkRoutingCompleteness lists the problems of a routing. Sequences must
// advance by a constant step (the smallest gap between them), every operation
// needs a workcenter and every workcenter the minimum capacity.
func checkRoutingCompleteness(ops []plannedOperation) []string {
	var problems []string
	if len(ops) == 0 {
		return nil
	}

	present := make(map[int]bool, len(ops))
	seqs := make([]int, 0, len(ops))
	for _, op := range ops {
		if !present[op.sequence] {
			present[op.sequence] = true
			seqs = append(seqs, op.sequence)
		}
	}
	sort.Ints(seqs)

	// differences are taken in uint64 so sequences at the ends of the int
	// range cannot overflow
	var step uint64
	for i := 1; i < len(seqs); i++ {
		if d := uint64(seqs[i]) - uint64(seqs[i-1]); step == 0 || d < step {
			step = d
		}
	}
	var (
		missing []int
		more    uint64
	)
	for i := 1; step > 0 && i < len(seqs); i++ {
		gap := (uint64(seqs[i]) - uint64(seqs[i-1]) - 1) / step
		for k := uint64(1); k <= gap; k++ {
			if len(missing) == maxReportedSequences {
				more += gap - k + 1
				break
			}
			missing = append(missing, int(uint64(seqs[i-1])+k*step))
		}
	}
	if len(missing) > 0 {
		problem := fmt.Sprintf("missing operation sequences: %v", missing)
		if more > 0 {
			problem += fmt.Sprintf(" and %d more", more)
		}
		problems = append(problems, problem)
	}

	for _, op := range ops {
		if op.workcenterID <= 0 {
			problems = append(problems, fmt.Sprintf("operation %s: no workcenter assigned", op.name))
		}
	}
	for _, op := range ops {
		if op.capacity < minRoutingCapacity {
			problems = append(problems, fmt.Sprintf("operation %s: capacity %.0f below %.0f", op.name, op.capacity, minRoutingCapacity))
		}
	}
	return problems
}
