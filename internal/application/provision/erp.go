// Package provisionapp automates the master-data runbook: one loader per
// runbook step, run in dependency order against the ERP.
package provisionapp

import (
	"context"
	"errors"

	"github.com/erp/provisioner/internal/infrastructure/cache"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"go.uber.org/zap"
)

// ERP is the part of the RPC client the loaders use
type ERP interface {
	Search(ctx context.Context, model string, domain odoo.Domain, opts odoo.SearchOptions) ([]int64, error)
	SearchRead(ctx context.Context, model string, domain odoo.Domain, fields []string, opts odoo.SearchOptions) ([]odoo.Record, error)
	SearchCount(ctx context.Context, model string, domain odoo.Domain) (int, error)
	Read(ctx context.Context, model string, ids []int64, fields []string) ([]odoo.Record, error)
	Create(ctx context.Context, model string, values odoo.Values) (int64, error)
	CreateBatch(ctx context.Context, model string, values []odoo.Values) ([]int64, error)
	Write(ctx context.Context, model string, ids []int64, values odoo.Values) (bool, error)
	Unlink(ctx context.Context, model string, ids []int64) (bool, error)
	Call(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error)
	FindOne(ctx context.Context, model string, domain odoo.Domain) (int64, error)
	EnsureRecord(ctx context.Context, model string, domain odoo.Domain, createVals, updateVals odoo.Values) (int64, bool, error)
	BatchSize() int
}

var _ ERP = (*odoo.Client)(nil)

// isFatal reports whether err ends the step instead of the row: the ERP is
// unreachable, rejected the credentials, or the run was cancelled.
func isFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var exhausted *odoo.RetryExhaustedError
	var auth *odoo.AuthenticationError
	return errors.As(err, &exhausted) || errors.As(err, &auth)
}

// Resolver turns natural keys into record ids, the way the ERP's own CSV
// import resolves foreign keys. Hits are kept in the lookup cache.
type Resolver struct {
	erp   ERP
	cache cache.LookupCache
}

// NewResolver creates a Resolver. A nil cache means an in-memory one.
func NewResolver(erp ERP, c cache.LookupCache) *Resolver {
	if c == nil {
		c = cache.NewInMemoryLookupCache(cache.DefaultTTL)
	}
	return &Resolver{erp: erp, cache: c}
}

// Product resolves a product template by default_code
func (r *Resolver) Product(ctx context.Context, code string) (int64, bool, error) {
	return r.lookup(ctx, cache.NamespaceProduct, code, "product.template", odoo.Where("default_code", "=", code))
}

// Variant resolves a product variant by default_code
func (r *Resolver) Variant(ctx context.Context, code string) (int64, bool, error) {
	return r.lookup(ctx, cache.NamespaceVariant, code, "product.product", odoo.Where("default_code", "=", code))
}

// Supplier resolves a partner with a supplier rank by exact name
func (r *Resolver) Supplier(ctx context.Context, name string) (int64, bool, error) {
	return r.lookup(ctx, cache.NamespacePartner, name, "res.partner",
		odoo.Where("name", "=", name).And("supplier_rank", ">", 0))
}

// Workcenter resolves a workcenter by exact name
func (r *Resolver) Workcenter(ctx context.Context, name string) (int64, bool, error) {
	return r.lookup(ctx, cache.NamespaceWorkcenter, name, "mrp.workcenter", odoo.Where("name", "=", name))
}

// Remember stores an id the caller just created or found
func (r *Resolver) Remember(ctx context.Context, namespace, key string, id int64) {
	if key == "" || id <= 0 {
		return
	}
	if err := r.cache.Set(ctx, namespace, key, id); err != nil {
		logger.L(ctx).Warn("lookup cache write failed",
			zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
	}
}

// Forget drops a key whose record changed its natural key
func (r *Resolver) Forget(ctx context.Context, namespace, key string) {
	if err := r.cache.Delete(ctx, namespace, key); err != nil {
		logger.L(ctx).Warn("lookup cache delete failed",
			zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
	}
}

// PrefetchCodes resolves many default codes of model with one search_read
// per batch and caches every hit. The first record wins for a code.
func (r *Resolver) PrefetchCodes(ctx context.Context, namespace, model string, codes []string) (map[string]int64, error) {
	out := make(map[string]int64, len(codes))
	var pending []string
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		if id, ok, err := r.cache.Get(ctx, namespace, code); err == nil && ok {
			out[code] = id
			continue
		}
		pending = append(pending, code)
	}

	batch := r.erp.BatchSize()
	if batch <= 0 {
		batch = len(pending)
	}
	for start := 0; start < len(pending); start += batch {
		end := start + batch
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]
		recs, err := r.erp.SearchRead(ctx, model, odoo.Where("default_code", "in", chunk),
			[]string{"id", "default_code"}, odoo.SearchOptions{Limit: batch})
		if err != nil {
			return out, err
		}
		for _, rec := range recs {
			code := rec.String("default_code")
			if _, dup := out[code]; dup || code == "" {
				continue
			}
			out[code] = rec.ID()
			r.Remember(ctx, namespace, code, rec.ID())
		}
	}
	return out, nil
}

func (r *Resolver) lookup(ctx context.Context, namespace, key, model string, domain odoo.Domain) (int64, bool, error) {
	if key == "" {
		return 0, false, nil
	}
	id, ok, err := r.cache.Get(ctx, namespace, key)
	if err != nil {
		logger.L(ctx).Warn("lookup cache read failed",
			zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
	} else if ok {
		return id, true, nil
	}

	ids, err := r.erp.Search(ctx, model, domain, odoo.SearchOptions{Limit: 1})
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	r.Remember(ctx, namespace, key, ids[0])
	return ids[0], true, nil
}
