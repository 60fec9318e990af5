// Package cache provides the lookup cache that maps natural keys of ERP
// records (default codes, partner names, workcenter names) to record ids.
package cache

import (
	"context"
	"time"
)

// Lookup namespaces
const (
	NamespaceProduct    = "product.template"
	NamespaceVariant    = "product.product"
	NamespacePartner    = "res.partner"
	NamespaceWorkcenter = "mrp.workcenter"
)

// DefaultTTL is how long a cached id stays valid
const DefaultTTL = time.Hour

// LookupCache remembers record ids by namespace and key
type LookupCache interface {
	// Get returns the cached id and whether it was found
	Get(ctx context.Context, namespace, key string) (int64, bool, error)
	// Set stores id under namespace and key
	Set(ctx context.Context, namespace, key string, id int64) error
	// Delete forgets a key, e.g. after the record was found missing
	Delete(ctx context.Context, namespace, key string) error
	// Close releases resources
	Close() error
}
