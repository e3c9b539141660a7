// Package store provides the storage interfaces and implementations for the
// ModelRelay control plane. Routing logic depends only on the interfaces,
// so the in-memory store (tests, local dev) and the PostgreSQL store
// (production) are interchangeable.
package store

import (
	"context"

	"github.com/modelrelay/modelrelay/pkg/models"
)

// Store is the composite storage interface for the control plane.
type Store interface {
	CatalogStore
	StrategyStore
	PolicyStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Catalog Store ────────────────────────────────────────────

// CatalogStore persists provider descriptors. Writes replace the whole
// record; readers never observe a partially updated descriptor.
type CatalogStore interface {
	GetProvider(ctx context.Context, id string) (*models.ProviderDescriptor, error)
	ListProviders(ctx context.Context) ([]models.ProviderDescriptor, error)
	PutProvider(ctx context.Context, p *models.ProviderDescriptor) error
}

// ── Strategy Store ───────────────────────────────────────────

// StrategyStore persists fallback strategies. Strategies are versioned by
// replacing the whole record, never mutated field-by-field.
type StrategyStore interface {
	GetStrategy(ctx context.Context, id string) (*models.FallbackStrategy, error)
	ListStrategies(ctx context.Context) ([]models.FallbackStrategy, error)
	PutStrategy(ctx context.Context, s *models.FallbackStrategy) error
}

// ── Policy Store ─────────────────────────────────────────────

// PolicyStore persists per-organization routing policies.
type PolicyStore interface {
	GetPolicy(ctx context.Context, orgID string) (*models.OrganizationPolicy, error)
	PutPolicy(ctx context.Context, p *models.OrganizationPolicy) error
}

// ── Errors ───────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
