// Package catalog is the registry of provider identities and capability
// metadata. It layers merge-update semantics and ordering on top of the
// storage interface; whole-record swaps in the store keep concurrent
// readers from ever observing a partially applied update.
//
// Providers are never deleted, only disabled.
package catalog

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/pkg/models"
	"github.com/rs/zerolog/log"
)

// Catalog exposes provider descriptors to routing and administration.
type Catalog struct {
	store store.CatalogStore
}

// New creates a catalog over the given store.
func New(s store.CatalogStore) *Catalog {
	return &Catalog{store: s}
}

// Get returns one provider descriptor, or *store.ErrNotFound.
func (c *Catalog) Get(ctx context.Context, providerID string) (*models.ProviderDescriptor, error) {
	return c.store.GetProvider(ctx, providerID)
}

// List returns all descriptors, enabled or not, ordered by priority
// descending with a stable ID tiebreak.
func (c *Catalog) List(ctx context.Context) ([]models.ProviderDescriptor, error) {
	providers, err := c.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	sortByPriority(providers)
	return providers, nil
}

// ListEnabled returns enabled descriptors ordered by priority descending.
func (c *Catalog) ListEnabled(ctx context.Context) ([]models.ProviderDescriptor, error) {
	providers, err := c.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	enabled := providers[:0]
	for _, p := range providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	sortByPriority(enabled)
	return enabled, nil
}

// Register adds a new provider descriptor. A missing ID is generated.
func (c *Catalog) Register(ctx context.Context, p *models.ProviderDescriptor) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := c.store.PutProvider(ctx, p); err != nil {
		return err
	}
	log.Info().Str("provider", p.ID).Str("kind", p.Kind).Msg("Provider registered")
	return nil
}

// Update merges the partial update into the stored descriptor and swaps the
// whole record. Nil fields are left untouched; Config keys are merged.
// No business validation happens here beyond type correctness — that
// belongs to the administrative caller.
func (c *Catalog) Update(ctx context.Context, providerID string, upd models.ProviderUpdate) (*models.ProviderDescriptor, error) {
	p, err := c.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	if upd.DisplayName != nil {
		p.DisplayName = *upd.DisplayName
	}
	if upd.Kind != nil {
		p.Kind = *upd.Kind
	}
	if upd.Endpoint != nil {
		p.Endpoint = *upd.Endpoint
	}
	if upd.Config != nil {
		if p.Config == nil {
			p.Config = map[string]interface{}{}
		}
		for k, v := range upd.Config {
			p.Config[k] = v
		}
	}
	if upd.Enabled != nil {
		p.Enabled = *upd.Enabled
	}
	if upd.Priority != nil {
		p.Priority = *upd.Priority
	}
	if upd.CostTier != nil {
		p.CostTier = *upd.CostTier
	}
	if upd.AvailableModels != nil {
		p.AvailableModels = upd.AvailableModels
	}
	if upd.Features != nil {
		p.Features = upd.Features
	}
	if upd.RateLimits != nil {
		p.RateLimits = *upd.RateLimits
	}
	p.UpdatedAt = time.Now().UTC()

	if err := c.store.PutProvider(ctx, p); err != nil {
		return nil, err
	}
	log.Info().Str("provider", providerID).Msg("Provider updated")
	return p, nil
}

// Disable marks a provider unavailable for routing without deleting it.
func (c *Catalog) Disable(ctx context.Context, providerID string) (*models.ProviderDescriptor, error) {
	off := false
	return c.Update(ctx, providerID, models.ProviderUpdate{Enabled: &off})
}

func sortByPriority(providers []models.ProviderDescriptor) {
	sort.SliceStable(providers, func(i, j int) bool {
		if providers[i].Priority != providers[j].Priority {
			return providers[i].Priority > providers[j].Priority
		}
		return providers[i].ID < providers[j].ID
	})
}
