// Package store — in-memory Store implementation.
// Used for tests and local development when DATABASE_URL is not set.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/modelrelay/modelrelay/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
// Records are deep-copied on read and write so concurrent readers never
// observe a partially applied update.
type MemoryStore struct {
	mu         sync.RWMutex
	providers  map[string]*models.ProviderDescriptor // key: id
	strategies map[string]*models.FallbackStrategy   // key: id
	policies   map[string]*models.OrganizationPolicy // key: org_id
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers:  make(map[string]*models.ProviderDescriptor),
		strategies: make(map[string]*models.FallbackStrategy),
		policies:   make(map[string]*models.OrganizationPolicy),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// ── Catalog Store ────────────────────────────────────────────

func (m *MemoryStore) GetProvider(ctx context.Context, id string) (*models.ProviderDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "provider", Key: id}
	}
	return copyProvider(p), nil
}

func (m *MemoryStore) ListProviders(ctx context.Context) ([]models.ProviderDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ProviderDescriptor, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, *copyProvider(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) PutProvider(ctx context.Context, p *models.ProviderDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers[p.ID] = copyProvider(p)
	return nil
}

// ── Strategy Store ───────────────────────────────────────────

func (m *MemoryStore) GetStrategy(ctx context.Context, id string) (*models.FallbackStrategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.strategies[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "strategy", Key: id}
	}
	return copyStrategy(s), nil
}

func (m *MemoryStore) ListStrategies(ctx context.Context) ([]models.FallbackStrategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.FallbackStrategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		out = append(out, *copyStrategy(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) PutStrategy(ctx context.Context, s *models.FallbackStrategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.strategies[s.ID] = copyStrategy(s)
	return nil
}

// ── Policy Store ─────────────────────────────────────────────

func (m *MemoryStore) GetPolicy(ctx context.Context, orgID string) (*models.OrganizationPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[orgID]
	if !ok {
		return nil, &ErrNotFound{Entity: "policy", Key: orgID}
	}
	return copyPolicy(p), nil
}

func (m *MemoryStore) PutPolicy(ctx context.Context, p *models.OrganizationPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.policies[p.OrgID] = copyPolicy(p)
	return nil
}

// ── Copy helpers ─────────────────────────────────────────────

func copyProvider(p *models.ProviderDescriptor) *models.ProviderDescriptor {
	cp := *p
	cp.AvailableModels = append([]string(nil), p.AvailableModels...)
	cp.Features = append([]string(nil), p.Features...)
	if p.Config != nil {
		cp.Config = make(map[string]interface{}, len(p.Config))
		for k, v := range p.Config {
			cp.Config[k] = v
		}
	}
	return &cp
}

func copyStrategy(s *models.FallbackStrategy) *models.FallbackStrategy {
	cp := *s
	cp.FallbackChain = append([]string(nil), s.FallbackChain...)
	if s.TaskTypeOverrides != nil {
		cp.TaskTypeOverrides = make(map[models.TaskType][]string, len(s.TaskTypeOverrides))
		for k, v := range s.TaskTypeOverrides {
			cp.TaskTypeOverrides[k] = append([]string(nil), v...)
		}
	}
	if s.Conditions != nil {
		cond := *s.Conditions
		cp.Conditions = &cond
	}
	return &cp
}

func copyPolicy(p *models.OrganizationPolicy) *models.OrganizationPolicy {
	cp := *p
	cp.CustomFallbackChain = append([]string(nil), p.CustomFallbackChain...)
	cp.AllowedProviders = append([]string(nil), p.AllowedProviders...)
	return &cp
}
