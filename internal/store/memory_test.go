package store_test

import (
	"context"
	"testing"

	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Provider CRUD ───────────────────────────────────────────

func TestPutAndGetProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.ProviderDescriptor{
		ID:       "openai-prod",
		Kind:     "openai",
		Enabled:  true,
		Priority: 100,
		Config:   map[string]interface{}{"api_key": "sk-test"},
	}
	if err := s.PutProvider(ctx, p); err != nil {
		t.Fatalf("PutProvider() error = %v", err)
	}

	got, err := s.GetProvider(ctx, "openai-prod")
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if got.Kind != "openai" {
		t.Errorf("GetProvider().Kind = %q, want %q", got.Kind, "openai")
	}
	if got.Priority != 100 {
		t.Errorf("GetProvider().Priority = %d, want 100", got.Priority)
	}
}

func TestGetProvider_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProvider(context.Background(), "ghost")
	if err == nil {
		t.Fatal("GetProvider() error = nil, want *ErrNotFound")
	}
	if !store.IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestPutProvider_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.ProviderDescriptor{ID: "p", Kind: "openai", Priority: 1}
	if err := s.PutProvider(ctx, p); err != nil {
		t.Fatalf("PutProvider() first call error = %v", err)
	}
	p.Priority = 2
	if err := s.PutProvider(ctx, p); err != nil {
		t.Fatalf("PutProvider() second call error = %v", err)
	}

	got, err := s.GetProvider(ctx, "p")
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if got.Priority != 2 {
		t.Errorf("GetProvider().Priority = %d, want 2", got.Priority)
	}
}

func TestGetProvider_ReturnsIsolatedCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutProvider(ctx, &models.ProviderDescriptor{
		ID:     "p",
		Config: map[string]interface{}{"api_key": "original"},
	}); err != nil {
		t.Fatalf("PutProvider() error = %v", err)
	}

	first, _ := s.GetProvider(ctx, "p")
	first.Config["api_key"] = "mutated"
	first.AvailableModels = append(first.AvailableModels, "injected")

	second, _ := s.GetProvider(ctx, "p")
	if second.Config["api_key"] != "original" {
		t.Errorf("Config[api_key] = %q after caller mutation, want %q", second.Config["api_key"], "original")
	}
	if len(second.AvailableModels) != 0 {
		t.Errorf("AvailableModels = %v after caller mutation, want empty", second.AvailableModels)
	}
}

func TestListProviders_SortedByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := s.PutProvider(ctx, &models.ProviderDescriptor{ID: id}); err != nil {
			t.Fatalf("PutProvider(%s) error = %v", id, err)
		}
	}

	got, err := s.ListProviders(ctx)
	if err != nil {
		t.Fatalf("ListProviders() error = %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	for i, w := range want {
		if got[i].ID != w {
			t.Errorf("ListProviders()[%d].ID = %q, want %q", i, got[i].ID, w)
		}
	}
}

// ─── Strategy CRUD ───────────────────────────────────────────

func TestPutAndGetStrategy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	strat := &models.FallbackStrategy{
		ID:              "cost-first",
		Name:            "Cost first",
		PrimaryProvider: "cheap",
		FallbackChain:   []string{"mid", "premium"},
		TaskTypeOverrides: map[models.TaskType][]string{
			models.TaskEmbedding: {"embedder"},
		},
		Version: 1,
	}
	if err := s.PutStrategy(ctx, strat); err != nil {
		t.Fatalf("PutStrategy() error = %v", err)
	}

	got, err := s.GetStrategy(ctx, "cost-first")
	if err != nil {
		t.Fatalf("GetStrategy() error = %v", err)
	}
	if got.PrimaryProvider != "cheap" {
		t.Errorf("GetStrategy().PrimaryProvider = %q, want %q", got.PrimaryProvider, "cheap")
	}
	if len(got.FallbackChain) != 2 {
		t.Errorf("len(FallbackChain) = %d, want 2", len(got.FallbackChain))
	}
	if len(got.TaskTypeOverrides[models.TaskEmbedding]) != 1 {
		t.Errorf("TaskTypeOverrides[embedding] = %v, want one entry", got.TaskTypeOverrides[models.TaskEmbedding])
	}
}

func TestGetStrategy_ReturnsIsolatedCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutStrategy(ctx, &models.FallbackStrategy{
		ID:            "strat",
		FallbackChain: []string{"a", "b"},
	}); err != nil {
		t.Fatalf("PutStrategy() error = %v", err)
	}

	first, _ := s.GetStrategy(ctx, "strat")
	first.FallbackChain[0] = "mutated"

	second, _ := s.GetStrategy(ctx, "strat")
	if second.FallbackChain[0] != "a" {
		t.Errorf("FallbackChain[0] = %q after caller mutation, want %q", second.FallbackChain[0], "a")
	}
}

// ─── Policy CRUD ─────────────────────────────────────────────

func TestPutAndGetPolicy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pol := &models.OrganizationPolicy{
		OrgID:            "acme",
		DefaultProvider:  "openai-prod",
		AllowedProviders: []string{"openai-prod", "anthropic-prod"},
	}
	if err := s.PutPolicy(ctx, pol); err != nil {
		t.Fatalf("PutPolicy() error = %v", err)
	}

	got, err := s.GetPolicy(ctx, "acme")
	if err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}
	if got.DefaultProvider != "openai-prod" {
		t.Errorf("GetPolicy().DefaultProvider = %q, want %q", got.DefaultProvider, "openai-prod")
	}
	if len(got.AllowedProviders) != 2 {
		t.Errorf("len(AllowedProviders) = %d, want 2", len(got.AllowedProviders))
	}
}

func TestGetPolicy_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPolicy(context.Background(), "nobody")
	if !store.IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}
