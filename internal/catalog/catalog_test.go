package catalog_test

import (
	"context"
	"testing"

	"github.com/modelrelay/modelrelay/internal/catalog"
	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/pkg/models"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return catalog.New(s)
}

func TestRegister_GeneratesIDAndTimestamps(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	p := &models.ProviderDescriptor{Kind: "openai", Enabled: true}
	if err := c.Register(ctx, p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if p.ID == "" {
		t.Error("Register() left ID empty, want generated id")
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Error("Register() left timestamps zero")
	}

	got, err := c.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Kind != "openai" {
		t.Errorf("Get().Kind = %q, want %q", got.Kind, "openai")
	}
}

func TestRegister_KeepsExplicitID(t *testing.T) {
	c := newTestCatalog(t)

	p := &models.ProviderDescriptor{ID: "openai-prod", Kind: "openai"}
	if err := c.Register(context.Background(), p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if p.ID != "openai-prod" {
		t.Errorf("Register() changed ID to %q, want %q", p.ID, "openai-prod")
	}
}

func TestUpdate_MergesPartialFields(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	p := &models.ProviderDescriptor{
		ID:       "p",
		Kind:     "openai",
		Endpoint: "https://api.openai.com/v1",
		Enabled:  true,
		Priority: 10,
		Config:   map[string]interface{}{"api_key": "sk-old", "region": "us"},
	}
	if err := c.Register(ctx, p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	newPriority := 99
	got, err := c.Update(ctx, "p", models.ProviderUpdate{
		Priority: &newPriority,
		Config:   map[string]interface{}{"api_key": "sk-new"},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if got.Priority != 99 {
		t.Errorf("Priority = %d, want 99", got.Priority)
	}
	// Untouched fields survive.
	if got.Endpoint != "https://api.openai.com/v1" {
		t.Errorf("Endpoint = %q, want unchanged", got.Endpoint)
	}
	if !got.Enabled {
		t.Error("Enabled = false, want unchanged true")
	}
	// Config keys merge rather than replace.
	if got.Config["api_key"] != "sk-new" {
		t.Errorf("Config[api_key] = %q, want %q", got.Config["api_key"], "sk-new")
	}
	if got.Config["region"] != "us" {
		t.Errorf("Config[region] = %q, want %q", got.Config["region"], "us")
	}
}

func TestUpdate_NotFound(t *testing.T) {
	c := newTestCatalog(t)

	_, err := c.Update(context.Background(), "ghost", models.ProviderUpdate{})
	if !store.IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestDisable_KeepsRecord(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if err := c.Register(ctx, &models.ProviderDescriptor{ID: "p", Enabled: true}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := c.Disable(ctx, "p")
	if err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if got.Enabled {
		t.Error("Enabled = true after Disable(), want false")
	}

	// Still retrievable: providers are never deleted.
	if _, err := c.Get(ctx, "p"); err != nil {
		t.Errorf("Get() after Disable() error = %v, want record kept", err)
	}
}

func TestListEnabled_OrdersByPriorityDescending(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	providers := []*models.ProviderDescriptor{
		{ID: "low", Enabled: true, Priority: 1},
		{ID: "high", Enabled: true, Priority: 100},
		{ID: "mid", Enabled: true, Priority: 50},
		{ID: "off", Enabled: false, Priority: 200},
	}
	for _, p := range providers {
		if err := c.Register(ctx, p); err != nil {
			t.Fatalf("Register(%s) error = %v", p.ID, err)
		}
	}

	got, err := c.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled() error = %v", err)
	}
	want := []string{"high", "mid", "low"}
	if len(got) != len(want) {
		t.Fatalf("len(ListEnabled()) = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].ID != w {
			t.Errorf("ListEnabled()[%d].ID = %q, want %q", i, got[i].ID, w)
		}
	}
}

func TestList_IncludesDisabled(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if err := c.Register(ctx, &models.ProviderDescriptor{ID: "on", Enabled: true}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := c.Register(ctx, &models.ProviderDescriptor{ID: "off", Enabled: false}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len(List()) = %d, want 2", len(got))
	}
}
