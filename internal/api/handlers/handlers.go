// Package handlers implements the HTTP handlers for the ModelRelay routing
// service: the route and route/stream entry points, the provider, strategy,
// and policy administration surface, and the breaker and status views.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/modelrelay/modelrelay/internal/api/middleware"
	"github.com/modelrelay/modelrelay/internal/breaker"
	"github.com/modelrelay/modelrelay/internal/catalog"
	"github.com/modelrelay/modelrelay/internal/engine"
	"github.com/modelrelay/modelrelay/internal/gateway"
	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/pkg/models"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Catalog  *catalog.Catalog
	Gateway  *gateway.Gateway
	Breakers *breaker.Manager
	Version  string
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, cat *catalog.Catalog, gw *gateway.Gateway, brk *breaker.Manager, version string) *Handlers {
	return &Handlers{
		Store:    s,
		Catalog:  cat,
		Gateway:  gw,
		Breakers: brk,
		Version:  version,
	}
}

// ── Routing Handlers ─────────────────────────────────────────

// RouteRequest is the request body for the route endpoints. OrgID defaults
// to the tenant extracted from the request when omitted.
type RouteRequest struct {
	OrgID string `json:"org_id,omitempty"`
	models.InvokeRequest
}

// Route routes a request through the fallback chain and returns the full
// result, attempt trail included.
// POST /api/v1/route
func (h *Handlers) Route(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OrgID == "" {
		req.OrgID = middleware.GetOrgID(r.Context())
	}
	if req.TaskType != "" {
		// Unknown task types collapse to "other" rather than erroring, so
		// new client task names degrade to the default chain.
		req.TaskType = models.ParseTaskType(string(req.TaskType))
	}

	result, err := h.Gateway.RouteAndExecute(r.Context(), req.OrgID, &req.InvokeRequest)
	if err != nil {
		respondRoutingError(w, result, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RouteStream routes a request with Server-Sent Events streaming.
// POST /api/v1/route/stream
func (h *Handlers) RouteStream(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OrgID == "" {
		req.OrgID = middleware.GetOrgID(r.Context())
	}
	if req.TaskType != "" {
		req.TaskType = models.ParseTaskType(string(req.TaskType))
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_, err := h.Gateway.RouteAndExecuteStream(r.Context(), req.OrgID, &req.InvokeRequest, func(chunk *models.StreamChunk) error {
		data, _ := json.Marshal(chunk)
		_, writeErr := fmt.Fprintf(w, "data: %s\n\n", data)
		if writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})

	if err != nil {
		errChunk, _ := json.Marshal(models.StreamChunk{Error: err.Error(), Done: true})
		fmt.Fprintf(w, "data: %s\n\n", errChunk)
		flusher.Flush()
	}
}

// respondRoutingError maps the three terminal failure shapes to HTTP
// statuses, keeping the attempt trail in the body for diagnosis.
func respondRoutingError(w http.ResponseWriter, result *models.FallbackResult, err error) {
	status := http.StatusInternalServerError

	var fatalErr *engine.FatalError
	var allFailed *engine.AllProvidersFailedError
	var canceled *engine.CanceledError
	switch {
	case errors.As(err, &fatalErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &allFailed):
		status = http.StatusBadGateway
	case errors.As(err, &canceled):
		status = http.StatusGatewayTimeout
	}

	body := map[string]interface{}{"error": err.Error()}
	if result != nil {
		body["attempts"] = result.Attempts
		body["canceled"] = result.Canceled
	}
	respondJSON(w, status, body)
}

// ── Provider Handlers ────────────────────────────────────────

// ListProviders returns all registered providers, priority order, with
// credentials masked.
// GET /api/v1/providers
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.Catalog.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	masked := make([]*models.ProviderDescriptor, 0, len(providers))
	for i := range providers {
		masked = append(masked, maskProviderKeys(&providers[i]))
	}
	respondJSON(w, http.StatusOK, masked)
}

// RegisterProvider registers a new provider descriptor.
// POST /api/v1/providers
func (h *Handlers) RegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req models.ProviderDescriptor
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Kind == "" {
		respondError(w, http.StatusBadRequest, "Provider kind is required")
		return
	}

	if err := h.Catalog.Register(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, maskProviderKeys(&req))
}

// GetProvider returns one provider descriptor.
// GET /api/v1/providers/{providerID}
func (h *Handlers) GetProvider(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	p, err := h.Catalog.Get(r.Context(), providerID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, maskProviderKeys(p))
}

// UpdateProvider merges a partial update into a provider descriptor.
// Providers are never deleted; disable them here instead.
// PATCH /api/v1/providers/{providerID}
func (h *Handlers) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	var upd models.ProviderUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p, err := h.Catalog.Update(r.Context(), providerID, upd)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, maskProviderKeys(p))
}

// TestProvider performs a real credential-validating call against a single
// provider.
// POST /api/v1/providers/{providerID}/test
func (h *Handlers) TestProvider(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	result, err := h.Gateway.Probe(r.Context(), providerID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("provider %q not found", providerID))
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	log.Info().
		Str("provider", providerID).
		Bool("healthy", result.Healthy).
		Int64("latency_ms", result.LatencyMs).
		Msg("Provider tested")
	respondJSON(w, http.StatusOK, result)
}

// ── Strategy Handlers ────────────────────────────────────────

// ListStrategies returns all fallback strategies.
// GET /api/v1/strategies
func (h *Handlers) ListStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := h.Store.ListStrategies(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if strategies == nil {
		strategies = []models.FallbackStrategy{}
	}
	respondJSON(w, http.StatusOK, strategies)
}

// CreateStrategy registers a new fallback strategy at version 1.
// POST /api/v1/strategies
func (h *Handlers) CreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req models.FallbackStrategy
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validateStrategy(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.Version = 1
	req.CreatedAt = time.Now().UTC()

	if err := h.Store.PutStrategy(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("strategy", req.ID).Str("name", req.Name).Msg("Strategy created")
	respondJSON(w, http.StatusCreated, req)
}

// GetStrategy returns one strategy.
// GET /api/v1/strategies/{strategyID}
func (h *Handlers) GetStrategy(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyID")
	strat, err := h.Store.GetStrategy(r.Context(), strategyID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, strat)
}

// UpdateStrategy replaces a strategy wholesale and bumps its version.
// In-flight routing decisions keep the chain they resolved; the new version
// applies to subsequent requests only.
// PUT /api/v1/strategies/{strategyID}
func (h *Handlers) UpdateStrategy(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyID")

	existing, err := h.Store.GetStrategy(r.Context(), strategyID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	var req models.FallbackStrategy
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validateStrategy(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.ID = strategyID
	req.Version = existing.Version + 1
	req.CreatedAt = existing.CreatedAt

	if err := h.Store.PutStrategy(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("strategy", strategyID).Int("version", req.Version).Msg("Strategy updated")
	respondJSON(w, http.StatusOK, req)
}

func validateStrategy(s *models.FallbackStrategy) error {
	if s.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	if s.PrimaryProvider == "" && len(s.FallbackChain) == 0 && len(s.TaskTypeOverrides) == 0 {
		return fmt.Errorf("strategy must name a primary provider, a fallback chain, or task overrides")
	}
	seen := map[string]bool{}
	for _, id := range s.FallbackChain {
		if seen[id] {
			return fmt.Errorf("fallback chain contains duplicate provider %q", id)
		}
		seen[id] = true
	}
	for task := range s.TaskTypeOverrides {
		if models.ParseTaskType(string(task)) != task {
			return fmt.Errorf("unknown task_type %q in overrides", task)
		}
	}
	return nil
}

// ── Policy Handlers ──────────────────────────────────────────

// GetPolicy returns the routing policy for one organization.
// GET /api/v1/policies/{orgID}
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	pol, err := h.Store.GetPolicy(r.Context(), orgID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, pol)
}

// PutPolicy creates or replaces the routing policy for one organization.
// PUT /api/v1/policies/{orgID}
func (h *Handlers) PutPolicy(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var req models.OrganizationPolicy
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.OrgID = orgID
	req.UpdatedAt = time.Now().UTC()

	// A referenced strategy must exist; chain members may lag the catalog
	// (drift is tolerated at resolve time), but a dangling strategy id is
	// almost always a typo.
	if req.FallbackStrategyID != "" {
		if _, err := h.Store.GetStrategy(r.Context(), req.FallbackStrategyID); err != nil {
			if store.IsNotFound(err) {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("strategy %q not found", req.FallbackStrategyID))
			} else {
				respondError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
	}

	if err := h.Store.PutPolicy(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("org_id", orgID).Msg("Policy updated")
	respondJSON(w, http.StatusOK, req)
}

// ── Observability Handlers ───────────────────────────────────

// GetBreakers returns the breaker snapshot for every provider that has
// received traffic.
// GET /api/v1/breakers
func (h *Handlers) GetBreakers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Breakers.Snapshot())
}

// GetStatus returns the advisory degraded-mode view.
// GET /api/v1/status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Gateway.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Health reports process liveness and store reachability.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetVersion reports the build version.
// GET /version
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": h.Version})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// maskProviderKeys redacts sensitive fields (api_key, api_secret) in provider
// config before returning to API consumers.
func maskProviderKeys(p *models.ProviderDescriptor) *models.ProviderDescriptor {
	if p.Config == nil {
		return p
	}
	cp := *p
	cp.Config = make(map[string]interface{}, len(p.Config))
	for k, v := range p.Config {
		cp.Config[k] = v
	}
	for _, key := range []string{"api_key", "api_secret"} {
		if val, ok := cp.Config[key].(string); ok && len(val) > 4 {
			cp.Config[key] = val[:4] + "****"
		} else if ok {
			cp.Config[key] = "****"
		}
	}
	return &cp
}
