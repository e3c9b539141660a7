// Package models defines the shared data model for the ModelRelay control
// plane: provider descriptors, routing policies, fallback strategies, and
// the attempt trail produced by the execution engine.
package models

import "time"

// ── Task Types ───────────────────────────────────────────────

// TaskType is the closed set of work units ModelRelay routes.
// Unknown strings parse to TaskOther so override lookups stay exhaustive.
type TaskType string

const (
	TaskCompletion TaskType = "completion"
	TaskChat       TaskType = "chat"
	TaskEmbedding  TaskType = "embedding"
	TaskOther      TaskType = "other"
)

// ParseTaskType maps an arbitrary string to a known TaskType.
func ParseTaskType(s string) TaskType {
	switch TaskType(s) {
	case TaskCompletion, TaskChat, TaskEmbedding:
		return TaskType(s)
	default:
		return TaskOther
	}
}

// ── Provider Catalog ─────────────────────────────────────────

// CostTier is a coarse price classification used for routing hints.
type CostTier string

const (
	CostTierLow    CostTier = "low"
	CostTierMedium CostTier = "medium"
	CostTierHigh   CostTier = "high"
)

// RateLimits holds the advertised throughput caps of a provider.
type RateLimits struct {
	RequestsPerMin int `json:"requests_per_min"`
	TokensPerMin   int `json:"tokens_per_min"`
}

// ProviderDescriptor is one entry in the provider catalog.
// Descriptors are never deleted, only disabled.
type ProviderDescriptor struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`

	// Kind selects the invoker driver ("openai", "anthropic", "ollama").
	Kind     string                 `json:"kind" db:"kind"`
	Endpoint string                 `json:"endpoint,omitempty" db:"endpoint"`
	Config   map[string]interface{} `json:"config,omitempty"`

	Enabled         bool       `json:"enabled" db:"enabled"`
	Priority        int        `json:"priority" db:"priority"` // higher = preferred default
	CostTier        CostTier   `json:"cost_tier" db:"cost_tier"`
	AvailableModels []string   `json:"available_models"`
	Features        []string   `json:"features,omitempty"`
	RateLimits      RateLimits `json:"rate_limits"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasFeature reports whether the descriptor carries a capability tag.
func (p *ProviderDescriptor) HasFeature(tag string) bool {
	for _, f := range p.Features {
		if f == tag {
			return true
		}
	}
	return false
}

// ProviderUpdate is a partial update applied to a catalog entry.
// Nil fields are left untouched; Config entries are merged key-by-key.
type ProviderUpdate struct {
	DisplayName     *string                `json:"display_name,omitempty"`
	Kind            *string                `json:"kind,omitempty"`
	Endpoint        *string                `json:"endpoint,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
	Enabled         *bool                  `json:"enabled,omitempty"`
	Priority        *int                   `json:"priority,omitempty"`
	CostTier        *CostTier              `json:"cost_tier,omitempty"`
	AvailableModels []string               `json:"available_models,omitempty"`
	Features        []string               `json:"features,omitempty"`
	RateLimits      *RateLimits            `json:"rate_limits,omitempty"`
}

// ProviderProbeResult is returned by the provider test endpoint.
type ProviderProbeResult struct {
	Provider  string `json:"provider"`
	Kind      string `json:"kind"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ── Fallback Strategy ────────────────────────────────────────

// StrategyConditions are optional acceptance bounds attached to a strategy.
// They are advisory routing hints; enforcement belongs to the caller.
type StrategyConditions struct {
	MaxLatencyMs    int64   `json:"max_latency_ms,omitempty"`
	MaxCostUSD      float64 `json:"max_cost_usd,omitempty"`
	MinQualityScore float64 `json:"min_quality_score,omitempty"`
}

// FallbackStrategy is a named, versioned routing policy. Strategies are
// immutable once referenced by a routing decision in flight; updates replace
// the whole record and bump Version.
type FallbackStrategy struct {
	ID              string `json:"id" db:"id"`
	Name            string `json:"name" db:"name"`
	PrimaryProvider string `json:"primary_provider" db:"primary_provider"`

	// FallbackChain lists provider ids tried after the primary, in order.
	// No duplicates.
	FallbackChain []string `json:"fallback_chain"`

	// TaskTypeOverrides substitutes an alternate chain per task type.
	TaskTypeOverrides map[TaskType][]string `json:"task_type_overrides,omitempty"`

	Conditions *StrategyConditions `json:"conditions,omitempty"`

	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Chain returns the full ordered candidate list for a task type:
// the task override when present, otherwise primary + fallback chain.
func (s *FallbackStrategy) Chain(task TaskType) []string {
	if override, ok := s.TaskTypeOverrides[task]; ok && len(override) > 0 {
		return override
	}
	chain := make([]string, 0, len(s.FallbackChain)+1)
	if s.PrimaryProvider != "" {
		chain = append(chain, s.PrimaryProvider)
	}
	for _, id := range s.FallbackChain {
		if id == s.PrimaryProvider {
			continue
		}
		chain = append(chain, id)
	}
	return chain
}

// ── Organization Policy ──────────────────────────────────────

// CostLimits are tenant spending caps. They are enforced by the external
// billing collaborator; ModelRelay only surfaces them.
type CostLimits struct {
	DailyUSD      float64 `json:"daily_usd,omitempty"`
	MonthlyUSD    float64 `json:"monthly_usd,omitempty"`
	PerRequestUSD float64 `json:"per_request_usd,omitempty"`
}

// OrganizationPolicy is the per-tenant routing configuration.
//
// When CustomFallbackChain is non-empty it is the sole source of candidate
// ordering for the tenant and supersedes FallbackStrategyID entirely.
type OrganizationPolicy struct {
	OrgID               string     `json:"org_id" db:"org_id"`
	DefaultProvider     string     `json:"default_provider,omitempty" db:"default_provider"`
	FallbackStrategyID  string     `json:"fallback_strategy_id,omitempty" db:"fallback_strategy_id"`
	CustomFallbackChain []string   `json:"custom_fallback_chain,omitempty"`
	AllowedProviders    []string   `json:"allowed_providers,omitempty"`
	CostLimits          CostLimits `json:"cost_limits"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Allows reports whether the allow-list admits a provider id.
// An empty allow-list admits everything.
func (p *OrganizationPolicy) Allows(providerID string) bool {
	if len(p.AllowedProviders) == 0 {
		return true
	}
	for _, id := range p.AllowedProviders {
		if id == providerID {
			return true
		}
	}
	return false
}

// ── Invocation ───────────────────────────────────────────────

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InvokeRequest is the provider-agnostic payload handed to an invoker.
type InvokeRequest struct {
	TaskType    TaskType      `json:"task_type"`
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages,omitempty"`
	Input       []string      `json:"input,omitempty"` // embedding inputs
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type TokenUsage struct {
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// ProviderResponse is the normalized result of one provider invocation.
type ProviderResponse struct {
	ID           string      `json:"id"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	Content      string      `json:"content,omitempty"`
	Embeddings   [][]float64 `json:"embeddings,omitempty"`
	Usage        TokenUsage  `json:"usage"`
	LatencyMs    int64       `json:"latency_ms"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// StreamChunk is one SSE frame of a streaming invocation.
type StreamChunk struct {
	Delta string      `json:"delta,omitempty"`
	Done  bool        `json:"done,omitempty"`
	Error string      `json:"error,omitempty"`
	Usage *TokenUsage `json:"usage,omitempty"` // final usage (on done)
}

// ── Attempt Trail ────────────────────────────────────────────

// ErrorKind classifies an attempt failure.
type ErrorKind string

const (
	// ErrorKindRetryable covers rate limiting, transport failures, timeouts,
	// and 5xx-equivalent provider faults. The chain continues.
	ErrorKindRetryable ErrorKind = "retryable"

	// ErrorKindFatal covers failures attributable to the request itself
	// (malformed payload, caller auth, content policy). The chain aborts.
	ErrorKindFatal ErrorKind = "fatal"

	// ErrorKindCircuitOpen marks a provider skipped without network I/O.
	ErrorKindCircuitOpen ErrorKind = "circuit_open"

	// ErrorKindCanceled marks caller cancellation or deadline expiry.
	// Never charged against a breaker.
	ErrorKindCanceled ErrorKind = "canceled"
)

// FallbackAttempt is one record per provider try. Immutable once recorded.
type FallbackAttempt struct {
	Provider      string    `json:"provider"`
	StartedAt     time.Time `json:"started_at"`
	LatencyMs     int64     `json:"latency_ms"`
	Success       bool      `json:"success"`
	Skipped       bool      `json:"skipped,omitempty"` // breaker skip: never attempted
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	Error         string    `json:"error,omitempty"`
	EstimatedCost *float64  `json:"estimated_cost_usd,omitempty"`
}

// FallbackResult is the terminal outcome of one routed request.
type FallbackResult struct {
	Data *ProviderResponse `json:"data,omitempty"` // present only on success

	// Attempts is the full ordered trail, primary first.
	Attempts []FallbackAttempt `json:"attempts"`

	// SuccessfulProvider is empty only on total failure.
	SuccessfulProvider string `json:"successful_provider,omitempty"`

	TotalLatencyMs int64 `json:"total_latency_ms"`
	Canceled       bool  `json:"canceled,omitempty"`
}

// ── System Health ────────────────────────────────────────────

// SystemStatus is the advisory degraded-mode view: the share of enabled
// providers whose breaker is not OPEN. It never alters routing decisions.
type SystemStatus struct {
	EnabledProviders   int     `json:"enabled_providers"`
	AvailableProviders int     `json:"available_providers"`
	AvailableRatio     float64 `json:"available_ratio"`
	Degraded           bool    `json:"degraded"`
	Threshold          float64 `json:"threshold"`
}
