// Package invoker supplies the built-in provider invocation capabilities.
//
// The execution engine treats invocation as an opaque function; this package
// provides the default HTTP implementations (OpenAI-compatible, Anthropic,
// Ollama) behind the Invoker interface, plus a registry keyed by descriptor
// kind. Custom capabilities can be registered alongside the built-ins.
package invoker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/modelrelay/modelrelay/pkg/models"
)

// Invoker performs the actual network call to one provider kind.
type Invoker interface {
	// Kind is the descriptor kind this invoker serves.
	Kind() string

	// Invoke performs one request. Errors should be classified
	// *engine.ProviderError values so the engine can route around them.
	Invoke(ctx context.Context, desc *models.ProviderDescriptor, req *models.InvokeRequest) (*models.ProviderResponse, error)

	// InvokeStream performs one streaming request, delivering chunks as
	// they arrive.
	InvokeStream(ctx context.Context, desc *models.ProviderDescriptor, req *models.InvokeRequest, onChunk func(*models.StreamChunk) error) error

	// Probe performs a minimal credential-validating call.
	Probe(ctx context.Context, desc *models.ProviderDescriptor) *models.ProviderProbeResult
}

// Registry maps descriptor kinds to invokers.
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
}

// NewRegistry creates a registry with the built-in invokers registered:
// openai, azure-openai, anthropic, ollama.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	r := &Registry{invokers: make(map[string]Invoker)}
	r.Register(&openAIInvoker{kind: "openai", client: client})
	r.Register(&openAIInvoker{kind: "azure-openai", client: client})
	r.Register(&anthropicInvoker{client: client})
	r.Register(&ollamaInvoker{client: client})
	return r
}

// Register adds or replaces an invoker for its kind.
func (r *Registry) Register(inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[inv.Kind()] = inv
}

// For returns the invoker serving a descriptor. Unknown kinds fall back to
// the OpenAI-compatible invoker, which most self-hosted gateways speak.
func (r *Registry) For(desc *models.ProviderDescriptor) Invoker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if inv, ok := r.invokers[desc.Kind]; ok {
		return inv
	}
	return r.invokers["openai"]
}

// Kinds lists the registered invoker kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.invokers))
	for k := range r.invokers {
		out = append(out, k)
	}
	return out
}

// pickModel returns the requested model, or the descriptor's first
// available model when the request leaves it open.
func pickModel(desc *models.ProviderDescriptor, req *models.InvokeRequest) string {
	if req.Model != "" {
		return req.Model
	}
	if len(desc.AvailableModels) > 0 {
		return desc.AvailableModels[0]
	}
	return ""
}

func apiKey(desc *models.ProviderDescriptor) string {
	if desc.Config == nil {
		return ""
	}
	k, _ := desc.Config["api_key"].(string)
	return k
}
