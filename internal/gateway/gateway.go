// Package gateway is the routing entry point: it resolves the candidate
// chain for a tenant, binds catalog descriptors to their invokers, and hands
// the chain to the execution engine. It also computes the advisory
// degraded-mode signal from catalog enablement and breaker state.
package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/modelrelay/modelrelay/internal/breaker"
	"github.com/modelrelay/modelrelay/internal/catalog"
	"github.com/modelrelay/modelrelay/internal/engine"
	"github.com/modelrelay/modelrelay/internal/invoker"
	"github.com/modelrelay/modelrelay/internal/metrics"
	"github.com/modelrelay/modelrelay/internal/policy"
	"github.com/modelrelay/modelrelay/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("modelrelay-gateway")

// Gateway routes and executes requests end to end.
type Gateway struct {
	catalog  *catalog.Catalog
	resolver *policy.Resolver
	engine   *engine.Engine
	invokers *invoker.Registry
	breakers *breaker.Manager

	// degradedThreshold is the available-ratio floor below which the
	// system reports itself degraded.
	degradedThreshold float64
}

// New wires a gateway from its parts.
func New(cat *catalog.Catalog, res *policy.Resolver, eng *engine.Engine, reg *invoker.Registry, brk *breaker.Manager, degradedThreshold float64) *Gateway {
	if degradedThreshold <= 0 {
		degradedThreshold = 0.5
	}
	return &Gateway{
		catalog:           cat,
		resolver:          res,
		engine:            eng,
		invokers:          reg,
		breakers:          brk,
		degradedThreshold: degradedThreshold,
	}
}

// RouteAndExecute resolves the candidate chain for one tenant and walks it
// until a provider succeeds. The returned FallbackResult is non-nil whenever
// resolution succeeded, even when the error is terminal.
func (g *Gateway) RouteAndExecute(ctx context.Context, orgID string, req *models.InvokeRequest) (*models.FallbackResult, error) {
	ctx, span := tracer.Start(ctx, "gateway.RouteAndExecute")
	defer span.End()

	ereq, candidates, err := g.prepare(ctx, span, orgID, req)
	if err != nil {
		return nil, err
	}

	result, err := g.engine.Execute(ctx, ereq, candidates, func(ctx context.Context, providerID string) (*models.ProviderResponse, error) {
		return g.invoke(ctx, providerID, req)
	})
	g.observeOutcome(ereq, result, err)
	return result, err
}

// RouteAndExecuteStream is the streaming variant. A provider failure after
// the first chunk has been forwarded is terminal rather than retried.
func (g *Gateway) RouteAndExecuteStream(ctx context.Context, orgID string, req *models.InvokeRequest, onChunk func(*models.StreamChunk) error) (*models.FallbackResult, error) {
	ctx, span := tracer.Start(ctx, "gateway.RouteAndExecuteStream")
	defer span.End()

	ereq, candidates, err := g.prepare(ctx, span, orgID, req)
	if err != nil {
		return nil, err
	}

	metrics.StreamingConnections.Inc()
	defer metrics.StreamingConnections.Dec()

	result, err := g.engine.ExecuteStream(ctx, ereq, candidates, func(ctx context.Context, providerID string, deliver func(*models.StreamChunk) error) error {
		return g.invokeStream(ctx, providerID, req, deliver)
	}, onChunk)
	g.observeOutcome(ereq, result, err)
	return result, err
}

// prepare normalizes the task type, resolves the candidate chain, and mints
// the request identity the attempt trail is keyed by.
func (g *Gateway) prepare(ctx context.Context, span trace.Span, orgID string, req *models.InvokeRequest) (engine.Request, []string, error) {
	taskType := req.TaskType
	if taskType == "" {
		taskType = models.TaskChat
		req.TaskType = taskType
	}

	candidates, err := g.resolver.Resolve(ctx, orgID, taskType)
	if err != nil {
		return engine.Request{}, nil, err
	}

	ereq := engine.Request{
		RequestID: uuid.New().String(),
		OrgID:     orgID,
		TaskType:  taskType,
	}
	span.SetAttributes(
		attribute.String("modelrelay.request_id", ereq.RequestID),
		attribute.String("modelrelay.org_id", orgID),
		attribute.StringSlice("modelrelay.candidates", candidates),
	)

	log.Debug().
		Str("request_id", ereq.RequestID).
		Str("org_id", orgID).
		Str("task_type", string(taskType)).
		Strs("candidates", candidates).
		Msg("Resolved candidate chain")

	return ereq, candidates, nil
}

func (g *Gateway) invoke(ctx context.Context, providerID string, req *models.InvokeRequest) (*models.ProviderResponse, error) {
	desc, err := g.catalog.Get(ctx, providerID)
	if err != nil {
		return nil, engine.Retryable(providerID, 0, err)
	}
	return g.invokers.For(desc).Invoke(ctx, desc, req)
}

func (g *Gateway) invokeStream(ctx context.Context, providerID string, req *models.InvokeRequest, onChunk func(*models.StreamChunk) error) error {
	desc, err := g.catalog.Get(ctx, providerID)
	if err != nil {
		return engine.Retryable(providerID, 0, err)
	}
	return g.invokers.For(desc).InvokeStream(ctx, desc, req, onChunk)
}

func (g *Gateway) observeOutcome(req engine.Request, result *models.FallbackResult, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case result != nil && result.Canceled:
		outcome = "canceled"
	default:
		outcome = "failed"
	}
	metrics.RoutedRequestsTotal.WithLabelValues(string(req.TaskType), outcome).Inc()
}

// Status reports the advisory degraded-mode view: the share of enabled
// providers whose breaker currently admits traffic (not OPEN). It reads
// state only and never changes a routing decision.
func (g *Gateway) Status(ctx context.Context) (*models.SystemStatus, error) {
	enabled, err := g.catalog.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	states := g.breakers.Snapshot()
	available := 0
	for _, p := range enabled {
		st, ok := states[p.ID]
		if !ok || st.Status != breaker.StatusOpen {
			available++
		}
	}

	status := &models.SystemStatus{
		EnabledProviders:   len(enabled),
		AvailableProviders: available,
	}
	if len(enabled) > 0 {
		status.AvailableRatio = float64(available) / float64(len(enabled))
	} else {
		// No providers enabled at all reads as fully degraded.
		status.AvailableRatio = 0
	}
	status.Degraded = status.AvailableRatio < g.degradedThreshold

	metrics.AvailableRatio.Set(status.AvailableRatio)
	return status, nil
}

// Probe runs the provider's credential-validating test call.
func (g *Gateway) Probe(ctx context.Context, providerID string) (*models.ProviderProbeResult, error) {
	desc, err := g.catalog.Get(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return g.invokers.For(desc).Probe(ctx, desc), nil
}
