// Package engine implements the fallback execution engine: the sequential
// candidate walk that invokes providers, consults the circuit breaker,
// applies backoff between attempts, classifies failures, and assembles the
// attempt trail for every routed request.
package engine

import (
	"context"
	"time"

	"github.com/modelrelay/modelrelay/internal/breaker"
	"github.com/modelrelay/modelrelay/internal/recorder"
	"github.com/modelrelay/modelrelay/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("modelrelay-engine")

// InvokeFunc is the opaque network-call capability for one provider.
// The engine never performs I/O itself.
type InvokeFunc func(ctx context.Context, providerID string) (*models.ProviderResponse, error)

// Request identifies the logical request an execution belongs to;
// it travels with every attempt record.
type Request struct {
	RequestID string
	OrgID     string
	TaskType  models.TaskType
}

// Engine walks an ordered candidate list until one provider succeeds.
type Engine struct {
	breakers *breaker.Manager
	sink     recorder.Sink
	backoff  BackoffConfig
	now      func() time.Time
}

// New creates an execution engine. A nil sink records nothing.
func New(breakers *breaker.Manager, sink recorder.Sink, backoff BackoffConfig) *Engine {
	if sink == nil {
		sink = recorder.NopSink{}
	}
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff()
	}
	return &Engine{
		breakers: breakers,
		sink:     sink,
		backoff:  backoff,
		now:      time.Now,
	}
}

// Execute tries each candidate in order and returns on the first success.
//
// The returned FallbackResult is always non-nil and carries the complete
// attempt trail. The error is non-nil for the three terminal failure shapes:
// *FatalError, *AllProvidersFailedError, and *CanceledError.
func (e *Engine) Execute(ctx context.Context, req Request, candidates []string, invoke InvokeFunc) (*models.FallbackResult, error) {
	ctx, span := tracer.Start(ctx, "engine.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("modelrelay.org_id", req.OrgID),
		attribute.String("modelrelay.task_type", string(req.TaskType)),
		attribute.Int("modelrelay.candidates", len(candidates)),
	)

	start := e.now()
	result := &models.FallbackResult{Attempts: make([]models.FallbackAttempt, 0, len(candidates))}
	delayer := e.backoff.newDelayer()

	for i, providerID := range candidates {
		if i > 0 {
			if err := sleep(ctx, delayer.NextBackOff()); err != nil {
				result.Canceled = true
				result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
				return result, &CanceledError{Err: err}
			}
		}
		if err := ctx.Err(); err != nil {
			result.Canceled = true
			result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
			return result, &CanceledError{Err: err}
		}

		if !e.breakers.Allow(providerID) {
			// Recorded distinctly so operators can tell "never attempted"
			// from "attempted and failed".
			attempt := models.FallbackAttempt{
				Provider:  providerID,
				StartedAt: e.now(),
				Skipped:   true,
				ErrorKind: models.ErrorKindCircuitOpen,
				Error:     "circuit_open",
			}
			e.record(ctx, req, result, attempt)
			continue
		}

		attempt := models.FallbackAttempt{Provider: providerID, StartedAt: e.now()}
		resp, err := invoke(ctx, providerID)
		attempt.LatencyMs = e.now().Sub(attempt.StartedAt).Milliseconds()

		if err == nil {
			attempt.Success = true
			if resp != nil && resp.Usage.EstimatedCostUSD > 0 {
				cost := resp.Usage.EstimatedCostUSD
				attempt.EstimatedCost = &cost
			}
			e.breakers.RecordSuccess(providerID)
			e.record(ctx, req, result, attempt)

			result.Data = resp
			result.SuccessfulProvider = providerID
			result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
			return result, nil
		}

		kind := Classify(err)
		attempt.ErrorKind = kind
		attempt.Error = err.Error()

		if kind == models.ErrorKindCanceled {
			// Not charged as a provider failure against the breaker.
			e.record(ctx, req, result, attempt)
			result.Canceled = true
			result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
			return result, &CanceledError{Err: err}
		}

		e.breakers.RecordFailure(providerID)
		e.record(ctx, req, result, attempt)

		if kind == models.ErrorKindFatal {
			// Request-attributable: remaining candidates would fail the
			// same way, so the whole chain aborts.
			result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
			return result, &FatalError{Provider: providerID, Err: err}
		}

		log.Warn().
			Str("provider", providerID).
			Err(err).
			Msg("Provider call failed, trying next candidate")
	}

	result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
	return result, &AllProvidersFailedError{Attempts: result.Attempts}
}

func (e *Engine) record(ctx context.Context, req Request, result *models.FallbackResult, attempt models.FallbackAttempt) {
	result.Attempts = append(result.Attempts, attempt)
	e.sink.Record(ctx, recorder.AttemptRecord{
		RequestID: req.RequestID,
		OrgID:     req.OrgID,
		TaskType:  req.TaskType,
		Attempt:   attempt,
	})
}
