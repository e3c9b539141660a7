package engine

import (
	"context"

	"github.com/modelrelay/modelrelay/pkg/models"
	"github.com/rs/zerolog/log"
)

// InvokeStreamFunc is the streaming network-call capability for one
// provider. onChunk is called for each produced chunk.
type InvokeStreamFunc func(ctx context.Context, providerID string, onChunk func(*models.StreamChunk) error) error

// ExecuteStream walks candidates with the same breaker and backoff
// discipline as Execute, but a candidate counts as successful only once the
// stream has started producing output. A failure after the first chunk has
// been delivered downstream is terminal: partial output has already been
// observed, so it is never retried on a different provider.
func (e *Engine) ExecuteStream(ctx context.Context, req Request, candidates []string, invoke InvokeStreamFunc, onChunk func(*models.StreamChunk) error) (*models.FallbackResult, error) {
	ctx, span := tracer.Start(ctx, "engine.ExecuteStream")
	defer span.End()

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
		started := false
		err := invoke(ctx, providerID, func(chunk *models.StreamChunk) error {
			started = true
			return onChunk(chunk)
		})
		attempt.LatencyMs = e.now().Sub(attempt.StartedAt).Milliseconds()

		if err == nil {
			attempt.Success = true
			e.breakers.RecordSuccess(providerID)
			e.record(ctx, req, result, attempt)

			result.SuccessfulProvider = providerID
			result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
			return result, nil
		}

		kind := Classify(err)
		attempt.ErrorKind = kind
		attempt.Error = err.Error()

		if kind == models.ErrorKindCanceled {
			e.record(ctx, req, result, attempt)
			result.Canceled = true
			result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
			return result, &CanceledError{Err: err}
		}

		e.breakers.RecordFailure(providerID)
		e.record(ctx, req, result, attempt)

		if kind == models.ErrorKindFatal {
			result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
			return result, &FatalError{Provider: providerID, Err: err}
		}

		if started {
			// The caller has already seen partial output; surface the
			// failure as a terminal stream error instead of retrying.
			result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
			return result, &StreamInterruptedError{Provider: providerID, Err: err}
		}

		log.Warn().
			Str("provider", providerID).
			Err(err).
			Msg("Stream failed before first chunk, trying next candidate")
	}

	result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
	return result, &AllProvidersFailedError{Attempts: result.Attempts}
}
