package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig parameterizes the delay inserted between candidates.
type BackoffConfig struct {
	Initial    time.Duration
	Multiplier float64
	Cap        time.Duration
}

// DefaultBackoff returns the production defaults: 200ms initial delay,
// doubling per candidate, capped at 5s.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    200 * time.Millisecond,
		Multiplier: 2.0,
		Cap:        5 * time.Second,
	}
}

// newDelayer builds the per-request delay generator. The first candidate is
// attempted immediately; candidate i waits initial*multiplier^(i-1) capped,
// with 10% randomized jitter. State is scoped to one logical request.
func (c BackoffConfig) newDelayer() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Initial
	b.Multiplier = c.Multiplier
	b.MaxInterval = c.Cap
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0 // the candidate list, not elapsed time, bounds the walk
	b.Reset()
	return b
}

// sleep suspends only the calling request's control flow, waking early when
// the context ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
