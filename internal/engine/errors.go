package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelrelay/modelrelay/pkg/models"
)

// ProviderError is a classified failure returned by a provider invocation.
// Invoke capabilities should return one of these so the engine can decide
// between continuing the chain and aborting it.
type ProviderError struct {
	Provider string
	Kind     models.ErrorKind
	Status   int // HTTP status when applicable, 0 otherwise
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable builds a retryable-provider error.
func Retryable(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: models.ErrorKindRetryable, Status: status, Err: err}
}

// Fatal builds a fatal-request error. Fatal errors abort the whole chain:
// they are attributable to the request, not the provider, so retrying
// elsewhere cannot help.
func Fatal(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: models.ErrorKindFatal, Status: status, Err: err}
}

// Classify maps an invocation error to its kind. An explicit *ProviderError
// always wins: a retryable error may wrap context.DeadlineExceeded when the
// provider, not the caller, blew a deadline. Bare cancellation and deadline
// expiry are the caller's and never treated as provider failures;
// unclassified errors default to retryable (transport faults arrive
// unwrapped).
func Classify(err error) models.ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindCanceled
	}
	return models.ErrorKindRetryable
}

// AllProvidersFailedError is the terminal error when every candidate failed
// or was skipped. It carries the full attempt trail for diagnosis.
type AllProvidersFailedError struct {
	Attempts []models.FallbackAttempt
}

func (e *AllProvidersFailedError) Error() string {
	skipped := 0
	for _, a := range e.Attempts {
		if a.Skipped {
			skipped++
		}
	}
	return fmt.Sprintf("all %d providers failed (%d skipped, circuit open)", len(e.Attempts), skipped)
}

// FatalError is the terminal error when a candidate failed with a
// request-attributable fault and the chain was aborted.
type FatalError struct {
	Provider string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error from %s, chain aborted: %v", e.Provider, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// StreamInterruptedError is the terminal error when a stream fails after
// the first chunk has been delivered downstream. It is never retried on a
// different provider.
type StreamInterruptedError struct {
	Provider string
	Err      error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream from %s interrupted after output started: %v", e.Provider, e.Err)
}

func (e *StreamInterruptedError) Unwrap() error { return e.Err }

// CanceledError is the terminal error when the caller's context ended
// before the chain could complete.
type CanceledError struct {
	Err error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("routing canceled: %v", e.Err)
}

func (e *CanceledError) Unwrap() error { return e.Err }
