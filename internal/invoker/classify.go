package invoker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelrelay/modelrelay/internal/engine"
)

// classifyStatus maps an HTTP response status to a classified provider
// error. Rate limiting and server faults are retryable on another provider;
// request-shaped failures (bad payload, caller auth, content policy) are
// fatal for the whole chain.
func classifyStatus(provider string, status int, body string) error {
	err := fmt.Errorf("%s", body)
	switch {
	case status == http.StatusTooManyRequests:
		return engine.Retryable(provider, status, err)
	case status >= 500:
		return engine.Retryable(provider, status, err)
	case status == http.StatusBadRequest,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity:
		return engine.Fatal(provider, status, err)
	default:
		return engine.Retryable(provider, status, err)
	}
}

// transportError wraps a network-level failure. Caller cancellation passes
// through so the engine never charges it against a breaker. Only ctx.Err()
// decides that: a deadline-shaped error while the caller's context is still
// live is the client timeout firing, which is the provider's fault and
// retryable on the next candidate.
func transportError(ctx context.Context, provider string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return engine.Retryable(provider, 0, err)
}
