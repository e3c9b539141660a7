package invoker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelrelay/modelrelay/internal/engine"
	"github.com/modelrelay/modelrelay/pkg/models"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   models.ErrorKind
	}{
		{429, models.ErrorKindRetryable},
		{500, models.ErrorKindRetryable},
		{502, models.ErrorKindRetryable},
		{503, models.ErrorKindRetryable},
		{400, models.ErrorKindFatal},
		{401, models.ErrorKindFatal},
		{403, models.ErrorKindFatal},
		{404, models.ErrorKindFatal},
		{422, models.ErrorKindFatal},
		{418, models.ErrorKindRetryable}, // unmapped statuses stay retryable
	}
	for _, tt := range tests {
		err := classifyStatus("p", tt.status, "body")
		if got := engine.Classify(err); got != tt.want {
			t.Errorf("classifyStatus(%d) classified as %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestTransportError_PassesThroughCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := transportError(ctx, "p", errors.New("connection reset"))
	if got := engine.Classify(err); got != models.ErrorKindCanceled {
		t.Errorf("Classify() = %q for canceled context, want %q", got, models.ErrorKindCanceled)
	}

	err = transportError(context.Background(), "p", errors.New("connection reset"))
	if got := engine.Classify(err); got != models.ErrorKindRetryable {
		t.Errorf("Classify() = %q for transport fault, want %q", got, models.ErrorKindRetryable)
	}
}

func TestTransportError_ProviderTimeoutIsRetryable(t *testing.T) {
	// The http.Client timeout surfaces as a deadline error even though the
	// caller's context is still live. That is the provider's fault, not a
	// caller cancellation.
	err := transportError(context.Background(), "p",
		fmt.Errorf("request: %w", context.DeadlineExceeded))
	if got := engine.Classify(err); got != models.ErrorKindRetryable {
		t.Errorf("Classify() = %q for provider timeout, want %q", got, models.ErrorKindRetryable)
	}
}

func TestInvoke_SlowProviderClassifiedRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	inv := &openAIInvoker{kind: "openai", client: &http.Client{Timeout: 50 * time.Millisecond}}
	desc := &models.ProviderDescriptor{
		ID:       "slow",
		Kind:     "openai",
		Endpoint: srv.URL,
		Config:   map[string]interface{}{"api_key": "test-key"},
	}

	_, err := inv.Invoke(context.Background(), desc, &models.InvokeRequest{
		Model:    "gpt-4o-mini",
		Messages: []models.ChatMessage{{Role: "user", Content: "hello"}},
	})
	if err == nil {
		t.Fatal("Invoke() = nil error against a hanging provider, want timeout")
	}
	if got := engine.Classify(err); got != models.ErrorKindRetryable {
		t.Errorf("Classify() = %q for a hanging provider, want %q so the chain advances", got, models.ErrorKindRetryable)
	}
}

func TestPickModel(t *testing.T) {
	desc := &models.ProviderDescriptor{AvailableModels: []string{"gpt-4o-mini", "gpt-4o"}}

	if got := pickModel(desc, &models.InvokeRequest{Model: "gpt-4o"}); got != "gpt-4o" {
		t.Errorf("pickModel() = %q, want explicit request model", got)
	}
	if got := pickModel(desc, &models.InvokeRequest{}); got != "gpt-4o-mini" {
		t.Errorf("pickModel() = %q, want first available model", got)
	}
	if got := pickModel(&models.ProviderDescriptor{}, &models.InvokeRequest{}); got != "" {
		t.Errorf("pickModel() = %q, want empty for bare descriptor", got)
	}
}

func TestEstimateCost(t *testing.T) {
	desc := &models.ProviderDescriptor{}

	// 1M input + 1M output of gpt-4o-mini = 0.15 + 0.60.
	got := estimateCost(desc, "gpt-4o-mini", 1_000_000, 1_000_000)
	if want := 0.75; got != want {
		t.Errorf("estimateCost(gpt-4o-mini) = %v, want %v", got, want)
	}

	// Dated snapshot inherits the base price by prefix.
	got = estimateCost(desc, "gpt-4o-2024-11-20", 1_000_000, 0)
	if want := 2.50; got != want {
		t.Errorf("estimateCost(gpt-4o-2024-11-20) = %v, want %v", got, want)
	}

	// Unknown models cost zero.
	if got := estimateCost(desc, "llama3", 1_000_000, 1_000_000); got != 0 {
		t.Errorf("estimateCost(llama3) = %v, want 0", got)
	}

	// Descriptor config overrides the table.
	custom := &models.ProviderDescriptor{Config: map[string]interface{}{
		"cost_input_per_mtok":  1.0,
		"cost_output_per_mtok": 2.0,
	}}
	got = estimateCost(custom, "anything", 500_000, 500_000)
	if want := 1.5; got != want {
		t.Errorf("estimateCost(custom) = %v, want %v", got, want)
	}
}
