package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/modelrelay/modelrelay/internal/engine"
	"github.com/modelrelay/modelrelay/pkg/models"
)

func collectChunks(chunks *[]string) func(*models.StreamChunk) error {
	return func(c *models.StreamChunk) error {
		if c.Delta != "" {
			*chunks = append(*chunks, c.Delta)
		}
		return nil
	}
}

func TestExecuteStream_FirstSuccessWins(t *testing.T) {
	e, _, _ := newTestEngine(t)

	invoke := func(ctx context.Context, providerID string, onChunk func(*models.StreamChunk) error) error {
		if err := onChunk(&models.StreamChunk{Delta: "hello "}); err != nil {
			return err
		}
		if err := onChunk(&models.StreamChunk{Delta: "world"}); err != nil {
			return err
		}
		return onChunk(&models.StreamChunk{Done: true})
	}

	var chunks []string
	result, err := e.ExecuteStream(context.Background(), testReq(), []string{"a", "b"}, invoke, collectChunks(&chunks))
	if err != nil {
		t.Fatalf("ExecuteStream() error = %v", err)
	}
	if result.SuccessfulProvider != "a" {
		t.Errorf("SuccessfulProvider = %q, want %q", result.SuccessfulProvider, "a")
	}
	if len(chunks) != 2 || chunks[0] != "hello " || chunks[1] != "world" {
		t.Errorf("chunks = %v, want [hello , world]", chunks)
	}
}

func TestExecuteStream_FailureBeforeFirstChunkFallsBack(t *testing.T) {
	e, _, _ := newTestEngine(t)

	invoke := func(ctx context.Context, providerID string, onChunk func(*models.StreamChunk) error) error {
		if providerID == "a" {
			// Fails before producing any output: safe to retry elsewhere.
			return engine.Retryable("a", 503, errors.New("overloaded"))
		}
		if err := onChunk(&models.StreamChunk{Delta: "from b"}); err != nil {
			return err
		}
		return nil
	}

	var chunks []string
	result, err := e.ExecuteStream(context.Background(), testReq(), []string{"a", "b"}, invoke, collectChunks(&chunks))
	if err != nil {
		t.Fatalf("ExecuteStream() error = %v", err)
	}
	if result.SuccessfulProvider != "b" {
		t.Errorf("SuccessfulProvider = %q, want %q", result.SuccessfulProvider, "b")
	}
	if len(chunks) != 1 || chunks[0] != "from b" {
		t.Errorf("chunks = %v, want [from b]", chunks)
	}
	if len(result.Attempts) != 2 {
		t.Errorf("len(Attempts) = %d, want 2", len(result.Attempts))
	}
}

func TestExecuteStream_FailureAfterFirstChunkIsTerminal(t *testing.T) {
	e, _, _ := newTestEngine(t)

	calls := []string{}
	invoke := func(ctx context.Context, providerID string, onChunk func(*models.StreamChunk) error) error {
		calls = append(calls, providerID)
		if err := onChunk(&models.StreamChunk{Delta: "partial"}); err != nil {
			return err
		}
		return engine.Retryable(providerID, 0, errors.New("connection dropped mid-stream"))
	}

	var chunks []string
	_, err := e.ExecuteStream(context.Background(), testReq(), []string{"a", "b"}, invoke, collectChunks(&chunks))
	var interrupted *engine.StreamInterruptedError
	if !errors.As(err, &interrupted) {
		t.Fatalf("ExecuteStream() error = %v, want *StreamInterruptedError", err)
	}
	if interrupted.Provider != "a" {
		t.Errorf("StreamInterruptedError.Provider = %q, want %q", interrupted.Provider, "a")
	}
	if len(calls) != 1 {
		t.Errorf("invocations = %v, want no retry after partial output", calls)
	}
}

func TestExecuteStream_FatalAbortsEvenBeforeFirstChunk(t *testing.T) {
	e, _, _ := newTestEngine(t)

	invoke := func(ctx context.Context, providerID string, onChunk func(*models.StreamChunk) error) error {
		return engine.Fatal(providerID, 400, errors.New("bad request"))
	}

	var chunks []string
	_, err := e.ExecuteStream(context.Background(), testReq(), []string{"a", "b"}, invoke, collectChunks(&chunks))
	var fatalErr *engine.FatalError
	if !errors.As(err, &fatalErr) {
		t.Fatalf("ExecuteStream() error = %v, want *FatalError", err)
	}
}

func TestExecuteStream_OpenBreakerSkips(t *testing.T) {
	e, brk, _ := newTestEngine(t)
	for i := 0; i < 3; i++ {
		brk.RecordFailure("a")
	}

	invoke := func(ctx context.Context, providerID string, onChunk func(*models.StreamChunk) error) error {
		return onChunk(&models.StreamChunk{Done: true})
	}

	var chunks []string
	result, err := e.ExecuteStream(context.Background(), testReq(), []string{"a", "b"}, invoke, collectChunks(&chunks))
	if err != nil {
		t.Fatalf("ExecuteStream() error = %v", err)
	}
	if result.SuccessfulProvider != "b" {
		t.Errorf("SuccessfulProvider = %q, want %q", result.SuccessfulProvider, "b")
	}
	if !result.Attempts[0].Skipped {
		t.Error("Attempts[0].Skipped = false, want true")
	}
}
