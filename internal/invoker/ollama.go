package invoker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modelrelay/modelrelay/internal/engine"
	"github.com/modelrelay/modelrelay/pkg/models"
)

// ollamaInvoker speaks the Ollama local API. No auth, no cost.
type ollamaInvoker struct {
	client *http.Client
}

func (inv *ollamaInvoker) Kind() string { return "ollama" }

func (inv *ollamaInvoker) endpoint(desc *models.ProviderDescriptor) string {
	if desc.Endpoint != "" {
		return desc.Endpoint
	}
	return "http://localhost:11434"
}

type ollamaChatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  map[string]any       `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings      [][]float64 `json:"embeddings"`
	PromptEvalCount int64       `json:"prompt_eval_count"`
}

func ollamaOptions(req *models.InvokeRequest) map[string]any {
	opts := map[string]any{}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func (inv *ollamaInvoker) Invoke(ctx context.Context, desc *models.ProviderDescriptor, req *models.InvokeRequest) (*models.ProviderResponse, error) {
	if req.TaskType == models.TaskEmbedding {
		return inv.invokeEmbedding(ctx, desc, req)
	}

	model := pickModel(desc, req)
	body, _ := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   false,
		Options:  ollamaOptions(req),
	})

	httpResp, err := inv.post(ctx, desc, inv.endpoint(desc)+"/api/chat", body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, classifyStatus(desc.ID, httpResp.StatusCode, string(respBody))
	}

	var oResp ollamaChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oResp); err != nil {
		return nil, engine.Retryable(desc.ID, 0, fmt.Errorf("decode response: %w", err))
	}

	return &models.ProviderResponse{
		Provider:     desc.ID,
		Model:        model,
		Content:      oResp.Message.Content,
		FinishReason: oResp.DoneReason,
		Usage: models.TokenUsage{
			InputTokens:  oResp.PromptEvalCount,
			OutputTokens: oResp.EvalCount,
			TotalTokens:  oResp.PromptEvalCount + oResp.EvalCount,
		},
	}, nil
}

func (inv *ollamaInvoker) invokeEmbedding(ctx context.Context, desc *models.ProviderDescriptor, req *models.InvokeRequest) (*models.ProviderResponse, error) {
	model := pickModel(desc, req)
	body, _ := json.Marshal(ollamaEmbedRequest{Model: model, Input: req.Input})

	httpResp, err := inv.post(ctx, desc, inv.endpoint(desc)+"/api/embed", body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, classifyStatus(desc.ID, httpResp.StatusCode, string(respBody))
	}

	var eResp ollamaEmbedResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&eResp); err != nil {
		return nil, engine.Retryable(desc.ID, 0, fmt.Errorf("decode response: %w", err))
	}

	return &models.ProviderResponse{
		Provider:   desc.ID,
		Model:      model,
		Embeddings: eResp.Embeddings,
		Usage: models.TokenUsage{
			InputTokens: eResp.PromptEvalCount,
			TotalTokens: eResp.PromptEvalCount,
		},
	}, nil
}

// InvokeStream reads Ollama's newline-delimited JSON stream.
func (inv *ollamaInvoker) InvokeStream(ctx context.Context, desc *models.ProviderDescriptor, req *models.InvokeRequest, onChunk func(*models.StreamChunk) error) error {
	model := pickModel(desc, req)
	body, _ := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   true,
		Options:  ollamaOptions(req),
	})

	httpResp, err := inv.post(ctx, desc, inv.endpoint(desc)+"/api/chat", body)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return classifyStatus(desc.ID, httpResp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var frame ollamaChatResponse
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}
		if frame.Message.Content != "" {
			if err := onChunk(&models.StreamChunk{Delta: frame.Message.Content}); err != nil {
				return err
			}
		}
		if frame.Done {
			return onChunk(&models.StreamChunk{Done: true})
		}
	}
	if err := scanner.Err(); err != nil {
		return transportError(ctx, desc.ID, err)
	}
	return onChunk(&models.StreamChunk{Done: true})
}

// Probe hits /api/tags, which answers without loading a model.
func (inv *ollamaInvoker) Probe(ctx context.Context, desc *models.ProviderDescriptor) *models.ProviderProbeResult {
	result := &models.ProviderProbeResult{Provider: desc.ID, Kind: desc.Kind}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(probeCtx, "GET", inv.endpoint(desc)+"/api/tags", nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	httpResp, err := inv.client.Do(httpReq)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		result.Error = fmt.Sprintf("unexpected status %d", httpResp.StatusCode)
		return result
	}
	result.Healthy = true
	return result
}

func (inv *ollamaInvoker) post(ctx context.Context, desc *models.ProviderDescriptor, url string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, engine.Fatal(desc.ID, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := inv.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, desc.ID, err)
	}
	return httpResp, nil
}
