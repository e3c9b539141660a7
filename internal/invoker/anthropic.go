package invoker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/engine"
	"github.com/modelrelay/modelrelay/pkg/models"
)

const anthropicVersion = "2023-06-01"

// anthropicInvoker speaks the Anthropic Messages API.
type anthropicInvoker struct {
	client *http.Client
}

func (inv *anthropicInvoker) Kind() string { return "anthropic" }

type anthropicRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	System      string               `json:"system,omitempty"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature *float64             `json:"temperature,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (inv *anthropicInvoker) endpoint(desc *models.ProviderDescriptor) string {
	if desc.Endpoint != "" {
		return desc.Endpoint
	}
	return "https://api.anthropic.com/v1"
}

// buildRequest lifts system messages out of the message list; the Messages
// API takes them as a top-level field.
func buildAnthropicRequest(req *models.InvokeRequest, model string, stream bool) anthropicRequest {
	out := anthropicRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			out.System = m.Content
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	return out
}

func (inv *anthropicInvoker) Invoke(ctx context.Context, desc *models.ProviderDescriptor, req *models.InvokeRequest) (*models.ProviderResponse, error) {
	if req.TaskType == models.TaskEmbedding {
		return nil, engine.Fatal(desc.ID, 0, fmt.Errorf("provider %s does not support embeddings", desc.ID))
	}

	model := pickModel(desc, req)
	body, _ := json.Marshal(buildAnthropicRequest(req, model, false))

	httpResp, err := inv.post(ctx, desc, body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, classifyStatus(desc.ID, httpResp.StatusCode, string(respBody))
	}

	var aResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&aResp); err != nil {
		return nil, engine.Retryable(desc.ID, 0, fmt.Errorf("decode response: %w", err))
	}

	var content strings.Builder
	for _, block := range aResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &models.ProviderResponse{
		ID:           aResp.ID,
		Provider:     desc.ID,
		Model:        model,
		Content:      content.String(),
		FinishReason: aResp.StopReason,
		Usage: models.TokenUsage{
			InputTokens:      aResp.Usage.InputTokens,
			OutputTokens:     aResp.Usage.OutputTokens,
			TotalTokens:      aResp.Usage.InputTokens + aResp.Usage.OutputTokens,
			EstimatedCostUSD: estimateCost(desc, model, aResp.Usage.InputTokens, aResp.Usage.OutputTokens),
		},
	}, nil
}

func (inv *anthropicInvoker) InvokeStream(ctx context.Context, desc *models.ProviderDescriptor, req *models.InvokeRequest, onChunk func(*models.StreamChunk) error) error {
	model := pickModel(desc, req)
	body, _ := json.Marshal(buildAnthropicRequest(req, model, true))

	httpResp, err := inv.post(ctx, desc, body)
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
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var frame struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "content_block_delta":
			if frame.Delta.Text != "" {
				if err := onChunk(&models.StreamChunk{Delta: frame.Delta.Text}); err != nil {
					return err
				}
			}
		case "message_stop":
			return onChunk(&models.StreamChunk{Done: true})
		}
	}
	if err := scanner.Err(); err != nil {
		return transportError(ctx, desc.ID, err)
	}
	return onChunk(&models.StreamChunk{Done: true})
}

func (inv *anthropicInvoker) Probe(ctx context.Context, desc *models.ProviderDescriptor) *models.ProviderProbeResult {
	result := &models.ProviderProbeResult{Provider: desc.ID, Kind: desc.Kind}

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	model := pickModel(desc, &models.InvokeRequest{})
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	start := time.Now()
	_, err := inv.Invoke(probeCtx, desc, &models.InvokeRequest{
		Model:     model,
		Messages:  []models.ChatMessage{{Role: "user", Content: "Say OK"}},
		MaxTokens: 1,
	})
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Healthy = true
	result.Model = model
	return result
}

func (inv *anthropicInvoker) post(ctx context.Context, desc *models.ProviderDescriptor, body []byte) (*http.Response, error) {
	key := apiKey(desc)
	if key == "" {
		return nil, engine.Fatal(desc.ID, 0, fmt.Errorf("api_key not configured for provider %s", desc.ID))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", inv.endpoint(desc)+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, engine.Fatal(desc.ID, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", key)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := inv.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, desc.ID, err)
	}
	return httpResp, nil
}
