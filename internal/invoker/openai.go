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

// openAIInvoker speaks the OpenAI chat-completions and embeddings wire
// format. It also serves azure-openai (different auth header) and any
// OpenAI-compatible gateway.
type openAIInvoker struct {
	kind   string
	client *http.Client
}

func (inv *openAIInvoker) Kind() string { return inv.kind }

type openAIChatRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage openAIUsage `json:"usage"`
}

func (inv *openAIInvoker) endpoint(desc *models.ProviderDescriptor) string {
	if desc.Endpoint != "" {
		return desc.Endpoint
	}
	return "https://api.openai.com/v1"
}

func (inv *openAIInvoker) Invoke(ctx context.Context, desc *models.ProviderDescriptor, req *models.InvokeRequest) (*models.ProviderResponse, error) {
	if req.TaskType == models.TaskEmbedding {
		return inv.invokeEmbedding(ctx, desc, req)
	}
	return inv.invokeChat(ctx, desc, req)
}

func (inv *openAIInvoker) invokeChat(ctx context.Context, desc *models.ProviderDescriptor, req *models.InvokeRequest) (*models.ProviderResponse, error) {
	model := pickModel(desc, req)
	body, _ := json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})

	httpResp, err := inv.post(ctx, desc, inv.endpoint(desc)+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, classifyStatus(desc.ID, httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return nil, engine.Retryable(desc.ID, 0, fmt.Errorf("decode response: %w", err))
	}

	content := ""
	finish := ""
	if len(oaiResp.Choices) > 0 {
		content = oaiResp.Choices[0].Message.Content
		finish = oaiResp.Choices[0].FinishReason
	}

	return &models.ProviderResponse{
		ID:           oaiResp.ID,
		Provider:     desc.ID,
		Model:        model,
		Content:      content,
		FinishReason: finish,
		Usage: models.TokenUsage{
			InputTokens:      oaiResp.Usage.PromptTokens,
			OutputTokens:     oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
			EstimatedCostUSD: estimateCost(desc, model, oaiResp.Usage.PromptTokens, oaiResp.Usage.CompletionTokens),
		},
	}, nil
}

func (inv *openAIInvoker) invokeEmbedding(ctx context.Context, desc *models.ProviderDescriptor, req *models.InvokeRequest) (*models.ProviderResponse, error) {
	model := pickModel(desc, req)
	body, _ := json.Marshal(openAIEmbeddingRequest{Model: model, Input: req.Input})

	httpResp, err := inv.post(ctx, desc, inv.endpoint(desc)+"/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, classifyStatus(desc.ID, httpResp.StatusCode, string(respBody))
	}

	var embResp openAIEmbeddingResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&embResp); err != nil {
		return nil, engine.Retryable(desc.ID, 0, fmt.Errorf("decode response: %w", err))
	}

	embeddings := make([][]float64, 0, len(embResp.Data))
	for _, d := range embResp.Data {
		embeddings = append(embeddings, d.Embedding)
	}

	return &models.ProviderResponse{
		Provider:   desc.ID,
		Model:      model,
		Embeddings: embeddings,
		Usage: models.TokenUsage{
			InputTokens: embResp.Usage.PromptTokens,
			TotalTokens: embResp.Usage.TotalTokens,
		},
	}, nil
}

// InvokeStream sends a streaming chat request and forwards SSE deltas.
func (inv *openAIInvoker) InvokeStream(ctx context.Context, desc *models.ProviderDescriptor, req *models.InvokeRequest, onChunk func(*models.StreamChunk) error) error {
	model := pickModel(desc, req)
	body, _ := json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})

	httpResp, err := inv.post(ctx, desc, inv.endpoint(desc)+"/chat/completions", body)
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
		if data == "[DONE]" {
			return onChunk(&models.StreamChunk{Done: true})
		}

		var frame struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			continue // tolerate unknown frames
		}
		if len(frame.Choices) > 0 && frame.Choices[0].Delta.Content != "" {
			if err := onChunk(&models.StreamChunk{Delta: frame.Choices[0].Delta.Content}); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return transportError(ctx, desc.ID, err)
	}
	return onChunk(&models.StreamChunk{Done: true})
}

// Probe sends a minimal 1-token chat completion to validate credentials.
func (inv *openAIInvoker) Probe(ctx context.Context, desc *models.ProviderDescriptor) *models.ProviderProbeResult {
	result := &models.ProviderProbeResult{Provider: desc.ID, Kind: desc.Kind}

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	model := pickModel(desc, &models.InvokeRequest{})
	if model == "" {
		model = "gpt-4o-mini"
	}

	start := time.Now()
	_, err := inv.invokeChat(probeCtx, desc, &models.InvokeRequest{
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

func (inv *openAIInvoker) post(ctx context.Context, desc *models.ProviderDescriptor, url string, body []byte) (*http.Response, error) {
	key := apiKey(desc)
	if key == "" {
		return nil, engine.Fatal(desc.ID, 0, fmt.Errorf("api_key not configured for provider %s", desc.ID))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, engine.Fatal(desc.ID, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Azure OpenAI uses a different auth header.
	if inv.kind == "azure-openai" {
		httpReq.Header.Set("api-key", key)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	httpResp, err := inv.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, desc.ID, err)
	}
	return httpResp, nil
}
