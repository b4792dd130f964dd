// http.go - OpenAI-compatible embeddings client

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/internal/ai"
	"github.com/stakbuild/docmatch/internal/ratelimit"
)

const (
	providerHTTP      = "embeddings"
	httpMaxBatchInput = 64
)

// EmbeddingRequest is the request body of POST {base}/embeddings.
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingResponse is the response body of the embeddings endpoint.
type EmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// ErrorResponse is the error body of the embeddings endpoint.
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint. It serves the
// pinned sentence-transformers checkpoint through a sidecar such as Hugging
// Face TEI or Ollama.
type HTTPEmbedder struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
	retry   ai.RetryPolicy
	logger  *zap.Logger
}

// NewHTTPEmbedder creates a new embeddings client with the provided base URL.
func NewHTTPEmbedder(baseURL, apiKey, model string, deps ai.ProviderDeps) *HTTPEmbedder {
	deps = deps.WithDefaults()
	return &HTTPEmbedder{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: deps.Limiter,
		retry:   deps.Retry,
		logger:  deps.Logger,
	}
}

func (h *HTTPEmbedder) ModelID() string { return h.model }

func (h *HTTPEmbedder) Close() error { return nil }

// EmbedText generates an embedding vector for the given text
func (h *HTTPEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	out, err := h.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedTexts embeds texts in batches, preserving input order.
func (h *HTTPEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if strings.TrimSpace(h.baseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(h.model) == "" {
		return nil, fmt.Errorf("model is required")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += httpMaxBatchInput {
		end := min(start+httpMaxBatchInput, len(texts))
		batch := texts[start:end]
		vecs, err := ai.DoValue(ctx, h.retry, h.logger, "embed batch", func(ctx context.Context) ([][]float32, error) {
			if err := h.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return h.call(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (h *HTTPEmbedder) call(ctx context.Context, batch []string) ([][]float32, error) {
	jsonData, err := json.Marshal(EmbeddingRequest{Model: h.model, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, ai.ClassifyError(providerHTTP, fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ai.ClassifyError(providerHTTP, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		message := string(body)
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		return nil, ai.ClassifyStatus(providerHTTP, resp.StatusCode, message,
			fmt.Errorf("API error (%d): %s", resp.StatusCode, message))
	}

	var embeddingResp EmbeddingResponse
	if err := json.Unmarshal(body, &embeddingResp); err != nil {
		return nil, &ai.MalformedResponseError{Provider: providerHTTP, Body: string(body), Err: err}
	}
	if len(embeddingResp.Data) != len(batch) {
		return nil, &ai.MalformedResponseError{
			Provider: providerHTTP,
			Body:     string(body),
			Err:      fmt.Errorf("got %d embeddings for %d inputs", len(embeddingResp.Data), len(batch)),
		}
	}

	sort.SliceStable(embeddingResp.Data, func(i, j int) bool {
		return embeddingResp.Data[i].Index < embeddingResp.Data[j].Index
	})
	vecs := make([][]float32, len(batch))
	for i, d := range embeddingResp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
