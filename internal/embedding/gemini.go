// gemini.go - Gemini embedding provider

package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/stakbuild/docmatch/internal/ai"
	"github.com/stakbuild/docmatch/internal/ratelimit"
)

const geminiMaxBatch = 100

// GeminiEmbedder embeds text with a Gemini embedding model.
type GeminiEmbedder struct {
	client    *genai.Client
	model     *genai.EmbeddingModel
	modelName string
	limiter   *ratelimit.Limiter
	retry     ai.RetryPolicy
	logger    *zap.Logger
}

// NewGeminiEmbedder creates a Gemini client for modelName (e.g. text-embedding-004).
func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, deps ai.ProviderDeps) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	deps = deps.WithDefaults()
	return &GeminiEmbedder{
		client:    client,
		model:     client.EmbeddingModel(modelName),
		modelName: modelName,
		limiter:   deps.Limiter,
		retry:     deps.Retry,
		logger:    deps.Logger,
	}, nil
}

func (g *GeminiEmbedder) ModelID() string { return "gemini/" + g.modelName }

func (g *GeminiEmbedder) Close() error { return g.client.Close() }

func (g *GeminiEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	out, err := g.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedTexts sends texts in BatchEmbedContents calls of up to 100 entries.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiMaxBatch {
		end := min(start+geminiMaxBatch, len(texts))
		batch := g.model.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		resp, err := ai.DoValue(ctx, g.retry, g.logger, "gemini embed batch", func(ctx context.Context) (*genai.BatchEmbedContentsResponse, error) {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			r, err := g.model.BatchEmbedContents(ctx, batch)
			if err != nil {
				return nil, ai.ClassifyError("gemini", err)
			}
			return r, nil
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs: %w", len(resp.Embeddings), end-start, ai.ErrEmptyResponse)
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}
