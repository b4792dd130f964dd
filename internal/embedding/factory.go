// factory.go - Embedder construction from configuration

package embedding

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/configs"
	"github.com/stakbuild/docmatch/internal/ai"
)

// NewEmbedder creates the configured provider wrapped in a CachedEmbedder,
// backed by SQLite when EMBEDDING_CACHE_PATH is set.
func NewEmbedder(ctx context.Context, cfg *configs.Config, deps ai.ProviderDeps) (*CachedEmbedder, error) {
	deps = deps.WithDefaults()

	var inner Embedder
	switch cfg.EmbeddingProvider {
	case "http":
		if cfg.EmbeddingBaseURL == "" {
			return nil, errors.New("EMBEDDING_BASE_URL is required for the http embedding provider")
		}
		inner = NewHTTPEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, deps)
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is required for the gemini embedding provider")
		}
		g, err := NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, deps)
		if err != nil {
			return nil, err
		}
		inner = g
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (supported: http, gemini)", cfg.EmbeddingProvider)
	}

	var store VectorStore
	if cfg.EmbeddingCachePath != "" {
		s, err := OpenSQLiteVectorStore(cfg.EmbeddingCachePath)
		if err != nil {
			_ = inner.Close()
			return nil, fmt.Errorf("open embedding cache: %w", err)
		}
		store = s
		deps.Logger.Info("embedding cache opened", zap.String("path", cfg.EmbeddingCachePath))
	}

	deps.Logger.Info("embedder ready",
		zap.String("provider", cfg.EmbeddingProvider),
		zap.String("model", inner.ModelID()),
	)
	return NewCachedEmbedder(inner, store, cfg.EmbeddingMemoryCacheSize, deps.Logger), nil
}
