// factory.go - Provider factory for creating completer instances

package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/configs"
)

// NewCompleter creates the completion provider named by provider.
func NewCompleter(ctx context.Context, provider string, cfg *configs.Config, deps ProviderDeps) (Completer, error) {
	switch provider {
	case providerGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
		return NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.LLMModel, deps)

	case providerOpenAI:
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, deps), nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: gemini, openai)", provider)
	}
}

// NewCompleterWithFallback creates the configured primary provider and, when
// LLM_FALLBACK_PROVIDER names a different one, wraps both in a FallbackCompleter.
func NewCompleterWithFallback(ctx context.Context, cfg *configs.Config, deps ProviderDeps) (Completer, error) {
	deps = deps.WithDefaults()
	primary, err := NewCompleter(ctx, cfg.LLMProvider, cfg, deps)
	if err != nil {
		return nil, err
	}
	if cfg.LLMFallbackProvider == "" || cfg.LLMFallbackProvider == cfg.LLMProvider {
		return primary, nil
	}

	fallback, err := NewCompleter(ctx, cfg.LLMFallbackProvider, cfg, deps)
	if err != nil {
		deps.Logger.Warn("fallback provider not configured", zap.String("provider", cfg.LLMFallbackProvider), zap.Error(err))
		return primary, nil
	}
	deps.Logger.Info("fallback provider configured",
		zap.String("primary", primary.Name()),
		zap.String("fallback", fallback.Name()),
	)
	return &FallbackCompleter{Primary: primary, Fallback: fallback, Logger: deps.Logger}, nil
}

// FallbackCompleter asks Fallback when Primary fails with a provider error.
// Context cancellation is never retried on the fallback.
type FallbackCompleter struct {
	Primary  Completer
	Fallback Completer
	Logger   *zap.Logger
}

func (f *FallbackCompleter) Name() string {
	return f.Primary.Name() + "+" + f.Fallback.Name()
}

func (f *FallbackCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	out, err := f.Primary.Complete(ctx, req)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("primary provider failed, using fallback",
		zap.String("primary", f.Primary.Name()),
		zap.String("fallback", f.Fallback.Name()),
		zap.Error(err),
	)
	out, fbErr := f.Fallback.Complete(ctx, req)
	if fbErr != nil {
		return nil, fmt.Errorf("fallback %s failed: %w (primary: %v)", f.Fallback.Name(), fbErr, err)
	}
	return out, nil
}
