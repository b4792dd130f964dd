// interface.go - Provider interfaces for supporting multiple AI providers

package ai

import (
	"context"

	"github.com/stakbuild/docmatch/internal/common"
	"github.com/stakbuild/docmatch/internal/model"
)

// Completer is a text completion provider (Gemini, OpenAI-compatible, ...).
type Completer interface {
	// Complete sends one prompt and returns the generated text.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// Name returns the name of the provider (e.g., "gemini", "openai")
	Name() string
}

// CompletionRequest is a single-prompt generation request.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON-only answer when it supports it.
	JSON bool
}

// Completion is a provider answer.
type Completion struct {
	Text      string
	Usage     common.TokenUsage
	Truncated bool // output stopped at MaxTokens
}

// TextExtractor turns an uploaded document into full text and typed entities.
type TextExtractor interface {
	Extract(ctx context.Context, mimeType string, data []byte) (*model.Extraction, *common.TokenUsage, error)
}
