// Package aitest provides scripted completion providers for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/stakbuild/docmatch/internal/ai"
	"github.com/stakbuild/docmatch/internal/common"
)

// Completer answers every request with Text, or fails with Err. Fn, when
// set, overrides both.
type Completer struct {
	ProviderName string
	Text         string
	Err          error
	Fn           func(ctx context.Context, req ai.CompletionRequest) (*ai.Completion, error)

	mu       sync.Mutex
	requests []ai.CompletionRequest
}

func (c *Completer) Name() string {
	if c.ProviderName == "" {
		return "scripted"
	}
	return c.ProviderName
}

func (c *Completer) Complete(ctx context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.Fn != nil {
		return c.Fn(ctx, req)
	}
	if c.Err != nil {
		return nil, c.Err
	}
	return &ai.Completion{Text: c.Text, Usage: common.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}, nil
}

// Calls is the number of requests received.
func (c *Completer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns the requests received so far.
func (c *Completer) Requests() []ai.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ai.CompletionRequest(nil), c.requests...)
}
