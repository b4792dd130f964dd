// gemini.go - Gemini completion provider and shared response handling

package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/stakbuild/docmatch/internal/common"
	"github.com/stakbuild/docmatch/internal/ratelimit"
)

const providerGemini = "gemini"

// ProviderDeps are the collaborators shared by every provider.
type ProviderDeps struct {
	Limiter *ratelimit.Limiter
	Retry   RetryPolicy
	Logger  *zap.Logger
}

// WithDefaults fills unset collaborators with no-op or default values.
func (d ProviderDeps) WithDefaults() ProviderDeps {
	if d.Limiter == nil {
		d.Limiter = ratelimit.Unlimited()
	}
	if d.Retry == nil {
		d.Retry = DefaultRetryPolicy()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// contentGenerator is the part of *genai.GenerativeModel the providers use.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiCompleter implements Completer on the Gemini API.
type GeminiCompleter struct {
	client    *genai.Client
	modelName string
	deps      ProviderDeps
	newModel  func(req CompletionRequest) contentGenerator
}

// NewGeminiCompleter creates a Gemini client for modelName.
func NewGeminiCompleter(ctx context.Context, apiKey, modelName string, deps ProviderDeps) (*GeminiCompleter, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g := &GeminiCompleter{client: client, modelName: modelName, deps: deps.WithDefaults()}
	g.newModel = func(req CompletionRequest) contentGenerator {
		model := client.GenerativeModel(modelName)
		model.GenerationConfig = genai.GenerationConfig{
			MaxOutputTokens: ptr(int32(req.MaxTokens)),
			Temperature:     ptr(float32(req.Temperature)),
		}
		if req.JSON {
			model.ResponseMIMEType = "application/json"
		}
		return model
	}
	return g, nil
}

// Name returns "gemini"
func (g *GeminiCompleter) Name() string {
	return providerGemini
}

// Complete sends the prompt with retries on transient failures.
func (g *GeminiCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := g.newModel(req)
	resp, err := DoValue(ctx, g.deps.Retry, g.deps.Logger, "gemini completion", func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		if err := g.deps.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
		r, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
		if err != nil {
			return nil, ClassifyError(providerGemini, err)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	out, err := readGeminiResponse(resp)
	if err != nil {
		return nil, err
	}
	if out.Truncated {
		g.deps.Logger.Warn("gemini response truncated", zap.String("model", g.modelName), zap.Int("max_tokens", req.MaxTokens))
	}
	return out, nil
}

// Close releases the client.
func (g *GeminiCompleter) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// readGeminiResponse concatenates the text parts of the first candidate.
func readGeminiResponse(resp *genai.GenerateContentResponse) (*Completion, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from Gemini API: %w", ErrEmptyResponse)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return nil, fmt.Errorf("no text in Gemini response: %w", ErrEmptyResponse)
	}

	out := &Completion{
		Text:      b.String(),
		Truncated: resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens,
	}
	if resp.UsageMetadata != nil {
		out.Usage = common.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func ptr[T any](v T) *T {
	return &v
}

// FlexibleFloat64 can unmarshal from both string and number
type FlexibleFloat64 float64

func (f *FlexibleFloat64) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = FlexibleFloat64(num)
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("cannot unmarshal %s as float64 or string", string(data))
	}
	str = strings.TrimSpace(str)
	if str == "" {
		*f = 0
		return nil
	}

	num, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return fmt.Errorf("cannot parse string %q as float64: %w", str, err)
	}
	*f = FlexibleFloat64(num)
	return nil
}
