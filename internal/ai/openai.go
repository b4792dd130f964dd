// openai.go - OpenAI-compatible chat completion provider

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/internal/common"
)

const (
	providerOpenAI       = "openai"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// OpenAIProvider implements Completer for any OpenAI-compatible
// /chat/completions endpoint (OpenAI, OpenRouter, vLLM, Ollama).
type OpenAIProvider struct {
	apiKey    string
	baseURL   string
	modelName string
	client    *http.Client
	deps      ProviderDeps
}

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(apiKey, baseURL, modelName string, deps ProviderDeps) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		modelName: modelName,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		deps: deps.WithDefaults(),
	}
}

// Name returns "openai"
func (o *OpenAIProvider) Name() string {
	return providerOpenAI
}

// Chat completion API request/response structures
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// Complete sends the prompt as a single user message.
func (o *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	request := openAIChatRequest{
		Model:       o.modelName,
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		request.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	response, err := DoValue(ctx, o.deps.Retry, o.deps.Logger, "openai completion", func(ctx context.Context) (*openAIChatResponse, error) {
		if err := o.deps.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return o.callChatAPI(ctx, request)
	})
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("no choices returned from chat API: %w", ErrEmptyResponse)
	}
	choice := response.Choices[0]
	out := &Completion{
		Text:      choice.Message.Content,
		Truncated: choice.FinishReason == "length",
		Usage: common.TokenUsage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
			TotalTokens:  response.Usage.TotalTokens,
		},
	}
	if out.Truncated {
		o.deps.Logger.Warn("chat completion truncated", zap.String("model", o.modelName), zap.Int("max_tokens", req.MaxTokens))
	}
	return out, nil
}

// callChatAPI makes one HTTP request to the chat completions endpoint
func (o *OpenAIProvider) callChatAPI(ctx context.Context, request openAIChatRequest) (*openAIChatResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", o.apiKey))
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, ClassifyError(providerOpenAI, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyError(providerOpenAI, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		message := string(body)
		var errorResp openAIErrorResponse
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			message = errorResp.Error.Message
		}
		return nil, ClassifyStatus(providerOpenAI, resp.StatusCode, message,
			fmt.Errorf("chat API error (%d): %s", resp.StatusCode, message))
	}

	var response openAIChatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &MalformedResponseError{Provider: providerOpenAI, Body: string(body), Err: err}
	}
	return &response, nil
}
