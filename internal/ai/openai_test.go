package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderComplete(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "{\"vendor_name\": \"Acme Lumber\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL+"/", "gpt-4o-mini", ProviderDeps{Retry: fastPolicy(1)})
	out, err := p.Complete(context.Background(), CompletionRequest{Prompt: "who sent this", MaxTokens: 100, Temperature: 0.3, JSON: true})
	require.NoError(t, err)

	assert.Equal(t, `{"vendor_name": "Acme Lumber"}`, out.Text)
	assert.Equal(t, 20, out.Usage.TotalTokens)
	assert.False(t, out.Truncated)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "who sent this", got.Messages[0].Content)
}

func TestOpenAIProviderRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}, "finish_reason": "length"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("", srv.URL, "m", ProviderDeps{Retry: fastPolicy(3)})
	out, err := p.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.True(t, out.Truncated)
	assert.EqualValues(t, 2, calls)
}

func TestOpenAIProviderErrors(t *testing.T) {
	t.Run("unauthorized is permanent", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": {"message": "bad key", "code": "invalid_api_key"}}`))
		}))
		defer srv.Close()

		_, err := NewOpenAIProvider("k", srv.URL, "m", ProviderDeps{Retry: fastPolicy(3)}).
			Complete(context.Background(), CompletionRequest{Prompt: "x"})
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, CategoryUnauthorized, pe.Category)
		assert.Contains(t, err.Error(), "bad key")
		assert.EqualValues(t, 1, calls)
	})

	t.Run("empty choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices": []}`))
		}))
		defer srv.Close()

		_, err := NewOpenAIProvider("k", srv.URL, "m", ProviderDeps{}).
			Complete(context.Background(), CompletionRequest{Prompt: "x"})
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		_, err := NewOpenAIProvider("k", srv.URL, "m", ProviderDeps{}).
			Complete(context.Background(), CompletionRequest{Prompt: "x"})
		var me *MalformedResponseError
		assert.ErrorAs(t, err, &me)
	})
}
