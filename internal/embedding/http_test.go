package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakbuild/docmatch/internal/ai"
)

func fastRetry() ai.ProviderDeps {
	return ai.ProviderDeps{Retry: &ai.ExponentialJitter{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}}
}

func TestHTTPEmbedderBatchesAndOrders(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req EmbeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", req.Model)

		// answer in reverse order; the client must sort by index
		var data []string
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, fmt.Sprintf(`{"index": %d, "embedding": [%d, 1]}`, i, len(req.Input[i])))
		}
		_, _ = fmt.Fprintf(w, `{"data": [%s]}`, strings.Join(data, ","))
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL+"/v1/", "key", "sentence-transformers/all-MiniLM-L6-v2", fastRetry())
	texts := make([]string, httpMaxBatchInput+2)
	for i := range texts {
		texts[i] = fmt.Sprintf("%0*d", i+1, 0)
	}

	vecs, err := e.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		assert.Equal(t, []float32{float32(i + 1), 1}, v)
	}
	assert.EqualValues(t, 2, requests)
}

func TestHTTPEmbedderRetriesTransient(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "slow down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": [{"index": 0, "embedding": [0.5]}]}`))
	}))
	defer srv.Close()

	v, err := NewHTTPEmbedder(srv.URL, "", "m", fastRetry()).EmbedText(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, v)
	assert.EqualValues(t, 2, requests)
}

func TestHTTPEmbedderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "input too long"}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPEmbedder(srv.URL, "", "m", fastRetry()).EmbedText(context.Background(), "x")
	var pe *ai.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "input too long")

	_, err = NewHTTPEmbedder("", "", "m", fastRetry()).EmbedText(context.Background(), "x")
	assert.ErrorContains(t, err, "base URL is required")
}
