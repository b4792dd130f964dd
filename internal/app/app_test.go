package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakbuild/docmatch/configs"
	"github.com/stakbuild/docmatch/internal/embedding"
	"github.com/stakbuild/docmatch/internal/embedding/embeddingtest"
	"github.com/stakbuild/docmatch/internal/model"
	"github.com/stakbuild/docmatch/internal/processor"
	"github.com/stakbuild/docmatch/internal/storage"
)

const seedYAML = `
companies:
  acme:
    projects:
      - uuid: p-1
        name: Grant Residence
        address: 123 Main St
        supervisor: Alice
        client_first_name: Michael
        client_last_name: Grant
      - uuid: p-2
        name: Closed Job
        address: 789 Pine Rd
        client_last_name: Old
        is_active: false
    vendors:
      - uuid: v-1
        name: Acme Lumber Supply
        external_id: ag-1
      - name: Pacific Electric
`

// embeddingServer answers the OpenAI-compatible embeddings call with
// bag-of-words vectors.
func embeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedding.EmbeddingRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var resp embedding.EmbeddingResponse
		resp.Model = req.Model
		for i, text := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: embeddingtest.Vector(text), Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))
	return path
}

func testConfig(t *testing.T) *configs.Config {
	cfg := configs.Default()
	cfg.EmbeddingProvider = "http"
	cfg.EmbeddingBaseURL = embeddingServer(t).URL
	cfg.GeminiAPIKey = ""
	cfg.AgaveClientID = ""
	return cfg
}

func TestLoadSeed(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	require.NoError(t, LoadSeed(ctx, mem, writeSeed(t)))

	projects, err := mem.ListProjects(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, projects, 2)
	byID := map[string]model.ProjectRecord{}
	for _, p := range projects {
		byID[p.UUID] = p
	}
	assert.True(t, byID["p-1"].IsActive, "is_active defaults to true")
	assert.False(t, byID["p-2"].IsActive)
	assert.Equal(t, "Michael", byID["p-1"].ClientFirstName)

	vendors, err := mem.FetchVendorSummaries(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, vendors, 2)
	assert.Equal(t, "ag-1", model.Deref(vendors[0].ExternalID))
	assert.Nil(t, vendors[1].ExternalID)
	assert.Len(t, vendors[1].InternalUUID, 16, "missing ids are generated")

	assert.Error(t, LoadSeed(ctx, mem, filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestNewInMemory(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), nil, Options{Memory: true, SeedFile: writeSeed(t)})
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close(ctx)) }()

	assert.Nil(t, a.Syncer, "no Agave credentials")
	assert.NotNil(t, a.Handler())

	entities := []model.ExtractedEntity{
		{TypeMajor: "ship_to_address", RawValue: "123 Main St", Confidence: 0.9},
		{TypeMajor: "supplier_name", RawValue: "Acme Lumber Supply", Confidence: 0.95},
	}
	pred, err := a.Processor.PredictProject(ctx, "acme", entities, "Ship to: 123 Main St")
	require.NoError(t, err)
	require.False(t, pred.IsUnknown())
	assert.Equal(t, "p-1", *pred.UUID)

	_, vendor, err := a.Processor.PredictVendor(ctx, "acme", entities, "")
	require.NoError(t, err)
	require.True(t, vendor.IsMatched())
	assert.Equal(t, "v-1", *vendor.InternalUUID)

	_, err = a.Processor.Ingest(ctx, "acme", model.KindInvoice, "application/pdf", []byte("%PDF"))
	assert.ErrorIs(t, err, processor.ErrNoExtractor)

	summary, err := a.Reconciler.Reconcile(ctx, "acme")
	require.NoError(t, err)
	assert.Zero(t, summary.Selected)
}

func TestNewRejectsBadEmbedder(t *testing.T) {
	cfg := configs.Default()
	cfg.EmbeddingProvider = "http"
	cfg.EmbeddingBaseURL = ""

	_, err := New(context.Background(), cfg, nil, Options{Memory: true})
	assert.ErrorContains(t, err, "EMBEDDING_BASE_URL")
}

func TestNewRejectsBadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("companies: [not, a, map]"), 0o644))

	_, err := New(context.Background(), testConfig(t), nil, Options{Memory: true, SeedFile: path})
	assert.ErrorContains(t, err, "parse seed")
}
