package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakbuild/docmatch/configs"
	"github.com/stakbuild/docmatch/internal/embedding/embeddingtest"
	"github.com/stakbuild/docmatch/internal/model"
	"github.com/stakbuild/docmatch/internal/processor"
	"github.com/stakbuild/docmatch/internal/storage"
)

const company = "acme"

func newVendorPredictor(t *testing.T) *processor.VendorPredictor {
	t.Helper()
	v, err := processor.NewVendorPredictor(nil, &embeddingtest.BagOfWords{}, configs.Default(), nil, nil)
	require.NoError(t, err)
	return v
}

func matched(name, ext, uuid string) model.VendorPrediction {
	return model.VendorPrediction{
		SupplierName:    model.StringPtr(name),
		MatchConfidence: model.Float64Ptr(0.95),
		ExternalID:      model.StringPtr(ext),
		InternalUUID:    model.StringPtr(uuid),
		Source:          model.SourceEntity,
	}
}

func unmatched(name string) model.VendorPrediction {
	pred := model.VendorPrediction{Source: model.SourceLLM}
	if name != "" {
		pred.SupplierName = model.StringPtr(name)
	}
	return pred
}

// seed stores a roster and five documents:
//
//	d-matched   invoice, matched to a live roster entry
//	d-stale     invoice, matched to a uuid no longer in the roster
//	d-contract  contract, unmatched but its name is now on the roster
//	d-none      client-bill invoice, name not on the roster
//	d-null      invoice, no vendor name at all
func seed(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.InsertVendors(ctx, company, []model.VendorCandidate{
		{Name: "Acme Lumber Supply", ExternalID: model.StringPtr("ag-1"), InternalUUID: "v-1"},
		{Name: "Pacific Electric", ExternalID: model.StringPtr("ag-2"), InternalUUID: "v-2"},
	}))

	docs := []struct {
		id   string
		kind model.DocKind
		pred model.VendorPrediction
	}{
		{"d-matched", model.KindInvoice, matched("Acme Lumber Supply", "ag-1", "v-1")},
		{"d-stale", model.KindInvoice, matched("Pacific Electric", "ag-9", "v-9")},
		{"d-contract", model.KindContract, unmatched("Acme Lumber Supply")},
		{"d-none", model.KindClientBillInvoice, unmatched("Zeta Plumbing")},
		{"d-null", model.KindInvoice, unmatched("")},
	}
	for i, d := range docs {
		require.NoError(t, store.InsertDocument(ctx, &model.DocumentRecord{
			DocID:           d.id,
			CompanyID:       company,
			ProjectID:       model.StringPtr("p-1"),
			Kind:            d.kind,
			PredictedVendor: d.pred,
			CreatedAt:       time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		}))
	}
	return store
}

func TestNeedsRematch(t *testing.T) {
	roster := map[string]struct{}{"v-1": {}}
	tests := []struct {
		name string
		pred model.VendorPrediction
		want bool
	}{
		{"live match", matched("A", "ag-1", "v-1"), false},
		{"uuid gone", matched("A", "ag-1", "v-2"), true},
		{"no external id", model.VendorPrediction{InternalUUID: model.StringPtr("v-1")}, true},
		{"unmatched", unmatched("A"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsRematch(tt.pred, roster))
		})
	}
}

func TestReconcileUpdatesStaleAndUnmatched(t *testing.T) {
	store := seed(t)
	r := New(store, store, newVendorPredictor(t), configs.Default(), nil)
	ctx := context.Background()

	summary, err := r.Reconcile(ctx, company)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 4, summary.Selected, "d-matched still points at the roster")
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 2, summary.Unchanged)
	assert.Zero(t, summary.Failed)

	require.Contains(t, summary.Invoice, "d-stale")
	stale := summary.Invoice["d-stale"]
	assert.Equal(t, "v-2", *stale.PredictedVendor.InternalUUID)
	assert.Equal(t, "ag-2", *stale.PredictedVendor.ExternalID)
	assert.InDelta(t, 1.0, *stale.PredictedVendor.MatchConfidence, 1e-9)
	require.NotNil(t, stale.Vendor)
	assert.Equal(t, "v-2", *stale.Vendor.UUID)
	assert.Equal(t, "p-1", *stale.ProjectID)

	require.Contains(t, summary.Contract, "d-contract")
	contract := summary.Contract["d-contract"]
	assert.Equal(t, "v-1", *contract.PredictedVendor.InternalUUID)
	assert.Equal(t, model.SourceLLM, contract.PredictedVendor.Source, "source of the guess is kept")
	assert.Nil(t, contract.Vendor)
	assert.NotContains(t, summary.Invoice, "d-none")

	stored, err := store.GetDocument(ctx, company, "d-stale")
	require.NoError(t, err)
	assert.True(t, stored.PredictedVendor.Equal(stale.PredictedVendor))
	require.NotNil(t, stored.Vendor)
	assert.Equal(t, "Pacific Electric", *stored.Vendor.Name)

	raw, err := json.Marshal(summary)
	require.NoError(t, err)
	var shape map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &shape))
	assert.Contains(t, shape, "contract")
	assert.Contains(t, shape, "invoice")
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := seed(t)
	r := New(store, store, newVendorPredictor(t), configs.Default(), nil)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, company)
	require.NoError(t, err)
	before, err := store.ListVendorMatchDocuments(ctx, company)
	require.NoError(t, err)

	second, err := r.Reconcile(ctx, company)
	require.NoError(t, err)
	assert.Zero(t, second.Updated)
	assert.Empty(t, second.Invoice)
	assert.Empty(t, second.Contract)
	assert.Equal(t, 2, second.Selected, "only the still-unmatched documents are swept")
	assert.Equal(t, 1, store.AppliedBatches(), "no write on the second sweep")

	after, err := store.ListVendorMatchDocuments(ctx, company)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.True(t, before[i].PredictedVendor.Equal(after[i].PredictedVendor), before[i].DocID)
	}
}

func TestReconcileRosterEntryWithoutExternalID(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.InsertVendors(ctx, company, []model.VendorCandidate{
		{Name: "Northside Concrete", InternalUUID: "v-3"},
	}))
	require.NoError(t, store.InsertDocument(ctx, &model.DocumentRecord{
		DocID:           "d-local",
		CompanyID:       company,
		Kind:            model.KindInvoice,
		PredictedVendor: unmatched("Northside Concrete"),
	}))
	r := New(store, store, newVendorPredictor(t), configs.Default(), nil)

	first, err := r.Reconcile(ctx, company)
	require.NoError(t, err)
	require.Contains(t, first.Invoice, "d-local")
	assert.Equal(t, "v-3", *first.Invoice["d-local"].PredictedVendor.InternalUUID)
	assert.Nil(t, first.Invoice["d-local"].PredictedVendor.ExternalID)

	for range 2 {
		again, err := r.Reconcile(ctx, company)
		require.NoError(t, err)
		assert.Equal(t, 1, again.Selected, "no external id keeps it selectable")
		assert.Zero(t, again.Updated)
		assert.Equal(t, 1, again.Unchanged)
		assert.Empty(t, again.Invoice)
	}
	assert.Equal(t, 1, store.AppliedBatches())
}

func TestReconcileUnmatchesRemovedVendor(t *testing.T) {
	store := seed(t)
	r := New(store, store, newVendorPredictor(t), configs.Default(), nil)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, company)
	require.NoError(t, err)
	store.RemoveVendor(company, "v-1")

	summary, err := r.Reconcile(ctx, company)
	require.NoError(t, err)
	require.Contains(t, summary.Invoice, "d-matched")
	require.Contains(t, summary.Contract, "d-contract")

	pred := summary.Invoice["d-matched"].PredictedVendor
	assert.False(t, pred.IsMatched())
	assert.Nil(t, pred.ExternalID)
	assert.Nil(t, pred.MatchConfidence)
	assert.Equal(t, "Acme Lumber Supply", *pred.SupplierName)
	assert.Nil(t, summary.Invoice["d-matched"].Vendor.UUID)
}

// flakyMatcher fails for one vendor name and hangs on another until its
// context is done.
type flakyMatcher struct {
	*processor.VendorPredictor
}

func (f flakyMatcher) MatchVendor(ctx context.Context, guess model.RawVendorGuess, roster []model.VendorCandidate, idx *processor.RosterIndex) (model.VendorPrediction, error) {
	switch model.Deref(guess.Name) {
	case "Zeta Plumbing":
		return model.VendorPrediction{}, errors.New("embedding backend down")
	case "Acme Lumber Supply":
		<-ctx.Done()
		return model.VendorPrediction{}, ctx.Err()
	}
	return f.VendorPredictor.MatchVendor(ctx, guess, roster, idx)
}

func TestReconcileIsolatesDocumentFailures(t *testing.T) {
	store := seed(t)
	cfg := configs.Default()
	cfg.DocumentTimeout = 20 * time.Millisecond
	r := New(store, store, flakyMatcher{newVendorPredictor(t)}, cfg, nil)
	ctx := context.Background()

	summary, err := r.Reconcile(ctx, company)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Selected)
	assert.Equal(t, 2, summary.Failed, "one error and one timeout")
	assert.Equal(t, 1, summary.Updated)
	assert.Contains(t, summary.Invoice, "d-stale")

	stored, err := store.GetDocument(ctx, company, "d-contract")
	require.NoError(t, err)
	assert.False(t, stored.PredictedVendor.IsMatched(), "failed documents stay as they were")
}

type failingRoster struct{}

func (failingRoster) FetchVendorSummaries(context.Context, string) ([]model.VendorCandidate, error) {
	return nil, errors.New("roster unavailable")
}

func TestReconcileRosterFailure(t *testing.T) {
	store := seed(t)
	r := New(store, failingRoster{}, newVendorPredictor(t), configs.Default(), nil)

	_, err := r.Reconcile(context.Background(), company)
	assert.ErrorContains(t, err, "roster unavailable")
	assert.Zero(t, store.AppliedBatches())
}

func TestReconcileConcurrentSweeps(t *testing.T) {
	store := seed(t)
	r := New(store, store, newVendorPredictor(t), configs.Default(), nil)

	var wg sync.WaitGroup
	updated := make([]int, 4)
	for i := range updated {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Reconcile(context.Background(), company)
			if assert.NoError(t, err) {
				updated[i] = s.Updated
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, n := range updated {
		total += n
	}
	assert.Equal(t, 2, total, "serialised sweeps apply each change once")
}
