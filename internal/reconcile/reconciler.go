// reconciler.go - Bulk vendor re-match sweep after a roster refresh
//
// A sweep snapshots the roster once, builds one shared embedding index and
// re-matches every document whose vendor match is missing or stale. Each
// document runs in its own task with its own deadline; a failing document is
// logged and left as it was.

package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stakbuild/docmatch/configs"
	"github.com/stakbuild/docmatch/internal/common"
	"github.com/stakbuild/docmatch/internal/model"
	"github.com/stakbuild/docmatch/internal/processor"
	"github.com/stakbuild/docmatch/internal/storage"
)

const (
	defaultConcurrency     = 8
	defaultDocumentTimeout = 45 * time.Second
)

// VendorMatcher matches a vendor guess against a roster snapshot.
// processor.VendorPredictor implements it.
type VendorMatcher interface {
	RosterIndex(ctx context.Context, roster []model.VendorCandidate) (*processor.RosterIndex, error)
	MatchVendor(ctx context.Context, guess model.RawVendorGuess, roster []model.VendorCandidate, idx *processor.RosterIndex) (model.VendorPrediction, error)
}

// VendorUpdate is the partial update written for one document.
type VendorUpdate struct {
	ProjectID       *string                `json:"project_id"`
	PredictedVendor model.VendorPrediction `json:"predicted_vendor"`
	Vendor          *model.VendorRef       `json:"vendor,omitempty"`
}

// Summary reports a sweep. Contract and Invoice map doc ids to the updates
// applied; client-bill invoices are reported under Invoice.
type Summary struct {
	RunID     string                  `json:"run_id"`
	Contract  map[string]VendorUpdate `json:"contract"`
	Invoice   map[string]VendorUpdate `json:"invoice"`
	Selected  int                     `json:"selected"`
	Updated   int                     `json:"updated"`
	Unchanged int                     `json:"unchanged"`
	Failed    int                     `json:"failed"`
}

// Reconciler runs vendor sweeps. Sweeps of one company are serialised; a
// sweep requested while another runs waits and then sees the newer roster.
type Reconciler struct {
	documents storage.DocumentStore
	roster    storage.RosterSource
	matcher   VendorMatcher
	logger    *zap.Logger

	concurrency int
	docTimeout  time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Reconciler.
func New(documents storage.DocumentStore, roster storage.RosterSource, matcher VendorMatcher, cfg *configs.Config, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		documents:   documents,
		roster:      roster,
		matcher:     matcher,
		logger:      logger,
		concurrency: defaultConcurrency,
		docTimeout:  defaultDocumentTimeout,
		locks:       make(map[string]*sync.Mutex),
	}
	if cfg != nil {
		if cfg.ReconcileConcurrency > 0 {
			r.concurrency = cfg.ReconcileConcurrency
		}
		if cfg.DocumentTimeout > 0 {
			r.docTimeout = cfg.DocumentTimeout
		}
	}
	return r
}

func (r *Reconciler) companyLock(companyID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[companyID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[companyID] = l
	}
	return l
}

// NeedsRematch reports whether a document's vendor match must be retried:
// it has no external id, or it points to a uuid missing from the roster.
func NeedsRematch(pred model.VendorPrediction, rosterUUIDs map[string]struct{}) bool {
	// A match to a roster entry without an external id is selected again on
	// every sweep; re-matching it yields the same prediction, which is not
	// written.
	if pred.ExternalID == nil || pred.InternalUUID == nil {
		return true
	}
	_, ok := rosterUUIDs[*pred.InternalUUID]
	return !ok
}

type outcome struct {
	doc  model.DocumentRecord
	pred model.VendorPrediction
	err  error
}

// Reconcile runs one sweep for a company and applies the changed matches.
// Only infrastructure failures (roster, listing, applying updates) are
// returned; per-document failures are counted in the summary.
func (r *Reconciler) Reconcile(ctx context.Context, companyID string) (*Summary, error) {
	lock := r.companyLock(companyID)
	lock.Lock()
	defer lock.Unlock()

	rc := common.NewRequestContext(r.logger, companyID)
	ctx = common.WithRequestContext(ctx, rc)
	summary := &Summary{
		RunID:    rc.RequestID,
		Contract: map[string]VendorUpdate{},
		Invoice:  map[string]VendorUpdate{},
	}

	rc.StartStep("load_roster")
	roster, err := r.roster.FetchVendorSummaries(ctx, companyID)
	rc.EndStep("load_roster", status(err), nil, err)
	if err != nil {
		return nil, fmt.Errorf("fetch vendor roster: %w", err)
	}
	uuids := make(map[string]struct{}, len(roster))
	for _, v := range roster {
		uuids[v.InternalUUID] = struct{}{}
	}

	rc.StartStep("build_roster_index")
	idx, err := r.matcher.RosterIndex(ctx, roster)
	rc.EndStep("build_roster_index", status(err), nil, err)
	if err != nil {
		return nil, err
	}

	rc.StartStep("list_documents")
	docs, err := r.documents.ListVendorMatchDocuments(ctx, companyID)
	rc.EndStep("list_documents", status(err), nil, err)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	selected := make([]model.DocumentRecord, 0, len(docs))
	for _, d := range docs {
		if NeedsRematch(d.PredictedVendor, uuids) {
			selected = append(selected, d)
		}
	}
	summary.Selected = len(selected)

	rc.StartStep("rematch")
	outcomes := make([]outcome, len(selected))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, d := range selected {
		g.Go(func() error {
			pred, err := r.rematch(ctx, d, roster, idx)
			outcomes[i] = outcome{doc: d, pred: pred, err: err}
			return nil
		})
	}
	_ = g.Wait()
	rc.EndStep("rematch", common.StatusSuccess, nil, nil)

	updates := make([]storage.DocumentUpdate, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			summary.Failed++
			r.logger.Warn("vendor re-match failed",
				zap.String("company_id", companyID),
				zap.String("doc_id", o.doc.DocID),
				zap.String("run_id", summary.RunID),
				zap.Error(o.err),
			)
			continue
		}
		if o.pred.Equal(o.doc.PredictedVendor) {
			summary.Unchanged++
			continue
		}

		u := storage.DocumentUpdate{
			DocID:           o.doc.DocID,
			Kind:            o.doc.Kind,
			ProjectID:       o.doc.ProjectID,
			PredictedVendor: o.pred,
		}
		report := VendorUpdate{ProjectID: o.doc.ProjectID, PredictedVendor: o.pred}
		if o.doc.Kind == model.KindContract {
			summary.Contract[o.doc.DocID] = report
		} else {
			u.Vendor = o.pred.Ref()
			report.Vendor = u.Vendor
			summary.Invoice[o.doc.DocID] = report
		}
		updates = append(updates, u)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].DocID < updates[j].DocID })
	summary.Updated = len(updates)

	rc.StartStep("apply_updates")
	err = r.documents.ApplyVendorUpdates(ctx, companyID, updates)
	rc.EndStep("apply_updates", status(err), nil, err)
	if err != nil {
		return nil, fmt.Errorf("apply vendor updates: %w", err)
	}

	rc.GetSummary()
	r.logger.Info("vendor sweep finished",
		zap.String("company_id", companyID),
		zap.String("run_id", summary.RunID),
		zap.Int("roster", len(roster)),
		zap.Int("documents", len(docs)),
		zap.Int("selected", summary.Selected),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// rematch re-runs roster matching on the name stored with the document. The
// LLM is not asked again; the guess was settled at ingestion.
func (r *Reconciler) rematch(ctx context.Context, doc model.DocumentRecord, roster []model.VendorCandidate, idx *processor.RosterIndex) (model.VendorPrediction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.docTimeout)
	defer cancel()

	guess := model.RawVendorGuess{Name: doc.PredictedVendor.SupplierName, Source: doc.PredictedVendor.Source}
	pred, err := r.matcher.MatchVendor(ctx, guess, roster, idx)
	if err != nil {
		return model.VendorPrediction{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.VendorPrediction{}, err
	}
	return pred, nil
}

func status(err error) string {
	if err != nil {
		return common.StatusFailed
	}
	return common.StatusSuccess
}
