// document_processor.go - Ingestion: predict project and vendor, then store

package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stakbuild/docmatch/configs"
	"github.com/stakbuild/docmatch/internal/ai"
	"github.com/stakbuild/docmatch/internal/common"
	"github.com/stakbuild/docmatch/internal/model"
	"github.com/stakbuild/docmatch/internal/storage"
)

// ErrNoExtractor is returned by Ingest when no text extractor is configured.
var ErrNoExtractor = errors.New("no text extractor configured")

// ErrInvalidKind is returned for an unknown document kind.
var ErrInvalidKind = errors.New("invalid document kind")

// MasterDataSource provides the roster and projects predictions run against.
// storage.MasterDataCache satisfies it.
type MasterDataSource interface {
	storage.RosterSource
	storage.ProjectSource
}

// Deps groups the collaborators of a DocumentProcessor.
type Deps struct {
	Projects  *ProjectPredictor
	Vendors   *VendorPredictor
	Documents storage.DocumentStore
	Master    MasterDataSource
	Extractor ai.TextExtractor // optional, enables Ingest
	Logger    *zap.Logger
}

// DocumentProcessor turns extractor output into stored document records.
type DocumentProcessor struct {
	projects  *ProjectPredictor
	vendors   *VendorPredictor
	documents storage.DocumentStore
	master    MasterDataSource
	extractor ai.TextExtractor
	logger    *zap.Logger

	concurrency int
	timeout     time.Duration
	image       ImageOptions
	now         func() time.Time
	newID       func() string
}

// NewDocumentProcessor wires a processor.
func NewDocumentProcessor(deps Deps, cfg *configs.Config) *DocumentProcessor {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.ProcessConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &DocumentProcessor{
		projects:    deps.Projects,
		vendors:     deps.Vendors,
		documents:   deps.Documents,
		master:      deps.Master,
		extractor:   deps.Extractor,
		logger:      logger,
		concurrency: concurrency,
		timeout:     cfg.DocumentTimeout,
		image:       ImageOptions{MaxDimension: cfg.MaxImageDimension, Enhance: cfg.EnableImagePreprocessing},
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.New().String() },
	}
}

// matchContext is the per-company data shared by every document of a batch.
type matchContext struct {
	set    *ProjectCandidateSet
	roster []model.VendorCandidate
	index  *RosterIndex
}

func (p *DocumentProcessor) loadMatchContext(ctx context.Context, companyID string) (*matchContext, error) {
	projects, err := p.master.ListProjects(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	roster, err := p.master.FetchVendorSummaries(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load vendor roster: %w", err)
	}

	mc := &matchContext{roster: roster}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		set, err := p.projects.BuildCandidateSet(gctx, projects)
		mc.set = set
		return err
	})
	if len(roster) > 0 {
		g.Go(func() error {
			idx, err := p.vendors.RosterIndex(gctx, roster)
			mc.index = idx
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mc, nil
}

// PredictProject predicts the project of a document against the company's
// current projects.
func (p *DocumentProcessor) PredictProject(ctx context.Context, companyID string, entities []model.ExtractedEntity, fullText string) (model.ProjectPrediction, error) {
	projects, err := p.master.ListProjects(ctx, companyID)
	if err != nil {
		return model.ProjectPrediction{}, fmt.Errorf("load projects: %w", err)
	}
	set, err := p.projects.BuildCandidateSet(ctx, projects)
	if err != nil {
		return model.ProjectPrediction{}, err
	}
	return p.projects.Predict(ctx, entities, fullText, set)
}

// PredictVendor guesses the vendor of a document and matches it to the
// company's roster.
func (p *DocumentProcessor) PredictVendor(ctx context.Context, companyID string, entities []model.ExtractedEntity, fullText string) (model.RawVendorGuess, model.VendorPrediction, error) {
	roster, err := p.master.FetchVendorSummaries(ctx, companyID)
	if err != nil {
		return model.RawVendorGuess{}, model.VendorPrediction{}, fmt.Errorf("load vendor roster: %w", err)
	}
	return p.vendors.PredictAndMatch(ctx, entities, fullText, roster)
}

// Process predicts and stores one extracted document.
func (p *DocumentProcessor) Process(ctx context.Context, companyID string, ext *model.Extraction, kind model.DocKind) (*model.DocumentRecord, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	mc, err := p.loadMatchContext(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return p.process(ctx, companyID, ext, kind, mc)
}

// BatchItem is one document of a ProcessBatch call.
type BatchItem struct {
	Extraction *model.Extraction
	Kind       model.DocKind
}

// BatchResult holds the stored record or the error for one BatchItem.
type BatchResult struct {
	Document *model.DocumentRecord
	Err      error
}

// ProcessBatch processes documents of one company with bounded concurrency.
// Candidate sets and the roster index are built once for the whole batch. A
// failing document does not stop the others; only loading the company's
// master data fails the batch.
func (p *DocumentProcessor) ProcessBatch(ctx context.Context, companyID string, items []BatchItem) ([]BatchResult, error) {
	return p.runBatch(ctx, companyID, len(items), func(ctx context.Context, i int, mc *matchContext) (*model.DocumentRecord, error) {
		item := items[i]
		if !item.Kind.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKind, item.Kind)
		}
		return p.process(ctx, companyID, item.Extraction, item.Kind, mc)
	})
}

// Upload is one file of an IngestBatch call.
type Upload struct {
	Name     string // file name, quoted in the item's error
	Kind     model.DocKind
	MimeType string
	Data     []byte
}

// IngestBatch extracts and processes uploaded files of one company the way
// ProcessBatch does. An extraction failure is reported for its file only.
func (p *DocumentProcessor) IngestBatch(ctx context.Context, companyID string, uploads []Upload) ([]BatchResult, error) {
	if p.extractor == nil {
		return nil, ErrNoExtractor
	}
	return p.runBatch(ctx, companyID, len(uploads), func(ctx context.Context, i int, mc *matchContext) (*model.DocumentRecord, error) {
		up := uploads[i]
		if !up.Kind.Valid() {
			return nil, fmt.Errorf("%s: %w: %q", up.Name, ErrInvalidKind, up.Kind)
		}
		ext, err := p.extract(ctx, fmt.Sprintf("extract_text:%d", i), up.MimeType, up.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", up.Name, err)
		}
		doc, err := p.process(ctx, companyID, ext, up.Kind, mc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", up.Name, err)
		}
		return doc, nil
	})
}

type batchFunc func(ctx context.Context, i int, mc *matchContext) (*model.DocumentRecord, error)

func (p *DocumentProcessor) runBatch(ctx context.Context, companyID string, n int, fn batchFunc) ([]BatchResult, error) {
	mc, err := p.loadMatchContext(ctx, companyID)
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, n)
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range n {
		g.Go(func() error {
			doc, err := fn(ctx, i, mc)
			results[i] = BatchResult{Document: doc, Err: err}
			if err != nil {
				p.logger.Warn("document failed in batch",
					zap.String("company_id", companyID),
					zap.Int("item", i),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Ingest prepares an uploaded file, extracts its text and processes it.
func (p *DocumentProcessor) Ingest(ctx context.Context, companyID string, kind model.DocKind, mimeType string, data []byte) (*model.DocumentRecord, error) {
	if p.extractor == nil {
		return nil, ErrNoExtractor
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	ext, err := p.extract(ctx, "extract_text", mimeType, data)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, companyID, ext, kind)
}

// extract prepares data and runs the extractor, recording step on the
// request context when there is one.
func (p *DocumentProcessor) extract(ctx context.Context, step, mimeType string, data []byte) (*model.Extraction, error) {
	prepared, preparedType, err := PrepareUpload(data, mimeType, p.image)
	if err != nil {
		return nil, fmt.Errorf("prepare upload: %w", err)
	}

	rc := common.RequestContextFrom(ctx)
	if rc != nil {
		rc.StartStep(step)
	}
	ext, usage, err := p.extractor.Extract(ctx, preparedType, prepared)
	if rc != nil {
		status := common.StatusSuccess
		if err != nil {
			status = common.StatusFailed
		}
		rc.EndStep(step, status, usage, err)
	}
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	return ext, nil
}

// process predicts and stores one document within the per-document
// timeout, so a stalled provider call fails only its own document.
func (p *DocumentProcessor) process(ctx context.Context, companyID string, ext *model.Extraction, kind model.DocKind, mc *matchContext) (*model.DocumentRecord, error) {
	if ext == nil {
		return nil, errors.New("missing extraction")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	now := p.now()
	doc := &model.DocumentRecord{
		DocID:     p.newID(),
		CompanyID: companyID,
		Kind:      kind,
		FullText:  ext.FullText,
		Entities:  ext.Entities,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Project and vendor prediction are independent; each goroutine writes
	// its own field of doc.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pred, err := p.projects.Predict(gctx, ext.Entities, ext.FullText, mc.set)
		if err != nil {
			return fmt.Errorf("predict project: %w", err)
		}
		doc.PredictedProject = pred
		return nil
	})
	g.Go(func() error {
		guess := p.vendors.GuessVendorName(gctx, ext.Entities, ext.FullText)
		pred, err := p.vendors.MatchVendor(gctx, guess, mc.roster, mc.index)
		if err != nil {
			return fmt.Errorf("match vendor: %w", err)
		}
		doc.PredictedVendor = pred
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if kind != model.KindContract && doc.PredictedVendor.IsMatched() {
		doc.Vendor = doc.PredictedVendor.Ref()
	}

	if err := p.documents.InsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	p.logger.Info("document processed",
		zap.String("company_id", companyID),
		zap.String("doc_id", doc.DocID),
		zap.String("kind", string(kind)),
		zap.Bool("project_known", !doc.PredictedProject.IsUnknown()),
		zap.Bool("vendor_matched", doc.PredictedVendor.IsMatched()),
	)
	return doc, nil
}
