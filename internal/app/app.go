// app.go - Builds the matching pipeline from configuration

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/stakbuild/docmatch/configs"
	"github.com/stakbuild/docmatch/internal/accounting"
	"github.com/stakbuild/docmatch/internal/ai"
	"github.com/stakbuild/docmatch/internal/api"
	"github.com/stakbuild/docmatch/internal/embedding"
	"github.com/stakbuild/docmatch/internal/model"
	"github.com/stakbuild/docmatch/internal/processor"
	"github.com/stakbuild/docmatch/internal/ratelimit"
	"github.com/stakbuild/docmatch/internal/reconcile"
	"github.com/stakbuild/docmatch/internal/storage"
)

// Options select the storage backend.
type Options struct {
	// Memory keeps everything in process instead of MongoDB.
	Memory bool
	// SeedFile is a YAML or JSON file of projects and vendors loaded into the
	// memory store. Ignored unless Memory is set.
	SeedFile string
}

// App holds the wired components.
type App struct {
	Config     *configs.Config
	Logger     *zap.Logger
	Store      storage.Store
	Master     *storage.MasterDataCache
	Processor  *processor.DocumentProcessor
	Reconciler *reconcile.Reconciler
	Syncer     *accounting.Syncer // nil without Agave credentials

	closers []func(context.Context) error
}

// Seed is the layout of a memory-store seed file.
type Seed struct {
	Companies map[string]SeedCompany `yaml:"companies"`
}

// SeedCompany is the master data of one company in a seed file.
type SeedCompany struct {
	Projects []SeedProject `yaml:"projects"`
	Vendors  []SeedVendor  `yaml:"vendors"`
}

type SeedProject struct {
	UUID            string `yaml:"uuid"`
	Name            string `yaml:"name"`
	Address         string `yaml:"address"`
	Supervisor      string `yaml:"supervisor"`
	ClientFirstName string `yaml:"client_first_name"`
	ClientLastName  string `yaml:"client_last_name"`
	IsActive        *bool  `yaml:"is_active"` // defaults to true
}

type SeedVendor struct {
	UUID       string `yaml:"uuid"`
	Name       string `yaml:"name"`
	ExternalID string `yaml:"external_id"`
}

func (c SeedCompany) projects() []model.ProjectRecord {
	out := make([]model.ProjectRecord, 0, len(c.Projects))
	for _, p := range c.Projects {
		out = append(out, model.ProjectRecord{
			UUID:            p.UUID,
			Name:            p.Name,
			Address:         p.Address,
			Supervisor:      p.Supervisor,
			ClientFirstName: p.ClientFirstName,
			ClientLastName:  p.ClientLastName,
			IsActive:        p.IsActive == nil || *p.IsActive,
		})
	}
	return out
}

func (c SeedCompany) vendors() []model.VendorCandidate {
	out := make([]model.VendorCandidate, 0, len(c.Vendors))
	for _, v := range c.Vendors {
		vc := model.VendorCandidate{Name: v.Name, InternalUUID: v.UUID}
		if v.ExternalID != "" {
			vc.ExternalID = model.StringPtr(v.ExternalID)
		}
		if vc.InternalUUID == "" {
			vc.InternalUUID = accounting.NewVendorID()
		}
		out = append(out, vc)
	}
	return out
}

// New wires the pipeline. Close must be called on the returned App.
func New(ctx context.Context, cfg *configs.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.openStore(ctx, opts); err != nil {
		return nil, err
	}
	a.Master = storage.NewMasterDataCache(a.Store, a.Store, cfg.MasterDataCacheTTL)

	rules, err := configs.LoadMatchingRules(cfg.MatchingRulesFile)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	retry := ai.NewRetryPolicy(cfg.RetryMaxAttempts, cfg.RetryInitialDelay, cfg.RetryMaxDelay)
	llmDeps := ai.ProviderDeps{
		Limiter: ratelimit.NewLimiter(cfg.LLMRequestsPerMinute, 1),
		Retry:   retry,
		Logger:  logger,
	}
	embedDeps := ai.ProviderDeps{
		Limiter: ratelimit.NewLimiter(cfg.EmbeddingRequestsPerMinute, 1),
		Retry:   retry,
		Logger:  logger,
	}

	embedder, err := embedding.NewEmbedder(ctx, cfg, embedDeps)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("embedder: %w", err)
	}
	a.onClose(func(context.Context) error { return embedder.Close() })

	// Without an LLM the vendor predictor only reads supplier entities.
	completer, err := ai.NewCompleterWithFallback(ctx, cfg, llmDeps)
	if err != nil {
		logger.Warn("LLM vendor fallback disabled", zap.Error(err))
		completer = nil
	} else if c, ok := completer.(io.Closer); ok {
		a.onClose(func(context.Context) error { return c.Close() })
	}

	var extractor ai.TextExtractor
	if cfg.GeminiAPIKey != "" {
		ext, err := ai.NewGeminiExtractor(ctx, cfg.GeminiAPIKey, cfg.ExtractorModel, llmDeps)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("text extractor: %w", err)
		}
		a.onClose(func(context.Context) error { return ext.Close() })
		extractor = ext
	} else {
		logger.Warn("GEMINI_API_KEY not set, document upload is disabled")
	}

	projects, err := processor.NewProjectPredictor(embedder, cfg, rules, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	vendors, err := processor.NewVendorPredictor(completer, embedder, cfg, rules, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.Processor = processor.NewDocumentProcessor(processor.Deps{
		Projects:  projects,
		Vendors:   vendors,
		Documents: a.Store,
		Master:    a.Master,
		Extractor: extractor,
		Logger:    logger,
	}, cfg)

	// The sweep reads the roster straight from the store so it sees vendors
	// added by other instances.
	a.Reconciler = reconcile.New(a.Store, a.Store, vendors, cfg, logger)

	if cfg.AgaveClientID != "" && cfg.AgaveClientSecret != "" {
		client := accounting.NewClient(cfg, ai.ProviderDeps{Retry: retry, Logger: logger})
		a.Syncer = accounting.NewSyncer(client, a.Master, a.Reconciler, logger)
	} else {
		logger.Info("Agave credentials not set, vendor sync is disabled")
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, opts Options) error {
	if !opts.Memory {
		store, err := storage.Connect(ctx, a.Config.MongoURI, a.Config.MongoDBName, a.Logger)
		if err != nil {
			return fmt.Errorf("connect to MongoDB: %w", err)
		}
		a.onClose(store.Close)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = a.Close(ctx)
			return fmt.Errorf("ensure indexes: %w", err)
		}
		a.Store = store
		return nil
	}

	mem := storage.NewMemoryStore()
	if opts.SeedFile != "" {
		if err := LoadSeed(ctx, mem, opts.SeedFile); err != nil {
			return err
		}
	}
	a.Store = mem
	a.Logger.Info("using in-memory store", zap.String("seed", opts.SeedFile))
	return nil
}

// LoadSeed fills mem from a seed file.
func LoadSeed(ctx context.Context, mem *storage.MemoryStore, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed %s: %w", path, err)
	}
	for companyID, c := range seed.Companies {
		mem.PutProjects(companyID, c.projects())
		if len(c.Vendors) > 0 {
			if err := mem.InsertVendors(ctx, companyID, c.vendors()); err != nil {
				return fmt.Errorf("seed vendors for %s: %w", companyID, err)
			}
		}
	}
	return nil
}

// Handler returns the HTTP handler over the wired components.
func (a *App) Handler() *api.Handler {
	deps := api.Deps{
		Documents:  a.Store,
		Processor:  a.Processor,
		Reconciler: a.Reconciler,
		Logger:     a.Logger,
	}
	// A nil *Syncer must not become a non-nil interface.
	if a.Syncer != nil {
		deps.Syncer = a.Syncer
	}
	return api.NewHandler(deps)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases clients in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
