// project_predictor.go - Assigns a document to a known project or "unknown"
//
// The query for a document is built from receiver entities, customer
// reference windows and the best fuzzy address/owner hits, then scored
// against one embedding per project.

package processor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/configs"
	"github.com/stakbuild/docmatch/internal/embedding"
	"github.com/stakbuild/docmatch/internal/model"
)

// ErrCandidateMisaligned means the candidate list and its embedding index
// disagree on length, so positions cannot be trusted.
var ErrCandidateMisaligned = errors.New("project candidates and embedding index are misaligned")

// ProjectCandidate is one matchable project address.
type ProjectCandidate struct {
	Address  string
	Project  model.ProjectRef
	Document string
}

// ProjectCandidateSet is the set a batch of documents is matched against.
// Candidates[i] is scored by row i of Index.
type ProjectCandidateSet struct {
	Candidates []ProjectCandidate
	Owners     []string
	Index      *embedding.Index[model.ProjectRef]
}

// Len is the number of candidates.
func (s *ProjectCandidateSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candidates)
}

// Addresses returns the candidate addresses in index order.
func (s *ProjectCandidateSet) Addresses() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		out[i] = c.Address
	}
	return out
}

func (s *ProjectCandidateSet) checkAligned() error {
	if s.Index.Len() != len(s.Candidates) {
		return fmt.Errorf("%w: %d candidates, %d indexed", ErrCandidateMisaligned, len(s.Candidates), s.Index.Len())
	}
	return nil
}

// ProjectPredictor predicts the project of a document.
type ProjectPredictor struct {
	indexes *embedding.IndexCache[model.ProjectRef]
	chooser *Chooser
	logger  *zap.Logger

	customerPatterns []*regexp.Regexp
	addressPatterns  []*regexp.Regexp
	entityTypes      map[string]struct{}

	cutoff    float64
	topN      int
	postChars int
	useFuzzy  bool
}

// NewProjectPredictor creates a predictor from configuration and matching
// rules. It fails when a rule pattern does not compile.
func NewProjectPredictor(embedder embedding.Embedder, cfg *configs.Config, rules *configs.MatchingRules, logger *zap.Logger) (*ProjectPredictor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rules == nil {
		rules = configs.DefaultMatchingRules()
	}
	customer, err := CompilePatterns(rules.CustomerPatterns)
	if err != nil {
		return nil, fmt.Errorf("customer patterns: %w", err)
	}
	address, err := CompilePatterns(rules.AddressPatterns)
	if err != nil {
		return nil, fmt.Errorf("address patterns: %w", err)
	}

	return &ProjectPredictor{
		indexes:          embedding.NewIndexCache[model.ProjectRef](embedder, cfg.ProjectIndexCacheTTL),
		chooser:          NewChooser(cfg.FuzzyScoreCutoff),
		logger:           logger,
		customerPatterns: customer,
		addressPatterns:  address,
		entityTypes:      typeSet(rules.ProjectEntityTypes),
		cutoff:           cfg.PredictionConfidenceCutoff,
		topN:             cfg.TopScoresToKeep,
		postChars:        cfg.CustomerRegexPostCharacters,
		useFuzzy:         cfg.UseFuzzyMatching,
	}, nil
}

// BuildCandidateSet turns a company's projects into a candidate set. Inactive
// projects and the unknown placeholder are skipped; the first project with a
// given address wins.
func (p *ProjectPredictor) BuildCandidateSet(ctx context.Context, projects []model.ProjectRecord) (*ProjectCandidateSet, error) {
	set := &ProjectCandidateSet{}
	seenAddr := make(map[string]struct{}, len(projects))
	seenOwner := make(map[string]struct{}, len(projects))
	entries := make([]embedding.Entry[model.ProjectRef], 0, len(projects))

	for _, pr := range projects {
		if !pr.IsActive {
			continue
		}
		addr := strings.TrimSpace(pr.Address)
		if addr == "" || strings.EqualFold(addr, model.UnknownAddress) {
			continue
		}
		if _, dup := seenAddr[addr]; dup {
			continue
		}
		seenAddr[addr] = struct{}{}

		ref := pr.Ref()
		ref.Address = addr
		doc := pr.Document()
		set.Candidates = append(set.Candidates, ProjectCandidate{Address: addr, Project: ref, Document: doc})
		entries = append(entries, embedding.Entry[model.ProjectRef]{Label: addr, Document: doc, Ref: ref})

		if owner := pr.Owner(); owner != "" {
			if _, dup := seenOwner[owner]; !dup {
				seenOwner[owner] = struct{}{}
				set.Owners = append(set.Owners, owner)
			}
		}
	}

	ix, err := p.indexes.GetOrBuild(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("build project index: %w", err)
	}
	set.Index = ix
	if err := set.checkAligned(); err != nil {
		return nil, err
	}

	p.logger.Debug("project candidate set ready",
		zap.Int("projects", len(projects)),
		zap.Int("candidates", len(set.Candidates)),
		zap.Int("owners", len(set.Owners)),
	)
	return set, nil
}

// Predict returns the project prediction for one document. Low confidence is
// the unknown prediction, not an error; errors come from the embedder or ctx.
func (p *ProjectPredictor) Predict(ctx context.Context, entities []model.ExtractedEntity, fullText string, set *ProjectCandidateSet) (model.ProjectPrediction, error) {
	if set.Len() == 0 {
		return model.UnknownProject(nil), nil
	}
	if err := set.checkAligned(); err != nil {
		return model.ProjectPrediction{}, err
	}

	query, address, err := p.BuildQuery(ctx, entities, fullText, set)
	if err != nil {
		return model.ProjectPrediction{}, err
	}

	scores, err := set.Index.Query(ctx, query)
	if err != nil {
		return model.ProjectPrediction{}, fmt.Errorf("score project candidates: %w", err)
	}
	if len(scores) != len(set.Candidates) {
		return model.ProjectPrediction{}, fmt.Errorf("%w: %d scores for %d candidates", ErrCandidateMisaligned, len(scores), len(set.Candidates))
	}

	top := make([]model.AddressScore, 0, p.topN)
	for _, i := range embedding.TopN(scores, p.topN) {
		top = append(top, model.AddressScore{Address: set.Candidates[i].Address, Score: scores[i]})
	}

	predicted := -1
	reason := "embedding"
	if address != "" {
		for i, c := range set.Candidates {
			if strings.EqualFold(c.Address, address) {
				predicted = i
				reason = "exact_address"
				break
			}
		}
	}
	if predicted < 0 {
		best, bestScore := embedding.ArgMax(scores)
		if bestScore < p.cutoff {
			p.logger.Debug("project below cutoff", zap.Float64("max_score", bestScore), zap.Float64("cutoff", p.cutoff))
			return model.UnknownProject(top), nil
		}
		predicted = best
	}

	c := set.Candidates[predicted]
	p.logger.Debug("project predicted",
		zap.String("address", c.Address),
		zap.String("uuid", c.Project.UUID),
		zap.Float64("score", scores[predicted]),
		zap.String("reason", reason),
	)
	return model.PredictedProject(c.Project, scores[predicted], top), nil
}

// BuildQuery assembles the text embedded for a document and returns it with
// the address picked out of the text, which is empty when none was found.
func (p *ProjectPredictor) BuildQuery(ctx context.Context, entities []model.ExtractedEntity, fullText string, set *ProjectCandidateSet) (string, string, error) {
	text := strings.ReplaceAll(fullText, "\n", " ")
	customer := ExtractPatterns(text, p.customerPatterns, PatternContext, p.postChars)

	var address, owner string
	if p.useFuzzy {
		m, err := p.chooser.Choose(ctx, text, set.Addresses(), set.Owners)
		if err != nil {
			return "", "", err
		}
		address, owner = m.Address, m.Owner
	} else {
		address = ExtractPatterns(text, p.addressPatterns, PatternAddress, p.postChars)
		owner = ExtractPatterns(text, LiteralPatterns(set.Owners), PatternAddress, p.postChars)
	}

	parts := make([]string, 0, len(entities)+3)
	for _, e := range entities {
		if _, ok := p.entityTypes[strings.ToLower(e.TypeMajor)]; ok {
			parts = append(parts, strings.ReplaceAll(e.RawValue, "\n", " "))
		}
	}
	for _, s := range []string{customer, address, owner} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), address, nil
}

func typeSet(types []string) map[string]struct{} {
	out := make(map[string]struct{}, len(types))
	for _, t := range types {
		out[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return out
}
