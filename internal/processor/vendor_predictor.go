// vendor_predictor.go - Vendor name guessing and roster matching

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/configs"
	"github.com/stakbuild/docmatch/internal/ai"
	"github.com/stakbuild/docmatch/internal/common"
	"github.com/stakbuild/docmatch/internal/embedding"
	"github.com/stakbuild/docmatch/internal/model"
)

// RosterIndex is the embedding index over a vendor roster's names.
type RosterIndex = embedding.Index[model.VendorCandidate]

// VendorPredictor reads the vendor off a document and matches it to the
// company's vendor roster.
type VendorPredictor struct {
	completer ai.Completer
	indexes   *embedding.IndexCache[model.VendorCandidate]
	schema    *gojsonschema.Schema
	logger    *zap.Logger

	entityTypes map[string]struct{}
	nameCutoff  float64
	matchCutoff float64
	maxTokens   int
	temperature float64
}

// NewVendorPredictor creates a predictor. A nil completer disables the LLM
// fallback.
func NewVendorPredictor(completer ai.Completer, embedder embedding.Embedder, cfg *configs.Config, rules *configs.MatchingRules, logger *zap.Logger) (*VendorPredictor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rules == nil {
		rules = configs.DefaultMatchingRules()
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ai.VendorNameSchema))
	if err != nil {
		return nil, fmt.Errorf("vendor answer schema: %w", err)
	}
	return &VendorPredictor{
		completer:   completer,
		indexes:     embedding.NewIndexCache[model.VendorCandidate](embedder, cfg.RosterIndexCacheTTL),
		schema:      schema,
		logger:      logger,
		entityTypes: typeSet(rules.VendorEntityTypes),
		nameCutoff:  cfg.VendorNameConfidenceCutoff,
		matchCutoff: cfg.PredictionConfidenceCutoff,
		maxTokens:   cfg.VendorPromptMaxTokens,
		temperature: cfg.VendorPromptTemperature,
	}, nil
}

// GuessVendorName returns the vendor name printed on a document. The first
// vendor entity above the confidence cutoff wins; otherwise the LLM is asked,
// and when that fails the most confident sub-threshold entity is used. It
// never fails: a document without a readable vendor gets a nil name.
func (v *VendorPredictor) GuessVendorName(ctx context.Context, entities []model.ExtractedEntity, fullText string) model.RawVendorGuess {
	var fallback *model.ExtractedEntity
	for i := range entities {
		e := &entities[i]
		if _, ok := v.entityTypes[strings.ToLower(e.TypeMajor)]; !ok || e.Value() == "" {
			continue
		}
		if e.Confidence > v.nameCutoff {
			return model.RawVendorGuess{Name: model.StringPtr(e.Value()), Source: model.SourceEntity}
		}
		if fallback == nil || e.Confidence > fallback.Confidence {
			fallback = e
		}
	}

	name, err := v.askLLM(ctx, fullText)
	if err == nil && name != "" {
		return model.RawVendorGuess{Name: model.StringPtr(name), Source: model.SourceLLM}
	}

	fields := []zap.Field{zap.Bool("has_fallback", fallback != nil)}
	if err != nil {
		fields = append(fields, zap.Error(err))
		v.logger.Warn("vendor name from LLM failed", fields...)
	} else {
		v.logger.Debug("LLM found no vendor name", fields...)
	}

	if fallback != nil {
		return model.RawVendorGuess{Name: model.StringPtr(fallback.Value()), Source: model.SourceEntity}
	}
	return model.RawVendorGuess{Source: model.SourceLLM}
}

var errNoCompleter = errors.New("no completion provider configured")

func (v *VendorPredictor) askLLM(ctx context.Context, fullText string) (string, error) {
	if v.completer == nil {
		return "", errNoCompleter
	}
	if strings.TrimSpace(fullText) == "" {
		return "", nil
	}

	rc := common.RequestContextFrom(ctx)
	if rc != nil {
		rc.StartStep("vendor_name_llm")
	}
	resp, err := v.completer.Complete(ctx, ai.CompletionRequest{
		Prompt:      ai.VendorNamePrompt(fullText),
		MaxTokens:   v.maxTokens,
		Temperature: v.temperature,
		JSON:        true,
	})
	if err != nil {
		if rc != nil {
			rc.EndStep("vendor_name_llm", common.StatusFailed, nil, err)
		}
		return "", err
	}

	name, err := v.parseVendorAnswer(v.completer.Name(), resp.Text)
	if rc != nil {
		status := common.StatusSuccess
		if err != nil {
			status = common.StatusFailed
		}
		usage := resp.Usage
		rc.EndStep("vendor_name_llm", status, &usage, err)
	}
	return name, err
}

// parseVendorAnswer pulls vendor_name out of a model answer. A JSON null is
// a valid "no vendor" answer.
func (v *VendorPredictor) parseVendorAnswer(provider, text string) (string, error) {
	cleaned := ai.StripCodeFences(text)
	if cleaned == "" {
		return "", &ai.MalformedResponseError{Provider: provider, Body: text, Err: ai.ErrEmptyResponse}
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return "", &ai.MalformedResponseError{Provider: provider, Body: text, Err: err}
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return "", &ai.MalformedResponseError{Provider: provider, Body: text, Err: err}
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return "", &ai.MalformedResponseError{Provider: provider, Body: text, Err: errors.New(strings.Join(errs, "; "))}
	}

	name, _ := doc[ai.VendorNameKey].(string)
	return strings.TrimSpace(name), nil
}

// RosterIndex returns the embedding index over roster names, reusing the
// cached build while the roster is unchanged.
func (v *VendorPredictor) RosterIndex(ctx context.Context, roster []model.VendorCandidate) (*RosterIndex, error) {
	entries := make([]embedding.Entry[model.VendorCandidate], len(roster))
	for i, c := range roster {
		entries[i] = embedding.Entry[model.VendorCandidate]{Label: c.Name, Document: c.Name, Ref: c}
	}
	ix, err := v.indexes.GetOrBuild(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("build roster index: %w", err)
	}
	return ix, nil
}

// MatchVendor matches a guessed name to the roster. idx may be nil, in which
// case the roster index is built or taken from the cache. When idx is given
// it must have been built from roster.
func (v *VendorPredictor) MatchVendor(ctx context.Context, guess model.RawVendorGuess, roster []model.VendorCandidate, idx *RosterIndex) (model.VendorPrediction, error) {
	if len(roster) == 0 || guess.Name == nil || strings.TrimSpace(*guess.Name) == "" {
		return model.UnmatchedVendor(guess), nil
	}

	if idx == nil {
		var err error
		if idx, err = v.RosterIndex(ctx, roster); err != nil {
			return model.VendorPrediction{}, err
		}
	}
	if idx.Len() != len(roster) {
		return model.VendorPrediction{}, fmt.Errorf("roster index has %d entries for %d vendors", idx.Len(), len(roster))
	}

	scores, err := idx.Query(ctx, *guess.Name)
	if err != nil {
		return model.VendorPrediction{}, fmt.Errorf("score vendor roster: %w", err)
	}

	best, score := embedding.ArgMax(scores)
	if best < 0 || score < v.matchCutoff {
		v.logger.Debug("vendor below cutoff",
			zap.String("guess", *guess.Name),
			zap.Float64("max_score", score),
		)
		return model.UnmatchedVendor(guess), nil
	}

	match := idx.Entry(best).Ref
	return model.VendorPrediction{
		SupplierName:    model.StringPtr(match.Name),
		MatchConfidence: model.Float64Ptr(score),
		ExternalID:      match.ExternalID,
		InternalUUID:    model.StringPtr(match.InternalUUID),
		Source:          guess.Source,
	}, nil
}

// PredictAndMatch guesses the vendor of a document and matches it to roster.
func (v *VendorPredictor) PredictAndMatch(ctx context.Context, entities []model.ExtractedEntity, fullText string, roster []model.VendorCandidate) (model.RawVendorGuess, model.VendorPrediction, error) {
	guess := v.GuessVendorName(ctx, entities, fullText)
	pred, err := v.MatchVendor(ctx, guess, roster, nil)
	return guess, pred, err
}
