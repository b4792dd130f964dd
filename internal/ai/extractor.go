// extractor.go - Gemini text and entity extraction for uploaded documents

package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/stakbuild/docmatch/internal/common"
	"github.com/stakbuild/docmatch/internal/model"
)

// extractorMaxOutputTokens is Gemini's max output limit.
const extractorMaxOutputTokens = 8192

// GeminiExtractor implements TextExtractor with a multimodal Gemini model.
type GeminiExtractor struct {
	client    *genai.Client
	modelName string
	deps      ProviderDeps
	// newModel returns the JSON-schema model when structured is true and a
	// plain text model otherwise.
	newModel func(structured bool) contentGenerator
}

// NewGeminiExtractor creates the extractor client.
func NewGeminiExtractor(ctx context.Context, apiKey, modelName string, deps ProviderDeps) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	e := &GeminiExtractor{client: client, modelName: modelName, deps: deps.WithDefaults()}
	e.newModel = func(structured bool) contentGenerator {
		m := client.GenerativeModel(modelName)
		m.GenerationConfig = genai.GenerationConfig{
			MaxOutputTokens: ptr(int32(extractorMaxOutputTokens)),
			Temperature:     ptr(float32(0)),
		}
		if structured {
			m.ResponseMIMEType = "application/json"
			m.ResponseSchema = createExtractionSchema()
		}
		return m
	}
	return e, nil
}

// Close releases the client.
func (e *GeminiExtractor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

type extractedEntityJSON struct {
	Type            string          `json:"type"`
	RawValue        string          `json:"raw_value"`
	NormalizedValue string          `json:"normalized_value"`
	Confidence      FlexibleFloat64 `json:"confidence"`
	Page            int             `json:"page"`
}

type extractionJSON struct {
	FullText string                `json:"full_text"`
	Entities []extractedEntityJSON `json:"entities"`
}

// Extract reads the document with the structured schema. When the JSON answer
// cannot be parsed it falls back to a plain text transcription without entities.
func (e *GeminiExtractor) Extract(ctx context.Context, mimeType string, data []byte) (*model.Extraction, *common.TokenUsage, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("empty document")
	}
	if len(data) > 500*1024 {
		e.deps.Logger.Warn("large document, output may be truncated", zap.Int("bytes", len(data)))
	}

	out, err := e.generate(ctx, true, ExtractionPrompt(), mimeType, data)
	if err != nil {
		return nil, nil, err
	}
	usage := out.Usage

	extraction, parseErr := parseExtraction(out.Text)
	if parseErr == nil {
		if out.Truncated {
			e.deps.Logger.Warn("extraction truncated at token limit", zap.String("model", e.modelName))
		}
		return extraction, &usage, nil
	}

	e.deps.Logger.Warn("extraction JSON unparseable, retrying as plain text", zap.Error(parseErr))
	plain, err := e.generate(ctx, false, plainTextPrompt, mimeType, data)
	if err != nil {
		return nil, nil, fmt.Errorf("JSON parse failed and fallback failed: %w (original error: %v)", err, parseErr)
	}
	usage.Add(plain.Usage)
	return &model.Extraction{FullText: strings.TrimSpace(plain.Text), Entities: []model.ExtractedEntity{}}, &usage, nil
}

const plainTextPrompt = `Extract ALL visible text from this document.
Read everything from top to bottom, left to right.
Include headers, content, footers, notes, and any other text.
Return ONLY the extracted text, nothing else.`

func (e *GeminiExtractor) generate(ctx context.Context, structured bool, prompt, mimeType string, data []byte) (*Completion, error) {
	m := e.newModel(structured)
	resp, err := DoValue(ctx, e.deps.Retry, e.deps.Logger, "gemini extraction", func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		if err := e.deps.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
		r, err := m.GenerateContent(ctx, genai.Text(prompt), genai.Blob{MIMEType: mimeType, Data: data})
		if err != nil {
			return nil, ClassifyError(providerGemini, err)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return readGeminiResponse(resp)
}

// parseExtraction converts the schema answer into the data model.
func parseExtraction(text string) (*model.Extraction, error) {
	var raw extractionJSON
	if err := json.Unmarshal([]byte(fixJSONEscaping(trimCodeFence(text))), &raw); err != nil {
		return nil, &MalformedResponseError{Provider: providerGemini, Body: text, Err: err}
	}

	out := &model.Extraction{
		FullText: raw.FullText,
		Entities: make([]model.ExtractedEntity, 0, len(raw.Entities)),
	}
	for _, ent := range raw.Entities {
		typ := strings.ToLower(strings.TrimSpace(ent.Type))
		if typ == "" || strings.TrimSpace(ent.RawValue) == "" {
			continue
		}
		conf := float64(ent.Confidence)
		if conf < 0 {
			conf = 0
		} else if conf > 1 {
			conf = 1
		}
		entity := model.ExtractedEntity{
			TypeMajor:  typ,
			RawValue:   ent.RawValue,
			Confidence: conf,
			Page:       ent.Page,
		}
		if v := strings.TrimSpace(ent.NormalizedValue); v != "" {
			entity.NormalizedValue = &v
		}
		out.Entities = append(out.Entities, entity)
	}
	return out, nil
}

// createExtractionSchema creates the JSON schema for text plus entities
func createExtractionSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"full_text": {
				Type:        genai.TypeString,
				Description: "All visible text from the document, top to bottom, left to right. Separate lines with newline (\\n).",
			},
			"entities": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"type": {
							Type:        genai.TypeString,
							Description: "One of: " + strings.Join(extractionEntityTypes, ", "),
						},
						"raw_value":        {Type: genai.TypeString},
						"normalized_value": {Type: genai.TypeString},
						"confidence":       {Type: genai.TypeNumber},
						"page":             {Type: genai.TypeInteger},
					},
					Required: []string{"type", "raw_value", "confidence"},
				},
			},
		},
		Required: []string{"full_text", "entities"},
	}
}
