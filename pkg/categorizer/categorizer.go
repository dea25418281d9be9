// Package categorizer assigns GAMP-5 software categories to URS
// documents. It combines an LLM classification with deterministic
// indicator analysis of the document text; disagreement or split
// evidence lowers the confidence score and can route the workflow to
// human consultation.
package categorizer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qualgen/pkg/agent/llm"
	"qualgen/pkg/agent/llmerrors"
	"qualgen/pkg/gamp"
	"qualgen/pkg/logx"
	"qualgen/pkg/proto"
	"qualgen/pkg/templates"
	"qualgen/pkg/utils"
)

// Weighting between the model's self-reported confidence and the
// deterministic indicator evidence, plus the ambiguity handling knobs.
const (
	llmWeight       = 0.7
	evidenceWeight  = 0.3
	ambiguityMargin = 0.25
	// ambiguityPenalty is subtracted when indicator evidence is split
	// between two categories. The penalty is large enough to push a
	// borderline Category 5 call under its 0.85 threshold.
	ambiguityPenalty = 0.15
)

// Categorizer performs GAMP-5 categorization of URS documents.
type Categorizer struct {
	client   llm.LLMClient
	renderer *templates.Renderer
	logger   *logx.Logger
}

// New creates a categorizer using the given LLM client.
func New(client llm.LLMClient, renderer *templates.Renderer) *Categorizer {
	return &Categorizer{
		client:   client,
		renderer: renderer,
		logger:   logx.NewLogger("categorizer"),
	}
}

// llmCategorization is the JSON shape the model is instructed to return.
type llmCategorization struct {
	Category   int     `json:"category"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	Indicators []struct {
		Category int     `json:"category"`
		Phrase   string  `json:"phrase"`
		Weight   float64 `json:"weight"`
	} `json:"indicators"`
}

// Categorize classifies a URS document. The returned categorization is
// validated; any malformed model output is a terminal validation error,
// never corrected.
func (c *Categorizer) Categorize(ctx context.Context, documentName, content string) (*gamp.Categorization, error) {
	prompt, err := c.renderer.Render(templates.CategorizationTemplate, &templates.TemplateData{
		DocumentName:    documentName,
		DocumentContent: content,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render categorization prompt: %w", err)
	}

	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewUserMessage(prompt),
		},
		MaxTokens:   4096,
		Temperature: llm.TemperatureDeterministic,
	}

	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("categorization request failed: %w", err)
	}

	parsed, err := parseResponse(resp.Content)
	if err != nil {
		return nil, err
	}

	category, err := gamp.ParseCategory(parsed.Category)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation,
			fmt.Sprintf("categorizer returned %v", err))
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation,
			fmt.Sprintf("categorizer confidence %.3f outside [0,1]", parsed.Confidence))
	}
	if parsed.Rationale == "" {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation,
			"categorizer returned empty rationale")
	}

	scores, matched := scanIndicators(content)
	confidence := mergeConfidence(parsed.Confidence, scores, category)

	result := &gamp.Categorization{
		ID:            uuid.New().String(),
		DocumentName:  documentName,
		Category:      category,
		Confidence:    proto.Confidence(confidence),
		Rationale:     parsed.Rationale,
		Indicators:    mergeIndicators(parsed, matched),
		CategorizedAt: time.Now().UTC(),
	}
	result.ReviewRequired = result.Confidence < gamp.ConfidenceThreshold(category)

	if err := result.Validate(); err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation, err.Error())
	}

	c.logger.Info("categorized %s as %s (confidence %.2f, review=%v)",
		documentName, category, confidence, result.ReviewRequired)

	return result, nil
}

// parseResponse extracts and decodes the categorization JSON.
func parseResponse(content string) (*llmCategorization, error) {
	jsonText, err := utils.ExtractJSONObject(content)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation,
			fmt.Sprintf("categorizer response has no JSON: %v", err))
	}

	var parsed llmCategorization
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation,
			fmt.Sprintf("categorizer response is not valid JSON: %v", err))
	}
	return &parsed, nil
}

// mergeConfidence combines the model's confidence with indicator
// evidence. Split indicator evidence between two categories applies the
// ambiguity penalty. The merge must be deterministic.
func mergeConfidence(llmConfidence float64, scores evidenceScores, category gamp.Category) float64 {
	support := scores[category]
	confidence := llmWeight*llmConfidence + evidenceWeight*support

	if _, ambiguous := scores.ambiguity(category, ambiguityMargin); ambiguous {
		confidence -= ambiguityPenalty
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// mergeIndicators combines model-cited indicators with the deterministic
// scan, model citations first.
func mergeIndicators(parsed *llmCategorization, scanned []gamp.Indicator) []gamp.Indicator {
	indicators := make([]gamp.Indicator, 0, len(parsed.Indicators)+len(scanned))
	for _, ind := range parsed.Indicators {
		if cat, err := gamp.ParseCategory(ind.Category); err == nil {
			indicators = append(indicators, gamp.Indicator{
				Category: cat,
				Phrase:   ind.Phrase,
				Weight:   ind.Weight,
			})
		}
	}
	indicators = append(indicators, scanned...)
	return indicators
}
