// Package sme provides the subject-matter-expert review agent: an LLM
// assessment of validation risk and OQ test priorities, parsed into a
// structured form.
package sme

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

// RiskLevel grades the validation risk of the system under review.
type RiskLevel string

// Risk levels in ascending severity.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether the risk level is one of the recognized grades.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// Assessment is the SME agent's audited output.
type Assessment struct {
	ID              string           `json:"id"`
	RiskLevel       RiskLevel        `json:"risk_level"`
	Confidence      proto.Confidence `json:"confidence"`
	Recommendations []string         `json:"recommendations"`
	TestPriorities  []string         `json:"test_priorities,omitempty"`
	Citations       []string         `json:"citations,omitempty"`
	AssessedAt      time.Time        `json:"assessed_at"`
}

// Validate enforces the assessment invariants without correcting
// anything.
func (a *Assessment) Validate() error {
	if !a.RiskLevel.Valid() {
		return fmt.Errorf("assessment %s: invalid risk level %q", a.ID, a.RiskLevel)
	}
	if !a.Confidence.Valid() {
		return fmt.Errorf("assessment %s: confidence %.3f outside [0,1]", a.ID, float64(a.Confidence))
	}
	if len(a.Recommendations) == 0 {
		return fmt.Errorf("assessment %s: recommendations must not be empty", a.ID)
	}
	return nil
}

// Agent performs SME reviews through an LLM.
type Agent struct {
	client   llm.LLMClient
	renderer *templates.Renderer
	logger   *logx.Logger
}

// New creates an SME agent using the given LLM client.
func New(client llm.LLMClient, renderer *templates.Renderer) *Agent {
	return &Agent{
		client:   client,
		renderer: renderer,
		logger:   logx.NewLogger("sme"),
	}
}

// llmAssessment is the JSON shape the model is instructed to return.
type llmAssessment struct {
	RiskLevel       string   `json:"risk_level"`
	Confidence      float64  `json:"confidence"`
	Recommendations []string `json:"recommendations"`
	TestPriorities  []string `json:"test_priorities"`
	Citations       []string `json:"citations"`
}

// Review assesses the URS given its categorization. Malformed model
// output is a terminal validation error.
func (a *Agent) Review(ctx context.Context, documentName, content string, cat *gamp.Categorization) (*Assessment, error) {
	prompt, err := a.renderer.Render(templates.SMEReviewTemplate, &templates.TemplateData{
		DocumentName:      documentName,
		DocumentContent:   content,
		Category:          int(cat.Category),
		CategoryName:      cat.Category.String(),
		CategoryRationale: cat.Rationale,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render SME prompt: %w", err)
	}

	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewUserMessage(prompt),
		},
		MaxTokens:   4096,
		Temperature: llm.TemperatureDefault,
	}

	resp, err := a.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("SME review request failed: %w", err)
	}

	jsonText, err := utils.ExtractJSONObject(resp.Content)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation,
			fmt.Sprintf("SME response has no JSON: %v", err))
	}

	var parsed llmAssessment
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation,
			fmt.Sprintf("SME response is not valid JSON: %v", err))
	}

	assessment := &Assessment{
		ID:              uuid.New().String(),
		RiskLevel:       RiskLevel(parsed.RiskLevel),
		Confidence:      proto.Confidence(parsed.Confidence),
		Recommendations: parsed.Recommendations,
		TestPriorities:  parsed.TestPriorities,
		Citations:       parsed.Citations,
		AssessedAt:      time.Now().UTC(),
	}

	if err := assessment.Validate(); err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation, err.Error())
	}

	a.logger.Info("SME review of %s: risk=%s confidence=%.2f (%d recommendations)",
		documentName, assessment.RiskLevel, float64(assessment.Confidence), len(assessment.Recommendations))
	return assessment, nil
}

// Summarize renders the assessment as a prompt evidence block.
func (a *Assessment) Summarize() string {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Sprintf("risk_level: %s", a.RiskLevel)
	}
	return string(data)
}
