package oqgen

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qualgen/pkg/agent/llm"
	"qualgen/pkg/agent/llmerrors"
	"qualgen/pkg/config"
	"qualgen/pkg/gamp"
	"qualgen/pkg/logx"
	"qualgen/pkg/templates"
	"qualgen/pkg/tokens"
	"qualgen/pkg/utils"
)

// defaultContextTokens bounds the prompt when the model is not in the
// known-model registry.
const defaultContextTokens = 128000

// Input carries the URS and gathered evidence into suite generation.
type Input struct {
	DocumentName    string
	DocumentContent string
	Categorization  *gamp.Categorization
	ContextChunks   string
	ResearchSummary string
	SMEAssessment   string
}

// Generator produces OQ test suites through an LLM.
type Generator struct {
	client   llm.LLMClient
	renderer *templates.Renderer
	counter  *tokens.Counter
	logger   *logx.Logger
}

// New creates a generator using the given LLM client.
func New(client llm.LLMClient, renderer *templates.Renderer) (*Generator, error) {
	counter, err := tokens.NewCounter(client.GetModelName())
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}
	return &Generator{
		client:   client,
		renderer: renderer,
		counter:  counter,
		logger:   logx.NewLogger("oqgen"),
	}, nil
}

// llmSuite is the JSON shape the model is instructed to return.
type llmSuite struct {
	SuiteName                 string     `json:"suite_name"`
	GAMPCategory              int        `json:"gamp_category"`
	EstimatedExecutionMinutes int        `json:"estimated_execution_minutes"`
	TestCases                 []TestCase `json:"test_cases"`
}

// Generate builds the generation prompt, enforces the token budget,
// invokes the model, and parses the suite. Structural validation is the
// caller's job so a failed suite can be inspected and regenerated.
func (g *Generator) Generate(ctx context.Context, in Input) (*TestSuite, error) {
	if in.Categorization == nil {
		return nil, fmt.Errorf("generation requires a categorization")
	}
	category := in.Categorization.Category
	window, ok := gamp.TestCounts[category]
	if !ok {
		return nil, fmt.Errorf("no test-count window for %s", category)
	}

	prompt, err := g.renderer.Render(templates.OQGenerationTemplate, &templates.TemplateData{
		DocumentName:      in.DocumentName,
		DocumentContent:   in.DocumentContent,
		Category:          int(category),
		CategoryName:      category.String(),
		CategoryRationale: in.Categorization.Rationale,
		ContextChunks:     in.ContextChunks,
		ResearchSummary:   in.ResearchSummary,
		SMEAssessment:     in.SMEAssessment,
		TestCountMin:      window.Min,
		TestCountMax:      window.Max,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render generation prompt: %w", err)
	}

	if err := g.checkBudget(prompt); err != nil {
		return nil, err
	}

	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewUserMessage(prompt),
		},
		MaxTokens:   llm.GeneratorMaxTokens,
		Temperature: llm.TemperatureDeterministic,
	}

	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("suite generation request failed: %w", err)
	}

	suite, err := g.parseSuite(resp.Content, in.DocumentName, category)
	if err != nil {
		return nil, err
	}

	g.logger.Info("generated suite %s: %d test cases for %s (%d min estimated)",
		suite.SuiteID, len(suite.TestCases), category, suite.EstimatedExecutionMinutes)
	return suite, nil
}

// checkBudget rejects prompts that cannot fit the model's context window
// alongside the output budget. Evidence is never silently truncated.
func (g *Generator) checkBudget(prompt string) error {
	contextTokens := defaultContextTokens
	if info, known := config.GetModelInfo(g.client.GetModelName()); known && info.MaxContextTokens > 0 {
		contextTokens = info.MaxContextTokens
	}

	budget := contextTokens - llm.GeneratorMaxTokens
	if !g.counter.WithinLimit(prompt, budget) {
		return llmerrors.NewError(llmerrors.ErrorTypeBadPrompt,
			fmt.Sprintf("generation prompt of %d tokens exceeds the %d token budget for %s",
				g.counter.Count(prompt), budget, g.client.GetModelName()))
	}
	return nil
}

// parseSuite extracts and decodes the suite JSON, then checks that the
// model kept the requested category.
func (g *Generator) parseSuite(content, documentName string, category gamp.Category) (*TestSuite, error) {
	jsonText, err := utils.ExtractJSONObject(content)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation,
			fmt.Sprintf("generator response has no JSON: %v", err))
	}

	var parsed llmSuite
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation,
			fmt.Sprintf("generator response is not valid JSON: %v", err))
	}

	if parsed.GAMPCategory != int(category) {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeValidation,
			fmt.Sprintf("generator returned category %d, expected %d", parsed.GAMPCategory, int(category)))
	}

	return &TestSuite{
		SuiteID:                   uuid.New().String(),
		SuiteName:                 parsed.SuiteName,
		DocumentName:              documentName,
		GAMPCategory:              category,
		GeneratedAt:               time.Now().UTC(),
		GeneratorModel:            g.client.GetModelName(),
		EstimatedExecutionMinutes: parsed.EstimatedExecutionMinutes,
		TestCases:                 parsed.TestCases,
	}, nil
}
