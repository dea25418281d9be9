package oqgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qualgen/pkg/agent/llm"
	"qualgen/pkg/agent/llmerrors"
	"qualgen/pkg/gamp"
	"qualgen/pkg/templates"
)

func newTestRenderer(t *testing.T) *templates.Renderer {
	t.Helper()
	renderer, err := templates.NewRenderer()
	require.NoError(t, err)
	return renderer
}

func testCategorization(category gamp.Category) *gamp.Categorization {
	return &gamp.Categorization{
		ID:            "cat-1",
		DocumentName:  "urs-001.md",
		Category:      category,
		Confidence:    0.92,
		Rationale:     "Established infrastructure software.",
		CategorizedAt: time.Now().UTC(),
	}
}

// suiteJSON renders a model response with n valid test cases.
func suiteJSON(t *testing.T, category gamp.Category, n int) string {
	t.Helper()

	cases := make([]TestCase, 0, n)
	for i := 1; i <= n; i++ {
		cases = append(cases, TestCase{
			ID:                 fmt.Sprintf("OQ-%03d", i),
			Name:               fmt.Sprintf("Verify function %d", i),
			Objective:          "Confirm operation per specification.",
			Steps:              []TestStep{{Number: 1, Action: "Run", Expected: "Pass", DataCapture: true}},
			AcceptanceCriteria: []string{"Step passes"},
			RegulatoryBasis:    "21 CFR Part 11",
			RiskLevel:          RiskLow,
		})
	}

	payload := llmSuite{
		SuiteName:                 "Infrastructure OQ",
		GAMPCategory:              int(category),
		EstimatedExecutionMinutes: 45,
		TestCases:                 cases,
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return "```json\n" + string(raw) + "\n```"
}

func TestGenerate(t *testing.T) {
	client := llm.NewMockClient([]llm.CompletionResponse{
		{Content: suiteJSON(t, gamp.CategoryInfrastructure, 4)},
	}, nil)

	gen, err := New(client, newTestRenderer(t))
	require.NoError(t, err)

	suite, err := gen.Generate(context.Background(), Input{
		DocumentName:    "urs-001.md",
		DocumentContent: "The OS shall boot.",
		Categorization:  testCategorization(gamp.CategoryInfrastructure),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, suite.SuiteID)
	assert.Equal(t, "urs-001.md", suite.DocumentName)
	assert.Equal(t, gamp.CategoryInfrastructure, suite.GAMPCategory)
	assert.Equal(t, "mock-model", suite.GeneratorModel)
	assert.Len(t, suite.TestCases, 4)
	assert.NoError(t, suite.Validate())

	// The prompt carries the category's test-count window.
	calls := client.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0].Messages[0].Content
	assert.Contains(t, prompt, "3")
	assert.Contains(t, prompt, "5")
}

func TestGenerateRejectsCategoryMismatch(t *testing.T) {
	// Model was asked for Category 1 but answered Category 5.
	client := llm.NewMockClient([]llm.CompletionResponse{
		{Content: suiteJSON(t, gamp.CategoryCustom, 25)},
	}, nil)

	gen, err := New(client, newTestRenderer(t))
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), Input{
		DocumentName:    "urs-001.md",
		DocumentContent: "The OS shall boot.",
		Categorization:  testCategorization(gamp.CategoryInfrastructure),
	})
	require.Error(t, err)

	var llmErr *llmerrors.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llmerrors.ErrorTypeValidation, llmErr.Type)
	assert.Contains(t, llmErr.Message, "category")
}

func TestGenerateRejectsNonJSONResponse(t *testing.T) {
	client := llm.NewMockClient([]llm.CompletionResponse{
		{Content: "Here are some test ideas in prose form."},
	}, nil)

	gen, err := New(client, newTestRenderer(t))
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), Input{
		DocumentName:    "urs-001.md",
		DocumentContent: "The OS shall boot.",
		Categorization:  testCategorization(gamp.CategoryInfrastructure),
	})
	require.Error(t, err)

	var llmErr *llmerrors.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llmerrors.ErrorTypeValidation, llmErr.Type)
}

func TestGenerateRequiresCategorization(t *testing.T) {
	gen, err := New(llm.NewMockClient(nil, nil), newTestRenderer(t))
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), Input{DocumentName: "urs.md"})
	assert.Error(t, err)
}

func TestGenerateEnforcesTokenBudget(t *testing.T) {
	gen, err := New(llm.NewMockClient(nil, nil), newTestRenderer(t))
	require.NoError(t, err)

	// Push the prompt past the 98k-token budget for an unknown model.
	huge := strings.Repeat("The system shall record every sample measurement. ", 45000)
	_, err = gen.Generate(context.Background(), Input{
		DocumentName:    "urs-huge.md",
		DocumentContent: huge,
		Categorization:  testCategorization(gamp.CategoryInfrastructure),
	})
	require.Error(t, err)

	var llmErr *llmerrors.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llmerrors.ErrorTypeBadPrompt, llmErr.Type)
}
