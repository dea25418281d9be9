package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRendererParsesAllTemplates(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	available := r.GetAvailableTemplates()
	assert.Len(t, available, 3)
	assert.Contains(t, available, CategorizationTemplate)
	assert.Contains(t, available, SMEReviewTemplate)
	assert.Contains(t, available, OQGenerationTemplate)
}

func TestRenderCategorization(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(CategorizationTemplate, &TemplateData{
		DocumentName:    "urs-001.md",
		DocumentContent: "The system shall maintain an audit trail.",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "urs-001.md")
	assert.Contains(t, out, "The system shall maintain an audit trail.")
	assert.Contains(t, out, "Category 2 is retired")
	assert.Contains(t, out, `"confidence"`)
}

func TestRenderSMEReview(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(SMEReviewTemplate, &TemplateData{
		DocumentName:      "urs-001.md",
		DocumentContent:   "Requirements body.",
		Category:          4,
		CategoryName:      "Configured products",
		CategoryRationale: "LIMS configured to the QC workflow.",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "GAMP Category\n4 (Configured products)")
	assert.Contains(t, out, "Categorization rationale: LIMS configured to the QC workflow.")
	assert.Contains(t, out, "ALCOA+")
}

func TestRenderSMEReviewOmitsEmptyRationale(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(SMEReviewTemplate, &TemplateData{
		DocumentName:    "urs-001.md",
		DocumentContent: "Requirements body.",
		Category:        1,
		CategoryName:    "Infrastructure software",
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "Categorization rationale:")
}

func TestRenderOQGeneration(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	data := &TemplateData{
		DocumentName:    "urs-001.md",
		DocumentContent: "Requirements body.",
		Category:        5,
		CategoryName:    "Custom applications",
		TestCountMin:    25,
		TestCountMax:    30,
		ContextChunks:   "[1] (3.2 Audit Trail, relevance 0.92)\nchunk text",
		ResearchSummary: "Enforcement records (1 found):",
		SMEAssessment:   "Risk level: high",
	}

	out, err := r.Render(OQGenerationTemplate, data)
	require.NoError(t, err)

	assert.Contains(t, out, "between 25 and 30 test cases")
	assert.Contains(t, out, "## Relevant URS Context")
	assert.Contains(t, out, "## Regulatory Research")
	assert.Contains(t, out, "## SME Assessment")
	assert.Contains(t, out, `"gamp_category": 5`)
}

func TestRenderOQGenerationOmitsEmptyEvidence(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(OQGenerationTemplate, &TemplateData{
		DocumentName:    "urs-001.md",
		DocumentContent: "Requirements body.",
		Category:        1,
		CategoryName:    "Infrastructure software",
		TestCountMin:    3,
		TestCountMax:    5,
	})
	require.NoError(t, err)

	assert.NotContains(t, out, "## Relevant URS Context")
	assert.NotContains(t, out, "## Regulatory Research")
	assert.NotContains(t, out, "## SME Assessment")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, err = r.Render(PromptTemplate("missing.tpl.md"), &TemplateData{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
