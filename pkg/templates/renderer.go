// Package templates provides template rendering for agent prompts.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// TemplateData holds the data for prompt rendering.
type TemplateData struct {
	Extra           map[string]any `json:"extra,omitempty"`
	DocumentName    string         `json:"document_name,omitempty"`
	DocumentContent string         `json:"document_content,omitempty"`
	// Categorization context
	Category          int    `json:"category,omitempty"`
	CategoryName      string `json:"category_name,omitempty"`
	CategoryRationale string `json:"category_rationale,omitempty"`
	// Gathered evidence for generation
	ContextChunks   string `json:"context_chunks,omitempty"`
	ResearchSummary string `json:"research_summary,omitempty"`
	SMEAssessment   string `json:"sme_assessment,omitempty"`
	// Suite constraints
	TestCountMin int `json:"test_count_min,omitempty"`
	TestCountMax int `json:"test_count_max,omitempty"`
}

// PromptTemplate identifies an embedded prompt template.
type PromptTemplate string

const (
	// CategorizationTemplate prompts for GAMP category classification.
	CategorizationTemplate PromptTemplate = "categorization.tpl.md"
	// SMEReviewTemplate prompts for the SME risk assessment.
	SMEReviewTemplate PromptTemplate = "sme_review.tpl.md"
	// OQGenerationTemplate prompts for OQ test suite generation.
	OQGenerationTemplate PromptTemplate = "oq_generation.tpl.md"
)

// Renderer handles prompt template rendering.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer creates a renderer with all embedded templates parsed.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[PromptTemplate]*template.Template),
	}

	templateNames := []PromptTemplate{
		CategorizationTemplate,
		SMEReviewTemplate,
		OQGenerationTemplate,
	}

	for _, name := range templateNames {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"contains": strings.Contains,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(templateName PromptTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	return buf.String(), nil
}

// GetAvailableTemplates returns a list of all available templates.
func (r *Renderer) GetAvailableTemplates() []PromptTemplate {
	templates := make([]PromptTemplate, 0, len(r.templates))
	for name := range r.templates {
		templates = append(templates, name)
	}
	return templates
}
