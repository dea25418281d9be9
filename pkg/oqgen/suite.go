// Package oqgen generates Operational Qualification test suites from
// gathered evidence and validates them against the per-category
// structural rules. A suite that fails validation is rejected whole;
// nothing is trimmed, padded, or renumbered.
package oqgen

import (
	"fmt"
	"regexp"
	"time"

	"qualgen/pkg/gamp"
)

// RiskLevel grades a test case's risk.
type RiskLevel string

// Recognized risk levels.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether the risk level is recognized.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// testCaseIDPattern is the required OQ-### identifier form.
var testCaseIDPattern = regexp.MustCompile(`^OQ-(\d{3})$`)

// TestStep is one numbered step of a test case.
type TestStep struct {
	Number      int    `json:"number" yaml:"number"`
	Action      string `json:"action" yaml:"action"`
	Expected    string `json:"expected" yaml:"expected"`
	DataCapture bool   `json:"data_capture" yaml:"data_capture"`
}

// TestCase is a single OQ test case.
type TestCase struct {
	ID                 string     `json:"id" yaml:"id"`
	Name               string     `json:"name" yaml:"name"`
	Objective          string     `json:"objective" yaml:"objective"`
	Prerequisites      []string   `json:"prerequisites" yaml:"prerequisites"`
	Steps              []TestStep `json:"steps" yaml:"steps"`
	AcceptanceCriteria []string   `json:"acceptance_criteria" yaml:"acceptance_criteria"`
	RegulatoryBasis    string     `json:"regulatory_basis" yaml:"regulatory_basis"`
	RiskLevel          RiskLevel  `json:"risk_level" yaml:"risk_level"`
	URSReference       string     `json:"urs_reference,omitempty" yaml:"urs_reference,omitempty"`
}

// TestSuite is a complete generated OQ suite.
type TestSuite struct {
	SuiteID                   string        `json:"suite_id" yaml:"suite_id"`
	SuiteName                 string        `json:"suite_name" yaml:"suite_name"`
	DocumentName              string        `json:"document_name" yaml:"document_name"`
	GAMPCategory              gamp.Category `json:"gamp_category" yaml:"gamp_category"`
	GeneratedAt               time.Time     `json:"generated_at" yaml:"generated_at"`
	GeneratorModel            string        `json:"generator_model" yaml:"generator_model"`
	EstimatedExecutionMinutes int           `json:"estimated_execution_minutes" yaml:"estimated_execution_minutes"`
	TestCases                 []TestCase    `json:"test_cases" yaml:"test_cases"`
}

// Validate enforces all structural suite rules: category test-count
// window, sequential OQ-### IDs, continuous step numbering, and
// completeness of every case. The first violation aborts; the caller
// decides whether to regenerate or fail the workflow.
func (s *TestSuite) Validate() error {
	if !s.GAMPCategory.Valid() {
		return fmt.Errorf("suite %s: invalid GAMP category %d", s.SuiteID, int(s.GAMPCategory))
	}

	window, ok := gamp.TestCounts[s.GAMPCategory]
	if !ok {
		return fmt.Errorf("suite %s: no test-count window for %s", s.SuiteID, s.GAMPCategory)
	}
	if len(s.TestCases) < window.Min || len(s.TestCases) > window.Max {
		return fmt.Errorf("suite %s: %d test cases outside the %s window [%d,%d]",
			s.SuiteID, len(s.TestCases), s.GAMPCategory, window.Min, window.Max)
	}

	if s.GeneratedAt.IsZero() {
		return fmt.Errorf("suite %s: missing generation timestamp", s.SuiteID)
	}
	if s.EstimatedExecutionMinutes <= 0 {
		return fmt.Errorf("suite %s: estimated execution time must be positive", s.SuiteID)
	}

	for i := range s.TestCases {
		if err := s.TestCases[i].validate(i); err != nil {
			return fmt.Errorf("suite %s: %w", s.SuiteID, err)
		}
	}

	return nil
}

// validate checks a single case, including that its ID matches its
// ordinal position (OQ-001 first, OQ-002 second, ...).
func (tc *TestCase) validate(position int) error {
	m := testCaseIDPattern.FindStringSubmatch(tc.ID)
	if m == nil {
		return fmt.Errorf("test case %d: ID %q does not match OQ-###", position+1, tc.ID)
	}
	expected := fmt.Sprintf("OQ-%03d", position+1)
	if tc.ID != expected {
		return fmt.Errorf("test case %d: ID %q out of sequence, expected %s", position+1, tc.ID, expected)
	}

	if tc.Name == "" {
		return fmt.Errorf("test case %s: name must not be empty", tc.ID)
	}
	if tc.Objective == "" {
		return fmt.Errorf("test case %s: objective must not be empty", tc.ID)
	}
	if len(tc.Steps) == 0 {
		return fmt.Errorf("test case %s: at least one step required", tc.ID)
	}
	for i, step := range tc.Steps {
		if step.Number != i+1 {
			return fmt.Errorf("test case %s: step %d numbered %d, numbering must be continuous from 1", tc.ID, i+1, step.Number)
		}
		if step.Action == "" {
			return fmt.Errorf("test case %s: step %d has no action", tc.ID, step.Number)
		}
		if step.Expected == "" {
			return fmt.Errorf("test case %s: step %d has no expected result", tc.ID, step.Number)
		}
	}
	if len(tc.AcceptanceCriteria) == 0 {
		return fmt.Errorf("test case %s: acceptance criteria must not be empty", tc.ID)
	}
	if tc.RegulatoryBasis == "" {
		return fmt.Errorf("test case %s: regulatory basis must not be empty", tc.ID)
	}
	if !tc.RiskLevel.Valid() {
		return fmt.Errorf("test case %s: invalid risk level %q", tc.ID, tc.RiskLevel)
	}

	return nil
}
