package oqgen

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qualgen/pkg/gamp"
)

// buildSuite constructs a structurally valid suite with n test cases.
func buildSuite(category gamp.Category, n int) *TestSuite {
	cases := make([]TestCase, 0, n)
	for i := 1; i <= n; i++ {
		cases = append(cases, TestCase{
			ID:        fmt.Sprintf("OQ-%03d", i),
			Name:      fmt.Sprintf("Verify function %d", i),
			Objective: "Confirm the function operates per specification.",
			Steps: []TestStep{
				{Number: 1, Action: "Execute the function", Expected: "Function completes", DataCapture: true},
				{Number: 2, Action: "Review the output", Expected: "Output matches specification"},
			},
			AcceptanceCriteria: []string{"All steps pass"},
			RegulatoryBasis:    "21 CFR Part 11",
			RiskLevel:          RiskMedium,
		})
	}
	return &TestSuite{
		SuiteID:                   "suite-1",
		SuiteName:                 "OQ Suite",
		DocumentName:              "urs-001.md",
		GAMPCategory:              category,
		GeneratedAt:               time.Now().UTC(),
		GeneratorModel:            "mock-model",
		EstimatedExecutionMinutes: 90,
		TestCases:                 cases,
	}
}

func TestSuiteValidateTestCountWindows(t *testing.T) {
	tests := []struct {
		category gamp.Category
		count    int
		wantErr  bool
	}{
		{gamp.CategoryInfrastructure, 3, false},
		{gamp.CategoryInfrastructure, 5, false},
		{gamp.CategoryInfrastructure, 2, true},
		{gamp.CategoryInfrastructure, 6, true},
		{gamp.CategoryNonConfigured, 5, false},
		{gamp.CategoryNonConfigured, 10, false},
		{gamp.CategoryNonConfigured, 11, true},
		{gamp.CategoryConfigured, 15, false},
		{gamp.CategoryConfigured, 20, false},
		{gamp.CategoryConfigured, 14, true},
		{gamp.CategoryCustom, 25, false},
		{gamp.CategoryCustom, 30, false},
		{gamp.CategoryCustom, 24, true},
		{gamp.CategoryCustom, 31, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.category, tt.count), func(t *testing.T) {
			suite := buildSuite(tt.category, tt.count)
			err := suite.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSuiteValidateIDSequence(t *testing.T) {
	t.Run("gap in sequence", func(t *testing.T) {
		suite := buildSuite(gamp.CategoryInfrastructure, 3)
		suite.TestCases[2].ID = "OQ-004"
		err := suite.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of sequence")
	})

	t.Run("wrong format", func(t *testing.T) {
		suite := buildSuite(gamp.CategoryInfrastructure, 3)
		suite.TestCases[0].ID = "TC-001"
		err := suite.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match OQ-###")
	})

	t.Run("duplicate ID", func(t *testing.T) {
		suite := buildSuite(gamp.CategoryInfrastructure, 3)
		suite.TestCases[1].ID = "OQ-001"
		assert.Error(t, suite.Validate())
	})

	t.Run("IDs must start at OQ-001", func(t *testing.T) {
		suite := buildSuite(gamp.CategoryInfrastructure, 3)
		suite.TestCases[0].ID = "OQ-002"
		assert.Error(t, suite.Validate())
	})
}

func TestSuiteValidateStepNumbering(t *testing.T) {
	t.Run("numbering must start at 1", func(t *testing.T) {
		suite := buildSuite(gamp.CategoryInfrastructure, 3)
		suite.TestCases[0].Steps[0].Number = 0
		suite.TestCases[0].Steps[1].Number = 1
		assert.Error(t, suite.Validate())
	})

	t.Run("numbering must be continuous", func(t *testing.T) {
		suite := buildSuite(gamp.CategoryInfrastructure, 3)
		suite.TestCases[0].Steps[1].Number = 3
		err := suite.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "continuous")
	})
}

func TestSuiteValidateCompleteness(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*TestSuite)
	}{
		{"empty name", func(s *TestSuite) { s.TestCases[0].Name = "" }},
		{"empty objective", func(s *TestSuite) { s.TestCases[0].Objective = "" }},
		{"no steps", func(s *TestSuite) { s.TestCases[0].Steps = nil }},
		{"step without action", func(s *TestSuite) { s.TestCases[0].Steps[0].Action = "" }},
		{"step without expected result", func(s *TestSuite) { s.TestCases[0].Steps[1].Expected = "" }},
		{"no acceptance criteria", func(s *TestSuite) { s.TestCases[0].AcceptanceCriteria = nil }},
		{"empty regulatory basis", func(s *TestSuite) { s.TestCases[0].RegulatoryBasis = "" }},
		{"invalid risk level", func(s *TestSuite) { s.TestCases[0].RiskLevel = "extreme" }},
		{"invalid category", func(s *TestSuite) { s.GAMPCategory = 2 }},
		{"zero timestamp", func(s *TestSuite) { s.GeneratedAt = time.Time{} }},
		{"non-positive execution estimate", func(s *TestSuite) { s.EstimatedExecutionMinutes = 0 }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			suite := buildSuite(gamp.CategoryInfrastructure, 3)
			tt.mutate(suite)
			assert.Error(t, suite.Validate())
		})
	}
}

func TestRiskLevelValid(t *testing.T) {
	assert.True(t, RiskLow.Valid())
	assert.True(t, RiskCritical.Valid())
	assert.False(t, RiskLevel("severe").Valid())
	assert.False(t, RiskLevel("").Valid())
}
