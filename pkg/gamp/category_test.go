package gamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		n       int
		want    Category
		wantErr bool
	}{
		{n: 1, want: CategoryInfrastructure},
		{n: 3, want: CategoryNonConfigured},
		{n: 4, want: CategoryConfigured},
		{n: 5, want: CategoryCustom},
		{n: 2, wantErr: true}, // retired in the second edition
		{n: 0, wantErr: true},
		{n: 6, wantErr: true},
		{n: -1, wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseCategory(tt.n)
		if tt.wantErr {
			assert.Error(t, err, "category %d must be rejected", tt.n)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestTestCountWindows(t *testing.T) {
	tests := []struct {
		category Category
		min, max int
	}{
		{CategoryInfrastructure, 3, 5},
		{CategoryNonConfigured, 5, 10},
		{CategoryConfigured, 15, 20},
		{CategoryCustom, 25, 30},
	}

	for _, tt := range tests {
		window, ok := TestCounts[tt.category]
		require.True(t, ok)
		assert.Equal(t, tt.min, window.Min)
		assert.Equal(t, tt.max, window.Max)
	}

	assert.Len(t, TestCounts, len(AllCategories))
}

func TestConfidenceThreshold(t *testing.T) {
	assert.InDelta(t, 0.85, float64(ConfidenceThreshold(CategoryCustom)), 0.0001)
	for _, c := range []Category{CategoryInfrastructure, CategoryNonConfigured, CategoryConfigured} {
		assert.InDelta(t, 0.70, float64(ConfidenceThreshold(c)), 0.0001)
	}
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "Category 5 (Custom)", CategoryCustom.String())
	assert.Equal(t, "Category 2 (invalid)", Category(2).String())
}

func validCategorization() Categorization {
	return Categorization{
		ID:            "cat-1",
		DocumentName:  "urs-001.md",
		Category:      CategoryConfigured,
		Confidence:    0.9,
		Rationale:     "Configured LIMS workflows.",
		CategorizedAt: time.Now().UTC(),
	}
}

func TestCategorizationValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Categorization)
		errIs  string
	}{
		{
			name:   "valid",
			mutate: func(*Categorization) {},
		},
		{
			name:   "retired category",
			mutate: func(c *Categorization) { c.Category = 2 },
			errIs:  "invalid category",
		},
		{
			name:   "confidence above one",
			mutate: func(c *Categorization) { c.Confidence = 1.2 },
			errIs:  "outside [0,1]",
		},
		{
			name:   "negative confidence",
			mutate: func(c *Categorization) { c.Confidence = -0.1 },
			errIs:  "outside [0,1]",
		},
		{
			name:   "empty rationale",
			mutate: func(c *Categorization) { c.Rationale = "" },
			errIs:  "rationale",
		},
		{
			name:   "missing timestamp",
			mutate: func(c *Categorization) { c.CategorizedAt = time.Time{} },
			errIs:  "timestamp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := validCategorization()
			tt.mutate(&cat)
			err := cat.Validate()
			if tt.errIs == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errIs)
		})
	}
}
