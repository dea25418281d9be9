// Package gamp defines GAMP-5 software categories and the structural
// rules that depend on them (confidence thresholds, OQ test-count
// windows). It is shared by the categorizer and the OQ generator.
package gamp

import (
	"fmt"
	"time"

	"qualgen/pkg/proto"
)

// Category is a GAMP-5 software category. Category 2 was retired in the
// second edition of the guide and is deliberately not representable.
type Category int

const (
	// CategoryInfrastructure is Category 1: operating systems, databases,
	// middleware - established, unmodified infrastructure software.
	CategoryInfrastructure Category = 1

	// CategoryNonConfigured is Category 3: commercial off-the-shelf
	// products used as supplied.
	CategoryNonConfigured Category = 3

	// CategoryConfigured is Category 4: configured products where the
	// configuration implements business processes.
	CategoryConfigured Category = 4

	// CategoryCustom is Category 5: custom-developed or heavily
	// customized applications. Highest validation rigor.
	CategoryCustom Category = 5
)

// AllCategories lists the recognized categories in ascending order.
var AllCategories = []Category{CategoryInfrastructure, CategoryNonConfigured, CategoryConfigured, CategoryCustom}

// Valid reports whether c is one of the four recognized categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryInfrastructure, CategoryNonConfigured, CategoryConfigured, CategoryCustom:
		return true
	default:
		return false
	}
}

func (c Category) String() string {
	switch c {
	case CategoryInfrastructure:
		return "Category 1 (Infrastructure)"
	case CategoryNonConfigured:
		return "Category 3 (Non-Configured)"
	case CategoryConfigured:
		return "Category 4 (Configured)"
	case CategoryCustom:
		return "Category 5 (Custom)"
	default:
		return fmt.Sprintf("Category %d (invalid)", int(c))
	}
}

// ParseCategory converts a numeric category value, rejecting anything
// outside {1,3,4,5}.
func ParseCategory(n int) (Category, error) {
	c := Category(n)
	if !c.Valid() {
		return 0, fmt.Errorf("invalid GAMP category %d: must be 1, 3, 4, or 5", n)
	}
	return c, nil
}

// TestCountWindow is the permitted OQ test-case count range per category.
type TestCountWindow struct {
	Min int
	Max int
}

// TestCounts maps each category to its OQ suite size window. A generated
// suite outside its window is rejected, never trimmed or padded.
//
//nolint:gochecknoglobals // Fixed regulatory windows
var TestCounts = map[Category]TestCountWindow{
	CategoryInfrastructure: {Min: 3, Max: 5},
	CategoryNonConfigured:  {Min: 5, Max: 10},
	CategoryConfigured:     {Min: 15, Max: 20},
	CategoryCustom:         {Min: 25, Max: 30},
}

// ConfidenceThreshold returns the minimum categorization confidence that
// avoids a consultation for the given category. Category 5 carries the
// highest validation burden, so it demands the highest confidence.
func ConfidenceThreshold(c Category) proto.Confidence {
	if c == CategoryCustom {
		return 0.85
	}
	return 0.70
}

// Categorization is the audited output of the categorizer agent.
type Categorization struct {
	ID             string           `json:"id"`
	DocumentName   string           `json:"document_name"`
	Category       Category         `json:"category"`
	Confidence     proto.Confidence `json:"confidence"`
	Rationale      string           `json:"rationale"`
	Indicators     []Indicator      `json:"indicators,omitempty"`
	ReviewRequired bool             `json:"review_required"`
	CategorizedAt  time.Time        `json:"categorized_at"`
}

// Indicator is a single piece of categorization evidence found in the URS.
type Indicator struct {
	Category Category `json:"category"`
	Phrase   string   `json:"phrase"`
	Weight   float64  `json:"weight"`
}

// Validate enforces the categorization invariants. It returns an error
// rather than correcting anything: a malformed categorization must halt
// the workflow.
func (c *Categorization) Validate() error {
	if !c.Category.Valid() {
		return fmt.Errorf("categorization %s: invalid category %d", c.ID, int(c.Category))
	}
	if !c.Confidence.Valid() {
		return fmt.Errorf("categorization %s: confidence %.3f outside [0,1]", c.ID, float64(c.Confidence))
	}
	if c.Rationale == "" {
		return fmt.Errorf("categorization %s: rationale must not be empty", c.ID)
	}
	if c.CategorizedAt.IsZero() {
		return fmt.Errorf("categorization %s: missing timestamp", c.ID)
	}
	return nil
}
