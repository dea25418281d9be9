package categorizer

import (
	"sort"
	"strings"

	"qualgen/pkg/gamp"
)

// indicatorPattern is a weighted keyword associated with a category.
type indicatorPattern struct {
	Phrase string
	Weight float64
}

// categoryIndicators maps URS phrasing to category evidence. Phrases are
// matched case-insensitively as substrings. Weights are relative; the
// scores are normalized before merging with the model's confidence.
//
//nolint:gochecknoglobals // Static evidence tables
var categoryIndicators = map[gamp.Category][]indicatorPattern{
	gamp.CategoryInfrastructure: {
		{Phrase: "operating system", Weight: 0.9},
		{Phrase: "database engine", Weight: 0.8},
		{Phrase: "middleware", Weight: 0.8},
		{Phrase: "network infrastructure", Weight: 0.7},
		{Phrase: "virtualization", Weight: 0.6},
		{Phrase: "backup utility", Weight: 0.5},
	},
	gamp.CategoryNonConfigured: {
		{Phrase: "commercial off-the-shelf", Weight: 0.8},
		{Phrase: "cots", Weight: 0.7},
		{Phrase: "used as supplied", Weight: 0.9},
		{Phrase: "default configuration", Weight: 0.9},
		{Phrase: "vendor standard", Weight: 0.6},
		{Phrase: "no customization", Weight: 0.8},
	},
	gamp.CategoryConfigured: {
		{Phrase: "configure", Weight: 0.5},
		{Phrase: "configuration", Weight: 0.5},
		{Phrase: "user-defined parameters", Weight: 0.8},
		{Phrase: "workflow configuration", Weight: 0.9},
		{Phrase: "lims", Weight: 0.8},
		{Phrase: "mes", Weight: 0.6},
		{Phrase: "erp", Weight: 0.6},
		{Phrase: "master data", Weight: 0.6},
		{Phrase: "business rules", Weight: 0.7},
	},
	gamp.CategoryCustom: {
		{Phrase: "custom develop", Weight: 0.9},
		{Phrase: "custom-developed", Weight: 0.9},
		{Phrase: "bespoke", Weight: 0.9},
		{Phrase: "custom algorithm", Weight: 1.0},
		{Phrase: "proprietary algorithm", Weight: 1.0},
		{Phrase: "custom code", Weight: 0.9},
		{Phrase: "custom interface", Weight: 0.8},
		{Phrase: "novel calculation", Weight: 0.8},
		{Phrase: "in-house developed", Weight: 0.9},
		{Phrase: "source code", Weight: 0.6},
	},
}

// evidenceScores holds normalized per-category indicator scores in [0,1].
type evidenceScores map[gamp.Category]float64

// scanIndicators scores the document text against the indicator tables
// and returns the normalized scores plus the matched indicators.
func scanIndicators(text string) (evidenceScores, []gamp.Indicator) {
	lower := strings.ToLower(text)

	raw := make(map[gamp.Category]float64)
	var matched []gamp.Indicator

	for category, patterns := range categoryIndicators {
		for _, p := range patterns {
			if strings.Contains(lower, p.Phrase) {
				raw[category] += p.Weight
				matched = append(matched, gamp.Indicator{
					Category: category,
					Phrase:   p.Phrase,
					Weight:   p.Weight,
				})
			}
		}
	}

	// Normalize to [0,1] against the strongest category so scores are
	// comparable across documents of different lengths.
	var maxScore float64
	for _, score := range raw {
		if score > maxScore {
			maxScore = score
		}
	}

	scores := make(evidenceScores, len(raw))
	if maxScore > 0 {
		for category, score := range raw {
			scores[category] = score / maxScore
		}
	}

	// Stable ordering for deterministic output.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Category != matched[j].Category {
			return matched[i].Category < matched[j].Category
		}
		return matched[i].Phrase < matched[j].Phrase
	})

	return scores, matched
}

// ambiguity reports whether the evidence is split between the given
// category and another, and which category is the strongest competitor.
// A competitor within margin of the top score makes the document
// ambiguous.
func (s evidenceScores) ambiguity(chosen gamp.Category, margin float64) (gamp.Category, bool) {
	chosenScore := s[chosen]

	var competitor gamp.Category
	var competitorScore float64
	for category, score := range s {
		if category == chosen {
			continue
		}
		if score > competitorScore {
			competitor = category
			competitorScore = score
		}
	}

	if competitor == 0 {
		return 0, false
	}
	if competitorScore >= chosenScore-margin {
		return competitor, true
	}
	return 0, false
}
