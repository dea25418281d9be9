// Package research provides the regulatory research agent. It queries
// openFDA enforcement endpoints for recalls relevant to the URS domain
// and caches responses in SQLite with a TTL.
package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"qualgen/pkg/config"
	"qualgen/pkg/logx"
	"qualgen/pkg/persistence"
)

// RecallSummary is one enforcement record condensed for the generation
// prompt.
type RecallSummary struct {
	ProductDescription string `json:"product_description"`
	Reason             string `json:"reason"`
	Classification     string `json:"classification"`
	Status             string `json:"status"`
	InitiationDate     string `json:"initiation_date"`
	Firm               string `json:"firm"`
}

// Findings is the research agent's audited output.
type Findings struct {
	Queries   []string        `json:"queries"`
	Recalls   []RecallSummary `json:"recalls"`
	Sources   []string        `json:"sources"`
	FromCache bool            `json:"from_cache"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Agent performs regulatory research with caching.
type Agent struct {
	client *openFDAClient
	ops    *persistence.DatabaseOperations
	ttl    time.Duration
	logger *logx.Logger
}

// NewAgent creates a research agent. The openFDA API key is optional;
// unauthenticated requests are rate-limited but valid.
func NewAgent(cfg config.ResearchConfig, ops *persistence.DatabaseOperations) *Agent {
	apiKey := os.Getenv(config.EnvOpenFDAAPIKey)
	return &Agent{
		client: newOpenFDAClient(cfg.OpenFDABaseURL, apiKey, cfg.RequestTimeout, cfg.MaxResults),
		ops:    ops,
		ttl:    cfg.CacheTTL,
		logger: logx.NewLogger("research"),
	}
}

// Research queries drug and device enforcement records for the given
// search terms. Cached responses inside the TTL are served without a
// network call.
func (a *Agent) Research(ctx context.Context, terms []string) (*Findings, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("research requires at least one search term")
	}

	search := buildSearchExpression(terms)
	findings := &Findings{
		FetchedAt: time.Now().UTC(),
	}

	for _, path := range []string{drugEnforcementPath, deviceEnforcementPath} {
		query := path + "?" + search
		findings.Queries = append(findings.Queries, query)

		recalls, fromCache, err := a.queryWithCache(ctx, path, search)
		if err != nil {
			return nil, fmt.Errorf("research query %s failed: %w", path, err)
		}
		findings.Recalls = append(findings.Recalls, recalls...)
		findings.FromCache = findings.FromCache || fromCache
		findings.Sources = append(findings.Sources, a.client.baseURL+path)
	}

	a.logger.Info("research complete: %d recalls across %d queries (cached=%v)",
		len(findings.Recalls), len(findings.Queries), findings.FromCache)
	return findings, nil
}

// queryWithCache checks the SQLite cache before hitting the network and
// stores fresh responses with the configured TTL.
func (a *Agent) queryWithCache(ctx context.Context, path, search string) ([]RecallSummary, bool, error) {
	cacheKey := cacheKeyFor(path, search)
	now := time.Now().UTC()

	if entry, err := a.ops.GetCachedResearch(cacheKey, now); err == nil {
		var recalls []RecallSummary
		if err := json.Unmarshal([]byte(entry.Response), &recalls); err == nil {
			a.logger.Debug("cache hit for %s", path)
			return recalls, true, nil
		}
		// A corrupt cache entry falls through to a fresh fetch; the
		// upsert below overwrites it.
	}

	resp, err := a.client.queryEnforcement(ctx, path, search)
	if err != nil {
		return nil, false, err
	}

	recalls := make([]RecallSummary, 0, len(resp.Results))
	for _, r := range resp.Results {
		recalls = append(recalls, RecallSummary{
			ProductDescription: r.ProductDescription,
			Reason:             r.ReasonForRecall,
			Classification:     r.Classification,
			Status:             r.Status,
			InitiationDate:     r.RecallInitiationDat,
			Firm:               r.RecallingFirm,
		})
	}

	payload, err := json.Marshal(recalls)
	if err != nil {
		return nil, false, fmt.Errorf("failed to serialize research results: %w", err)
	}

	if err := a.ops.PutCachedResearch(&persistence.ResearchCacheEntry{
		CacheKey:  cacheKey,
		Query:     path + "?" + search,
		Response:  string(payload),
		FetchedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}); err != nil {
		return nil, false, fmt.Errorf("failed to cache research results: %w", err)
	}

	return recalls, false, nil
}

// Summarize renders findings as a prompt evidence block.
func (f *Findings) Summarize() string {
	if len(f.Recalls) == 0 {
		return "No relevant enforcement records were found for the queried terms."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Enforcement records (%d found):\n", len(f.Recalls))
	for i, r := range f.Recalls {
		fmt.Fprintf(&b, "%d. [%s, %s] %s - %s (firm: %s, initiated %s)\n",
			i+1, r.Classification, r.Status, truncate(r.ProductDescription, 120),
			truncate(r.Reason, 200), r.Firm, r.InitiationDate)
	}
	return strings.TrimSpace(b.String())
}

// buildSearchExpression ORs recall-reason matches for each term using
// openFDA query syntax.
func buildSearchExpression(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf(`reason_for_recall:%q`, term))
	}
	return strings.Join(parts, " OR ")
}

func cacheKeyFor(path, search string) string {
	sum := sha256.Sum256([]byte(path + "|" + search))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
