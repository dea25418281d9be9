package research

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qualgen/pkg/config"
	"qualgen/pkg/persistence"
)

func testOps(t *testing.T) *persistence.DatabaseOperations {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := persistence.InitializeDatabase(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return persistence.NewDatabaseOperations(db, "test-session")
}

func testAgent(t *testing.T, baseURL string, ttl time.Duration) *Agent {
	t.Helper()
	t.Setenv(config.EnvOpenFDAAPIKey, "")

	return NewAgent(config.ResearchConfig{
		OpenFDABaseURL: baseURL,
		CacheTTL:       ttl,
		MaxResults:     5,
		RequestTimeout: 5 * time.Second,
	}, testOps(t))
}

const enforcementBody = `{
	"meta": {"results": {"total": 1}},
	"results": [{
		"product_description": "Chromatography data system v2.1",
		"reason_for_recall": "Audit trail entries could be modified without detection",
		"classification": "Class II",
		"status": "Ongoing",
		"recall_initiation_date": "20240215",
		"recalling_firm": "Example Labs Inc"
	}]
}`

func TestResearchQueriesBothEndpoints(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Contains(t, r.URL.Query().Get("search"), "reason_for_recall:")
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		switch r.URL.Path {
		case drugEnforcementPath, deviceEnforcementPath:
			fmt.Fprint(w, enforcementBody)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	agent := testAgent(t, server.URL, time.Hour)

	findings, err := agent.Research(context.Background(), []string{"audit trail", "data integrity"})
	require.NoError(t, err)

	assert.False(t, findings.FromCache)
	assert.Equal(t, int32(2), requests.Load())
	assert.Len(t, findings.Queries, 2)
	assert.Len(t, findings.Sources, 2)
	require.Len(t, findings.Recalls, 2)
	assert.Equal(t, "Chromatography data system v2.1", findings.Recalls[0].ProductDescription)
	assert.Equal(t, "Class II", findings.Recalls[0].Classification)
	assert.Equal(t, "20240215", findings.Recalls[0].InitiationDate)
}

func TestResearchServesSecondQueryFromCache(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, enforcementBody)
	}))
	defer server.Close()

	agent := testAgent(t, server.URL, time.Hour)
	ctx := context.Background()

	first, err := agent.Research(ctx, []string{"audit trail"})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, int32(2), requests.Load())

	second, err := agent.Research(ctx, []string{"audit trail"})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, int32(2), requests.Load(), "cached query must not hit the network")
	assert.Equal(t, first.Recalls, second.Recalls)
}

func TestResearchExpiredCacheRefetches(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, enforcementBody)
	}))
	defer server.Close()

	// TTL in the past: every entry is already expired when written.
	agent := testAgent(t, server.URL, -time.Minute)
	ctx := context.Background()

	_, err := agent.Research(ctx, []string{"audit trail"})
	require.NoError(t, err)

	second, err := agent.Research(ctx, []string{"audit trail"})
	require.NoError(t, err)
	assert.False(t, second.FromCache)
	assert.Equal(t, int32(4), requests.Load())
}

func TestResearchNotFoundIsEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"code": "NOT_FOUND"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	agent := testAgent(t, server.URL, time.Hour)

	findings, err := agent.Research(context.Background(), []string{"nonexistent system"})
	require.NoError(t, err)
	assert.Empty(t, findings.Recalls)
	assert.False(t, findings.FromCache)
}

func TestResearchServerErrorFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	agent := testAgent(t, server.URL, time.Hour)

	_, err := agent.Research(context.Background(), []string{"audit trail"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestResearchRequiresTerms(t *testing.T) {
	agent := testAgent(t, "http://localhost:1", time.Hour)

	_, err := agent.Research(context.Background(), nil)
	assert.Error(t, err)
}

func TestBuildSearchExpression(t *testing.T) {
	tests := []struct {
		name  string
		terms []string
		want  string
	}{
		{
			name:  "single term",
			terms: []string{"audit trail"},
			want:  `reason_for_recall:"audit trail"`,
		},
		{
			name:  "multiple terms joined with OR",
			terms: []string{"audit trail", "data integrity"},
			want:  `reason_for_recall:"audit trail" OR reason_for_recall:"data integrity"`,
		},
		{
			name:  "blank terms dropped",
			terms: []string{"", "  ", "software"},
			want:  `reason_for_recall:"software"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildSearchExpression(tt.terms))
		})
	}
}

func TestSummarize(t *testing.T) {
	t.Run("no recalls", func(t *testing.T) {
		f := &Findings{}
		assert.Contains(t, f.Summarize(), "No relevant enforcement records")
	})

	t.Run("recalls are numbered with classification and firm", func(t *testing.T) {
		f := &Findings{Recalls: []RecallSummary{{
			ProductDescription: "LIMS module",
			Reason:             "Calculation error in stability trending",
			Classification:     "Class II",
			Status:             "Ongoing",
			InitiationDate:     "20240101",
			Firm:               "Example Labs Inc",
		}}}

		out := f.Summarize()
		assert.Contains(t, out, "Enforcement records (1 found):")
		assert.Contains(t, out, "1. [Class II, Ongoing] LIMS module")
		assert.Contains(t, out, "firm: Example Labs Inc")
	})

	t.Run("long fields are truncated", func(t *testing.T) {
		long := ""
		for i := 0; i < 30; i++ {
			long += "very long reason "
		}
		f := &Findings{Recalls: []RecallSummary{{Reason: long}}}
		assert.Contains(t, f.Summarize(), "...")
	})
}
