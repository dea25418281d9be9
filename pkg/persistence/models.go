package persistence

import (
	"time"
)

// Run represents a pipeline run record: one URS document moving through
// categorization to suite generation.
type Run struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	DocumentName string     `json:"document_name"`
	DocumentPath string     `json:"document_path"`
	Status       string     `json:"status"`
	Category     *int       `json:"category,omitempty"`
	Confidence   *float64   `json:"confidence,omitempty"`
	SuitePath    *string    `json:"suite_path,omitempty"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// CategorizationRecord stores a GAMP categorization decision.
type CategorizationRecord struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	Category       int       `json:"category"`
	Confidence     float64   `json:"confidence"`
	Rationale      string    `json:"rationale"`
	Indicators     string    `json:"indicators,omitempty"` // JSON array
	ReviewRequired bool      `json:"review_required"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConsultationRecord stores a human consultation and its outcome.
type ConsultationRecord struct {
	ID               string     `json:"id"`
	RunID            string     `json:"run_id"`
	Reason           string     `json:"reason"`
	ProposedCategory int        `json:"proposed_category"`
	Confidence       float64    `json:"confidence"`
	Decision         *string    `json:"decision,omitempty"`
	FinalCategory    *int       `json:"final_category,omitempty"`
	DecidedBy        *string    `json:"decided_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
}

// SuiteRecord stores a generated test suite with its full JSON content.
type SuiteRecord struct {
	ID               string    `json:"id"`
	RunID            string    `json:"run_id"`
	Category         int       `json:"category"`
	TestCount        int       `json:"test_count"`
	EstimatedMinutes int       `json:"estimated_minutes"`
	Content          string    `json:"content"` // full suite JSON
	CreatedAt        time.Time `json:"created_at"`
}

// ChunkRecord is a URS document chunk with its embedding vector.
type ChunkRecord struct {
	ID           string    `json:"id"`
	DocumentName string    `json:"document_name"`
	ChunkIndex   int       `json:"chunk_index"`
	Section      string    `json:"section,omitempty"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResearchCacheEntry is a cached regulatory research response.
type ResearchCacheEntry struct {
	CacheKey  string    `json:"cache_key"`
	Query     string    `json:"query"`
	Response  string    `json:"response"` // JSON payload
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuditEventRecord mirrors an audit trail entry for querying. The JSONL
// file remains the authoritative record.
type AuditEventRecord struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	EventType     string    `json:"event_type"`
	Actor         string    `json:"actor"`
	Payload       string    `json:"payload"`
	PayloadSHA256 string    `json:"payload_sha256"`
	CreatedAt     time.Time `json:"created_at"`
}
