// Package retrieval provides the context-provider agent: URS and
// reference documents are chunked, embedded, and stored in SQLite;
// queries run over the whole indexed corpus and return the top-k most
// similar chunks above a relevance floor, cited by document and section.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"qualgen/pkg/config"
	"qualgen/pkg/logx"
	"qualgen/pkg/persistence"
)

// ScoredChunk is a retrieved chunk with its similarity score.
type ScoredChunk struct {
	DocumentName string  `json:"document_name"`
	Section      string  `json:"section,omitempty"`
	Content      string  `json:"content"`
	Relevance    float64 `json:"relevance"`
}

// Provider indexes documents and answers similarity queries.
type Provider struct {
	ops      *persistence.DatabaseOperations
	embedder Embedder
	cfg      config.RetrievalConfig
	logger   *logx.Logger
}

// NewProvider creates a retrieval provider.
func NewProvider(ops *persistence.DatabaseOperations, embedder Embedder, cfg config.RetrievalConfig) *Provider {
	return &Provider{
		ops:      ops,
		embedder: embedder,
		cfg:      cfg,
		logger:   logx.NewLogger("retrieval"),
	}
}

// Index chunks, embeds, and stores a document, replacing any previous
// index for the same document name. Returns the number of chunks stored.
func (p *Provider) Index(ctx context.Context, documentName, content string) (int, error) {
	chunks := splitDocument(content, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %s produced no chunks", documentName)
	}

	if err := p.ops.DeleteChunksForDocument(documentName); err != nil {
		return 0, fmt.Errorf("failed to clear previous index: %w", err)
	}

	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("indexing cancelled: %w", ctx.Err())
		default:
		}

		vec, err := p.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunk %d of %s: %w", chunk.Index, documentName, err)
		}

		record := &persistence.ChunkRecord{
			ID:           uuid.New().String(),
			DocumentName: documentName,
			ChunkIndex:   chunk.Index,
			Section:      chunk.Section,
			Content:      chunk.Content,
			Embedding:    vec,
		}
		if err := p.ops.UpsertChunk(record); err != nil {
			return 0, fmt.Errorf("failed to store chunk %d of %s: %w", chunk.Index, documentName, err)
		}
	}

	p.logger.Info("indexed %s: %d chunks (embedder %s)", documentName, len(chunks), p.embedder.ModelName())
	return len(chunks), nil
}

// Retrieve returns the top-k chunks across all indexed documents most
// similar to the query, filtered by the relevance floor. An empty index
// is an error, not an empty result.
func (p *Provider) Retrieve(ctx context.Context, query string) ([]ScoredChunk, error) {
	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	records, err := p.ops.GetAllChunks()
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no documents indexed")
	}

	scored := make([]ScoredChunk, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(queryVec, rec.Embedding)
		if sim < p.cfg.MinRelevance {
			continue
		}
		scored = append(scored, ScoredChunk{
			DocumentName: rec.DocumentName,
			Section:      rec.Section,
			Content:      rec.Content,
			Relevance:    sim,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Relevance > scored[j].Relevance
	})

	if len(scored) > p.cfg.TopK {
		scored = scored[:p.cfg.TopK]
	}

	p.logger.Debug("retrieved %d/%d indexed chunks for query", len(scored), len(records))
	return scored, nil
}

// FormatChunks renders retrieved chunks as a cited evidence block for
// the generation prompt.
func FormatChunks(chunks []ScoredChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	for i, chunk := range chunks {
		section := chunk.Section
		if section == "" {
			section = "unsectioned"
		}
		fmt.Fprintf(&b, "[%d] (%s, %s, relevance %.2f)\n%s\n\n",
			i+1, chunk.DocumentName, section, chunk.Relevance, chunk.Content)
	}
	return strings.TrimSpace(b.String())
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Mismatched dimensions or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
