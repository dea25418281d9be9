package retrieval

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qualgen/pkg/config"
	"qualgen/pkg/persistence"
)

// keywordEmbedder is a deterministic test embedder: each dimension is
// the count of one keyword, so similarity follows term overlap.
type keywordEmbedder struct {
	keywords []string
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.keywords))
	for i, kw := range e.keywords {
		vec[i] = float32(strings.Count(lower, kw))
	}
	return vec, nil
}

func (e *keywordEmbedder) ModelName() string { return "keyword-test" }

func testOps(t *testing.T) *persistence.DatabaseOperations {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := persistence.InitializeDatabase(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return persistence.NewDatabaseOperations(db, "test-session")
}

func testProvider(t *testing.T) *Provider {
	t.Helper()

	embedder := &keywordEmbedder{keywords: []string{"audit", "backup", "login", "alarm"}}
	cfg := config.RetrievalConfig{
		TopK:         2,
		MinRelevance: 0.1,
		ChunkSize:    512,
		ChunkOverlap: 0,
	}
	return NewProvider(testOps(t), embedder, cfg)
}

const testDocument = `# 1. Audit Trail

The system shall maintain an audit trail of all changes. Audit records include timestamps.

# 2. Backup

The system shall perform a nightly backup. Backup media are rotated weekly.

# 3. Access Control

Users login with unique credentials. Failed login attempts raise an alarm.`

func TestIndexAndRetrieve(t *testing.T) {
	p := testProvider(t)
	ctx := context.Background()

	count, err := p.Index(ctx, "urs-001.md", testDocument)
	require.NoError(t, err)
	assert.Positive(t, count)

	chunks, err := p.Retrieve(ctx, "audit trail requirements")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// The audit section must rank first, cited to its document.
	assert.Contains(t, strings.ToLower(chunks[0].Content), "audit")
	assert.Equal(t, "urs-001.md", chunks[0].DocumentName)
	assert.LessOrEqual(t, len(chunks), 2)
	for i := 1; i < len(chunks); i++ {
		assert.GreaterOrEqual(t, chunks[i-1].Relevance, chunks[i].Relevance)
	}
}

func TestRetrieveEmptyIndexIsError(t *testing.T) {
	p := testProvider(t)

	_, err := p.Retrieve(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents indexed")
}

func TestRetrieveSpansReferenceDocuments(t *testing.T) {
	p := testProvider(t)
	ctx := context.Background()

	_, err := p.Index(ctx, "urs-001.md", "# Audit\n\nThe system shall keep an audit trail of all changes.")
	require.NoError(t, err)
	_, err = p.Index(ctx, "sop-backup.md", "# Backup\n\nThe nightly backup writes to tape.")
	require.NoError(t, err)

	// A query about backups pulls evidence from the reference document,
	// not just the URS.
	chunks, err := p.Retrieve(ctx, "nightly backup procedures")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "sop-backup.md", chunks[0].DocumentName)

	chunks, err = p.Retrieve(ctx, "audit trail requirements")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "urs-001.md", chunks[0].DocumentName)
}

func TestIndexReplacesPreviousIndex(t *testing.T) {
	p := testProvider(t)
	ctx := context.Background()

	_, err := p.Index(ctx, "urs-001.md", testDocument)
	require.NoError(t, err)

	count, err := p.Index(ctx, "urs-001.md", "# Only Section\n\nA single audit paragraph.")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	records, err := p.ops.GetChunksByDocument("urs-001.md")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestIndexEmptyDocumentIsError(t *testing.T) {
	p := testProvider(t)

	_, err := p.Index(context.Background(), "empty.md", "   \n\n  ")
	assert.Error(t, err)
}

func TestSplitDocument(t *testing.T) {
	t.Run("small document is one chunk", func(t *testing.T) {
		chunks := splitDocument("# Title\n\nOne short paragraph.", 512, 64)
		require.Len(t, chunks, 1)
		assert.Equal(t, 0, chunks[0].Index)
		assert.Equal(t, "Title", chunks[0].Section)
	})

	t.Run("long document splits with sequential indices", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("# 1. Requirements\n\n")
		for i := 0; i < 40; i++ {
			b.WriteString("The system shall record measurement data with full metadata and operator identity attached to every record.\n\n")
		}

		chunks := splitDocument(b.String(), 100, 0)
		require.Greater(t, len(chunks), 1)
		for i, chunk := range chunks {
			assert.Equal(t, i, chunk.Index)
			assert.Equal(t, "1. Requirements", chunk.Section)
			assert.NotEmpty(t, chunk.Content)
		}
	})

	t.Run("overlap carries trailing paragraphs", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 40; i++ {
			b.WriteString("The system shall retain records for ten years per the retention schedule.\n\n")
		}

		withOverlap := splitDocument(b.String(), 100, 30)
		require.Greater(t, len(withOverlap), 1)

		// The carried paragraph from chunk 0 reappears at the head of
		// chunk 1.
		tail := lastParagraph(withOverlap[0].Content)
		assert.True(t, strings.HasPrefix(withOverlap[1].Content, tail))
	})

	t.Run("empty document", func(t *testing.T) {
		assert.Nil(t, splitDocument("", 512, 64))
	})
}

func lastParagraph(content string) string {
	parts := strings.Split(content, "\n\n")
	return parts[len(parts)-1]
}

func TestDetectHeading(t *testing.T) {
	tests := []struct {
		para string
		want string
	}{
		{"# Audit Trail", "Audit Trail"},
		{"## 3.2 Security\nBody text", "3.2 Security"},
		{"3.2 Audit Trail Requirements", "3.2 Audit Trail Requirements"},
		{"Plain paragraph text.", ""},
		{"2021 was a good year for the firm with several records set across all of the production lines and sites", ""},
	}

	for _, tt := range tests {
		t.Run(tt.para, func(t *testing.T) {
			assert.Equal(t, tt.want, detectHeading(tt.para))
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"mismatched dimensions", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 0.0001)
		})
	}
}

func TestFormatChunks(t *testing.T) {
	assert.Empty(t, FormatChunks(nil))

	out := FormatChunks([]ScoredChunk{
		{DocumentName: "urs-001.md", Section: "3.2 Audit Trail", Content: "Audit content.", Relevance: 0.92},
		{DocumentName: "sop-backup.md", Content: "Unlabeled content.", Relevance: 0.55},
	})

	assert.Contains(t, out, "[1] (urs-001.md, 3.2 Audit Trail, relevance 0.92)")
	assert.Contains(t, out, "Audit content.")
	assert.Contains(t, out, "[2] (sop-backup.md, unsectioned, relevance 0.55)")
}
