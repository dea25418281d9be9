package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qualgen/pkg/persistence"
)

func newTestTrail(t *testing.T) (*Trail, string) {
	t.Helper()

	dir := t.TempDir()
	trail, err := NewTrail(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = trail.Close() })

	return trail, dir
}

func TestAppendFillsIdentityFields(t *testing.T) {
	trail, dir := newTestTrail(t)

	rec := &Record{
		RunID:     "run-1",
		EventType: EventStateTransition,
		Actor:     "system",
		OldState:  "WAITING",
		NewState:  "CATEGORIZING",
		Payload:   map[string]any{"document": "urs-001.md"},
	}
	require.NoError(t, trail.Append(rec))

	assert.NotEmpty(t, rec.ID)
	assert.NotEmpty(t, rec.PayloadSHA256)
	assert.False(t, rec.Timestamp.IsZero())

	wantFile := filepath.Join(dir, fmt.Sprintf("audit-%s.jsonl", time.Now().UTC().Format("2006-01-02")))
	assert.Equal(t, wantFile, trail.CurrentFile())
}

func TestAppendAndReadRecords(t *testing.T) {
	trail, _ := newTestTrail(t)

	events := []EventType{EventCategorization, EventSuiteGenerated, EventSuiteValidated}
	for i, et := range events {
		require.NoError(t, trail.Append(&Record{
			RunID:     "run-1",
			EventType: et,
			Actor:     "system",
			Payload:   map[string]any{"seq": fmt.Sprintf("%d", i)},
		}))
	}

	records, err := ReadRecords(trail.CurrentFile())
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Append order is preserved.
	for i, rec := range records {
		assert.Equal(t, events[i], rec.EventType)
		assert.Equal(t, "run-1", rec.RunID)
		assert.Equal(t, fmt.Sprintf("%d", i), rec.Payload["seq"])
	}
}

func TestVerifyCleanFile(t *testing.T) {
	trail, _ := newTestTrail(t)

	require.NoError(t, trail.Append(&Record{
		RunID:     "run-1",
		EventType: EventCategorization,
		Actor:     "system",
		Payload:   map[string]any{"category": "4", "confidence": "0.91"},
	}))
	require.NoError(t, trail.Append(&Record{
		RunID:     "run-1",
		EventType: EventConsultation,
		Actor:     "qa.reviewer",
		Payload:   map[string]any{"decision": "CONFIRMED"},
	}))

	tampered, err := Verify(trail.CurrentFile())
	require.NoError(t, err)
	assert.Empty(t, tampered)
}

func TestVerifyDetectsTampering(t *testing.T) {
	trail, _ := newTestTrail(t)

	rec := &Record{
		RunID:     "run-1",
		EventType: EventCategorization,
		Actor:     "system",
		Payload:   map[string]any{"decision": "CONFIRMED"},
	}
	require.NoError(t, trail.Append(rec))
	path := trail.CurrentFile()
	require.NotEmpty(t, path)
	require.NoError(t, trail.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := strings.Replace(string(raw), `"CONFIRMED"`, `"OVERRIDDEN"`, 1)
	require.NotEqual(t, string(raw), edited, "test must actually modify the record")
	require.NoError(t, os.WriteFile(path, []byte(edited), 0644))

	tampered, err := Verify(path)
	require.NoError(t, err)
	require.Len(t, tampered, 1)
	assert.Equal(t, rec.ID, tampered[0])
}

func TestAppendMirrorsToDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := persistence.InitializeDatabase(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ops := persistence.NewDatabaseOperations(db, "test-session")

	trail, err := NewTrail(t.TempDir(), ops)
	require.NoError(t, err)
	t.Cleanup(func() { _ = trail.Close() })

	rec := &Record{
		RunID:     "run-1",
		EventType: EventWorkflowFailed,
		Actor:     "system",
		Payload:   map[string]any{"error": "generation timed out"},
	}
	require.NoError(t, trail.Append(rec))

	events, err := ops.GetAuditEventsByRun("run-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, rec.ID, events[0].ID)
	assert.Equal(t, string(EventWorkflowFailed), events[0].EventType)
	assert.Equal(t, rec.PayloadSHA256, events[0].PayloadSHA256)
	assert.Contains(t, events[0].Payload, "generation timed out")
}

func TestAppendAfterCloseReopens(t *testing.T) {
	trail, _ := newTestTrail(t)

	require.NoError(t, trail.Append(&Record{RunID: "run-1", EventType: EventResearch, Actor: "system"}))
	require.NoError(t, trail.Close())

	require.NoError(t, trail.Append(&Record{RunID: "run-1", EventType: EventSMEReview, Actor: "system"}))

	records, err := ReadRecords(trail.CurrentFile())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestListFiles(t *testing.T) {
	trail, dir := newTestTrail(t)
	require.NoError(t, trail.Append(&Record{RunID: "run-1", EventType: EventResearch, Actor: "system"}))

	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, trail.CurrentFile(), files[0])
}

func TestReadRecordsMissingFile(t *testing.T) {
	_, err := ReadRecords(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}

func TestHashPayloadIsDeterministic(t *testing.T) {
	a := HashPayload([]byte(`{"k":"v"}`))
	b := HashPayload([]byte(`{"k":"v"}`))
	c := HashPayload([]byte(`{"k":"w"}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
