// Package audit provides the ALCOA+ audit trail: an append-only JSONL
// file with daily rotation as the authoritative record, mirrored into
// SQLite for querying. Every record carries a sha256 hash of its payload
// for tamper evidence. A failed audit write halts the workflow; the
// pipeline never proceeds unrecorded.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"qualgen/pkg/persistence"
)

// EventType identifies what kind of pipeline event is being recorded.
type EventType string

// Audited event types.
const (
	EventStateTransition EventType = "state_transition"
	EventCategorization  EventType = "categorization"
	EventConsultation    EventType = "consultation"
	EventResearch        EventType = "research"
	EventSMEReview       EventType = "sme_review"
	EventSuiteGenerated  EventType = "suite_generated"
	EventSuiteValidated  EventType = "suite_validated"
	EventWorkflowFailed  EventType = "workflow_failed"
)

// Record is one audit trail entry.
type Record struct {
	ID            string         `json:"id"`
	RunID         string         `json:"run_id"`
	EventType     EventType      `json:"event_type"`
	Actor         string         `json:"actor"`
	Entity        string         `json:"entity,omitempty"`
	OldState      string         `json:"old_state,omitempty"`
	NewState      string         `json:"new_state,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	PayloadSHA256 string         `json:"payload_sha256"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Trail writes audit records to daily-rotated JSONL files and mirrors
// them into SQLite.
type Trail struct {
	logDir      string
	currentFile *os.File
	currentDate string
	ops         *persistence.DatabaseOperations
	mu          sync.Mutex
}

// NewTrail creates an audit trail writing under logDir. The ops handle
// is optional; without it records go to the file only.
func NewTrail(logDir string, ops *persistence.DatabaseOperations) (*Trail, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	t := &Trail{
		logDir: logDir,
		ops:    ops,
	}

	if err := t.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit file: %w", err)
	}

	return t, nil
}

// Append writes a record to the trail. The ID, payload hash, and
// timestamp are filled in here so callers cannot forget them. Returns an
// error on any write failure; the caller must treat that as fatal for
// the workflow.
func (t *Trail) Append(rec *Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to serialize audit payload: %w", err)
	}
	rec.PayloadSHA256 = HashPayload(payloadJSON)

	if err := t.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate audit file: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize audit record: %w", err)
	}

	if _, err := t.currentFile.Write(line); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	if _, err := t.currentFile.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write audit newline: %w", err)
	}
	if err := t.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit file: %w", err)
	}

	if t.ops != nil {
		mirror := &persistence.AuditEventRecord{
			ID:            rec.ID,
			RunID:         rec.RunID,
			EventType:     string(rec.EventType),
			Actor:         rec.Actor,
			Payload:       string(payloadJSON),
			PayloadSHA256: rec.PayloadSHA256,
			CreatedAt:     rec.Timestamp,
		}
		if err := t.ops.InsertAuditEvent(mirror); err != nil {
			return fmt.Errorf("failed to mirror audit record: %w", err)
		}
	}

	return nil
}

// HashPayload returns the hex sha256 of a serialized payload.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (t *Trail) rotateIfNeeded() error {
	newDate := time.Now().UTC().Format("2006-01-02")
	if t.currentFile == nil || t.currentDate != newDate {
		return t.rotate(newDate)
	}
	return nil
}

func (t *Trail) rotate(newDate string) error {
	if t.currentFile != nil {
		if err := t.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close audit file: %w", err)
		}
	}

	path := filepath.Join(t.logDir, fmt.Sprintf("audit-%s.jsonl", newDate))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) //nolint:gosec // Audit files are operator-readable
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", path, err)
	}

	t.currentFile = file
	t.currentDate = newDate
	return nil
}

// CurrentFile returns the path of the active audit file.
func (t *Trail) CurrentFile() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.currentFile == nil {
		return ""
	}
	return filepath.Join(t.logDir, fmt.Sprintf("audit-%s.jsonl", t.currentDate))
}

// Close closes the active audit file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.currentFile != nil {
		err := t.currentFile.Close()
		t.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close audit file: %w", err)
		}
	}
	return nil
}

// ReadRecords reads and parses records from an audit file.
func ReadRecords(path string) ([]*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit file: %w", err)
	}

	var records []*Record
	var line []byte
	flush := func() error {
		if len(line) == 0 {
			return nil
		}
		rec := &Record{}
		if err := json.Unmarshal(line, rec); err != nil {
			return fmt.Errorf("failed to parse audit record: %w", err)
		}
		records = append(records, rec)
		line = nil
		return nil
	}

	for _, b := range data {
		if b == '\n' {
			if err := flush(); err != nil {
				return nil, err
			}
		} else {
			line = append(line, b)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return records, nil
}

// Verify re-hashes each record's payload and reports the IDs of records
// whose stored hash does not match. An empty slice means the file is
// intact.
func Verify(path string) ([]string, error) {
	records, err := ReadRecords(path)
	if err != nil {
		return nil, err
	}

	var tampered []string
	for _, rec := range records {
		payloadJSON, err := json.Marshal(rec.Payload)
		if err != nil {
			tampered = append(tampered, rec.ID)
			continue
		}
		if HashPayload(payloadJSON) != rec.PayloadSHA256 {
			tampered = append(tampered, rec.ID)
		}
	}
	return tampered, nil
}

// ListFiles returns all audit files under logDir.
func ListFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "audit-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit files: %w", err)
	}
	return files, nil
}
