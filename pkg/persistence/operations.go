package persistence

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// DatabaseOperations provides methods for database operations, scoped to
// a session.
type DatabaseOperations struct {
	db        *sql.DB
	sessionID string
}

// NewDatabaseOperations creates a new DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB, sessionID string) *DatabaseOperations {
	return &DatabaseOperations{db: db, sessionID: sessionID}
}

// --- runs ---

// UpsertRun inserts or updates a run record.
func (ops *DatabaseOperations) UpsertRun(run *Run) error {
	query := `
		INSERT INTO runs (id, session_id, document_name, document_path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_name = excluded.document_name,
			document_path = excluded.document_path,
			status = excluded.status`

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := ops.db.Exec(query, run.ID, ops.sessionID, run.DocumentName, run.DocumentPath, run.Status, createdAt); err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}
	return nil
}

// UpdateRunStatus updates the run status and optional result columns.
func (ops *DatabaseOperations) UpdateRunStatus(runID, status string, category *int, confidence *float64, suitePath, errMsg *string) error {
	var completedAt *time.Time
	if status == "DONE" || status == "ERROR" {
		now := time.Now().UTC()
		completedAt = &now
	}

	query := `
		UPDATE runs SET
			status = ?,
			category = COALESCE(?, category),
			confidence = COALESCE(?, confidence),
			suite_path = COALESCE(?, suite_path),
			error = COALESCE(?, error),
			completed_at = COALESCE(?, completed_at)
		WHERE id = ?`

	result, err := ops.db.Exec(query, status, category, confidence, suitePath, errMsg, completedAt, runID)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRunByID retrieves a single run.
func (ops *DatabaseOperations) GetRunByID(runID string) (*Run, error) {
	query := `
		SELECT id, session_id, document_name, document_path, status,
			category, confidence, suite_path, error, created_at, completed_at
		FROM runs WHERE id = ?`

	run := &Run{}
	err := ops.db.QueryRow(query, runID).Scan(
		&run.ID, &run.SessionID, &run.DocumentName, &run.DocumentPath, &run.Status,
		&run.Category, &run.Confidence, &run.SuitePath, &run.Error, &run.CreatedAt, &run.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetRunsByStatus retrieves runs in a given status for this session.
func (ops *DatabaseOperations) GetRunsByStatus(status string) ([]*Run, error) {
	query := `
		SELECT id, session_id, document_name, document_path, status,
			category, confidence, suite_path, error, created_at, completed_at
		FROM runs WHERE session_id = ? AND status = ?
		ORDER BY created_at`

	rows, err := ops.db.Query(query, ops.sessionID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID, &run.SessionID, &run.DocumentName, &run.DocumentPath, &run.Status,
			&run.Category, &run.Confidence, &run.SuitePath, &run.Error, &run.CreatedAt, &run.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return runs, nil
}

// --- workflow state snapshots ---

// SaveWorkflowState persists a serialized state machine snapshot.
func (ops *DatabaseOperations) SaveWorkflowState(workflowID, stateJSON string) error {
	query := `
		INSERT INTO workflow_states (workflow_id, session_id, state_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`

	if _, err := ops.db.Exec(query, workflowID, ops.sessionID, stateJSON, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save workflow state: %w", err)
	}
	return nil
}

// LoadWorkflowState retrieves a serialized state machine snapshot.
func (ops *DatabaseOperations) LoadWorkflowState(workflowID string) (string, error) {
	var stateJSON string
	err := ops.db.QueryRow(
		"SELECT state_json FROM workflow_states WHERE workflow_id = ?", workflowID,
	).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("workflow state %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load workflow state: %w", err)
	}
	return stateJSON, nil
}

// --- categorizations ---

// InsertCategorization stores a categorization decision.
func (ops *DatabaseOperations) InsertCategorization(rec *CategorizationRecord) error {
	query := `
		INSERT INTO categorizations (id, run_id, category, confidence, rationale, indicators, review_required, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := ops.db.Exec(query, rec.ID, rec.RunID, rec.Category, rec.Confidence,
		rec.Rationale, rec.Indicators, rec.ReviewRequired, createdAt); err != nil {
		return fmt.Errorf("failed to insert categorization: %w", err)
	}
	return nil
}

// GetCategorizationsByRun returns categorization decisions for a run,
// oldest first.
func (ops *DatabaseOperations) GetCategorizationsByRun(runID string) ([]*CategorizationRecord, error) {
	query := `
		SELECT id, run_id, category, confidence, rationale, COALESCE(indicators, ''), review_required, created_at
		FROM categorizations WHERE run_id = ? ORDER BY created_at`

	rows, err := ops.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categorizations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*CategorizationRecord
	for rows.Next() {
		rec := &CategorizationRecord{}
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Category, &rec.Confidence,
			&rec.Rationale, &rec.Indicators, &rec.ReviewRequired, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan categorization: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return records, nil
}

// --- consultations ---

// InsertConsultation stores a new pending consultation.
func (ops *DatabaseOperations) InsertConsultation(rec *ConsultationRecord) error {
	query := `
		INSERT INTO consultations (id, run_id, reason, proposed_category, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := ops.db.Exec(query, rec.ID, rec.RunID, rec.Reason,
		rec.ProposedCategory, rec.Confidence, createdAt); err != nil {
		return fmt.Errorf("failed to insert consultation: %w", err)
	}
	return nil
}

// UpdateConsultationDecision records the human outcome of a consultation.
func (ops *DatabaseOperations) UpdateConsultationDecision(id, decision string, finalCategory int, decidedBy string) error {
	query := `
		UPDATE consultations SET decision = ?, final_category = ?, decided_by = ?, decided_at = ?
		WHERE id = ?`

	result, err := ops.db.Exec(query, decision, finalCategory, decidedBy, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update consultation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetConsultationsByRun returns consultations for a run, oldest first.
func (ops *DatabaseOperations) GetConsultationsByRun(runID string) ([]*ConsultationRecord, error) {
	query := `
		SELECT id, run_id, reason, proposed_category, confidence, decision, final_category, decided_by, created_at, decided_at
		FROM consultations WHERE run_id = ? ORDER BY created_at`

	rows, err := ops.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query consultations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*ConsultationRecord
	for rows.Next() {
		rec := &ConsultationRecord{}
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Reason, &rec.ProposedCategory, &rec.Confidence,
			&rec.Decision, &rec.FinalCategory, &rec.DecidedBy, &rec.CreatedAt, &rec.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan consultation: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return records, nil
}

// --- test suites ---

// InsertSuite stores a generated test suite.
func (ops *DatabaseOperations) InsertSuite(rec *SuiteRecord) error {
	query := `
		INSERT INTO test_suites (id, run_id, category, test_count, estimated_minutes, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := ops.db.Exec(query, rec.ID, rec.RunID, rec.Category, rec.TestCount,
		rec.EstimatedMinutes, rec.Content, createdAt); err != nil {
		return fmt.Errorf("failed to insert test suite: %w", err)
	}
	return nil
}

// GetSuiteByRun returns the most recent suite generated for a run.
func (ops *DatabaseOperations) GetSuiteByRun(runID string) (*SuiteRecord, error) {
	query := `
		SELECT id, run_id, category, test_count, estimated_minutes, content, created_at
		FROM test_suites WHERE run_id = ? ORDER BY created_at DESC LIMIT 1`

	rec := &SuiteRecord{}
	err := ops.db.QueryRow(query, runID).Scan(
		&rec.ID, &rec.RunID, &rec.Category, &rec.TestCount, &rec.EstimatedMinutes, &rec.Content, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("suite for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get suite: %w", err)
	}
	return rec, nil
}

// --- document chunks ---

// UpsertChunk stores a document chunk with its embedding.
func (ops *DatabaseOperations) UpsertChunk(chunk *ChunkRecord) error {
	query := `
		INSERT INTO doc_chunks (id, document_name, chunk_index, section, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_name, chunk_index) DO UPDATE SET
			section = excluded.section,
			content = excluded.content,
			embedding = excluded.embedding`

	createdAt := chunk.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := ops.db.Exec(query, chunk.ID, chunk.DocumentName, chunk.ChunkIndex,
		chunk.Section, chunk.Content, encodeFloat32SliceToBlob(chunk.Embedding), createdAt); err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

// GetChunksByDocument returns all chunks for a document in index order.
func (ops *DatabaseOperations) GetChunksByDocument(documentName string) ([]*ChunkRecord, error) {
	query := `
		SELECT id, document_name, chunk_index, COALESCE(section, ''), content, embedding, created_at
		FROM doc_chunks WHERE document_name = ? ORDER BY chunk_index`
	return ops.queryChunks(query, documentName)
}

// GetAllChunks returns every indexed chunk across all documents, so
// similarity queries can draw on the URS and any reference documents
// together.
func (ops *DatabaseOperations) GetAllChunks() ([]*ChunkRecord, error) {
	query := `
		SELECT id, document_name, chunk_index, COALESCE(section, ''), content, embedding, created_at
		FROM doc_chunks ORDER BY document_name, chunk_index`
	return ops.queryChunks(query)
}

func (ops *DatabaseOperations) queryChunks(query string, args ...any) ([]*ChunkRecord, error) {
	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*ChunkRecord
	for rows.Next() {
		chunk := &ChunkRecord{}
		var blob []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentName, &chunk.ChunkIndex,
			&chunk.Section, &chunk.Content, &blob, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunk.Embedding = decodeBlobToFloat32Slice(blob)
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return chunks, nil
}

// DeleteChunksForDocument removes all chunks for a document prior to
// re-indexing.
func (ops *DatabaseOperations) DeleteChunksForDocument(documentName string) error {
	if _, err := ops.db.Exec("DELETE FROM doc_chunks WHERE document_name = ?", documentName); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// --- research cache ---

// GetCachedResearch returns a cache entry if present and unexpired.
func (ops *DatabaseOperations) GetCachedResearch(cacheKey string, now time.Time) (*ResearchCacheEntry, error) {
	query := `
		SELECT cache_key, query, response, fetched_at, expires_at
		FROM research_cache WHERE cache_key = ? AND expires_at > ?`

	entry := &ResearchCacheEntry{}
	err := ops.db.QueryRow(query, cacheKey, now.UTC()).Scan(
		&entry.CacheKey, &entry.Query, &entry.Response, &entry.FetchedAt, &entry.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("research cache %s: %w", cacheKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached research: %w", err)
	}
	return entry, nil
}

// PutCachedResearch inserts or refreshes a cache entry.
func (ops *DatabaseOperations) PutCachedResearch(entry *ResearchCacheEntry) error {
	query := `
		INSERT INTO research_cache (cache_key, query, response, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			query = excluded.query,
			response = excluded.response,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at`

	if _, err := ops.db.Exec(query, entry.CacheKey, entry.Query, entry.Response,
		entry.FetchedAt.UTC(), entry.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("failed to put cached research: %w", err)
	}
	return nil
}

// PurgeExpiredResearch removes stale cache entries and reports how many
// were deleted.
func (ops *DatabaseOperations) PurgeExpiredResearch(now time.Time) (int64, error) {
	result, err := ops.db.Exec("DELETE FROM research_cache WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge research cache: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return rows, nil
}

// --- audit mirror ---

// InsertAuditEvent mirrors an audit trail entry into the database.
func (ops *DatabaseOperations) InsertAuditEvent(rec *AuditEventRecord) error {
	query := `
		INSERT INTO audit_events (id, run_id, event_type, actor, payload, payload_sha256, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := ops.db.Exec(query, rec.ID, rec.RunID, rec.EventType, rec.Actor,
		rec.Payload, rec.PayloadSHA256, createdAt); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// GetAuditEventsByRun returns audit events for a run, oldest first.
func (ops *DatabaseOperations) GetAuditEventsByRun(runID string) ([]*AuditEventRecord, error) {
	query := `
		SELECT id, run_id, event_type, actor, payload, payload_sha256, created_at
		FROM audit_events WHERE run_id = ? ORDER BY created_at`

	rows, err := ops.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*AuditEventRecord
	for rows.Next() {
		rec := &AuditEventRecord{}
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.EventType, &rec.Actor,
			&rec.Payload, &rec.PayloadSHA256, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return records, nil
}

// --- embedding blob codec ---

// encodeFloat32SliceToBlob serializes an embedding vector as
// little-endian float32 bytes.
func encodeFloat32SliceToBlob(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

// decodeBlobToFloat32Slice deserializes an embedding vector.
func decodeBlobToFloat32Slice(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vec); err != nil {
		return nil
	}
	return vec
}
