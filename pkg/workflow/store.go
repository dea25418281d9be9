package workflow

import (
	"encoding/json"
	"errors"
	"fmt"

	"qualgen/pkg/persistence"
)

// SQLiteStateStore persists state machine snapshots through the
// persistence layer as JSON.
type SQLiteStateStore struct {
	ops *persistence.DatabaseOperations
}

// NewSQLiteStateStore creates a store backed by the given operations
// handle.
func NewSQLiteStateStore(ops *persistence.DatabaseOperations) *SQLiteStateStore {
	return &SQLiteStateStore{ops: ops}
}

// Save persists a snapshot for the workflow ID.
func (s *SQLiteStateStore) Save(id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}
	if err := s.ops.SaveWorkflowState(id, string(data)); err != nil {
		return fmt.Errorf("failed to persist workflow state: %w", err)
	}
	return nil
}

// Load retrieves a snapshot into dest. Returns ErrStateNotFound when no
// snapshot exists.
func (s *SQLiteStateStore) Load(id string, dest any) error {
	stateJSON, err := s.ops.LoadWorkflowState(id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return fmt.Errorf("workflow %s: %w", id, ErrStateNotFound)
		}
		return fmt.Errorf("failed to load workflow state: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), dest); err != nil {
		return fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}
	return nil
}
