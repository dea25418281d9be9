// Package proto defines the shared workflow protocol types: states,
// transitions, confidence scores, and consultation records exchanged
// between the orchestrator and its specialist agents.
package proto

import (
	"time"
)

// State identifies a workflow state.
type State string

func (s State) String() string {
	return string(s)
}

// Workflow states. A document moves WAITING -> CATEGORIZING ->
// (CONSULTING) -> GATHERING -> GENERATING -> VALIDATING -> DONE,
// with ERROR reachable from every non-terminal state.
const (
	StateWaiting      State = "WAITING"
	StateCategorizing State = "CATEGORIZING"
	StateConsulting   State = "CONSULTING"
	StateGathering    State = "GATHERING"
	StateGenerating   State = "GENERATING"
	StateValidating   State = "VALIDATING"
	StateDone         State = "DONE"
	StateError        State = "ERROR"
)

// IsTerminal reports whether the state is absorbing.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateError
}

// StateChangeNotification is emitted on every workflow transition.
type StateChangeNotification struct {
	WorkflowID string         `json:"workflow_id"`
	FromState  State          `json:"from_state"`
	ToState    State          `json:"to_state"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
