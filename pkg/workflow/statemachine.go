// Package workflow drives a URS document through the qualification
// pipeline: categorization, evidence gathering, test generation, and
// validation, with human consultation routed in when confidence falls
// below the category threshold.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"qualgen/pkg/logx"
	"qualgen/pkg/proto"
)

// DefaultMaxRetries is the default maximum number of retries per state.
const DefaultMaxRetries = 2

// Sentinel errors for state machine operations.
var (
	// ErrInvalidTransition indicates an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStateNotFound indicates no persisted state exists for the workflow.
	ErrStateNotFound = errors.New("state not found")

	// ErrMaxRetriesExceeded indicates a state failed more times than allowed.
	ErrMaxRetriesExceeded = errors.New("exceeded maximum retries")
)

// StateTransition represents a recorded transition between states.
type StateTransition struct {
	FromState proto.State    `json:"from_state"`
	ToState   proto.State    `json:"to_state"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StateData represents generic per-run state storage.
type StateData map[string]any

// TransitionTable represents valid state transitions for a workflow.
type TransitionTable map[proto.State][]proto.State

// ValidTransitions defines allowed state transitions for each state.
// Terminal states have no outgoing edges; a finished run is absorbing.
//
//nolint:gochecknoglobals // Static transition table
var ValidTransitions = TransitionTable{
	proto.StateWaiting:      {proto.StateCategorizing, proto.StateError},
	proto.StateCategorizing: {proto.StateConsulting, proto.StateGathering, proto.StateError},
	proto.StateConsulting:   {proto.StateGathering, proto.StateError},
	proto.StateGathering:    {proto.StateGenerating, proto.StateError},
	proto.StateGenerating:   {proto.StateValidating, proto.StateError},
	proto.StateValidating:   {proto.StateGenerating, proto.StateDone, proto.StateError},
	proto.StateDone:         {},
	proto.StateError:        {},
}

// StateStore defines the interface for state persistence.
type StateStore interface {
	// Save persists a value with the given ID.
	Save(id string, value any) error
	// Load retrieves a value by ID into the provided destination.
	Load(id string, dest any) error
}

// StateMachine provides the transition and persistence mechanics shared
// by workflow runs. Stage logic lives in the Driver; the machine only
// guards legality, records history, and persists.
type StateMachine struct {
	workflowID   string
	currentState proto.State
	stateData    StateData
	transitions  []StateTransition
	store        StateStore
	table        TransitionTable
	visited      map[proto.State]bool
	mu           sync.Mutex
	retryCount   int
	maxRetries   int
	logger       *logx.Logger

	stateNotifCh chan<- *proto.StateChangeNotification
}

// NewStateMachine creates a state machine for a workflow run with an
// optional transition table (nil uses ValidTransitions).
func NewStateMachine(workflowID string, initialState proto.State, store StateStore, table TransitionTable) *StateMachine {
	if table == nil {
		table = ValidTransitions
	}

	return &StateMachine{
		workflowID:   workflowID,
		currentState: initialState,
		stateData:    make(StateData),
		transitions:  make([]StateTransition, 0),
		store:        store,
		table:        table,
		visited:      map[proto.State]bool{initialState: true},
		maxRetries:   DefaultMaxRetries,
		logger:       logx.NewLogger(workflowID),
	}
}

// GetCurrentState returns the current state.
func (sm *StateMachine) GetCurrentState() proto.State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.currentState
}

// GetWorkflowID returns the workflow run ID.
func (sm *StateMachine) GetWorkflowID() string {
	return sm.workflowID
}

// GetStateData returns a copy of the current state data.
func (sm *StateMachine) GetStateData() StateData {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	result := make(StateData)
	for k, v := range sm.stateData {
		result[k] = v
	}
	return result
}

// SetStateData sets a value in the state data.
func (sm *StateMachine) SetStateData(key string, value any) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stateData[key] = value
}

// GetStateValue gets a value from the state data.
func (sm *StateMachine) GetStateValue(key string) (any, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	value, exists := sm.stateData[key]
	return value, exists
}

// SetTyped stores a typed value in the state data.
func SetTyped[T any](sm *StateMachine, key string, value T) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stateData[key] = value
}

// GetTyped retrieves a typed value from the state data. Returns the
// value and whether the key was found with the expected type.
func GetTyped[T any](sm *StateMachine, key string) (T, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var zero T
	value, exists := sm.stateData[key]
	if !exists {
		return zero, false
	}

	typedValue, ok := value.(T)
	if !ok {
		return zero, false
	}

	return typedValue, true
}

// IsValidTransition checks if a state transition is allowed. Any
// non-terminal state may fail into ERROR; terminal states accept nothing.
func (sm *StateMachine) IsValidTransition(from, to proto.State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == proto.StateError {
		return true
	}

	allowed, ok := sm.table[from]
	if !ok {
		return false
	}

	for _, s := range allowed {
		if s == to {
			return true
		}
	}

	return false
}

// TransitionTo moves to a new state and records the transition.
func (sm *StateMachine) TransitionTo(ctx context.Context, newState proto.State, metadata map[string]any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("state transition cancelled: %w", ctx.Err())
	default:
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	oldState := sm.currentState

	if !sm.IsValidTransition(oldState, newState) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, oldState, newState)
	}

	transition := StateTransition{
		FromState: oldState,
		ToState:   newState,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
	sm.transitions = append(sm.transitions, transition)
	sm.currentState = newState

	sm.logger.Info("workflow transition: %s -> %s", oldState, newState)

	// Non-blocking notification; a slow listener never stalls the run.
	if sm.stateNotifCh != nil {
		notification := &proto.StateChangeNotification{
			WorkflowID: sm.workflowID,
			FromState:  oldState,
			ToState:    newState,
			Timestamp:  transition.Timestamp,
			Metadata:   metadata,
		}

		select {
		case sm.stateNotifCh <- notification:
		default:
			sm.logger.Warn("state notification channel full, dropping %s->%s", oldState, newState)
		}
	}

	sm.stateData["previous_state"] = oldState.String()
	sm.stateData["current_state"] = newState.String()
	sm.stateData["transition_at"] = transition.Timestamp

	// The retry budget resets only on first entry to a state. Re-entry
	// loops, such as VALIDATING back to GENERATING, keep the count so a
	// persistently failing state cannot rerun unbounded.
	if !sm.visited[newState] {
		sm.retryCount = 0
	}
	sm.visited[newState] = true

	for k, v := range metadata {
		sm.stateData[k] = v
	}

	if err := sm.persistLocked(); err != nil {
		return fmt.Errorf("failed to persist state transition: %w", err)
	}

	return nil
}

// GetTransitions returns the state transition history.
func (sm *StateMachine) GetTransitions() []StateTransition {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]StateTransition{}, sm.transitions...)
}

// Persist saves the current state to durable storage.
func (sm *StateMachine) Persist() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.persistLocked()
}

func (sm *StateMachine) persistLocked() error {
	if sm.store == nil {
		return nil
	}

	state := map[string]any{
		"current_state": sm.currentState.String(),
		"state_data":    sm.stateData,
		"transitions":   sm.transitions,
		"retry_count":   sm.retryCount,
	}

	if err := sm.store.Save(sm.workflowID, state); err != nil {
		return fmt.Errorf("failed to save workflow state: %w", err)
	}
	return nil
}

// IncrementRetry increments the retry counter and checks against max
// retries for the current state.
func (sm *StateMachine) IncrementRetry() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.retryCount++
	if sm.retryCount > sm.maxRetries {
		return fmt.Errorf("%w (%d)", ErrMaxRetriesExceeded, sm.maxRetries)
	}
	return nil
}

// SetMaxRetries sets the maximum number of retries per state.
func (sm *StateMachine) SetMaxRetries(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.maxRetries = n
}

// SetStateNotificationChannel sets the channel for state change
// notifications.
func (sm *StateMachine) SetStateNotificationChannel(ch chan<- *proto.StateChangeNotification) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stateNotifCh = ch
}

// Initialize restores persisted state if any exists; a missing record
// means a fresh run and is not an error.
func (sm *StateMachine) Initialize(_ context.Context) error {
	if sm.store == nil {
		return nil
	}

	var state map[string]any
	if err := sm.store.Load(sm.workflowID, &state); err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load state: %w", err)
	}
	if state == nil {
		return nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if transitionsAny, ok := state["transitions"].([]any); ok {
		transitions := make([]StateTransition, 0, len(transitionsAny))
		for _, t := range transitionsAny {
			tMap, ok := t.(map[string]any)
			if !ok {
				continue
			}
			transition := StateTransition{}
			if fromState, ok := tMap["from_state"].(string); ok {
				transition.FromState = proto.State(fromState)
			}
			if toState, ok := tMap["to_state"].(string); ok {
				transition.ToState = proto.State(toState)
			}
			if ts, ok := tMap["timestamp"].(string); ok {
				if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
					transition.Timestamp = parsed
				}
			}
			if meta, ok := tMap["metadata"].(map[string]any); ok {
				transition.Metadata = meta
			}
			transitions = append(transitions, transition)
		}
		sm.transitions = transitions
	}

	if stateData, ok := state["state_data"].(map[string]any); ok {
		sm.stateData = make(StateData)
		for k, v := range stateData {
			sm.stateData[k] = v
		}
	}

	// JSON round-trips numbers as float64.
	if retryCount, ok := state["retry_count"].(float64); ok {
		sm.retryCount = int(retryCount)
	}

	if currentState, ok := state["current_state"].(string); ok {
		sm.currentState = proto.State(currentState)
	}

	sm.visited = map[proto.State]bool{sm.currentState: true}
	for _, t := range sm.transitions {
		sm.visited[t.FromState] = true
		sm.visited[t.ToState] = true
	}

	return nil
}
