// Package metrics provides metrics recording for LLM client operations.
package metrics

import (
	"time"
)

// Labeler provides workflow context for metrics labels.
type Labeler interface {
	// GetWorkflowID returns the ID of the workflow run issuing the request.
	GetWorkflowID() string
	// GetAgentName returns the specialist agent name (categorizer, sme, ...).
	GetAgentName() string
	// GetCurrentState returns the workflow state the request was issued in.
	GetCurrentState() string
}

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, workflowID, agentName, state string,
		promptTokens, completionTokens int,
		success bool,
		errorType string,
		duration time.Duration,
	)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics
// are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(
	_, _, _, _ string,
	_, _ int,
	_ bool,
	_ string,
	_ time.Duration,
) {
}

// StaticLabeler is a fixed-label Labeler for callers without live state.
type StaticLabeler struct {
	WorkflowID string
	AgentName  string
	State      string
}

// NewStaticLabeler creates a Labeler with fixed values.
func NewStaticLabeler(workflowID, agentName, state string) *StaticLabeler {
	return &StaticLabeler{WorkflowID: workflowID, AgentName: agentName, State: state}
}

func (s *StaticLabeler) GetWorkflowID() string   { return s.WorkflowID }
func (s *StaticLabeler) GetAgentName() string    { return s.AgentName }
func (s *StaticLabeler) GetCurrentState() string { return s.State }
