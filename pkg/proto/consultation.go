package proto

import (
	"time"

	"github.com/google/uuid"
)

// Confidence is a score in [0,1] attached to agent outputs.
type Confidence float64

// Valid reports whether the confidence is inside [0,1].
func (c Confidence) Valid() bool {
	return c >= 0 && c <= 1
}

// ConsultationReason identifies why human input is required.
type ConsultationReason string

const (
	// ReasonLowConfidence means the categorization confidence fell below
	// the configured threshold for the proposed category.
	ReasonLowConfidence ConsultationReason = "low_confidence"

	// ReasonCategoryAmbiguity means indicator evidence supports more than
	// one category with comparable weight.
	ReasonCategoryAmbiguity ConsultationReason = "category_ambiguity"
)

// ConsultationRequest asks an operator to confirm or override a decision.
// The workflow never resolves these itself: unattended runs fail after
// Expiry rather than substituting a default.
type ConsultationRequest struct {
	ID         string             `json:"id"`
	WorkflowID string             `json:"workflow_id"`
	Reason     ConsultationReason `json:"reason"`
	Summary    string             `json:"summary"`
	Proposed   string             `json:"proposed"`
	Options    []string           `json:"options"`
	RaisedAt   time.Time          `json:"raised_at"`
	Expiry     time.Duration      `json:"expiry"`
}

// NewConsultationRequest creates a consultation request with a fresh ID.
func NewConsultationRequest(workflowID string, reason ConsultationReason, summary, proposed string, options []string, expiry time.Duration) *ConsultationRequest {
	return &ConsultationRequest{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Reason:     reason,
		Summary:    summary,
		Proposed:   proposed,
		Options:    options,
		RaisedAt:   time.Now().UTC(),
		Expiry:     expiry,
	}
}

// ConsultationDecision records how a consultation was resolved.
type ConsultationDecision string

const (
	// DecisionConfirmed means the operator accepted the proposed value.
	DecisionConfirmed ConsultationDecision = "CONFIRMED"

	// DecisionOverridden means the operator selected a different option.
	DecisionOverridden ConsultationDecision = "OVERRIDDEN"

	// DecisionExpired means no operator responded before Expiry.
	DecisionExpired ConsultationDecision = "EXPIRED"

	// DecisionFailed means the prompt channel broke before any operator
	// decision was collected. Recorded distinctly from expiry so the
	// audit record states what actually happened.
	DecisionFailed ConsultationDecision = "FAILED"
)

// ConsultationResult is the audited outcome of a consultation request.
type ConsultationResult struct {
	RequestID  string               `json:"request_id"`
	Decision   ConsultationDecision `json:"decision"`
	Selected   string               `json:"selected,omitempty"`
	DecidedBy  string               `json:"decided_by,omitempty"`
	Rationale  string               `json:"rationale,omitempty"`
	ResolvedAt time.Time            `json:"resolved_at"`
}
