// Package consultation handles human-in-the-loop review of low-confidence
// categorizations. A consultation either resolves with an explicit
// operator decision or expires; the workflow never substitutes a default
// category on its own.
package consultation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"qualgen/pkg/gamp"
	"qualgen/pkg/logx"
	"qualgen/pkg/persistence"
	"qualgen/pkg/proto"
)

// ErrExpired is returned when no operator responds before the request
// expiry. Callers must fail the workflow rather than proceed with the
// unconfirmed category.
var ErrExpired = fmt.Errorf("consultation expired without a decision")

// Prompter collects a decision for a consultation request. The default
// implementation reads from the terminal; tests substitute their own.
type Prompter interface {
	Prompt(ctx context.Context, req *proto.ConsultationRequest) (*proto.ConsultationResult, error)
}

// Handler raises consultation requests, persists them, and resolves them
// through a Prompter.
type Handler struct {
	prompter Prompter
	ops      *persistence.DatabaseOperations
	expiry   time.Duration
	logger   *logx.Logger
}

// NewHandler creates a consultation handler. The ops handle is optional.
func NewHandler(prompter Prompter, ops *persistence.DatabaseOperations, expiry time.Duration) *Handler {
	return &Handler{
		prompter: prompter,
		ops:      ops,
		expiry:   expiry,
		logger:   logx.NewLogger("consultation"),
	}
}

// Consult raises a consultation for a low-confidence categorization and
// blocks until an operator decides or the expiry elapses. On CONFIRMED
// the proposed category stands; on OVERRIDDEN the operator's category
// replaces it; on expiry ErrExpired is returned.
func (h *Handler) Consult(ctx context.Context, workflowID string, cat *gamp.Categorization) (gamp.Category, *proto.ConsultationResult, error) {
	reason := proto.ReasonLowConfidence
	if cat.ReviewRequired && len(cat.Indicators) > 1 {
		reason = proto.ReasonCategoryAmbiguity
	}

	options := make([]string, 0, len(gamp.AllCategories))
	for _, c := range gamp.AllCategories {
		options = append(options, strconv.Itoa(int(c)))
	}

	req := proto.NewConsultationRequest(
		workflowID,
		reason,
		fmt.Sprintf("Categorized as %s with confidence %.2f (threshold not met).\nRationale: %s",
			cat.Category, float64(cat.Confidence), cat.Rationale),
		strconv.Itoa(int(cat.Category)),
		options,
		h.expiry,
	)

	if h.ops != nil {
		rec := &persistence.ConsultationRecord{
			ID:               req.ID,
			RunID:            workflowID,
			Reason:           string(reason),
			ProposedCategory: int(cat.Category),
			Confidence:       float64(cat.Confidence),
			CreatedAt:        req.RaisedAt,
		}
		if err := h.ops.InsertConsultation(rec); err != nil {
			return 0, nil, fmt.Errorf("failed to persist consultation: %w", err)
		}
	}

	h.logger.Info("consultation %s raised for %s: proposed %s, confidence %.2f",
		req.ID, workflowID, cat.Category, float64(cat.Confidence))

	promptCtx, cancel := context.WithTimeout(ctx, h.expiry)
	defer cancel()

	result, err := h.prompter.Prompt(promptCtx, req)
	if err != nil {
		outcome := &proto.ConsultationResult{
			RequestID:  req.ID,
			ResolvedAt: time.Now().UTC(),
		}
		if promptCtx.Err() != nil {
			outcome.Decision = proto.DecisionExpired
			h.recordDecision(outcome, int(cat.Category))
			h.logger.Warn("consultation %s expired after %s", req.ID, h.expiry)
			return 0, outcome, ErrExpired
		}
		// A broken prompt channel is not an expiry; record the failure
		// as what it was.
		outcome.Decision = proto.DecisionFailed
		outcome.Rationale = err.Error()
		h.recordDecision(outcome, int(cat.Category))
		return 0, outcome, fmt.Errorf("consultation prompt failed: %w", err)
	}

	final := cat.Category
	if result.Decision == proto.DecisionOverridden {
		parsed, perr := strconv.Atoi(result.Selected)
		if perr != nil {
			return 0, result, fmt.Errorf("consultation returned non-numeric category %q", result.Selected)
		}
		final, err = gamp.ParseCategory(parsed)
		if err != nil {
			return 0, result, fmt.Errorf("consultation override rejected: %w", err)
		}
	}

	h.recordDecision(result, int(final))
	h.logger.Info("consultation %s resolved: %s, final category %s", req.ID, result.Decision, final)
	return final, result, nil
}

func (h *Handler) recordDecision(result *proto.ConsultationResult, finalCategory int) {
	if h.ops == nil {
		return
	}
	if err := h.ops.UpdateConsultationDecision(result.RequestID, string(result.Decision), finalCategory, result.DecidedBy); err != nil {
		h.logger.Error("failed to record consultation decision %s: %v", result.RequestID, err)
	}
}
