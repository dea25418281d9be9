package consultation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qualgen/pkg/gamp"
	"qualgen/pkg/persistence"
	"qualgen/pkg/proto"
)

// scriptedPrompter answers every consultation with a fixed result or
// error, recording the request it saw.
type scriptedPrompter struct {
	result  *proto.ConsultationResult
	err     error
	waitCtx bool // block until the context expires instead of answering
	lastReq *proto.ConsultationRequest
}

func (p *scriptedPrompter) Prompt(ctx context.Context, req *proto.ConsultationRequest) (*proto.ConsultationResult, error) {
	p.lastReq = req
	if p.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	result := *p.result
	result.RequestID = req.ID
	return &result, nil
}

func testOps(t *testing.T) *persistence.DatabaseOperations {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := persistence.InitializeDatabase(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ops := persistence.NewDatabaseOperations(db, "test-session")
	require.NoError(t, ops.UpsertRun(&persistence.Run{
		ID: "wf-1", DocumentName: "urs-001.md", Status: "CONSULTING",
	}))
	return ops
}

func lowConfidenceCategorization() *gamp.Categorization {
	return &gamp.Categorization{
		ID:             "cat-1",
		DocumentName:   "urs-001.md",
		Category:       gamp.CategoryConfigured,
		Confidence:     0.55,
		Rationale:      "Thin evidence for configuration scope.",
		ReviewRequired: true,
		CategorizedAt:  time.Now().UTC(),
	}
}

func TestConsultConfirmed(t *testing.T) {
	prompter := &scriptedPrompter{result: &proto.ConsultationResult{
		Decision:   proto.DecisionConfirmed,
		DecidedBy:  "qa.reviewer",
		ResolvedAt: time.Now().UTC(),
	}}
	ops := testOps(t)
	h := NewHandler(prompter, ops, time.Minute)

	final, result, err := h.Consult(context.Background(), "wf-1", lowConfidenceCategorization())
	require.NoError(t, err)
	assert.Equal(t, gamp.CategoryConfigured, final)
	assert.Equal(t, proto.DecisionConfirmed, result.Decision)

	// The request presents the proposal and all four categories.
	require.NotNil(t, prompter.lastReq)
	assert.Equal(t, proto.ReasonLowConfidence, prompter.lastReq.Reason)
	assert.Equal(t, "4", prompter.lastReq.Proposed)
	assert.Equal(t, []string{"1", "3", "4", "5"}, prompter.lastReq.Options)

	// The decision is persisted against the stored consultation.
	records, err := ops.GetConsultationsByRun("wf-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Decision)
	assert.Equal(t, "CONFIRMED", *records[0].Decision)
	require.NotNil(t, records[0].FinalCategory)
	assert.Equal(t, 4, *records[0].FinalCategory)
}

func TestConsultOverridden(t *testing.T) {
	prompter := &scriptedPrompter{result: &proto.ConsultationResult{
		Decision:   proto.DecisionOverridden,
		Selected:   "5",
		DecidedBy:  "qa.reviewer",
		ResolvedAt: time.Now().UTC(),
	}}
	ops := testOps(t)
	h := NewHandler(prompter, ops, time.Minute)

	final, result, err := h.Consult(context.Background(), "wf-1", lowConfidenceCategorization())
	require.NoError(t, err)
	assert.Equal(t, gamp.CategoryCustom, final)
	assert.Equal(t, proto.DecisionOverridden, result.Decision)

	records, err := ops.GetConsultationsByRun("wf-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].FinalCategory)
	assert.Equal(t, 5, *records[0].FinalCategory)
}

func TestConsultOverrideToRetiredCategoryRejected(t *testing.T) {
	prompter := &scriptedPrompter{result: &proto.ConsultationResult{
		Decision:   proto.DecisionOverridden,
		Selected:   "2",
		DecidedBy:  "qa.reviewer",
		ResolvedAt: time.Now().UTC(),
	}}
	h := NewHandler(prompter, nil, time.Minute)

	_, _, err := h.Consult(context.Background(), "wf-1", lowConfidenceCategorization())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid GAMP category 2")
}

func TestConsultOverrideNonNumericRejected(t *testing.T) {
	prompter := &scriptedPrompter{result: &proto.ConsultationResult{
		Decision:   proto.DecisionOverridden,
		Selected:   "five",
		ResolvedAt: time.Now().UTC(),
	}}
	h := NewHandler(prompter, nil, time.Minute)

	_, _, err := h.Consult(context.Background(), "wf-1", lowConfidenceCategorization())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-numeric")
}

func TestConsultExpires(t *testing.T) {
	prompter := &scriptedPrompter{waitCtx: true}
	ops := testOps(t)
	h := NewHandler(prompter, ops, 20*time.Millisecond)

	_, result, err := h.Consult(context.Background(), "wf-1", lowConfidenceCategorization())
	require.ErrorIs(t, err, ErrExpired)
	require.NotNil(t, result)
	assert.Equal(t, proto.DecisionExpired, result.Decision)

	// Expiry is still an audited outcome.
	records, opErr := ops.GetConsultationsByRun("wf-1")
	require.NoError(t, opErr)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Decision)
	assert.Equal(t, "EXPIRED", *records[0].Decision)
}

func TestConsultPrompterFailureIsNotExpiry(t *testing.T) {
	prompter := &scriptedPrompter{err: errors.New("terminal unavailable")}
	ops := testOps(t)
	h := NewHandler(prompter, ops, time.Minute)

	_, result, err := h.Consult(context.Background(), "wf-1", lowConfidenceCategorization())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExpired)
	assert.Contains(t, err.Error(), "terminal unavailable")
	require.NotNil(t, result)
	assert.Equal(t, proto.DecisionFailed, result.Decision)
	assert.Contains(t, result.Rationale, "terminal unavailable")

	// The failure is recorded as a failure, not as an expiry.
	records, opErr := ops.GetConsultationsByRun("wf-1")
	require.NoError(t, opErr)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Decision)
	assert.Equal(t, "FAILED", *records[0].Decision)
}

func TestConsultAmbiguityReason(t *testing.T) {
	prompter := &scriptedPrompter{result: &proto.ConsultationResult{
		Decision:   proto.DecisionConfirmed,
		ResolvedAt: time.Now().UTC(),
	}}
	h := NewHandler(prompter, nil, time.Minute)

	cat := lowConfidenceCategorization()
	cat.Indicators = []gamp.Indicator{
		{Category: gamp.CategoryConfigured, Phrase: "configure workflows", Weight: 0.5},
		{Category: gamp.CategoryCustom, Phrase: "custom scripting", Weight: 0.6},
	}

	_, _, err := h.Consult(context.Background(), "wf-1", cat)
	require.NoError(t, err)
	require.NotNil(t, prompter.lastReq)
	assert.Equal(t, proto.ReasonCategoryAmbiguity, prompter.lastReq.Reason)
}
