package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"qualgen/pkg/agent"
	"qualgen/pkg/agent/llm"
	"qualgen/pkg/agent/middleware/metrics"
	"qualgen/pkg/audit"
	"qualgen/pkg/categorizer"
	"qualgen/pkg/config"
	"qualgen/pkg/consultation"
	"qualgen/pkg/gamp"
	"qualgen/pkg/logx"
	"qualgen/pkg/oqgen"
	"qualgen/pkg/persistence"
	"qualgen/pkg/proto"
	"qualgen/pkg/research"
	"qualgen/pkg/retrieval"
	"qualgen/pkg/sme"
	"qualgen/pkg/templates"
)

// DriverDeps collects the collaborators a Driver needs. Every field is
// required except Trail and Ops, which may be nil in tests.
type DriverDeps struct {
	Factory      *agent.ClientFactory
	Renderer     *templates.Renderer
	Retrieval    *retrieval.Provider
	Research     *research.Agent
	Consultation *consultation.Handler
	Trail        *audit.Trail
	Ops          *persistence.DatabaseOperations
	Store        StateStore
}

// Driver runs one URS document through the pipeline. It owns the state
// machine and calls out to the specialist agents per state; all stage
// outputs are held on the driver so a later state never re-derives them.
type Driver struct {
	cfg  config.Config
	deps DriverDeps
	sm   *StateMachine

	documentName    string
	documentPath    string
	documentContent string

	categorization *gamp.Categorization
	consultResult  *proto.ConsultationResult
	contextChunks  string
	researchNotes  string
	smeNotes       string
	suite          *oqgen.TestSuite
	suitePath      string

	logger *logx.Logger
}

// NewDriver creates a driver for one workflow run.
func NewDriver(cfg config.Config, runID string, deps DriverDeps) *Driver {
	sm := NewStateMachine(runID, proto.StateWaiting, deps.Store, nil)
	if cfg.Pipeline.MaxStateRetries > 0 {
		sm.SetMaxRetries(cfg.Pipeline.MaxStateRetries)
	}
	return &Driver{
		cfg:    cfg,
		deps:   deps,
		sm:     sm,
		logger: logx.NewLogger("driver"),
	}
}

// Suite returns the validated suite after a successful run.
func (d *Driver) Suite() *oqgen.TestSuite { return d.suite }

// SuitePath returns the JSON artifact path after a successful run.
func (d *Driver) SuitePath() string { return d.suitePath }

// StateMachine exposes the underlying machine for observers.
func (d *Driver) StateMachine() *StateMachine { return d.sm }

// Run processes the document at documentPath to completion. It returns
// nil only when the run reached DONE; every other outcome, including
// consultation expiry and exhausted regeneration retries, lands in ERROR
// with the cause returned.
func (d *Driver) Run(ctx context.Context, documentPath string) error {
	content, err := os.ReadFile(documentPath)
	if err != nil {
		return fmt.Errorf("failed to read URS document: %w", err)
	}
	if len(content) == 0 {
		return fmt.Errorf("URS document %s is empty", documentPath)
	}
	d.documentPath = documentPath
	d.documentName = filepath.Base(documentPath)
	d.documentContent = string(content)

	if err := d.sm.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize workflow state: %w", err)
	}

	if d.deps.Ops != nil {
		run := &persistence.Run{
			ID:           d.sm.GetWorkflowID(),
			DocumentName: d.documentName,
			DocumentPath: d.documentPath,
			Status:       d.sm.GetCurrentState().String(),
		}
		if err := d.deps.Ops.UpsertRun(run); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
	}

	for {
		state := d.sm.GetCurrentState()
		if state.IsTerminal() {
			break
		}

		next, err := d.processState(ctx, state)
		if err != nil {
			return d.fail(ctx, state, err)
		}

		if err := d.transition(ctx, next, nil); err != nil {
			return d.fail(ctx, state, err)
		}
	}

	if d.sm.GetCurrentState() == proto.StateError {
		return fmt.Errorf("workflow %s ended in ERROR", d.sm.GetWorkflowID())
	}
	return nil
}

// processState executes the work of one state and names the next one.
func (d *Driver) processState(ctx context.Context, state proto.State) (proto.State, error) {
	switch state {
	case proto.StateWaiting:
		return proto.StateCategorizing, nil
	case proto.StateCategorizing:
		return d.handleCategorizing(ctx)
	case proto.StateConsulting:
		return d.handleConsulting(ctx)
	case proto.StateGathering:
		return d.handleGathering(ctx)
	case proto.StateGenerating:
		return d.handleGenerating(ctx)
	case proto.StateValidating:
		return d.handleValidating(ctx)
	default:
		return proto.StateError, fmt.Errorf("no handler for state %s", state)
	}
}

func (d *Driver) handleCategorizing(ctx context.Context) (proto.State, error) {
	client, err := d.createClient(agent.RoleCategorizer, proto.StateCategorizing)
	if err != nil {
		return proto.StateError, err
	}

	catCtx, cancel := context.WithTimeout(ctx, d.cfg.Pipeline.CategorizationTimeout)
	defer cancel()

	cat, err := categorizer.New(client, d.deps.Renderer).Categorize(catCtx, d.documentName, d.documentContent)
	if err != nil {
		return proto.StateError, fmt.Errorf("categorization failed: %w", err)
	}
	d.categorization = cat

	if d.deps.Ops != nil {
		indicators, merr := json.Marshal(cat.Indicators)
		if merr != nil {
			return proto.StateError, fmt.Errorf("failed to encode indicators: %w", merr)
		}
		rec := &persistence.CategorizationRecord{
			ID:             cat.ID,
			RunID:          d.sm.GetWorkflowID(),
			Category:       int(cat.Category),
			Confidence:     float64(cat.Confidence),
			Rationale:      cat.Rationale,
			Indicators:     string(indicators),
			ReviewRequired: cat.ReviewRequired,
			CreatedAt:      cat.CategorizedAt,
		}
		if err := d.deps.Ops.InsertCategorization(rec); err != nil {
			return proto.StateError, fmt.Errorf("failed to persist categorization: %w", err)
		}
	}

	if err := d.audit(audit.EventCategorization, map[string]any{
		"category":        int(cat.Category),
		"confidence":      float64(cat.Confidence),
		"review_required": cat.ReviewRequired,
	}); err != nil {
		return proto.StateError, err
	}

	if cat.ReviewRequired {
		return proto.StateConsulting, nil
	}
	return proto.StateGathering, nil
}

func (d *Driver) handleConsulting(ctx context.Context) (proto.State, error) {
	final, result, err := d.deps.Consultation.Consult(ctx, d.sm.GetWorkflowID(), d.categorization)
	if result != nil {
		d.consultResult = result
		// The expiry or failure is still an audited fact; record it
		// before surfacing the error.
		if aerr := d.audit(audit.EventConsultation, map[string]any{
			"request_id": result.RequestID,
			"decision":   string(result.Decision),
			"selected":   result.Selected,
			"decided_by": result.DecidedBy,
		}); aerr != nil {
			return proto.StateError, aerr
		}
	}
	if err != nil {
		if errors.Is(err, consultation.ErrExpired) {
			return proto.StateError, fmt.Errorf("categorization not confirmed: %w", err)
		}
		return proto.StateError, fmt.Errorf("consultation failed: %w", err)
	}

	d.categorization.Category = final
	d.categorization.ReviewRequired = false
	return proto.StateGathering, nil
}

// handleGathering runs retrieval, regulatory research, and the SME
// review in parallel. Any single failure fails the state; partial
// evidence is never passed downstream.
func (d *Driver) handleGathering(ctx context.Context) (proto.State, error) {
	gatherCtx, cancel := context.WithTimeout(ctx, d.cfg.Pipeline.GatheringTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(gatherCtx)

	g.Go(func() error {
		if _, err := d.deps.Retrieval.Index(gctx, d.documentName, d.documentContent); err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		// The query runs over the whole indexed corpus, so reference
		// documents loaded beforehand contribute evidence alongside
		// the URS itself.
		query := fmt.Sprintf("operational qualification requirements for %s software", d.categorization.Category)
		chunks, err := d.deps.Retrieval.Retrieve(gctx, query)
		if err != nil {
			return fmt.Errorf("retrieval failed: %w", err)
		}
		d.contextChunks = retrieval.FormatChunks(chunks)
		return nil
	})

	g.Go(func() error {
		findings, err := d.deps.Research.Research(gctx, d.searchTerms())
		if err != nil {
			return fmt.Errorf("research failed: %w", err)
		}
		d.researchNotes = findings.Summarize()
		return nil
	})

	g.Go(func() error {
		client, err := d.createClient(agent.RoleSME, proto.StateGathering)
		if err != nil {
			return err
		}
		assessment, err := sme.New(client, d.deps.Renderer).Review(gctx, d.documentName, d.documentContent, d.categorization)
		if err != nil {
			return fmt.Errorf("SME review failed: %w", err)
		}
		d.smeNotes = assessment.Summarize()
		return nil
	})

	if err := g.Wait(); err != nil {
		return proto.StateError, err
	}

	if err := d.audit(audit.EventResearch, map[string]any{
		"context_chunks_len": len(d.contextChunks),
		"research_len":       len(d.researchNotes),
	}); err != nil {
		return proto.StateError, err
	}
	if err := d.audit(audit.EventSMEReview, map[string]any{
		"assessment_len": len(d.smeNotes),
	}); err != nil {
		return proto.StateError, err
	}

	return proto.StateGenerating, nil
}

func (d *Driver) handleGenerating(ctx context.Context) (proto.State, error) {
	client, err := d.createClient(agent.RoleGenerator, proto.StateGenerating)
	if err != nil {
		return proto.StateError, err
	}
	gen, err := oqgen.New(client, d.deps.Renderer)
	if err != nil {
		return proto.StateError, err
	}

	genCtx, cancel := context.WithTimeout(ctx, d.cfg.Pipeline.GenerationTimeout)
	defer cancel()

	suite, err := gen.Generate(genCtx, oqgen.Input{
		DocumentName:    d.documentName,
		DocumentContent: d.documentContent,
		Categorization:  d.categorization,
		ContextChunks:   d.contextChunks,
		ResearchSummary: d.researchNotes,
		SMEAssessment:   d.smeNotes,
	})
	if err != nil {
		return proto.StateError, fmt.Errorf("suite generation failed: %w", err)
	}
	d.suite = suite

	if err := d.audit(audit.EventSuiteGenerated, map[string]any{
		"suite_id":   suite.SuiteID,
		"test_cases": len(suite.TestCases),
	}); err != nil {
		return proto.StateError, err
	}

	return proto.StateValidating, nil
}

// handleValidating validates the generated suite. Each structural
// failure spends one regeneration from the retry budget, which survives
// the loop back through GENERATING; once the budget is exhausted the
// run fails rather than shipping a corrected-by-machine suite.
func (d *Driver) handleValidating(_ context.Context) (proto.State, error) {
	verr := d.suite.Validate()
	if aerr := d.audit(audit.EventSuiteValidated, map[string]any{
		"suite_id": d.suite.SuiteID,
		"passed":   verr == nil,
		"detail":   errString(verr),
	}); aerr != nil {
		return proto.StateError, aerr
	}

	if verr != nil {
		if rerr := d.sm.IncrementRetry(); rerr != nil {
			return proto.StateError, fmt.Errorf("suite validation failed after regeneration: %w", verr)
		}
		d.logger.Warn("suite %s failed validation, regenerating: %v", d.suite.SuiteID, verr)
		return proto.StateGenerating, nil
	}

	suitePath, err := oqgen.WriteArtifacts(d.suite, d.cfg.Paths.OutputDir)
	if err != nil {
		return proto.StateError, err
	}
	d.suitePath = suitePath

	if d.deps.Ops != nil {
		content, merr := json.Marshal(d.suite)
		if merr != nil {
			return proto.StateError, fmt.Errorf("failed to encode suite: %w", merr)
		}
		rec := &persistence.SuiteRecord{
			ID:               d.suite.SuiteID,
			RunID:            d.sm.GetWorkflowID(),
			Category:         int(d.suite.GAMPCategory),
			TestCount:        len(d.suite.TestCases),
			EstimatedMinutes: d.suite.EstimatedExecutionMinutes,
			Content:          string(content),
			CreatedAt:        d.suite.GeneratedAt,
		}
		if err := d.deps.Ops.InsertSuite(rec); err != nil {
			return proto.StateError, fmt.Errorf("failed to persist suite: %w", err)
		}

		category := int(d.categorization.Category)
		confidence := float64(d.categorization.Confidence)
		if err := d.deps.Ops.UpdateRunStatus(d.sm.GetWorkflowID(), proto.StateDone.String(),
			&category, &confidence, &suitePath, nil); err != nil {
			return proto.StateError, fmt.Errorf("failed to finalize run: %w", err)
		}
	}

	return proto.StateDone, nil
}

// transition moves the machine and records the move in the audit trail.
// A failed audit write aborts the run.
func (d *Driver) transition(ctx context.Context, next proto.State, metadata map[string]any) error {
	from := d.sm.GetCurrentState()
	if err := d.sm.TransitionTo(ctx, next, metadata); err != nil {
		return err
	}

	if d.deps.Trail != nil {
		rec := &audit.Record{
			RunID:     d.sm.GetWorkflowID(),
			EventType: audit.EventStateTransition,
			Actor:     "workflow",
			OldState:  from.String(),
			NewState:  next.String(),
		}
		if err := d.deps.Trail.Append(rec); err != nil {
			return fmt.Errorf("audit trail unavailable, refusing to proceed: %w", err)
		}
	}

	if d.deps.Ops != nil && !next.IsTerminal() {
		if err := d.deps.Ops.UpdateRunStatus(d.sm.GetWorkflowID(), next.String(), nil, nil, nil, nil); err != nil {
			return fmt.Errorf("failed to update run status: %w", err)
		}
	}
	return nil
}

// fail drives the machine into ERROR and records the cause. The original
// error is always returned; bookkeeping failures are logged, not
// substituted.
func (d *Driver) fail(ctx context.Context, from proto.State, cause error) error {
	d.logger.Error("workflow %s failed in %s: %v", d.sm.GetWorkflowID(), from, cause)

	if !d.sm.GetCurrentState().IsTerminal() {
		if err := d.sm.TransitionTo(ctx, proto.StateError, map[string]any{"error": cause.Error()}); err != nil {
			d.logger.Error("failed to enter ERROR state: %v", err)
		}
	}

	if d.deps.Trail != nil {
		rec := &audit.Record{
			RunID:     d.sm.GetWorkflowID(),
			EventType: audit.EventWorkflowFailed,
			Actor:     "workflow",
			OldState:  from.String(),
			NewState:  proto.StateError.String(),
			Payload:   map[string]any{"error": cause.Error()},
		}
		if err := d.deps.Trail.Append(rec); err != nil {
			d.logger.Error("failed to audit workflow failure: %v", err)
		}
	}

	if d.deps.Ops != nil {
		msg := cause.Error()
		if err := d.deps.Ops.UpdateRunStatus(d.sm.GetWorkflowID(), proto.StateError.String(),
			nil, nil, nil, &msg); err != nil {
			d.logger.Error("failed to record run failure: %v", err)
		}
	}

	return cause
}

// audit appends a non-transition event to the trail.
func (d *Driver) audit(eventType audit.EventType, payload map[string]any) error {
	if d.deps.Trail == nil {
		return nil
	}
	rec := &audit.Record{
		RunID:     d.sm.GetWorkflowID(),
		EventType: eventType,
		Actor:     "workflow",
		Entity:    d.documentName,
		Payload:   payload,
	}
	if err := d.deps.Trail.Append(rec); err != nil {
		return fmt.Errorf("audit trail unavailable, refusing to proceed: %w", err)
	}
	return nil
}

func (d *Driver) createClient(role agent.Role, state proto.State) (llm.LLMClient, error) {
	labeler := metrics.NewStaticLabeler(d.sm.GetWorkflowID(), string(role), state.String())
	client, err := d.deps.Factory.CreateClient(role, labeler, d.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", role, err)
	}
	return client, nil
}

// searchTerms derives openFDA query terms from the matched indicators,
// falling back to generic validation terms for indicator-free documents.
func (d *Driver) searchTerms() []string {
	const maxTerms = 4
	terms := make([]string, 0, maxTerms)
	for _, ind := range d.categorization.Indicators {
		terms = append(terms, ind.Phrase)
		if len(terms) == maxTerms {
			break
		}
	}
	if len(terms) == 0 {
		terms = []string{"software", "computer system"}
	}
	return terms
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
