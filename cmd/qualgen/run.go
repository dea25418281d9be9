package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"qualgen/pkg/agent"
	"qualgen/pkg/audit"
	"qualgen/pkg/consultation"
	"qualgen/pkg/logx"
	"qualgen/pkg/metrics"
	"qualgen/pkg/persistence"
	"qualgen/pkg/proto"
	"qualgen/pkg/research"
	"qualgen/pkg/retrieval"
	"qualgen/pkg/templates"
	"qualgen/pkg/workflow"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "run <urs-file>",
		Short: "Run the full qualification pipeline on a URS document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts, args[0], runID)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "resume or name the workflow run (default: new UUID)")
	return cmd
}

//nolint:cyclop // Top-level wiring is sequential by nature
func runPipeline(cmd *cobra.Command, opts *rootOptions, ursPath, runID string) error {
	logger := logx.NewLogger("main")

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ops, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := persistence.Close(); closeErr != nil {
			logger.Error("failed to close database: %v", closeErr)
		}
	}()

	trail, err := audit.NewTrail(cfg.Paths.AuditDir, ops)
	if err != nil {
		return err
	}
	defer func() { _ = trail.Close() }()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The scrape endpoint runs for the lifetime of the pipeline.
	var queryService *metrics.QueryService
	if cfg.Metrics.PrometheusURL != "" {
		queryService, err = metrics.NewQueryService(cfg.Metrics.PrometheusURL)
		if err != nil {
			return err
		}
	}
	metricsServer := metrics.NewServer(cfg.Metrics.ListenAddr, queryService, cfg.Metrics.QueryTimeout)
	go func() {
		if serveErr := metricsServer.Start(); serveErr != nil {
			logger.Error("%v", serveErr)
		}
	}()
	defer func() {
		if shutErr := metricsServer.Shutdown(context.Background()); shutErr != nil {
			logger.Error("%v", shutErr)
		}
	}()

	renderer, err := templates.NewRenderer()
	if err != nil {
		return err
	}

	embedder, err := retrieval.NewEmbedder(&cfg)
	if err != nil {
		return err
	}

	var prompter consultation.Prompter
	if cfg.Consultation.Interactive {
		prompter = consultation.NewTerminalPrompter()
	} else {
		prompter = unattendedPrompter{}
	}

	if runID == "" {
		runID = uuid.NewString()
	}

	driver := workflow.NewDriver(cfg, runID, workflow.DriverDeps{
		Factory:      agent.NewClientFactory(cfg),
		Renderer:     renderer,
		Retrieval:    retrieval.NewProvider(ops, embedder, cfg.Retrieval),
		Research:     research.NewAgent(cfg.Research, ops),
		Consultation: consultation.NewHandler(prompter, ops, cfg.Consultation.Timeout),
		Trail:        trail,
		Ops:          ops,
		Store:        workflow.NewSQLiteStateStore(ops),
	})

	logger.Info("starting run %s for %s", runID, ursPath)
	if err := driver.Run(ctx, ursPath); err != nil {
		return fmt.Errorf("run %s failed: %w", runID, err)
	}

	suite := driver.Suite()
	cmd.Printf("✅ Run %s complete: %d test cases (%s)\n", runID, len(suite.TestCases), suite.GAMPCategory)
	cmd.Printf("   Suite written to %s\n", driver.SuitePath())
	cmd.Printf("   Audit trail: %s\n", trail.CurrentFile())
	return nil
}

// unattendedPrompter refuses every consultation so that non-interactive
// runs fail loudly on low confidence instead of picking a category.
type unattendedPrompter struct{}

func (unattendedPrompter) Prompt(_ context.Context, req *proto.ConsultationRequest) (*proto.ConsultationResult, error) {
	return nil, fmt.Errorf("consultation %s requires an operator but interactive mode is disabled", req.ID)
}
