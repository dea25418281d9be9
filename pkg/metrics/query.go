// Package metrics serves the Prometheus scrape endpoint and aggregates
// per-run token usage and cost from a Prometheus server.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"qualgen/pkg/config"
)

// RunUsage is the aggregated LLM usage for one workflow run.
type RunUsage struct {
	RunID            string  `json:"run_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost_usd"`
}

// QueryService aggregates run usage from Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service against the given Prometheus
// server.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetRunUsage retrieves token totals for a run across all agents, plus a
// cost estimate priced from the per-model rates in the model registry.
func (q *QueryService) GetRunUsage(ctx context.Context, runID string) (*RunUsage, error) {
	usage := &RunUsage{
		RunID: runID,
	}

	perModel, err := q.GetRunUsageByModel(ctx, runID)
	if err != nil {
		return nil, err
	}

	for _, m := range perModel {
		usage.PromptTokens += m.PromptTokens
		usage.CompletionTokens += m.CompletionTokens
		usage.EstimatedCost += m.EstimatedCost
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return usage, nil
}

// GetRunUsageByModel retrieves usage broken down by model. Cost is
// computed from registry rates; unknown models contribute tokens but no
// cost.
func (q *QueryService) GetRunUsageByModel(ctx context.Context, runID string) (map[string]*RunUsage, error) {
	result := make(map[string]*RunUsage)

	modelsQuery := fmt.Sprintf(`group by (model) (llm_tokens_total{workflow_id=%q})`, runID)
	modelsResult, _, err := q.queryAPI.Query(ctx, modelsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if modelName, ok := sample.Metric["model"]; ok {
				models = append(models, string(modelName))
			}
		}
	}

	for _, modelName := range models {
		usage := &RunUsage{
			RunID: runID,
		}

		usage.PromptTokens, err = q.sumTokens(ctx, runID, modelName, "prompt")
		if err != nil {
			return nil, err
		}
		usage.CompletionTokens, err = q.sumTokens(ctx, runID, modelName, "completion")
		if err != nil {
			return nil, err
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

		if info, known := config.GetModelInfo(modelName); known {
			usage.EstimatedCost = float64(usage.PromptTokens)/1_000_000*info.InputCPM +
				float64(usage.CompletionTokens)/1_000_000*info.OutputCPM
		}

		result[modelName] = usage
	}

	return result, nil
}

func (q *QueryService) sumTokens(ctx context.Context, runID, modelName, tokenType string) (int64, error) {
	query := fmt.Sprintf(`sum(llm_tokens_total{workflow_id=%q, model=%q, type=%q})`, runID, modelName, tokenType)
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to query %s tokens for model %s: %w", tokenType, modelName, err)
	}

	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
