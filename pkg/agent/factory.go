// Package agent provides LLM client construction with middleware chain
// assembly for the pipeline's agent roles.
package agent

import (
	"fmt"

	"qualgen/pkg/agent/internal/llmimpl/anthropic"
	"qualgen/pkg/agent/internal/llmimpl/google"
	"qualgen/pkg/agent/internal/llmimpl/ollama"
	"qualgen/pkg/agent/internal/llmimpl/openai"
	"qualgen/pkg/agent/llm"
	"qualgen/pkg/agent/middleware/metrics"
	"qualgen/pkg/agent/middleware/retry"
	"qualgen/pkg/config"
	"qualgen/pkg/logx"
)

// Role identifies which pipeline agent a client is built for.
type Role string

// Agent roles.
const (
	RoleCategorizer Role = "categorizer"
	RoleSME         Role = "sme"
	RoleGenerator   Role = "generator"
)

// String returns the role name.
func (r Role) String() string {
	return string(r)
}

// ClientFactory creates LLM clients with properly configured middleware
// chains. One factory serves the whole pipeline so all clients share the
// same metrics recorder.
type ClientFactory struct {
	config   config.Config
	recorder metrics.Recorder
}

// NewClientFactory creates a factory with a Prometheus metrics recorder.
func NewClientFactory(cfg config.Config) *ClientFactory {
	return &ClientFactory{
		config:   cfg,
		recorder: metrics.NewPrometheusRecorder(),
	}
}

// NewClientFactoryWithRecorder creates a factory with a custom recorder;
// tests use this with a noop recorder to avoid duplicate Prometheus
// registration.
func NewClientFactoryWithRecorder(cfg config.Config, recorder metrics.Recorder) *ClientFactory {
	return &ClientFactory{
		config:   cfg,
		recorder: recorder,
	}
}

// CreateClient builds the client for a role with the full middleware
// chain. The API key comes from the secrets file or environment based on
// the model's provider.
func (f *ClientFactory) CreateClient(role Role, labeler metrics.Labeler, logger *logx.Logger) (llm.LLMClient, error) {
	var modelName string
	switch role {
	case RoleCategorizer:
		modelName = f.config.Models.Categorizer
	case RoleSME:
		modelName = f.config.Models.SME
	case RoleGenerator:
		modelName = f.config.Models.Generator
	default:
		return nil, fmt.Errorf("unsupported agent role: %s", role)
	}

	rawClient, err := f.createRawClient(modelName)
	if err != nil {
		return nil, err
	}

	if labeler == nil {
		labeler = metrics.NewStaticLabeler("", role.String(), "")
	}

	retryPolicy := retry.NewPolicy(retry.Config{
		MaxAttempts:   f.config.Retry.MaxAttempts,
		InitialDelay:  f.config.Retry.InitialDelay,
		MaxDelay:      f.config.Retry.MaxDelay,
		BackoffFactor: f.config.Retry.BackoffFactor,
		Jitter:        f.config.Retry.Jitter,
	}, nil)

	// Middleware order: Metrics -> Retry -> RawClient. Metrics sits
	// outermost so it observes the final outcome, not each attempt.
	client := llm.Chain(rawClient,
		metrics.Middleware(f.recorder, nil, labeler, logger),
		retry.Middleware(retryPolicy),
	)

	return client, nil
}

// createRawClient selects the provider implementation for a model.
func (f *ClientFactory) createRawClient(modelName string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClient(apiKey, modelName), nil
	case config.ProviderOpenAI:
		return openai.NewClient(apiKey, modelName), nil
	case config.ProviderGoogle:
		return google.NewGeminiClient(apiKey, modelName), nil
	case config.ProviderOllama:
		// For Ollama the "key" is the host URL.
		return ollama.NewClient(apiKey, modelName), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
