// Package config manages the pipeline configuration: model role
// assignments, provider resolution, thresholds, and paths. Config values
// load from YAML with environment variable overrides; API keys come from
// the encrypted secrets file or environment only and are never persisted
// in plain text.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider name constants.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variable names for API keys.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GEMINI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
	EnvOpenFDAAPIKey   = "OPENFDA_API_KEY"
)

// ModelInfo contains static information about a known LLM model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	Provider         string  // API provider (anthropic, openai, google, ollama)
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int     // Maximum context window size in tokens
	MaxOutputTokens  int     // Maximum output tokens per request
}

// KnownModels registry contains pricing and provider information for
// common models. This is optional - unknown models are inferred via
// ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  64000,
	},
	"claude-3-5-haiku-20241022": {
		Provider:         ProviderAnthropic,
		InputCPM:         0.8,
		OutputCPM:        4.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gpt-4o-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         0.15,
		OutputCPM:        0.6,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.3,
		OutputCPM:        2.5,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
	"text-embedding-3-small": {
		Provider: ProviderOpenAI,
	},
	"nomic-embed-text": {
		Provider: ProviderOllama,
	},
}

// ProviderPattern maps a model name prefix to its API provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns infers the provider for models absent from KnownModels.
// Order matters: first prefix match wins.
//
//nolint:gochecknoglobals // Static pattern table
var ProviderPatterns = []ProviderPattern{
	{Prefix: "claude-", Provider: ProviderAnthropic},
	{Prefix: "gpt-", Provider: ProviderOpenAI},
	{Prefix: "o3", Provider: ProviderOpenAI},
	{Prefix: "o4", Provider: ProviderOpenAI},
	{Prefix: "text-embedding-", Provider: ProviderOpenAI},
	{Prefix: "gemini-", Provider: ProviderGoogle},
	{Prefix: "llama", Provider: ProviderOllama},
	{Prefix: "qwen", Provider: ProviderOllama},
	{Prefix: "mistral", Provider: ProviderOllama},
	{Prefix: "nomic-", Provider: ProviderOllama},
}

// GetModelProvider determines the API provider for a model name.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}

	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}

	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match - cannot determine API provider", modelName)
}

// GetModelInfo returns the ModelInfo for a given model name. Returns the
// info and true if found in KnownModels, or a zero-cost info with the
// inferred provider and false if not found.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}

	provider, err := GetModelProvider(modelName)
	if err != nil {
		provider = ""
	}
	return ModelInfo{Provider: provider}, false
}

// GetAPIKey returns the API key for a provider, checking the decrypted
// secrets file first and falling back to environment variables. Ollama
// has no key; its "key" is the host URL.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}

	return "", fmt.Errorf("API key for provider %s not found: set %s or add it to the secrets file", provider, envVar)
}

// ModelsConfig assigns a model to each pipeline role.
type ModelsConfig struct {
	Categorizer string `yaml:"categorizer"` // GAMP category classification
	SME         string `yaml:"sme"`         // SME review and risk assessment
	Generator   string `yaml:"generator"`   // OQ test suite generation
	Embedder    string `yaml:"embedder"`    // document chunk embeddings
}

// PipelineConfig holds per-stage execution limits. MaxStateRetries caps
// how many times a failed suite may be regenerated before the run ends
// in ERROR.
type PipelineConfig struct {
	CategorizationTimeout time.Duration `yaml:"categorization_timeout"`
	GatheringTimeout      time.Duration `yaml:"gathering_timeout"`
	GenerationTimeout     time.Duration `yaml:"generation_timeout"`
	MaxStateRetries       int           `yaml:"max_state_retries"`
}

// RetrievalConfig controls document chunking and similarity search.
type RetrievalConfig struct {
	TopK         int     `yaml:"top_k"`
	MinRelevance float64 `yaml:"min_relevance"`
	ChunkSize    int     `yaml:"chunk_size"`    // tokens per chunk
	ChunkOverlap int     `yaml:"chunk_overlap"` // tokens of overlap between chunks
}

// ResearchConfig controls the regulatory research agent.
type ResearchConfig struct {
	OpenFDABaseURL string        `yaml:"openfda_base_url"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MaxResults     int           `yaml:"max_results"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ConsultationConfig controls human consultation behavior.
type ConsultationConfig struct {
	Timeout     time.Duration `yaml:"timeout"`     // how long to wait for a human decision
	Interactive bool          `yaml:"interactive"` // prompt on the terminal when attached to a TTY
}

// RetryConfig holds LLM retry parameters.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        bool          `yaml:"jitter"`
}

// MetricsConfig controls the metrics endpoint and the Prometheus query
// service used for cost reporting.
type MetricsConfig struct {
	ListenAddr    string        `yaml:"listen_addr"`    // address for /metrics and /healthz
	PrometheusURL string        `yaml:"prometheus_url"` // Prometheus server for usage queries (optional)
	QueryTimeout  time.Duration `yaml:"query_timeout"`
}

// PathsConfig holds filesystem locations for pipeline state.
type PathsConfig struct {
	DataDir   string `yaml:"data_dir"`   // sqlite database and caches
	OutputDir string `yaml:"output_dir"` // generated test suites
	AuditDir  string `yaml:"audit_dir"`  // append-only audit trail
}

// Config is the root configuration for the pipeline.
type Config struct {
	Models       ModelsConfig       `yaml:"models"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Research     ResearchConfig     `yaml:"research"`
	Consultation ConsultationConfig `yaml:"consultation"`
	Retry        RetryConfig        `yaml:"retry"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Paths        PathsConfig        `yaml:"paths"`
}

// Validate checks that the configuration is complete enough to run.
func (c *Config) Validate() error {
	if c.Models.Categorizer == "" {
		return fmt.Errorf("models.categorizer is required")
	}
	if c.Models.Generator == "" {
		return fmt.Errorf("models.generator is required")
	}
	if c.Models.SME == "" {
		return fmt.Errorf("models.sme is required")
	}
	for _, model := range []string{c.Models.Categorizer, c.Models.SME, c.Models.Generator} {
		if _, err := GetModelProvider(model); err != nil {
			return fmt.Errorf("invalid model assignment: %w", err)
		}
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MinRelevance < 0 || c.Retrieval.MinRelevance > 1 {
		return fmt.Errorf("retrieval.min_relevance must be in [0,1], got %f", c.Retrieval.MinRelevance)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir is required")
	}
	return nil
}
