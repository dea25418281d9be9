package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config file constants.
const (
	ConfigFilename = "qualgen.yaml"
	ProjectDir     = ".qualgen"
)

// DefaultConfig returns the built-in defaults. A config file overrides
// only the fields it sets.
func DefaultConfig() Config {
	return Config{
		Models: ModelsConfig{
			Categorizer: "claude-sonnet-4-20250514",
			SME:         "claude-sonnet-4-20250514",
			Generator:   "claude-sonnet-4-20250514",
			Embedder:    "text-embedding-3-small",
		},
		Pipeline: PipelineConfig{
			CategorizationTimeout: 2 * time.Minute,
			GatheringTimeout:      5 * time.Minute,
			GenerationTimeout:     10 * time.Minute,
			MaxStateRetries:       1,
		},
		Retrieval: RetrievalConfig{
			TopK:         8,
			MinRelevance: 0.3,
			ChunkSize:    512,
			ChunkOverlap: 64,
		},
		Research: ResearchConfig{
			OpenFDABaseURL: "https://api.fda.gov",
			CacheTTL:       24 * time.Hour,
			MaxResults:     10,
			RequestTimeout: 30 * time.Second,
		},
		Consultation: ConsultationConfig{
			Timeout:     time.Hour,
			Interactive: true,
		},
		Retry: RetryConfig{
			MaxAttempts:   4,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			Jitter:        true,
		},
		Metrics: MetricsConfig{
			ListenAddr:   "localhost:9190",
			QueryTimeout: 10 * time.Second,
		},
		Paths: PathsConfig{
			DataDir:   filepath.Join(ProjectDir, "data"),
			OutputDir: "output",
			AuditDir:  filepath.Join(ProjectDir, "audit"),
		},
	}
}

// Load reads configuration from the given path, layered over defaults.
// An empty path looks for qualgen.yaml in the working directory and in
// .qualgen/; a missing file yields pure defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, candidate := range []string{ConfigFilename, filepath.Join(ProjectDir, ConfigFilename)} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides lets deployment environments override model role
// assignments and the Prometheus endpoint without editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUALGEN_CATEGORIZER_MODEL"); v != "" {
		cfg.Models.Categorizer = v
	}
	if v := os.Getenv("QUALGEN_SME_MODEL"); v != "" {
		cfg.Models.SME = v
	}
	if v := os.Getenv("QUALGEN_GENERATOR_MODEL"); v != "" {
		cfg.Models.Generator = v
	}
	if v := os.Getenv("QUALGEN_EMBEDDER_MODEL"); v != "" {
		cfg.Models.Embedder = v
	}
	if v := os.Getenv("QUALGEN_PROMETHEUS_URL"); v != "" {
		cfg.Metrics.PrometheusURL = v
	}
	if v := os.Getenv("QUALGEN_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
}

// Save writes the configuration to the given path in YAML form.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil { //nolint:gosec // Config holds no secrets
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
