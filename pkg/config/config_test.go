package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qualgen.yaml")
	yamlBody := `
models:
  generator: gpt-4o
retrieval:
  top_k: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Overridden fields.
	assert.Equal(t, "gpt-4o", cfg.Models.Generator)
	assert.Equal(t, 3, cfg.Retrieval.TopK)

	// Untouched fields keep defaults.
	assert.Equal(t, DefaultConfig().Models.Categorizer, cfg.Models.Categorizer)
	assert.Equal(t, 24*time.Hour, cfg.Research.CacheTTL)
}

func TestLoadMissingFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("QUALGEN_GENERATOR_MODEL", "claude-3-5-haiku-20241022")
	t.Setenv("QUALGEN_DATA_DIR", "/var/lib/qualgen")

	path := filepath.Join(t.TempDir(), "qualgen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  generator: gpt-4o\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment beats the file.
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.Models.Generator)
	assert.Equal(t, "/var/lib/qualgen", cfg.Paths.DataDir)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qualgen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  generator: totally-unknown-model\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errIs  string
	}{
		{
			name:   "missing categorizer",
			mutate: func(c *Config) { c.Models.Categorizer = "" },
			errIs:  "models.categorizer",
		},
		{
			name:   "missing generator",
			mutate: func(c *Config) { c.Models.Generator = "" },
			errIs:  "models.generator",
		},
		{
			name:   "unresolvable model",
			mutate: func(c *Config) { c.Models.SME = "mystery-9000" },
			errIs:  "invalid model assignment",
		},
		{
			name:   "non-positive top_k",
			mutate: func(c *Config) { c.Retrieval.TopK = 0 },
			errIs:  "top_k",
		},
		{
			name:   "min_relevance out of range",
			mutate: func(c *Config) { c.Retrieval.MinRelevance = 1.5 },
			errIs:  "min_relevance",
		},
		{
			name:   "retry attempts below one",
			mutate: func(c *Config) { c.Retry.MaxAttempts = 0 },
			errIs:  "max_attempts",
		},
		{
			name:   "missing data dir",
			mutate: func(c *Config) { c.Paths.DataDir = "" },
			errIs:  "data_dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errIs)
		})
	}
}

func TestGetModelProvider(t *testing.T) {
	tests := []struct {
		model   string
		want    string
		wantErr bool
	}{
		{model: "claude-sonnet-4-20250514", want: ProviderAnthropic},
		{model: "gpt-4o-mini", want: ProviderOpenAI},
		{model: "claude-brand-new-model", want: ProviderAnthropic}, // prefix inference
		{model: "o3-mini", want: ProviderOpenAI},
		{model: "gemini-2.5-flash", want: ProviderGoogle},
		{model: "llama3.3:70b", want: ProviderOllama},
		{model: "nomic-embed-text", want: ProviderOllama},
		{model: "mystery-9000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := GetModelProvider(tt.model)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetModelInfo(t *testing.T) {
	info, known := GetModelInfo("gpt-4o")
	assert.True(t, known)
	assert.Equal(t, ProviderOpenAI, info.Provider)
	assert.InDelta(t, 2.5, info.InputCPM, 0.0001)

	info, known = GetModelInfo("claude-brand-new-model")
	assert.False(t, known)
	assert.Equal(t, ProviderAnthropic, info.Provider)
	assert.Zero(t, info.InputCPM)
}

func TestGetAPIKeyPrecedence(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })

	t.Run("secrets file beats environment", func(t *testing.T) {
		t.Setenv(EnvOpenAIAPIKey, "env-key")
		SetDecryptedSecrets(map[string]string{EnvOpenAIAPIKey: "file-key"})

		key, err := GetAPIKey(ProviderOpenAI)
		require.NoError(t, err)
		assert.Equal(t, "file-key", key)
	})

	t.Run("environment fallback", func(t *testing.T) {
		SetDecryptedSecrets(nil)
		t.Setenv(EnvAnthropicAPIKey, "env-anthropic")

		key, err := GetAPIKey(ProviderAnthropic)
		require.NoError(t, err)
		assert.Equal(t, "env-anthropic", key)
	})

	t.Run("missing key is an error", func(t *testing.T) {
		SetDecryptedSecrets(nil)
		t.Setenv(EnvGoogleAPIKey, "")

		_, err := GetAPIKey(ProviderGoogle)
		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvGoogleAPIKey)
	})

	t.Run("ollama uses host not key", func(t *testing.T) {
		t.Setenv(EnvOllamaHost, "")
		host, err := GetAPIKey(ProviderOllama)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:11434", host)

		t.Setenv(EnvOllamaHost, "http://gpu-box:11434")
		host, err = GetAPIKey(ProviderOllama)
		require.NoError(t, err)
		assert.Equal(t, "http://gpu-box:11434", host)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := GetAPIKey("acme")
		assert.Error(t, err)
	})
}

func TestSecretsFileRoundTrip(t *testing.T) {
	projectDir := t.TempDir()
	secrets := map[string]string{
		EnvAnthropicAPIKey: "sk-ant-test",
		EnvOpenFDAAPIKey:   "fda-test",
	}

	assert.False(t, SecretsFileExists(projectDir))

	require.NoError(t, EncryptSecretsFile(projectDir, "correct horse", secrets))
	assert.True(t, SecretsFileExists(projectDir))

	// File is never plaintext on disk.
	path := filepath.Join(projectDir, ProjectDir, "secrets.json.enc")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-ant-test")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	decrypted, err := DecryptSecretsFile(projectDir, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, secrets, decrypted)
}

func TestDecryptSecretsFileWrongPassword(t *testing.T) {
	projectDir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(projectDir, "right", map[string]string{"A": "b"}))

	_, err := DecryptSecretsFile(projectDir, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong password or corrupted")
}

func TestDecryptSecretsFileTruncated(t *testing.T) {
	projectDir := t.TempDir()
	dir := filepath.Join(projectDir, ProjectDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.json.enc"), []byte("short"), 0600))

	_, err := DecryptSecretsFile(projectDir, "any")
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models.Generator = "gpt-4o"
	cfg.Retrieval.TopK = 5

	path := filepath.Join(t.TempDir(), "nested", "qualgen.yaml")
	require.NoError(t, Save(&cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", loaded.Models.Generator)
	assert.Equal(t, 5, loaded.Retrieval.TopK)
}
