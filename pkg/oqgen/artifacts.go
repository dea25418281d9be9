package oqgen

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"qualgen/pkg/logx"
)

// WriteArtifacts renders the suite to suite-<id>.json and suite-<id>.yaml
// under outputDir and returns the JSON path. Both artifacts carry the
// same content; JSON is the machine-readable record, YAML the
// reviewer-friendly one.
func WriteArtifacts(suite *TestSuite, outputDir string) (string, error) {
	if err := logx.EnsureDir(outputDir); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	jsonPath := filepath.Join(outputDir, fmt.Sprintf("suite-%s.json", suite.SuiteID))
	jsonData, err := json.MarshalIndent(suite, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal suite JSON: %w", err)
	}
	if err := os.WriteFile(jsonPath, jsonData, 0644); err != nil { //nolint:gosec // Suite artifacts are not secret
		return "", fmt.Errorf("failed to write %s: %w", jsonPath, err)
	}

	yamlPath := filepath.Join(outputDir, fmt.Sprintf("suite-%s.yaml", suite.SuiteID))
	yamlData, err := yaml.Marshal(suite)
	if err != nil {
		return "", fmt.Errorf("failed to marshal suite YAML: %w", err)
	}
	if err := os.WriteFile(yamlPath, yamlData, 0644); err != nil { //nolint:gosec // Suite artifacts are not secret
		return "", fmt.Errorf("failed to write %s: %w", yamlPath, err)
	}

	return jsonPath, nil
}
