package oqgen

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"qualgen/pkg/gamp"
)

func TestWriteArtifacts(t *testing.T) {
	suite := buildSuite(gamp.CategoryInfrastructure, 3)
	suite.SuiteID = "abc123"

	outputDir := filepath.Join(t.TempDir(), "output")
	jsonPath, err := WriteArtifacts(suite, outputDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outputDir, "suite-abc123.json"), jsonPath)

	// The JSON artifact round-trips to the same suite.
	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var fromJSON TestSuite
	require.NoError(t, json.Unmarshal(raw, &fromJSON))
	assert.Equal(t, suite.SuiteID, fromJSON.SuiteID)
	assert.Len(t, fromJSON.TestCases, len(suite.TestCases))

	// The YAML artifact carries the same content.
	raw, err = os.ReadFile(filepath.Join(outputDir, "suite-abc123.yaml"))
	require.NoError(t, err)
	var fromYAML TestSuite
	require.NoError(t, yaml.Unmarshal(raw, &fromYAML))
	assert.Equal(t, suite.GAMPCategory, fromYAML.GAMPCategory)
	assert.Len(t, fromYAML.TestCases, len(suite.TestCases))
}
