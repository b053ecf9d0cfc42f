package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctorCmd_ReadyWithoutProviders(t *testing.T) {
	// Given: provider and summarizer disabled
	t.Setenv("CITEGREP_EMBEDDINGS_PROVIDER", "none")

	// When: running doctor
	output, err := runCLI(t, "--data-dir", t.TempDir(), "doctor")

	// Then: only environment checks run and everything passes
	require.NoError(t, err)
	assert.Contains(t, output, "[PASS] data_dir")
	assert.Contains(t, output, "[PASS] disk_space")
	assert.Contains(t, output, "status: READY")
	assert.NotContains(t, output, "embedding_model", "No provider probe when disabled")
}

func TestDoctorCmd_JSONOutput(t *testing.T) {
	// Given: provider disabled
	t.Setenv("CITEGREP_EMBEDDINGS_PROVIDER", "none")

	// When: running doctor --json
	output, err := runCLI(t, "--data-dir", t.TempDir(), "doctor", "--json")

	// Then: the results decode
	require.NoError(t, err)
	var results []struct {
		Name     string `json:"name"`
		Required bool   `json:"required"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "data_dir", results[0].Name)
	assert.True(t, results[0].Required)
}
