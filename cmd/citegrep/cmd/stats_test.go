package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCmd_Empty(t *testing.T) {
	// Given: a fresh data directory
	t.Setenv("CITEGREP_EMBEDDINGS_PROVIDER", "none")

	// When: running stats
	output, err := runCLI(t, "--data-dir", t.TempDir(), "stats")

	// Then: it reports no recorded queries
	require.NoError(t, err)
	assert.Contains(t, output, "no recorded queries")
}

func TestStatsCmd_AfterQueries(t *testing.T) {
	// Given: an indexed version with a few queries run against it
	t.Setenv("CITEGREP_EMBEDDINGS_PROVIDER", "none")
	dataDir := t.TempDir()
	_, err := runCLI(t, "--data-dir", dataDir, "index", "--no-embed", writeChunksJSONL(t))
	require.NoError(t, err)
	_, err = runCLI(t, "--data-dir", dataDir, "query", "--ref", cliTestRef, "TTree", "Draw")
	require.NoError(t, err)
	_, err = runCLI(t, "--data-dir", dataDir, "query", "--ref", cliTestRef, "TotallyFakeClass")
	require.NoError(t, err)

	// When: running stats
	output, err := runCLI(t, "--data-dir", dataDir, "stats")

	// Then: the summary reflects both queries, including the miss
	require.NoError(t, err)
	assert.Contains(t, output, "2 queries recorded")
	assert.Contains(t, output, "mode lexical")
	assert.Contains(t, output, "TotallyFakeClass")
}
