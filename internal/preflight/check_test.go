package preflight

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDataDir_CreatesAndWrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	c := New(Config{DataDir: dir})

	result := c.CheckDataDir()

	assert.Equal(t, StatusPass, result.Status)
	assert.True(t, result.Required)
	assert.DirExists(t, dir)
}

func TestCheckDiskSpace_PassesOnTempDir(t *testing.T) {
	c := New(Config{DataDir: t.TempDir()})

	result := c.CheckDiskSpace()

	// A CI temp dir always has more than the 100 MB floor.
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "free")
}

func TestCheckModel_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"qwen3-embedding:0.6b"},{"name":"qwen3:latest"}]}`))
	}))
	defer srv.Close()
	c := New(Config{DataDir: t.TempDir(), OllamaHost: srv.URL})

	result := c.CheckModel(context.Background(), "embedding_model", "qwen3-embedding:0.6b")

	assert.Equal(t, StatusPass, result.Status)
	assert.False(t, result.Required, "Provider checks must never block a build")
}

func TestCheckModel_NotPulled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:8b"}]}`))
	}))
	defer srv.Close()
	c := New(Config{DataDir: t.TempDir(), OllamaHost: srv.URL})

	result := c.CheckModel(context.Background(), "embedding_model", "qwen3-embedding:0.6b")

	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "ollama pull")
}

func TestCheckModel_Unreachable(t *testing.T) {
	c := New(Config{DataDir: t.TempDir(), OllamaHost: "http://127.0.0.1:1"})

	result := c.CheckModel(context.Background(), "embedding_model", "qwen3-embedding:0.6b")

	assert.Equal(t, StatusFail, result.Status)
	assert.False(t, result.IsCritical(), "Unreachable provider is not a critical failure")
}

func TestModelMatches_LatestTag(t *testing.T) {
	assert.True(t, modelMatches("qwen3:latest", "qwen3"))
	assert.True(t, modelMatches("qwen3", "qwen3:latest"))
	assert.True(t, modelMatches("qwen3:0.6b", "qwen3:0.6b"))
	assert.False(t, modelMatches("qwen3:0.6b", "qwen3:8b"))
}

func TestRunAll_SkipsDisabledProviders(t *testing.T) {
	c := New(Config{DataDir: t.TempDir()})

	results := c.RunAll(context.Background())

	require.Len(t, results, 2, "No provider probes without configured models")
	assert.Equal(t, "data_dir", results[0].Name)
	assert.Equal(t, "disk_space", results[1].Name)
	assert.False(t, HasCriticalFailures(results))
}

func TestPrintResults_Summary(t *testing.T) {
	buf := &bytes.Buffer{}
	PrintResults(buf, []CheckResult{
		{Name: "data_dir", Status: StatusPass, Message: "/tmp/x", Required: true},
		{Name: "embedding_model", Status: StatusWarn, Message: "model not pulled", Required: false},
	})

	output := buf.String()
	assert.Contains(t, output, "[PASS] data_dir")
	assert.Contains(t, output, "[WARN] embedding_model")
	assert.Contains(t, output, "READY (with warnings)")
}

func TestPrintResults_CriticalFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	PrintResults(buf, []CheckResult{
		{Name: "disk_space", Status: StatusFail, Message: "1.0 MB free", Required: true},
	})

	assert.Contains(t, buf.String(), "status: FAILED")
}
