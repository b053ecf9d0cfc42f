// Package preflight validates the environment before index builds:
// data directory, disk space, and provider reachability. Failed
// required checks should stop a build early instead of aborting it
// halfway through.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Config tells the checker what to probe.
type Config struct {
	// DataDir is the citegrep data directory (chunk store, index builds).
	DataDir string

	// OllamaHost is probed when an embedding or summarizer model is set.
	OllamaHost string

	// EmbedModel is the embedding model expected on the provider.
	// Empty means semantic retrieval is disabled and the probe is skipped.
	EmbedModel string

	// SummarizerModel is the generation model expected on the provider.
	// Empty means summarization is disabled and the probe is skipped.
	SummarizerModel string
}

// Checker runs environment checks against a Config.
type Checker struct {
	config Config
}

// New creates a Checker.
func New(cfg Config) *Checker {
	return &Checker{config: cfg}
}

// RunAll runs every applicable check. Provider probes are skipped when
// no model is configured.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{
		c.CheckDataDir(),
		c.CheckDiskSpace(),
	}
	if c.config.EmbedModel != "" {
		results = append(results, c.CheckModel(ctx, "embedding_model", c.config.EmbedModel))
	}
	if c.config.SummarizerModel != "" {
		results = append(results, c.CheckModel(ctx, "summarizer_model", c.config.SummarizerModel))
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// PrintResults writes the check results in doctor format.
func PrintResults(w io.Writer, results []CheckResult) {
	for _, r := range results {
		fmt.Fprintf(w, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
	}
	if HasCriticalFailures(results) {
		fmt.Fprintln(w, "\nstatus: FAILED")
		return
	}
	for _, r := range results {
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			fmt.Fprintln(w, "\nstatus: READY (with warnings)")
			return
		}
	}
	fmt.Fprintln(w, "\nstatus: READY")
}

// CheckDataDir verifies the data directory exists (creating it if
// needed) and is writable.
func (c *Checker) CheckDataDir() CheckResult {
	result := CheckResult{
		Name:     "data_dir",
		Required: true,
	}

	if err := os.MkdirAll(c.config.DataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", c.config.DataDir, err)
		return result
	}

	probe := filepath.Join(c.config.DataDir, ".citegrep-preflight")
	f, err := os.Create(probe)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("not writable: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(probe)

	result.Status = StatusPass
	result.Message = c.config.DataDir
	return result
}
