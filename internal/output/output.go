// Package output renders query results, evidence and status messages
// for the CLI. Evidence rendering always shows provenance (file, line
// range, version) next to the verbatim excerpt.
package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/citegrep/citegrep/internal/answer"
	"github.com/citegrep/citegrep/internal/search"
	"github.com/citegrep/citegrep/internal/service"
	"github.com/citegrep/citegrep/internal/telemetry"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out io.Writer
}

// New creates a Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a plain status line.
func (w *Writer) Status(msg string) {
	_, _ = fmt.Fprintln(w.out, msg)
}

// Statusf prints a formatted status line.
func (w *Writer) Statusf(format string, args ...any) {
	w.Status(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(code, msg string) {
	_, _ = fmt.Fprintf(w.out, "warning [%s]: %s\n", code, msg)
}

// Candidates renders one version's ranked candidate list.
func (w *Writer) Candidates(result *service.QueryResult) {
	_, _ = fmt.Fprintf(w.out, "%s @ %s (mode: %s)\n",
		result.RootRef, shortCommit(result.ResolvedCommit), result.ModeUsed)
	for _, warning := range result.Warnings {
		w.Warning(warning.Code, warning.Message)
	}
	if len(result.Candidates) == 0 {
		w.Status("no candidates")
		return
	}

	tw := tabwriter.NewWriter(w.out, 2, 4, 2, ' ', 0)
	for _, c := range result.Candidates {
		symbol := c.SymbolPath
		if symbol == "" {
			symbol = "-"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%.4f\t%s:%d-%d\t%s\t%s\n",
			c.Rank, c.CombinedScore, c.FilePath, c.StartLine, c.EndLine,
			symbol, strings.Join(sourceModes(c), "+"))
	}
	_ = tw.Flush()
}

// VersionResults renders a multi-version query, one section per ref.
func (w *Writer) VersionResults(results []*service.VersionResult) {
	for i, vr := range results {
		if i > 0 {
			w.Status("")
		}
		if vr.Err != nil {
			_, _ = fmt.Fprintf(w.out, "%s: %s\n", vr.RootRef, vr.Err.Error())
			continue
		}
		w.Candidates(vr.Result)
	}
}

// Answer renders an answer payload: summary (if any), then the
// verbatim evidence blocks.
func (w *Writer) Answer(payload *answer.AnswerPayload) {
	for _, warning := range payload.Warnings {
		w.Warning(warning.Code, warning.Message)
	}

	if payload.State == answer.StateRefused {
		w.Status(payload.AnswerText)
		return
	}
	if payload.AnswerText != "" {
		w.Status(payload.AnswerText)
		w.Status("")
	}

	// Provenance comes from the resolved chunk: semantic-only candidates
	// carry none of their own.
	for i, e := range payload.Evidence {
		_, _ = fmt.Fprintf(w.out, "[%d] %s:%d-%d @ %s/%s\n",
			i+1, e.Chunk.FilePath, e.Chunk.StartLine, e.Chunk.EndLine,
			payload.RootRef, shortCommit(payload.ResolvedCommit))
		for _, line := range strings.Split(e.Chunk.Content, "\n") {
			_, _ = fmt.Fprintf(w.out, "    %s\n", line)
		}
	}
}

// Versions renders the indexed version table.
func (w *Writer) Versions(infos []*service.VersionInfo) {
	if len(infos) == 0 {
		w.Status("no indexed versions")
		return
	}
	tw := tabwriter.NewWriter(w.out, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "REF\tCOMMIT\tCHUNKS\tMODES\tCURRENT\tBUILT")
	for _, info := range infos {
		current := ""
		if info.Current {
			current = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			info.RootRef, shortCommit(info.ResolvedCommit), info.ChunkCount,
			strings.Join(info.Modes, ","), current,
			info.BuiltAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

// Stats renders the local query statistics summary.
func (w *Writer) Stats(summary *telemetry.Summary) {
	if summary.TotalQueries == 0 {
		w.Status("no recorded queries")
		return
	}
	w.Statusf("%d queries recorded", summary.TotalQueries)

	modes := make([]string, 0, len(summary.ByMode))
	for mode := range summary.ByMode {
		modes = append(modes, mode)
	}
	sort.Strings(modes)

	tw := tabwriter.NewWriter(w.out, 2, 4, 2, ' ', 0)
	for _, mode := range modes {
		_, _ = fmt.Fprintf(tw, "mode %s\t%d\n", mode, summary.ByMode[mode])
	}
	for _, bucket := range []telemetry.LatencyBucket{
		telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100,
		telemetry.BucketP500, telemetry.BucketP1000,
	} {
		if count, ok := summary.LatencyBuckets[bucket]; ok {
			_, _ = fmt.Fprintf(tw, "latency %s\t%d\n", bucket, count)
		}
	}
	_ = tw.Flush()

	if len(summary.ZeroResults) > 0 {
		w.Status("")
		w.Statusf("%d queries with no results (most recent first):", len(summary.ZeroResults))
		for _, z := range summary.ZeroResults {
			_, _ = fmt.Fprintf(w.out, "  %s: %s\n", z.RootRef, z.Query)
		}
	}
}

func sourceModes(c *search.Candidate) []string {
	modes := make([]string, len(c.SourceModes))
	for i, m := range c.SourceModes {
		modes[i] = string(m)
	}
	return modes
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
