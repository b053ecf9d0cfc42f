// Package answer turns ranked candidates into an answer payload under
// the no-evidence-no-claim contract: every claim is backed by verbatim
// evidence, and weak support produces a refusal or an explicit warning
// instead of a confident guess.
package answer

import (
	"context"
	"log/slog"

	"github.com/citegrep/citegrep/internal/search"
	"github.com/citegrep/citegrep/internal/store"
)

// State is the assembly state machine position. REFUSED and
// ANSWER_FINAL are the only terminal states.
type State string

const (
	StateQueryReceived        State = "QUERY_RECEIVED"
	StateRetrieved            State = "RETRIEVED"
	StateEvidenceSufficient   State = "EVIDENCE_SUFFICIENT"
	StateEvidenceInsufficient State = "EVIDENCE_INSUFFICIENT"
	StateNoEvidence           State = "NO_EVIDENCE"
	StateAnswerFinal          State = "ANSWER_FINAL"
	StateRefused              State = "REFUSED"
)

// WarnInsufficientEvidence flags answers whose every candidate scored
// below the confidence floor.
const WarnInsufficientEvidence = "INSUFFICIENT_EVIDENCE"

// RefusalText is the explicit refusal statement for the REFUSED state.
const RefusalText = "No supporting evidence was found in the indexed sources for this question. " +
	"Refusing to answer rather than guessing."

// Evidence pairs a ranked candidate with its resolved chunk, so the
// caller can verify every claim against the verbatim source text.
type Evidence struct {
	Candidate *search.Candidate `json:"candidate"`
	Chunk     *store.Chunk      `json:"chunk"`
}

// AnswerPayload is the final response for an ask-style query.
// Constructed fresh per query, immutable once returned.
type AnswerPayload struct {
	AnswerText     string           `json:"answer_text,omitempty"`
	Evidence       []*Evidence      `json:"evidence"`
	Warnings       []search.Warning `json:"warnings,omitempty"`
	RootRef        string           `json:"root_ref"`
	ResolvedCommit string           `json:"resolved_commit"`
	State          State            `json:"state"`
}

// Summarizer is an optional capability: it may phrase and compress the
// selected evidence but is never trusted to introduce facts. The raw
// evidence list is always returned alongside its output.
type Summarizer interface {
	Summarize(ctx context.Context, question string, evidence []*Evidence) (string, error)
}

// Config holds the assembly thresholds.
type Config struct {
	// ConfidenceFloor is the combined-score threshold below which an
	// answer is annotated with an insufficient-evidence warning.
	ConfidenceFloor float64

	// MaxEvidence bounds the evidence list after deduplication.
	MaxEvidence int
}

// DefaultConfig returns the default assembly configuration.
func DefaultConfig() Config {
	return Config{
		ConfidenceFloor: 0.25,
		MaxEvidence:     5,
	}
}

// Assembler builds answer payloads from ranked candidates.
type Assembler struct {
	config     Config
	summarizer Summarizer
}

// Option configures the assembler.
type Option func(*Assembler)

// WithSummarizer attaches the optional summarizer capability.
func WithSummarizer(s Summarizer) Option {
	return func(a *Assembler) {
		a.summarizer = s
	}
}

// NewAssembler creates an assembler.
func NewAssembler(cfg Config, opts ...Option) *Assembler {
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = DefaultConfig().MaxEvidence
	}
	a := &Assembler{config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble runs the state machine over a retrieval result. chunks maps
// chunk_id to the resolved chunk record; candidates without a resolved
// chunk are dropped (they cannot back a claim).
func (a *Assembler) Assemble(ctx context.Context, question string, result *search.Result,
	chunks map[string]*store.Chunk, rootRef, resolvedCommit string) *AnswerPayload {

	payload := &AnswerPayload{
		Evidence:       []*Evidence{},
		Warnings:       result.Warnings,
		RootRef:        rootRef,
		ResolvedCommit: resolvedCommit,
		State:          StateRetrieved,
	}

	evidence := a.selectEvidence(result.Candidates, chunks)
	if len(evidence) == 0 {
		slog.Info("refusing: no evidence",
			slog.String("question", question),
			slog.String("root_ref", rootRef),
			slog.String("resolved_commit", resolvedCommit))
		payload.State = StateRefused
		payload.AnswerText = RefusalText
		return payload
	}

	payload.Evidence = evidence
	if a.allBelowFloor(evidence) {
		payload.State = StateEvidenceInsufficient
		payload.Warnings = append(payload.Warnings, search.Warning{
			Code:    WarnInsufficientEvidence,
			Message: "all evidence scored below the confidence floor; verify before relying on this answer",
		})
	} else {
		payload.State = StateEvidenceSufficient
	}

	if a.summarizer != nil {
		text, err := a.summarizer.Summarize(ctx, question, evidence)
		if err != nil {
			slog.Warn("summarizer failed, returning evidence without summary",
				slog.String("error", err.Error()))
			payload.Warnings = append(payload.Warnings, search.Warning{
				Code:    search.WarnProviderUnavailable,
				Message: "summarizer unavailable, raw evidence returned without summary",
			})
		} else {
			payload.AnswerText = text
		}
	}

	payload.State = StateAnswerFinal
	return payload
}

// selectEvidence deduplicates candidates whose line ranges overlap
// within the same file, keeping the highest-scoring, then resolves
// chunk data and truncates to the evidence bound.
func (a *Assembler) selectEvidence(candidates []*search.Candidate, chunks map[string]*store.Chunk) []*Evidence {
	var evidence []*Evidence
	for _, c := range candidates {
		chunk, ok := chunks[c.ChunkID]
		if !ok {
			continue
		}
		if overlapsRetained(evidence, chunk) {
			continue
		}
		evidence = append(evidence, &Evidence{Candidate: c, Chunk: chunk})
		if len(evidence) == a.config.MaxEvidence {
			break
		}
	}
	return evidence
}

// overlapsRetained reports whether the chunk's line range overlaps an
// already retained chunk in the same file. The comparison uses the
// resolved chunk records: candidates that came in through semantic
// retrieval alone carry no lexical file metadata of their own.
// Candidates arrive in rank order, so the retained one always scores
// at least as high.
func overlapsRetained(evidence []*Evidence, chunk *store.Chunk) bool {
	for _, e := range evidence {
		r := e.Chunk
		if r.FilePath != chunk.FilePath {
			continue
		}
		if chunk.StartLine <= r.EndLine && chunk.EndLine >= r.StartLine {
			return true
		}
	}
	return false
}

func (a *Assembler) allBelowFloor(evidence []*Evidence) bool {
	if a.config.ConfidenceFloor <= 0 {
		return false
	}
	for _, e := range evidence {
		if e.Candidate.CombinedScore >= a.config.ConfidenceFloor {
			return false
		}
	}
	return true
}
