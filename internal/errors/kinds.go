// Package errors provides structured error handling for citegrep.
//
// Every error that crosses the core boundary carries a Kind from the
// stable vocabulary below. Callers map kinds to exit codes or HTTP
// statuses; the core never decides the numeric encoding.
package errors

// Kind classifies an error for outward-facing handling.
type Kind string

const (
	// KindVersionNotFound means the requested root_ref has no resolved
	// build. Fatal to the query, never retried.
	KindVersionNotFound Kind = "VERSION_NOT_FOUND"

	// KindIndexNotFound means a build exists but lacks the requested
	// mode's index (e.g. hybrid requested, no vector index). Recovered
	// by falling back to lexical-only with a warning.
	KindIndexNotFound Kind = "INDEX_NOT_FOUND"

	// KindNoEvidence means zero candidates from any enabled mode. This
	// is the expected trigger for the REFUSED terminal state, not an
	// exceptional condition.
	KindNoEvidence Kind = "NO_EVIDENCE"

	// KindInsufficientEvidence means candidates exist but all score
	// below the confidence floor. The answer is still produced,
	// annotated with a warning.
	KindInsufficientEvidence Kind = "INSUFFICIENT_EVIDENCE"

	// KindProviderUnavailable means the semantic backend is unreachable.
	// Recovered locally by degrading to the lexical path.
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"

	// KindChunkIntegrityConflict means the same chunk_id arrived with a
	// differing content hash during a build. Fatal at build time; must
	// never surface at query time.
	KindChunkIntegrityConflict Kind = "CHUNK_INTEGRITY_CONFLICT"

	// KindValidation means a chunk record or request failed validation.
	KindValidation Kind = "VALIDATION"

	// KindInternal is an unexpected internal failure.
	KindInternal Kind = "INTERNAL"
)

// Retryable reports whether errors of this kind may be retried.
// Only provider unavailability is transient; everything else is either
// permanent or handled by degradation rather than retry.
func (k Kind) Retryable() bool {
	return k == KindProviderUnavailable
}

// Fatal reports whether errors of this kind must abort the current
// operation rather than degrade it.
func (k Kind) Fatal() bool {
	switch k {
	case KindVersionNotFound, KindChunkIntegrityConflict, KindValidation:
		return true
	default:
		return false
	}
}
