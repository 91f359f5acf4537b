// Package errs defines the tagged error taxonomy shared by the store,
// orchestrator, and evaluators (spec §7). Errors are tagged records, not
// strings: classification is a property of the sentinel/type, never of
// string matching.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Wrap with fmt.Errorf("...: %w", Err...) for context and
// recover with errors.Is / errors.As.
var (
	// ErrConfiguration marks a missing key or invalid model id. Not
	// recoverable; the orchestrator fails fast.
	ErrConfiguration = errors.New("configuration error")

	// ErrExtraction marks a per-file parse failure. The extraction executor
	// records it and continues with the remaining files.
	ErrExtraction = errors.New("extraction error")

	// ErrMaxTokens marks a generation that was truncated by the provider's
	// token limit. Never retried — it is a configuration problem.
	ErrMaxTokens = errors.New("max tokens exceeded")

	// ErrContentFilter marks a provider-side content filter rejection.
	// Retried up to 2 times.
	ErrContentFilter = errors.New("content filtered")

	// ErrModelTimeout marks a remote call that exceeded its per-call
	// deadline. Recorded as a per-item failure.
	ErrModelTimeout = errors.New("model call timed out")

	// ErrInvalidResponse marks a response that failed JSON parsing. A
	// best-effort repair is attempted before this is raised.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrSelfJudging marks an attempt to have a judge evaluate its own
	// family's summary. Refused up front by the judge selector.
	ErrSelfJudging = errors.New("judge may not evaluate its own family")

	// ErrInsufficientDistractors marks a target whose language cohort is
	// too small to build a meaningful distractor set.
	ErrInsufficientDistractors = errors.New("insufficient distractors")

	// ErrInsufficientJudges marks a generator for which fewer than
	// minJudges eligible judges remain after excluding same-family judges.
	ErrInsufficientJudges = errors.New("insufficient judges")

	// ErrStorage marks a database failure or corrupted row. Not
	// recoverable; the orchestrator marks the run failed.
	ErrStorage = errors.New("storage error")

	// ErrCorruptedData marks a row whose serialized payload failed to
	// deserialize. Carries the offending row id via CorruptedDataError.
	ErrCorruptedData = errors.New("corrupted data")

	// ErrInvalidPhaseTransition marks an attempted transition the state
	// machine's dependency graph disallows. A programmer error.
	ErrInvalidPhaseTransition = errors.New("invalid phase transition")
)

// Kind is the closed classification used to decide whether an error is
// retryable, fatal, or per-item.
type Kind string

// Kind values, mirroring spec §7's table.
const (
	KindConfiguration  Kind = "configuration"
	KindExtraction     Kind = "extraction"
	KindRateLimit      Kind = "rate_limit"
	KindMaxTokens      Kind = "max_tokens"
	KindContentFilter  Kind = "content_filter"
	KindModelTimeout   Kind = "model_timeout"
	KindInvalidResponse Kind = "invalid_response"
	KindSelfJudging    Kind = "self_judging"
	KindInsufficient   Kind = "insufficient"
	KindStorage        Kind = "storage"
	KindInvalidPhase   Kind = "invalid_phase_transition"
	KindUnknown        Kind = "unknown"
)

// RateLimitError carries an optional provider-supplied retry-after hint.
type RateLimitError struct {
	RetryAfterMS int64
}

func (e *RateLimitError) Error() string {
	if e.RetryAfterMS > 0 {
		return fmt.Sprintf("rate limited, retry after %dms", e.RetryAfterMS)
	}
	return "rate limited"
}

// RetryAfter returns the provider hint as a Duration, or zero if absent.
func (e *RateLimitError) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterMS) * time.Millisecond
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// CorruptedDataError names the offending row for a deserialization failure.
type CorruptedDataError struct {
	Table string
	RowID string
	Err   error
}

func (e *CorruptedDataError) Error() string {
	return fmt.Sprintf("corrupted row %s in %s: %v", e.RowID, e.Table, e.Err)
}

func (e *CorruptedDataError) Unwrap() error { return e.Err }

// Classify maps an error to its Kind by sentinel/type, never by string
// matching, so retry/fatal/per-item behavior is a property of the error
// value rather than its message.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrExtraction):
		return KindExtraction
	case IsRateLimit(err):
		return KindRateLimit
	case errors.Is(err, ErrMaxTokens):
		return KindMaxTokens
	case errors.Is(err, ErrContentFilter):
		return KindContentFilter
	case errors.Is(err, ErrModelTimeout):
		return KindModelTimeout
	case errors.Is(err, ErrInvalidResponse):
		return KindInvalidResponse
	case errors.Is(err, ErrSelfJudging):
		return KindSelfJudging
	case errors.Is(err, ErrInsufficientDistractors), errors.Is(err, ErrInsufficientJudges):
		return KindInsufficient
	case errors.Is(err, ErrStorage), errors.Is(err, ErrCorruptedData):
		return KindStorage
	case errors.Is(err, ErrInvalidPhaseTransition):
		return KindInvalidPhase
	default:
		return KindUnknown
	}
}

// Retryable reports whether an error of this kind should be retried by the
// caller (the evaluator), as opposed to being recorded as a per-item
// failure or propagated as phase-fatal.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimit, KindContentFilter:
		return true
	default:
		return false
	}
}

// Fatal reports whether an error of this kind should abort the phase (and
// the run), as opposed to accumulating in PhaseResult.Failures.
func (k Kind) Fatal() bool {
	switch k {
	case KindConfiguration, KindStorage, KindInvalidPhase:
		return true
	default:
		return false
	}
}
