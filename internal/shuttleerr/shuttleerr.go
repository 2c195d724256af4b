// Package shuttleerr defines the closed set of error kinds the rest of
// Shuttle checks with errors.Is/errors.As to decide exit codes and
// Supervisor state transitions.
package shuttleerr

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error categories from the design.
type Kind int

const (
	// KindPreflight covers lock contention, bad config, and an
	// unattested scanner version. Fatal before any file is touched.
	KindPreflight Kind = iota
	// KindThrottled means a space or volume ceiling was hit.
	KindThrottled
	// KindScanTimeout is a per-file scan timeout after retries are exhausted.
	KindScanTimeout
	// KindScanFailed is an unparseable or unknown scanner result.
	KindScanFailed
	// KindIntegrityMismatch is a post-move hash mismatch.
	KindIntegrityMismatch
	// KindEncryptionFailed is a failed hazard-archive encryption.
	KindEncryptionFailed
	// KindIO is a generic filesystem I/O failure, scoped to one file.
	KindIO
	// KindCircuitBreaker means the orchestrator tripped its breaker.
	KindCircuitBreaker
)

func (k Kind) String() string {
	switch k {
	case KindPreflight:
		return "preflight"
	case KindThrottled:
		return "throttled"
	case KindScanTimeout:
		return "scan_timeout"
	case KindScanFailed:
		return "scan_failed"
	case KindIntegrityMismatch:
		return "integrity_mismatch"
	case KindEncryptionFailed:
		return "encryption_failed"
	case KindIO:
		return "io_error"
	case KindCircuitBreaker:
		return "circuit_breaker"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// category without string matching.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == kind
}

// Exit codes, one distinct nonzero code per failure category so a
// caller can branch on process exit status alone.
const (
	ExitOK              = 0
	ExitPreflightFailed = 10
	ExitThrottled       = 20
	ExitCircuitBreaker  = 30
)

// ExitCodeFor maps a terminal run error to its process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	switch {
	case Is(err, KindPreflight):
		return ExitPreflightFailed
	case Is(err, KindThrottled):
		return ExitThrottled
	case Is(err, KindCircuitBreaker):
		return ExitCircuitBreaker
	default:
		return ExitPreflightFailed
	}
}
