// Package errs defines the sentinel error kinds surfaced by the coordination
// engine, one per row of the error-handling table: each is designed to be
// matched with errors.Is after being wrapped with fmt.Errorf("...: %w", ...).
package errs

import "errors"

var (
	// ErrMalformedTemplate is returned when a template cannot be parsed:
	// an unterminated hole or quack tag, or overlapping tokens.
	ErrMalformedTemplate = errors.New("malformed template")

	// ErrUnboundVariable is returned by Render when a hole has no binding
	// and no default.
	ErrUnboundVariable = errors.New("unbound variable")

	// ErrMountUnavailable is returned when the shared root cannot be read
	// or written. Non-fatal: the watch loop keeps running and retries.
	ErrMountUnavailable = errors.New("shared mount unavailable")

	// ErrManifestConflict is returned when a compare-and-swap write loses
	// the race: the peer's checksum changed between read and rename.
	ErrManifestConflict = errors.New("manifest conflict")

	// ErrConvergenceRetryExhausted is returned after three failed CAS
	// retries on the same entry.
	ErrConvergenceRetryExhausted = errors.New("convergence retry exhausted")

	// ErrBeforeHookFailed is returned when an entry's before-hook exits
	// non-zero; the apply is aborted before any write.
	ErrBeforeHookFailed = errors.New("before hook failed")

	// ErrAfterHookFailed is returned when an entry's after-hook exits
	// non-zero; the write has already committed and is not rolled back.
	ErrAfterHookFailed = errors.New("after hook failed")

	// ErrIOError wraps filesystem read/write/rename failures not covered
	// by a more specific sentinel above.
	ErrIOError = errors.New("io error")

	// ErrAnnotatorUnavailable is returned by the annotator client on
	// timeout or non-2xx response; callers fall back silently.
	ErrAnnotatorUnavailable = errors.New("annotator unavailable")
)
