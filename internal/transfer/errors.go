package transfer

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Kind classifies a transfer failure so the engine can decide whether to
// retry, fail immediately, or treat it as an internal bookkeeping event
// that never reaches the caller.
type Kind int

const (
	// KindTransientNetwork covers timeouts, 5xx, 408, 429, and reset
	// connections — retried with exponential backoff before failing.
	KindTransientNetwork Kind = iota
	// KindPermanentServer covers non-retryable 4xx, redirect loops, and
	// a missing Content-Length when ranges were advertised.
	KindPermanentServer
	// KindLocalIO covers disk full, permission denied, and invalid paths.
	KindLocalIO
	// KindStateMismatch means the sidecar URL didn't match the job URL;
	// handled internally (restart from offset 0), never surfaced.
	KindStateMismatch
	// KindCancelled means the user cancelled the job.
	KindCancelled
	// KindIncomplete means fewer bytes arrived than TotalBytes promised.
	KindIncomplete
)

// Error wraps an underlying cause with a Kind so callers can branch on
// retry policy without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func transientErr(msg string, cause error) *Error { return newErr(KindTransientNetwork, msg, cause) }
func permanentErr(msg string, cause error) *Error { return newErr(KindPermanentServer, msg, cause) }

// localIOErr classifies cause so the message always starts with
// "Permission denied" or "Disk full" when that's what happened,
// per spec.md §7 ("so the UI can render actionable text").
func localIOErr(msg string, cause error) *Error {
	switch {
	case cause != nil && os.IsPermission(cause):
		return newErr(KindLocalIO, "Permission denied: "+msg, cause)
	case cause != nil && isDiskFull(cause):
		return newErr(KindLocalIO, "Disk full: "+msg, cause)
	default:
		return newErr(KindLocalIO, msg, cause)
	}
}

// isDiskFull matches the OS-specific "out of space" wording since
// neither os nor syscall expose a portable errno check across
// Linux/macOS/Windows.
func isDiskFull(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no space left on device") ||
		strings.Contains(msg, "not enough space") ||
		strings.Contains(msg, "disk full")
}

// ErrCancelled is reported when a job is stopped by explicit user action.
var ErrCancelled = newErr(KindCancelled, "Cancelled by user", nil)

// Incomplete builds the Kind-Incomplete error for a job that ended with
// fewer bytes than promised; the sidecar is always preserved for this kind.
func Incomplete(received, total int64) *Error {
	return newErr(KindIncomplete, fmt.Sprintf("Download incomplete: %d/%d bytes received. Resume data saved.", received, total), nil)
}

// IsKind reports whether err (or something it wraps) is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == k
	}
	return false
}
