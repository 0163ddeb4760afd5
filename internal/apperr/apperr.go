// Package apperr defines the error taxonomy shared across the
// orchestrator: callers compare with errors.Is rather than matching
// strings.
package apperr

import "errors"

var (
	// ErrNotConfigured means model credentials or endpoint are missing.
	// The caller must refuse the turn before creating a session.
	ErrNotConfigured = errors.New("apperr: not configured")

	// ErrInvalidRequest means the input was malformed; refuse before
	// creating a session.
	ErrInvalidRequest = errors.New("apperr: invalid request")

	// ErrNotFound means the session id is unknown.
	ErrNotFound = errors.New("apperr: not found")

	// ErrConflict means a continuation was attempted on a running session.
	ErrConflict = errors.New("apperr: conflict")

	// ErrTransientStore means a single Store append or read failed but is
	// recoverable; callers may retry best-effort.
	ErrTransientStore = errors.New("apperr: transient store failure")

	// ErrModel means the model provider returned an error. This is fatal
	// to the current turn.
	ErrModel = errors.New("apperr: model failure")

	// ErrCancelled is not a failure; it signals normal cancelled
	// termination of a run.
	ErrCancelled = errors.New("apperr: cancelled")

	// ErrWorkerDeath is observed only by the Resumable Reader's
	// stale-session probe: a stuck running session is converted to error.
	ErrWorkerDeath = errors.New("apperr: worker death (timed out)")
)

// Fatal wraps err with a message while preserving errors.Is matching
// against one of the sentinels above.
type Fatal struct {
	Op  string
	Err error
}

func (e *Fatal) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Fatal) Unwrap() error { return e.Err }

// Wrap annotates err with an operation name, preserving its identity for
// errors.Is/errors.As.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Fatal{Op: op, Err: err}
}
