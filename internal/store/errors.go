package store

import (
	"errors"

	"github.com/krellgit/claude-autonomy-tracker/internal/db"
)

// Error wraps a failed store operation. Retryable is set when the
// underlying failure is transient (deadlock, lost connection, timeout).
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err wraps a retryable store failure.
func IsRetryable(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Retryable
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err, Retryable: db.Classify(err)}
}
