package task

import (
	"errors"
	"fmt"
)

// Task execution errors.
var (
	// ErrUnknownTaskType is returned by the registry when a task type has
	// no registered handler. Registration is validated at startup, so in
	// a correctly assembled process this never fires at dispatch time.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrRegistrySealed is returned when registering a handler after the
	// registry has been sealed.
	ErrRegistrySealed = errors.New("handler registry is sealed")

	// ErrDuplicateHandler is returned when two handlers claim one task type.
	ErrDuplicateHandler = errors.New("handler already registered for task type")

	// ErrQueueMissingCatchAll is returned when a binding table has no
	// catch-all default.
	ErrQueueMissingCatchAll = errors.New("queue binding table has no catch-all binding")
)

// TransientError marks a failure worth retrying: timeouts, lock
// contention, transient network failure. Handlers wrap such failures with
// Transient (or return context deadline errors, which classify the same
// way).
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError marks a failure that retrying cannot fix: validation
// failure, business-rule rejection. Permanent failures go straight to the
// dead letter queue.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent classifies an execution failure. Explicitly permanent
// failures dead-letter immediately. Timeouts are transient by contract,
// and unclassified errors default to transient: misreading a transient
// outage as permanent loses work, while the reverse only delays
// dead-lettering until the retry bound.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
