package domain

import "errors"

var (
	// ErrEventNotFound is returned when an event has no ledger row
	ErrEventNotFound = errors.New("event not found")

	// ErrJobNotLeasable is returned when a delivered job cannot be claimed
	// because the job is terminal or its row is gone
	ErrJobNotLeasable = errors.New("job not leasable: terminal or missing")

	// ErrJobLeased is returned when another worker holds a live lease on the
	// job. The delivery must not be dropped outright: the holder may have
	// died, so the caller schedules a recheck after the lease timeout.
	ErrJobLeased = errors.New("job lease held by another worker")

	// ErrRetriesExhausted is returned when a job has used up all attempts
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RetryableError wraps a transient routing failure whose job has been
// rescheduled for a later attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
