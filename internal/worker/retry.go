package worker

import "time"

// RetryPolicy maps an attempt index to the delay before the next attempt.
// Pure exponential: BaseDelay * 2^attemptIndex, capped at MaxDelay. Every
// routing failure is retryable under this policy until MaxAttempts is
// reached; there is no permanent-error fast path.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy returns the 5-attempt policy with 1s base delay
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 5,
	}
}

// NextDelay returns the delay to schedule after the attempt at the given
// zero-based index fails.
func (p RetryPolicy) NextDelay(attemptIndex int) time.Duration {
	if attemptIndex < 0 {
		attemptIndex = 0
	}

	delay := p.BaseDelay << uint(attemptIndex)

	// shift overflow or configured ceiling
	if delay <= 0 || (p.MaxDelay > 0 && delay > p.MaxDelay) {
		delay = p.MaxDelay
	}

	return delay
}

// Exhausted reports whether a job with the given number of finished
// attempts has no attempts left.
func (p RetryPolicy) Exhausted(attemptsMade int) bool {
	return attemptsMade >= p.MaxAttempts
}
