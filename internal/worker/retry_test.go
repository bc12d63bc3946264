package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelaySequence(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:   1000 * time.Millisecond,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 5,
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}

	for i, expected := range want {
		assert.Equal(t, expected, policy.NextDelay(i), "attempt index %d", i)
	}
}

func TestNextDelayCapped(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:   10 * time.Second,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 10,
	}

	// 10s * 2^9 = 5120s, capped
	assert.Equal(t, 60*time.Second, policy.NextDelay(9))
}

func TestNextDelayNegativeIndex(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, policy.BaseDelay, policy.NextDelay(-3))
}

func TestNextDelayShiftOverflow(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 100,
	}

	assert.Equal(t, 60*time.Second, policy.NextDelay(80))
}

func TestExhausted(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxAttempts: 5}

	assert.False(t, policy.Exhausted(0))
	assert.False(t, policy.Exhausted(4))
	assert.True(t, policy.Exhausted(5))
	assert.True(t, policy.Exhausted(6))
}
