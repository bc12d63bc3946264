package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/event-router/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeQueue struct {
	job      *domain.Job
	claimErr error

	acked      []string
	nacked     []nackCall
	failed     []string
	rechecked  []string
	ackErr     error
	nackErr    error
	recheckErr error
}

type nackCall struct {
	eventID string
	delay   time.Duration
}

func (q *fakeQueue) Claim(ctx context.Context, eventID, workerID string) (*domain.Job, error) {
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	return q.job, nil
}

func (q *fakeQueue) Ack(ctx context.Context, eventID string) error {
	q.acked = append(q.acked, eventID)
	return q.ackErr
}

func (q *fakeQueue) Nack(ctx context.Context, eventID string, delay time.Duration) error {
	q.nacked = append(q.nacked, nackCall{eventID: eventID, delay: delay})
	return q.nackErr
}

func (q *fakeQueue) MoveToFailed(ctx context.Context, eventID, reason string) error {
	q.failed = append(q.failed, eventID)
	return nil
}

func (q *fakeQueue) Recheck(ctx context.Context, eventID string) error {
	q.rechecked = append(q.rechecked, eventID)
	return q.recheckErr
}

type fakeLedger struct {
	created      bool
	status       string
	tryCreateErr error

	tryCreateCalls int
	attempts       []string
	routed         []string
	failedReasons  map[string]string
}

func (l *fakeLedger) TryCreate(ctx context.Context, data domain.JobData) (bool, error) {
	l.tryCreateCalls++
	if l.tryCreateErr != nil {
		return false, l.tryCreateErr
	}
	return l.created, nil
}

func (l *fakeLedger) GetStatus(ctx context.Context, eventID string) (string, error) {
	return l.status, nil
}

func (l *fakeLedger) MarkAttempt(ctx context.Context, eventID string) error {
	l.attempts = append(l.attempts, eventID)
	return nil
}

func (l *fakeLedger) MarkRouted(ctx context.Context, eventID string) error {
	l.routed = append(l.routed, eventID)
	return nil
}

func (l *fakeLedger) MarkFailed(ctx context.Context, eventID, reason string) error {
	if l.failedReasons == nil {
		l.failedReasons = map[string]string{}
	}
	l.failedReasons[eventID] = reason
	return nil
}

type fakeRouter struct {
	err   error
	calls int
}

func (r *fakeRouter) Route(ctx context.Context, eventID string, payload json.RawMessage) error {
	r.calls++
	return r.err
}

type fakeDeadLetters struct {
	entries []domain.DeadLetterEntry
}

func (d *fakeDeadLetters) Add(ctx context.Context, entry domain.DeadLetterEntry) error {
	d.entries = append(d.entries, entry)
	return nil
}

func testJob(attemptsMade int) *domain.Job {
	return &domain.Job{
		EventID:       "evt-1",
		Type:          "payment.created",
		Payload:       json.RawMessage(`{"amount":10}`),
		CorrelationID: "corr-1",
		LeaseState:    domain.LeaseStateActive,
		AttemptsMade:  attemptsMade,
	}
}

func newTestWorker(q Queue, l Ledger, r Router, d DeadLetters) *Worker {
	return NewWorker(&Config{
		Logger:      discardLogger(),
		Queue:       q,
		Ledger:      l,
		Router:      r,
		DeadLetters: d,
		Policy: RetryPolicy{
			BaseDelay:   1 * time.Second,
			MaxDelay:    60 * time.Second,
			MaxAttempts: 5,
		},
		Concurrency:   1,
		PrefetchCount: 1,
		RoutePerSec:   1000,
		RouteBurst:    1000,
	})
}

func TestProcessAttemptSuccess(t *testing.T) {
	q := &fakeQueue{job: testJob(0)}
	l := &fakeLedger{created: true}
	r := &fakeRouter{}
	d := &fakeDeadLetters{}

	w := newTestWorker(q, l, r, d)
	err := w.processAttempt(context.Background(), &domain.JobMessage{EventID: "evt-1"})

	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, []string{"evt-1"}, l.attempts)
	assert.Equal(t, []string{"evt-1"}, l.routed)
	assert.Equal(t, []string{"evt-1"}, q.acked)
	assert.Empty(t, q.nacked)
	assert.Empty(t, d.entries)
}

func TestProcessAttemptIdempotentSkip(t *testing.T) {
	q := &fakeQueue{job: testJob(0)}
	l := &fakeLedger{created: false, status: domain.EventStatusRouted}
	r := &fakeRouter{}
	d := &fakeDeadLetters{}

	w := newTestWorker(q, l, r, d)
	err := w.processAttempt(context.Background(), &domain.JobMessage{EventID: "evt-1"})

	require.NoError(t, err)
	assert.Equal(t, 0, r.calls, "routing service must not be invoked for an already-routed event")
	assert.Empty(t, l.attempts)
	assert.Empty(t, l.routed)
	assert.Equal(t, []string{"evt-1"}, q.acked)
}

func TestProcessAttemptProceedsWhenLedgerRowFailed(t *testing.T) {
	// Dead letter replay: the ledger row exists in FAILED and the attempt
	// must run anyway; success moves the event to ROUTED.
	q := &fakeQueue{job: testJob(0)}
	l := &fakeLedger{created: false, status: domain.EventStatusFailed}
	r := &fakeRouter{}
	d := &fakeDeadLetters{}

	w := newTestWorker(q, l, r, d)
	err := w.processAttempt(context.Background(), &domain.JobMessage{EventID: "evt-1"})

	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, []string{"evt-1"}, l.routed)
	assert.Equal(t, []string{"evt-1"}, q.acked)
}

func TestProcessAttemptTransientFailure(t *testing.T) {
	q := &fakeQueue{job: testJob(0)}
	l := &fakeLedger{created: true}
	r := &fakeRouter{err: errors.New("routing service returned 503")}
	d := &fakeDeadLetters{}

	w := newTestWorker(q, l, r, d)
	err := w.processAttempt(context.Background(), &domain.JobMessage{EventID: "evt-1"})

	require.Error(t, err)
	var retryable *domain.RetryableError
	assert.True(t, errors.As(err, &retryable))
	assert.False(t, shouldRedeliver(err))

	require.Len(t, q.nacked, 1)
	assert.Equal(t, "evt-1", q.nacked[0].eventID)
	assert.Equal(t, 1*time.Second, q.nacked[0].delay)

	// Mid-retry is not a terminal failure
	assert.Empty(t, l.failedReasons)
	assert.Empty(t, d.entries)
	assert.Empty(t, q.failed)
}

func TestProcessAttemptBackoffGrowsWithAttempts(t *testing.T) {
	q := &fakeQueue{job: testJob(3)}
	l := &fakeLedger{created: false, status: domain.EventStatusRoutingPending}
	r := &fakeRouter{err: errors.New("timeout")}
	d := &fakeDeadLetters{}

	w := newTestWorker(q, l, r, d)
	err := w.processAttempt(context.Background(), &domain.JobMessage{EventID: "evt-1"})

	require.Error(t, err)
	require.Len(t, q.nacked, 1)
	assert.Equal(t, 8*time.Second, q.nacked[0].delay)
}

func TestProcessAttemptExhaustion(t *testing.T) {
	q := &fakeQueue{job: testJob(4)}
	l := &fakeLedger{created: false, status: domain.EventStatusRoutingPending}
	r := &fakeRouter{err: errors.New("routing service returned 500")}
	d := &fakeDeadLetters{}

	w := newTestWorker(q, l, r, d)
	err := w.processAttempt(context.Background(), &domain.JobMessage{EventID: "evt-1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRetriesExhausted))
	assert.False(t, shouldRedeliver(err))

	// Exactly one terminal transition and one dead letter entry
	assert.Equal(t, map[string]string{"evt-1": "routing service returned 500"}, l.failedReasons)
	require.Len(t, d.entries, 1)
	assert.Equal(t, "evt-1", d.entries[0].EventID)
	assert.Equal(t, 5, d.entries[0].Attempts)
	assert.Equal(t, []string{"evt-1"}, q.failed)
	assert.Empty(t, q.nacked)
}

func TestProcessAttemptJobNotLeasable(t *testing.T) {
	q := &fakeQueue{claimErr: domain.ErrJobNotLeasable}
	l := &fakeLedger{}
	r := &fakeRouter{}
	d := &fakeDeadLetters{}

	w := newTestWorker(q, l, r, d)
	err := w.processAttempt(context.Background(), &domain.JobMessage{EventID: "evt-1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrJobNotLeasable))
	assert.False(t, shouldRedeliver(err))
	assert.Equal(t, 0, l.tryCreateCalls)
	assert.Equal(t, 0, r.calls)
}

func TestProcessAttemptLeaseHeldSchedulesRecheck(t *testing.T) {
	q := &fakeQueue{claimErr: domain.ErrJobLeased}
	l := &fakeLedger{}
	r := &fakeRouter{}
	d := &fakeDeadLetters{}

	w := newTestWorker(q, l, r, d)
	err := w.processAttempt(context.Background(), &domain.JobMessage{EventID: "evt-1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrJobLeased))
	assert.False(t, shouldRedeliver(err))
	assert.Equal(t, []string{"evt-1"}, q.rechecked)
	assert.Equal(t, 0, l.tryCreateCalls)
	assert.Equal(t, 0, r.calls)
}

func TestProcessAttemptLeaseHeldRecheckFailureRedelivered(t *testing.T) {
	q := &fakeQueue{claimErr: domain.ErrJobLeased, recheckErr: errors.New("broker unavailable")}
	l := &fakeLedger{}
	r := &fakeRouter{}
	d := &fakeDeadLetters{}

	w := newTestWorker(q, l, r, d)
	err := w.processAttempt(context.Background(), &domain.JobMessage{EventID: "evt-1"})

	require.Error(t, err)
	assert.True(t, shouldRedeliver(err), "without a scheduled recheck the delivery must come back")
}

// leaseFakeQueue mirrors the lease-state machine of the SQL claim: the row
// moves waiting->active on claim, a live active lease refuses claimants,
// and a stale one may be taken over.
type leaseFakeQueue struct {
	job   *domain.Job
	state string
	stale bool

	acked     []string
	rechecked []string
}

func (q *leaseFakeQueue) Claim(ctx context.Context, eventID, workerID string) (*domain.Job, error) {
	switch q.state {
	case domain.LeaseStateWaiting, domain.LeaseStateDelayed:
		q.state = domain.LeaseStateActive
		return q.job, nil
	case domain.LeaseStateActive:
		if q.stale {
			q.stale = false
			return q.job, nil
		}
		return nil, domain.ErrJobLeased
	default:
		return nil, domain.ErrJobNotLeasable
	}
}

func (q *leaseFakeQueue) Ack(ctx context.Context, eventID string) error {
	q.state = domain.LeaseStateCompleted
	q.acked = append(q.acked, eventID)
	return nil
}

func (q *leaseFakeQueue) Nack(ctx context.Context, eventID string, delay time.Duration) error {
	q.state = domain.LeaseStateDelayed
	return nil
}

func (q *leaseFakeQueue) MoveToFailed(ctx context.Context, eventID, reason string) error {
	q.state = domain.LeaseStateFailed
	return nil
}

func (q *leaseFakeQueue) Recheck(ctx context.Context, eventID string) error {
	q.rechecked = append(q.rechecked, eventID)
	return nil
}

func TestStaleLeaseRecoveredAfterInfrastructureFailure(t *testing.T) {
	// A worker claims the lease and then hits an infrastructure failure,
	// leaving the row active with the delivery unacked. The redelivered
	// attempt must not be dropped: it schedules a recheck, and once the
	// lease goes stale the job is claimed again and completes.
	q := &leaseFakeQueue{job: testJob(0), state: domain.LeaseStateWaiting}
	l := &fakeLedger{created: true, tryCreateErr: errors.New("ledger unavailable")}
	r := &fakeRouter{}
	d := &fakeDeadLetters{}
	msg := &domain.JobMessage{EventID: "evt-1"}

	w := newTestWorker(q, l, r, d)

	// Attempt 1: claim succeeds, then the ledger is down
	err := w.processAttempt(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, shouldRedeliver(err))
	assert.Equal(t, domain.LeaseStateActive, q.state)

	// Broker redelivery while the abandoned lease is still live
	l.tryCreateErr = nil
	err = w.processAttempt(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrJobLeased))
	assert.False(t, shouldRedeliver(err))
	assert.Equal(t, []string{"evt-1"}, q.rechecked)

	// The recheck wakeup arrives after the lease timeout
	q.stale = true
	err = w.processAttempt(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, []string{"evt-1"}, l.routed)
	assert.Equal(t, []string{"evt-1"}, q.acked)
	assert.Equal(t, domain.LeaseStateCompleted, q.state)
}

func TestProcessAttemptInfrastructureFailure(t *testing.T) {
	q := &fakeQueue{claimErr: errors.New("connection refused")}
	l := &fakeLedger{}
	r := &fakeRouter{}
	d := &fakeDeadLetters{}

	w := newTestWorker(q, l, r, d)
	err := w.processAttempt(context.Background(), &domain.JobMessage{EventID: "evt-1"})

	require.Error(t, err)
	assert.True(t, shouldRedeliver(err), "unclassified failures must be redelivered")
	assert.Equal(t, 0, r.calls)
}

func TestShouldRedeliver(t *testing.T) {
	assert.False(t, shouldRedeliver(nil))
	assert.False(t, shouldRedeliver(domain.ErrJobNotLeasable))
	assert.False(t, shouldRedeliver(domain.ErrJobLeased))
	assert.False(t, shouldRedeliver(domain.ErrRetriesExhausted))
	assert.False(t, shouldRedeliver(domain.NewRetryableError(errors.New("503"))))
	assert.True(t, shouldRedeliver(errors.New("database down")))
}
