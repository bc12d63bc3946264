package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/event-router/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEntrySource struct {
	entries   []domain.DeadLetterEntry
	listErr   error
	removeErr map[int64]error

	removed []int64
}

func (s *fakeEntrySource) List(ctx context.Context) ([]domain.DeadLetterEntry, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.entries, nil
}

func (s *fakeEntrySource) Remove(ctx context.Context, id int64) error {
	if err := s.removeErr[id]; err != nil {
		return err
	}
	s.removed = append(s.removed, id)
	return nil
}

type fakeRequeuer struct {
	failFor map[string]error

	requeued []domain.JobData
}

func (r *fakeRequeuer) Requeue(ctx context.Context, data domain.JobData) error {
	if err := r.failFor[data.EventID]; err != nil {
		return err
	}
	r.requeued = append(r.requeued, data)
	return nil
}

func testEntry(id int64, eventID string) domain.DeadLetterEntry {
	return domain.DeadLetterEntry{
		ID:            id,
		EventID:       eventID,
		Type:          "payment.created",
		Payload:       json.RawMessage(`{"amount":10}`),
		CorrelationID: "corr-1",
		Error:         "routing service returned 500",
		Attempts:      5,
	}
}

func TestReplayAllDrainsQuarantine(t *testing.T) {
	src := &fakeEntrySource{entries: []domain.DeadLetterEntry{
		testEntry(1, "evt-1"),
		testEntry(2, "evt-2"),
	}}
	rq := &fakeRequeuer{}

	replayed, err := replayAll(context.Background(), src, rq, discardLogger())

	require.NoError(t, err)
	assert.Equal(t, 2, replayed)
	assert.Equal(t, []int64{1, 2}, src.removed)

	require.Len(t, rq.requeued, 2)
	assert.Equal(t, "evt-1", rq.requeued[0].EventID)
	assert.JSONEq(t, `{"amount":10}`, string(rq.requeued[0].Payload))
}

func TestReplayAllKeepsEntriesThatFailToRequeue(t *testing.T) {
	src := &fakeEntrySource{entries: []domain.DeadLetterEntry{
		testEntry(1, "evt-1"),
		testEntry(2, "evt-2"),
		testEntry(3, "evt-3"),
	}}
	rq := &fakeRequeuer{failFor: map[string]error{
		"evt-2": errors.New("broker unavailable"),
	}}

	replayed, err := replayAll(context.Background(), src, rq, discardLogger())

	require.NoError(t, err, "a partial replay is not an error")
	assert.Equal(t, 2, replayed)
	// The failed entry stays quarantined for a later replay
	assert.Equal(t, []int64{1, 3}, src.removed)
	require.Len(t, rq.requeued, 2)
}

func TestReplayAllRequeuedButNotRemovedIsNotCounted(t *testing.T) {
	src := &fakeEntrySource{
		entries:   []domain.DeadLetterEntry{testEntry(1, "evt-1")},
		removeErr: map[int64]error{1: errors.New("database down")},
	}
	rq := &fakeRequeuer{}

	replayed, err := replayAll(context.Background(), src, rq, discardLogger())

	require.NoError(t, err)
	assert.Equal(t, 0, replayed)
	// The job went back to the queue; the stale entry replays again later
	// and the idempotent enqueue absorbs it.
	require.Len(t, rq.requeued, 1)
	assert.Empty(t, src.removed)
}

func TestReplayAllListFailure(t *testing.T) {
	src := &fakeEntrySource{listErr: errors.New("database down")}
	rq := &fakeRequeuer{}

	replayed, err := replayAll(context.Background(), src, rq, discardLogger())

	require.Error(t, err)
	assert.Zero(t, replayed)
	assert.Empty(t, rq.requeued)
}
