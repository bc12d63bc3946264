package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcknowledger struct {
	mu    sync.Mutex
	nacks []nackRecord
}

type nackRecord struct {
	tag     uint64
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error { return nil }

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, nackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

func TestDispatcherStopsWhilePoolChannelFull(t *testing.T) {
	// Stop() without a prior context cancel must still unblock a dispatch
	// stuck on a full jobsChan, requeueing the in-flight delivery.
	w := newTestWorker(&fakeQueue{}, &fakeLedger{}, &fakeRouter{}, &fakeDeadLetters{})

	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"event_id":"evt-1"}`)}
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`{"event_id":"evt-2"}`)}

	done := make(chan struct{})
	go func() {
		w.startMessageDispatcher(context.Background(), deliveries)
		close(done)
	}()

	// jobsChan capacity is 1 and nothing drains it: the first delivery
	// buffers, the second blocks mid-dispatch.
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}

	ack.mu.Lock()
	defer ack.mu.Unlock()
	require.Len(t, ack.nacks, 1)
	assert.Equal(t, uint64(2), ack.nacks[0].tag)
	assert.True(t, ack.nacks[0].requeue, "blocked delivery must go back to the broker")
}

func TestDispatcherDropsMalformedMessage(t *testing.T) {
	w := newTestWorker(&fakeQueue{}, &fakeLedger{}, &fakeRouter{}, &fakeDeadLetters{})

	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(`not-json`)}
	close(deliveries)

	w.startMessageDispatcher(context.Background(), deliveries)

	require.Len(t, ack.nacks, 1)
	assert.Equal(t, uint64(7), ack.nacks[0].tag)
	assert.False(t, ack.nacks[0].requeue, "malformed message must not cycle forever")
}
