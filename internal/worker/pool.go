package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/event-router/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				w.logger.Info("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			err := w.processAttempt(ctx, msg)

			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				w.logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
					slog.String("worker_name", workerName),
					slog.String("event_id", msg.EventID),
				)
				continue
			}

			if shouldRedeliver(err) {
				// Infrastructure failure: abandon the attempt without any
				// terminal marks and let the broker re-deliver.
				w.logger.Error("Attempt abandoned, delivery requeued",
					slog.String("worker_name", workerName),
					slog.String("event_id", msg.EventID),
					slog.String("error", err.Error()),
				)

				if nackErr := channel.Nack(msg.DeliveryTag, false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("event_id", msg.EventID),
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if err != nil {
				// Handled outcome: the queue row already moved to delayed or
				// failed, so the delivery itself is finished.
				w.logger.Info("Attempt finished with handled failure",
					slog.String("worker_name", workerName),
					slog.String("event_id", msg.EventID),
					slog.String("error", err.Error()),
				)
			}

			if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
				w.logger.Error("Failed to ACK message",
					slog.String("worker_name", workerName),
					slog.String("event_id", msg.EventID),
					slog.String("error", ackErr.Error()),
				)
			}
		}
	}
}

// shouldRedeliver reports whether the broker should re-deliver the message.
// Only unhandled infrastructure failures qualify; every outcome the attempt
// recorded in the queue (reschedule, exhaustion, lost lease) is final for
// this delivery.
func shouldRedeliver(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, domain.ErrJobNotLeasable) {
		return false
	}

	// A held lease already has its recheck scheduled
	if errors.Is(err, domain.ErrJobLeased) {
		return false
	}

	if errors.Is(err, domain.ErrRetriesExhausted) {
		return false
	}

	var retryableErr *domain.RetryableError
	if errors.As(err, &retryableErr) {
		return false
	}

	return true
}
