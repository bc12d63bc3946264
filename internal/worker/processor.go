package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/event-router/internal/domain"
)

// processAttempt runs one processing attempt for a delivered job:
// lease → idempotency check → routing call → outcome bookkeeping.
//
// The returned error classifies the outcome for the delivery decision in
// workerLoop: nil and handled failures finish the delivery; anything else
// is an infrastructure failure and the delivery is redelivered later.
func (w *Worker) processAttempt(ctx context.Context, msg *domain.JobMessage) error {
	// System-wide cap on attempt starts, shared by all pool goroutines.
	// This protects the routing service independently of pool size.
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait canceled: %w", err)
	}

	job, err := w.queue.Claim(ctx, msg.EventID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobLeased) {
			// Another worker holds a live lease. The holder may have died
			// before acking, so this delivery cannot simply be dropped:
			// schedule a recheck that lands after the lease timeout, when
			// a dead holder's lease has gone stale and Claim takes over.
			if rerr := w.queue.Recheck(ctx, msg.EventID); rerr != nil {
				return fmt.Errorf("failed to schedule lease recheck: %w", rerr)
			}

			w.logger.Info("Lease held elsewhere, recheck scheduled",
				slog.String("event_id", msg.EventID),
			)
			return err
		}
		if errors.Is(err, domain.ErrJobNotLeasable) {
			// Duplicate delivery of a terminal job
			return err
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	w.logger.Info("Processing attempt started",
		slog.String("event_id", job.EventID),
		slog.String("type", job.Type),
		slog.String("correlation_id", job.CorrelationID),
		slog.Int("attempts_made", job.AttemptsMade),
	)

	created, err := w.ledger.TryCreate(ctx, job.Data())
	if err != nil {
		return fmt.Errorf("failed to create ledger row: %w", err)
	}

	if !created {
		status, err := w.ledger.GetStatus(ctx, job.EventID)
		if err != nil {
			return fmt.Errorf("failed to read ledger status: %w", err)
		}

		if status == domain.EventStatusRouted {
			// Idempotent skip: the event already reached its terminal
			// success, so this delivery is acknowledged without touching
			// the routing service.
			if err := w.queue.Ack(ctx, job.EventID); err != nil {
				return fmt.Errorf("failed to ack skipped job: %w", err)
			}

			w.logger.Info("Duplicate attempt skipped - event already routed",
				slog.String("event_id", job.EventID),
				slog.String("correlation_id", job.CorrelationID),
			)
			return nil
		}
		// ROUTING_PENDING or FAILED: crash recovery or a replayed dead
		// letter; the attempt proceeds.
	}

	if err := w.ledger.MarkAttempt(ctx, job.EventID); err != nil {
		return fmt.Errorf("failed to mark attempt: %w", err)
	}

	// The routing call may take seconds. No lock or shared resource is
	// held across it beyond the job lease itself.
	routeErr := w.router.Route(ctx, job.EventID, job.Payload)
	if routeErr == nil {
		if err := w.ledger.MarkRouted(ctx, job.EventID); err != nil {
			return fmt.Errorf("failed to mark event routed: %w", err)
		}

		if err := w.queue.Ack(ctx, job.EventID); err != nil {
			return fmt.Errorf("failed to ack job: %w", err)
		}

		w.logger.Info("Event routed",
			slog.String("event_id", job.EventID),
			slog.String("correlation_id", job.CorrelationID),
		)
		return nil
	}

	return w.handleRoutingFailure(ctx, job, routeErr)
}

// handleRoutingFailure reschedules a failed attempt or, once the queue's
// retry counter reaches the policy maximum, quarantines the job.
func (w *Worker) handleRoutingFailure(ctx context.Context, job *domain.Job, routeErr error) error {
	attemptsFinished := job.AttemptsMade + 1

	w.logger.Warn("Routing attempt failed",
		slog.String("event_id", job.EventID),
		slog.String("correlation_id", job.CorrelationID),
		slog.Int("attempt", attemptsFinished),
		slog.Int("max_attempts", w.policy.MaxAttempts),
		slog.String("error", routeErr.Error()),
	)

	if !w.policy.Exhausted(attemptsFinished) {
		// Ledger stays ROUTING_PENDING: a job mid-retry is not yet a
		// terminal failure.
		delay := w.policy.NextDelay(job.AttemptsMade)
		if err := w.queue.Nack(ctx, job.EventID, delay); err != nil {
			return fmt.Errorf("failed to nack job: %w", err)
		}

		return domain.NewRetryableError(routeErr)
	}

	// Terminal path: ledger first, then the dead letter record, then the
	// queue's own bookkeeping.
	if err := w.ledger.MarkFailed(ctx, job.EventID, routeErr.Error()); err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}

	entry := domain.DeadLetterEntry{
		EventID:       job.EventID,
		Type:          job.Type,
		Payload:       job.Payload,
		CorrelationID: job.CorrelationID,
		Error:         routeErr.Error(),
		Attempts:      attemptsFinished,
	}
	if err := w.deadLetters.Add(ctx, entry); err != nil {
		return fmt.Errorf("failed to record dead letter entry: %w", err)
	}

	if err := w.queue.MoveToFailed(ctx, job.EventID, routeErr.Error()); err != nil {
		return fmt.Errorf("failed to move job to failed: %w", err)
	}

	w.logger.Error("Event exhausted all attempts, quarantined",
		slog.String("event_id", job.EventID),
		slog.String("correlation_id", job.CorrelationID),
		slog.Int("attempts", attemptsFinished),
	)

	return fmt.Errorf("%w: %v", domain.ErrRetriesExhausted, routeErr)
}
