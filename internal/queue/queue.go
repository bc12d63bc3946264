// Package queue is the durable at-least-once delivery channel. Job rows in
// PostgreSQL carry the lease state and retry counter; RabbitMQ carries the
// wakeup messages, including delayed redelivery through the retry queue.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/event-router/internal/domain"
	"github.com/jmoiron/sqlx"
)

const contentTypeJSON = "application/json"

// Broker is the message-channel side of the queue: immediate publish to the
// work queue and TTL-delayed publish through the retry queue.
type Broker interface {
	Publish(ctx context.Context, body []byte, contentType string) error
	PublishDelayed(ctx context.Context, body []byte, contentType string, delay time.Duration) error
}

// Queue handles job rows and their delivery messages
type Queue struct {
	db           *sqlx.DB
	broker       Broker
	leaseTimeout time.Duration
	logger       *slog.Logger
}

// New creates a new Queue instance. leaseTimeout bounds how long an active
// lease blocks other claimants before it is treated as abandoned.
func New(db *sqlx.DB, broker Broker, leaseTimeout time.Duration, logger *slog.Logger) *Queue {
	return &Queue{
		db:           db,
		broker:       broker,
		leaseTimeout: leaseTimeout,
		logger:       logger,
	}
}

// Enqueue inserts the job and publishes its wakeup message. The insert is
// idempotent on event_id: a duplicate submission while a job row exists is
// collapsed to a no-op and reported with created=false. Behavior for a
// duplicate arriving after the prior job completed is a queue-level no-op
// as well; the ledger remains the safety net for any delivery that slips
// through.
func (q *Queue) Enqueue(ctx context.Context, data domain.JobData) (string, bool, error) {
	query := `
		INSERT INTO jobs (
			event_id, type, payload, correlation_id, lease_state,
			attempts_made, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, 0, NOW(), NOW()
		)
		ON CONFLICT (event_id) DO NOTHING
	`

	result, err := q.db.ExecContext(ctx, query,
		data.EventID,
		data.Type,
		[]byte(data.Payload),
		data.CorrelationID,
		domain.LeaseStateWaiting,
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		q.logger.Info("Duplicate enqueue collapsed",
			slog.String("event_id", data.EventID),
			slog.String("correlation_id", data.CorrelationID),
		)
		return data.EventID, false, nil
	}

	if err := q.publishWakeup(ctx, data.EventID); err != nil {
		// Compensate so a producer retry of the whole submission can
		// insert and publish again instead of hitting the no-op path.
		// A concurrent duplicate submission that hit the no-op between
		// this insert and the delete was told duplicate=true for a row
		// that is about to vanish; the event then depends on the first
		// submitter retrying its 500, which the producer contract
		// requires.
		if _, delErr := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE event_id = $1 AND lease_state = $2`,
			data.EventID, domain.LeaseStateWaiting); delErr != nil {
			q.logger.Error("Failed to roll back unpublished job",
				slog.String("event_id", data.EventID),
				slog.Any("error", delErr),
			)
		}
		return "", false, err
	}

	q.logger.Info("Job enqueued",
		slog.String("event_id", data.EventID),
		slog.String("type", data.Type),
		slog.String("correlation_id", data.CorrelationID),
	)

	return data.EventID, true, nil
}

// Claim takes the lease on a delivered job using an optimistic update.
// Waiting and delayed jobs are leasable, as is an active job whose lease
// went stale: a worker that dies mid-attempt stops touching updated_at, so
// past the lease timeout the row may be taken over. A live lease returns
// ErrJobLeased; a terminal or missing row returns ErrJobNotLeasable.
func (q *Queue) Claim(ctx context.Context, eventID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET lease_state = $1,
		    leased_by = $2,
		    updated_at = NOW()
		WHERE event_id = $3
		  AND (lease_state IN ($4, $5)
		       OR (lease_state = $1 AND updated_at < NOW() - $6 * INTERVAL '1 millisecond'))
		RETURNING event_id, type, payload, correlation_id, attempts_made
	`

	var job domain.Job
	err := q.db.QueryRowContext(ctx, query,
		domain.LeaseStateActive, workerID, eventID,
		domain.LeaseStateWaiting, domain.LeaseStateDelayed,
		q.leaseTimeout.Milliseconds(),
	).Scan(
		&job.EventID,
		&job.Type,
		&job.Payload,
		&job.CorrelationID,
		&job.AttemptsMade,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var state string
			if serr := q.db.GetContext(ctx, &state,
				`SELECT lease_state FROM jobs WHERE event_id = $1`, eventID,
			); serr == nil && state == domain.LeaseStateActive {
				q.logger.Warn("Job lease held, recheck required",
					slog.String("event_id", eventID),
					slog.String("worker_id", workerID),
				)
				return nil, domain.ErrJobLeased
			}

			q.logger.Warn("Job not leasable",
				slog.String("event_id", eventID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobNotLeasable
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.LeaseState = domain.LeaseStateActive
	job.LeasedBy = &workerID

	return &job, nil
}

// Ack marks a leased job completed
func (q *Queue) Ack(ctx context.Context, eventID string) error {
	query := `
		UPDATE jobs
		SET lease_state = $1,
		    next_retry_at = NULL,
		    updated_at = NOW()
		WHERE event_id = $2
	`

	if _, err := q.db.ExecContext(ctx, query, domain.LeaseStateCompleted, eventID); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}

	return nil
}

// Nack reschedules a leased job: the retry counter advances, the row parks
// in delayed state, and a TTL-delayed wakeup message re-delivers it.
func (q *Queue) Nack(ctx context.Context, eventID string, delay time.Duration) error {
	query := `
		UPDATE jobs
		SET lease_state = $1,
		    attempts_made = attempts_made + 1,
		    leased_by = NULL,
		    next_retry_at = NOW() + $2 * INTERVAL '1 millisecond',
		    updated_at = NOW()
		WHERE event_id = $3
	`

	if _, err := q.db.ExecContext(ctx, query, domain.LeaseStateDelayed, delay.Milliseconds(), eventID); err != nil {
		return fmt.Errorf("failed to nack job: %w", err)
	}

	body, err := json.Marshal(domain.JobMessage{EventID: eventID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := q.broker.PublishDelayed(ctx, body, contentTypeJSON, delay); err != nil {
		return fmt.Errorf("failed to publish delayed wakeup: %w", err)
	}

	q.logger.Info("Job rescheduled",
		slog.String("event_id", eventID),
		slog.Duration("delay", delay),
	)

	return nil
}

// Recheck publishes a delayed wakeup without touching the job row. Used
// when a delivery finds the lease held by another worker: if that worker
// died without acking, the recheck arrives after the lease has gone stale
// and Claim takes it over. If the holder finished normally the recheck
// finds a terminal row and is dropped.
func (q *Queue) Recheck(ctx context.Context, eventID string) error {
	body, err := json.Marshal(domain.JobMessage{EventID: eventID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := q.broker.PublishDelayed(ctx, body, contentTypeJSON, q.leaseTimeout); err != nil {
		return fmt.Errorf("failed to publish recheck wakeup: %w", err)
	}

	q.logger.Info("Lease recheck scheduled",
		slog.String("event_id", eventID),
		slog.Duration("delay", q.leaseTimeout),
	)

	return nil
}

// MoveToFailed marks a job terminally failed at the queue level
func (q *Queue) MoveToFailed(ctx context.Context, eventID, reason string) error {
	query := `
		UPDATE jobs
		SET lease_state = $1,
		    leased_by = NULL,
		    next_retry_at = NULL,
		    updated_at = NOW()
		WHERE event_id = $2
	`

	if _, err := q.db.ExecContext(ctx, query, domain.LeaseStateFailed, eventID); err != nil {
		return fmt.Errorf("failed to move job to failed: %w", err)
	}

	q.logger.Warn("Job moved to failed",
		slog.String("event_id", eventID),
		slog.String("reason", reason),
	)

	return nil
}

// Requeue gives a replayed job a fresh lease: the row resets to waiting
// with a zeroed retry counter and a new wakeup message is published.
func (q *Queue) Requeue(ctx context.Context, data domain.JobData) error {
	query := `
		INSERT INTO jobs (
			event_id, type, payload, correlation_id, lease_state,
			attempts_made, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, 0, NOW(), NOW()
		)
		ON CONFLICT (event_id) DO UPDATE
		SET lease_state = $5,
		    attempts_made = 0,
		    leased_by = NULL,
		    next_retry_at = NULL,
		    updated_at = NOW()
	`

	_, err := q.db.ExecContext(ctx, query,
		data.EventID,
		data.Type,
		[]byte(data.Payload),
		data.CorrelationID,
		domain.LeaseStateWaiting,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	if err := q.publishWakeup(ctx, data.EventID); err != nil {
		return err
	}

	q.logger.Info("Job requeued",
		slog.String("event_id", data.EventID),
		slog.String("correlation_id", data.CorrelationID),
	)

	return nil
}

// Stats returns job counts grouped by lease state
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT lease_state, COUNT(*) FROM jobs GROUP BY lease_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{
		domain.LeaseStateWaiting:   0,
		domain.LeaseStateActive:    0,
		domain.LeaseStateDelayed:   0,
		domain.LeaseStateCompleted: 0,
		domain.LeaseStateFailed:    0,
	}

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats[state] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return stats, nil
}

func (q *Queue) publishWakeup(ctx context.Context, eventID string) error {
	body, err := json.Marshal(domain.JobMessage{EventID: eventID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := q.broker.Publish(ctx, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to publish wakeup: %w", err)
	}

	return nil
}
