// Package deadletter is the terminal quarantine for jobs that exhausted
// every retry attempt. Entries sit here until an operator replays them.
package deadletter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/event-router/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Requeuer re-enqueues original job data under a fresh lease during replay
type Requeuer interface {
	Requeue(ctx context.Context, data domain.JobData) error
}

// entrySource is the store side of replay: listing quarantined entries and
// removing the ones that were re-enqueued
type entrySource interface {
	List(ctx context.Context) ([]domain.DeadLetterEntry, error)
	Remove(ctx context.Context, id int64) error
}

// Store handles dead letter persistence and replay
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Store instance
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Add appends a terminal entry. Called once per exhausted job, on the
// attempt where the queue's retry counter reaches the configured maximum.
func (s *Store) Add(ctx context.Context, entry domain.DeadLetterEntry) error {
	query := `
		INSERT INTO dead_letters (
			event_id, type, payload, correlation_id, error, attempts, failed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, NOW()
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.EventID,
		entry.Type,
		[]byte(entry.Payload),
		entry.CorrelationID,
		entry.Error,
		entry.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to add dead letter entry: %w", err)
	}

	s.logger.Warn("Dead letter entry recorded",
		slog.String("event_id", entry.EventID),
		slog.Int("attempts", entry.Attempts),
		slog.String("error", entry.Error),
	)

	return nil
}

// List returns all quarantined entries, oldest first
func (s *Store) List(ctx context.Context) ([]domain.DeadLetterEntry, error) {
	query := `
		SELECT id, event_id, type, payload, correlation_id, error, attempts, failed_at
		FROM dead_letters
		ORDER BY failed_at ASC, id ASC
	`

	var entries []domain.DeadLetterEntry
	if err := s.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	return entries, nil
}

// Remove deletes one quarantined entry by id
func (s *Store) Remove(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete dead letter entry: %w", err)
	}

	return nil
}

// ReplayAll re-enqueues every quarantined entry under a fresh lease and
// removes it from the store. Replay does not touch the ledger: the replayed
// attempt's idempotency check sees the FAILED row and proceeds, which is
// what allows a genuine reattempt after a downstream fix.
func (s *Store) ReplayAll(ctx context.Context, requeuer Requeuer) (int, error) {
	return replayAll(ctx, s, requeuer, s.logger)
}

// replayAll drains the entry source into the requeuer. Entries that fail to
// requeue stay quarantined; an entry requeued but not removed may be
// replayed again later, which the idempotent enqueue and the ledger absorb.
func replayAll(ctx context.Context, entries entrySource, requeuer Requeuer, logger *slog.Logger) (int, error) {
	all, err := entries.List(ctx)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, entry := range all {
		if err := requeuer.Requeue(ctx, entry.Data()); err != nil {
			logger.Error("Failed to requeue dead letter entry",
				slog.String("event_id", entry.EventID),
				slog.Any("error", err),
			)
			continue
		}

		if err := entries.Remove(ctx, entry.ID); err != nil {
			logger.Error("Failed to delete replayed dead letter entry",
				slog.String("event_id", entry.EventID),
				slog.Int64("entry_id", entry.ID),
				slog.Any("error", err),
			)
			continue
		}

		replayed++
	}

	logger.Info("Dead letter replay finished",
		slog.Int("replayed", replayed),
		slog.Int("total", len(all)),
	)

	return replayed, nil
}
