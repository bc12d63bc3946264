// Package ledger is the durable idempotency record for event processing
// outcomes. The UNIQUE constraint on event_id is the only duplicate
// suppression primitive in the pipeline; no application-level locking
// sits on top of it.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/event-router/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Ledger handles all database operations on the events table
type Ledger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Ledger instance
func New(db *sqlx.DB, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger,
	}
}

// TryCreate atomically inserts the ledger row for an event in
// ROUTING_PENDING status. It returns false without side effects when a row
// for the event already exists; the unique constraint decides, not a
// read-then-write.
func (l *Ledger) TryCreate(ctx context.Context, data domain.JobData) (bool, error) {
	query := `
		INSERT INTO events (
			event_id, type, payload, status, attempts, correlation_id,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, 0, $5, NOW(), NOW()
		)
		ON CONFLICT (event_id) DO NOTHING
	`

	result, err := l.db.ExecContext(ctx, query,
		data.EventID,
		data.Type,
		[]byte(data.Payload),
		domain.EventStatusRoutingPending,
		data.CorrelationID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	created := rows > 0
	if created {
		l.logger.Info("Event ledger row created",
			slog.String("event_id", data.EventID),
			slog.String("type", data.Type),
			slog.String("correlation_id", data.CorrelationID),
		)
	}

	return created, nil
}

// GetStatus returns the current status for an event
func (l *Ledger) GetStatus(ctx context.Context, eventID string) (string, error) {
	var status string
	err := l.db.GetContext(ctx, &status, `SELECT status FROM events WHERE event_id = $1`, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrEventNotFound
		}
		return "", fmt.Errorf("failed to get event status: %w", err)
	}

	return status, nil
}

// GetEvent returns the full ledger row for an event
func (l *Ledger) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	query := `
		SELECT event_id, type, payload, status, attempts, error,
		       correlation_id, created_at, updated_at, processed_at
		FROM events
		WHERE event_id = $1
	`

	var event domain.Event
	err := l.db.GetContext(ctx, &event, query, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return &event, nil
}

// MarkAttempt increments the ledger-side attempt counter. This counter is
// bookkeeping only; backoff and exhaustion read the queue's attempts_made.
func (l *Ledger) MarkAttempt(ctx context.Context, eventID string) error {
	query := `
		UPDATE events
		SET attempts = attempts + 1,
		    updated_at = NOW()
		WHERE event_id = $1
	`

	if _, err := l.db.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("failed to mark attempt: %w", err)
	}

	return nil
}

// MarkRouted transitions the event to ROUTED and stamps processed_at. The
// guard refuses to touch a row that is already ROUTED, so at most one
// successful transition wins; a FAILED row may move to ROUTED after a dead
// letter replay succeeds.
func (l *Ledger) MarkRouted(ctx context.Context, eventID string) error {
	query := `
		UPDATE events
		SET status = $1,
		    error = NULL,
		    processed_at = NOW(),
		    updated_at = NOW()
		WHERE event_id = $2
		  AND status <> $1
	`

	result, err := l.db.ExecContext(ctx, query, domain.EventStatusRouted, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event routed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		l.logger.Warn("Event already routed, transition skipped",
			slog.String("event_id", eventID),
		)
		return nil
	}

	l.logger.Info("Event marked routed",
		slog.String("event_id", eventID),
	)

	return nil
}

// MarkFailed transitions the event to FAILED with the terminal reason.
// A row that already reached ROUTED is never downgraded.
func (l *Ledger) MarkFailed(ctx context.Context, eventID, reason string) error {
	query := `
		UPDATE events
		SET status = $1,
		    error = $2,
		    updated_at = NOW()
		WHERE event_id = $3
		  AND status <> $4
	`

	result, err := l.db.ExecContext(ctx, query,
		domain.EventStatusFailed, reason, eventID, domain.EventStatusRouted)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		l.logger.Warn("Event already routed, failed transition skipped",
			slog.String("event_id", eventID),
		)
		return nil
	}

	l.logger.Warn("Event marked failed",
		slog.String("event_id", eventID),
		slog.String("error", reason),
	)

	return nil
}

// EventFilter narrows ListEvents results
type EventFilter struct {
	Status   string
	Type     string
	PageSize int
	Cursor   *EventCursor
}

// EventCursor is a (created_at, event_id) keyset pagination position
type EventCursor struct {
	CreatedAt time.Time
	EventID   string
}

// ListEvents returns events matching the filter, newest first, fetching one
// extra row so the caller can detect a next page.
func (l *Ledger) ListEvents(ctx context.Context, filter EventFilter) ([]domain.Event, error) {
	query := `
		SELECT event_id, type, payload, status, attempts, error,
		       correlation_id, created_at, updated_at, processed_at
		FROM events
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, event_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.EventID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, event_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var events []domain.Event
	if err := l.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return events, nil
}
