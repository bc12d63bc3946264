// Package gate is the ingestion boundary and the thin operational read
// surface. Ingestion verifies authenticity and shape, enqueues, and
// returns; it never performs ledger lookups or routing calls on the
// request path.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/event-router/internal/domain"
	"github.com/cuongbtq/event-router/internal/ledger"
)

// Queue is the enqueue/stats side of the durable queue
type Queue interface {
	Enqueue(ctx context.Context, data domain.JobData) (string, bool, error)
	Stats(ctx context.Context) (map[string]int, error)
}

// Ledger is the read side of the idempotency ledger
type Ledger interface {
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
	ListEvents(ctx context.Context, filter ledger.EventFilter) ([]domain.Event, error)
}

// Replayer re-enqueues quarantined dead letter entries
type Replayer interface {
	ReplayAll(ctx context.Context) (int, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger          *slog.Logger
	Queue           Queue
	Ledger          Ledger
	Replayer        Replayer
	SignatureSecret string
	TimestampWindow time.Duration
	MaxBodyBytes    int64
}

// EventHandler handles event-related HTTP requests
type EventHandler struct {
	logger   *slog.Logger
	queue    Queue
	ledger   Ledger
	replayer Replayer
}

// NewEventHandler creates a new EventHandler instance
func NewEventHandler(deps *Dependencies) *EventHandler {
	return &EventHandler{
		logger:   deps.Logger,
		queue:    deps.Queue,
		ledger:   deps.Ledger,
		replayer: deps.Replayer,
	}
}
