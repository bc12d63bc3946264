// Package worker is the bounded-concurrency scheduler that drains the
// durable queue and drives each event through the idempotency ledger, the
// routing call, and the retry or dead-letter path.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/event-router/internal/domain"
	"github.com/cuongbtq/event-router/shared/rabbitmq"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Queue is the lease side of the durable queue
type Queue interface {
	Claim(ctx context.Context, eventID, workerID string) (*domain.Job, error)
	Ack(ctx context.Context, eventID string) error
	Nack(ctx context.Context, eventID string, delay time.Duration) error
	MoveToFailed(ctx context.Context, eventID, reason string) error
	Recheck(ctx context.Context, eventID string) error
}

// Ledger is the idempotency record for processing outcomes
type Ledger interface {
	TryCreate(ctx context.Context, data domain.JobData) (bool, error)
	GetStatus(ctx context.Context, eventID string) (string, error)
	MarkAttempt(ctx context.Context, eventID string) error
	MarkRouted(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, reason string) error
}

// Router is the external routing decision service
type Router interface {
	Route(ctx context.Context, eventID string, payload json.RawMessage) error
}

// DeadLetters records terminally exhausted jobs
type DeadLetters interface {
	Add(ctx context.Context, entry domain.DeadLetterEntry) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Queue         Queue
	Ledger        Ledger
	Router        Router
	DeadLetters   DeadLetters
	Policy        RetryPolicy
	Concurrency   int
	PrefetchCount int
	RoutePerSec   float64
	RouteBurst    int
}

// Worker is the scheduler owning the consumer, the dispatcher, and the pool
type Worker struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	queue         Queue
	ledger        Ledger
	router        Router
	deadLetters   DeadLetters
	policy        RetryPolicy
	limiter       *rate.Limiter
	concurrency   int
	prefetchCount int
	workerID      string
	jobsChan      chan *domain.JobMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		queue:         cfg.Queue,
		ledger:        cfg.Ledger,
		router:        cfg.Router,
		deadLetters:   cfg.DeadLetters,
		policy:        cfg.Policy,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RoutePerSec), cfg.RouteBurst),
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		workerID:      fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		jobsChan:      make(chan *domain.JobMessage, cfg.Concurrency),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. It blocks until ctx is
// canceled or the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker: no new leases are taken, in-flight
// attempts run to completion.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...", slog.String("worker_id", w.workerID))
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
}
