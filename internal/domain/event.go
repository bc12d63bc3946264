package domain

import (
	"encoding/json"
	"time"
)

// Event status constants (ledger-side lifecycle)
const (
	EventStatusRoutingPending = "ROUTING_PENDING"
	EventStatusRouted         = "ROUTED"
	EventStatusFailed         = "FAILED"
)

// Job lease states (queue-side lifecycle)
const (
	LeaseStateWaiting   = "waiting"
	LeaseStateActive    = "active"
	LeaseStateDelayed   = "delayed"
	LeaseStateCompleted = "completed"
	LeaseStateFailed    = "failed"
)

// JobData is the unit handed from the ingestion gate to the durable queue,
// copied verbatim from the producer submission.
type JobData struct {
	EventID       string          `json:"event_id" db:"event_id"`
	Type          string          `json:"type" db:"type"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	CorrelationID string          `json:"correlation_id" db:"correlation_id"`
}

// Event is the ledger row tracking the processing outcome for one event_id.
type Event struct {
	EventID       string          `db:"event_id"`
	Type          string          `db:"type"`
	Payload       json.RawMessage `db:"payload"`
	Status        string          `db:"status"`
	Attempts      int             `db:"attempts"`
	Error         *string         `db:"error"`
	CorrelationID string          `db:"correlation_id"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
}

// Job is the queue row carrying an event through lease/retry mechanics.
// AttemptsMade is the queue-maintained counter and is authoritative for
// backoff and dead-letter decisions; Event.Attempts is ledger bookkeeping
// and may diverge from it if a worker crashes mid-attempt.
type Job struct {
	EventID       string          `db:"event_id"`
	Type          string          `db:"type"`
	Payload       json.RawMessage `db:"payload"`
	CorrelationID string          `db:"correlation_id"`
	LeaseState    string          `db:"lease_state"`
	AttemptsMade  int             `db:"attempts_made"`
	LeasedBy      *string         `db:"leased_by"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Data returns the job's original submission tuple.
func (j *Job) Data() JobData {
	return JobData{
		EventID:       j.EventID,
		Type:          j.Type,
		Payload:       j.Payload,
		CorrelationID: j.CorrelationID,
	}
}

// DeadLetterEntry is the terminal record for a job that exhausted all
// retry attempts, kept until a manual replay.
type DeadLetterEntry struct {
	ID            int64           `db:"id"`
	EventID       string          `db:"event_id"`
	Type          string          `db:"type"`
	Payload       json.RawMessage `db:"payload"`
	CorrelationID string          `db:"correlation_id"`
	Error         string          `db:"error"`
	Attempts      int             `db:"attempts"`
	FailedAt      time.Time       `db:"failed_at"`
}

// Data returns the original job data for replay.
func (e *DeadLetterEntry) Data() JobData {
	return JobData{
		EventID:       e.EventID,
		Type:          e.Type,
		Payload:       e.Payload,
		CorrelationID: e.CorrelationID,
	}
}

// JobMessage is the wakeup message delivered through RabbitMQ. The job body
// itself lives in the jobs table; the message only names the event.
type JobMessage struct {
	EventID     string `json:"event_id"`
	DeliveryTag uint64 `json:"-"`
}
