package gate

import "encoding/json"

type IngestEventRequest struct {
	EventID       string          `json:"event_id" binding:"required"`
	Type          string          `json:"type" binding:"required"`
	Payload       json.RawMessage `json:"payload" binding:"required"`
	CorrelationID string          `json:"correlation_id"`
}

type IngestEventResponse struct {
	EventID       string `json:"event_id"`
	CorrelationID string `json:"correlation_id"`
	Duplicate     bool   `json:"duplicate"`
}

type ListEventsRequest struct {
	Status   string `form:"status"`
	Type     string `form:"type"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListEventsResponse struct {
	Events     []EventDTO `json:"events"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type EventDTO struct {
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	Error         *string         `json:"error,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
	ProcessedAt   *string         `json:"processed_at,omitempty"`
}

type ReplayResponse struct {
	Replayed int `json:"replayed"`
}
