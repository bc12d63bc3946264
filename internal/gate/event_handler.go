package gate

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/event-router/internal/domain"
	"github.com/cuongbtq/event-router/internal/ledger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IngestEvent handles POST /api/v1/events
//
// The only downstream work on this path is the idempotent enqueue; the
// response never waits on the ledger or the routing service. Infrastructure
// failures surface as 500 so the producer retries the whole submission.
func (h *EventHandler) IngestEvent(c *gin.Context) {
	var req IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid ingest request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "event_id, type and payload are required",
		})
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	data := domain.JobData{
		EventID:       req.EventID,
		Type:          req.Type,
		Payload:       req.Payload,
		CorrelationID: correlationID,
	}

	_, created, err := h.queue.Enqueue(c.Request.Context(), data)
	if err != nil {
		h.logger.Error("Failed to enqueue event",
			slog.String("event_id", req.EventID),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to accept event",
		})
		return
	}

	h.logger.Info("Event accepted",
		slog.String("event_id", req.EventID),
		slog.String("type", req.Type),
		slog.String("correlation_id", correlationID),
		slog.Bool("duplicate", !created),
	)

	c.JSON(http.StatusAccepted, IngestEventResponse{
		EventID:       req.EventID,
		CorrelationID: correlationID,
		Duplicate:     !created,
	})
}

// GetEvent handles GET /api/v1/events/:event_id
func (h *EventHandler) GetEvent(c *gin.Context) {
	eventID := c.Param("event_id")
	if eventID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "event_id is required",
		})
		return
	}

	event, err := h.ledger.GetEvent(c.Request.Context(), eventID)
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "event not found",
			})
			return
		}
		h.logger.Error("Failed to get event",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get event",
		})
		return
	}

	c.JSON(http.StatusOK, toEventDTO(event))
}

// ListEvents handles GET /api/v1/events with filtering and keyset
// pagination; without an explicit status filter it lists FAILED events,
// the listing operators reach for.
func (h *EventHandler) ListEvents(c *gin.Context) {
	var req ListEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status == "" {
		req.Status = domain.EventStatusFailed
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeEventCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := ledger.EventFilter{
		Status:   req.Status,
		Type:     req.Type,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	events, err := h.ledger.ListEvents(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list events", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list events",
		})
		return
	}

	hasMore := len(events) > req.PageSize
	if hasMore {
		events = events[:req.PageSize]
	}

	response := make([]EventDTO, len(events))
	for i := range events {
		response[i] = toEventDTO(&events[i])
	}

	var nextCursor string
	if hasMore {
		last := events[len(events)-1]
		nextCursor = EncodeEventCursor(&ledger.EventCursor{
			CreatedAt: last.CreatedAt,
			EventID:   last.EventID,
		})
	}

	c.JSON(http.StatusOK, ListEventsResponse{
		Events:     response,
		NextCursor: nextCursor,
	})
}

// QueueStats handles GET /api/v1/queue/stats
func (h *EventHandler) QueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get queue stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get queue stats",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ReplayDeadLetters handles POST /api/v1/dlq/replay
func (h *EventHandler) ReplayDeadLetters(c *gin.Context) {
	replayed, err := h.replayer.ReplayAll(c.Request.Context())
	if err != nil {
		h.logger.Error("Dead letter replay failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to replay dead letters",
		})
		return
	}

	h.logger.Info("Dead letter replay triggered",
		slog.Int("replayed", replayed),
	)

	c.JSON(http.StatusOK, ReplayResponse{Replayed: replayed})
}

func toEventDTO(event *domain.Event) EventDTO {
	dto := EventDTO{
		EventID:       event.EventID,
		Type:          event.Type,
		Payload:       event.Payload,
		Status:        event.Status,
		Attempts:      event.Attempts,
		Error:         event.Error,
		CorrelationID: event.CorrelationID,
		CreatedAt:     event.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     event.UpdatedAt.Format(time.RFC3339),
	}

	if event.ProcessedAt != nil {
		processedAt := event.ProcessedAt.Format(time.RFC3339)
		dto.ProcessedAt = &processedAt
	}

	return dto
}
