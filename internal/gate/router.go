package gate

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "event-router-api",
		})
	})

	eventHandler := NewEventHandler(deps)

	v1 := r.Group("/api/v1")
	{
		events := v1.Group("/events")
		{
			// POST /api/v1/events - Ingest a producer submission
			events.POST("", SignatureMiddleware(deps), eventHandler.IngestEvent)

			// GET /api/v1/events - List events (defaults to FAILED)
			events.GET("", eventHandler.ListEvents)

			// GET /api/v1/events/:event_id - Ledger status for one event
			events.GET("/:event_id", eventHandler.GetEvent)
		}

		// GET /api/v1/queue/stats - Job counts by lease state
		v1.GET("/queue/stats", eventHandler.QueueStats)

		// POST /api/v1/dlq/replay - Re-enqueue all quarantined jobs
		v1.POST("/dlq/replay", eventHandler.ReplayDeadLetters)
	}

	return r
}
