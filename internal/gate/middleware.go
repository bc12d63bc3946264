package gate

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/event-router/internal/gate/sigauth"
	"github.com/gin-gonic/gin"
)

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		logger.Info("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.Duration("latency", latency),
			slog.Int("body_size", c.Writer.Size()),
		)

		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				logger.Error("Request error",
					slog.String("error", e.Error()),
				)
			}
		}
	}
}

// SignatureMiddleware verifies the producer HMAC signature over the raw
// request body before any handler sees it. The body is restored for the
// downstream JSON binding.
func SignatureMiddleware(deps *Dependencies) gin.HandlerFunc {
	maxBodyBytes := deps.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}

	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "failed to read request body",
			})
			return
		}

		if int64(len(body)) > maxBodyBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}

		err = sigauth.Verify(sigauth.Input{
			Secret:          deps.SignatureSecret,
			TimestampHeader: c.GetHeader("X-Timestamp"),
			SignatureHeader: c.GetHeader("X-Signature"),
			Body:            body,
			Window:          deps.TimestampWindow,
			Now:             time.Now(),
		})
		if err != nil {
			deps.Logger.Warn("Rejected unauthenticated submission",
				slog.String("ip", c.ClientIP()),
				slog.String("error", err.Error()),
			)

			status := http.StatusUnauthorized
			if errors.Is(err, sigauth.ErrInvalidTimestamp) ||
				errors.Is(err, sigauth.ErrTimestampOutsideWindow) {
				status = http.StatusBadRequest
			}

			c.AbortWithStatusJSON(status, gin.H{
				"error": err.Error(),
			})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
