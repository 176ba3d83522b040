package web

import (
	"time"

	"github.com/gin-gonic/gin"

	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/metrics"
)

// requestLogger tags every request with an id, logs it when done, and
// counts it by route.
func requestLogger(log *logger.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := logger.RequestID(c.Request)
		c.Request.Header.Set(logger.RequestIDHeader, id)
		c.Header(logger.RequestIDHeader, id)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.RecordHTTPRequest(c.Request.Method, route, status)
		entry := log.WithRequest(c.Request).
			WithField("status", status).
			WithField("latency_ms", time.Since(start).Milliseconds())
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}
		switch {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request served")
		}
	}
}
