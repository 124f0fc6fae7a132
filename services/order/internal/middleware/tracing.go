package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/saga-choreography/pkg/logger"
)

// HTTP заголовки для трассировки.
const (
	HeaderTraceID       = "X-Trace-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID" // алиас для Trace ID
)

// RequestIDs кладёт trace_id и correlation_id в контекст запроса
// (генерирует, если клиент их не передал) и пишет access log.
// Эти же идентификаторы уходят в заголовки события саги.
func RequestIDs() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := firstNonEmpty(c.GetHeader(HeaderTraceID), c.GetHeader(HeaderRequestID))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		ctx := logger.NewContextWithIDs(c.Request.Context(), traceID, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, traceID)
		c.Header(HeaderCorrelationID, correlationID)
		c.Set("trace_id", traceID)
		c.Set("correlation_id", correlationID)

		c.Next()

		log := logger.FromContext(ctx)
		status := c.Writer.Status()
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("HTTP запрос")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
