package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/pkg/tracing"
)

// HTTP заголовки корреляции.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// RequestContext кладёт trace_id и correlation_id в контекст запроса и логирует запрос.
// trace_id берётся из span otelgin, если трассировка включена, иначе из X-Request-ID.
// Ставится после otelgin.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()

		traceID := tracing.TraceID(ctx)
		if traceID == "" {
			traceID = c.GetHeader(HeaderRequestID)
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}

		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		ctx = logger.NewContextWithIDs(ctx, traceID, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderRequestID, traceID)
		c.Header(HeaderCorrelationID, correlationID)

		c.Next()

		status := c.Writer.Status()
		log := logger.FromContext(ctx)
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Запрос обработан")
	}
}
