package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HeaderCorrelationID is the HTTP header name for correlation IDs.
	HeaderCorrelationID = "X-Correlation-Id"

	// HeaderTraceID is the HTTP header name for trace IDs.
	HeaderTraceID = "X-Trace-Id"

	// CorrelationIDKey is the gin context key for the correlation ID.
	CorrelationIDKey = "correlation_id"

	// TraceIDKey is the gin context key for the trace ID.
	TraceIDKey = "trace_id"
)

// CorrelationMiddleware propagates or generates X-Correlation-Id, and
// exposes the OpenTelemetry trace ID (when a span is recording) as
// X-Trace-Id. Both values are stored in the gin context for the proxy
// handler to forward upstream.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		traceID := c.GetHeader(HeaderTraceID)
		if spanCtx := trace.SpanContextFromContext(c.Request.Context()); spanCtx.HasTraceID() {
			traceID = spanCtx.TraceID().String()
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Header(HeaderCorrelationID, correlationID)
		if traceID != "" {
			c.Set(TraceIDKey, traceID)
			c.Header(HeaderTraceID, traceID)
		}

		c.Next()
	}
}
