package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/greenhouse/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const serverTracerName = "greenhouse/http"

// GinMiddleware opens a server span per request, continuing any trace the
// caller propagated. The span is named after the sensor data operation once
// the route has run, or after method and route when no operation was set.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := otel.Tracer(serverTracerName).Start(ctx, "HTTP "+c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		status := c.Writer.Status()
		attrs := []attribute.KeyValue{
			attribute.String("http.request.method", c.Request.Method),
			attribute.Int("http.response.status_code", status),
		}
		if route != "" {
			attrs = append(attrs, attribute.String("http.route", route))
		}
		if id := obscontext.RequestIDFromContext(c.Request.Context()); id != "" {
			attrs = append(attrs, attribute.String("request_id", id))
		}
		if id := c.Param("id"); id != "" {
			attrs = append(attrs, attribute.String("sensor_data.id", id))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		switch op := obscontext.OperationFromContext(c.Request.Context()); {
		case op != "":
			span.SetName(op)
		case route != "":
			span.SetName("HTTP " + c.Request.Method + " " + route)
		}

		if status < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}
