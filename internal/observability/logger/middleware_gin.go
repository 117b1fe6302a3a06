package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/greenhouse/internal/observability/context"
	"github.com/smallbiznis/greenhouse/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	// Debug adds a stack trace to requests that end in an error.
	Debug bool
	// ErrorClassifier maps a handler error to its response type and code.
	ErrorClassifier func(err error) (errType, code string)
}

// GinMiddleware assigns request and correlation IDs, then writes one
// "http_request" entry per API call. Health and metrics scrapes are not logged.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx, correlationID := correlation.Ensure(ctx, c.GetHeader(correlation.HeaderName))
		c.Header(correlation.HeaderName, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "/health" || route == "/metrics" {
			return
		}
		if route == "" {
			route = "unmatched"
		}

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if op := obscontext.OperationFromContext(c.Request.Context()); op != "" {
			fields = append(fields, zap.String("api_operation", op))
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, zap.String("sensor_data_id", id))
		}

		var errType string
		if lastErr := c.Errors.Last(); lastErr != nil && cfg.ErrorClassifier != nil {
			var code string
			errType, code = cfg.ErrorClassifier(lastErr.Err)
			fields = append(fields, zap.String("error_type", errType), zap.String("error_code", code))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		if ce := FromContext(c.Request.Context()).Check(requestLevel(status, errType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

// requestLevel logs server faults as errors and throttled or oversized
// writes as warnings. Ordinary client mistakes stay at debug.
func requestLevel(status int, errType string) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status == http.StatusTooManyRequests, status == http.StatusRequestEntityTooLarge:
		return zapcore.WarnLevel
	case errType != "":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
