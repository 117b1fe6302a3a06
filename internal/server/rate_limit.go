package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/greenhouse/internal/observability/logger"
	"go.uber.org/zap"
)

type deviceRateLimitKey struct {
	DeviceID string `json:"device_id"`
}

// DeviceRateLimit throttles writes per device_id found in the JSON body.
func (s *Server) DeviceRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.deviceLimiter.Enabled() {
			c.Next()
			return
		}

		deviceID, err := readDeviceID(c)
		if errors.Is(err, ErrPayloadTooLarge) {
			AbortWithError(c, err)
			return
		}
		if err != nil {
			AbortWithError(c, invalidRequestError("body", "request body could not be read"))
			return
		}
		if deviceID == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res := s.deviceLimiter.AllowDevice(ctx, deviceID)
		if res.Allowed {
			s.obsMetrics.RecordIngest(ctx, "http", "allowed")
			c.Next()
			return
		}

		logger.FromContext(ctx).Warn("device rate limit exceeded", zap.String("device_id", deviceID))
		s.obsMetrics.RecordIngest(ctx, "http", "rate_limited")

		for name, value := range res.Headers() {
			c.Header(name, value)
		}
		AbortWithError(c, ErrRateLimited)
	}
}

func readDeviceID(c *gin.Context) (string, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		return "", err
	}
	if len(body) > maxBodyBytes {
		return "", ErrPayloadTooLarge
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload deviceRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.DeviceID), nil
}
