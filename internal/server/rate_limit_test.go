package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/greenhouse/internal/observability"
	"github.com/smallbiznis/greenhouse/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRateLimitedEngine(t *testing.T, limiter *ratelimit.DeviceLimiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := NewEngine(observability.Config{Environment: "test"}, nil)
	NewServer(ServerParams{Gin: r, SensorDataSvc: &fakeSensorDataService{}, DeviceLimiter: limiter})
	return r
}

func TestDeviceRateLimit(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := newRateLimitedEngine(t, ratelimit.NewDeviceLimiterWithClient(client, "test", 0.001, 1, zap.NewNop()))
	body := `{"device_id":"gh-1","temperature":21.5,"humidity":40,"soil_moisture":35}`

	w := doJSON(r, http.MethodPost, "/api/sensor-data", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, http.MethodPost, "/api/sensor-data", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decodeError(t, w).Type)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	w = doJSON(r, http.MethodGet, "/api/sensor-data/0", "")
	assert.Equal(t, http.StatusOK, w.Code, "reads are never throttled")

	w = doJSON(r, http.MethodPost, "/api/sensor-data", `{"device_id":"gh-2","temperature":21.5,"humidity":40,"soil_moisture":35}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestDeviceRateLimitKeepsBodyForHandler(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := newRateLimitedEngine(t, ratelimit.NewDeviceLimiterWithClient(client, "test", 1, 5, zap.NewNop()))

	w := doJSON(r, http.MethodPut, "/api/sensor-data/3", `{"device_id":"gh-7","temperature":1,"humidity":2,"soil_moisture":3}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"device_id":"gh-7"`)
}

func TestOversizedBodyIsRejected(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	t.Cleanup(func() { _ = client.Close() })

	body := `{"device_id":"gh-1","temperature":21.5,"humidity":40,"soil_moisture":35,"note":"` +
		strings.Repeat("x", maxBodyBytes) + `"}`

	engines := map[string]*gin.Engine{
		"rate limited": newRateLimitedEngine(t, ratelimit.NewDeviceLimiterWithClient(client, "test", 1, 5, zap.NewNop())),
		"unlimited":    newTestEngine(t, &fakeSensorDataService{}),
	}
	for name, r := range engines {
		t.Run(name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/api/sensor-data", body)
			require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, name)
			assert.Equal(t, "payload_too_large", decodeError(t, w).Type)
		})
	}
}
