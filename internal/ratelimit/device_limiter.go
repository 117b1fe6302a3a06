package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/greenhouse/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyDeviceWrites = "%s:ratelimit:device:%s"

// DeviceLimiter throttles writes per device_id. A nil limiter allows everything.
type DeviceLimiter struct {
	bucket *deviceBucket
	prefix string
	log    *zap.Logger
}

// NewDeviceLimiter returns nil when rate limiting is disabled.
func NewDeviceLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*DeviceLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.DeviceRate <= 0 || limitCfg.DeviceBurst <= 0 {
		return nil, errors.New("device rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
	}

	return NewDeviceLimiterWithClient(client, cfg.Redis.KeyPrefix, limitCfg.DeviceRate, limitCfg.DeviceBurst, log), nil
}

func NewDeviceLimiterWithClient(client *redis.Client, prefix string, rate float64, burst int, log *zap.Logger) *DeviceLimiter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "greenhouse"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DeviceLimiter{
		bucket: newDeviceBucket(client, rate, burst),
		prefix: prefix,
		log:    log.Named("ratelimit.device"),
	}
}

func (l *DeviceLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowDevice takes one token from the device bucket. Redis failures fail
// open so an unavailable limiter never blocks telemetry.
func (l *DeviceLimiter) AllowDevice(ctx context.Context, deviceID string) Decision {
	if !l.Enabled() {
		return Decision{Allowed: true}
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Decision{Allowed: true}
	}

	d, err := l.bucket.take(ctx, l.deviceKey(deviceID))
	if err != nil {
		l.log.Warn("rate limit check failed, allowing request", zap.String("device_id", deviceID), zap.Error(err))
		return Decision{Allowed: true}
	}
	return d
}

func (l *DeviceLimiter) deviceKey(deviceID string) string {
	return fmt.Sprintf(keyDeviceWrites, l.prefix, deviceID)
}
