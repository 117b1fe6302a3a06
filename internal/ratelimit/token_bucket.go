package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// deviceBucketScript spends one token from the bucket in KEYS[1]. Tokens are
// kept as a string so fractional refills survive the trip through redis.
// Reply: {allowed, tokens, now_ms, wait_ms} where wait_ms is the time until
// the next whole token is available.
const deviceBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now_ms = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now_ms
if now_ms > ts then
  tokens = math.min(burst, tokens + (now_ms - ts) * rate / 1000)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

local wait_ms = 0
if tokens < 1 then
  wait_ms = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now_ms)
redis.call("PEXPIRE", KEYS[1], ttl_ms)
return {allowed, tostring(tokens), now_ms, wait_ms}
`

// Decision is the outcome of spending one token from a device bucket.
type Decision struct {
	Allowed    bool
	Burst      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Headers returns the throttling headers for a rejected write. Retry-After
// is rounded up to whole seconds and never below one.
func (d Decision) Headers() map[string]string {
	retry := int(math.Ceil(d.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	headers := map[string]string{
		"Retry-After":           strconv.Itoa(retry),
		"X-RateLimit-Limit":     strconv.Itoa(d.Burst),
		"X-RateLimit-Remaining": strconv.Itoa(d.Remaining),
	}
	if !d.ResetAt.IsZero() {
		headers["X-RateLimit-Reset"] = strconv.FormatInt(d.ResetAt.Unix(), 10)
	}
	return headers
}

// deviceBucket is a redis token bucket shared by every replica. All devices
// use the same rate and burst; each device has its own key.
type deviceBucket struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
	ttl    time.Duration
}

func newDeviceBucket(client *redis.Client, rate float64, burst int) *deviceBucket {
	if client == nil {
		return nil
	}
	return &deviceBucket{
		client: client,
		script: redis.NewScript(deviceBucketScript),
		rate:   rate,
		burst:  burst,
		ttl:    bucketTTL(rate, burst),
	}
}

func (b *deviceBucket) take(ctx context.Context, key string) (Decision, error) {
	if b.rate <= 0 || b.burst <= 0 {
		return Decision{}, errors.New("device bucket rate and burst must be positive")
	}

	reply, err := b.script.Run(ctx, b.client, []string{key}, b.rate, b.burst, b.ttl.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(reply) != 4 {
		return Decision{}, fmt.Errorf("device bucket: unexpected reply %v", reply)
	}

	allowed, _ := reply[0].(int64)
	tokenText, _ := reply[1].(string)
	tokens, err := strconv.ParseFloat(tokenText, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("device bucket: tokens %q: %w", tokenText, err)
	}
	nowMillis, _ := reply[2].(int64)
	waitMillis, _ := reply[3].(int64)

	wait := time.Duration(waitMillis) * time.Millisecond
	d := Decision{
		Allowed:   allowed == 1,
		Burst:     b.burst,
		Remaining: int(tokens),
		ResetAt:   time.UnixMilli(nowMillis).Add(wait),
	}
	if !d.Allowed {
		d.RetryAfter = wait
	}
	return d, nil
}

// bucketTTL keeps an idle bucket around for twice the time it takes to
// refill from empty.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil(float64(burst) / rate * 2)
	return time.Duration(math.Max(seconds, 1)) * time.Second
}
