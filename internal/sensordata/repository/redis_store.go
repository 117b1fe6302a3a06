package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/greenhouse/internal/sensordata/codec"
	"github.com/smallbiznis/greenhouse/internal/sensordata/domain"
)

const defaultKeyPrefix = "greenhouse"

// HGET and HDEL as one step so a concurrent remove cannot return the same record twice.
const removeRecordScript = `
local v = redis.call("HGET", KEYS[1], ARGV[1])
if v then
  redis.call("HDEL", KEYS[1], ARGV[1])
end
return v
`

type redisStore struct {
	client     *redis.Client
	codec      codec.Codec
	counterKey string
	recordsKey string
	remove     *redis.Script
}

// NewRedisStore returns a Store that keeps the counter in a string key
// (INCR) and records in a hash keyed by decimal id. Redis has no
// multi-command rollback here, so an id consumed by a failed create is
// skipped rather than reissued.
func NewRedisStore(client *redis.Client, c codec.Codec, keyPrefix string) domain.Store {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &redisStore{
		client:     client,
		codec:      c,
		counterKey: fmt.Sprintf("%s:%s:next_id", prefix, DefaultCounterName),
		recordsKey: fmt.Sprintf("%s:%s:records", prefix, DefaultCounterName),
		remove:     redis.NewScript(removeRecordScript),
	}
}

func (s *redisStore) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	return fn(s)
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) NextID(ctx context.Context) (uint64, error) {
	next, err := s.client.Incr(ctx, s.counterKey).Result()
	if err != nil {
		return 0, domain.StorageFailure("increment counter", err)
	}
	if next <= 0 {
		return 0, domain.StorageFailure("increment counter", fmt.Errorf("counter %q holds %d", s.counterKey, next))
	}
	return uint64(next - 1), nil
}

func (s *redisStore) Get(ctx context.Context, id uint64) (*domain.SensorData, error) {
	raw, err := s.client.HGet(ctx, s.recordsKey, field(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageFailure("get record", err)
	}
	return s.decode(raw)
}

func (s *redisStore) Put(ctx context.Context, data *domain.SensorData) error {
	if data == nil {
		return domain.StorageFailure("put record", fmt.Errorf("nil record"))
	}
	payload, err := s.codec.Encode(*data)
	if err != nil {
		return domain.StorageFailure("encode record", err)
	}
	if err := s.client.HSet(ctx, s.recordsKey, field(data.ID), payload).Err(); err != nil {
		return domain.StorageFailure("put record", err)
	}
	return nil
}

func (s *redisStore) Remove(ctx context.Context, id uint64) (*domain.SensorData, error) {
	raw, err := s.remove.Run(ctx, s.client, []string{s.recordsKey}, field(id)).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageFailure("remove record", err)
	}
	return s.decode([]byte(raw))
}

func (s *redisStore) decode(raw []byte) (*domain.SensorData, error) {
	data, err := s.codec.Decode(raw)
	if err != nil {
		return nil, domain.StorageFailure("decode record", err)
	}
	return &data, nil
}

func field(id uint64) string {
	return strconv.FormatUint(id, 10)
}
