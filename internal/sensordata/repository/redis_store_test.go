package repository

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/greenhouse/internal/sensordata/codec"
	"github.com/smallbiznis/greenhouse/internal/sensordata/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRedisTestClient targets GREENHOUSE_TEST_REDIS_ADDR when set and an
// in-process miniredis otherwise.
func newRedisTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("GREENHOUSE_TEST_REDIS_ADDR")
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}

func TestRedisStoreLifecycle(t *testing.T) {
	client := newRedisTestClient(t)
	prefix := "test-" + t.Name()
	store := NewRedisStore(client, codec.New(), prefix)
	t.Cleanup(func() {
		ctx := context.Background()
		client.Del(ctx, prefix+":sensor_data:next_id", prefix+":sensor_data:records")
		_ = store.Close()
	})
	ctx := context.Background()

	var ids []uint64
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Atomic(ctx, func(tx domain.Tx) error {
			id, err := tx.NextID(ctx)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return tx.Put(ctx, sampleRecord(id))
		}))
	}
	assert.Equal(t, []uint64{0, 1, 2}, ids)

	require.NoError(t, store.Atomic(ctx, func(tx domain.Tx) error {
		got, err := tx.Get(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, *sampleRecord(1), *got)

		missing, err := tx.Get(ctx, 99)
		require.NoError(t, err)
		assert.Nil(t, missing)

		removed, err := tx.Remove(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, removed)
		assert.Equal(t, uint64(1), removed.ID)

		again, err := tx.Remove(ctx, 1)
		require.NoError(t, err)
		assert.Nil(t, again)
		return nil
	}))
}

func TestRedisStoreSurvivesNewClient(t *testing.T) {
	addr := os.Getenv("GREENHOUSE_TEST_REDIS_ADDR")
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}
	prefix := "test-" + t.Name()
	ctx := context.Background()

	first := NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}), codec.New(), prefix)
	require.NoError(t, first.Atomic(ctx, func(tx domain.Tx) error {
		id, err := tx.NextID(ctx)
		if err != nil {
			return err
		}
		return tx.Put(ctx, sampleRecord(id))
	}))
	require.NoError(t, first.Close())

	client := redis.NewClient(&redis.Options{Addr: addr})
	second := NewRedisStore(client, codec.New(), prefix)
	t.Cleanup(func() {
		client.Del(context.Background(), prefix+":sensor_data:next_id", prefix+":sensor_data:records")
		_ = second.Close()
	})

	require.NoError(t, second.Atomic(ctx, func(tx domain.Tx) error {
		got, err := tx.Get(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, got)

		id, err := tx.NextID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)
		return nil
	}))
}

func TestRedisStoreClosedClientIsStorageFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	store := NewRedisStore(client, codec.New(), "")
	require.NoError(t, store.Close())

	err := store.Atomic(context.Background(), func(tx domain.Tx) error {
		_, err := tx.NextID(context.Background())
		return err
	})
	assert.ErrorIs(t, err, domain.ErrStorage)
}
