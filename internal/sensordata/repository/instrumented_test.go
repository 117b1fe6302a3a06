package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/greenhouse/internal/observability/metrics"
	"github.com/smallbiznis/greenhouse/internal/sensordata/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentCountsDomainOutcomesAsSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewStoreMetrics(reg, metrics.Config{})
	require.NoError(t, err)

	base, _ := newSQLTestStore(t, true)
	store := Instrument(base, "sql", m)
	ctx := context.Background()

	err = store.Atomic(ctx, func(tx domain.Tx) error {
		return domain.NotFound("Sensor data with id=%d not found", 1)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = store.Atomic(ctx, func(tx domain.Tx) error {
		return domain.StorageFailure("put record", errors.New("boom"))
	})
	assert.ErrorIs(t, err, domain.ErrStorage)

	count, err := testutil.GatherAndCount(reg, "greenhouse_store_transactions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestInstrumentWithoutMetricsReturnsStore(t *testing.T) {
	base, _ := newSQLTestStore(t, true)
	assert.Same(t, base, Instrument(base, "sql", nil))
}
