package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/greenhouse/internal/observability/metrics"
	"github.com/smallbiznis/greenhouse/internal/sensordata/domain"
)

type instrumentedStore struct {
	next    domain.Store
	backend string
	metrics *metrics.StoreMetrics
}

// Instrument observes every unit of work on store. Domain outcomes such as
// not found count as successful transactions.
func Instrument(store domain.Store, backend string, m *metrics.StoreMetrics) domain.Store {
	if m == nil {
		return store
	}
	return &instrumentedStore{next: store, backend: backend, metrics: m}
}

func (s *instrumentedStore) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	start := time.Now()
	err := s.next.Atomic(ctx, fn)

	observed := err
	if _, ok := domain.AsError(err); ok {
		observed = nil
	}
	s.metrics.ObserveTransaction(s.backend, time.Since(start), observed)
	return err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
