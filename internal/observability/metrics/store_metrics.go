package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Reasons a storage unit of work ends with. "none" marks a commit.
const (
	StoreReasonNone                 = "none"
	StoreReasonDeadlineExceeded     = "deadline_exceeded"
	StoreReasonCanceled             = "canceled"
	StoreReasonDBLockTimeout        = "db_lock_timeout"
	StoreReasonSerializationFailure = "serialization_failure"
	StoreReasonUniqueViolation      = "unique_violation"
	StoreReasonRedisUnavailable     = "redis_unavailable"
	StoreReasonUnknown              = "unknown"
)

// postgresReasons maps SQLSTATE codes to reasons.
var postgresReasons = map[string]string{
	"55P03": StoreReasonDBLockTimeout,
	"40001": StoreReasonSerializationFailure,
	"40P01": StoreReasonSerializationFailure,
	"23505": StoreReasonUniqueViolation,
}

// StoreMetrics counts Store.Atomic calls per backend and reason.
type StoreMetrics struct {
	transactions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewStoreMetrics registers the storage collectors on registerer.
func NewStoreMetrics(registerer prometheus.Registerer, cfg Config) (*StoreMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	transactions, err := registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "greenhouse_store_transactions_total",
		Help:        "Storage units of work by backend and failure reason.",
		ConstLabels: labels,
	}, []string{"backend", "reason"}))
	if err != nil {
		return nil, err
	}
	duration, err := registerCollector(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "greenhouse_store_transaction_duration_seconds",
		Help:        "Storage unit of work latency by backend.",
		Buckets:     []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		ConstLabels: labels,
	}, []string{"backend"}))
	if err != nil {
		return nil, err
	}
	return &StoreMetrics{transactions: transactions, duration: duration}, nil
}

// ObserveTransaction records one unit of work and its outcome.
func (m *StoreMetrics) ObserveTransaction(backend string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(backend, ClassifyStoreReason(err)).Inc()
	m.duration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// ClassifyStoreReason maps a storage error to a low-cardinality reason.
func ClassifyStoreReason(err error) string {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return StoreReasonNone
	case errors.Is(err, context.DeadlineExceeded):
		return StoreReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return StoreReasonCanceled
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return StoreReasonUniqueViolation
	case errors.Is(err, redis.ErrClosed), errors.Is(err, redis.ErrPoolTimeout):
		return StoreReasonRedisUnavailable
	case errors.As(err, &pgErr):
		if reason, ok := postgresReasons[pgErr.Code]; ok {
			return reason
		}
		return StoreReasonUnknown
	case strings.Contains(err.Error(), "database is locked"):
		// SQLITE_BUSY surfaces only as text through the pure Go driver.
		return StoreReasonDBLockTimeout
	}
	return StoreReasonUnknown
}
