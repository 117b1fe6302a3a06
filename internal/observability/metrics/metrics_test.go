package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	obscontext "github.com/smallbiznis/greenhouse/internal/observability/context"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"gorm.io/gorm"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("operation", "create"),
		attribute.String("device_id", "gh-1"),
		attribute.String("outcome", "ok"),
		attribute.String("backend", ""),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "operation" && attrs[1].Key != "operation" {
		t.Fatalf("expected operation to be retained")
	}
	if attrs[0].Key != "outcome" && attrs[1].Key != "outcome" {
		t.Fatalf("expected outcome to be retained")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordOperation(context.Background(), "create", "ok", time.Millisecond)
	m.RecordIngest(context.Background(), "mqtt", "ok")

	var s *StoreMetrics
	s.ObserveTransaction("sql", time.Millisecond, nil)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordOperation(context.Background(), "get", "not_found", time.Millisecond)
}

func TestClassifyStoreReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: StoreReasonNone},
		{name: "deadline", err: fmt.Errorf("wrap: %w", context.DeadlineExceeded), want: StoreReasonDeadlineExceeded},
		{name: "canceled", err: context.Canceled, want: StoreReasonCanceled},
		{name: "lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: StoreReasonDBLockTimeout},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: StoreReasonSerializationFailure},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: StoreReasonSerializationFailure},
		{name: "other pg", err: &pgconn.PgError{Code: "42P01"}, want: StoreReasonUnknown},
		{name: "duplicate", err: gorm.ErrDuplicatedKey, want: StoreReasonUniqueViolation},
		{name: "sqlite busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: StoreReasonDBLockTimeout},
		{name: "redis closed", err: fmt.Errorf("storage_failure: commit: %w", redis.ErrClosed), want: StoreReasonRedisUnavailable},
		{name: "unknown", err: errors.New("boom"), want: StoreReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyStoreReason(tc.err); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestStoreMetricsObserveTransaction(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewStoreMetrics(reg, Config{ServiceName: "greenhouse", Environment: "test"})
	if err != nil {
		t.Fatalf("new store metrics: %v", err)
	}

	m.ObserveTransaction("sql", time.Millisecond, nil)
	m.ObserveTransaction("sql", time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(m.transactions.WithLabelValues("sql", StoreReasonNone)); got != 1 {
		t.Fatalf("expected 1 successful transaction, got %v", got)
	}
	if got := testutil.ToFloat64(m.transactions.WithLabelValues("sql", StoreReasonUnknown)); got != 1 {
		t.Fatalf("expected 1 failed transaction, got %v", got)
	}

	again, err := NewStoreMetrics(reg, Config{ServiceName: "greenhouse", Environment: "test"})
	if err != nil {
		t.Fatalf("re-register store metrics: %v", err)
	}
	if again.transactions != m.transactions {
		t.Fatalf("expected existing collector to be reused")
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg, Config{StorageBackend: "sql"})
	if err != nil {
		t.Fatalf("new http metrics: %v", err)
	}

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/sensor-data/:id", func(c *gin.Context) {
		c.Request = c.Request.WithContext(obscontext.WithOperation(c.Request.Context(), "sensor_data.get"))
		c.Status(http.StatusNotFound)
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/api/sensor-data/7", "/health", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	cases := map[[2]string]float64{
		{"sensor_data.get", "404"}: 1,
		{"/health", "200"}:         1,
		{"unmatched", "404"}:       1,
	}
	for labels, want := range cases {
		if got := testutil.ToFloat64(m.requests.WithLabelValues(labels[0], labels[1])); got != want {
			t.Fatalf("expected %v requests for %v, got %v", want, labels, got)
		}
	}
}

func TestRecordOperationLabelsBackend(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := New(Config{StorageBackend: "redis"}, provider)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordOperation(context.Background(), "create", "ok", time.Millisecond)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok || metric.Name != "greenhouse_sensor_data_operations_total" {
				continue
			}
			backend, _ := sum.DataPoints[0].Attributes.Value("backend")
			if backend.AsString() != "redis" {
				t.Fatalf("expected backend redis, got %q", backend.AsString())
			}
			return
		}
	}
	t.Fatalf("operations counter not collected")
}
