package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/greenhouse/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greenhouse_http_requests_total",
		Help: "test counter",
	}, []string{"method"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "greenhouse_store_transaction_duration_seconds",
		Help: "test histogram",
	})
	runtime := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "go_goroutines",
		Help: "not a greenhouse metric",
	})
	reg.MustRegister(counter, histogram, runtime)
	runtime.Set(12)
	counter.WithLabelValues("POST").Add(3)
	histogram.Observe(0.25)
	return reg
}

func TestNewPusherSelectsExporter(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.MetricsPushConfig
		want any
	}{
		{"disabled", config.MetricsPushConfig{Enabled: false, Endpoint: "http://x"}, nil},
		{"missing endpoint", config.MetricsPushConfig{Enabled: true}, nil},
		{"unknown exporter", config.MetricsPushConfig{Enabled: true, Exporter: "statsd", Endpoint: "http://x"}, nil},
		{"bad url", config.MetricsPushConfig{Enabled: true, Exporter: ExporterRemoteWrite, Endpoint: "::"}, nil},
		{"remote write", config.MetricsPushConfig{Enabled: true, Exporter: ExporterRemoteWrite, Endpoint: "http://prom/api/v1/write"}, &RemoteWritePusher{}},
		{"pushgateway", config.MetricsPushConfig{Enabled: true, Exporter: ExporterPushgateway, Endpoint: "http://gateway:9091"}, &PushgatewayPusher{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPusher(config.Config{AppName: "greenhouse", MetricsPush: tc.cfg}, zap.NewNop())
			if tc.want == nil {
				assert.Nil(t, p)
				return
			}
			assert.IsType(t, tc.want, p)
		})
	}
}

func TestRemoteWritePush(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		written prompb.WriteRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		require.NoError(t, written.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewRemoteWritePusher(srv.URL, "token-1", map[string]string{"environment": "test", "method": "ignored"})
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }
	require.NoError(t, p.Push(context.Background(), testRegistry(t)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer token-1", headers.Get("Authorization"))

	names := map[string]float64{}
	for _, ts := range written.Timeseries {
		require.Len(t, ts.Samples, 1)
		assert.Equal(t, int64(1700000000000), ts.Samples[0].Timestamp)
		labels := map[string]string{}
		for _, l := range ts.Labels {
			labels[l.Name] = l.Value
		}
		assert.Equal(t, "test", labels["environment"])
		key := labels["__name__"]
		if le, ok := labels["le"]; ok {
			key += "{le=" + le + "}"
		}
		names[key] = ts.Samples[0].Value
		if key == "greenhouse_http_requests_total" {
			assert.Equal(t, "POST", labels["method"], "metric labels win over external labels")
		}
	}
	assert.NotContains(t, names, "go_goroutines")
	assert.Equal(t, 3.0, names["greenhouse_http_requests_total"])
	assert.Equal(t, 1.0, names["greenhouse_store_transaction_duration_seconds_bucket{le=+Inf}"])
	assert.Equal(t, 1.0, names["greenhouse_store_transaction_duration_seconds_bucket{le=0.25}"])
	assert.Equal(t, 0.0, names["greenhouse_store_transaction_duration_seconds_bucket{le=0.1}"])
	assert.Equal(t, 1.0, names["greenhouse_store_transaction_duration_seconds_count"])
	assert.Equal(t, 0.25, names["greenhouse_store_transaction_duration_seconds_sum"])
}

func TestRemoteWritePushReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "", nil).Push(context.Background(), testRegistry(t))
	assert.ErrorContains(t, err, "400")
}

func TestPushgatewayPush(t *testing.T) {
	var path, method, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		path, method, body = r.URL.Path, r.Method, string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPushgatewayPusher(srv.URL, "greenhouse", map[string]string{"environment": "test", "empty": " "})
	require.NoError(t, p.Push(context.Background(), testRegistry(t)))
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/greenhouse"), path)
	assert.Contains(t, path, "/environment/test")
	assert.NotContains(t, path, "empty")
	assert.NotContains(t, body, "go_goroutines")
}

func TestPushgatewayRequiresJob(t *testing.T) {
	err := NewPushgatewayPusher("http://gateway", " ", nil).Push(context.Background(), testRegistry(t))
	assert.Error(t, err)
}

type countingPusher struct {
	mu    sync.Mutex
	calls int
}

func (c *countingPusher) Push(context.Context, prometheus.Gatherer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingPusher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestWorkerPushesUntilCancelled(t *testing.T) {
	p := &countingPusher{}
	w := &worker{pusher: p, gatherer: testRegistry(t), interval: 5 * time.Millisecond, log: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(ctx)
	}()

	assert.Eventually(t, func() bool { return p.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSourceLabels(t *testing.T) {
	labels := sourceLabels(config.Config{Environment: " staging ", StorageBackend: config.StorageRedis})
	assert.Equal(t, map[string]string{"environment": "staging", "storage_backend": "redis"}, labels)
	assert.Empty(t, sourceLabels(config.Config{}))
}
