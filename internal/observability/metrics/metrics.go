package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const exportInterval = 10 * time.Second

// Config configures the meter provider and the prometheus collectors.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string
	ServiceName    string
	Environment    string
	StorageBackend string
}

// Metrics holds the sensor data instruments. A nil *Metrics records nothing.
type Metrics struct {
	operations metric.Int64Counter
	latency    metric.Float64Histogram
	ingest     metric.Int64Counter
	backend    attribute.KeyValue
}

// NewProvider installs the global meter provider. Without OTLP export the
// provider is a no-op and only the prometheus collectors report.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.Protocol, cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{OnStop: provider.Shutdown})
	}
	if log != nil {
		log.Info("otlp metrics export configured",
			zap.String("endpoint", cfg.Endpoint),
			zap.String("protocol", cfg.Protocol),
			zap.Duration("interval", exportInterval),
		)
	}
	return provider, nil
}

// New creates the sensor data instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("greenhouse/sensordata")
	m := &Metrics{backend: attribute.String("backend", cfg.StorageBackend)}

	var err error
	if m.operations, err = meter.Int64Counter("greenhouse_sensor_data_operations_total",
		metric.WithDescription("Sensor data operations by name and outcome."),
	); err != nil {
		return nil, fmt.Errorf("operations counter: %w", err)
	}
	if m.latency, err = meter.Float64Histogram("greenhouse_sensor_data_operation_duration_seconds",
		metric.WithDescription("Sensor data operation latency including storage."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("operation latency histogram: %w", err)
	}
	if m.ingest, err = meter.Int64Counter("greenhouse_ingest_messages_total",
		metric.WithDescription("Telemetry writes received per source and outcome."),
	); err != nil {
		return nil, fmt.Errorf("ingest counter: %w", err)
	}
	return m, nil
}

// RecordOperation counts a service operation by outcome and observes its latency.
func (m *Metrics) RecordOperation(ctx context.Context, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	set := metric.WithAttributes(FilterAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
		m.backend,
	)...)
	m.operations.Add(ctx, 1, set)
	m.latency.Record(ctx, elapsed.Seconds(), set)
}

// RecordIngest counts a write received from the HTTP API or the broker.
func (m *Metrics) RecordIngest(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.ingest.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch protocol {
	case "grpc", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unsupported OTLP metric protocol %q", protocol)
}

// labelKeys are the only attribute keys sensor data metrics may carry.
// Device and record ids are unbounded and never become labels.
var labelKeys = map[attribute.Key]bool{
	"operation":   true,
	"outcome":     true,
	"source":      true,
	"backend":     true,
	"status_code": true,
}

// FilterAttributes drops keys outside labelKeys and empty values.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if !labelKeys[attr.Key] || attr.Value.Emit() == "" {
			continue
		}
		out = append(out, attr)
	}
	return out
}
