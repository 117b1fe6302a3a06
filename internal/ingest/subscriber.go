package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/greenhouse/internal/observability/logger"
	"github.com/smallbiznis/greenhouse/internal/observability/metrics"
	"github.com/smallbiznis/greenhouse/internal/ratelimit"
	"github.com/smallbiznis/greenhouse/internal/sensordata/domain"
	"github.com/smallbiznis/greenhouse/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	sourceMQTT    = "mqtt"
	handleTimeout = 10 * time.Second
	tracerName    = "greenhouse/mqtt"
)

const (
	outcomeCreated     = "created"
	outcomeInvalidJSON = "invalid_json"
	outcomeInvalid     = "invalid_input"
	outcomeStorage     = "storage_failure"
	outcomeLimited     = "rate_limited"
	outcomeRetained    = "retained_skipped"
)

var (
	ErrRetained    = errors.New("retained message skipped")
	ErrInvalidJSON = errors.New("invalid telemetry payload")
	ErrRateLimited = errors.New("device rate limited")
)

// Subscriber turns broker messages into sensor data records.
type Subscriber struct {
	svc           domain.Service
	limiter       *ratelimit.DeviceLimiter
	metrics       *metrics.Metrics
	log           *zap.Logger
	allowRetained bool
}

type SubscriberOption func(*Subscriber)

func WithLimiter(l *ratelimit.DeviceLimiter) SubscriberOption {
	return func(s *Subscriber) { s.limiter = l }
}

func WithMetrics(m *metrics.Metrics) SubscriberOption {
	return func(s *Subscriber) { s.metrics = m }
}

func WithRetained(allow bool) SubscriberOption {
	return func(s *Subscriber) { s.allowRetained = allow }
}

func NewSubscriber(svc domain.Service, log *zap.Logger, opts ...SubscriberOption) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Subscriber{svc: svc, log: log.Named("ingest.subscriber")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnMessage is the broker callback. Failures are logged and counted only.
func (s *Subscriber) OnMessage(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	_, _ = s.Handle(ctx, msg)
}

// telemetryMessage is a reading plus optional tracing context from the
// publisher. MQTT 3.1.1 has no headers, so the context travels in the body.
type telemetryMessage struct {
	domain.PayloadRequest
	CorrelationID string `json:"correlation_id"`
	TraceID       string `json:"trace_id"`
	SpanID        string `json:"span_id"`
}

// Handle decodes one message and creates a record from it.
func (s *Subscriber) Handle(ctx context.Context, msg Message) (domain.SensorData, error) {
	if msg.Retained && !s.allowRetained {
		s.record(ctx, outcomeRetained)
		s.log.Debug("retained message skipped", zap.String("topic", msg.Topic))
		return domain.SensorData{}, ErrRetained
	}

	var tm telemetryMessage
	decodeErr := json.Unmarshal(msg.Payload, &tm)

	ctx = correlation.WithRemoteParent(ctx, tm.TraceID, tm.SpanID)
	ctx, _ = correlation.Ensure(ctx, tm.CorrelationID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "mqtt.ingest", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "mqtt"),
		attribute.String("messaging.destination.name", msg.Topic),
	)

	log := logger.WithContext(ctx, s.log).With(zap.String("topic", msg.Topic))

	if decodeErr != nil {
		s.record(ctx, outcomeInvalidJSON)
		span.SetStatus(codes.Error, outcomeInvalidJSON)
		log.Warn("mqtt payload rejected", zap.Error(decodeErr))
		return domain.SensorData{}, errors.Join(ErrInvalidJSON, decodeErr)
	}

	if tm.DeviceID == nil || strings.TrimSpace(*tm.DeviceID) == "" {
		device := DeviceFromTopic(msg.Topic)
		tm.DeviceID = &device
	}
	payload := tm.Payload()
	log = log.With(zap.String("device_id", payload.DeviceID))

	if field := tm.MissingField(); field != "" {
		err := domain.InvalidInput(field, field+" is required")
		s.record(ctx, outcomeInvalid)
		span.SetStatus(codes.Error, outcomeInvalid)
		log.Warn("mqtt telemetry rejected", zap.Error(err))
		return domain.SensorData{}, err
	}

	if res := s.limiter.AllowDevice(ctx, payload.DeviceID); !res.Allowed {
		s.record(ctx, outcomeLimited)
		log.Warn("mqtt message dropped by rate limit", zap.Duration("retry_after", res.RetryAfter))
		return domain.SensorData{}, ErrRateLimited
	}

	data, err := s.svc.Create(ctx, payload)
	if err != nil {
		outcome := outcomeStorage
		if errors.Is(err, domain.ErrInvalidInput) {
			outcome = outcomeInvalid
		}
		s.record(ctx, outcome)
		span.SetStatus(codes.Error, outcome)
		if outcome == outcomeInvalid {
			log.Warn("mqtt telemetry rejected", zap.Error(err))
		} else {
			log.Error("mqtt telemetry not stored", zap.Error(err))
		}
		return domain.SensorData{}, err
	}

	span.SetAttributes(attribute.Int64("sensor_data.id", int64(data.ID)))
	s.record(ctx, outcomeCreated)
	log.Debug("mqtt telemetry stored", zap.Uint64("sensor_data_id", data.ID))
	return data, nil
}

func (s *Subscriber) record(ctx context.Context, outcome string) {
	s.metrics.RecordIngest(ctx, sourceMQTT, outcome)
}

// DeviceFromTopic returns the segment after the first topic level, so
// greenhouse/gh-1/telemetry yields gh-1.
func DeviceFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
