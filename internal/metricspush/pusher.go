package metricspush

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/greenhouse/internal/config"
	obstracing "github.com/smallbiznis/greenhouse/internal/observability/tracing"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

const (
	ExporterRemoteWrite = "prometheus_remote_write"
	ExporterPushgateway = "prometheus_pushgateway"
	defaultPushTimeout  = 5 * time.Second

	// metricPrefix selects the families owned by this service. Go runtime
	// and process collectors stay on the scrape endpoint only.
	metricPrefix = "greenhouse_"
)

// Pusher sends a snapshot of the greenhouse metrics to an external collector.
type Pusher interface {
	Push(ctx context.Context, gatherer prometheus.Gatherer) error
}

// NewPusher builds a pusher from config. Misconfiguration is logged and
// returns nil, so the API still starts without a collector.
func NewPusher(cfg config.Config, logger *zap.Logger) Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	pushCfg := cfg.MetricsPush
	if !pushCfg.Enabled {
		return nil
	}
	log := logger.With(zap.String("exporter", pushCfg.Exporter))

	endpoint := strings.TrimSpace(pushCfg.Endpoint)
	if endpoint == "" {
		log.Warn("metrics push disabled", zap.Error(errors.New("METRICS_PUSH_ENDPOINT is empty")))
		return nil
	}
	labels := sourceLabels(cfg)

	switch strings.ToLower(strings.TrimSpace(pushCfg.Exporter)) {
	case ExporterRemoteWrite, "":
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			log.Warn("metrics push disabled", zap.Error(fmt.Errorf("parse remote write endpoint: %w", err)))
			return nil
		}
		return NewRemoteWritePusher(endpoint, pushCfg.AuthToken, labels)
	case ExporterPushgateway:
		return NewPushgatewayPusher(endpoint, cfg.AppName, labels)
	}
	log.Warn("metrics push disabled", zap.Error(errors.New("unknown exporter")))
	return nil
}

// sourceLabels identify which greenhouse deployment produced a snapshot.
func sourceLabels(cfg config.Config) map[string]string {
	labels := map[string]string{}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		labels["environment"] = env
	}
	if backend := strings.TrimSpace(cfg.StorageBackend); backend != "" {
		labels["storage_backend"] = backend
	}
	return labels
}

// RemoteWritePusher posts snappy compressed WriteRequests to a Prometheus
// remote_write endpoint.
type RemoteWritePusher struct {
	endpoint   string
	authToken  string
	external   map[string]string
	httpClient *http.Client
	now        func() time.Time
}

// NewRemoteWritePusher sends to endpoint. External labels are added to every
// series that does not already carry them.
func NewRemoteWritePusher(endpoint, authToken string, external map[string]string) *RemoteWritePusher {
	return &RemoteWritePusher{
		endpoint:   endpoint,
		authToken:  strings.TrimSpace(authToken),
		external:   external,
		httpClient: obstracing.WrapHTTPClient(&http.Client{Timeout: defaultPushTimeout}),
		now:        time.Now,
	}
}

func (p *RemoteWritePusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather: %w", err)
	}

	series := toTimeSeries(families, p.external, p.now().UnixMilli())
	if len(series) == 0 {
		return nil
	}
	raw, err := proto.Marshal(protoadapt.MessageV2Of(&prompb.WriteRequest{Timeseries: series}))
	if err != nil {
		return fmt.Errorf("encode write request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(snappy.Encode(nil, raw)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write %d series: %s", len(series), resp.Status)
	}
	return nil
}

// PushgatewayPusher replaces the service's metric group on a Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{endpoint: endpoint, job: strings.TrimSpace(job), grouping: grouping}
}

func (p *PushgatewayPusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}
	if p.job == "" {
		return errors.New("pushgateway job is required")
	}

	pusher := push.New(p.endpoint, p.job).
		Gatherer(prefixGatherer{gatherer}).
		Client(obstracing.WrapHTTPClient(&http.Client{Timeout: defaultPushTimeout}))
	for key, value := range p.grouping {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key != "" && value != "" {
			pusher = pusher.Grouping(key, value)
		}
	}
	return pusher.PushContext(ctx)
}

// prefixGatherer hides families outside metricPrefix.
type prefixGatherer struct {
	prometheus.Gatherer
}

func (g prefixGatherer) Gather() ([]*dto.MetricFamily, error) {
	families, err := g.Gatherer.Gather()
	return slices.DeleteFunc(families, func(f *dto.MetricFamily) bool {
		return !strings.HasPrefix(f.GetName(), metricPrefix)
	}), err
}

// toTimeSeries flattens greenhouse counters, gauges and histograms into
// remote_write series stamped at timestampMs. Histograms are sent as
// cumulative _bucket series plus _count and _sum, as a scrape would see them.
func toTimeSeries(families []*dto.MetricFamily, external map[string]string, timestampMs int64) []prompb.TimeSeries {
	var series []prompb.TimeSeries
	emit := func(name string, m *dto.Metric, value float64, extra ...prompb.Label) {
		labels := make([]prompb.Label, 0, len(m.GetLabel())+len(external)+len(extra)+1)
		labels = append(labels, prompb.Label{Name: "__name__", Value: name})
		seen := map[string]bool{}
		for _, l := range m.GetLabel() {
			labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			seen[l.GetName()] = true
		}
		for k, v := range external {
			if !seen[k] {
				labels = append(labels, prompb.Label{Name: k, Value: v})
			}
		}
		labels = append(labels, extra...)
		slices.SortFunc(labels, func(a, b prompb.Label) int { return strings.Compare(a.Name, b.Name) })
		series = append(series, prompb.TimeSeries{
			Labels:  labels,
			Samples: []prompb.Sample{{Value: value, Timestamp: timestampMs}},
		})
	}

	for _, family := range families {
		name := family.GetName()
		if !strings.HasPrefix(name, metricPrefix) {
			continue
		}
		for _, m := range family.GetMetric() {
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				if c := m.GetCounter(); c != nil {
					emit(name, m, c.GetValue())
				}
			case dto.MetricType_GAUGE:
				if g := m.GetGauge(); g != nil {
					emit(name, m, g.GetValue())
				}
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				if h == nil {
					continue
				}
				for _, b := range h.GetBucket() {
					if math.IsInf(b.GetUpperBound(), +1) {
						continue
					}
					emit(name+"_bucket", m, float64(b.GetCumulativeCount()),
						prompb.Label{Name: "le", Value: strconv.FormatFloat(b.GetUpperBound(), 'g', -1, 64)})
				}
				emit(name+"_bucket", m, float64(h.GetSampleCount()), prompb.Label{Name: "le", Value: "+Inf"})
				emit(name+"_count", m, float64(h.GetSampleCount()))
				emit(name+"_sum", m, h.GetSampleSum())
			}
		}
	}
	return series
}
