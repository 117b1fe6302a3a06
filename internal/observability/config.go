package observability

import (
	"strings"

	"github.com/smallbiznis/greenhouse/internal/config"
)

const (
	defaultServiceName = "greenhouse"

	// productionSampleRatio keeps one trace in ten for steady sensor traffic.
	productionSampleRatio = 0.1
)

// Config is the resolved telemetry setup for one greenhouse process.
type Config struct {
	ServiceName    string
	Environment    string
	Version        string
	StorageBackend string

	LogLevel  string
	LogFormat string

	Tracing      bool
	OTLPEndpoint string
	OTLPProtocol string
	SampleRatio  float64
}

// NewConfig resolves telemetry settings from the application config.
// Development environments default to console logs and full sampling;
// everything else gets JSON logs and productionSampleRatio.
func NewConfig(cfg config.Config) Config {
	tel := cfg.Telemetry
	out := Config{
		ServiceName:    strings.TrimSpace(cfg.AppName),
		Environment:    strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:        strings.TrimSpace(cfg.AppVersion),
		StorageBackend: cfg.StorageBackend,
		LogLevel:       strings.ToLower(strings.TrimSpace(tel.LogLevel)),
		LogFormat:      strings.ToLower(strings.TrimSpace(tel.LogFormat)),
		Tracing:        tel.TracingEnabled,
		OTLPEndpoint:   strings.TrimSpace(tel.OTLPEndpoint),
		OTLPProtocol:   strings.ToLower(strings.TrimSpace(tel.OTLPProtocol)),
		SampleRatio:    tel.TraceSampleRatio,
	}
	if out.ServiceName == "" {
		out.ServiceName = defaultServiceName
	}
	if out.LogLevel == "" {
		out.LogLevel = "info"
	}
	if out.LogFormat != "console" && out.LogFormat != "json" {
		out.LogFormat = "json"
		if out.Development() {
			out.LogFormat = "console"
		}
	}
	if out.OTLPProtocol == "" {
		out.OTLPProtocol = "grpc"
	}
	switch {
	case out.SampleRatio < 0 && out.Development():
		out.SampleRatio = 1
	case out.SampleRatio < 0:
		out.SampleRatio = productionSampleRatio
	case out.SampleRatio > 1:
		out.SampleRatio = 1
	}
	return out
}

// Development reports whether the process runs on a workstation or in tests.
func (c Config) Development() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// Debug turns on gin debug mode and stack traces on failed requests.
func (c Config) Debug() bool {
	return c.Development() || strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug")
}
