package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Supply provides an already loaded configuration and the runtime holder
// built from its config file.
func Supply(cfg Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
		fx.Provide(NewRuntimeHolder),
	)
}

const (
	StorageSQL   = "sql"
	StorageRedis = "redis"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	ConfigFile string

	StorageBackend string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Telemetry   TelemetryConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	RateLimit   RateLimitConfig
	MetricsPush MetricsPushConfig
}

// TelemetryConfig holds the logging and OTLP export settings. A negative
// TraceSampleRatio leaves the choice to the environment.
type TelemetryConfig struct {
	LogLevel         string
	LogFormat        string
	TracingEnabled   bool
	OTLPEndpoint     string
	OTLPProtocol     string
	TraceSampleRatio float64
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DeviceRate    float64
	DeviceBurst   int
}

// MetricsPushConfig configures periodic export of the prometheus registry
// for deployments that cannot be scraped.
type MetricsPushConfig struct {
	Enabled         bool
	Exporter        string
	Endpoint        string
	AuthToken       string
	IntervalSeconds int
}

type MQTTConfig struct {
	Enabled       bool
	BrokerURL     string
	ClientID      string
	Topic         string
	QoS           int
	AllowRetained bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "greenhouse"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		ConfigFile:        strings.TrimSpace(getenv("CONFIG_FILE", "")),
		StorageBackend:    normalizeBackend(getenv("STORAGE_BACKEND", StorageSQL)),
		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "sqlite")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "greenhouse.db"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Telemetry: TelemetryConfig{
			LogLevel:         strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:        strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", ""))),
			TracingEnabled:   getenvBool("OTEL_ENABLED", false),
			OTLPEndpoint:     strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
			OTLPProtocol:     strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			TraceSampleRatio: getenvFloat("OTEL_TRACES_SAMPLER_ARG", -1),
		},
		Redis: RedisConfig{
			Addr:      strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password:  strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:        getenvInt("REDIS_DB", 0),
			KeyPrefix: strings.TrimSpace(getenv("REDIS_KEY_PREFIX", "greenhouse")),
		},
		MQTT: MQTTConfig{
			Enabled:       getenvBool("MQTT_ENABLED", false),
			BrokerURL:     strings.TrimSpace(getenv("MQTT_BROKER_URL", "tcp://localhost:1883")),
			ClientID:      strings.TrimSpace(getenv("MQTT_CLIENT_ID", "")),
			Topic:         strings.TrimSpace(getenv("MQTT_TOPIC", "greenhouse/+/telemetry")),
			QoS:           getenvInt("MQTT_QOS", 1),
			AllowRetained: getenvBool("MQTT_ALLOW_RETAINED", false),
		},
	}
	cfg.RateLimit = RateLimitConfig{
		Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
		RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", cfg.Redis.Addr)),
		RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", cfg.Redis.Password)),
		RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", cfg.Redis.DB),
		DeviceRate:    getenvFloat("RATE_LIMIT_DEVICE_RATE", 5),
		DeviceBurst:   getenvInt("RATE_LIMIT_DEVICE_BURST", 20),
	}
	cfg.MetricsPush = MetricsPushConfig{
		Enabled:         getenvBool("METRICS_PUSH_ENABLED", false),
		Exporter:        strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", "prometheus_remote_write"))),
		Endpoint:        strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
		AuthToken:       strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		IntervalSeconds: getenvInt("METRICS_PUSH_INTERVAL_SECONDS", 60),
	}

	return cfg
}

func (c Config) UsesSQL() bool {
	return c.StorageBackend == StorageSQL
}

func normalizeBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case StorageRedis:
		return StorageRedis
	default:
		return StorageSQL
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
