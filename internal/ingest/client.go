package ingest

import (
	"errors"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/smallbiznis/greenhouse/internal/config"
	"go.uber.org/zap"
)

const (
	connectTimeout    = 15 * time.Second
	subscribeTimeout  = 10 * time.Second
	disconnectQuiesce = 500
)

var ErrConnectTimeout = errors.New("mqtt connect timeout")

// Message is the subset of a broker message the subscriber consumes.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Client wraps a paho client with the reconnect behaviour the ingest path expects.
type Client struct {
	client mqtt.Client
	log    *zap.Logger
}

// Connect dials the broker and blocks until the first connection is established
// or connectTimeout elapses. Later drops are retried by paho.
func Connect(cfg config.MQTTConfig, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ingest.mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(normalizeBrokerURL(cfg.BrokerURL))
	opts.SetClientID(clientID(cfg.ClientID))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	}
	opts.OnConnect = func(_ mqtt.Client) {
		log.Info("mqtt connected", zap.String("broker", cfg.BrokerURL))
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Info("mqtt reconnecting")
	}

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, ErrConnectTimeout
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return &Client{client: c, log: log}, nil
}

// Subscribe registers handler for topic. With a persistent session paho
// restores the subscription after a reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler func(Message)) error {
	tok := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(Message{
			Topic:    msg.Topic(),
			Payload:  msg.Payload(),
			Retained: msg.Retained(),
		})
	})
	if !tok.WaitTimeout(subscribeTimeout) {
		return errors.New("mqtt subscribe timeout")
	}
	return tok.Error()
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(disconnectQuiesce)
}

func normalizeBrokerURL(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		return "tcp://localhost:1883"
	}
	if strings.HasPrefix(url, "mqtt://") {
		return "tcp://" + strings.TrimPrefix(url, "mqtt://")
	}
	return url
}

func clientID(raw string) string {
	if id := strings.TrimSpace(raw); id != "" {
		return id
	}
	return "greenhouse-" + uuid.NewString()
}

func qosLevel(v int) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 2:
		return 2
	default:
		return 1
	}
}
