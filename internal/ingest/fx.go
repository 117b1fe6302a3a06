package ingest

import (
	"context"
	"fmt"

	"github.com/smallbiznis/greenhouse/internal/config"
	"github.com/smallbiznis/greenhouse/internal/observability/metrics"
	"github.com/smallbiznis/greenhouse/internal/ratelimit"
	"github.com/smallbiznis/greenhouse/internal/sensordata/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ingest.mqtt",
	fx.Provide(provideSubscriber),
	fx.Invoke(register),
)

type Params struct {
	fx.In

	Cfg     config.Config
	Service domain.Service
	Log     *zap.Logger
	Limiter *ratelimit.DeviceLimiter `optional:"true"`
	Metrics *metrics.Metrics         `optional:"true"`
}

func provideSubscriber(p Params) *Subscriber {
	return NewSubscriber(p.Service, p.Log,
		WithLimiter(p.Limiter),
		WithMetrics(p.Metrics),
		WithRetained(p.Cfg.MQTT.AllowRetained),
	)
}

func register(lc fx.Lifecycle, cfg config.Config, sub *Subscriber, log *zap.Logger) {
	mqttCfg := cfg.MQTT
	if !mqttCfg.Enabled {
		log.Info("mqtt ingest disabled")
		return
	}

	var client *Client
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c, err := Connect(mqttCfg, log)
			if err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			if err := c.Subscribe(mqttCfg.Topic, qosLevel(mqttCfg.QoS), sub.OnMessage); err != nil {
				c.Close()
				return fmt.Errorf("mqtt subscribe %s: %w", mqttCfg.Topic, err)
			}
			client = c
			log.Info("mqtt ingest subscribed", zap.String("topic", mqttCfg.Topic), zap.Int("qos", mqttCfg.QoS))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			client.Close()
			return nil
		},
	})
}
