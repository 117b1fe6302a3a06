package domain

import "context"

type Service interface {
	Create(ctx context.Context, payload Payload) (SensorData, error)
	Get(ctx context.Context, id uint64) (SensorData, error)
	Update(ctx context.Context, id uint64, payload Payload) (SensorData, error)
	Delete(ctx context.Context, id uint64) (SensorData, error)
}
