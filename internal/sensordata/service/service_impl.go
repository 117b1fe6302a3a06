package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/greenhouse/internal/clock"
	"github.com/smallbiznis/greenhouse/internal/observability/logger"
	"github.com/smallbiznis/greenhouse/internal/observability/metrics"
	"github.com/smallbiznis/greenhouse/internal/sensordata/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	outcomeOK           = "ok"
	outcomeNotFound     = "not_found"
	outcomeInvalidInput = "invalid_input"
	outcomeStorage      = "storage_failure"
)

type Params struct {
	fx.In

	Store   domain.Store
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	store   domain.Store
	log     *zap.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	// mu serializes mutations across the counter and the record map.
	mu sync.RWMutex
}

func New(p Params) domain.Service {
	return &Service{
		store:   p.Store,
		log:     p.Log.Named("sensordata.service"),
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, payload domain.Payload) (domain.SensorData, error) {
	start := time.Now()
	if err := domain.Validate(payload); err != nil {
		return s.finish(ctx, "create", start, domain.SensorData{}, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var created domain.SensorData
	err := s.store.Atomic(ctx, func(tx domain.Tx) error {
		id, err := tx.NextID(ctx)
		if err != nil {
			return err
		}

		record := domain.SensorData{ID: id, CreatedAt: s.clock.Now().UTC()}
		record.Apply(payload)
		if err := tx.Put(ctx, &record); err != nil {
			return err
		}
		created = record
		return nil
	})
	if err != nil {
		return s.finish(ctx, "create", start, domain.SensorData{}, err)
	}
	return s.finish(ctx, "create", start, created, nil)
}

func (s *Service) Get(ctx context.Context, id uint64) (domain.SensorData, error) {
	start := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found domain.SensorData
	err := s.store.Atomic(ctx, func(tx domain.Tx) error {
		record, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if record == nil {
			return domain.NotFound("Sensor data with id=%d not found", id)
		}
		found = *record
		return nil
	})
	if err != nil {
		return s.finish(ctx, "get", start, domain.SensorData{}, err)
	}
	return s.finish(ctx, "get", start, found, nil)
}

func (s *Service) Update(ctx context.Context, id uint64, payload domain.Payload) (domain.SensorData, error) {
	start := time.Now()
	if err := domain.Validate(payload); err != nil {
		return s.finish(ctx, "update", start, domain.SensorData{}, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated domain.SensorData
	err := s.store.Atomic(ctx, func(tx domain.Tx) error {
		record, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if record == nil {
			return domain.NotFound("couldn't update sensor data with id=%d. Data not found", id)
		}

		record.Apply(payload)
		now := nextUpdatedAt(s.clock.Now().UTC(), *record)
		record.UpdatedAt = &now
		if err := tx.Put(ctx, record); err != nil {
			return err
		}
		updated = *record
		return nil
	})
	if err != nil {
		return s.finish(ctx, "update", start, domain.SensorData{}, err)
	}
	return s.finish(ctx, "update", start, updated, nil)
}

func (s *Service) Delete(ctx context.Context, id uint64) (domain.SensorData, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed domain.SensorData
	err := s.store.Atomic(ctx, func(tx domain.Tx) error {
		record, err := tx.Remove(ctx, id)
		if err != nil {
			return err
		}
		if record == nil {
			return domain.NotFound("couldn't delete sensor data with id=%d. Data not found.", id)
		}
		removed = *record
		return nil
	})
	if err != nil {
		return s.finish(ctx, "delete", start, domain.SensorData{}, err)
	}
	return s.finish(ctx, "delete", start, removed, nil)
}

// nextUpdatedAt never lets updated_at move behind created_at or a previous update.
func nextUpdatedAt(now time.Time, record domain.SensorData) time.Time {
	floor := record.CreatedAt
	if record.UpdatedAt != nil && record.UpdatedAt.After(floor) {
		floor = *record.UpdatedAt
	}
	if now.Before(floor) {
		return floor.UTC()
	}
	return now
}

func (s *Service) finish(ctx context.Context, operation string, start time.Time, record domain.SensorData, err error) (domain.SensorData, error) {
	outcome := classify(err)
	s.metrics.RecordOperation(ctx, operation, outcome, time.Since(start))

	log := logger.WithContext(ctx, s.log).With(zap.String("operation", operation))
	switch outcome {
	case outcomeOK:
		log.Debug("sensor data operation succeeded", zap.Uint64("sensor_data_id", record.ID))
	case outcomeStorage:
		log.Error("sensor data storage failure", zap.Error(err))
	default:
		log.Warn("sensor data operation rejected", zap.String("outcome", outcome), zap.Error(err))
	}
	return record, err
}

func classify(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, domain.ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return outcomeInvalidInput
	default:
		return outcomeStorage
	}
}
