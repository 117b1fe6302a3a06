package repository

import (
	"context"
	"fmt"
	"math"

	"github.com/smallbiznis/greenhouse/internal/sensordata/codec"
	"github.com/smallbiznis/greenhouse/internal/sensordata/domain"
	"github.com/smallbiznis/greenhouse/pkg/db"
	"gorm.io/gorm"
)

type sqlStore struct {
	db          *gorm.DB
	codec       codec.Codec
	counterName string
}

// NewSQLStore returns a Store backed by two tables: id_counters and
// sensor_records. Every unit of work runs in its own database transaction.
func NewSQLStore(db *gorm.DB, c codec.Codec) domain.Store {
	return &sqlStore{
		db:          db,
		codec:       c,
		counterName: DefaultCounterName,
	}
}

func (s *sqlStore) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&sqlTx{db: tx, codec: s.codec, counterName: s.counterName})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return domain.StorageFailure("commit", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqlTx struct {
	db          *gorm.DB
	codec       codec.Codec
	counterName string
}

func (t *sqlTx) NextID(ctx context.Context) (uint64, error) {
	db := t.db.WithContext(ctx)

	res := db.Exec(`UPDATE id_counters SET value = value + 1 WHERE name = ?`, t.counterName)
	if res.Error != nil {
		return 0, domain.StorageFailure("increment counter", res.Error)
	}
	if res.RowsAffected == 0 {
		// Counter row not seeded yet: this call issues the initial value.
		if err := db.Exec(`INSERT INTO id_counters (name, value) VALUES (?, ?)`, t.counterName, 1).Error; err != nil {
			return 0, domain.StorageFailure("seed counter", err)
		}
		return 0, nil
	}

	var values []uint64
	if err := db.Raw(`SELECT value FROM id_counters WHERE name = ?`, t.counterName).Scan(&values).Error; err != nil {
		return 0, domain.StorageFailure("read counter", err)
	}
	if len(values) == 0 || values[0] == 0 {
		return 0, domain.StorageFailure("read counter", fmt.Errorf("counter %q vanished", t.counterName))
	}
	return values[0] - 1, nil
}

func (t *sqlTx) Get(ctx context.Context, id uint64) (*domain.SensorData, error) {
	// The id column is a signed BIGINT, so the counter never issues these.
	if id > math.MaxInt64 {
		return nil, nil
	}

	var rows []RecordRow
	err := t.db.WithContext(ctx).Raw(
		`SELECT id, payload FROM sensor_records WHERE id = ?`,
		id,
	).Scan(&rows).Error
	if err != nil {
		return nil, domain.StorageFailure("get record", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	data, err := t.codec.Decode(rows[0].Payload)
	if err != nil {
		return nil, domain.StorageFailure("decode record", err)
	}
	return &data, nil
}

func (t *sqlTx) Put(ctx context.Context, data *domain.SensorData) error {
	if data == nil {
		return domain.StorageFailure("put record", fmt.Errorf("nil record"))
	}
	payload, err := t.codec.Encode(*data)
	if err != nil {
		return domain.StorageFailure("encode record", err)
	}

	err = t.db.WithContext(ctx).Exec(upsertRecordSQL(t.db.Dialector.Name()), data.ID, payload).Error
	if err != nil {
		return domain.StorageFailure("put record", err)
	}
	return nil
}

func (t *sqlTx) Remove(ctx context.Context, id uint64) (*domain.SensorData, error) {
	existing, err := t.Get(ctx, id)
	if err != nil || existing == nil {
		return nil, err
	}

	if err := t.db.WithContext(ctx).Exec(`DELETE FROM sensor_records WHERE id = ?`, id).Error; err != nil {
		return nil, domain.StorageFailure("remove record", err)
	}
	return existing, nil
}

func upsertRecordSQL(dialect string) string {
	switch dialect {
	case "mysql":
		return `INSERT INTO sensor_records (id, payload) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE payload = VALUES(payload)`
	default:
		return `INSERT INTO sensor_records (id, payload) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET payload = excluded.payload`
	}
}

// SeedCounter inserts the counter row at its initial value when missing.
func SeedCounter(ctx context.Context, conn *gorm.DB) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO id_counters (name, value) VALUES (?, ?)`,
		DefaultCounterName,
		0,
	).Error
	if err != nil && !db.IsDuplicateKeyErr(err) {
		return fmt.Errorf("seed counter: %w", err)
	}
	return nil
}
