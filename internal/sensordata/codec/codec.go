// Package codec converts SensorData to and from the bytes held by the durable
// record map.
//
// Layout: one version byte followed by a snappy block holding a JSON document.
// Timestamps are stored as Unix nanoseconds in UTC.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/smallbiznis/greenhouse/internal/sensordata/domain"
)

const VersionV1 byte = 1

var (
	ErrEmpty              = errors.New("codec: empty input")
	ErrUnsupportedVersion = errors.New("codec: unsupported version")
)

type Codec interface {
	Encode(data domain.SensorData) ([]byte, error)
	Decode(b []byte) (domain.SensorData, error)
}

type recordV1 struct {
	ID           uint64  `json:"id"`
	DeviceID     string  `json:"device_id"`
	Temperature  float64 `json:"temperature"`
	Humidity     float64 `json:"humidity"`
	SoilMoisture float64 `json:"soil_moisture"`
	CreatedAt    int64   `json:"created_at"`
	UpdatedAt    *int64  `json:"updated_at,omitempty"`
}

type snappyJSON struct{}

// New returns the default codec.
func New() Codec {
	return snappyJSON{}
}

func (snappyJSON) Encode(data domain.SensorData) ([]byte, error) {
	rec := recordV1{
		ID:           data.ID,
		DeviceID:     data.DeviceID,
		Temperature:  data.Temperature,
		Humidity:     data.Humidity,
		SoilMoisture: data.SoilMoisture,
		CreatedAt:    data.CreatedAt.UnixNano(),
	}
	if data.UpdatedAt != nil {
		ts := data.UpdatedAt.UnixNano()
		rec.UpdatedAt = &ts
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}

	block := snappy.Encode(nil, raw)
	out := make([]byte, 0, len(block)+1)
	out = append(out, VersionV1)
	return append(out, block...), nil
}

func (snappyJSON) Decode(b []byte) (domain.SensorData, error) {
	if len(b) == 0 {
		return domain.SensorData{}, ErrEmpty
	}
	if b[0] != VersionV1 {
		return domain.SensorData{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[0])
	}

	raw, err := snappy.Decode(nil, b[1:])
	if err != nil {
		return domain.SensorData{}, fmt.Errorf("codec: decompress: %w", err)
	}

	var rec recordV1
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.SensorData{}, fmt.Errorf("codec: unmarshal: %w", err)
	}

	data := domain.SensorData{
		ID:           rec.ID,
		DeviceID:     rec.DeviceID,
		Temperature:  rec.Temperature,
		Humidity:     rec.Humidity,
		SoilMoisture: rec.SoilMoisture,
		CreatedAt:    time.Unix(0, rec.CreatedAt).UTC(),
	}
	if rec.UpdatedAt != nil {
		ts := time.Unix(0, *rec.UpdatedAt).UTC()
		data.UpdatedAt = &ts
	}
	return data, nil
}
