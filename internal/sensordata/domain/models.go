package domain

import "time"

// SensorData is a single greenhouse reading with identity and timestamps.
type SensorData struct {
	ID           uint64     `json:"id"`
	DeviceID     string     `json:"device_id"`
	Temperature  float64    `json:"temperature"`
	Humidity     float64    `json:"humidity"`
	SoilMoisture float64    `json:"soil_moisture"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

// Payload carries the caller-supplied fields for create and update.
type Payload struct {
	DeviceID     string  `json:"device_id"`
	Temperature  float64 `json:"temperature"`
	Humidity     float64 `json:"humidity"`
	SoilMoisture float64 `json:"soil_moisture"`
}

// Apply replaces the mutable fields of the record with the payload values.
func (d *SensorData) Apply(p Payload) {
	d.DeviceID = p.DeviceID
	d.Temperature = p.Temperature
	d.Humidity = p.Humidity
	d.SoilMoisture = p.SoilMoisture
}
