package domain

import "strings"

const (
	MinTemperature  = -50.0
	MaxTemperature  = 60.0
	MinHumidity     = 0.0
	MaxHumidity     = 100.0
	MinSoilMoisture = 0.0
	MaxSoilMoisture = 100.0
)

// Validate checks a payload against the domain constraints and reports the
// first violation. Ranges are inclusive; NaN is always out of range.
func Validate(p Payload) error {
	if strings.TrimSpace(p.DeviceID) == "" {
		return InvalidInput("device_id", "device id empty")
	}
	if !within(p.Humidity, MinHumidity, MaxHumidity) {
		return InvalidInput("humidity", "humidity out of range")
	}
	if !within(p.Temperature, MinTemperature, MaxTemperature) {
		return InvalidInput("temperature", "temperature out of range")
	}
	if !within(p.SoilMoisture, MinSoilMoisture, MaxSoilMoisture) {
		return InvalidInput("soil_moisture", "soil moisture out of range")
	}
	return nil
}

func within(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
