package domain

// PayloadRequest is the wire form of a Payload. Every reading must be
// present in the body; an explicit zero is a valid value.
type PayloadRequest struct {
	DeviceID     *string  `json:"device_id" binding:"required"`
	Temperature  *float64 `json:"temperature" binding:"required"`
	Humidity     *float64 `json:"humidity" binding:"required"`
	SoilMoisture *float64 `json:"soil_moisture" binding:"required"`
}

// MissingField returns the JSON name of the first absent field, checked in
// validation order, or "" when the request is complete.
func (r PayloadRequest) MissingField() string {
	switch {
	case r.DeviceID == nil:
		return "device_id"
	case r.Humidity == nil:
		return "humidity"
	case r.Temperature == nil:
		return "temperature"
	case r.SoilMoisture == nil:
		return "soil_moisture"
	}
	return ""
}

// Payload converts a complete request. Absent fields become zero values.
func (r PayloadRequest) Payload() Payload {
	var p Payload
	if r.DeviceID != nil {
		p.DeviceID = *r.DeviceID
	}
	if r.Temperature != nil {
		p.Temperature = *r.Temperature
	}
	if r.Humidity != nil {
		p.Humidity = *r.Humidity
	}
	if r.SoilMoisture != nil {
		p.SoilMoisture = *r.SoilMoisture
	}
	return p
}
