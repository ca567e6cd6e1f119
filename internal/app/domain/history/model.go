package history

import "time"

// Sample is one recorded observation. Only samples with reliable humidity
// reach a history store; the refresh engine enforces that gate before
// recording.
type Sample struct {
	ID           string
	DeviceID     string
	TemperatureC *float64
	HumidityPct  *float64
	SampledAt    time.Time
	CreatedAt    time.Time
}
