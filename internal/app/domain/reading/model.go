package reading

import "time"

// Canonical temperature bounds in degrees Celsius. Values outside are
// clamped during normalization, never rejected.
const (
	MinTemperatureC = -273.15
	MaxTemperatureC = 100.0
)

// LowBatteryThresholdPct is the battery percentage below which a device is
// considered to be running low.
const LowBatteryThresholdPct = 15

// Reading is the canonical, transport-agnostic sensor value published to
// consumers. Nil pointers mean the field was absent on the wire.
type Reading struct {
	TemperatureC *float64
	HumidityPct  *float64
	BatteryPct   *int
	LowBattery   bool
	SampledAt    time.Time
}

// ReliableHumidity reports whether the humidity value may be recorded to
// history. Zero or negative humidity marks an unreliable sample; it is still
// presented to users but suppressed from history.
func (r Reading) ReliableHumidity() bool {
	return r.HumidityPct != nil && *r.HumidityPct > 0
}

// Advertisement is one decoded broadcast packet. Lifetime is a single scan
// session.
type Advertisement struct {
	Address      string
	ModelCode    byte
	TemperatureC *float64
	HumidityPct  *int
	BatteryPct   *int
}

// CloudStatus is the reduced device state returned by the vendor REST
// endpoint. Battery is never reported over this transport.
type CloudStatus struct {
	TemperatureC *float64
	HumidityPct  *int
}

// Status is the latest presentation state for one device. A non-empty Fault
// marks a communication failure; consumers must surface it instead of a stale
// numeric value. The fault path and the reading path stay distinct.
type Status struct {
	DeviceID  string
	Reading   Reading
	Fault     string
	Transport string
	UpdatedAt time.Time
}

// Float returns a pointer to v. Convenience for building readings.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
