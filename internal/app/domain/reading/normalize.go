package reading

import "time"

// FromAdvertisement normalizes a decoded broadcast packet into a canonical
// reading. Temperature is clamped, humidity and battery pass through
// unclamped. When the packet carries no battery value, LowBattery keeps the
// previously cached state instead of being recomputed.
func FromAdvertisement(adv Advertisement, prev Reading, at time.Time) Reading {
	r := Reading{SampledAt: at, LowBattery: prev.LowBattery}

	if adv.TemperatureC != nil {
		c := ClampTemperature(*adv.TemperatureC)
		r.TemperatureC = &c
	}
	if adv.HumidityPct != nil {
		h := float64(*adv.HumidityPct)
		r.HumidityPct = &h
	}
	if adv.BatteryPct != nil {
		b := *adv.BatteryPct
		r.BatteryPct = &b
		r.LowBattery = b < LowBatteryThresholdPct
	}
	return r
}

// FromCloudStatus normalizes a REST status body. The cloud transport never
// reports battery, so BatteryPct stays absent and LowBattery keeps the
// previously cached state.
func FromCloudStatus(st CloudStatus, prev Reading, at time.Time) Reading {
	r := Reading{SampledAt: at, LowBattery: prev.LowBattery}

	if st.TemperatureC != nil {
		c := ClampTemperature(*st.TemperatureC)
		r.TemperatureC = &c
	}
	if st.HumidityPct != nil {
		h := float64(*st.HumidityPct)
		r.HumidityPct = &h
	}
	return r
}

// ClampTemperature bounds a Celsius value to the canonical range.
func ClampTemperature(c float64) float64 {
	switch {
	case c < MinTemperatureC:
		return MinTemperatureC
	case c > MaxTemperatureC:
		return MaxTemperatureC
	default:
		return c
	}
}
