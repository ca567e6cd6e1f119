package scan

import (
	"fmt"

	"github.com/thermolink/sensord/internal/app/domain/reading"
)

// Known meter model codes carried in the first service-data byte.
const (
	ModelMeter        byte = 'T'
	ModelMeterPlus    byte = 'i'
	ModelOutdoorMeter byte = 'w'
)

// minServiceDataLen is the shortest decodable meter payload: model, flags,
// battery, temperature (two bytes) and humidity.
const minServiceDataLen = 6

// ParseAdvertisement decodes a meter service-data payload:
//
//	byte 0      model code
//	byte 1      event flags (ignored)
//	byte 2      bits 0-6: battery percent
//	byte 3      bits 0-3: temperature tenths
//	byte 4      bits 0-6: integer temperature, bit 7: sign (set = above zero)
//	byte 5      bits 0-6: relative humidity percent
//
// Short payloads and unknown model codes fail; the caller discards those
// packets and keeps listening.
func ParseAdvertisement(p Packet) (reading.Advertisement, error) {
	data := p.ServiceData
	if len(data) < minServiceDataLen {
		return reading.Advertisement{}, fmt.Errorf("service data too short: %d bytes", len(data))
	}

	model := data[0]
	switch model {
	case ModelMeter, ModelMeterPlus, ModelOutdoorMeter:
	default:
		return reading.Advertisement{}, fmt.Errorf("unknown model code 0x%02x", model)
	}

	battery := int(data[2] & 0x7f)

	temp := float64(data[4]&0x7f) + float64(data[3]&0x0f)/10
	if data[4]&0x80 == 0 {
		temp = -temp
	}

	humidity := int(data[5] & 0x7f)

	return reading.Advertisement{
		Address:      NormalizeAddress(p.Address),
		ModelCode:    model,
		TemperatureC: &temp,
		HumidityPct:  &humidity,
		BatteryPct:   &battery,
	}, nil
}
