package reading

import (
	"testing"
	"time"
)

func TestClampTemperature(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"below absolute zero", -300, MinTemperatureC},
		{"at lower bound", -273.15, -273.15},
		{"in range", 21.5, 21.5},
		{"at upper bound", 100, 100},
		{"above upper bound", 184.2, MaxTemperatureC},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClampTemperature(tc.in); got != tc.want {
				t.Fatalf("ClampTemperature(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestClampTemperature_Idempotent(t *testing.T) {
	for _, v := range []float64{-400, -273.15, 0, 36.6, 100, 250} {
		once := ClampTemperature(v)
		if twice := ClampTemperature(once); twice != once {
			t.Fatalf("clamp not idempotent for %v: %v != %v", v, twice, once)
		}
	}
}

func TestFromAdvertisement_BatteryThreshold(t *testing.T) {
	at := time.Unix(1700000000, 0)

	low := FromAdvertisement(Advertisement{BatteryPct: Int(10)}, Reading{}, at)
	if !low.LowBattery {
		t.Fatalf("battery 10 should flag low battery")
	}
	ok := FromAdvertisement(Advertisement{BatteryPct: Int(20)}, Reading{}, at)
	if ok.LowBattery {
		t.Fatalf("battery 20 should not flag low battery")
	}
	if *ok.BatteryPct != 20 {
		t.Fatalf("battery should pass through, got %d", *ok.BatteryPct)
	}
}

func TestFromAdvertisement_AbsentBatteryKeepsCachedFlag(t *testing.T) {
	prev := Reading{LowBattery: true}
	r := FromAdvertisement(Advertisement{TemperatureC: Float(19.5)}, prev, time.Now())
	if !r.LowBattery {
		t.Fatalf("absent battery must keep previous low-battery state")
	}
	if r.BatteryPct != nil {
		t.Fatalf("absent battery must stay absent")
	}
}

func TestFromAdvertisement_ClampsAndPassesThrough(t *testing.T) {
	at := time.Unix(1700000000, 0)
	r := FromAdvertisement(Advertisement{
		Address:      "c1:2e:00:00:00:01",
		TemperatureC: Float(184.2),
		HumidityPct:  Int(45),
		BatteryPct:   Int(88),
	}, Reading{}, at)

	if *r.TemperatureC != MaxTemperatureC {
		t.Fatalf("temperature not clamped: %v", *r.TemperatureC)
	}
	if *r.HumidityPct != 45 {
		t.Fatalf("humidity altered: %v", *r.HumidityPct)
	}
	if !r.SampledAt.Equal(at) {
		t.Fatalf("sample time altered: %v", r.SampledAt)
	}
}

func TestFromAdvertisement_IdempotentForCanonicalValues(t *testing.T) {
	at := time.Unix(1700000000, 0)
	first := FromAdvertisement(Advertisement{
		TemperatureC: Float(21.5),
		HumidityPct:  Int(45),
		BatteryPct:   Int(90),
	}, Reading{}, at)

	again := FromAdvertisement(Advertisement{
		TemperatureC: first.TemperatureC,
		HumidityPct:  Int(int(*first.HumidityPct)),
		BatteryPct:   first.BatteryPct,
	}, first, at)

	if *again.TemperatureC != *first.TemperatureC ||
		*again.HumidityPct != *first.HumidityPct ||
		*again.BatteryPct != *first.BatteryPct ||
		again.LowBattery != first.LowBattery {
		t.Fatalf("renormalizing canonical values changed them: %#v vs %#v", again, first)
	}
}

func TestFromCloudStatus_BatteryStaysAbsent(t *testing.T) {
	prev := Reading{BatteryPct: Int(50), LowBattery: true}
	r := FromCloudStatus(CloudStatus{TemperatureC: Float(21.5), HumidityPct: Int(45)}, prev, time.Now())

	if r.BatteryPct != nil {
		t.Fatalf("cloud transport must leave battery absent, got %v", *r.BatteryPct)
	}
	if !r.LowBattery {
		t.Fatalf("cloud transport must not touch the low-battery flag")
	}
	if *r.TemperatureC != 21.5 || *r.HumidityPct != 45 {
		t.Fatalf("unexpected reading %#v", r)
	}
}

func TestReliableHumidity(t *testing.T) {
	if (Reading{}).ReliableHumidity() {
		t.Fatalf("absent humidity is not reliable")
	}
	if (Reading{HumidityPct: Float(0)}).ReliableHumidity() {
		t.Fatalf("zero humidity is not reliable")
	}
	if (Reading{HumidityPct: Float(-3)}).ReliableHumidity() {
		t.Fatalf("negative humidity is not reliable")
	}
	if !(Reading{HumidityPct: Float(0.5)}).ReliableHumidity() {
		t.Fatalf("positive humidity is reliable")
	}
}
