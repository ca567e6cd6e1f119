package device

import "time"

// Hardcoded fallbacks used when neither the device record nor the platform
// defaults provide a value.
const (
	FallbackScanWindowSeconds    = 1
	FallbackRefreshPeriodSeconds = 120
)

// Device is a registered environmental meter.
type Device struct {
	ID                   string
	Name                 string
	Address              string // broadcast source address
	CloudID              string // vendor API identifier; defaults to ID
	UseBroadcast         bool
	ScanWindowSeconds    int // 0 inherits the platform default
	RefreshPeriodSeconds int // 0 inherits the platform default
	HideTemperature      bool
	HideHumidity         bool
	HistoryEnabled       bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Defaults carries the platform-wide values per-device settings inherit from.
type Defaults struct {
	ScanWindowSeconds    int
	RefreshPeriodSeconds int
}

// Profile is the immutable, fully resolved configuration a refresh engine is
// constructed from. Resolution happens exactly once; changing a device record
// afterwards requires rebuilding the engine.
type Profile struct {
	DeviceID        string
	Name            string
	Address         string
	CloudID         string
	UseBroadcast    bool
	ScanWindow      time.Duration
	RefreshPeriod   time.Duration
	HideTemperature bool
	HideHumidity    bool
	HistoryEnabled  bool
}

// Resolve computes the effective profile for a device. Numeric settings
// resolve per-device value, else platform default, else hardcoded fallback.
func Resolve(dev Device, defaults Defaults) Profile {
	window := dev.ScanWindowSeconds
	if window <= 0 {
		window = defaults.ScanWindowSeconds
	}
	if window <= 0 {
		window = FallbackScanWindowSeconds
	}

	period := dev.RefreshPeriodSeconds
	if period <= 0 {
		period = defaults.RefreshPeriodSeconds
	}
	if period <= 0 {
		period = FallbackRefreshPeriodSeconds
	}

	cloudID := dev.CloudID
	if cloudID == "" {
		cloudID = dev.ID
	}

	return Profile{
		DeviceID:        dev.ID,
		Name:            dev.Name,
		Address:         dev.Address,
		CloudID:         cloudID,
		UseBroadcast:    dev.UseBroadcast,
		ScanWindow:      time.Duration(window) * time.Second,
		RefreshPeriod:   time.Duration(period) * time.Second,
		HideTemperature: dev.HideTemperature,
		HideHumidity:    dev.HideHumidity,
		HistoryEnabled:  dev.HistoryEnabled,
	}
}
