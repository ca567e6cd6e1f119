package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/thermolink/sensord/pkg/logger"
)

// meterServiceUUID is the 16-bit service-data UUID the meters advertise
// under. Packets without it are not meter-class devices and never reach a
// session.
var meterServiceUUID = bluetooth.New16BitUUID(0xfd3d)

// BluetoothMedium adapts the host Bluetooth stack to the Medium interface.
// The adapter supports one listen at a time, so concurrent windows from
// multiple engines are serialized.
type BluetoothMedium struct {
	adapter *bluetooth.Adapter
	log     *logger.Logger

	mu      sync.Mutex
	enabled bool
}

var _ Medium = (*BluetoothMedium)(nil)

// NewBluetoothMedium returns a medium over the default host adapter. The
// adapter is enabled lazily on the first listen.
func NewBluetoothMedium(log *logger.Logger) *BluetoothMedium {
	if log == nil {
		log = logger.NewDefault("scan-medium")
	}
	return &BluetoothMedium{adapter: bluetooth.DefaultAdapter, log: log}
}

// Scan listens for meter advertisements until ctx is cancelled. Packets are
// filtered to the meter service-data UUID before they reach fn.
func (m *BluetoothMedium) Scan(ctx context.Context, fn func(Packet)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The window may have elapsed while waiting for another engine's listen.
	if err := ctx.Err(); err != nil {
		return err
	}

	if !m.enabled {
		if err := m.adapter.Enable(); err != nil {
			return fmt.Errorf("enable bluetooth adapter: %w", err)
		}
		m.enabled = true
	}

	returned := make(chan struct{})
	defer close(returned)

	go func() {
		select {
		case <-returned:
			return
		case <-ctx.Done():
		}
		// StopScan can race a Scan call that has not begun yet; retry until
		// the blocking Scan below actually returns.
		for {
			if err := m.adapter.StopScan(); err != nil {
				m.log.WithError(err).Debug("stop scan")
			}
			select {
			case <-returned:
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}()

	err := m.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		data := meterServiceData(result)
		if data == nil {
			return
		}
		fn(Packet{
			Address:     result.Address.String(),
			LocalName:   result.LocalName(),
			ServiceData: data,
			RSSI:        int(result.RSSI),
		})
	})
	if err != nil {
		return fmt.Errorf("bluetooth scan: %w", err)
	}
	return nil
}

func meterServiceData(result bluetooth.ScanResult) []byte {
	for _, sd := range result.ServiceData() {
		if sd.UUID == meterServiceUUID {
			return sd.Data
		}
	}
	return nil
}
