package storage

import (
	"context"
	"time"

	"github.com/thermolink/sensord/internal/app/domain/device"
	"github.com/thermolink/sensord/internal/app/domain/history"
	"github.com/thermolink/sensord/internal/app/domain/reading"
)

// DeviceStore persists registered meters.
type DeviceStore interface {
	CreateDevice(ctx context.Context, dev device.Device) (device.Device, error)
	UpdateDevice(ctx context.Context, dev device.Device) (device.Device, error)
	GetDevice(ctx context.Context, id string) (device.Device, error)
	ListDevices(ctx context.Context) ([]device.Device, error)
	DeleteDevice(ctx context.Context, id string) error
}

// StatusStore persists the latest presentation state per device. Faults and
// readings share a slot; writing one replaces the other.
type StatusStore interface {
	SetStatus(ctx context.Context, st reading.Status) error
	GetStatus(ctx context.Context, deviceID string) (reading.Status, error)
	ListStatuses(ctx context.Context) ([]reading.Status, error)
}

// HistoryStore persists recorded samples. A zero from/to leaves that side of
// the range unbounded.
type HistoryStore interface {
	AppendSample(ctx context.Context, sample history.Sample) (history.Sample, error)
	ListSamples(ctx context.Context, deviceID string, from, to time.Time) ([]history.Sample, error)
	DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
