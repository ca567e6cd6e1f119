package devices

import (
	"context"
	"fmt"
	"strings"

	"github.com/thermolink/sensord/internal/app/domain/device"
	"github.com/thermolink/sensord/internal/app/storage"
	"github.com/thermolink/sensord/internal/app/transport/scan"
	"github.com/thermolink/sensord/pkg/logger"
)

// Service manages the meter registry and resolves refresh profiles from
// records and platform defaults.
type Service struct {
	store    storage.DeviceStore
	defaults device.Defaults
	log      *logger.Logger
}

// New constructs a device registry service.
func New(store storage.DeviceStore, defaults device.Defaults, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("devices")
	}
	return &Service{
		store:    store,
		defaults: defaults,
		log:      log,
	}
}

// Register validates, normalizes and stores a new meter record.
func (s *Service) Register(ctx context.Context, dev device.Device) (device.Device, error) {
	dev, err := normalize(dev)
	if err != nil {
		return device.Device{}, err
	}

	dev, err = s.store.CreateDevice(ctx, dev)
	if err != nil {
		return device.Device{}, err
	}
	s.log.WithField("device_id", dev.ID).
		WithField("name", dev.Name).
		WithField("use_broadcast", dev.UseBroadcast).
		Info("device registered")
	return dev, nil
}

// Update replaces the mutable fields of an existing record. A running engine
// keeps its resolved profile; the record change takes effect on the next
// daemon start.
func (s *Service) Update(ctx context.Context, dev device.Device) (device.Device, error) {
	if strings.TrimSpace(dev.ID) == "" {
		return device.Device{}, fmt.Errorf("device id is required")
	}
	dev, err := normalize(dev)
	if err != nil {
		return device.Device{}, err
	}

	dev, err = s.store.UpdateDevice(ctx, dev)
	if err != nil {
		return device.Device{}, err
	}
	s.log.WithField("device_id", dev.ID).Info("device updated")
	return dev, nil
}

// Get retrieves a single meter record.
func (s *Service) Get(ctx context.Context, id string) (device.Device, error) {
	return s.store.GetDevice(ctx, id)
}

// List returns all registered meters.
func (s *Service) List(ctx context.Context) ([]device.Device, error) {
	return s.store.ListDevices(ctx)
}

// Delete removes a meter record.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteDevice(ctx, id); err != nil {
		return err
	}
	s.log.WithField("device_id", id).Info("device deleted")
	return nil
}

// Profile resolves the effective refresh configuration for one meter.
func (s *Service) Profile(ctx context.Context, id string) (device.Profile, error) {
	dev, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return device.Profile{}, err
	}
	return device.Resolve(dev, s.defaults), nil
}

// Profiles resolves every registered meter.
func (s *Service) Profiles(ctx context.Context) ([]device.Profile, error) {
	devs, err := s.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	profiles := make([]device.Profile, 0, len(devs))
	for _, dev := range devs {
		profiles = append(profiles, device.Resolve(dev, s.defaults))
	}
	return profiles, nil
}

// Seed registers configured meters that are not in the store yet. Existing
// records are left untouched so runtime edits survive restarts.
func (s *Service) Seed(ctx context.Context, devs []device.Device) (int, error) {
	var created int
	for _, dev := range devs {
		if dev.ID != "" {
			if _, err := s.store.GetDevice(ctx, dev.ID); err == nil {
				continue
			}
		}
		if _, err := s.Register(ctx, dev); err != nil {
			return created, fmt.Errorf("seed device %q: %w", dev.Name, err)
		}
		created++
	}
	if created > 0 {
		s.log.WithField("count", created).Info("seeded devices from configuration")
	}
	return created, nil
}

func normalize(dev device.Device) (device.Device, error) {
	dev.Name = strings.TrimSpace(dev.Name)
	dev.Address = scan.NormalizeAddress(dev.Address)
	dev.CloudID = strings.TrimSpace(dev.CloudID)

	if dev.Name == "" {
		return device.Device{}, fmt.Errorf("name is required")
	}
	if dev.UseBroadcast && dev.Address == "" {
		return device.Device{}, fmt.Errorf("broadcast devices require an address")
	}
	if dev.ScanWindowSeconds < 0 {
		return device.Device{}, fmt.Errorf("scan_window_seconds cannot be negative")
	}
	if dev.RefreshPeriodSeconds < 0 {
		return device.Device{}, fmt.Errorf("refresh_period_seconds cannot be negative")
	}
	return dev, nil
}
