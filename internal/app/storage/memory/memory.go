package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thermolink/sensord/internal/app/domain/device"
	"github.com/thermolink/sensord/internal/app/domain/history"
	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and single-host
// deployments without a database.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	devices  map[string]device.Device
	statuses map[string]reading.Status
	samples  map[string][]history.Sample
}

var _ storage.DeviceStore = (*Store)(nil)
var _ storage.StatusStore = (*Store)(nil)
var _ storage.HistoryStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:   1,
		devices:  make(map[string]device.Device),
		statuses: make(map[string]reading.Status),
		samples:  make(map[string][]history.Sample),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// DeviceStore implementation --------------------------------------------------

func (s *Store) CreateDevice(_ context.Context, dev device.Device) (device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dev.ID == "" {
		dev.ID = s.nextIDLocked()
	} else if _, exists := s.devices[dev.ID]; exists {
		return device.Device{}, fmt.Errorf("device %s already exists", dev.ID)
	}

	now := time.Now().UTC()
	dev.CreatedAt = now
	dev.UpdatedAt = now

	s.devices[dev.ID] = dev
	return dev, nil
}

func (s *Store) UpdateDevice(_ context.Context, dev device.Device) (device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.devices[dev.ID]
	if !ok {
		return device.Device{}, fmt.Errorf("device %s not found", dev.ID)
	}

	dev.CreatedAt = original.CreatedAt
	dev.UpdatedAt = time.Now().UTC()

	s.devices[dev.ID] = dev
	return dev, nil
}

func (s *Store) GetDevice(_ context.Context, id string) (device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dev, ok := s.devices[id]
	if !ok {
		return device.Device{}, fmt.Errorf("device %s not found", id)
	}
	return dev, nil
}

func (s *Store) ListDevices(_ context.Context) ([]device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]device.Device, 0, len(s.devices))
	for _, dev := range s.devices {
		result = append(result, dev)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteDevice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[id]; !ok {
		return fmt.Errorf("device %s not found", id)
	}
	delete(s.devices, id)
	delete(s.statuses, id)
	delete(s.samples, id)
	return nil
}

// StatusStore implementation --------------------------------------------------

func (s *Store) SetStatus(_ context.Context, st reading.Status) error {
	if st.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	st.Reading = cloneReading(st.Reading)
	s.statuses[st.DeviceID] = st
	return nil
}

func (s *Store) GetStatus(_ context.Context, deviceID string) (reading.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statuses[deviceID]
	if !ok {
		return reading.Status{}, fmt.Errorf("no status for device %s", deviceID)
	}
	st.Reading = cloneReading(st.Reading)
	return st, nil
}

func (s *Store) ListStatuses(_ context.Context) ([]reading.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]reading.Status, 0, len(s.statuses))
	for _, st := range s.statuses {
		st.Reading = cloneReading(st.Reading)
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DeviceID < result[j].DeviceID })
	return result, nil
}

// HistoryStore implementation -------------------------------------------------

func (s *Store) AppendSample(_ context.Context, sample history.Sample) (history.Sample, error) {
	if sample.DeviceID == "" {
		return history.Sample{}, fmt.Errorf("device id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sample.ID == "" {
		sample.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	if sample.SampledAt.IsZero() {
		sample.SampledAt = now
	}
	sample.CreatedAt = now
	sample.TemperatureC = cloneFloat(sample.TemperatureC)
	sample.HumidityPct = cloneFloat(sample.HumidityPct)

	s.samples[sample.DeviceID] = append(s.samples[sample.DeviceID], sample)
	return sample, nil
}

func (s *Store) ListSamples(_ context.Context, deviceID string, from, to time.Time) ([]history.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []history.Sample
	for _, sample := range s.samples[deviceID] {
		if !from.IsZero() && sample.SampledAt.Before(from) {
			continue
		}
		if !to.IsZero() && sample.SampledAt.After(to) {
			continue
		}
		sample.TemperatureC = cloneFloat(sample.TemperatureC)
		sample.HumidityPct = cloneFloat(sample.HumidityPct)
		result = append(result, sample)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SampledAt.Before(result[j].SampledAt) })
	return result, nil
}

func (s *Store) DeleteSamplesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for deviceID, samples := range s.samples {
		kept := samples[:0]
		for _, sample := range samples {
			if sample.SampledAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, sample)
		}
		if len(kept) == 0 {
			delete(s.samples, deviceID)
			continue
		}
		s.samples[deviceID] = kept
	}
	return removed, nil
}

func cloneReading(r reading.Reading) reading.Reading {
	r.TemperatureC = cloneFloat(r.TemperatureC)
	r.HumidityPct = cloneFloat(r.HumidityPct)
	r.BatteryPct = cloneInt(r.BatteryPct)
	return r
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
