package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/thermolink/sensord/internal/app/domain/history"
	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/internal/app/storage"
	"github.com/thermolink/sensord/pkg/logger"
)

// DefaultRetentionDays bounds how long samples are kept when the
// configuration does not say otherwise.
const DefaultRetentionDays = 30

// sweepSchedule runs the retention sweep once a day.
const sweepSchedule = "@daily"

// Service records observations and prunes expired ones. It participates in
// the daemon lifecycle so the retention schedule starts and stops with the
// process.
type Service struct {
	store         storage.HistoryStore
	retentionDays int
	log           *logger.Logger

	mu    sync.Mutex
	cron  *cron.Cron
	nowFn func() time.Time
}

// New constructs a history service. A retention of zero or less selects the
// default window.
func New(store storage.HistoryStore, retentionDays int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("history")
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Service{
		store:         store,
		retentionDays: retentionDays,
		log:           log,
		nowFn:         time.Now,
	}
}

// RecordSample persists one observation. Samples without reliable humidity
// are rejected here as well as at the refresh engine, so no caller can slip
// an unreliable value into the archive.
func (s *Service) RecordSample(ctx context.Context, deviceID string, r reading.Reading) (history.Sample, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return history.Sample{}, fmt.Errorf("device id is required")
	}
	if !r.ReliableHumidity() {
		return history.Sample{}, fmt.Errorf("unreliable humidity; sample rejected")
	}

	sample := history.Sample{
		DeviceID:     deviceID,
		TemperatureC: r.TemperatureC,
		HumidityPct:  r.HumidityPct,
		SampledAt:    r.SampledAt,
	}
	return s.store.AppendSample(ctx, sample)
}

// ListSamples returns recorded samples for a device inside [from, to]. A zero
// bound leaves that side open.
func (s *Service) ListSamples(ctx context.Context, deviceID string, from, to time.Time) ([]history.Sample, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, fmt.Errorf("invalid range: from is after to")
	}
	return s.store.ListSamples(ctx, deviceID, from, to)
}

// Name implements system.Service.
func (s *Service) Name() string { return "history-retention" }

// Start schedules the daily retention sweep.
func (s *Service) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("history retention already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(sweepSchedule, s.runSweep); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("retention_days", s.retentionDays).
		WithField("schedule", sweepSchedule).
		Info("history retention scheduled")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.log.WithError(err).Error("history retention sweep failed")
	}
}

// Sweep deletes samples older than the retention window and reports how many
// were removed. Exposed so operators can trigger it outside the schedule.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.nowFn().UTC().AddDate(0, 0, -s.retentionDays)
	removed, err := s.store.DeleteSamplesBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.WithField("removed", removed).
			WithField("cutoff", cutoff.Format(time.RFC3339)).
			Info("expired history samples removed")
	}
	return removed, nil
}
