package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/thermolink/sensord/internal/app/metrics"
	"github.com/thermolink/sensord/internal/app/system"
	"github.com/thermolink/sensord/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Scheduler drives one engine on a fixed period. A tick that arrives while a
// cycle is still in flight is dropped: never queued, never backfilled. Cycle
// outcomes do not affect the ticker; the scheduler keeps firing for the life
// of the process.
type Scheduler struct {
	engine *Engine
	log    *logger.Logger
	period time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a lifecycle-managed scheduler for the engine. The
// period comes from the engine's resolved profile.
func NewScheduler(engine *Engine, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("refresh-scheduler")
	}
	return &Scheduler{
		engine: engine,
		log:    log,
		period: engine.Profile().RefreshPeriod,
	}
}

func (s *Scheduler) Name() string {
	return "refresh-" + s.engine.Profile().DeviceID
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.log.WithField("device_id", s.engine.Profile().DeviceID).
		WithField("period", s.period.String()).
		Info("refresh scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// An in-flight cycle always runs to completion; wait for it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.WithField("device_id", s.engine.Profile().DeviceID).
		Info("refresh scheduler stopped")
	return nil
}

// tick evaluates one ticker fire at the moment it arrives. Cycles run on
// their own goroutine so the loop keeps consuming ticks while a cycle is in
// flight; a tick seen mid-cycle is dropped, never held back as a catch-up
// run for when the cycle ends.
func (s *Scheduler) tick(ctx context.Context) {
	deviceID := s.engine.Profile().DeviceID

	if s.engine.Busy() {
		metrics.RecordDroppedTick(deviceID)
		s.log.WithField("device_id", deviceID).
			Debug("refresh tick dropped, cycle still in progress")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The engine re-checks under its own guard; a manual refresh
		// dispatched between the check above and this call still counts as a
		// dropped tick.
		if outcome := s.engine.RunCycle(ctx); outcome == OutcomeSkippedBusy {
			metrics.RecordDroppedTick(deviceID)
		}
	}()
}
