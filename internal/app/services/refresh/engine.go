package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/thermolink/sensord/internal/app/domain/device"
	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/internal/app/metrics"
	"github.com/thermolink/sensord/internal/app/transport/scan"
	"github.com/thermolink/sensord/pkg/logger"
)

// Outcome classifies one refresh cycle.
type Outcome string

const (
	// OutcomePublished means a reading was normalized and published.
	OutcomePublished Outcome = "published"
	// OutcomeFault means the cycle failed and a fault marker was published.
	OutcomeFault Outcome = "fault"
	// OutcomeSkippedBusy means another cycle was still in flight.
	OutcomeSkippedBusy Outcome = "skipped_busy"
	// OutcomeSkippedNoCredential means the API transport was selected without
	// a credential configured. Nothing is published, not even a fault.
	OutcomeSkippedNoCredential Outcome = "skipped_no_credential"
	// OutcomeCanceled means the cycle's context was canceled before a result
	// was obtained. Nothing is published and the transport routing is left
	// untouched; cancellation is not a transport failure.
	OutcomeCanceled Outcome = "canceled"
)

// Engine orchestrates refresh cycles for one device: transport selection,
// the time-boxed scan or cloud fetch, normalization against the cached
// previous reading, and publication to the attached sinks. Sinks must be
// attached before the first cycle runs.
type Engine struct {
	profile device.Profile
	router  *Router
	scanner Scanner
	fetcher Fetcher
	log     *logger.Logger

	presentation []PresentationSink
	history      []HistorySink

	inProgress atomic.Bool
	nowFn      func() time.Time

	mu   sync.Mutex
	last reading.Reading
}

// NewEngine builds an engine from a resolved device profile. A nil router is
// derived from the profile's transport flag; a nil fetcher marks the API
// transport as unavailable (no credential).
func NewEngine(profile device.Profile, router *Router, scanner Scanner, fetcher Fetcher, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("refresh-engine")
	}
	if router == nil {
		router = NewRouter(profile.UseBroadcast)
	}
	return &Engine{
		profile: profile,
		router:  router,
		scanner: scanner,
		fetcher: fetcher,
		log:     log,
		nowFn:   time.Now,
	}
}

// AttachPresentation adds presentation sinks. Call before the scheduler
// starts.
func (e *Engine) AttachPresentation(sinks ...PresentationSink) {
	for _, sink := range sinks {
		if sink != nil {
			e.presentation = append(e.presentation, sink)
		}
	}
}

// AttachHistory adds history sinks. Call before the scheduler starts.
func (e *Engine) AttachHistory(sinks ...HistorySink) {
	for _, sink := range sinks {
		if sink != nil {
			e.history = append(e.history, sink)
		}
	}
}

// Profile returns the immutable resolved profile the engine was built from.
func (e *Engine) Profile() device.Profile { return e.profile }

// Router returns the engine's transport router.
func (e *Engine) Router() *Router { return e.router }

// Busy reports whether a cycle is currently in flight. The scheduler checks
// this before dispatching so slow cycles drop ticks instead of queueing them.
func (e *Engine) Busy() bool { return e.inProgress.Load() }

// RunCycle executes one refresh cycle and reports its outcome. At most one
// cycle is in flight per engine; a concurrent call returns OutcomeSkippedBusy
// without doing any work. No failure escapes this method - transport errors
// become fault publications or a silent skip, and sink errors are logged and
// absorbed.
func (e *Engine) RunCycle(ctx context.Context) Outcome {
	if !e.inProgress.CompareAndSwap(false, true) {
		return OutcomeSkippedBusy
	}
	defer e.inProgress.Store(false)

	entry := e.log.WithField("device_id", e.profile.DeviceID).
		WithField("cycle_id", uuid.NewString())

	start := time.Now()
	outcome := e.run(ctx, entry)
	metrics.RecordCycle(e.profile.DeviceID, string(outcome), time.Since(start))
	return outcome
}

func (e *Engine) run(ctx context.Context, entry *logrus.Entry) Outcome {
	if e.router.Select() == TransportBroadcast {
		adv, err := e.scan(ctx)
		if err == nil {
			r := reading.FromAdvertisement(adv, e.lastReading(), e.nowFn())
			e.publishReading(ctx, r, TransportBroadcast, entry)
			return OutcomePublished
		}

		if ctx.Err() != nil {
			entry.WithError(err).Debug("scan cycle canceled")
			return OutcomeCanceled
		}

		entry.WithError(err).Warn("scan cycle failed")
		if e.fetcher == nil {
			e.publishFault(ctx, "broadcast scan failed", TransportBroadcast, entry)
			return OutcomeFault
		}

		// Sticky transition plus one fetch within the same cycle; the
		// fallback is not deferred to the next period.
		e.router.ForceAPI()
		entry.Info("transport forced to api after scan failure")
	}

	if e.fetcher == nil {
		// Defined no-op: an API cycle without a credential publishes nothing,
		// not even a fault.
		entry.Debug("api cycle skipped, no credential configured")
		return OutcomeSkippedNoCredential
	}

	st, err := e.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			entry.WithError(err).Debug("cloud fetch canceled")
			return OutcomeCanceled
		}
		entry.WithError(err).Warn("cloud fetch failed")
		e.publishFault(ctx, "cloud status fetch failed", TransportAPI, entry)
		return OutcomeFault
	}

	r := reading.FromCloudStatus(st, e.lastReading(), e.nowFn())
	e.publishReading(ctx, r, TransportAPI, entry)
	return OutcomePublished
}

func (e *Engine) scan(ctx context.Context) (reading.Advertisement, error) {
	if e.scanner == nil {
		return reading.Advertisement{}, fmt.Errorf("broadcast medium not configured")
	}

	start := time.Now()
	adv, err := e.scanner.Run(ctx, e.profile.Address, e.profile.ScanWindow)

	result := "captured"
	switch {
	case errors.Is(err, scan.ErrNoAdvertisement):
		result = "empty_window"
	case err != nil && ctx.Err() != nil:
		result = "canceled"
	case err != nil:
		result = "failed"
	}
	metrics.RecordScanSession(result, time.Since(start))
	return adv, err
}

func (e *Engine) fetch(ctx context.Context) (reading.CloudStatus, error) {
	start := time.Now()
	st, err := e.fetcher.Status(ctx, e.profile.CloudID)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RecordCloudFetch(result, time.Since(start))
	return st, err
}

func (e *Engine) publishReading(ctx context.Context, r reading.Reading, transport Transport, entry *logrus.Entry) {
	e.setLastReading(r)

	st := reading.Status{
		DeviceID:  e.profile.DeviceID,
		Reading:   e.applyVisibility(r),
		Transport: string(transport),
		UpdatedAt: e.nowFn(),
	}
	for _, sink := range e.presentation {
		if err := sink.PublishReading(ctx, st); err != nil {
			entry.WithError(err).Warn("presentation publish failed")
		}
	}

	// History records the full reading; visibility flags shape presentation
	// only. Unreliable humidity is suppressed from history but presented.
	if e.profile.HistoryEnabled && r.ReliableHumidity() {
		for _, sink := range e.history {
			if err := sink.RecordSample(ctx, e.profile.DeviceID, r); err != nil {
				entry.WithError(err).Warn("history record failed")
			}
		}
		if len(e.history) > 0 {
			metrics.RecordHistorySample(e.profile.DeviceID)
		}
	}

	entry.WithField("transport", string(transport)).Info("reading published")
}

func (e *Engine) publishFault(ctx context.Context, fault string, transport Transport, entry *logrus.Entry) {
	st := reading.Status{
		DeviceID:  e.profile.DeviceID,
		Reading:   e.applyVisibility(e.lastReading()),
		Fault:     fault,
		Transport: string(transport),
		UpdatedAt: e.nowFn(),
	}
	for _, sink := range e.presentation {
		if err := sink.PublishFault(ctx, st); err != nil {
			entry.WithError(err).Warn("fault publish failed")
		}
	}
}

// applyVisibility blanks fields the device is configured to hide from
// presentation surfaces.
func (e *Engine) applyVisibility(r reading.Reading) reading.Reading {
	if e.profile.HideTemperature {
		r.TemperatureC = nil
	}
	if e.profile.HideHumidity {
		r.HumidityPct = nil
	}
	return r
}

func (e *Engine) lastReading() reading.Reading {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *Engine) setLastReading(r reading.Reading) {
	e.mu.Lock()
	e.last = r
	e.mu.Unlock()
}
