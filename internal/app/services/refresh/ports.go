// Package refresh implements the dual-transport status-refresh engine: the
// per-device transport router with its sticky fallback, the single-flight
// cycle orchestration, and the fixed-period scheduler that drives it.
package refresh

import (
	"context"
	"time"

	"github.com/thermolink/sensord/internal/app/domain/reading"
)

// Scanner runs one time-boxed broadcast listen against a target address.
type Scanner interface {
	Run(ctx context.Context, target string, window time.Duration) (reading.Advertisement, error)
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(ctx context.Context, target string, window time.Duration) (reading.Advertisement, error)

func (f ScannerFunc) Run(ctx context.Context, target string, window time.Duration) (reading.Advertisement, error) {
	if f == nil {
		return reading.Advertisement{}, nil
	}
	return f(ctx, target, window)
}

// Fetcher issues one cloud status request. A nil Fetcher on an engine means
// no credential is configured; cycles routed to the API transport are then
// skipped silently.
type Fetcher interface {
	Status(ctx context.Context, deviceID string) (reading.CloudStatus, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, deviceID string) (reading.CloudStatus, error)

func (f FetcherFunc) Status(ctx context.Context, deviceID string) (reading.CloudStatus, error) {
	if f == nil {
		return reading.CloudStatus{}, nil
	}
	return f(ctx, deviceID)
}

// PresentationSink receives every published state change. The reading path
// and the fault path stay separate methods so a consumer can never mistake a
// communication failure for a stale numeric value.
type PresentationSink interface {
	PublishReading(ctx context.Context, st reading.Status) error
	PublishFault(ctx context.Context, st reading.Status) error
}

// HistorySink receives samples whose humidity passed the reliability gate.
// Faults never reach a history sink.
type HistorySink interface {
	RecordSample(ctx context.Context, deviceID string, r reading.Reading) error
}

// HistorySinkFunc adapts a function to the HistorySink interface.
type HistorySinkFunc func(ctx context.Context, deviceID string, r reading.Reading) error

func (f HistorySinkFunc) RecordSample(ctx context.Context, deviceID string, r reading.Reading) error {
	if f == nil {
		return nil
	}
	return f(ctx, deviceID, r)
}
