// Package statussink persists published state into a status store so the
// HTTP API serves exactly what consumers saw on the live feed.
package statussink

import (
	"context"

	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/internal/app/services/refresh"
	"github.com/thermolink/sensord/internal/app/storage"
)

// Sink writes every published status, reading or fault, to a StatusStore.
// The two share one slot per device; writing either replaces the other.
type Sink struct {
	store storage.StatusStore
}

var _ refresh.PresentationSink = (*Sink)(nil)

// New wraps a status store as a presentation sink.
func New(store storage.StatusStore) *Sink {
	return &Sink{store: store}
}

func (s *Sink) PublishReading(ctx context.Context, st reading.Status) error {
	return s.store.SetStatus(ctx, st)
}

func (s *Sink) PublishFault(ctx context.Context, st reading.Status) error {
	return s.store.SetStatus(ctx, st)
}
