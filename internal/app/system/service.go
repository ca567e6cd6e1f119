package system

import "context"

// Service is a lifecycle-managed component. The manager starts registered
// services in registration order and stops them in reverse, so dependents
// must register after their dependencies.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService satisfies Service for modules without background work of their
// own that still belong in the lifecycle listing.
type NoopService struct {
	ServiceName string
}

func (s NoopService) Name() string                { return s.ServiceName }
func (s NoopService) Start(context.Context) error { return nil }
func (s NoopService) Stop(context.Context) error  { return nil }
