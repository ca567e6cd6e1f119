package app

import (
	"context"
	"fmt"

	"github.com/thermolink/sensord/internal/app/domain/device"
	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/internal/app/services/devices"
	"github.com/thermolink/sensord/internal/app/services/history"
	"github.com/thermolink/sensord/internal/app/services/refresh"
	"github.com/thermolink/sensord/internal/app/sinks/statussink"
	"github.com/thermolink/sensord/internal/app/storage"
	"github.com/thermolink/sensord/internal/app/storage/memory"
	"github.com/thermolink/sensord/internal/app/system"
	"github.com/thermolink/sensord/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Devices  storage.DeviceStore
	Statuses storage.StatusStore
	History  storage.HistoryStore
}

// Options carries the transports, sinks and policies the engines are built
// with. A nil Scanner disables the broadcast transport; a nil Fetcher means
// no cloud credential is configured.
type Options struct {
	Defaults      device.Defaults
	RetentionDays int
	Seed          []device.Device

	Scanner refresh.Scanner
	Fetcher refresh.Fetcher

	Presentation []refresh.PresentationSink
	History      []refresh.HistorySink
}

// Application ties the services together and manages their lifecycle. One
// engine and scheduler exist per device registered at construction time;
// registry changes take effect on the next start.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Devices  *devices.Service
	History  *history.Service
	Statuses storage.StatusStore

	engines map[string]*refresh.Engine
}

// New builds a fully initialised application: stores, services, sinks and one
// refresh engine plus scheduler per registered device.
func New(ctx context.Context, stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Devices == nil {
		stores.Devices = mem
	}
	if stores.Statuses == nil {
		stores.Statuses = mem
	}
	if stores.History == nil {
		stores.History = mem
	}

	manager := system.NewManager()

	deviceService := devices.New(stores.Devices, opts.Defaults, log.Named("devices"))
	historyService := history.New(stores.History, opts.RetentionDays, log.Named("history"))

	if len(opts.Seed) > 0 {
		if _, err := deviceService.Seed(ctx, opts.Seed); err != nil {
			return nil, fmt.Errorf("seed devices: %w", err)
		}
	}

	// The status store sink always runs first so the HTTP API serves what the
	// other sinks saw.
	presentation := append([]refresh.PresentationSink{statussink.New(stores.Statuses)}, opts.Presentation...)
	historySinks := append([]refresh.HistorySink{refresh.HistorySinkFunc(
		func(ctx context.Context, deviceID string, r reading.Reading) error {
			_, err := historyService.RecordSample(ctx, deviceID, r)
			return err
		},
	)}, opts.History...)

	if err := manager.Register(system.NoopService{ServiceName: "devices"}); err != nil {
		return nil, fmt.Errorf("register devices service: %w", err)
	}
	if err := manager.Register(historyService); err != nil {
		return nil, fmt.Errorf("register history retention: %w", err)
	}

	profiles, err := deviceService.Profiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve device profiles: %w", err)
	}

	engines := make(map[string]*refresh.Engine, len(profiles))
	for _, profile := range profiles {
		engine := refresh.NewEngine(profile, nil, opts.Scanner, opts.Fetcher, log.Named("refresh"))
		for _, sink := range presentation {
			engine.AttachPresentation(sink)
		}
		for _, sink := range historySinks {
			engine.AttachHistory(sink)
		}
		engines[profile.DeviceID] = engine

		if err := manager.Register(refresh.NewScheduler(engine, log.Named("refresh"))); err != nil {
			return nil, fmt.Errorf("register scheduler for %s: %w", profile.DeviceID, err)
		}
	}
	log.WithField("engines", len(engines)).Info("refresh engines built")

	return &Application{
		manager:  manager,
		log:      log,
		Devices:  deviceService,
		History:  historyService,
		Statuses: stores.Statuses,
		engines:  engines,
	}, nil
}

// Engine returns the refresh engine for a device, or nil when the device was
// not registered when the application was built.
func (a *Application) Engine(deviceID string) *refresh.Engine {
	return a.engines[deviceID]
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
