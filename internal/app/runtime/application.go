// Package runtime assembles the daemon from configuration: stores,
// transports, sinks, the application core and the HTTP server, with one
// shutdown path for everything the process holds open.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/thermolink/sensord/internal/app"
	"github.com/thermolink/sensord/internal/app/domain/device"
	"github.com/thermolink/sensord/internal/app/httpapi"
	"github.com/thermolink/sensord/internal/app/services/refresh"
	"github.com/thermolink/sensord/internal/app/sinks/kafkapub"
	"github.com/thermolink/sensord/internal/app/sinks/mqttpub"
	"github.com/thermolink/sensord/internal/app/storage/jsonl"
	"github.com/thermolink/sensord/internal/app/storage/postgres"
	"github.com/thermolink/sensord/internal/app/transport/cloud"
	"github.com/thermolink/sensord/internal/app/transport/scan"
	"github.com/thermolink/sensord/internal/config"
	"github.com/thermolink/sensord/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Application is the assembled daemon. Construct with NewApplication, drive
// with Run, release with Shutdown.
type Application struct {
	cfg *config.Config
	log *logger.Logger

	app    *app.Application
	hub    *httpapi.Hub
	server *http.Server

	pg          *postgres.Store
	fileHistory *jsonl.Store
	mqtt        *mqttpub.Publisher
	kafka       *kafkapub.Sink
}

// NewApplication builds the daemon from the default configuration sources:
// built-in defaults, the YAML file named by SENSORD_CONFIG, then SENSORD_*
// environment overrides.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApplication(ctx, cfg)
}

func newApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	a := &Application{cfg: cfg, log: log.Named("runtime")}

	stores, err := a.openStores(ctx)
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}

	fetcher, err := a.buildFetcher(log)
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}

	if err := a.openSinks(log); err != nil {
		_ = a.Shutdown()
		return nil, err
	}

	a.hub = httpapi.NewHub(log.Named("stream"))
	presentation := []refresh.PresentationSink{a.hub}
	if a.mqtt != nil {
		presentation = append(presentation, a.mqtt)
	}
	var historySinks []refresh.HistorySink
	if a.kafka != nil {
		historySinks = append(historySinks, a.kafka)
	}

	application, err := app.New(ctx, stores, app.Options{
		Defaults: device.Defaults{
			ScanWindowSeconds:    cfg.Refresh.ScanWindowSeconds,
			RefreshPeriodSeconds: cfg.Refresh.PeriodSeconds,
		},
		RetentionDays: cfg.History.RetentionDays,
		Seed:          seedDevices(cfg),
		Scanner:       a.buildScanner(log),
		Fetcher:       fetcher,
		Presentation:  presentation,
		History:       historySinks,
	}, log.Named("app"))
	if err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("build application: %w", err)
	}
	a.app = application

	a.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           httpapi.NewHandler(application, a.hub, log.Named("httpapi")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// openStores selects the persistence backends. A reachable Postgres serves
// devices and statuses; when it is down and not strictly required the daemon
// degrades to the in-memory stores instead of refusing to start. The history
// backend is chosen independently so samples can go to Postgres, a JSONL
// file or memory regardless of where the registry lives.
func (a *Application) openStores(ctx context.Context) (app.Stores, error) {
	var stores app.Stores

	if dsn := strings.TrimSpace(a.cfg.Database.DSN); dsn != "" {
		pg, err := postgres.Open(ctx, dsn)
		if err != nil {
			if strings.EqualFold(a.cfg.History.Backend, "postgres") {
				return app.Stores{}, fmt.Errorf("open postgres: %w", err)
			}
			a.log.WithError(err).Warn("postgres unavailable, falling back to in-memory stores")
		} else {
			a.pg = pg
			stores.Devices = pg
			stores.Statuses = pg
		}
	}

	switch strings.ToLower(strings.TrimSpace(a.cfg.History.Backend)) {
	case "postgres":
		stores.History = a.pg
	case "file":
		fileStore, err := jsonl.Open(a.cfg.History.FilePath, a.log.Named("history-file"))
		if err != nil {
			return app.Stores{}, fmt.Errorf("open history file: %w", err)
		}
		a.fileHistory = fileStore
		stores.History = fileStore
	}
	return stores, nil
}

// buildScanner returns the broadcast transport, or nil when scanning is
// disabled so every engine routes to the cloud API.
func (a *Application) buildScanner(log *logger.Logger) refresh.Scanner {
	if !a.cfg.Scan.Enabled {
		a.log.Info("broadcast scanning disabled")
		return nil
	}
	medium := scan.NewBluetoothMedium(log.Named("scan-medium"))
	session := scan.NewSession(medium, log.Named("scan"))
	if a.cfg.Scan.Debug {
		session.WithDebugListener(a.cfg.Scan.DebugAddress)
	}
	return session
}

// buildFetcher returns the cloud transport, or nil when no credential is
// configured. Engines treat a nil fetcher as "skip API cycles silently".
func (a *Application) buildFetcher(log *logger.Logger) (refresh.Fetcher, error) {
	if strings.TrimSpace(a.cfg.Cloud.Token) == "" {
		a.log.Info("cloud credential absent, api transport disabled")
		return nil, nil
	}
	httpClient := &http.Client{Timeout: time.Duration(a.cfg.Cloud.TimeoutSeconds) * time.Second}
	client, err := cloud.NewClient(httpClient, a.cfg.Cloud.BaseURL, a.cfg.Cloud.Token, a.cfg.Cloud.RequestsPerMinute, log.Named("cloud"))
	if err != nil {
		return nil, fmt.Errorf("build cloud client: %w", err)
	}
	return client, nil
}

// openSinks connects the optional egress paths. An unreachable MQTT broker or
// Kafka cluster fails startup; unlike the stores there is no degraded mode
// for egress a deployment explicitly asked for.
func (a *Application) openSinks(log *logger.Logger) error {
	if strings.TrimSpace(a.cfg.MQTT.Broker) != "" {
		pub, err := mqttpub.Connect(mqttpub.Config{
			Broker:      a.cfg.MQTT.Broker,
			ClientID:    a.cfg.MQTT.ClientID,
			Username:    a.cfg.MQTT.Username,
			Password:    a.cfg.MQTT.Password,
			TopicPrefix: a.cfg.MQTT.TopicPrefix,
		}, log.Named("mqtt"))
		if err != nil {
			return fmt.Errorf("connect mqtt broker: %w", err)
		}
		a.mqtt = pub
	}

	if brokers := a.cfg.Kafka.BrokerList(); len(brokers) > 0 && a.cfg.History.Enabled {
		sink, err := kafkapub.New(kafkapub.Config{Brokers: brokers, Topic: a.cfg.Kafka.Topic}, log.Named("kafka"))
		if err != nil {
			return fmt.Errorf("build kafka producer: %w", err)
		}
		a.kafka = sink
	}
	return nil
}

// seedDevices maps statically configured meters to registry records. The
// global history switch overrides the per-device flag so one setting silences
// all recording.
func seedDevices(cfg *config.Config) []device.Device {
	if len(cfg.Devices) == 0 {
		return nil
	}
	seed := make([]device.Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		name := d.Name
		if name == "" {
			name = d.ID
		}
		seed = append(seed, device.Device{
			ID:                   d.ID,
			Name:                 name,
			Address:              d.Address,
			CloudID:              d.CloudID,
			UseBroadcast:         d.UseBroadcast,
			ScanWindowSeconds:    d.ScanWindowSeconds,
			RefreshPeriodSeconds: d.RefreshPeriodSeconds,
			HideTemperature:      d.HideTemperature,
			HideHumidity:         d.HideHumidity,
			HistoryEnabled:       d.HistoryEnabled && cfg.History.Enabled,
		})
	}
	return seed
}

// Run starts the services and the HTTP listener, then blocks until ctx is
// cancelled or the server fails. The refresh schedulers run off ctx, so pass
// the long-lived process context here, not a request-scoped one.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	a.log.WithField("addr", a.server.Addr).Info("http server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops the HTTP listener and the services, then closes every
// connection the daemon holds. Individual failures are logged and the first
// one is returned; later closers still run.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var first error
	fail := func(what string, err error) {
		if err == nil {
			return
		}
		a.log.WithError(err).Warn(what)
		if first == nil {
			first = err
		}
	}

	if a.server != nil {
		fail("http server shutdown", a.server.Shutdown(ctx))
	}
	if a.app != nil {
		fail("stop services", a.app.Stop(ctx))
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.kafka != nil {
		fail("close kafka producer", a.kafka.Close())
	}
	if a.fileHistory != nil {
		fail("close history file", a.fileHistory.Close())
	}
	if a.pg != nil {
		fail("close postgres", a.pg.Close())
	}
	return first
}
