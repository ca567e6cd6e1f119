package runtime

import (
	"context"
	"io"
	"testing"

	"github.com/thermolink/sensord/internal/config"
	"github.com/thermolink/sensord/pkg/logger"
)

func quietLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

func TestSeedDevicesMapsConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Devices = []config.DeviceConfig{
		{
			ID:                   "meter-1",
			Name:                 "Greenhouse",
			Address:              "c1:2e:00:aa:bb:cc",
			UseBroadcast:         true,
			ScanWindowSeconds:    3,
			RefreshPeriodSeconds: 60,
			HistoryEnabled:       true,
		},
		{ID: "meter-2", CloudID: "vendor-7"},
	}

	seed := seedDevices(cfg)
	if len(seed) != 2 {
		t.Fatalf("expected 2 seeded devices, got %d", len(seed))
	}

	first := seed[0]
	if first.ID != "meter-1" || first.Name != "Greenhouse" {
		t.Fatalf("unexpected first device %q %q", first.ID, first.Name)
	}
	if !first.UseBroadcast || first.Address != "c1:2e:00:aa:bb:cc" {
		t.Fatalf("broadcast settings not carried over: %+v", first)
	}
	if first.ScanWindowSeconds != 3 || first.RefreshPeriodSeconds != 60 {
		t.Fatalf("timings not carried over: %+v", first)
	}
	if !first.HistoryEnabled {
		t.Fatal("expected history to stay enabled for the first device")
	}

	second := seed[1]
	if second.Name != "meter-2" {
		t.Fatalf("expected name to fall back to the id, got %q", second.Name)
	}
	if second.CloudID != "vendor-7" {
		t.Fatalf("expected cloud id vendor-7, got %q", second.CloudID)
	}
}

func TestSeedDevicesGlobalHistorySwitch(t *testing.T) {
	cfg := config.Default()
	cfg.History.Enabled = false
	cfg.Devices = []config.DeviceConfig{{ID: "meter-1", HistoryEnabled: true}}

	seed := seedDevices(cfg)
	if len(seed) != 1 {
		t.Fatalf("expected 1 seeded device, got %d", len(seed))
	}
	if seed[0].HistoryEnabled {
		t.Fatal("expected the global history switch to override the device flag")
	}
}

func TestSeedDevicesEmpty(t *testing.T) {
	if seed := seedDevices(config.Default()); seed != nil {
		t.Fatalf("expected no seed for an empty device list, got %d", len(seed))
	}
}

func TestBuildScannerDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Scan.Enabled = false

	a := &Application{cfg: cfg, log: quietLogger()}
	if s := a.buildScanner(quietLogger()); s != nil {
		t.Fatalf("expected no scanner when scanning is disabled, got %T", s)
	}
}

func TestBuildFetcherWithoutToken(t *testing.T) {
	a := &Application{cfg: config.Default(), log: quietLogger()}

	f, err := a.buildFetcher(quietLogger())
	if err != nil {
		t.Fatalf("buildFetcher: %v", err)
	}
	if f != nil {
		t.Fatalf("expected no fetcher without a cloud token, got %T", f)
	}
}

func TestNewApplicationInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Scan.Enabled = false
	cfg.Logging.Level = "error"
	cfg.Logging.Output = "stderr"
	cfg.Devices = []config.DeviceConfig{{ID: "meter-1", Name: "Greenhouse"}}

	a, err := newApplication(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApplication: %v", err)
	}
	defer func() {
		if err := a.Shutdown(); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}()

	if a.app == nil || a.app.Engine("meter-1") == nil {
		t.Fatal("expected an engine for the seeded device")
	}
	if a.server == nil || a.server.Addr != "0.0.0.0:8080" {
		t.Fatalf("unexpected server address %+v", a.server)
	}
	if a.pg != nil || a.fileHistory != nil || a.mqtt != nil || a.kafka != nil {
		t.Fatal("expected no external connections for the in-memory configuration")
	}
}
