package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	app "github.com/thermolink/sensord/internal/app"
	"github.com/thermolink/sensord/internal/app/domain/device"
	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/internal/app/services/refresh"
	"github.com/thermolink/sensord/pkg/logger"
)

func TestHandlerLifecycle(t *testing.T) {
	application := newTestApplication(t, meterScanner())
	handler := NewHandler(application, nil, quietLogger())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/devices", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 list devices, got %d", resp.Code)
	}
	var devs []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &devs); err != nil {
		t.Fatalf("unmarshal devices: %v", err)
	}
	if len(devs) != 1 || devs[0]["id"] != "meter-1" {
		t.Fatalf("unexpected device list: %v", devs)
	}
	if devs[0]["refreshActive"] != true {
		t.Fatalf("expected seeded device to have an engine, got %v", devs[0])
	}

	body := marshal(map[string]any{"name": "Cellar", "useBroadcast": false, "cloudId": "vendor-7"})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodPost, "/devices", body))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create device, got %d: %s", resp.Code, resp.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created device: %v", err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected generated device id, got %v", created)
	}
	if created["refreshActive"] != false {
		t.Fatalf("expected no engine for a device created after startup, got %v", created)
	}

	patch := marshal(map[string]any{"name": "Wine cellar"})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodPatch, "/devices/"+id, patch))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 patch device, got %d: %s", resp.Code, resp.Body.String())
	}
	var patched map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &patched); err != nil {
		t.Fatalf("unmarshal patched device: %v", err)
	}
	if patched["name"] != "Wine cellar" {
		t.Fatalf("expected patched name, got %v", patched)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/devices/meter-1/status", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first cycle, got %d", resp.Code)
	}

	if outcome := application.Engine("meter-1").RunCycle(context.Background()); outcome != refresh.OutcomePublished {
		t.Fatalf("expected published cycle, got %s", outcome)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/devices/meter-1/status", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.Code)
	}
	var st map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st["temperatureC"] != 21.5 || st["transport"] != "broadcast" {
		t.Fatalf("unexpected status payload: %v", st)
	}
	if st["batteryPct"] != 80.0 {
		t.Fatalf("expected battery in broadcast status, got %v", st)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/statuses", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 list statuses, got %d", resp.Code)
	}
	var statuses []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("unmarshal statuses: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/devices/meter-1/history", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 history, got %d", resp.Code)
	}
	var samples []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &samples); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(samples) != 1 || samples[0]["humidityPct"] != 44.0 {
		t.Fatalf("unexpected history: %v", samples)
	}

	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/devices/meter-1/history?from="+past, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 filtered history, got %d", resp.Code)
	}
	samples = nil
	if err := json.Unmarshal(resp.Body.Bytes(), &samples); err != nil {
		t.Fatalf("unmarshal filtered history: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected the sample inside the window, got %d", len(samples))
	}

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/devices/meter-1/history?from="+future, nil))
	samples = nil
	if err := json.Unmarshal(resp.Body.Bytes(), &samples); err != nil {
		t.Fatalf("unmarshal future history: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("expected no samples after the window start, got %d", len(samples))
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodPost, "/devices/meter-1/refresh", nil))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 refresh dispatch, got %d: %s", resp.Code, resp.Body.String())
	}
	var dispatch map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &dispatch); err != nil {
		t.Fatalf("unmarshal dispatch: %v", err)
	}
	if dispatch["transport"] != "broadcast" {
		t.Fatalf("expected broadcast transport, got %v", dispatch)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp = httptest.NewRecorder()
		handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/devices/meter-1/history", nil))
		samples = nil
		_ = json.Unmarshal(resp.Body.Bytes(), &samples)
		if len(samples) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dispatched refresh never recorded a sample")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 metrics, got %d", resp.Code)
	}
	if resp.Body.Len() == 0 {
		t.Fatalf("expected metrics output to be non-empty")
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.Code)
	}
	if resp.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected a generated request id header")
	}

	req := jsonRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if got := resp.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected request id echoed back, got %q", got)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodDelete, "/devices/"+id, nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 delete, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/devices/"+id, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
}

func TestHandlerValidation(t *testing.T) {
	application := newTestApplication(t, meterScanner())
	handler := NewHandler(application, nil, quietLogger())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodPost, "/devices", marshal(map[string]any{"name": ""})))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty name, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodPost, "/devices", marshal(map[string]any{"nmae": "typo"})))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/devices/meter-1/history?from=yesterday", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed from, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "RFC3339") {
		t.Fatalf("expected RFC3339 hint, got %s", resp.Body.String())
	}

	from := time.Now().UTC().Format(time.RFC3339)
	to := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/devices/meter-1/history?from="+from+"&to="+to, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodPost, "/devices/ghost/refresh", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 refreshing unknown device, got %d", resp.Code)
	}

	body := marshal(map[string]any{"name": "Late arrival", "cloudId": "vendor-9"})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodPost, "/devices", body))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create, got %d: %s", resp.Code, resp.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created device: %v", err)
	}
	id := created["id"].(string)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodPost, "/devices/"+id+"/refresh", nil))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 refreshing device without engine, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "no refresh engine") {
		t.Fatalf("expected engine hint in body, got %s", resp.Body.String())
	}
}

func TestHandlerRefreshConflict(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	scanner := refresh.ScannerFunc(func(_ context.Context, target string, _ time.Duration) (reading.Advertisement, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return reading.Advertisement{
			Address:      target,
			TemperatureC: reading.Float(19),
			HumidityPct:  reading.Int(51),
		}, nil
	})
	application := newTestApplication(t, scanner)
	handler := NewHandler(application, nil, quietLogger())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodPost, "/devices/meter-1/refresh", nil))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 first refresh, got %d: %s", resp.Code, resp.Body.String())
	}
	<-started

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, jsonRequest(http.MethodPost, "/devices/meter-1/refresh", nil))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 while cycle in flight, got %d", resp.Code)
	}

	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp = httptest.NewRecorder()
		handler.ServeHTTP(resp, jsonRequest(http.MethodGet, "/devices/meter-1/status", nil))
		if resp.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("released cycle never published a status")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newTestApplication(t *testing.T, scanner refresh.Scanner) *app.Application {
	t.Helper()
	application, err := app.New(context.Background(), app.Stores{}, app.Options{
		Seed: []device.Device{{
			ID:             "meter-1",
			Name:           "Greenhouse",
			Address:        "c1:2e:00:aa:bb:cc",
			UseBroadcast:   true,
			HistoryEnabled: true,
		}},
		Scanner: scanner,
	}, quietLogger())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	return application
}

func meterScanner() refresh.Scanner {
	return refresh.ScannerFunc(func(_ context.Context, target string, _ time.Duration) (reading.Advertisement, error) {
		return reading.Advertisement{
			Address:      target,
			TemperatureC: reading.Float(21.5),
			HumidityPct:  reading.Int(44),
			BatteryPct:   reading.Int(80),
		}, nil
	})
}

func quietLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

func marshal(v any) []byte {
	buf, _ := json.Marshal(v)
	return buf
}

func jsonRequest(method, url string, body []byte) *http.Request {
	return httptest.NewRequest(method, url, bytes.NewReader(body))
}
