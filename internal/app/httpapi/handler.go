// Package httpapi exposes the daemon's REST surface: the device registry,
// latest statuses, recorded history, manual refresh dispatch and the
// websocket stream.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/thermolink/sensord/internal/app"
	"github.com/thermolink/sensord/internal/app/domain/device"
	"github.com/thermolink/sensord/internal/app/domain/history"
	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/internal/app/metrics"
	"github.com/thermolink/sensord/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	hub *Hub
	log *logger.Logger
}

// NewHandler returns a router exposing the REST API. A nil hub disables the
// /stream endpoint.
func NewHandler(application *app.Application, hub *Hub, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, hub: hub, log: log}

	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(metrics.InstrumentHandler), RequestLogger(log))
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/devices", h.createDevice).Methods(http.MethodPost)
	r.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	r.HandleFunc("/statuses", h.listStatuses).Methods(http.MethodGet)
	r.HandleFunc("/devices/{deviceID}", h.getDevice).Methods(http.MethodGet)
	r.HandleFunc("/devices/{deviceID}", h.updateDevice).Methods(http.MethodPatch)
	r.HandleFunc("/devices/{deviceID}", h.deleteDevice).Methods(http.MethodDelete)
	r.HandleFunc("/devices/{deviceID}/status", h.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/devices/{deviceID}/history", h.listHistory).Methods(http.MethodGet)
	r.HandleFunc("/devices/{deviceID}/refresh", h.triggerRefresh).Methods(http.MethodPost)

	if hub != nil {
		r.Handle("/stream", hub).Methods(http.MethodGet)
	}
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type devicePayload struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Address              string `json:"address"`
	CloudID              string `json:"cloudId"`
	UseBroadcast         bool   `json:"useBroadcast"`
	ScanWindowSeconds    int    `json:"scanWindowSeconds"`
	RefreshPeriodSeconds int    `json:"refreshPeriodSeconds"`
	HideTemperature      bool   `json:"hideTemperature"`
	HideHumidity         bool   `json:"hideHumidity"`
	HistoryEnabled       bool   `json:"historyEnabled"`
}

func (h *handler) createDevice(w http.ResponseWriter, r *http.Request) {
	var payload devicePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	dev, err := h.app.Devices.Register(r.Context(), device.Device{
		ID:                   payload.ID,
		Name:                 payload.Name,
		Address:              payload.Address,
		CloudID:              payload.CloudID,
		UseBroadcast:         payload.UseBroadcast,
		ScanWindowSeconds:    payload.ScanWindowSeconds,
		RefreshPeriodSeconds: payload.RefreshPeriodSeconds,
		HideTemperature:      payload.HideTemperature,
		HideHumidity:         payload.HideHumidity,
		HistoryEnabled:       payload.HistoryEnabled,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.viewDevice(dev))
}

func (h *handler) listDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := h.app.Devices.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]deviceView, 0, len(devs))
	for _, dev := range devs {
		views = append(views, h.viewDevice(dev))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) getDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.app.Devices.Get(r.Context(), mux.Vars(r)["deviceID"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, h.viewDevice(dev))
}

func (h *handler) updateDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.app.Devices.Get(r.Context(), mux.Vars(r)["deviceID"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	var payload struct {
		Name                 *string `json:"name"`
		Address              *string `json:"address"`
		CloudID              *string `json:"cloudId"`
		UseBroadcast         *bool   `json:"useBroadcast"`
		ScanWindowSeconds    *int    `json:"scanWindowSeconds"`
		RefreshPeriodSeconds *int    `json:"refreshPeriodSeconds"`
		HideTemperature      *bool   `json:"hideTemperature"`
		HideHumidity         *bool   `json:"hideHumidity"`
		HistoryEnabled       *bool   `json:"historyEnabled"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if payload.Name != nil {
		dev.Name = *payload.Name
	}
	if payload.Address != nil {
		dev.Address = *payload.Address
	}
	if payload.CloudID != nil {
		dev.CloudID = *payload.CloudID
	}
	if payload.UseBroadcast != nil {
		dev.UseBroadcast = *payload.UseBroadcast
	}
	if payload.ScanWindowSeconds != nil {
		dev.ScanWindowSeconds = *payload.ScanWindowSeconds
	}
	if payload.RefreshPeriodSeconds != nil {
		dev.RefreshPeriodSeconds = *payload.RefreshPeriodSeconds
	}
	if payload.HideTemperature != nil {
		dev.HideTemperature = *payload.HideTemperature
	}
	if payload.HideHumidity != nil {
		dev.HideHumidity = *payload.HideHumidity
	}
	if payload.HistoryEnabled != nil {
		dev.HistoryEnabled = *payload.HistoryEnabled
	}

	updated, err := h.app.Devices.Update(r.Context(), dev)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.viewDevice(updated))
}

func (h *handler) deleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Devices.Delete(r.Context(), mux.Vars(r)["deviceID"]); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Statuses.GetStatus(r.Context(), mux.Vars(r)["deviceID"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, viewStatus(st))
}

func (h *handler) listStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.app.Statuses.ListStatuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]statusView, 0, len(statuses))
	for _, st := range statuses {
		views = append(views, viewStatus(st))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) listHistory(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	samples, err := h.app.History.ListSamples(r.Context(), mux.Vars(r)["deviceID"], from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	views := make([]sampleView, 0, len(samples))
	for _, sample := range samples {
		views = append(views, viewSample(sample))
	}
	writeJSON(w, http.StatusOK, views)
}

// triggerRefresh dispatches one out-of-schedule cycle. The cycle runs in the
// background; 202 acknowledges the dispatch, 409 surfaces the single-flight
// guard.
func (h *handler) triggerRefresh(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceID"]

	engine := h.app.Engine(deviceID)
	if engine == nil {
		if _, err := h.app.Devices.Get(r.Context(), deviceID); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusConflict, fmt.Errorf("device %s has no refresh engine yet; restart to pick it up", deviceID))
		return
	}
	if engine.Busy() {
		writeError(w, http.StatusConflict, fmt.Errorf("refresh already in progress"))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		engine.RunCycle(ctx)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "dispatched",
		"transport": string(engine.Router().Select()),
	})
}

type deviceView struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Address              string    `json:"address,omitempty"`
	CloudID              string    `json:"cloudId,omitempty"`
	UseBroadcast         bool      `json:"useBroadcast"`
	ScanWindowSeconds    int       `json:"scanWindowSeconds,omitempty"`
	RefreshPeriodSeconds int       `json:"refreshPeriodSeconds,omitempty"`
	HideTemperature      bool      `json:"hideTemperature,omitempty"`
	HideHumidity         bool      `json:"hideHumidity,omitempty"`
	HistoryEnabled       bool      `json:"historyEnabled"`
	RefreshActive        bool      `json:"refreshActive"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type statusView struct {
	DeviceID     string    `json:"deviceId"`
	TemperatureC *float64  `json:"temperatureC,omitempty"`
	HumidityPct  *float64  `json:"humidityPct,omitempty"`
	BatteryPct   *int      `json:"batteryPct,omitempty"`
	LowBattery   bool      `json:"lowBattery,omitempty"`
	Fault        string    `json:"fault,omitempty"`
	Transport    string    `json:"transport,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type sampleView struct {
	DeviceID     string    `json:"deviceId"`
	TemperatureC *float64  `json:"temperatureC,omitempty"`
	HumidityPct  *float64  `json:"humidityPct,omitempty"`
	SampledAt    time.Time `json:"sampledAt"`
}

func (h *handler) viewDevice(dev device.Device) deviceView {
	return deviceView{
		ID:                   dev.ID,
		Name:                 dev.Name,
		Address:              dev.Address,
		CloudID:              dev.CloudID,
		UseBroadcast:         dev.UseBroadcast,
		ScanWindowSeconds:    dev.ScanWindowSeconds,
		RefreshPeriodSeconds: dev.RefreshPeriodSeconds,
		HideTemperature:      dev.HideTemperature,
		HideHumidity:         dev.HideHumidity,
		HistoryEnabled:       dev.HistoryEnabled,
		RefreshActive:        h.app.Engine(dev.ID) != nil,
		CreatedAt:            dev.CreatedAt,
		UpdatedAt:            dev.UpdatedAt,
	}
}

func viewStatus(st reading.Status) statusView {
	return statusView{
		DeviceID:     st.DeviceID,
		TemperatureC: st.Reading.TemperatureC,
		HumidityPct:  st.Reading.HumidityPct,
		BatteryPct:   st.Reading.BatteryPct,
		LowBattery:   st.Reading.LowBattery,
		Fault:        st.Fault,
		Transport:    st.Transport,
		UpdatedAt:    st.UpdatedAt,
	}
}

func viewSample(sample history.Sample) sampleView {
	return sampleView{
		DeviceID:     sample.DeviceID,
		TemperatureC: sample.TemperatureC,
		HumidityPct:  sample.HumidityPct,
		SampledAt:    sample.SampledAt,
	}
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC3339 timestamp", name)
	}
	return parsed, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
