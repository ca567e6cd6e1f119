package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/stream", "/stream"},
		{"/devices", "/devices"},
		{"/devices/", "/devices"},
		{"/devices/meter-1", "/devices/:device"},
		{"/devices/meter-1/status", "/devices/:device/status"},
		{"/devices/meter-1/refresh", "/devices/:device/refresh"},
		{"/devices/a4:c1:38:aa:bb:cc/history", "/devices/:device/history"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, canonicalPath(tc.raw), "raw path %q", tc.raw)
	}
}

func TestInstrumentHandlerRecordsRequest(t *testing.T) {
	counter := httpRequests.WithLabelValues("GET", "/devices/:device/status", "418")
	before := testutil.ToFloat64(counter)

	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices/meter-1/status", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestInstrumentHandlerSkipsMetricsEndpoint(t *testing.T) {
	counter := httpRequests.WithLabelValues("GET", "/metrics", "200")
	before := testutil.ToFloat64(counter)

	var called bool
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.True(t, called)
	assert.Equal(t, before, testutil.ToFloat64(counter))
}

func TestRecordCycleFallsBackToUnknownDevice(t *testing.T) {
	counter := refreshCycles.WithLabelValues("unknown", "published")
	before := testutil.ToFloat64(counter)

	RecordCycle("", "published", 0)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRecordDroppedTick(t *testing.T) {
	counter := droppedTicks.WithLabelValues("meter-9")
	before := testutil.ToFloat64(counter)

	RecordDroppedTick("meter-9")
	RecordDroppedTick("meter-9")

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestRecordScanAndFetchResults(t *testing.T) {
	scans := scanSessions.WithLabelValues("captured")
	fetches := cloudFetches.WithLabelValues("error")
	scansBefore := testutil.ToFloat64(scans)
	fetchesBefore := testutil.ToFloat64(fetches)

	RecordScanSession("captured", 40*time.Millisecond)
	RecordCloudFetch("error", 0)

	assert.Equal(t, scansBefore+1, testutil.ToFloat64(scans))
	assert.Equal(t, fetchesBefore+1, testutil.ToFloat64(fetches))
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	RecordCycle("meter-1", "published", 80*time.Millisecond)
	RecordHistorySample("meter-1")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "sensord_refresh_cycles_total")
	assert.Contains(t, body, "sensord_history_samples_recorded_total")
}

func TestStatusRecorderCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	sr.WriteHeader(http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, sr.status)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusRecorderHijackUnsupported(t *testing.T) {
	sr := &statusRecorder{ResponseWriter: httptest.NewRecorder()}

	_, _, err := sr.Hijack()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hijack")
}
