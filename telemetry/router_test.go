package telemetry_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/telemetry"
)

type staticStats map[string]any

func (s staticStats) Stats() map[string]any { return s }

func newTestRouter(source telemetry.StatsSource, metrics bool) *mux.Router {
	rtr := mux.NewRouter()
	telemetry.NewRouter(zerolog.Nop(), config.Server{
		ListenAddr:     "localhost:0",
		WriteTimeout:   "15s",
		ReadTimeout:    "15s",
		AllowedOrigins: []string{"*"},
		EnableMetrics:  metrics,
	}, source).RegisterRoutes(rtr, telemetry.APIPathPrefix)
	return rtr
}

func get(t *testing.T, rtr *mux.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	rtr.ServeHTTP(rec, req)
	return rec
}

func TestHealthzEndpoint(t *testing.T) {
	rec := get(t, newTestRouter(nil, false), "/api/v1/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "available", resp.Status)
}

func TestStatsEndpoint(t *testing.T) {
	rtr := newTestRouter(staticStats{"ticks_accepted": float64(42)}, false)
	rec := get(t, rtr, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, float64(42), stats["ticks_accepted"])
}

func TestMetricsEndpointToggle(t *testing.T) {
	rec := get(t, newTestRouter(nil, true), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, newTestRouter(nil, false), "/metrics")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
