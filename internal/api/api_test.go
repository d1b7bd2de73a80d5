package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/airzone-controller/internal/airzone"
	"github.com/thatsimonsguy/airzone-controller/internal/airzone/airzonetest"
	"github.com/thatsimonsguy/airzone-controller/internal/coordinator"
	"github.com/thatsimonsguy/airzone-controller/internal/metrics"
	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

type fixture struct {
	srv     *airzonetest.Server
	coord   *coordinator.Coordinator
	handler http.Handler
}

func newFixture(t *testing.T, refresh bool) *fixture {
	t.Helper()
	srv := airzonetest.New(t,
		airzonetest.WithSystem(1, model.Payload{"systemID": 1, "mc_connected": 0, "ext_temp": 9}),
		airzonetest.WithIAQ("systemid", "iaqsensorid",
			model.Payload{"systemID": 1, "iaqsensorID": 1, "co2_value": 512, "iaq_score": 90},
		),
	)
	client := airzone.New(srv.Host, srv.Port, airzone.Options{Timeout: 2 * time.Second})
	coord := coordinator.New(client, coordinator.Options{})
	t.Cleanup(func() { _ = coord.Close() })

	if refresh {
		require.NoError(t, coord.Refresh(context.Background()))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(coord))
	server := NewServer(coord, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &fixture{srv: srv, coord: coord, handler: server.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestGetZones(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/api/zones", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var zones []ZoneResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&zones))
	require.Len(t, zones, 3)

	assert.Equal(t, 1, zones[0].ZoneID)
	assert.Equal(t, "Salon", zones[0].Name)
	assert.False(t, zones[0].Master)
	assert.True(t, zones[1].Master)
	assert.Equal(t, "cool", string(zones[0].HVACMode))
	assert.Equal(t, []string{"off", "fan_only", "heat", "cool", "auto"}, zones[0].HVACModes)
	assert.NotEmpty(t, zones[0].Profile.Profile)
	assert.Equal(t, 23.0, zones[0].Data["roomTemp"])
}

func TestGetZone(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/api/zones/1/2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var zone ZoneResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&zone))
	assert.Equal(t, "Master Room", zone.Name)
	assert.Equal(t, 1, zone.SystemID)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"unknown zone", "/api/zones/1/9", http.StatusNotFound},
		{"unknown system", "/api/zones/4/1", http.StatusNotFound},
		{"bad id", "/api/zones/1/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.code, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestSetZone(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodPut, "/api/zones/1/1", map[string]any{"setpoint": 21.5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 21.5, f.srv.Zone(1, 1)["setpoint"])

	w = f.do(t, http.MethodPut, "/api/zones/1/1", map[string]any{"hvac_mode": "heat"})
	require.Equal(t, http.StatusOK, w.Code)
	z := f.srv.Zone(1, 1)
	assert.Equal(t, 1, z.IntOr("on", -1))
	assert.Equal(t, 2, z.IntOr("mode", -1))
	assert.False(t, z.Has("hvac_mode"))

	w = f.do(t, http.MethodPut, "/api/zones/1/3", map[string]any{"hvac_mode": "off"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, f.srv.Zone(1, 3).IntOr("on", -1))
}

func TestSetZoneErrors(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name string
		path string
		body any
		code int
	}{
		{"unknown zone", "/api/zones/1/9", map[string]any{"on": 1}, http.StatusNotFound},
		{"bad json", "/api/zones/1/1", "{not json", http.StatusBadRequest},
		{"empty body", "/api/zones/1/1", map[string]any{}, http.StatusBadRequest},
		{"bad hvac mode", "/api/zones/1/1", map[string]any{"hvac_mode": "turbo"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.code, w.Code)
		})
	}
	assert.Empty(t, f.srv.Puts())

	f.srv.FailPUTs(1)
	w := f.do(t, http.MethodPut, "/api/zones/1/1", map[string]any{"on": 0})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSystems(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/api/systems", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var systems []SystemResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&systems))
	require.Len(t, systems, 1)
	assert.Equal(t, []int{1, 2, 3}, systems[0].ZoneIDs)
	require.NotNil(t, systems[0].MasterZoneID)
	assert.Equal(t, 2, *systems[0].MasterZoneID)
	assert.Equal(t, 9.0, systems[0].Data["ext_temp"])
	assert.False(t, systems[0].FollowMaster)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/systems/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/systems/7", nil).Code)

	w = f.do(t, http.MethodPut, "/api/systems/1", map[string]any{"mc_connected": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/api/systems/7", map[string]any{"a": 1}).Code)
}

func TestSetSystemMode(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodPut, "/api/systems/1/mode", ModeRequest{Mode: "heat"})
	require.Equal(t, http.StatusOK, w.Code)
	for zid := 1; zid <= 3; zid++ {
		assert.Equal(t, 2, f.srv.Zone(1, zid).IntOr("mode", -1))
	}

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/systems/1/mode", ModeRequest{Mode: "warm"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/systems/1/mode", "nope").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/api/systems/5/mode", ModeRequest{Mode: "off"}).Code)
}

func TestSetSystemEco(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodPut, "/api/systems/1/eco", EcoRequest{EcoAdapt: "manual"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "manual", f.srv.Zone(1, 3)["eco_adapt"])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/systems/1/eco", EcoRequest{}).Code)
}

func TestFollowMaster(t *testing.T) {
	f := newFixture(t, true)

	var resp FollowMasterResponse
	w := f.do(t, http.MethodGet, "/api/systems/1/follow-master", nil)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Enabled)

	w = f.do(t, http.MethodPut, "/api/systems/1/follow-master", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.coord.FollowMasterEnabled(1))

	w = f.do(t, http.MethodDelete, "/api/systems/1/follow-master", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.coord.FollowMasterEnabled(1))

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/api/systems/3/follow-master", nil).Code)
}

func TestIAQ(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/api/iaq", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var sensors []IAQResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sensors))
	require.Len(t, sensors, 1)
	assert.Equal(t, 512.0, sensors[0].Data["co2_value"])

	w = f.do(t, http.MethodPut, "/api/iaq/1/1", map[string]any{"iaq_mode_vent": 2})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/api/iaq/1/4", map[string]any{"a": 1}).Code)
}

func TestWebserverAndDiagnostics(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/api/webserver", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ws map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ws))
	assert.Equal(t, "ws_az", ws["ws_type"])

	w = f.do(t, http.MethodGet, "/api/diagnostics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var diag map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&diag))
	assert.NotEmpty(t, diag)
}

func TestWebserverBeforeFirstPoll(t *testing.T) {
	f := newFixture(t, false)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/webserver", nil).Code)

	var zones []ZoneResponse
	w := f.do(t, http.MethodGet, "/api/zones", nil)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&zones))
	assert.Empty(t, zones)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, f.coord.Refresh(context.Background()))

	w = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.State)
	assert.True(t, resp.LastUpdateSuccess)
	assert.Zero(t, resp.ConsecutiveFailures)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "airzone_up 1")
	assert.Contains(t, w.Body.String(), `airzone_zone_temperature{name="Salon",system_id="1",zone_id="1"} 23`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodOptions, "/api/zones/1/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
}
