// Package airzonetest runs an in-process Airzone Local API for tests. Its
// behaviour can be switched between the firmware variants seen in the field:
// path prefix, broadcast sentinel, GET or POST support and IAQ presence.
package airzonetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

// Request is one request the fake received.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   map[string]any
}

type Option func(*Server)

// WithPrefix serves the API under prefix, for example "/api/v1".
func WithPrefix(prefix string) Option {
	return func(s *Server) { s.prefix = prefix }
}

// WithSentinel makes broadcasts answer only to this id (0 or 127).
func WithSentinel(id int) Option {
	return func(s *Server) { s.sentinel = id }
}

// PostOnly rejects GET requests on data endpoints, like Local API 1.76 firmwares.
func PostOnly() Option {
	return func(s *Server) { s.allowGET = false }
}

// GetOnly rejects POST requests on data endpoints.
func GetOnly() Option {
	return func(s *Server) { s.allowPOST = false }
}

// WithZones replaces the default zone set.
func WithZones(zones ...model.Payload) Option {
	return func(s *Server) {
		s.zones = make(map[model.ZoneKey]model.Payload)
		for _, z := range zones {
			s.zones[zoneKey(z)] = z.Clone()
		}
	}
}

// WithSystem sets the per-system detail object for sid.
func WithSystem(sid int, fields model.Payload) Option {
	return func(s *Server) { s.systems[sid] = fields.Clone() }
}

// WithIAQ enables the /iaq endpoint with the given sensors, answering only to the
// given parameter casing, such as "systemID"/"iaqsensorID".
func WithIAQ(systemParam, sensorParam string, sensors ...model.Payload) Option {
	return func(s *Server) {
		s.iaqParams = [2]string{systemParam, sensorParam}
		s.iaqs = make([]model.Payload, 0, len(sensors))
		for _, sensor := range sensors {
			s.iaqs = append(s.iaqs, sensor.Clone())
		}
	}
}

// WithFailingPUTs makes the next n PUT requests answer 500.
func WithFailingPUTs(n int) Option {
	return func(s *Server) { s.failPUTs = n }
}

type Server struct {
	*httptest.Server
	Host string
	Port int

	mu        sync.Mutex
	prefix    string
	sentinel  int
	allowGET  bool
	allowPOST bool
	zones     map[model.ZoneKey]model.Payload
	systems   map[int]model.Payload
	iaqs      []model.Payload
	iaqParams [2]string
	webserver model.Payload
	version   string
	failPUTs  int
	requests  []Request
	puts      []Request
	down      bool
}

// DefaultZones returns three zones of system 1, the second one named as master.
func DefaultZones() []model.Payload {
	names := map[int]string{1: "Salon", 2: "Master Room", 3: "Cocina"}
	var zones []model.Payload
	for zid := 1; zid <= 3; zid++ {
		zones = append(zones, model.Payload{
			"systemID":     1,
			"zoneID":       zid,
			"name":         names[zid],
			"on":           1,
			"mode":         3,
			"modes":        []any{1, 2, 3, 4},
			"double_sp":    0,
			"setpoint":     24,
			"coolsetpoint": 26,
			"coolmaxtemp":  32,
			"coolmintemp":  15,
			"heatsetpoint": 22,
			"heatmaxtemp":  32,
			"heatmintemp":  15,
			"roomTemp":     23,
			"humidity":     45,
			"speed_values": []any{0, 1, 2},
			"speeds":       2,
			"speed":        1,
			"units":        0,
			"errors":       []any{},
			"air_demand":   0,
			"cold_demand":  0,
			"heat_demand":  0,
			"open_window":  0,
		})
	}
	return zones
}

// New starts a fake controller and registers its shutdown with t.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		sentinel:  -1,
		allowGET:  true,
		allowPOST: true,
		systems:   map[int]model.Payload{1: {"systemID": 1, "mc_connected": 0, "units": 0}},
		webserver: model.Payload{
			"mac":          "AA:BB:CC:DD:EE:01",
			"ws_type":      "ws_az",
			"ws_firmware":  "3.44",
			"wifi_quality": 4,
			"wifi_rssi":    -56,
		},
		version: "1.77",
	}
	WithZones(DefaultZones()...)(s)
	for _, opt := range opts {
		opt(s)
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)

	u, err := url.Parse(s.URL)
	if err != nil {
		t.Fatalf("parse fake server url: %v", err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split fake server host: %v", err)
	}
	s.Host = host
	s.Port, _ = strconv.Atoi(port)
	return s
}

// SetDown makes every request answer 503 until called again with false.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// FailPUTs makes the next n PUT requests answer 500.
func (s *Server) FailPUTs(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPUTs = n
}

// SetZoneFields changes a zone as if someone had used the thermostat.
func (s *Server) SetZoneFields(sid, zid int, fields model.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[model.ZoneKey{SystemID: sid, ZoneID: zid}]
	if !ok {
		z = model.Payload{"systemID": sid, "zoneID": zid}
		s.zones[model.ZoneKey{SystemID: sid, ZoneID: zid}] = z
	}
	for k, v := range fields {
		z[k] = v
	}
}

// Zone returns the fake's current state for a zone.
func (s *Server) Zone(sid, zid int) model.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zones[model.ZoneKey{SystemID: sid, ZoneID: zid}].Clone()
}

// Puts returns every PUT received so far.
func (s *Server) Puts() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.puts...)
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: readBody(r)}
	s.requests = append(s.requests, req)

	if s.down {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "unavailable"})
		return
	}

	if !strings.HasPrefix(r.URL.Path, s.prefix) {
		notFound(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, s.prefix)

	if r.Method == http.MethodPut {
		s.puts = append(s.puts, req)
		s.handlePut(w, path, req.Body)
		return
	}

	if (r.Method == http.MethodGet && !s.allowGET) || (r.Method == http.MethodPost && !s.allowPOST) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	params := req.Query
	if r.Method == http.MethodPost {
		params = bodyParams(req.Body)
	}

	switch path {
	case "/webserver":
		writeJSON(w, http.StatusOK, s.webserver)
	case "/version":
		writeJSON(w, http.StatusOK, map[string]any{"version": s.version})
	case "/hvac":
		s.handleHVAC(w, params)
	case "/iaq":
		s.handleIAQ(w, params)
	default:
		notFound(w)
	}
}

func (s *Server) handleHVAC(w http.ResponseWriter, params url.Values) {
	sid, hasSystem := intParam(params, "systemid", "systemID")
	zid, hasZone := intParam(params, "zoneid", "zoneID")

	switch {
	case hasSystem && hasZone && sid == zid && isSentinel(sid):
		if s.sentinel >= 0 && sid != s.sentinel {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{"systemid": "systemid out of range"}}})
			return
		}
		if sid == model.BroadcastAll {
			writeJSON(w, http.StatusOK, s.systemsEnvelope())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": s.sortedZones(-1)})
	case hasSystem && !hasZone:
		sys, ok := s.systems[sid]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{"systemid": "systemid out of range"}}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": sys})
	case hasSystem && hasZone:
		z, ok := s.zones[model.ZoneKey{SystemID: sid, ZoneID: zid}]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{"zoneid": "zoneid out of range"}}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{z}})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{"systemid": "systemid missing"}}})
	}
}

func (s *Server) handleIAQ(w http.ResponseWriter, params url.Values) {
	if s.iaqs == nil {
		notFound(w)
		return
	}
	if _, ok := intParam(params, s.iaqParams[0]); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{s.iaqParams[0]: "missing"}}})
		return
	}
	if _, ok := intParam(params, s.iaqParams[1]); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{s.iaqParams[1]: "missing"}}})
		return
	}
	data := make([]any, 0, len(s.iaqs))
	for _, sensor := range s.iaqs {
		data = append(data, sensor)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) handlePut(w http.ResponseWriter, path string, body map[string]any) {
	if s.failPUTs > 0 {
		s.failPUTs--
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	sid, ok := model.AsInt(body["systemID"])
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{"systemID": "missing"}}})
		return
	}

	switch path {
	case "/hvac":
		zid, hasZone := model.AsInt(body["zoneID"])
		if !hasZone {
			sys, ok := s.systems[sid]
			if !ok {
				writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{"systemID": "systemID out of range"}}})
				return
			}
			merge(sys, body, "systemID")
			writeJSON(w, http.StatusOK, map[string]any{"data": sys})
			return
		}
		z, ok := s.zones[model.ZoneKey{SystemID: sid, ZoneID: zid}]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{"zoneID": "zoneID out of range"}}})
			return
		}
		merge(z, body, "systemID", "zoneID")
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{z}})
	case "/iaq":
		iid, _ := model.AsInt(body["iaqsensorID"])
		for _, sensor := range s.iaqs {
			if sensor.IntOr("systemID", -1) == sid && sensor.IntOr("iaqsensorID", -1) == iid {
				merge(sensor, body, "systemID", "iaqsensorID")
				writeJSON(w, http.StatusOK, map[string]any{"data": []any{sensor}})
				return
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{"iaqsensorID": "out of range"}}})
	default:
		notFound(w)
	}
}

func (s *Server) sortedZones(sid int) []any {
	keys := make([]model.ZoneKey, 0, len(s.zones))
	for k := range s.zones {
		if sid < 0 || k.SystemID == sid {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SystemID != keys[j].SystemID {
			return keys[i].SystemID < keys[j].SystemID
		}
		return keys[i].ZoneID < keys[j].ZoneID
	})
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.zones[k])
	}
	return out
}

// Newer firmwares wrap broadcast answers per system.
func (s *Server) systemsEnvelope() map[string]any {
	seen := make(map[int]bool)
	var ids []int
	for k := range s.zones {
		if !seen[k.SystemID] {
			seen[k.SystemID] = true
			ids = append(ids, k.SystemID)
		}
	}
	sort.Ints(ids)
	systems := make([]any, 0, len(ids))
	for _, sid := range ids {
		systems = append(systems, map[string]any{"systemID": sid, "data": s.sortedZones(sid)})
	}
	return map[string]any{"systems": systems}
}

func isSentinel(id int) bool {
	return id == model.BroadcastLegacy || id == model.BroadcastAll
}

func zoneKey(z model.Payload) model.ZoneKey {
	return model.ZoneKey{SystemID: z.IntOr("systemID", 0), ZoneID: z.IntOr("zoneID", 0)}
}

func merge(dst model.Payload, src map[string]any, skip ...string) {
	for k, v := range src {
		skipped := false
		for _, s := range skip {
			if k == s {
				skipped = true
				break
			}
		}
		if !skipped {
			dst[k] = v
		}
	}
}

func intParam(params url.Values, names ...string) (int, bool) {
	for _, name := range names {
		if v := params.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func bodyParams(body map[string]any) url.Values {
	params := url.Values{}
	for k, v := range body {
		params.Set(k, fmt.Sprint(v))
	}
	return params
}

func readBody(r *http.Request) map[string]any {
	data, err := io.ReadAll(r.Body)
	if err != nil || len(data) == 0 {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	return body
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
