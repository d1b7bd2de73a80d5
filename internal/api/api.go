package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/airzone-controller/internal/coordinator"
	"github.com/thatsimonsguy/airzone-controller/internal/model"
	"github.com/thatsimonsguy/airzone-controller/internal/modes"
)

const writeTimeout = 15 * time.Second

type Server struct {
	coord   *coordinator.Coordinator
	metrics http.Handler
	http    *http.Server
}

type ZoneResponse struct {
	SystemID  int           `json:"system_id"`
	ZoneID    int           `json:"zone_id"`
	Name      string        `json:"name,omitempty"`
	Master    bool          `json:"master"`
	HVACMode  modes.Mode    `json:"hvac_mode"`
	HVACModes []string      `json:"hvac_modes"`
	Profile   model.Profile `json:"profile"`
	Data      model.Payload `json:"data"`
}

type SystemResponse struct {
	SystemID     int           `json:"system_id"`
	MasterZoneID *int          `json:"master_zone_id,omitempty"`
	FollowMaster bool          `json:"follow_master"`
	ZoneIDs      []int         `json:"zone_ids"`
	Profile      model.Profile `json:"profile"`
	Data         model.Payload `json:"data,omitempty"`
	IAQFallback  model.Payload `json:"iaq_fallback,omitempty"`
}

type IAQResponse struct {
	SystemID int           `json:"system_id"`
	IAQID    int           `json:"iaq_id"`
	Data     model.Payload `json:"data"`
}

type HealthResponse struct {
	State string `json:"status"`
	coordinator.Status
}

type ModeRequest struct {
	Mode string `json:"mode"`
}

type EcoRequest struct {
	EcoAdapt string `json:"eco_adapt"`
}

type FollowMasterResponse struct {
	SystemID int  `json:"system_id"`
	Enabled  bool `json:"enabled"`
}

type WriteResponse struct {
	Status   string `json:"status"`
	Response any    `json:"response,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer wires the REST surface over coord. metrics may be nil.
func NewServer(coord *coordinator.Coordinator, metrics http.Handler) *Server {
	return &Server{coord: coord, metrics: metrics}
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	router.GET("/health", s.getHealth)

	router.GET("/api/zones", s.getZones)
	router.GET("/api/zones/:sid/:zid", s.getZone)
	router.PUT("/api/zones/:sid/:zid", s.setZone)

	router.GET("/api/systems", s.getSystems)
	router.GET("/api/systems/:sid", s.getSystem)
	router.PUT("/api/systems/:sid", s.setSystem)
	router.PUT("/api/systems/:sid/mode", s.setSystemMode)
	router.PUT("/api/systems/:sid/eco", s.setSystemEco)
	router.GET("/api/systems/:sid/follow-master", s.getFollowMaster)
	router.PUT("/api/systems/:sid/follow-master", s.enableFollowMaster)
	router.DELETE("/api/systems/:sid/follow-master", s.disableFollowMaster)

	router.GET("/api/iaq", s.getIAQs)
	router.PUT("/api/iaq/:sid/:iid", s.setIAQ)

	router.GET("/api/webserver", s.getWebserver)
	router.GET("/api/diagnostics", s.getDiagnostics)
	router.POST("/api/refresh", s.refresh)

	if s.metrics != nil {
		router.Handler(http.MethodGet, "/metrics", s.metrics)
	}

	// Add CORS middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		router.ServeHTTP(w, r)
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("address", addr).Msg("Starting REST API server")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status := s.coord.Status()
	resp := HealthResponse{State: "ok", Status: status}
	code := http.StatusOK
	if !status.LastUpdateSuccess {
		resp.State = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) getZones(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	response := []ZoneResponse{}
	for _, k := range s.coord.ZoneKeys() {
		if z, ok := s.zoneResponse(k.SystemID, k.ZoneID); ok {
			response = append(response, z)
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) getZone(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sid, zid, ok := s.pairParams(w, ps, "zid")
	if !ok {
		return
	}
	z, ok := s.zoneResponse(sid, zid)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Zone not found")
		return
	}
	s.writeJSON(w, http.StatusOK, z)
}

func (s *Server) setZone(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sid, zid, ok := s.pairParams(w, ps, "zid")
	if !ok {
		return
	}
	if _, ok := s.coord.Zone(sid, zid); !ok {
		s.writeError(w, http.StatusNotFound, "Zone not found")
		return
	}

	fields, ok := s.decodeFields(w, r)
	if !ok {
		return
	}
	if raw, ok := fields["hvac_mode"]; ok {
		name, _ := raw.(string)
		mode, ok := modes.Parse(name)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid hvac_mode. Valid modes: %v", modes.Names(allModes)))
			return
		}
		delete(fields, "hvac_mode")
		modeFields, _ := modes.Fields(mode)
		for k, v := range modeFields {
			fields[k] = v
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()
	resp, err := s.coord.SetZoneParams(ctx, sid, zid, fields)
	if err != nil {
		s.writeWriteError(w, err)
		return
	}
	log.Info().Int("system_id", sid).Int("zone_id", zid).Msg("Zone updated via API")
	s.writeJSON(w, http.StatusOK, WriteResponse{Status: "ok", Response: resp})
}

func (s *Server) getSystems(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	response := []SystemResponse{}
	for _, sid := range s.coord.SystemIDs() {
		response = append(response, s.systemResponse(sid))
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) getSystem(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sid, ok := s.intParam(w, ps, "sid")
	if !ok {
		return
	}
	if !s.knownSystem(sid) {
		s.writeError(w, http.StatusNotFound, "System not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.systemResponse(sid))
}

func (s *Server) setSystem(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sid, ok := s.intParam(w, ps, "sid")
	if !ok {
		return
	}
	if !s.knownSystem(sid) {
		s.writeError(w, http.StatusNotFound, "System not found")
		return
	}
	fields, ok := s.decodeFields(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()
	resp, err := s.coord.SetSystemParams(ctx, sid, fields)
	if err != nil {
		s.writeWriteError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, WriteResponse{Status: "ok", Response: resp})
}

var allModes = []modes.Mode{modes.Off, modes.FanOnly, modes.Heat, modes.Cool, modes.Auto, modes.Dry}

func (s *Server) setSystemMode(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sid, ok := s.intParam(w, ps, "sid")
	if !ok {
		return
	}
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	mode, ok := modes.Parse(req.Mode)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid mode. Valid modes: %v", modes.Names(allModes)))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()
	if err := s.coord.SetSystemMode(ctx, sid, mode); err != nil {
		s.writeWriteError(w, err)
		return
	}
	log.Info().Int("system_id", sid).Str("mode", string(mode)).Msg("System mode updated via API")
	s.writeJSON(w, http.StatusOK, WriteResponse{Status: "ok"})
}

func (s *Server) setSystemEco(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sid, ok := s.intParam(w, ps, "sid")
	if !ok {
		return
	}
	var req EcoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EcoAdapt == "" {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()
	if err := s.coord.SetSystemEco(ctx, sid, req.EcoAdapt); err != nil {
		s.writeWriteError(w, err)
		return
	}
	log.Info().Int("system_id", sid).Str("eco_adapt", req.EcoAdapt).Msg("System eco updated via API")
	s.writeJSON(w, http.StatusOK, WriteResponse{Status: "ok"})
}

func (s *Server) getFollowMaster(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sid, ok := s.intParam(w, ps, "sid")
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, FollowMasterResponse{SystemID: sid, Enabled: s.coord.FollowMasterEnabled(sid)})
}

func (s *Server) enableFollowMaster(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sid, ok := s.intParam(w, ps, "sid")
	if !ok {
		return
	}
	if !s.knownSystem(sid) {
		s.writeError(w, http.StatusNotFound, "System not found")
		return
	}
	if err := s.coord.EnableFollowMaster(sid); err != nil {
		log.Error().Err(err).Int("system_id", sid).Msg("Failed to persist follow-master")
	}
	s.writeJSON(w, http.StatusOK, FollowMasterResponse{SystemID: sid, Enabled: true})
}

func (s *Server) disableFollowMaster(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sid, ok := s.intParam(w, ps, "sid")
	if !ok {
		return
	}
	if err := s.coord.DisableFollowMaster(sid); err != nil {
		log.Error().Err(err).Int("system_id", sid).Msg("Failed to persist follow-master")
	}
	s.writeJSON(w, http.StatusOK, FollowMasterResponse{SystemID: sid, Enabled: false})
}

func (s *Server) getIAQs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	response := []IAQResponse{}
	for _, k := range s.coord.IAQKeys() {
		if p, ok := s.coord.IAQ(k.SystemID, k.IAQID); ok {
			response = append(response, IAQResponse{SystemID: k.SystemID, IAQID: k.IAQID, Data: p})
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) setIAQ(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sid, iid, ok := s.pairParams(w, ps, "iid")
	if !ok {
		return
	}
	if _, ok := s.coord.IAQ(sid, iid); !ok {
		s.writeError(w, http.StatusNotFound, "IAQ sensor not found")
		return
	}
	fields, ok := s.decodeFields(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()
	resp, err := s.coord.SetIAQParams(ctx, sid, iid, fields)
	if err != nil {
		s.writeWriteError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, WriteResponse{Status: "ok", Response: resp})
}

func (s *Server) getWebserver(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ws, ok := s.coord.Webserver()
	if !ok {
		s.writeError(w, http.StatusNotFound, "Webserver info unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, ws)
}

func (s *Server) getDiagnostics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, s.coord.Diagnostics())
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.coord.RequestRefresh()
	s.writeJSON(w, http.StatusAccepted, WriteResponse{Status: "refresh requested"})
}

func (s *Server) zoneResponse(sid, zid int) (ZoneResponse, bool) {
	z, ok := s.coord.Zone(sid, zid)
	if !ok {
		return ZoneResponse{}, false
	}
	allowed := modes.Allowed(z)
	profile, _ := s.coord.ZoneProfile(sid, zid)
	name, _ := z.String("name")
	mid, hasMaster := s.coord.MasterZoneID(sid)
	return ZoneResponse{
		SystemID:  sid,
		ZoneID:    zid,
		Name:      name,
		Master:    hasMaster && mid == zid,
		HVACMode:  modes.Current(z, allowed),
		HVACModes: modes.Names(allowed),
		Profile:   profile,
		Data:      z,
	}, true
}

func (s *Server) systemResponse(sid int) SystemResponse {
	resp := SystemResponse{
		SystemID:     sid,
		FollowMaster: s.coord.FollowMasterEnabled(sid),
		ZoneIDs:      []int{},
	}
	for _, z := range s.coord.ZonesOfSystem(sid) {
		if zid, ok := z.Int("zoneID"); ok {
			resp.ZoneIDs = append(resp.ZoneIDs, zid)
		}
	}
	if mid, ok := s.coord.MasterZoneID(sid); ok {
		resp.MasterZoneID = &mid
	}
	resp.Profile, _ = s.coord.SystemProfile(sid)
	resp.Data, _ = s.coord.System(sid)
	resp.IAQFallback, _ = s.coord.IAQFallback(sid)
	return resp
}

func (s *Server) knownSystem(sid int) bool {
	return len(s.coord.ZonesOfSystem(sid)) > 0
}

func (s *Server) intParam(w http.ResponseWriter, ps httprouter.Params, name string) (int, bool) {
	n, err := strconv.Atoi(ps.ByName(name))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name))
		return 0, false
	}
	return n, true
}

func (s *Server) pairParams(w http.ResponseWriter, ps httprouter.Params, second string) (int, int, bool) {
	sid, ok := s.intParam(w, ps, "sid")
	if !ok {
		return 0, 0, false
	}
	id, ok := s.intParam(w, ps, second)
	if !ok {
		return 0, 0, false
	}
	return sid, id, true
}

func (s *Server) decodeFields(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return nil, false
	}
	if len(fields) == 0 {
		s.writeError(w, http.StatusBadRequest, "No fields to update")
		return nil, false
	}
	return fields, true
}

// Unknown targets are the caller's fault; anything else means the controller
// rejected or never saw the write.
func (s *Server) writeWriteError(w http.ResponseWriter, err error) {
	if errors.Is(err, coordinator.ErrUnknownSystem) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeError(w, http.StatusBadGateway, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
