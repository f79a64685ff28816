// Package api provides the HTTP API for observing and driving the fire engines.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talgya/firesim/internal/engine"
	"github.com/talgya/firesim/internal/fire"
	"github.com/talgya/firesim/internal/persistence"
	"github.com/talgya/firesim/internal/stats"
)

const (
	maxSSEConns   = 4
	sseBufferSize = 256
)

// Server serves the simulation over HTTP.
type Server struct {
	Sim       *engine.Simulation
	DB        *persistence.DB // optional ledger
	Port      int
	AdminKey  string // Bearer token for POST endpoints. Empty = POST disabled.
	StreamKey string // Bearer token for the event stream. Empty = streaming disabled.

	sseConns atomic.Int32
	srv      *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	predictLimiter := NewRateLimiter(30, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/env", s.handleEnv)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("/api/v1/terrain", s.handleTerrain)
	mux.HandleFunc("/api/v1/map", s.handleMap)
	mux.HandleFunc("/api/v1/particles/", s.handleParticles)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/predict", RateLimitMiddleware(predictLimiter, s.handlePredict))

	// SSE streaming endpoint (GET, requires stream token).
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Control endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/ignite", s.adminOnly(s.handleIgnite))
	mux.HandleFunc("/api/v1/control", s.adminOnly(s.handleControl))
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/simulate", s.adminOnly(RateLimitMiddleware(predictLimiter, s.handleSimulate)))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "stream_auth", s.StreamKey != "")

	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
		"http://localhost:8000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request, key string) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token == key
}

// adminOnly guards POST requests with the admin token; other methods are
// rejected.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "control endpoints disabled (no FIRESIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !bearer(r, s.AdminKey) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m := s.Sim.MapSnapshot()
	status := map[string]any{
		"name":             "firesim",
		"speed":            s.Sim.Speed(),
		"terrain_playing":  s.Sim.Playing(fire.EngineTerrain),
		"terrain_tick":     s.Sim.TerrainTick(),
		"map_playing":      m.Playing,
		"map_tick":         s.Sim.MapTick(),
		"map_clock":        m.Clock,
		"env":              s.Sim.Env(),
		"map_tick_seconds": engine.MapTickInterval(s.Sim.Speed()).Seconds(),
	}
	if s.DB != nil {
		status["run_id"] = s.DB.RunID()
	}
	writeJSON(w, status)
}

func (s *Server) handleEnv(w http.ResponseWriter, r *http.Request) {
	e := s.Sim.Env()
	x, z := e.WindVector()
	writeJSON(w, map[string]any{
		"env":         e,
		"wind_vector": [2]float64{x, z},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	terrainRec, mapRec := s.Sim.Stats()
	writeJSON(w, map[string]stats.Record{
		"terrain": terrainRec,
		"map":     mapRec,
	})
}

// handleStatsHistory returns the chart window, or ledger samples when
// ?engine= is given and a ledger is configured.
func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("engine")
	if kind == "" {
		writeJSON(w, s.Sim.History())
		return
	}
	if s.DB == nil {
		http.Error(w, "no ledger configured", http.StatusServiceUnavailable)
		return
	}
	if kind != string(fire.EngineMap) && kind != string(fire.EngineTerrain) {
		http.Error(w, "engine must be map or terrain", http.StatusBadRequest)
		return
	}
	limit := queryInt(r, "limit", 100, 1000)
	recs, err := s.DB.RecentStats(fire.EngineKind(kind), limit)
	if err != nil {
		slog.Error("stats history query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleTerrain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.TerrainSnapshot())
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.MapSnapshot())
}

// handleParticles serves GET /api/v1/particles/:id.
func (s *Server) handleParticles(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, "/api/v1/particles/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid source id", http.StatusBadRequest)
		return
	}
	snap, ok := s.Sim.ParticleSnapshot(id)
	if !ok {
		http.Error(w, "source not found", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSON(w, []persistence.EventRow{})
		return
	}
	events, err := s.DB.RecentEvents(queryInt(r, "limit", 50, 500))
	if err != nil {
		slog.Error("events query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSON(w, []persistence.Run{})
		return
	}
	runs, err := s.DB.Runs(queryInt(r, "limit", 20, 200))
	if err != nil {
		slog.Error("runs query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Predict(r.Context()))
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
		Duration int     `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Duration < 0 || req.Duration > 72 {
		http.Error(w, "duration must be 0-72 hours", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.Sim.Project(r.Context(), req.Lat, req.Lng, req.Duration))
}

func (s *Server) handleIgnite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Engine fire.EngineKind `json:"engine"`
		X      float64         `json:"x"`
		Z      float64         `json:"z"`
		Lat    float64         `json:"lat"`
		Lng    float64         `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var (
		src fire.Source
		ok  bool
	)
	switch req.Engine {
	case fire.EngineTerrain:
		src, ok = s.Sim.IgniteTerrain(req.X, req.Z)
	case fire.EngineMap:
		src, ok = s.Sim.IgniteMap(req.Lat, req.Lng)
	default:
		http.Error(w, "engine must be map or terrain", http.StatusBadRequest)
		return
	}
	if !ok {
		writeJSONStatus(w, http.StatusConflict, map[string]any{
			"ignited": false,
			"reason":  "outside the area or too close to an active fire",
		})
		return
	}
	slog.Info("ignition", "engine", req.Engine, "source", src.ID)
	writeJSON(w, map[string]any{"ignited": true, "source": src})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Engine fire.EngineKind `json:"engine"`
		Action string          `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Engine != fire.EngineMap && req.Engine != fire.EngineTerrain {
		http.Error(w, "engine must be map or terrain", http.StatusBadRequest)
		return
	}

	resp := map[string]any{"engine": req.Engine, "action": req.Action}
	switch req.Action {
	case "play":
		s.Sim.Play(req.Engine)
	case "pause":
		s.Sim.Pause(req.Engine)
	case "reset":
		s.Sim.Reset(req.Engine)
	case "fastforward":
		if req.Engine != fire.EngineTerrain {
			http.Error(w, "fastforward applies to the terrain engine", http.StatusBadRequest)
			return
		}
		resp["stats"] = s.Sim.FastForward()
	default:
		http.Error(w, "action must be play, pause, reset or fastforward", http.StatusBadRequest)
		return
	}
	resp["playing"] = s.Sim.Playing(req.Engine)
	writeJSON(w, resp)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Speed < engine.MinSpeed || req.Speed > engine.MaxSpeed {
		http.Error(w, fmt.Sprintf("speed must be %g-%g", engine.MinSpeed, float64(engine.MaxSpeed)), http.StatusBadRequest)
		return
	}
	speed := s.Sim.SetSpeed(req.Speed)
	slog.Info("speed changed", "speed", speed)
	writeJSON(w, map[string]float64{"speed": speed})
}

// handleStream relays bus events as server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.StreamKey == "" {
		http.Error(w, "streaming disabled (no stream key)", http.StatusForbidden)
		return
	}
	if !bearer(r, s.StreamKey) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.sseConns.Add(1) > maxSSEConns {
		s.sseConns.Add(-1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer s.sseConns.Add(-1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Slow clients lose events rather than stalling the simulation.
	ch := make(chan fire.Event, sseBufferSize)
	unsubscribe := s.Sim.Bus().OnAll(func(ev fire.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	terrainRec, mapRec := s.Sim.Stats()
	writeSSE(w, "stats", map[string]stats.Record{"terrain": terrainRec, "map": mapRec})
	flusher.Flush()
	slog.Info("SSE client connected", "remote", r.RemoteAddr)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case ev := <-ch:
			writeSSE(w, string(ev.Kind), ev)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}

// writeSSE writes a single event in SSE format.
func writeSSE(w http.ResponseWriter, name string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
}

func queryInt(r *http.Request, key string, def, limit int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return min(v, limit)
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
