package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/talgya/firesim/internal/engine"
	"github.com/talgya/firesim/internal/entropy"
	"github.com/talgya/firesim/internal/env"
	"github.com/talgya/firesim/internal/fire"
	"github.com/talgya/firesim/internal/persistence"
	"github.com/talgya/firesim/internal/terrain"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	sim := engine.NewSimulation(engine.Options{
		Params:  fire.DefaultParams(),
		Terrain: terrain.SmallTestConfig(),
		Env:     env.Static(env.Default()),
		RNG:     entropy.NewSeeded(3),
	})
	db, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.StartRun(42, fire.DefaultParams()); err != nil {
		t.Fatalf("start run: %v", err)
	}
	sim.AddStatsSink(db)
	sim.Bus().OnAll(db.RecordEvent)
	return &Server{Sim: sim, DB: db, AdminKey: "admin", StreamKey: "relay"}
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	body := decode(t, rec)
	if body["speed"] != 1.0 || body["terrain_playing"] != false || body["run_id"] == "" {
		t.Fatalf("status = %v", body)
	}
	if e := body["env"].(map[string]any); e["wind_direction"] != "NE" {
		t.Fatalf("env = %v", e)
	}
}

func TestControlEndpointsNeedToken(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	body := `{"engine":"terrain","x":0,"z":0}`

	if rec := do(t, h, http.MethodPost, "/api/v1/ignite", "", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/ignite", "wrong", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/ignite", "admin", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET ignite: %d", rec.Code)
	}

	s.AdminKey = ""
	if rec := do(t, s.Handler(), http.MethodPost, "/api/v1/ignite", "admin", body); rec.Code != http.StatusForbidden {
		t.Fatalf("disabled control plane: %d", rec.Code)
	}
}

func TestIgniteAndInspect(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/ignite", "admin", `{"engine":"terrain","x":0,"z":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ignite: %d %s", rec.Code, rec.Body)
	}
	src := decode(t, rec)["source"].(map[string]any)
	id := int(src["id"].(float64))

	if rec := do(t, h, http.MethodPost, "/api/v1/ignite", "admin", `{"engine":"terrain","x":1,"z":0}`); rec.Code != http.StatusConflict {
		t.Fatalf("crowded ignite: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/ignite", "admin", `{"engine":"sea"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown engine: %d", rec.Code)
	}

	if rec := do(t, h, http.MethodGet, fmt.Sprintf("/api/v1/particles/%d", id), "", ""); rec.Code != http.StatusOK {
		t.Fatalf("particles: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/particles/999", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing particles: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/particles/abc", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad particles id: %d", rec.Code)
	}

	terrainBody := decode(t, do(t, h, http.MethodGet, "/api/v1/terrain", "", ""))
	if n := len(terrainBody["sources"].([]any)); n != 1 {
		t.Fatalf("terrain snapshot has %d sources", n)
	}

	var events []persistence.EventRow
	json.Unmarshal(do(t, h, http.MethodGet, "/api/v1/events", "", "").Body.Bytes(), &events)
	if len(events) != 1 || events[0].Kind != string(fire.EventCreated) {
		t.Fatalf("events = %+v", events)
	}
}

func TestControlAndSpeed(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/control", "admin", `{"engine":"map","action":"play"}`)
	if rec.Code != http.StatusOK || decode(t, rec)["playing"] != true {
		t.Fatalf("play: %d %s", rec.Code, rec.Body)
	}
	if !s.Sim.Playing(fire.EngineMap) {
		t.Fatal("map engine not playing")
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/control", "admin", `{"engine":"map","action":"fastforward"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("map fastforward: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/control", "admin", `{"engine":"terrain","action":"explode"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action: %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/control", "admin", `{"engine":"terrain","action":"fastforward"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("fastforward: %d", rec.Code)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/speed", "admin", `{"speed":50}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("speed out of range: %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/speed", "admin", `{"speed":4}`)
	if rec.Code != http.StatusOK || s.Sim.Speed() != 4 {
		t.Fatalf("speed: %d, sim speed %v", rec.Code, s.Sim.Speed())
	}
}

func TestStatsHistory(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	s.Sim.IgniteMap(30, 79)
	s.Sim.Play(fire.EngineMap)
	s.Sim.StepMap()
	s.Sim.StepMap()

	var points []map[string]any
	json.Unmarshal(do(t, h, http.MethodGet, "/api/v1/stats/history", "", "").Body.Bytes(), &points)
	if len(points) != 2 || points[1]["label"] != "2m" {
		t.Fatalf("history = %v", points)
	}

	var recs []map[string]any
	json.Unmarshal(do(t, h, http.MethodGet, "/api/v1/stats/history?engine=map&limit=1", "", "").Body.Bytes(), &recs)
	if len(recs) != 1 || recs[0]["tick"] != 2.0 {
		t.Fatalf("ledger history = %v", recs)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/stats/history?engine=ocean", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad engine: %d", rec.Code)
	}
}

func TestPredictUsesFallback(t *testing.T) {
	s := newTestServer(t)
	body := decode(t, do(t, s.Handler(), http.MethodGet, "/api/v1/predict", "", ""))
	if body["source"] != "fallback" {
		t.Fatalf("prediction = %v", body)
	}
	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/simulate", "admin", `{"lat":30,"lng":79,"duration":4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("simulate: %d", rec.Code)
	}
	if steps := decode(t, rec)["fire_progression"].([]any); len(steps) != 4 {
		t.Fatalf("%d progression steps", len(steps))
	}
}

func TestStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated stream: %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream", nil)
	req.Header.Set("Authorization", "Bearer relay")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, "event: ") {
				return strings.TrimPrefix(l, "event: ")
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}
	if ev := next(); ev != "stats" {
		t.Fatalf("first event %q, want stats", ev)
	}
	s.Sim.Notify("prediction service unavailable")
	if ev := next(); ev != "notice" {
		t.Fatalf("event %q, want notice", ev)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("third request in the window should be refused")
	}
	if !rl.Allow("b") {
		t.Fatal("clients have separate budgets")
	}
	if got := rl.RetryAfter("a"); got != 61 {
		t.Fatalf("retry after = %d", got)
	}
	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Fatal("budget should refill after the window")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	if clientIP(req) != "10.0.0.1" {
		t.Fatalf("client ip = %q", clientIP(req))
	}
}
