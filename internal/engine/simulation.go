// Simulation ties the two fire engines, the environment feed and the output
// sinks together behind a single lock.
package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/talgya/firesim/internal/entropy"
	"github.com/talgya/firesim/internal/env"
	"github.com/talgya/firesim/internal/fire"
	"github.com/talgya/firesim/internal/particles"
	"github.com/talgya/firesim/internal/prediction"
	"github.com/talgya/firesim/internal/stats"
	"github.com/talgya/firesim/internal/terrain"
)

// Speed limits.
const (
	MinSpeed = 0.1
	MaxSpeed = 10

	// SimHoursPerSecond is fire time per wall second of frames at 1x.
	SimHoursPerSecond = 0.5
)

// StatsSink receives statistics samples: one per map tick and one per second
// of terrain frames while an engine plays.
type StatsSink interface {
	RecordStats(r stats.Record)
}

// StatsSinkFunc adapts a function to StatsSink.
type StatsSinkFunc func(r stats.Record)

// RecordStats calls f(r).
func (f StatsSinkFunc) RecordStats(r stats.Record) { f(r) }

// Options configures a Simulation.
type Options struct {
	Params    fire.Params
	Terrain   terrain.Config
	Env       env.Reader
	RNG       entropy.Source
	Predictor *prediction.Client // nil uses local predictions only
}

// Simulation holds both engines and serialises every mutation and read.
type Simulation struct {
	mu sync.Mutex

	terrain *fire.TerrainState
	fires   *fire.MapState
	history *stats.History

	env       env.Reader
	rng       entropy.Source
	predictor *prediction.Client
	bus       *EventBus

	terrainPlaying bool
	mapPlaying     bool
	speed          float64
	statsClock     float64 // seconds of played frames since the last terrain sample

	sinkMu sync.Mutex
	sinks  []StatsSink
}

// NewSimulation generates the terrain and creates both engines.
func NewSimulation(opts Options) *Simulation {
	if opts.Env == nil {
		opts.Env = env.Static(env.Default())
	}
	if opts.RNG == nil {
		opts.RNG = entropy.NewSeeded(opts.Terrain.Seed)
	}
	grid := terrain.Generate(opts.Terrain)

	s := &Simulation{
		terrain:   fire.NewTerrainState(grid, opts.Params),
		fires:     fire.NewMapState(opts.Params),
		history:   stats.NewHistory(stats.DefaultHistorySize),
		env:       opts.Env,
		rng:       opts.RNG,
		predictor: opts.Predictor,
		bus:       NewEventBus(),
		speed:     1,
	}
	if s.predictor != nil {
		s.predictor.OnFallback = s.Notify
	}

	cfg := grid.Config()
	slog.Info("simulation created",
		"grid", cfg.Width, "world_size", cfg.WorldSize, "seed", cfg.Seed,
		"initial_fuel", humanize.FormatFloat("#,###.##", sum(grid.Fuels())),
		"remote_predictions", s.predictor.Enabled(),
	)
	return s
}

// Bus returns the event bus renderers subscribe to.
func (s *Simulation) Bus() *EventBus { return s.bus }

// AddStatsSink registers a statistics receiver.
func (s *Simulation) AddStatsSink(sink StatsSink) {
	s.sinkMu.Lock()
	s.sinks = append(s.sinks, sink)
	s.sinkMu.Unlock()
}

// Env returns the current environment reading.
func (s *Simulation) Env() env.State {
	return s.env.Read().Sanitize()
}

// Frame advances particles by dt seconds and, while the terrain engine plays,
// steps the fire, lets embers start spot fires and moves the fire clock.
func (s *Simulation) Frame(dt float64) {
	if !(dt > 0) {
		return
	}
	dt = math.Min(dt, MaxFrameDelta)
	e := s.Env()

	var samples []stats.Record
	s.mu.Lock()
	landings := fire.UpdateParticles(s.terrain, dt, e, s.rng)
	if s.terrainPlaying {
		fire.StepTerrain(s.terrain, dt, e, s.rng)
		fire.IgniteEmbers(s.terrain, landings, e, s.rng)
		s.terrain.AdvanceClock(dt * s.speed * SimHoursPerSecond)

		s.statsClock += dt
		if s.statsClock >= 1 {
			s.statsClock = 0
			samples = append(samples, stats.FromTerrain(s.terrain))
		}
	}
	s.flush()
	s.mu.Unlock()

	s.publish(samples)
}

// StepMap runs one map-engine tick if the map engine is playing.
func (s *Simulation) StepMap() {
	e := s.Env()

	s.mu.Lock()
	if !s.mapPlaying {
		s.mu.Unlock()
		return
	}
	fire.StepMap(s.fires, e, s.rng)
	rec := stats.FromMap(s.fires)
	s.history.Record(s.fires.Minutes, rec)
	minutes := s.fires.Minutes
	s.flush()
	s.mu.Unlock()

	if minutes%60 == 0 {
		slog.Info("hourly report",
			"time", fire.FormatMinutes(minutes),
			"active", humanize.Comma(int64(rec.ActiveSources)),
			"burned_ha", humanize.FormatFloat("#,###.##", rec.BurnedArea),
			"rate_ha_per_hour", humanize.FormatFloat("#,###.##", rec.SpreadRate),
			"infrastructure", rec.Infrastructure,
		)
	}
	s.publish([]stats.Record{rec})
}

// IgniteTerrain starts a user fire at world position (x, z).
func (s *Simulation) IgniteTerrain(x, z float64) (fire.Source, bool) {
	e := s.Env()
	s.mu.Lock()
	src, ok := s.terrain.Ignite(x, z, e, s.rng)
	var out fire.Source
	if ok {
		out = *src
	}
	s.flush()
	s.mu.Unlock()
	s.bus.Dispatch()
	return out, ok
}

// IgniteMap starts a user fire at (lat, lng).
func (s *Simulation) IgniteMap(lat, lng float64) (fire.Source, bool) {
	s.mu.Lock()
	src, ok := s.fires.Ignite(lat, lng)
	var out fire.Source
	if ok {
		out = *src
	}
	s.flush()
	s.mu.Unlock()
	s.bus.Dispatch()
	return out, ok
}

// Play starts an engine.
func (s *Simulation) Play(kind fire.EngineKind) { s.setPlaying(kind, true) }

// Pause stops an engine without touching its state.
func (s *Simulation) Pause(kind fire.EngineKind) { s.setPlaying(kind, false) }

func (s *Simulation) setPlaying(kind fire.EngineKind, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case fire.EngineTerrain:
		s.terrainPlaying = on
	case fire.EngineMap:
		s.mapPlaying = on
	}
	slog.Debug("engine state", "engine", kind, "playing", on)
}

// Playing reports whether an engine is running.
func (s *Simulation) Playing(kind fire.EngineKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == fire.EngineMap {
		return s.mapPlaying
	}
	return s.terrainPlaying
}

// SetSpeed sets the time multiplier, clamped to [MinSpeed, MaxSpeed].
func (s *Simulation) SetSpeed(v float64) float64 {
	if math.IsNaN(v) {
		v = 1
	}
	v = math.Max(MinSpeed, math.Min(MaxSpeed, v))
	s.mu.Lock()
	s.speed = v
	s.mu.Unlock()
	return v
}

// Speed returns the time multiplier.
func (s *Simulation) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// Reset pauses an engine and returns it to its initial state.
func (s *Simulation) Reset(kind fire.EngineKind) {
	s.mu.Lock()
	switch kind {
	case fire.EngineTerrain:
		s.terrainPlaying = false
		s.statsClock = 0
		s.terrain.Reset()
	case fire.EngineMap:
		s.mapPlaying = false
		s.fires.Reset()
		s.history.Reset()
	}
	s.flush()
	s.mu.Unlock()
	s.bus.Dispatch()
	slog.Info("simulation reset", "engine", kind)
}

// FastForward jumps the terrain fire clock ahead and runs one step.
func (s *Simulation) FastForward() stats.Record {
	e := s.Env()
	s.mu.Lock()
	fire.FastForward(s.terrain, e, s.rng)
	rec := stats.FromTerrain(s.terrain)
	s.flush()
	s.mu.Unlock()

	s.publish([]stats.Record{rec})
	return rec
}

// Stats returns a fresh sample of both engines.
func (s *Simulation) Stats() (terrainRec, mapRec stats.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stats.FromTerrain(s.terrain), stats.FromMap(s.fires)
}

// History returns the map engine's chart window.
func (s *Simulation) History() []stats.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Points()
}

// TerrainTick returns the terrain engine's step count.
func (s *Simulation) TerrainTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terrain.Tick
}

// MapTick returns the map engine's tick count.
func (s *Simulation) MapTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fires.Tick
}

// TerrainSnapshot is a read-only copy of the terrain engine for renderers.
type TerrainSnapshot struct {
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Size     float64           `json:"world_size"`
	Heights  []float64         `json:"heights"`
	Colors   []terrain.RGB     `json:"colors"`
	Sources  []fire.Source     `json:"sources"`
	Burned   []fire.BurnedArea `json:"burned"`
	Wind     fire.Wind         `json:"wind"`
	SimHours float64           `json:"sim_hours"`
	Playing  bool              `json:"playing"`
}

// TerrainSnapshot copies the grid colours, heights and fire state.
func (s *Simulation) TerrainSnapshot() TerrainSnapshot {
	e := s.Env()
	s.mu.Lock()
	defer s.mu.Unlock()

	grid := s.terrain.Grid
	cfg := grid.Config()
	cells := grid.Cells()
	heights := make([]float64, len(cells))
	for i, c := range cells {
		heights[i] = c.Height
	}
	return TerrainSnapshot{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Size:     cfg.WorldSize,
		Heights:  heights,
		Colors:   grid.Colors(),
		Sources:  copySources(s.terrain.Sources),
		Burned:   append([]fire.BurnedArea(nil), s.terrain.Burned...),
		Wind:     s.terrain.Wind(e),
		SimHours: s.terrain.SimHours,
		Playing:  s.terrainPlaying,
	}
}

// MapSnapshot is a read-only copy of the map engine.
type MapSnapshot struct {
	Sources []fire.Source `json:"sources"`
	Minutes int           `json:"minutes"`
	Clock   string        `json:"clock"`
	Playing bool          `json:"playing"`
}

// MapSnapshot copies the map engine's burn circles and clock.
func (s *Simulation) MapSnapshot() MapSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MapSnapshot{
		Sources: copySources(s.fires.Sources),
		Minutes: s.fires.Minutes,
		Clock:   s.fires.Clock(),
		Playing: s.mapPlaying,
	}
}

// ParticleSnapshot copies the particle pools of one terrain source.
func (s *Simulation) ParticleSnapshot(id uint64) ([]particles.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.terrain.Particles(id)
	if !ok {
		return nil, false
	}
	return ps.Snapshot(), true
}

// Predict asks the prediction service about the current conditions. It
// always returns a result.
func (s *Simulation) Predict(ctx context.Context) *prediction.Prediction {
	return s.predictor.Predict(ctx, prediction.RequestFrom(s.Env()))
}

// Project asks for an hourly progression of a fire starting at (lat, lng).
func (s *Simulation) Project(ctx context.Context, lat, lng float64, hours int) *prediction.Simulation {
	req := prediction.RequestFrom(s.Env())
	req.Lat, req.Lng, req.Duration = lat, lng, hours
	return s.predictor.Simulate(ctx, req)
}

// Notify publishes a best-effort notice to subscribers.
func (s *Simulation) Notify(msg string) {
	s.bus.Emit(fire.Event{Kind: fire.EventNotice, Message: msg})
	s.bus.Dispatch()
}

// flush moves engine events onto the bus. Callers hold s.mu.
func (s *Simulation) flush() {
	s.bus.Emit(s.terrain.Drain()...)
	s.bus.Emit(s.fires.Drain()...)
}

// publish dispatches queued events, then hands samples to the sinks.
// Callers must not hold s.mu.
func (s *Simulation) publish(samples []stats.Record) {
	s.bus.Dispatch()
	if len(samples) == 0 {
		return
	}
	s.sinkMu.Lock()
	sinks := append([]StatsSink(nil), s.sinks...)
	s.sinkMu.Unlock()
	for _, r := range samples {
		for _, sink := range sinks {
			sink.RecordStats(r)
		}
	}
}

func copySources(src []*fire.Source) []fire.Source {
	out := make([]fire.Source, len(src))
	for i, p := range src {
		out[i] = *p
	}
	return out
}

func sum(vs []float64) float64 {
	t := 0.0
	for _, v := range vs {
		t += v
	}
	return t
}
