// Terrain engine: sources sit on grid cells, burn their fuel, throw particles
// and ignite neighbours downwind and uphill.
package fire

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/talgya/firesim/internal/entropy"
	"github.com/talgya/firesim/internal/env"
	"github.com/talgya/firesim/internal/particles"
	"github.com/talgya/firesim/internal/terrain"
)

// TerrainState is the whole mutable state of the terrain engine.
type TerrainState struct {
	events

	Grid    *terrain.Grid
	Params  Params
	Sources []*Source // active, in creation order
	Burned  []BurnedArea

	Tick     uint64
	SimHours float64 // simulated fire time

	particles map[uint64]*particles.Set
	drift     windDrift
	nextID    uint64
}

// NewTerrainState creates an empty engine over grid.
func NewTerrainState(grid *terrain.Grid, p Params) *TerrainState {
	return &TerrainState{
		Grid:      grid,
		Params:    p,
		particles: make(map[uint64]*particles.Set),
	}
}

// Wind returns the current wind for an environment reading.
func (st *TerrainState) Wind(e env.State) Wind {
	return windFor(e, st.Params, st.drift)
}

// Ignite places a user source at world position (x, z). It is rejected when
// the point is off the grid or another source is within MinSeparation.
func (st *TerrainState) Ignite(x, z float64, e env.State, rng entropy.Source) (*Source, bool) {
	p := mgl64.Vec3{x, 0, z}
	if st.Grid.Index(x, z) == terrain.InvalidIndex || within(st.Sources, p, st.Params.MinSeparation) {
		return nil, false
	}
	s := st.spawn(x, z, OriginUser, 0, e, rng)
	st.enforceLimit()
	return s, true
}

func (st *TerrainState) spawn(x, z float64, origin Origin, parent uint64, e env.State, rng entropy.Source) *Source {
	st.nextID++
	p := st.Params
	s := &Source{
		ID:          st.nextID,
		Parent:      parent,
		Position:    mgl64.Vec3{x, st.Grid.HeightAt(x, z), z},
		Cell:        st.Grid.Index(x, z),
		Intensity:   p.SourceIntensity,
		Temperature: p.SourceTemperature,
		Radius:      p.SourceRadius,
		BurnRate:    p.BurnRate,
		Origin:      origin,
	}
	st.Sources = append(st.Sources, s)
	if p.Particles != (particles.Capacities{}) {
		st.particles[s.ID] = particles.NewSet(p.Particles, st.emitter(s, st.Wind(e)), rng)
	}
	st.sourceEvent(EventCreated, EngineTerrain, st.Tick, s)
	return s
}

func (st *TerrainState) emitter(s *Source, w Wind) particles.Emitter {
	return particles.Emitter{
		Origin:       s.Position,
		Radius:       s.Radius,
		Intensity:    s.Intensity,
		Temperature:  s.Temperature,
		Wind:         w.Direction,
		WindStrength: w.Strength,
	}
}

// Particles returns the particle set owned by source id, if any.
func (st *TerrainState) Particles(id uint64) (*particles.Set, bool) {
	ps, ok := st.particles[id]
	return ps, ok
}

// Source returns the active source with the given id.
func (st *TerrainState) Source(id uint64) (*Source, bool) {
	for _, s := range st.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// StepTerrain advances the terrain engine by dt seconds.
//
// Per source, in creation order: age, one spread roll against
// SpreadRate*dt (a hit draws direction jitter, distance and the target's
// ignition roll), then fuel consumption or intensity decay. Wind drift draws
// two values at the end of the step. Sources created during the step are
// first processed on the next one.
func StepTerrain(st *TerrainState, dt float64, e env.State, rng entropy.Source) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return
	}
	e = e.Sanitize()
	st.Tick++
	wind := st.Wind(e)

	active := st.Sources[:len(st.Sources):len(st.Sources)]
	var out []*Source
	for _, s := range active {
		s.Age += dt

		x, z := s.Position.X(), s.Position.Z()
		dx, dz := st.Grid.Gradient(x, z)
		rate := SpreadRate(st.Params.BaseSpreadRate, Factors{
			Fuel:         st.Grid.Fuel(s.Cell),
			Moisture:     st.Grid.Moisture(s.Cell),
			WindStrength: wind.Strength,
			Gradient:     math.Hypot(dx, dz),
			Temperature:  s.Temperature,
		})
		if rng.Float() < rate*dt {
			st.attemptSpread(s, wind, e, rng)
		}

		if st.burn(s, dt) {
			out = append(out, s)
		}
	}
	for _, s := range out {
		st.extinguish(s)
	}

	st.drift.drift(e, st.Params, dt, rng.Float)
	st.enforceLimit()
}

// attemptSpread tries to ignite a child ahead of s.
func (st *TerrainState) attemptSpread(s *Source, wind Wind, e env.State, rng entropy.Source) bool {
	x, z := s.Position.X(), s.Position.Z()
	jitter := mgl64.Vec3{entropy.Jitter(rng) * 2, 0, entropy.Jitter(rng) * 2}
	dir := wind.Direction.Mul(wind.Strength * st.Params.WindSpreadWeight).
		Add(st.Grid.SlopeVector(x, z)).
		Add(jitter)
	if dir.LenSqr() < 1e-18 {
		return false
	}
	dir = dir.Normalize()

	dist := entropy.Range(rng, st.Params.SpreadDistanceMin, st.Params.SpreadDistanceMax)
	target := s.Position.Add(dir.Mul(dist))

	idx := st.Grid.Index(target.X(), target.Z())
	if idx == terrain.InvalidIndex {
		return false
	}
	fuel := st.Grid.Fuel(idx)
	if fuel <= 0 {
		return false
	}
	if rng.Float() >= fuel*(1-st.Grid.Moisture(idx)*0.8) {
		return false
	}
	if within(st.Sources, target, st.Params.MinSeparation) {
		return false
	}

	st.spawn(target.X(), target.Z(), OriginSpread, s.ID, e, rng)
	st.Grid.Consume(idx, st.Params.IgnitionFuelCost)
	return true
}

// burn consumes fuel under s, or decays it when the cell is spent. It reports
// whether the source has gone out.
func (st *TerrainState) burn(s *Source, dt float64) bool {
	if st.Grid.Fuel(s.Cell) > 0 {
		s.FuelConsumed += st.Grid.Consume(s.Cell, s.BurnRate*dt)
		s.Intensity = math.Min(2, st.Grid.Fuel(s.Cell)*2)
		s.Temperature = 300 + s.Intensity*400
		return false
	}
	s.Intensity *= st.Params.ExtinguishDecay
	if s.Intensity < 0 {
		s.Intensity = 0
	}
	return s.Intensity < st.Params.ExtinguishThreshold
}

// extinguish converts s into a burned-area record and drops its visuals.
func (st *TerrainState) extinguish(s *Source) {
	rec := BurnedArea{SourceID: s.ID, Position: s.Position, Radius: s.Radius, BurnTime: s.Age}
	st.Burned = append(st.Burned, rec)
	st.remove(s)

	cp := *s
	st.emit(Event{Kind: EventExtinguished, Engine: EngineTerrain, Tick: st.Tick, Source: &cp, Burned: &rec})
}

func (st *TerrainState) remove(s *Source) {
	for i, a := range st.Sources {
		if a == s {
			st.Sources = append(st.Sources[:i], st.Sources[i+1:]...)
			break
		}
	}
	delete(st.particles, s.ID)
}

// enforceLimit evicts the oldest sources beyond MaxActiveSources. Evicted
// sources leave no burned record.
func (st *TerrainState) enforceLimit() {
	limit := st.Params.MaxActiveSources
	if limit <= 0 {
		return
	}
	for len(st.Sources) > limit {
		s := st.Sources[0]
		st.remove(s)
		st.sourceEvent(EventEvicted, EngineTerrain, st.Tick, s)
	}
}

// UpdateParticles advances every source's particles by dt seconds and returns
// the xz positions where embers touched down.
func UpdateParticles(st *TerrainState, dt float64, e env.State, rng entropy.Source) []mgl64.Vec3 {
	if len(st.particles) == 0 {
		return nil
	}
	wind := st.Wind(e.Sanitize())
	var landings []mgl64.Vec3
	for _, s := range st.Sources {
		ps, ok := st.particles[s.ID]
		if !ok {
			continue
		}
		landings = append(landings, ps.Update(dt, st.emitter(s, wind), st.Grid.HeightAt, rng)...)
	}
	return landings
}

// IgniteEmbers gives each landing a chance to start a spot fire: no source
// may be within EmberSeparation, the roll must pass EmberIgnitionChance and
// the cell must hold more than EmberMinFuel. It returns the number of fires
// started.
func IgniteEmbers(st *TerrainState, landings []mgl64.Vec3, e env.State, rng entropy.Source) int {
	n := 0
	for _, l := range landings {
		if within(st.Sources, l, st.Params.EmberSeparation) {
			continue
		}
		if rng.Float() >= st.Params.EmberIgnitionChance {
			continue
		}
		idx := st.Grid.Index(l.X(), l.Z())
		if idx == terrain.InvalidIndex || st.Grid.Fuel(idx) <= st.Params.EmberMinFuel {
			continue
		}
		st.spawn(l.X(), l.Z(), OriginEmber, 0, e, rng)
		n++
	}
	if n > 0 {
		st.enforceLimit()
	}
	return n
}

// AdvanceClock adds simulated hours.
func (st *TerrainState) AdvanceClock(hours float64) {
	if hours > 0 {
		st.SimHours += hours
	}
}

// FastForward jumps the fire clock ahead and runs one one-second step.
func FastForward(st *TerrainState, e env.State, rng entropy.Source) {
	st.AdvanceClock(st.Params.FastForwardHours)
	StepTerrain(st, 1, e, rng)
}

// Reset clears every source and record and restores the grid's fuel.
func (st *TerrainState) Reset() {
	st.Grid.Reset()
	st.Sources = nil
	st.Burned = nil
	st.particles = make(map[uint64]*particles.Set)
	st.drift = windDrift{}
	st.Tick = 0
	st.SimHours = 0
	st.nextID = 0
	st.pending = nil
	st.emit(Event{Kind: EventReset, Engine: EngineTerrain})
}
