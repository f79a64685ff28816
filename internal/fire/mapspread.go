// Map engine: point sources on a lat/lng map that hop downwind once per
// interval tick.
package fire

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/talgya/firesim/internal/entropy"
	"github.com/talgya/firesim/internal/env"
	"github.com/talgya/firesim/internal/terrain"
)

// MapState is the whole mutable state of the map engine.
type MapState struct {
	events

	Params  Params
	Sources []*Source // active, oldest first

	Tick        uint64
	Minutes     int     // simulated minutes, one per tick
	EvictedArea float64 // square metres of burn circles dropped by eviction

	nextID uint64
}

// NewMapState creates an empty map engine.
func NewMapState(p Params) *MapState {
	return &MapState{Params: p}
}

// Ignite places a user source at (lat, lng) with the origin burn radius.
// It is rejected outside MapBounds or within MapMinSeparation of another source.
func (st *MapState) Ignite(lat, lng float64) (*Source, bool) {
	if !st.accepts(lat, lng) {
		return nil, false
	}
	return st.spawn(lat, lng, st.Params.MapOriginRadius, OriginUser, 0), true
}

func (st *MapState) accepts(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || !st.Params.MapBounds.Contains(lat, lng) {
		return false
	}
	return !within(st.Sources, mgl64.Vec3{lat, 0, lng}, st.Params.MapMinSeparation)
}

func (st *MapState) spawn(lat, lng, radius float64, origin Origin, parent uint64) *Source {
	st.nextID++
	s := &Source{
		ID:          st.nextID,
		Parent:      parent,
		Position:    mgl64.Vec3{lat, 0, lng},
		Cell:        terrain.InvalidIndex,
		Intensity:   st.Params.SourceIntensity,
		Temperature: st.Params.SourceTemperature,
		Radius:      radius,
		Origin:      origin,
	}
	st.Sources = append(st.Sources, s)
	st.sourceEvent(EventCreated, EngineMap, st.Tick, s)
	return s
}

// SpreadDistance is the hop length in degrees for an environment reading.
func SpreadDistance(p Params, e env.State) float64 {
	windFactor := e.WindSpeed / 20
	tempFactor := e.Temperature / 35
	humidityFactor := (100 - e.Humidity) / 120
	return p.MapBaseDistance * windFactor * tempFactor * humidityFactor
}

// StepMap advances the map engine by one interval tick.
//
// The clock and every source age by one tick. When the source count exceeds
// MapEvictThreshold the oldest MapEvictCount are evicted. Then the newest
// MapSourcesConsidered sources each roll MapSpreadChance; a hit draws an angle
// within the wind cone and, if the target is accepted, a burn radius. At most
// MaxSpreadsPerTick children are created.
func StepMap(st *MapState, e env.State, rng entropy.Source) {
	e = e.Sanitize()
	p := st.Params
	st.Tick++
	st.Minutes++
	for _, s := range st.Sources {
		s.Age++
	}

	if p.MapEvictThreshold > 0 && len(st.Sources) > p.MapEvictThreshold {
		n := min(p.MapEvictCount, len(st.Sources))
		for _, s := range st.Sources[:n] {
			st.EvictedArea += math.Pi * s.Radius * s.Radius
			st.sourceEvent(EventEvicted, EngineMap, st.Tick, s)
		}
		st.Sources = append([]*Source(nil), st.Sources[n:]...)
	}

	considered := st.Sources
	if k := p.MapSourcesConsidered; k > 0 && len(considered) > k {
		considered = considered[len(considered)-k:]
	}
	considered = append([]*Source(nil), considered...)

	dist := SpreadDistance(p, e)
	windAngle := e.WindDirection.Angle()
	created := 0
	for _, s := range considered {
		if created >= p.MaxSpreadsPerTick {
			break
		}
		if rng.Float() >= p.MapSpreadChance {
			continue
		}
		// (r-0.5)*cone: the default π/3 cone keeps children within ±30° of the wind.
		angle := windAngle + entropy.Jitter(rng)*p.MapSpreadCone
		lat := s.Position.X() + math.Cos(angle)*dist
		lng := s.Position.Z() + math.Sin(angle)*dist
		if !st.accepts(lat, lng) {
			continue
		}
		radius := entropy.Range(rng, p.MapBurnRadiusMin, p.MapBurnRadiusMax)
		st.spawn(lat, lng, radius, OriginSpread, s.ID)
		created++
	}
}

// Reset clears every source and the clock.
func (st *MapState) Reset() {
	st.Sources = nil
	st.Tick = 0
	st.Minutes = 0
	st.EvictedArea = 0
	st.nextID = 0
	st.pending = nil
	st.emit(Event{Kind: EventReset, Engine: EngineMap})
}

// Clock formats the simulated time as "1h 5m" or "12 minutes".
func (st *MapState) Clock() string {
	return FormatMinutes(st.Minutes)
}

// FormatMinutes renders a minute count as "1h 5m" or "12 minutes".
func FormatMinutes(m int) string {
	if m < 0 {
		m = 0
	}
	h, rem := m/60, m%60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, rem)
	}
	return fmt.Sprintf("%d minutes", rem)
}
