// Package fire provides the stochastic fire-propagation core: the shared
// spread-rate model, fire sources and burned-area records, and the step
// functions of the 2D map engine and the 3D terrain engine.
//
// Step functions are plain functions of (state, dt, environment, random
// source). They mutate the state they are given and never fail: out-of-grid
// targets, exhausted fuel and crowded cells simply produce no new source.
package fire

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Origin records why a source exists.
type Origin string

const (
	OriginUser   Origin = "user"
	OriginSpread Origin = "spread"
	OriginEmber  Origin = "ember"
)

// Source is a single active ignition point. The map engine stores latitude in
// Position.X and longitude in Position.Z.
type Source struct {
	ID           uint64     `json:"id"`
	Parent       uint64     `json:"parent,omitempty"`
	Position     mgl64.Vec3 `json:"position"`
	Cell         int        `json:"cell"`
	Intensity    float64    `json:"intensity"`
	Temperature  float64    `json:"temperature"`
	Radius       float64    `json:"radius"`
	Age          float64    `json:"age"`
	FuelConsumed float64    `json:"fuel_consumed"`
	BurnRate     float64    `json:"burn_rate"`
	Origin       Origin     `json:"origin"`
}

// BurnedArea is left behind when a terrain source goes out.
type BurnedArea struct {
	SourceID uint64     `json:"source_id"`
	Position mgl64.Vec3 `json:"position"`
	Radius   float64    `json:"radius"`
	BurnTime float64    `json:"burn_time"` // seconds the source burned
}

// EventKind classifies lifecycle events.
type EventKind string

const (
	EventCreated      EventKind = "created"
	EventExtinguished EventKind = "extinguished"
	EventEvicted      EventKind = "evicted"
	EventReset        EventKind = "reset"
	EventNotice       EventKind = "notice"
)

// EngineKind tells which engine produced an event.
type EngineKind string

const (
	EngineMap     EngineKind = "map"
	EngineTerrain EngineKind = "terrain"
)

// Event is emitted on source creation and removal so renderers can add or
// drop their visuals. Notices carry a message and no source.
type Event struct {
	Kind    EventKind   `json:"kind"`
	Engine  EngineKind  `json:"engine"`
	Tick    uint64      `json:"tick"`
	Source  *Source     `json:"source,omitempty"`
	Burned  *BurnedArea `json:"burned,omitempty"`
	Message string      `json:"message,omitempty"`
}

// events is the pending event queue shared by both states.
type events struct {
	pending []Event
}

func (q *events) emit(ev Event) {
	q.pending = append(q.pending, ev)
}

func (q *events) sourceEvent(kind EventKind, engine EngineKind, tick uint64, s *Source) {
	cp := *s
	q.emit(Event{Kind: kind, Engine: engine, Tick: tick, Source: &cp})
}

// Drain returns pending events and clears the queue.
func (q *events) Drain() []Event {
	out := q.pending
	q.pending = nil
	return out
}

// horizontalDistance measures in the xz plane.
func horizontalDistance(a, b mgl64.Vec3) float64 {
	dx := a.X() - b.X()
	dz := a.Z() - b.Z()
	return mgl64.Vec2{dx, dz}.Len()
}

// within reports whether any source lies closer than r to p.
func within(sources []*Source, p mgl64.Vec3, r float64) bool {
	for _, s := range sources {
		if horizontalDistance(s.Position, p) < r {
			return true
		}
	}
	return false
}
