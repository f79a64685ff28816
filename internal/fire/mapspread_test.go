package fire

import (
	"math"
	"testing"

	"github.com/talgya/firesim/internal/entropy"
	"github.com/talgya/firesim/internal/env"
)

func seedMap(t *testing.T, n int) *MapState {
	t.Helper()
	st := NewMapState(DefaultParams())
	for i := 0; i < n; i++ {
		if _, ok := st.Ignite(29+float64(i)*0.01, 79); !ok {
			t.Fatalf("ignition %d rejected", i)
		}
	}
	st.Drain()
	return st
}

func TestMapIgniteRejections(t *testing.T) {
	st := NewMapState(DefaultParams())
	if _, ok := st.Ignite(51.5, -0.1); ok {
		t.Fatal("ignition outside the map bounds accepted")
	}
	s, ok := st.Ignite(30.3, 78.0)
	if !ok {
		t.Fatal("ignition rejected")
	}
	if s.Radius != 200 || s.Origin != OriginUser {
		t.Fatalf("origin source = %+v", s)
	}
	if _, ok := st.Ignite(30.3001, 78.0001); ok {
		t.Fatal("ignition inside the minimum separation accepted")
	}
}

func TestMapSpreadFollowsWind(t *testing.T) {
	st := seedMap(t, 1)
	parent := st.Sources[0]
	e := env.State{Temperature: 35, Humidity: 40, WindSpeed: 20, WindDirection: env.North}

	// Roll 0 hits, jitter 0.5 keeps the wind angle, radius draw 0.5.
	StepMap(st, e, entropy.NewSequence(0, 0.5, 0.5))

	if len(st.Sources) != 2 {
		t.Fatalf("%d sources, want 2", len(st.Sources))
	}
	child := st.Sources[1]
	dist := 0.005 * 1 * 1 * 0.5
	if math.Abs(child.Position.X()-parent.Position.X()-dist) > 1e-12 {
		t.Fatalf("north wind should move latitude by %v, got %v", dist, child.Position.X()-parent.Position.X())
	}
	if math.Abs(child.Position.Z()-parent.Position.Z()) > 1e-12 {
		t.Fatal("north wind should not move longitude")
	}
	if child.Radius != 125 || child.Parent != parent.ID {
		t.Fatalf("child = %+v", child)
	}
	if st.Minutes != 1 || parent.Age != 1 {
		t.Fatalf("clock %d age %v after one tick", st.Minutes, parent.Age)
	}
}

func TestMapSpreadConeIsSixtyDegreesWide(t *testing.T) {
	e := env.State{Temperature: 35, Humidity: 40, WindSpeed: 20, WindDirection: env.North}
	for _, tc := range []struct {
		jitter float64
		want   float64
	}{
		{0, -math.Pi / 6},
		{0.999999, math.Pi / 6},
	} {
		st := seedMap(t, 1)
		parent := st.Sources[0]
		StepMap(st, e, entropy.NewSequence(0, tc.jitter, 0.5))
		if len(st.Sources) != 2 {
			t.Fatalf("jitter %v: %d sources, want 2", tc.jitter, len(st.Sources))
		}
		child := st.Sources[1]
		got := math.Atan2(child.Position.Z()-parent.Position.Z(), child.Position.X()-parent.Position.X())
		if math.Abs(got-tc.want) > 1e-5 {
			t.Fatalf("jitter %v: spread angle %v rad, want %v", tc.jitter, got, tc.want)
		}
	}
}

func TestMapSpreadCap(t *testing.T) {
	st := seedMap(t, 8)
	StepMap(st, env.Default(), entropy.Constant(0))
	if got := len(st.Sources) - 8; got != 3 {
		t.Fatalf("created %d children, want the per-tick cap of 3", got)
	}
}

func TestMapConsidersNewestSources(t *testing.T) {
	st := seedMap(t, 30)
	StepMap(st, env.Default(), entropy.NewSeeded(7))
	for _, s := range st.Sources[30:] {
		if s.Parent <= 20 {
			t.Fatalf("child of source %d; only the newest 10 may spread", s.Parent)
		}
	}
}

func TestMapEviction(t *testing.T) {
	st := seedMap(t, 51)
	StepMap(st, env.Default(), never)

	if len(st.Sources) != 41 {
		t.Fatalf("%d sources after eviction, want 41", len(st.Sources))
	}
	if st.Sources[0].ID != 11 {
		t.Fatalf("oldest survivor is %d, want 11", st.Sources[0].ID)
	}
	if want := 10 * math.Pi * 200 * 200; math.Abs(st.EvictedArea-want) > 1e-6 {
		t.Fatalf("evicted area = %v, want %v", st.EvictedArea, want)
	}
	evicted := 0
	for _, ev := range st.Drain() {
		if ev.Kind == EventEvicted && ev.Engine == EngineMap {
			evicted++
		}
	}
	if evicted != 10 {
		t.Fatalf("%d eviction events, want 10", evicted)
	}
}

func TestMapCalmWindDoesNotStack(t *testing.T) {
	st := seedMap(t, 1)
	StepMap(st, env.State{Temperature: 30, Humidity: 40, WindSpeed: 0}, entropy.Constant(0))
	if len(st.Sources) != 1 {
		t.Fatal("zero-distance spread should be rejected by the separation check")
	}
}

func TestMapResetAndClock(t *testing.T) {
	st := seedMap(t, 3)
	for i := 0; i < 65; i++ {
		StepMap(st, env.Default(), entropy.NewSeeded(int64(i+1)))
	}
	if st.Clock() != "1h 5m" {
		t.Fatalf("clock = %q", st.Clock())
	}
	st.Reset()
	if len(st.Sources) != 0 || st.Minutes != 0 || st.EvictedArea != 0 {
		t.Fatal("reset left residual state")
	}
	if FormatMinutes(12) != "12 minutes" || FormatMinutes(120) != "2h 0m" {
		t.Fatal("unexpected minute formatting")
	}
	evs := st.Drain()
	if len(evs) != 1 || evs[0].Kind != EventReset {
		t.Fatalf("reset events = %+v", evs)
	}
}
