package view

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/talgya/firesim/internal/engine"
	"github.com/talgya/firesim/internal/entropy"
	"github.com/talgya/firesim/internal/env"
	"github.com/talgya/firesim/internal/fire"
	"github.com/talgya/firesim/internal/terrain"
)

func newTestViewer(t *testing.T) (*Viewer, tcell.SimulationScreen, *engine.Simulation) {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("init screen: %v", err)
	}
	t.Cleanup(screen.Fini)
	screen.SetSize(60, 22)

	sim := engine.NewSimulation(engine.Options{
		Params:  fire.DefaultParams(),
		Terrain: terrain.SmallTestConfig(),
		Env:     env.Static(env.Default()),
		RNG:     entropy.NewSeeded(5),
	})
	return New(screen, sim), screen, sim
}

func line(screen tcell.Screen, y int) string {
	w, _ := screen.Size()
	var b strings.Builder
	for x := 0; x < w; x++ {
		r, _, _, _ := screen.GetContent(x, y)
		b.WriteRune(r)
	}
	return b.String()
}

func count(screen tcell.Screen, want rune) int {
	w, h := screen.Size()
	n := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if r, _, _, _ := screen.GetContent(x, y); r == want {
				n++
			}
		}
	}
	return n
}

func key(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestDrawStatus(t *testing.T) {
	v, screen, _ := newTestViewer(t)
	v.Draw()
	if status := line(screen, 20); !strings.HasPrefix(status, "paused 1x") {
		t.Fatalf("status line = %q", status)
	}
	if help := line(screen, 21); !strings.Contains(help, "NE") {
		t.Fatalf("env line = %q", help)
	}
	if count(screen, glyphCursor) != 1 {
		t.Fatal("cursor not drawn")
	}
}

func TestIgniteAtCursor(t *testing.T) {
	v, screen, sim := newTestViewer(t)
	if !v.Handle(key('i')) {
		t.Fatal("ignite key should not quit")
	}
	snap := sim.TerrainSnapshot()
	if len(snap.Sources) != 1 {
		t.Fatalf("%d sources after ignite", len(snap.Sources))
	}
	if x, z := snap.Sources[0].Position.X(), snap.Sources[0].Position.Z(); x < -1 || x > 1 || z < -1 || z > 1 {
		t.Fatalf("centre cursor ignited at (%v, %v)", x, z)
	}

	// Move off the cursor so the fire glyph is visible.
	v.Handle(tcell.NewEventKey(tcell.KeyLeft, 0, tcell.ModNone))
	v.Handle(tcell.NewEventKey(tcell.KeyLeft, 0, tcell.ModNone))
	v.Draw()
	if count(screen, glyphFire) != 1 {
		t.Fatal("fire glyph not drawn")
	}
}

func TestKeysDriveSimulation(t *testing.T) {
	v, _, sim := newTestViewer(t)

	v.Handle(key(' '))
	if !sim.Playing(fire.EngineTerrain) {
		t.Fatal("space should start the terrain engine")
	}
	v.Handle(key('+'))
	if sim.Speed() != 2 {
		t.Fatalf("speed = %v", sim.Speed())
	}
	v.Handle(key('r'))
	if sim.Playing(fire.EngineTerrain) {
		t.Fatal("reset should pause the engine")
	}
	if v.Handle(key('q')) {
		t.Fatal("q should quit")
	}
	if v.Handle(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)) {
		t.Fatal("escape should quit")
	}
}

func TestCursorClamped(t *testing.T) {
	v, _, _ := newTestViewer(t)
	for i := 0; i < 100; i++ {
		v.Handle(tcell.NewEventKey(tcell.KeyUp, 0, tcell.ModNone))
		v.Handle(tcell.NewEventKey(tcell.KeyRight, 0, tcell.ModNone))
	}
	if x, y := v.Cursor(); x != 59 || y != 0 {
		t.Fatalf("cursor = (%d, %d)", x, y)
	}
}

func TestRunStopsOnQuit(t *testing.T) {
	v, screen, _ := newTestViewer(t)
	done := make(chan struct{})
	go func() {
		v.Run(context.Background(), 50)
		close(done)
	}()
	screen.InjectKey(tcell.KeyRune, 'q', tcell.ModNone)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("viewer did not quit")
	}
}

func TestScreenMapping(t *testing.T) {
	x, z := toWorld(0, 0, 10, 10, 20)
	if x != -9 || z != -9 {
		t.Fatalf("toWorld = (%v, %v)", x, z)
	}
	if sx, sy, ok := toScreen(x, z, 10, 10, 20); !ok || sx != 0 || sy != 0 {
		t.Fatalf("toScreen = (%d, %d, %v)", sx, sy, ok)
	}
	if _, _, ok := toScreen(10, 0, 10, 10, 20); ok {
		t.Fatal("right edge is off screen")
	}
}
