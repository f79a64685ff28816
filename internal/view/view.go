// Package view provides a terminal burn-map viewer for the terrain engine.
// It draws the terrain colours, active fires and burned records, and lets
// the user move a cursor, ignite fires and drive the engine from the keyboard.
package view

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/talgya/firesim/internal/engine"
	"github.com/talgya/firesim/internal/fire"
	"github.com/talgya/firesim/internal/particles"
	"github.com/talgya/firesim/internal/terrain"
)

const statusLines = 2

// Glyphs.
const (
	glyphCell   = ' '
	glyphFire   = '▲'
	glyphBurned = '·'
	glyphCursor = '+'
)

// Viewer renders a Simulation onto a tcell screen.
type Viewer struct {
	screen tcell.Screen
	sim    *engine.Simulation

	cursorX, cursorY int
	message          string
}

// New creates a viewer. The caller owns the screen's Init and Fini.
func New(screen tcell.Screen, sim *engine.Simulation) *Viewer {
	w, h := screen.Size()
	return &Viewer{
		screen:  screen,
		sim:     sim,
		cursorX: w / 2,
		cursorY: max(0, h-statusLines) / 2,
	}
}

// Run redraws at fps and handles keys until ctx is cancelled or the user quits.
func (v *Viewer) Run(ctx context.Context, fps int) {
	if fps <= 0 {
		fps = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	events := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := v.screen.PollEvent()
			if ev == nil {
				return // screen finalised
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	v.Draw()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if !v.Handle(ev) {
				return
			}
			v.Draw()
		case <-ticker.C:
			v.Draw()
		}
	}
}

// Handle processes one input event. It returns false when the user quits.
func (v *Viewer) Handle(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		return v.handleKey(ev)
	case *tcell.EventResize:
		v.screen.Sync()
		v.clampCursor()
	}
	return true
}

func (v *Viewer) handleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyUp:
		v.cursorY--
	case tcell.KeyDown:
		v.cursorY++
	case tcell.KeyLeft:
		v.cursorX--
	case tcell.KeyRight:
		v.cursorX++
	case tcell.KeyEnter:
		v.ignite()
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			return false
		case 'i':
			v.ignite()
		case ' ':
			if v.sim.Playing(fire.EngineTerrain) {
				v.sim.Pause(fire.EngineTerrain)
				v.message = "paused"
			} else {
				v.sim.Play(fire.EngineTerrain)
				v.message = "playing"
			}
		case 'f':
			rec := v.sim.FastForward()
			v.message = fmt.Sprintf("fast-forward to %.1fh", rec.SimHours)
		case 'r':
			v.sim.Reset(fire.EngineTerrain)
			v.message = "reset"
		case '+', '=':
			v.message = fmt.Sprintf("speed %gx", v.sim.SetSpeed(v.sim.Speed()+1))
		case '-':
			v.message = fmt.Sprintf("speed %gx", v.sim.SetSpeed(v.sim.Speed()-1))
		}
	}
	v.clampCursor()
	return true
}

func (v *Viewer) ignite() {
	snap := v.sim.TerrainSnapshot()
	w, h := v.area()
	x, z := toWorld(v.cursorX, v.cursorY, w, h, snap.Size)
	if src, ok := v.sim.IgniteTerrain(x, z); ok {
		v.message = fmt.Sprintf("fire %d at (%.1f, %.1f)", src.ID, x, z)
	} else {
		v.message = "cannot ignite here"
	}
}

func (v *Viewer) area() (w, h int) {
	w, h = v.screen.Size()
	return w, max(1, h-statusLines)
}

func (v *Viewer) clampCursor() {
	w, h := v.area()
	v.cursorX = min(max(v.cursorX, 0), w-1)
	v.cursorY = min(max(v.cursorY, 0), h-1)
}

// Cursor returns the cursor's screen position.
func (v *Viewer) Cursor() (x, y int) { return v.cursorX, v.cursorY }

// Draw renders one frame.
func (v *Viewer) Draw() {
	snap := v.sim.TerrainSnapshot()
	terrainRec, _ := v.sim.Stats()
	w, h := v.area()

	v.screen.Clear()
	for sy := 0; sy < h; sy++ {
		row := sy * snap.Height / h
		for sx := 0; sx < w; sx++ {
			col := sx * snap.Width / w
			c := snap.Colors[row*snap.Width+col]
			v.screen.SetContent(sx, sy, glyphCell, nil, tcell.StyleDefault.Background(rgb(c)))
		}
	}

	for _, b := range snap.Burned {
		v.plot(b.Position.X(), b.Position.Z(), w, h, snap, glyphBurned, tcell.StyleDefault.Foreground(tcell.ColorDarkGray))
	}
	for _, s := range snap.Sources {
		fg := fromColorful(particles.TemperatureColor(s.Temperature))
		v.plot(s.Position.X(), s.Position.Z(), w, h, snap, glyphFire, tcell.StyleDefault.Foreground(fg).Bold(true))
	}
	v.screen.SetContent(v.cursorX, v.cursorY, glyphCursor, nil, tcell.StyleDefault.Foreground(tcell.ColorWhite).Reverse(true))

	state := "paused"
	if snap.Playing {
		state = "playing"
	}
	e := v.sim.Env()
	v.text(0, h, fmt.Sprintf("%s %gx  t=%.1fh  fires=%d  burned=%s ha  perimeter=%s  villages at risk=%d",
		state, v.sim.Speed(), snap.SimHours, terrainRec.ActiveSources,
		humanize.FormatFloat("#,###.##", terrainRec.BurnedArea),
		humanize.FormatFloat("#,###.#", terrainRec.Perimeter),
		terrainRec.VillagesAtRisk))
	v.text(0, h+1, fmt.Sprintf("%.0f°C %.0f%% %s %.0f km/h  [arrows] move [i] ignite [space] play [f] +5h [r] reset [q] quit  %s",
		e.Temperature, e.Humidity, e.WindDirection, e.WindSpeed, v.message))
	v.screen.Show()
}

func (v *Viewer) plot(x, z float64, w, h int, snap engine.TerrainSnapshot, r rune, style tcell.Style) {
	sx, sy, ok := toScreen(x, z, w, h, snap.Size)
	if !ok {
		return
	}
	_, _, cur, _ := v.screen.GetContent(sx, sy)
	_, bg, _ := cur.Decompose()
	v.screen.SetContent(sx, sy, r, nil, style.Background(bg))
}

func (v *Viewer) text(x, y int, s string) {
	w, _ := v.screen.Size()
	for _, r := range s {
		if x >= w {
			return
		}
		v.screen.SetContent(x, y, r, nil, tcell.StyleDefault)
		x++
	}
}

// toWorld maps the centre of screen cell (sx, sy) to world coordinates.
func toWorld(sx, sy, w, h int, size float64) (x, z float64) {
	half := size / 2
	return -half + (float64(sx)+0.5)*size/float64(w), -half + (float64(sy)+0.5)*size/float64(h)
}

// toScreen maps a world position to a screen cell.
func toScreen(x, z float64, w, h int, size float64) (sx, sy int, ok bool) {
	half := size / 2
	sx = int(math.Floor((x + half) / size * float64(w)))
	sy = int(math.Floor((z + half) / size * float64(h)))
	return sx, sy, sx >= 0 && sx < w && sy >= 0 && sy < h
}

func rgb(c terrain.RGB) tcell.Color {
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}

func fromColorful(c colorful.Color) tcell.Color {
	r, g, b := c.Clamped().RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}
