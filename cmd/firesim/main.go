// Command firesim runs the wildfire spread simulator: the terrain engine at a
// fixed frame rate, the map engine on its tick timer, and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-isatty"

	"github.com/talgya/firesim/internal/api"
	"github.com/talgya/firesim/internal/config"
	"github.com/talgya/firesim/internal/engine"
	"github.com/talgya/firesim/internal/entropy"
	"github.com/talgya/firesim/internal/fire"
	"github.com/talgya/firesim/internal/persistence"
	"github.com/talgya/firesim/internal/prediction"
	"github.com/talgya/firesim/internal/sink"
	"github.com/talgya/firesim/internal/view"
	"github.com/talgya/firesim/internal/weather"
)

func main() {
	cfg := config.Default()
	cfg.ApplyEnv(os.Getenv)
	cfg.Bind(flag.CommandLine)
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "firesim:", err)
		os.Exit(2)
	}
	closeLog := setupLogging(cfg)
	defer closeLog()

	params, _ := cfg.Params()
	slog.Info("firesim starting",
		"seed", cfg.Seed, "grid", cfg.GridSize, "speed", cfg.Speed,
		"max_sources", params.MaxActiveSources, "overrides", cfg.Overrides.String())

	// ── Ledger ────────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.DBPath != "" {
		os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
		var err error
		db, err = persistence.Open(cfg.DBPath)
		if err != nil {
			slog.Warn("ledger unavailable, running without persistence", "path", cfg.DBPath, "error", err)
			db = nil
		} else {
			defer db.Close()
			runID, err := db.StartRun(cfg.Seed, params)
			if err != nil {
				slog.Warn("failed to record run", "error", err)
			}
			slog.Info("ledger opened", "path", cfg.DBPath, "run", runID)
		}
	}

	// ── Environment ───────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	weatherClient := weather.NewClient(cfg.WeatherKey, cfg.WeatherLocation)
	envReader := weather.NewReader(weatherClient, cfg.Environment())
	if weatherClient != nil {
		slog.Info("live weather enabled", "location", cfg.WeatherLocation, "refresh", cfg.WeatherRefresh)
		go envReader.Run(ctx, cfg.WeatherRefresh)
	} else {
		slog.Info("OPENWEATHERMAP_API_KEY not set, using configured environment")
	}

	// ── Simulation ────────────────────────────────────────────────────
	rng := entropy.NewSeeded(cfg.Seed)
	predictor := prediction.NewClient(cfg.PredictionURL, rng)
	if predictor == nil {
		slog.Info("FIRESIM_PREDICTION_URL not set, predictions use the local model")
	}

	sim := engine.NewSimulation(engine.Options{
		Params:    params,
		Terrain:   cfg.Terrain(),
		Env:       envReader,
		RNG:       rng,
		Predictor: predictor,
	})
	sim.SetSpeed(cfg.Speed)

	if db != nil {
		sim.AddStatsSink(db)
		sim.Bus().OnAll(db.RecordEvent)
	}

	publisher, err := sink.Connect(cfg.NATSURL, cfg.NATSPrefix)
	if err != nil {
		slog.Warn("event publishing disabled", "error", err)
	}
	if publisher != nil {
		defer publisher.Close()
		sim.AddStatsSink(publisher)
		sim.Bus().OnAll(publisher.HandleEvent)
	}

	sim.Bus().On(fire.EventNotice, func(ev fire.Event) {
		slog.Info("notice", "message", ev.Message)
	})

	// ── HTTP API ──────────────────────────────────────────────────────
	var apiServer *api.Server
	if cfg.Port > 0 {
		if cfg.AdminKey == "" {
			slog.Warn("FIRESIM_ADMIN_KEY not set, POST endpoints are disabled")
		}
		apiServer = &api.Server{
			Sim:       sim,
			DB:        db,
			Port:      cfg.Port,
			AdminKey:  cfg.AdminKey,
			StreamKey: cfg.StreamKey,
		}
		apiServer.Start()
	}

	// ── Start ─────────────────────────────────────────────────────────
	go engine.TickLoop(ctx, sim)

	if cfg.TUI {
		runViewer(ctx, stop, sim, cfg.FPS)
	} else {
		if cfg.Port > 0 {
			fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Port)
		}
		fmt.Println("Simulating... (Ctrl+C to stop)")
		engine.FrameLoop(ctx, sim, cfg.FPS)
	}

	slog.Info("shutting down")
	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown", "error", err)
		}
		cancel()
	}

	terrainRec, mapRec := sim.Stats()
	fmt.Printf("Terrain: %s ha burned over %.1f simulated hours (%s frames).\n",
		humanize.FormatFloat("#,###.##", terrainRec.BurnedArea), terrainRec.SimHours, humanize.Comma(int64(sim.TerrainTick())))
	fmt.Printf("Map: %s ha burned over %s ticks.\n",
		humanize.FormatFloat("#,###.##", mapRec.BurnedArea), humanize.Comma(int64(sim.MapTick())))
}

// runViewer drives the terrain engine in the background and hands the
// terminal to the burn-map viewer until the user quits or ctx ends.
func runViewer(ctx context.Context, stop context.CancelFunc, sim *engine.Simulation, fps int) {
	screen, err := tcell.NewScreen()
	if err != nil {
		slog.Error("failed to create screen", "error", err)
		return
	}
	if err := screen.Init(); err != nil {
		slog.Error("failed to init screen", "error", err)
		return
	}
	defer screen.Fini()

	go engine.FrameLoop(ctx, sim, fps)
	view.New(screen, sim).Run(ctx, min(fps, 20))
	stop()
}

// setupLogging installs the default slog handler. Terminals get text,
// pipes get JSON, and the viewer logs to a file beside the ledger.
func setupLogging(cfg *config.Config) (closeFn func()) {
	level, _ := cfg.Level()
	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	closeFn = func() {}
	if cfg.TUI {
		path := filepath.Join(filepath.Dir(cfg.DBPath), "firesim.log")
		os.MkdirAll(filepath.Dir(path), 0755)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			out = io.Discard
		} else {
			out = f
			closeFn = func() { f.Close() }
		}
	}

	var h slog.Handler
	if cfg.TUI || isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	slog.SetDefault(slog.New(h))
	return closeFn
}
