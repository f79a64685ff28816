// Package config provides the command-line and environment configuration of
// the fire simulator. Values come from Default, then FIRESIM_* environment
// variables, then flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/firesim/internal/engine"
	"github.com/talgya/firesim/internal/env"
	"github.com/talgya/firesim/internal/fire"
	"github.com/talgya/firesim/internal/terrain"
)

// Config holds every runtime setting.
type Config struct {
	Seed     int64
	GridSize int
	Relief   float64
	FPS      int
	Speed    float64

	Port      int
	DBPath    string
	AdminKey  string
	StreamKey string

	PredictionURL   string
	WeatherKey      string
	WeatherLocation string
	WeatherRefresh  time.Duration

	NATSURL    string
	NATSPrefix string

	// Initial environment, as slider text.
	Temperature   string
	Humidity      string
	WindSpeed     string
	WindDirection string

	TUI      bool
	LogLevel string

	// Overrides are key=value pairs applied to fire.DefaultParams.
	Overrides KeyValues
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Seed:            42,
		GridSize:        120,
		Relief:          16,
		FPS:             30,
		Speed:           1,
		Port:            8080,
		DBPath:          "data/firesim.db",
		WeatherLocation: "Dehradun,IN",
		WeatherRefresh:  5 * time.Minute,
		NATSPrefix:      "firesim",
		Temperature:     "32",
		Humidity:        "45",
		WindSpeed:       "15",
		WindDirection:   "NE",
		LogLevel:        "info",
		Overrides:       KeyValues{},
	}
}

// ApplyEnv overrides fields from FIRESIM_* variables (and
// OPENWEATHERMAP_API_KEY) read through getenv. Malformed numbers are
// ignored with a warning.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	str := func(key string, dst *string) {
		*dst = envOrDefault(getenv, key, *dst)
	}

	c.Seed = envParsed(getenv, "FIRESIM_SEED", c.Seed, func(v string) (int64, error) { return strconv.ParseInt(v, 10, 64) })
	c.GridSize = envParsed(getenv, "FIRESIM_GRID", c.GridSize, strconv.Atoi)
	c.Relief = envParsed(getenv, "FIRESIM_RELIEF", c.Relief, parseFloat)
	c.FPS = envParsed(getenv, "FIRESIM_FPS", c.FPS, strconv.Atoi)
	c.Speed = envParsed(getenv, "FIRESIM_SPEED", c.Speed, parseFloat)
	c.Port = envParsed(getenv, "FIRESIM_PORT", c.Port, strconv.Atoi)
	c.WeatherRefresh = envParsed(getenv, "FIRESIM_WEATHER_REFRESH", c.WeatherRefresh, time.ParseDuration)
	c.TUI = envParsed(getenv, "FIRESIM_TUI", c.TUI, strconv.ParseBool)

	str("FIRESIM_DB", &c.DBPath)
	str("FIRESIM_ADMIN_KEY", &c.AdminKey)
	str("FIRESIM_STREAM_KEY", &c.StreamKey)
	str("FIRESIM_PREDICTION_URL", &c.PredictionURL)
	str("OPENWEATHERMAP_API_KEY", &c.WeatherKey)
	str("FIRESIM_WEATHER_KEY", &c.WeatherKey)
	str("FIRESIM_WEATHER_LOCATION", &c.WeatherLocation)
	str("FIRESIM_NATS_URL", &c.NATSURL)
	str("FIRESIM_NATS_PREFIX", &c.NATSPrefix)
	str("FIRESIM_TEMPERATURE", &c.Temperature)
	str("FIRESIM_HUMIDITY", &c.Humidity)
	str("FIRESIM_WIND_SPEED", &c.WindSpeed)
	str("FIRESIM_WIND_DIRECTION", &c.WindDirection)
	str("FIRESIM_LOG_LEVEL", &c.LogLevel)

	if v := getenv("FIRESIM_PARAMS"); v != "" {
		for _, kv := range strings.Split(v, ",") {
			if err := c.Overrides.Set(strings.TrimSpace(kv)); err != nil {
				slog.Warn("ignoring malformed parameter override", "value", kv)
			}
		}
	}
}

func envOrDefault(getenv func(string) string, key, defaultVal string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envParsed returns the parsed value of key, or defaultVal when the variable
// is unset or does not parse.
func envParsed[T any](getenv func(string) string, key string, defaultVal T, parse func(string) (T, error)) T {
	v := getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := parse(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("ignoring malformed environment variable", "key", key, "value", v)
		return defaultVal
	}
	return n
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return 0, fmt.Errorf("not a finite number: %q", v)
	}
	return f, err
}

// Bind attaches the configuration to the provided FlagSet.
func (c *Config) Bind(fs *flag.FlagSet) {
	fs.Int64Var(&c.Seed, "seed", c.Seed, "seed for terrain and fire randomness (0 = random)")
	fs.IntVar(&c.GridSize, "grid", c.GridSize, "terrain grid cells per side")
	fs.Float64Var(&c.Relief, "relief", c.Relief, "amplitude of the noise relief added to the terrain (0 = reference trig surface)")
	fs.IntVar(&c.FPS, "fps", c.FPS, "frame rate of the terrain engine")
	fs.Float64Var(&c.Speed, "speed", c.Speed, "initial time multiplier")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP API port (0 = no API)")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "SQLite ledger path (empty = no ledger)")
	fs.StringVar(&c.AdminKey, "admin-key", c.AdminKey, "bearer token for POST endpoints")
	fs.StringVar(&c.StreamKey, "stream-key", c.StreamKey, "bearer token for the event stream")
	fs.StringVar(&c.PredictionURL, "prediction-url", c.PredictionURL, "base URL of the prediction service")
	fs.StringVar(&c.WeatherKey, "weather-key", c.WeatherKey, "OpenWeatherMap API key")
	fs.StringVar(&c.WeatherLocation, "weather-location", c.WeatherLocation, "OpenWeatherMap location query")
	fs.DurationVar(&c.WeatherRefresh, "weather-refresh", c.WeatherRefresh, "live weather refresh interval")
	fs.StringVar(&c.NATSURL, "nats-url", c.NATSURL, "NATS server to publish events to")
	fs.StringVar(&c.NATSPrefix, "nats-prefix", c.NATSPrefix, "NATS subject prefix")
	fs.StringVar(&c.Temperature, "temperature", c.Temperature, "initial temperature in °C")
	fs.StringVar(&c.Humidity, "humidity", c.Humidity, "initial relative humidity in %")
	fs.StringVar(&c.WindSpeed, "wind-speed", c.WindSpeed, "initial wind speed in km/h")
	fs.StringVar(&c.WindDirection, "wind-direction", c.WindDirection, "initial wind direction (N, NE, ... NW)")
	fs.BoolVar(&c.TUI, "tui", c.TUI, "show the terminal burn-map viewer")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
	fs.Var(&c.Overrides, "param", "fire parameter override in key=value form (repeatable)")
}

// Validate checks ranges and that every parameter override is known.
func (c *Config) Validate() error {
	var errs []error
	if c.GridSize < 8 || c.GridSize > 1000 {
		errs = append(errs, fmt.Errorf("grid must be 8-1000, got %d", c.GridSize))
	}
	if c.FPS < 1 || c.FPS > 240 {
		errs = append(errs, fmt.Errorf("fps must be 1-240, got %d", c.FPS))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if !(c.Speed >= engine.MinSpeed && c.Speed <= engine.MaxSpeed) {
		errs = append(errs, fmt.Errorf("speed must be %g-%g, got %g", float64(engine.MinSpeed), float64(engine.MaxSpeed), c.Speed))
	}
	if c.Relief < 0 {
		errs = append(errs, fmt.Errorf("relief must not be negative"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Params(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Params returns the fire parameters with overrides applied.
func (c *Config) Params() (fire.Params, error) {
	return fire.ParamsFromMap(fire.DefaultParams(), c.Overrides)
}

// Terrain returns the terrain generator configuration.
func (c *Config) Terrain() terrain.Config {
	t := terrain.DefaultConfig()
	t.Width, t.Height = c.GridSize, c.GridSize
	t.Seed = c.Seed
	t.Relief = c.Relief
	return t
}

// Environment returns the configured initial environment.
func (c *Config) Environment() env.Fields {
	return env.Fields{
		env.KeyTemperature:   c.Temperature,
		env.KeyHumidity:      c.Humidity,
		env.KeyWindSpeed:     c.WindSpeed,
		env.KeyWindDirection: c.WindDirection,
	}
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}

// KeyValues collects repeated key=value flags.
type KeyValues map[string]string

func (kv KeyValues) String() string {
	parts := make([]string, 0, len(kv))
	for k, v := range kv {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

// Set parses one key=value pair.
func (kv KeyValues) Set(value string) error {
	k, v, ok := strings.Cut(value, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	kv[k] = strings.TrimSpace(v)
	return nil
}
