// Package env provides the environmental readings the fire core samples every
// tick: air temperature, relative humidity and wind. The core only reads these
// values; whatever owns them (sliders, config, a live weather feed) writes them.
package env

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Default readings used whenever a value is missing.
const (
	DefaultTemperature = 32.0
	DefaultHumidity    = 45.0
	DefaultWindSpeed   = 15.0
)

// Compass is one of the eight wind directions.
type Compass uint8

const (
	North Compass = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

// DefaultWindDirection is used when no direction is supplied.
const DefaultWindDirection = NorthEast

var compassNames = [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// String returns the abbreviated compass name ("N", "NE", ...).
func (c Compass) String() string {
	if int(c) < len(compassNames) {
		return compassNames[c]
	}
	return "?"
}

// Degrees returns the bearing in degrees clockwise from north.
func (c Compass) Degrees() float64 {
	return float64(c%8) * 45
}

// Angle returns the bearing in radians.
func (c Compass) Angle() float64 {
	return c.Degrees() * math.Pi / 180
}

// ParseCompass accepts abbreviations ("ne") and full names ("north-east",
// "northeast"). Unknown input yields false.
func ParseCompass(s string) (Compass, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "", " ", "", "_", "").Replace(s)
	switch s {
	case "N", "NORTH":
		return North, true
	case "NE", "NORTHEAST":
		return NorthEast, true
	case "E", "EAST":
		return East, true
	case "SE", "SOUTHEAST":
		return SouthEast, true
	case "S", "SOUTH":
		return South, true
	case "SW", "SOUTHWEST":
		return SouthWest, true
	case "W", "WEST":
		return West, true
	case "NW", "NORTHWEST":
		return NorthWest, true
	}
	return DefaultWindDirection, false
}

// FromDegrees snaps a meteorological bearing to the nearest compass point.
func FromDegrees(deg float64) Compass {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return DefaultWindDirection
	}
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return Compass(int(math.Round(deg/45)) % 8)
}

// MarshalJSON encodes the compass as its abbreviation.
func (c Compass) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes an abbreviation or full name.
func (c *Compass) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("compass: %w", err)
	}
	v, ok := ParseCompass(s)
	if !ok {
		return fmt.Errorf("compass: unknown direction %q", s)
	}
	*c = v
	return nil
}

// State is a single environmental reading.
type State struct {
	Temperature   float64 `json:"temperature"` // Celsius
	Humidity      float64 `json:"humidity"`    // percent
	WindSpeed     float64 `json:"wind_speed"`  // km/h
	WindDirection Compass `json:"wind_direction"`
}

// Default returns the documented fallback reading.
func Default() State {
	return State{
		Temperature:   DefaultTemperature,
		Humidity:      DefaultHumidity,
		WindSpeed:     DefaultWindSpeed,
		WindDirection: DefaultWindDirection,
	}
}

// Sanitize replaces non-finite values with defaults and clamps humidity to
// [0,100] and wind speed to be non-negative.
func (s State) Sanitize() State {
	d := Default()
	if !finite(s.Temperature) {
		s.Temperature = d.Temperature
	}
	if !finite(s.Humidity) {
		s.Humidity = d.Humidity
	}
	s.Humidity = math.Max(0, math.Min(100, s.Humidity))
	if !finite(s.WindSpeed) || s.WindSpeed < 0 {
		s.WindSpeed = d.WindSpeed
	}
	if s.WindDirection > NorthWest {
		s.WindDirection = d.WindDirection
	}
	return s
}

// WindVector returns the horizontal unit vector the wind blows toward, as
// (x, z) with north pointing along -z.
func (s State) WindVector() (x, z float64) {
	a := s.WindDirection.Angle()
	return math.Sin(a), -math.Cos(a)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Reader supplies the current environmental state. Implementations never fail:
// missing values come back as defaults.
type Reader interface {
	Read() State
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func() State

// Read calls f.
func (f ReaderFunc) Read() State { return f() }

// Static always returns the same state.
type Static State

// Read returns the stored state, sanitized.
func (s Static) Read() State { return State(s).Sanitize() }

// Field keys understood by Fields.
const (
	KeyTemperature   = "temperature"
	KeyHumidity      = "humidity"
	KeyWindSpeed     = "wind-speed"
	KeyWindDirection = "wind-direction"
)

// Fields reads environment values from a string map, the way form inputs
// arrive. Numbers are parsed as integers; missing or malformed entries fall
// back to the defaults.
type Fields map[string]string

// Read parses the map into a State.
func (f Fields) Read() State {
	st := Default()
	st.Temperature = f.intOr(KeyTemperature, st.Temperature)
	st.Humidity = f.intOr(KeyHumidity, st.Humidity)
	st.WindSpeed = f.intOr(KeyWindSpeed, st.WindSpeed)
	if v, ok := f[KeyWindDirection]; ok {
		if c, ok := ParseCompass(v); ok {
			st.WindDirection = c
		}
	}
	return st.Sanitize()
}

func (f Fields) intOr(key string, def float64) float64 {
	v, ok := f[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return float64(n)
}
