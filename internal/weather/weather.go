// Package weather provides a live environment feed backed by OpenWeatherMap.
// Readings are cached and refreshed in the background; whenever the feed is
// unavailable the reader falls back to a base env.Reader.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/talgya/firesim/internal/env"
)

const defaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// Client fetches weather data from OpenWeatherMap.
type Client struct {
	apiKey   string
	location string
	baseURL  string
	client   *http.Client

	mu          sync.Mutex
	cached      *Conditions
	cachedAt    time.Time
	cacheTTL    time.Duration
	lastFailAt  time.Time
	failBackoff time.Duration
}

// NewClient creates a weather API client. Returns nil if apiKey is empty.
func NewClient(apiKey, location string) *Client {
	if apiKey == "" {
		return nil
	}
	if location == "" {
		location = "Dehradun,IN"
	}
	return &Client{
		apiKey:   apiKey,
		location: location,
		baseURL:  defaultBaseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		cacheTTL: 5 * time.Minute,
	}
}

// WithBaseURL points the client at another endpoint (used by tests and proxies).
func (c *Client) WithBaseURL(u string) *Client {
	if c != nil && u != "" {
		c.baseURL = u
	}
	return c
}

// Conditions holds parsed weather data from the API.
type Conditions struct {
	Temp        float64 `json:"temp"`       // Celsius
	Humidity    float64 `json:"humidity"`   // percent
	WindSpeed   float64 `json:"wind_speed"` // km/h
	WindDegrees float64 `json:"wind_deg"`
	Description string  `json:"description"`
}

// Fetch retrieves current weather conditions, using cache if fresh.
func (c *Client) Fetch(ctx context.Context) (*Conditions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.cachedAt) < c.cacheTTL {
		return c.cached, nil
	}

	// Backoff on repeated failures (up to 10 minutes).
	if c.failBackoff > 0 && time.Since(c.lastFailAt) < c.failBackoff {
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, fmt.Errorf("weather API backoff (%s remaining)", c.failBackoff-time.Since(c.lastFailAt))
	}

	conditions, err := c.fetchFromAPI(ctx)
	if err != nil {
		c.lastFailAt = time.Now()
		if c.failBackoff == 0 {
			c.failBackoff = 1 * time.Minute
		} else if c.failBackoff < 10*time.Minute {
			c.failBackoff *= 2
		}
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, err
	}

	c.cached = conditions
	c.cachedAt = time.Now()
	c.failBackoff = 0 // Reset backoff on success.
	return conditions, nil
}

// Latest returns the most recent successful reading without touching the network.
func (c *Client) Latest() *Conditions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached
}

func (c *Client) fetchFromAPI(ctx context.Context) (*Conditions, error) {
	apiURL := fmt.Sprintf("%s?q=%s&appid=%s&units=metric",
		c.baseURL, url.QueryEscape(c.location), c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create weather request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather API call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read weather response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API error %d: %s", resp.StatusCode, string(body))
	}

	// Parse OpenWeatherMap response.
	var owm struct {
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   float64 `json:"deg"`
		} `json:"wind"`
	}

	if err := json.Unmarshal(body, &owm); err != nil {
		return nil, fmt.Errorf("parse weather: %w", err)
	}

	conditions := &Conditions{
		Temp:        owm.Main.Temp,
		Humidity:    owm.Main.Humidity,
		WindSpeed:   owm.Wind.Speed * 3.6, // m/s -> km/h
		WindDegrees: owm.Wind.Deg,
	}
	if len(owm.Weather) > 0 {
		conditions.Description = owm.Weather[0].Description
	}

	slog.Debug("weather fetched", "temp", conditions.Temp, "humidity", conditions.Humidity, "wind_kmh", conditions.WindSpeed)
	return conditions, nil
}

// ToState converts conditions into an environment reading.
// A nil Conditions maps to the defaults.
func ToState(c *Conditions) env.State {
	if c == nil {
		return env.Default()
	}
	return env.State{
		Temperature:   c.Temp,
		Humidity:      c.Humidity,
		WindSpeed:     c.WindSpeed,
		WindDirection: env.FromDegrees(c.WindDegrees),
	}.Sanitize()
}

// Reader is an env.Reader over the live feed. Read never blocks on the
// network: it serves the last good reading, or the base reader before the
// first success.
type Reader struct {
	client *Client
	base   env.Reader
}

// NewReader wraps client. A nil client makes the reader a pass-through to base.
func NewReader(client *Client, base env.Reader) *Reader {
	if base == nil {
		base = env.Static(env.Default())
	}
	return &Reader{client: client, base: base}
}

// Read returns the live reading or the base reading.
func (r *Reader) Read() env.State {
	if r.client == nil {
		return r.base.Read()
	}
	if c := r.client.Latest(); c != nil {
		return ToState(c)
	}
	return r.base.Read()
}

// Refresh performs one fetch, logging failures.
func (r *Reader) Refresh(ctx context.Context) {
	if r.client == nil {
		return
	}
	if _, err := r.client.Fetch(ctx); err != nil {
		slog.Warn("weather unavailable, using fallback readings", "error", err)
	}
}

// Run refreshes the feed every interval until ctx is cancelled.
func (r *Reader) Run(ctx context.Context, interval time.Duration) {
	if r.client == nil {
		return
	}
	if interval <= 0 {
		interval = r.client.cacheTTL
	}
	r.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}
