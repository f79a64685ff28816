// Package prediction provides the client for the optional remote fire-risk
// service. Every call yields a usable result: when the service is missing,
// slow, failing or returns garbage, the local fallback generator answers instead.
package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/talgya/firesim/internal/entropy"
	"github.com/talgya/firesim/internal/env"
)

// Result sources.
const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

// DefaultDuration is the simulated horizon in hours when a request gives none.
const DefaultDuration = 6

var errUnsuccessful = errors.New("service reported failure")

// Request carries the environment readings sent to the service. Lat, Lng and
// Duration only matter for simulations.
type Request struct {
	Temperature   float64     `json:"temperature"`
	Humidity      float64     `json:"humidity"`
	WindSpeed     float64     `json:"wind_speed"`
	WindDirection env.Compass `json:"wind_direction"`
	Lat           float64     `json:"lat,omitempty"`
	Lng           float64     `json:"lng,omitempty"`
	Duration      int         `json:"duration,omitempty"`
}

// RequestFrom builds a request from an environment reading.
func RequestFrom(e env.State) Request {
	e = e.Sanitize()
	return Request{
		Temperature:   e.Temperature,
		Humidity:      e.Humidity,
		WindSpeed:     e.WindSpeed,
		WindDirection: e.WindDirection,
	}
}

// Client talks to the prediction service. A nil *Client is valid and always
// answers from the fallback generator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	rng        entropy.Source

	// OnFallback, when set, is called with the reason whenever a remote call
	// is replaced by a fallback result.
	OnFallback func(reason string)

	mu          sync.Mutex
	callCount   int
	resetAt     time.Time
	maxPerMin   int
	lastFailAt  time.Time
	failBackoff time.Duration
}

// NewClient creates a client for the service at baseURL.
// Returns nil if baseURL is empty (remote predictions disabled).
func NewClient(baseURL string, rng entropy.Source) *Client {
	if baseURL == "" {
		return nil
	}
	if rng == nil {
		rng = entropy.Crypto{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		rng:        rng,
		maxPerMin:  60,
	}
}

// Enabled reports whether remote calls will be attempted.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Predict returns a risk prediction for the request's conditions.
func (c *Client) Predict(ctx context.Context, req Request) *Prediction {
	if !c.Enabled() {
		return FallbackPrediction(req, entropy.Crypto{})
	}
	var body struct {
		Success     bool        `json:"success"`
		Predictions *Prediction `json:"predictions"`
	}
	err := c.call(ctx, http.MethodPost, "/api/ml/predict", req, &body)
	if err == nil && (!body.Success || body.Predictions == nil) {
		err = errUnsuccessful
	}
	if err != nil {
		c.fail("predict", err)
		return FallbackPrediction(req, c.source())
	}
	body.Predictions.Source = SourceRemote
	return body.Predictions
}

// Simulate returns an hourly fire progression starting at req.Lat, req.Lng.
func (c *Client) Simulate(ctx context.Context, req Request) *Simulation {
	if req.Duration <= 0 {
		req.Duration = DefaultDuration
	}
	if !c.Enabled() {
		return FallbackSimulation(req, entropy.Crypto{})
	}
	var body struct {
		Success    bool        `json:"success"`
		Simulation *Simulation `json:"simulation"`
	}
	err := c.call(ctx, http.MethodPost, "/api/ml/simulate", req, &body)
	if err == nil && (!body.Success || body.Simulation == nil || len(body.Simulation.Progression) == 0) {
		err = errUnsuccessful
	}
	if err != nil {
		c.fail("simulate", err)
		return FallbackSimulation(req, c.source())
	}
	body.Simulation.Source = SourceRemote
	return body.Simulation
}

// Health reports whether the service answers its health probe. It never
// triggers a fallback notice.
func (c *Client) Health(ctx context.Context) bool {
	if !c.Enabled() {
		return false
	}
	var body struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/ml/health", nil, &body); err != nil {
		slog.Debug("prediction health probe failed", "error", err)
		return false
	}
	return body.Success && body.Status == "healthy"
}

func (c *Client) source() entropy.Source {
	return lockedSource{mu: &c.mu, src: c.rng}
}

// call performs one JSON round trip, honouring the call budget and the
// failure backoff.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	c.mu.Lock()
	now := time.Now()
	if c.failBackoff > 0 && now.Sub(c.lastFailAt) < c.failBackoff {
		c.mu.Unlock()
		return fmt.Errorf("backing off until %s", c.lastFailAt.Add(c.failBackoff).Format(time.TimeOnly))
	}
	if now.After(c.resetAt) {
		c.callCount = 0
		c.resetAt = now.Add(time.Minute)
	}
	if c.callCount >= c.maxPerMin {
		c.mu.Unlock()
		return fmt.Errorf("rate limit exceeded (%d calls/min)", c.maxPerMin)
	}
	c.callCount++
	c.mu.Unlock()

	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	c.mu.Lock()
	c.failBackoff = 0
	c.mu.Unlock()
	return nil
}

// fail records a failed call, extends the backoff (1 minute doubling up to
// 10 minutes) and raises the fallback notice.
func (c *Client) fail(op string, err error) {
	c.mu.Lock()
	if c.failBackoff > 0 && time.Since(c.lastFailAt) < c.failBackoff {
		// Already backing off; the notice was raised by the first failure.
		c.mu.Unlock()
		return
	}
	c.lastFailAt = time.Now()
	if c.failBackoff == 0 {
		c.failBackoff = time.Minute
	} else {
		c.failBackoff = min(c.failBackoff*2, 10*time.Minute)
	}
	backoff := c.failBackoff
	c.mu.Unlock()

	slog.Warn("prediction service unavailable, using local fallback",
		"op", op, "error", err, "retry_in", backoff)
	if c.OnFallback != nil {
		c.OnFallback(fmt.Sprintf("Using local %s (prediction service unavailable)", op))
	}
}

// lockedSource serialises draws from a shared generator.
type lockedSource struct {
	mu  *sync.Mutex
	src entropy.Source
}

func (l lockedSource) Float() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Float()
}
