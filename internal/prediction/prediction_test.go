package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/talgya/firesim/internal/entropy"
	"github.com/talgya/firesim/internal/env"
)

func TestServerErrorFallsBack(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var notices []string
	c := NewClient(srv.URL, entropy.Constant(0))
	c.OnFallback = func(reason string) { notices = append(notices, reason) }

	req := RequestFrom(env.State{Temperature: 40, Humidity: 0, WindSpeed: 30, WindDirection: env.North})
	p := c.Predict(context.Background(), req)
	if p == nil {
		t.Fatal("prediction must never be nil")
	}
	if p.Source != SourceFallback {
		t.Fatalf("source = %q, want fallback", p.Source)
	}
	if p.EnsembleRiskScore != 1 || p.ML.RiskCategory != "high" || p.ConfidenceInterval.UpperBound != 1 {
		t.Fatalf("fallback prediction = %+v", p)
	}
	if len(notices) != 1 {
		t.Fatalf("%d notices, want 1", len(notices))
	}

	// Inside the backoff window the service is not contacted again.
	c.Predict(context.Background(), req)
	if calls.Load() != 1 {
		t.Fatalf("service called %d times during backoff", calls.Load())
	}
	if len(notices) != 1 {
		t.Fatal("backoff failures should not repeat the notice")
	}
}

func TestMalformedAndUnsuccessfulBodiesFallBack(t *testing.T) {
	for _, body := range []string{`not json`, `{"success":false,"error":"x"}`, `{"success":true}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		p := NewClient(srv.URL, entropy.Constant(0.5)).Predict(context.Background(), RequestFrom(env.Default()))
		srv.Close()
		if p == nil || p.Source != SourceFallback {
			t.Fatalf("body %q: got %+v, want fallback", body, p)
		}
	}
}

func TestRemotePrediction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ml/predict" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["wind_direction"] != "SW" || req["wind_speed"] != 12.0 {
			t.Errorf("request = %v", req)
		}
		fmt.Fprint(w, `{"success":true,"predictions":{"ensemble_risk_score":0.42,
			"ml_prediction":{"overall_risk":0.42,"confidence":0.9,"risk_category":"moderate"},
			"confidence_interval":{"confidence_level":0.9,"lower_bound":0.3,"upper_bound":0.5}}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil)
	p := c.Predict(context.Background(), RequestFrom(env.State{Temperature: 30, Humidity: 50, WindSpeed: 12, WindDirection: env.SouthWest}))
	if p.Source != SourceRemote || p.EnsembleRiskScore != 0.42 || p.ML.RiskCategory != "moderate" {
		t.Fatalf("remote prediction = %+v", p)
	}
}

func TestSimulateFallbackShape(t *testing.T) {
	var c *Client
	s := c.Simulate(context.Background(), Request{Lat: 30, Lng: 79})
	if s.Source != SourceFallback || len(s.Progression) != DefaultDuration {
		t.Fatalf("simulation = %+v", s)
	}
	last := s.Progression[DefaultDuration-1]
	if math.Abs(last.BurnedArea-math.Pow(6, 1.5)*2) > 1e-9 || math.Abs(last.SpreadRate-4.8) > 1e-9 {
		t.Fatalf("last step = %+v", last)
	}
	for _, st := range s.Progression {
		if math.Abs(st.Coordinates.Lat-30) > 0.005 || math.Abs(st.Coordinates.Lng-79) > 0.005 {
			t.Fatalf("coordinates drifted too far: %+v", st.Coordinates)
		}
	}
}

func TestRemoteSimulation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		if req.Duration != DefaultDuration || req.Lat != 30.1 {
			t.Errorf("request = %+v", req)
		}
		fmt.Fprint(w, `{"success":true,"simulation":{"fire_progression":[{"hour":0,"burned_area_hectares":12}]}}`)
	}))
	defer srv.Close()

	s := NewClient(srv.URL, nil).Simulate(context.Background(), Request{Lat: 30.1, Lng: 79.2})
	if s.Source != SourceRemote || len(s.Progression) != 1 || s.Progression[0].BurnedArea != 12 {
		t.Fatalf("remote simulation = %+v", s)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"status":"healthy"}`)
	}))
	defer srv.Close()

	if !NewClient(srv.URL, nil).Health(context.Background()) {
		t.Fatal("healthy service reported down")
	}
	var c *Client
	if c.Health(context.Background()) {
		t.Fatal("disabled client reported healthy")
	}
}

func TestRiskCategory(t *testing.T) {
	for risk, want := range map[float64]string{0.1: "low", 0.4: "low", 0.41: "moderate", 0.7: "moderate", 0.71: "high"} {
		if got := RiskCategory(risk); got != want {
			t.Fatalf("RiskCategory(%v) = %q, want %q", risk, got, want)
		}
	}
}
