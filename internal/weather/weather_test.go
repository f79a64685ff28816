package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/talgya/firesim/internal/env"
)

func TestNewClientDisabledWithoutKey(t *testing.T) {
	if NewClient("", "x") != nil {
		t.Fatal("client without key should be nil")
	}
	r := NewReader(nil, env.Static(env.State{Temperature: 20, Humidity: 30, WindSpeed: 5, WindDirection: env.South}))
	if got := r.Read(); got.Temperature != 20 || got.WindDirection != env.South {
		t.Fatalf("nil client should pass through base, got %+v", got)
	}
	r.Refresh(context.Background())
}

func TestReaderUsesLiveConditions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != "key" {
			t.Errorf("missing api key in %s", r.URL)
		}
		fmt.Fprint(w, `{"main":{"temp":38.5,"humidity":20},"weather":[{"description":"haze"}],"wind":{"speed":5,"deg":92}}`)
	}))
	defer srv.Close()

	r := NewReader(NewClient("key", "Dehradun,IN").WithBaseURL(srv.URL), nil)
	if got := r.Read(); got != env.Default() {
		t.Fatalf("before first fetch reader should use base, got %+v", got)
	}
	r.Refresh(context.Background())

	got := r.Read()
	if got.Temperature != 38.5 || got.Humidity != 20 {
		t.Fatalf("live reading = %+v", got)
	}
	if got.WindSpeed != 18 {
		t.Fatalf("wind speed = %v km/h, want 18", got.WindSpeed)
	}
	if got.WindDirection != env.East {
		t.Fatalf("wind direction = %s, want E", got.WindDirection)
	}
}

func TestFetchBacksOffAfterFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("key", "").WithBaseURL(srv.URL)
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatal("expected error from failing API")
	}
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatal("expected backoff error")
	}
	if calls.Load() != 1 {
		t.Fatalf("backoff should suppress the second call, got %d calls", calls.Load())
	}

	r := NewReader(c, nil)
	if got := r.Read(); got != env.Default() {
		t.Fatalf("failed feed should fall back to defaults, got %+v", got)
	}
}
