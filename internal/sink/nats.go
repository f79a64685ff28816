// Package sink publishes fire events and statistics samples to NATS so other
// processes can follow a run.
package sink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/talgya/firesim/internal/fire"
	"github.com/talgya/firesim/internal/stats"
)

// DefaultPrefix is the subject root.
const DefaultPrefix = "firesim"

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Sink publishes to "<prefix>.events.<kind>" and "<prefix>.stats.<engine>".
// A nil *Sink discards everything.
type Sink struct {
	pub    Publisher
	prefix string
	conn   *nats.Conn
	failed atomic.Int64
}

// New wraps an existing publisher.
func New(pub Publisher, prefix string) *Sink {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sink{pub: pub, prefix: prefix}
}

// Connect dials the NATS server at url. Returns nil, nil if url is empty
// (publishing disabled).
func Connect(url, prefix string) (*Sink, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("firesim"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	s := New(nc, prefix)
	s.conn = nc
	slog.Info("nats publisher connected", "url", nc.ConnectedUrl(), "prefix", s.prefix)
	return s, nil
}

// HandleEvent publishes one fire event. It fits engine.Handler.
func (s *Sink) HandleEvent(ev fire.Event) {
	if s == nil {
		return
	}
	s.publish(fmt.Sprintf("%s.events.%s", s.prefix, ev.Kind), ev)
}

// RecordStats publishes one statistics sample. It fits engine.StatsSink.
func (s *Sink) RecordStats(r stats.Record) {
	if s == nil {
		return
	}
	s.publish(fmt.Sprintf("%s.stats.%s", s.prefix, r.Engine), r)
}

// Failed returns how many publishes failed.
func (s *Sink) Failed() int64 {
	if s == nil {
		return 0
	}
	return s.failed.Load()
}

func (s *Sink) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.fail(subject, err)
		return
	}
	if err := s.pub.Publish(subject, data); err != nil {
		s.fail(subject, err)
	}
}

// fail logs the first failure and every hundredth after it.
func (s *Sink) fail(subject string, err error) {
	if n := s.failed.Add(1); n == 1 || n%100 == 0 {
		slog.Warn("nats publish failed", "subject", subject, "failures", n, "error", err)
	}
}

// Close flushes pending messages and closes the connection.
func (s *Sink) Close() {
	if s == nil || s.conn == nil {
		return
	}
	if err := s.conn.Drain(); err != nil {
		slog.Warn("nats drain failed", "error", err)
		s.conn.Close()
	}
}
