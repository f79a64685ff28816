// Package persistence provides the SQLite statistics ledger: one row per run,
// the statistics samples it produced, the burned-area records left by
// extinguished sources and a log of fire events. The ledger is write-mostly;
// a run is never restored from it.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/firesim/internal/fire"
	"github.com/talgya/firesim/internal/stats"
)

// DB wraps a SQLite connection for the ledger.
type DB struct {
	conn  *sqlx.DB
	runID string
}

// Open opens or creates a SQLite database at the given path.
// ":memory:" gives a private in-memory ledger.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite has a single writer, and every in-memory connection would be a
	// separate database.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		seed INTEGER NOT NULL,
		params_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stats_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		engine TEXT NOT NULL,
		tick INTEGER NOT NULL,
		sim_hours REAL NOT NULL,
		burned_area REAL NOT NULL,
		perimeter REAL NOT NULL,
		spread_rate REAL NOT NULL,
		active_sources INTEGER NOT NULL,
		burned_records INTEGER NOT NULL,
		villages_at_risk INTEGER NOT NULL,
		infrastructure TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS burned_areas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		source_id INTEGER NOT NULL,
		x REAL NOT NULL,
		z REAL NOT NULL,
		radius REAL NOT NULL,
		burn_time REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		engine TEXT NOT NULL,
		kind TEXT NOT NULL,
		tick INTEGER NOT NULL,
		source_id INTEGER,
		message TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS ledger_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stats_run ON stats_history(run_id, engine);
	CREATE INDEX IF NOT EXISTS idx_burned_run ON burned_areas(run_id);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run describes one simulation run.
type Run struct {
	ID         string `db:"id" json:"id"`
	StartedAt  string `db:"started_at" json:"started_at"`
	Seed       int64  `db:"seed" json:"seed"`
	ParamsJSON string `db:"params_json" json:"params"`
}

// StartRun records a new run and makes it current. Later writes belong to it.
func (db *DB) StartRun(seed int64, p fire.Params) (string, error) {
	paramsJSON, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	id := uuid.NewString()
	_, err = db.conn.Exec(
		"INSERT INTO runs (id, started_at, seed, params_json) VALUES (?, ?, ?, ?)",
		id, time.Now().UTC().Format(time.RFC3339), seed, string(paramsJSON),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	if err := db.SaveMeta("last_run", id); err != nil {
		return "", fmt.Errorf("save meta: %w", err)
	}
	db.runID = id
	slog.Info("ledger run started", "run", id, "seed", seed)
	return id, nil
}

// RunID returns the current run, or "" before StartRun.
func (db *DB) RunID() string { return db.runID }

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(limit int) ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs,
		"SELECT id, started_at, seed, params_json FROM runs ORDER BY rowid DESC LIMIT ?",
		limit,
	)
	return runs, err
}

type statsRow struct {
	Engine         string  `db:"engine"`
	Tick           uint64  `db:"tick"`
	SimHours       float64 `db:"sim_hours"`
	BurnedArea     float64 `db:"burned_area"`
	Perimeter      float64 `db:"perimeter"`
	SpreadRate     float64 `db:"spread_rate"`
	ActiveSources  int     `db:"active_sources"`
	BurnedRecords  int     `db:"burned_records"`
	VillagesAtRisk int     `db:"villages_at_risk"`
	Infrastructure string  `db:"infrastructure"`
}

// SaveStats appends a statistics sample to the current run.
func (db *DB) SaveStats(r stats.Record) error {
	_, err := db.conn.Exec(`INSERT INTO stats_history
		(run_id, engine, tick, sim_hours, burned_area, perimeter, spread_rate,
		 active_sources, burned_records, villages_at_risk, infrastructure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		db.runID, string(r.Engine), r.Tick, r.SimHours, r.BurnedArea, r.Perimeter,
		r.SpreadRate, r.ActiveSources, r.BurnedRecords, r.VillagesAtRisk, r.Infrastructure,
	)
	if err != nil {
		return fmt.Errorf("insert stats: %w", err)
	}
	return nil
}

// RecordStats stores a sample, logging instead of failing.
func (db *DB) RecordStats(r stats.Record) {
	if err := db.SaveStats(r); err != nil {
		slog.Warn("ledger write failed", "error", err)
	}
}

// RecentStats returns up to limit samples of one engine in the current run,
// oldest first.
func (db *DB) RecentStats(engine fire.EngineKind, limit int) ([]stats.Record, error) {
	var rows []statsRow
	err := db.conn.Select(&rows, `SELECT engine, tick, sim_hours, burned_area, perimeter,
		spread_rate, active_sources, burned_records, villages_at_risk, infrastructure
		FROM (SELECT * FROM stats_history WHERE run_id = ? AND engine = ? ORDER BY id DESC LIMIT ?)
		ORDER BY id ASC`,
		db.runID, string(engine), limit,
	)
	if err != nil {
		return nil, err
	}
	out := make([]stats.Record, len(rows))
	for i, r := range rows {
		out[i] = stats.Record{
			Engine:         fire.EngineKind(r.Engine),
			Tick:           r.Tick,
			SimHours:       r.SimHours,
			BurnedArea:     r.BurnedArea,
			Perimeter:      r.Perimeter,
			SpreadRate:     r.SpreadRate,
			ActiveSources:  r.ActiveSources,
			BurnedRecords:  r.BurnedRecords,
			VillagesAtRisk: r.VillagesAtRisk,
			Infrastructure: r.Infrastructure,
		}
	}
	return out, nil
}

// SaveEvents appends fire events to the current run. Extinguish events also
// archive their burned-area record.
func (db *DB) SaveEvents(events []fire.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		var sourceID *uint64
		if e.Source != nil {
			sourceID = &e.Source.ID
		}
		_, err := tx.Exec(
			"INSERT INTO events (run_id, engine, kind, tick, source_id, message) VALUES (?, ?, ?, ?, ?, ?)",
			db.runID, string(e.Engine), string(e.Kind), e.Tick, sourceID, e.Message,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if b := e.Burned; b != nil {
			_, err := tx.Exec(
				"INSERT INTO burned_areas (run_id, source_id, x, z, radius, burn_time) VALUES (?, ?, ?, ?, ?, ?)",
				db.runID, b.SourceID, b.Position.X(), b.Position.Z(), b.Radius, b.BurnTime,
			)
			if err != nil {
				return fmt.Errorf("insert burned area %d: %w", b.SourceID, err)
			}
		}
	}

	return tx.Commit()
}

// RecordEvent is an event-bus handler that stores one event.
func (db *DB) RecordEvent(ev fire.Event) {
	if err := db.SaveEvents([]fire.Event{ev}); err != nil {
		slog.Warn("ledger write failed", "kind", ev.Kind, "error", err)
	}
}

// EventRow is a stored event.
type EventRow struct {
	Engine   string  `db:"engine" json:"engine"`
	Kind     string  `db:"kind" json:"kind"`
	Tick     uint64  `db:"tick" json:"tick"`
	SourceID *uint64 `db:"source_id" json:"source_id,omitempty"`
	Message  string  `db:"message" json:"message,omitempty"`
}

// RecentEvents returns the most recent N events of the current run.
func (db *DB) RecentEvents(limit int) ([]EventRow, error) {
	var events []EventRow
	err := db.conn.Select(&events,
		"SELECT engine, kind, tick, source_id, message FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?",
		db.runID, limit,
	)
	return events, err
}

type burnedRow struct {
	SourceID uint64  `db:"source_id"`
	X        float64 `db:"x"`
	Z        float64 `db:"z"`
	Radius   float64 `db:"radius"`
	BurnTime float64 `db:"burn_time"`
}

// BurnedAreas returns the archived burned-area records of the current run.
func (db *DB) BurnedAreas() ([]fire.BurnedArea, error) {
	var rows []burnedRow
	err := db.conn.Select(&rows,
		"SELECT source_id, x, z, radius, burn_time FROM burned_areas WHERE run_id = ? ORDER BY id",
		db.runID,
	)
	if err != nil {
		return nil, err
	}
	out := make([]fire.BurnedArea, len(rows))
	for i, r := range rows {
		out[i] = fire.BurnedArea{SourceID: r.SourceID, Radius: r.Radius, BurnTime: r.BurnTime}
		out[i].Position[0], out[i].Position[2] = r.X, r.Z
	}
	return out, nil
}

// SaveMeta stores a key-value pair in ledger metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO ledger_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM ledger_meta WHERE key = ?", key)
	return value, err
}
