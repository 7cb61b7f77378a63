// Package journal persists send outcomes to a local sqlite database so link
// behavior on the water can be analyzed after the race.
package journal

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/tidemark-data/regatta.report/internal/telemetry"
)

//go:embed migrations
var migrationsFS embed.FS

// DB wraps the sqlite journal database.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the journal at path and applies pending
// migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	j := &DB{db}
	if err := j.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (db *DB) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Not closing m: that would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// RecordOutcome appends one send outcome.
func (db *DB) RecordOutcome(o telemetry.Outcome) error {
	_, err := db.Exec(
		`INSERT INTO send_outcomes (seq, transport, attempts, acked, rtt_ms, ts_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.Seq, o.Transport, o.Attempts, o.Acked,
		float64(o.RTT)/float64(time.Millisecond), o.Time.UnixMilli(),
	)
	return err
}

// RecentOutcomes returns up to limit outcomes, newest first.
func (db *DB) RecentOutcomes(limit int) ([]telemetry.Outcome, error) {
	rows, err := db.Query(
		`SELECT seq, transport, attempts, acked, rtt_ms, ts_ms
		 FROM send_outcomes ORDER BY ts_ms DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.Outcome
	for rows.Next() {
		var o telemetry.Outcome
		var rttMs float64
		var tsMs int64
		if err := rows.Scan(&o.Seq, &o.Transport, &o.Attempts, &o.Acked, &rttMs, &tsMs); err != nil {
			return nil, err
		}
		o.RTT = time.Duration(rttMs * float64(time.Millisecond))
		o.Time = time.UnixMilli(tsMs).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

// Summary aggregates the journal for reporting.
type Summary struct {
	Total     int
	Acked     int
	ViaHTTP   int
	AvgRTTMs  float64
	FirstSeen time.Time
	LastSeen  time.Time
}

// Summarize computes aggregate stats over the whole journal.
func (db *DB) Summarize() (Summary, error) {
	var s Summary
	var avg sql.NullFloat64
	var first, last sql.NullInt64
	err := db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN acked THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN transport = 'http' THEN 1 ELSE 0 END), 0),
		        AVG(CASE WHEN acked THEN rtt_ms END),
		        MIN(ts_ms), MAX(ts_ms)
		 FROM send_outcomes`).Scan(&s.Total, &s.Acked, &s.ViaHTTP, &avg, &first, &last)
	if err != nil {
		return Summary{}, err
	}
	if avg.Valid {
		s.AvgRTTMs = avg.Float64
	}
	if first.Valid {
		s.FirstSeen = time.UnixMilli(first.Int64).UTC()
	}
	if last.Valid {
		s.LastSeen = time.UnixMilli(last.Int64).UTC()
	}
	return s, nil
}
