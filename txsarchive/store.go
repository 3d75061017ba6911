// Package txsarchive persists harvested traces to a SQLite database, so the
// slowest trace of every harvest cycle survives process restarts.
package txsarchive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/peterbourgon/txsample"

	_ "github.com/glebarez/go-sqlite" // registers the "sqlite" driver
)

// ErrNotFound is returned by Get when no record has the given ID.
var ErrNotFound = errors.New("trace not found")

// Record is a single archived trace.
type Record struct {
	ID           string          `json:"id"`
	Start        time.Time       `json:"start"`
	Duration     time.Duration   `json:"duration"`
	Path         string          `json:"path,omitempty"`
	URI          string          `json:"uri,omitempty"`
	SegmentCount int             `json:"segment_count"`
	ReportedAt   time.Time       `json:"reported_at"`
	Trace        json.RawMessage `json:"trace,omitempty"`
}

// Store is an archive of traces backed by SQLite. It implements the harvest
// Reporter interface, and is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS traces (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT    NOT NULL UNIQUE,
	start_ns      INTEGER NOT NULL,
	duration_ns   INTEGER NOT NULL,
	path          TEXT    NOT NULL,
	uri           TEXT    NOT NULL,
	segment_count INTEGER NOT NULL,
	reported_ns   INTEGER NOT NULL,
	trace_json    TEXT    NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS traces_duration ON traces (duration_ns)`,
}

// Open the archive at path, creating it if necessary. The special path
// ":memory:" opens a private in-memory archive.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writers anyway, and an in-memory database is private
	// to its connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &Store{
		db:  db,
		now: time.Now,
	}, nil
}

// Report archives the trace. Reporting the same trace twice is a no-op.
func (s *Store) Report(ctx context.Context, tr *txsample.Trace) error {
	buf, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO traces
			(id, start_ns, duration_ns, path, uri, segment_count, reported_ns, trace_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID(),
		tr.StartTime().UnixNano(),
		int64(tr.Duration()),
		tr.Path(),
		tr.RequestURI(),
		tr.SegmentCount(),
		s.now().UnixNano(),
		string(buf),
	); err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}

	return nil
}

// List returns up to limit records, most recently reported first. The trace
// bodies are omitted; use Get for the full trace.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_ns, duration_ns, path, uri, segment_count, reported_ns
		FROM traces
		ORDER BY seq DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}

	return records, nil
}

// Get returns the record with the given trace ID, including the full trace.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, start_ns, duration_ns, path, uri, segment_count, reported_ns, trace_json
		FROM traces
		WHERE id = ?`,
		id,
	)

	var (
		rec   Record
		body  string
		times [3]int64
	)
	switch err := row.Scan(&rec.ID, &times[0], &times[1], &rec.Path, &rec.URI, &rec.SegmentCount, &times[2], &body); {
	case errors.Is(err, sql.ErrNoRows):
		return Record{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	case err != nil:
		return Record{}, fmt.Errorf("scan trace: %w", err)
	}

	rec.Start = time.Unix(0, times[0]).UTC()
	rec.Duration = time.Duration(times[1])
	rec.ReportedAt = time.Unix(0, times[2]).UTC()
	rec.Trace = json.RawMessage(body)
	return rec, nil
}

// Slowest returns the record with the greatest duration, or ErrNotFound if the
// archive is empty.
func (s *Store) Slowest(ctx context.Context) (Record, error) {
	var id string
	switch err := s.db.QueryRowContext(ctx, `SELECT id FROM traces ORDER BY duration_ns DESC, seq ASC LIMIT 1`).Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return Record{}, ErrNotFound
	case err != nil:
		return Record{}, fmt.Errorf("query slowest: %w", err)
	}
	return s.Get(ctx, id)
}

// Close the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec   Record
		times [3]int64
	)
	if err := rows.Scan(&rec.ID, &times[0], &times[1], &rec.Path, &rec.URI, &rec.SegmentCount, &times[2]); err != nil {
		return Record{}, fmt.Errorf("scan trace: %w", err)
	}
	rec.Start = time.Unix(0, times[0]).UTC()
	rec.Duration = time.Duration(times[1])
	rec.ReportedAt = time.Unix(0, times[2]).UTC()
	return rec, nil
}
