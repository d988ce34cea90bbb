package netlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dshills/loadwire/internal/timeticks"
	"github.com/dshills/loadwire/internal/wire"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS requests (
    id                  TEXT PRIMARY KEY,
    url                 TEXT NOT NULL,
    method              TEXT NOT NULL DEFAULT '',
    mime_type           TEXT NOT NULL DEFAULT '',
    resource_type       INTEGER NOT NULL DEFAULT 0,
    status_code         INTEGER NOT NULL DEFAULT 0,
    error_code          INTEGER NOT NULL DEFAULT 0,
    redirects           INTEGER NOT NULL DEFAULT 0,
    received_bytes      INTEGER NOT NULL DEFAULT 0,
    transfer_size       INTEGER NOT NULL DEFAULT 0,
    encoded_data_length INTEGER NOT NULL DEFAULT 0,
    encoded_body_length INTEGER NOT NULL DEFAULT 0,
    decoded_body_length INTEGER NOT NULL DEFAULT 0,
    exists_in_cache     INTEGER NOT NULL DEFAULT 0,
    request_start       INTEGER NOT NULL DEFAULT 0,
    response_start      INTEGER NOT NULL DEFAULT 0,
    completion_time     INTEGER NOT NULL DEFAULT 0,
    started_at          TEXT NOT NULL,
    finished_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_finished ON requests(finished_at);
`

const insertSQL = `
INSERT OR REPLACE INTO requests (
    id, url, method, mime_type, resource_type, status_code, error_code, redirects,
    received_bytes, transfer_size, encoded_data_length, encoded_body_length,
    decoded_body_length, exists_in_cache, request_start, response_start,
    completion_time, started_at, finished_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectSQL = `
SELECT id, url, method, mime_type, resource_type, status_code, error_code, redirects,
    received_bytes, transfer_size, encoded_data_length, encoded_body_length,
    decoded_body_length, exists_in_cache, request_start, response_start,
    completion_time, started_at, finished_at
FROM requests ORDER BY finished_at DESC, rowid DESC LIMIT ?`

// Store persists entries in a SQLite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at path and ensures the schema.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening netlog %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialising netlog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts e, replacing any entry with the same id.
func (s *Store) Record(e Entry) error {
	_, err := s.db.Exec(insertSQL,
		e.ID, e.URL, e.Method, e.MimeType, int(e.ResourceType), e.StatusCode, e.ErrorCode, e.Redirects,
		e.ReceivedBytes, e.TransferSize, e.EncodedDataLength, e.EncodedBodyLength,
		e.DecodedBodyLength, e.ExistsInCache, int64(e.RequestStart), int64(e.ResponseStart),
		int64(e.CompletionTime), formatTime(e.Started), formatTime(e.Finished),
	)
	return err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                         Entry
			resourceType              int
			reqStart, respStart, done int64
			started, finished         string
		)
		if err := rows.Scan(
			&e.ID, &e.URL, &e.Method, &e.MimeType, &resourceType, &e.StatusCode, &e.ErrorCode, &e.Redirects,
			&e.ReceivedBytes, &e.TransferSize, &e.EncodedDataLength, &e.EncodedBodyLength,
			&e.DecodedBodyLength, &e.ExistsInCache, &reqStart, &respStart,
			&done, &started, &finished,
		); err != nil {
			return nil, err
		}
		e.ResourceType = wire.ResourceType(resourceType)
		e.RequestStart = timeticks.Ticks(reqStart)
		e.ResponseStart = timeticks.Ticks(respStart)
		e.CompletionTime = timeticks.Ticks(done)
		e.Started = parseTime(started)
		e.Finished = parseTime(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&n)
	return n, err
}

// Failures returns the number of stored entries with a network error.
func (s *Store) Failures(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests WHERE error_code != ?`, wire.OK).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
