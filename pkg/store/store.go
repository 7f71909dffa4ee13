// Package store persists every durable entity as an opaque codec-encoded
// blob inside a single SQLite database. SQLite is only the page store: the
// byte layouts produced by pkg/codec are the durable contract and must
// survive redeployments unchanged.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the canonical persistent state storage.
type Store struct {
	db *sql.DB
}

// Cell names for singleton records.
const (
	CellMemoryState = "memory_state"
	CellProfile     = "profile"
	CellMetrics     = "metrics"
	CellSecret      = "secret"
	cellWebCounter  = "web_counter"
)

// Open creates/opens the state database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process engine. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS cells (
			name TEXT PRIMARY KEY,
			data BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transcript (
			seq INTEGER PRIMARY KEY,
			data BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS web_ring (
			slot INTEGER PRIMARY KEY,
			data BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY,
			data BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS compressions (
			id TEXT PRIMARY KEY,
			started_at_ms INTEGER NOT NULL,
			completed_at_ms INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			from_seq INTEGER NOT NULL,
			to_seq INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS compressions_started_idx ON compressions(started_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// GetCell returns the blob stored under name, or nil when absent.
func (s *Store) GetCell(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM cells WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cell %s: %w", name, err)
	}
	return data, nil
}

// SetCell overwrites the blob stored under name.
func (s *Store) SetCell(ctx context.Context, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cells(name, data) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data`, name, data)
	if err != nil {
		return fmt.Errorf("write cell %s: %w", name, err)
	}
	return nil
}

// DeleteCell removes the blob stored under name, if any.
func (s *Store) DeleteCell(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cells WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete cell %s: %w", name, err)
	}
	return nil
}

// Compression audit statuses.
const (
	CompressionRunning   = "running"
	CompressionCompleted = "completed"
	CompressionFailed    = "failed"
	CompressionStale     = "stale"
)

// CompressionRecord is one row of the compression audit log.
type CompressionRecord struct {
	ID            string
	StartedAtMS   int64
	CompletedAtMS int64
	Status        string
	FromSeq       uint64
	ToSeq         uint64
	Error         string
}

// StartCompression records the beginning of a compression attempt over the
// half-open sequence window (fromSeq, toSeq].
func (s *Store) StartCompression(ctx context.Context, fromSeq, toSeq uint64) (string, error) {
	id := "cmp-" + uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compressions(id, started_at_ms, status, from_seq, to_seq) VALUES(?, ?, ?, ?, ?)`,
		id, nowMS(), CompressionRunning, int64(fromSeq), int64(toSeq))
	if err != nil {
		return "", fmt.Errorf("start compression audit: %w", err)
	}
	return id, nil
}

// FinishCompression closes a compression audit row with a terminal status.
func (s *Store) FinishCompression(ctx context.Context, id, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE compressions SET status = ?, completed_at_ms = ?, error = ? WHERE id = ?`,
		status, nowMS(), errMsg, id)
	if err != nil {
		return fmt.Errorf("finish compression audit: %w", err)
	}
	return nil
}

// RecentCompressions lists the latest audit rows, newest first.
func (s *Store) RecentCompressions(ctx context.Context, limit int) ([]CompressionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at_ms, completed_at_ms, status, from_seq, to_seq, error
		 FROM compressions ORDER BY started_at_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list compressions: %w", err)
	}
	defer rows.Close()

	out := []CompressionRecord{}
	for rows.Next() {
		var rec CompressionRecord
		var from, to int64
		if err := rows.Scan(&rec.ID, &rec.StartedAtMS, &rec.CompletedAtMS, &rec.Status, &from, &to, &rec.Error); err != nil {
			return nil, err
		}
		rec.FromSeq = uint64(from)
		rec.ToSeq = uint64(to)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nowMS() int64 { return time.Now().UnixMilli() }
