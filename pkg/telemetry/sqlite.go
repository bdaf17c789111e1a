package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists dispatch records for offline inspection (the nsfetch
// stats subcommand reads it back). It records telemetry only; cache and
// queue state never touch disk.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the dispatch log at dbPath.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		category TEXT NOT NULL,
		cache_hit BOOLEAN NOT NULL,
		queue_wait_ms INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		status INTEGER NOT NULL,
		success BOOLEAN NOT NULL,
		at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dispatches_at ON dispatches(at);
	CREATE INDEX IF NOT EXISTS idx_dispatches_category ON dispatches(category);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts a dispatch row.
func (s *SQLiteStore) Record(d Dispatch) error {
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO dispatches (kind, category, cache_hit, queue_wait_ms, duration_ms, status, success, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Kind, d.Category, d.CacheHit,
		d.QueueWait.Milliseconds(), d.Duration.Milliseconds(),
		d.Status, d.Success, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record dispatch: %w", err)
	}
	return nil
}

// Aggregate computes summary statistics over all persisted rows.
func (s *SQLiteStore) Aggregate() (Stats, error) {
	stats := Stats{ByCategory: make(map[string]int)}

	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(SUM(cache_hit), 0),
		       COALESCE(AVG(queue_wait_ms), 0),
		       COALESCE(AVG(duration_ms), 0)
		FROM dispatches`)

	var avgWaitMs, avgDurationMs float64
	if err := row.Scan(&stats.Total, &stats.Successes, &stats.CacheHits, &avgWaitMs, &avgDurationMs); err != nil {
		return stats, fmt.Errorf("failed to aggregate dispatches: %w", err)
	}
	stats.Failures = stats.Total - stats.Successes
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Total)
	}
	stats.AvgQueueWait = time.Duration(avgWaitMs) * time.Millisecond
	stats.AvgDuration = time.Duration(avgDurationMs) * time.Millisecond

	rows, err := s.db.Query(`SELECT category, COUNT(*) FROM dispatches GROUP BY category`)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return stats, err
		}
		stats.ByCategory[category] = count
	}
	return stats, rows.Err()
}

// Recent returns up to limit most recent rows, newest last.
func (s *SQLiteStore) Recent(limit int) ([]Dispatch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT kind, category, cache_hit, queue_wait_ms, duration_ms, status, success, at
		FROM dispatches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}
	defer rows.Close()

	var out []Dispatch
	for rows.Next() {
		var d Dispatch
		var waitMs, durationMs, atUnix int64
		if err := rows.Scan(&d.Kind, &d.Category, &d.CacheHit, &waitMs, &durationMs, &d.Status, &d.Success, &atUnix); err != nil {
			return nil, err
		}
		d.QueueWait = time.Duration(waitMs) * time.Millisecond
		d.Duration = time.Duration(durationMs) * time.Millisecond
		d.At = time.Unix(atUnix, 0)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to newest-last to match MemoryStore.Recent.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
