// Package runlog keeps a local journal of ingestion runs so the dashboard
// can show scrape history even when the remote mirror is disabled.
package runlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one ingestion cycle's outcome. SourceCounts holds new articles
// per source for that run.
type Run struct {
	ID             int64          `json:"id"`
	RunAt          time.Time      `json:"run_at"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	SourceCounts   map[string]int `json:"source_counts"`
	TotalNew       int            `json:"total_new"`
	Status         string         `json:"status"`
}

// Store provides SQLite-backed persistence for the run journal.
type Store struct {
	db *sql.DB
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_at INTEGER,
	elapsed_seconds REAL,
	source_counts TEXT,
	total_new INTEGER,
	status TEXT
);
`

// New opens the SQLite database at dbPath, creates the runs table if it
// doesn't exist, and returns a Store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("runlog: open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("runlog: set WAL mode: %w", err)
	}

	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("runlog: create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one run to the journal.
func (s *Store) Record(r Run) error {
	counts, err := json.Marshal(r.SourceCounts)
	if err != nil {
		return fmt.Errorf("runlog: marshal source counts: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO runs (run_at, elapsed_seconds, source_counts, total_new, status)
		 VALUES (?, ?, ?, ?, ?)`,
		r.RunAt.Unix(), r.ElapsedSeconds, string(counts), r.TotalNew, r.Status,
	)
	if err != nil {
		return fmt.Errorf("runlog: record run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, run_at, elapsed_seconds, source_counts, total_new, status
		 FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("runlog: get recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var runAt int64
		var counts string
		if err := rows.Scan(&r.ID, &runAt, &r.ElapsedSeconds, &counts, &r.TotalNew, &r.Status); err != nil {
			return nil, fmt.Errorf("runlog: scan run: %w", err)
		}
		r.RunAt = time.Unix(runAt, 0).UTC()
		if counts != "" {
			if err := json.Unmarshal([]byte(counts), &r.SourceCounts); err != nil {
				return nil, fmt.Errorf("runlog: parse source counts: %w", err)
			}
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: iterate runs: %w", err)
	}
	return runs, nil
}
