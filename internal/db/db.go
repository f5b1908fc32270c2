package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/wesm/github-mirror/internal/models"
)

// DB represents the sync metadata database
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite has a single writer, and every :memory: connection is its own database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_metadata (
		scope TEXT PRIMARY KEY,
		last_sync_time TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		full_purge BOOLEAN NOT NULL DEFAULT 0,
		cost INTEGER NOT NULL DEFAULT 0,
		remaining INTEGER NOT NULL DEFAULT -1,
		node_count INTEGER NOT NULL DEFAULT 0,
		requests INTEGER NOT NULL DEFAULT 0,
		new_items INTEGER NOT NULL DEFAULT 0,
		closed_items INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// GetLastSyncTime gets the last completed sync time for a scope
func (db *DB) GetLastSyncTime(scope string) (time.Time, error) {
	var lastSyncTime time.Time
	query := `SELECT last_sync_time FROM sync_metadata WHERE scope = ?`

	err := db.QueryRow(query, scope).Scan(&lastSyncTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get last sync time: %w", err)
	}

	return lastSyncTime, nil
}

// UpdateLastSyncTime updates the last completed sync time for a scope
func (db *DB) UpdateLastSyncTime(scope string, syncTime time.Time) error {
	query := `
	INSERT INTO sync_metadata (scope, last_sync_time)
	VALUES (?, ?)
	ON CONFLICT(scope) DO UPDATE SET
		last_sync_time = excluded.last_sync_time
	`

	_, err := db.Exec(query, scope, syncTime.UTC())
	if err != nil {
		return fmt.Errorf("failed to update last sync time: %w", err)
	}

	return nil
}

// SaveRun records a completed update
func (db *DB) SaveRun(run *models.SyncRun) error {
	query := `
	INSERT INTO sync_runs (id, started_at, finished_at, full_purge, cost, remaining, node_count, requests, new_items, closed_items)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		finished_at = excluded.finished_at,
		full_purge = excluded.full_purge,
		cost = excluded.cost,
		remaining = excluded.remaining,
		node_count = excluded.node_count,
		requests = excluded.requests,
		new_items = excluded.new_items,
		closed_items = excluded.closed_items
	`

	_, err := db.Exec(query,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.FullPurge,
		run.Cost, run.Remaining, run.NodeCount, run.Requests, run.NewItems, run.ClosedItems,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}

	return nil
}

// RecentRuns returns up to limit runs, newest first
func (db *DB) RecentRuns(limit int) ([]*models.SyncRun, error) {
	query := `
	SELECT id, started_at, finished_at, full_purge, cost, remaining, node_count, requests, new_items, closed_items
	FROM sync_runs
	ORDER BY started_at DESC
	LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		if err := rows.Scan(
			&run.ID, &run.StartedAt, &run.FinishedAt, &run.FullPurge,
			&run.Cost, &run.Remaining, &run.NodeCount, &run.Requests, &run.NewItems, &run.ClosedItems,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sync runs: %w", err)
	}

	return runs, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
