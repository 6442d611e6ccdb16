package peerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/onionwire/onionwire/internal/model"
)

// Store provides SQLite-based storage for known peers and run history.
// It manages connection pooling and provides methods for CRUD operations.
//
// Design decision: We use a single database file for peers and runs rather
// than separate files. This simplifies relationship queries and
// backup/restore operations.
type Store struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	// This is recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a Store at the specified directory.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is
// returned.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, "onionwire.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s (use CreateIfNotExists option to create)", ErrNoDatabase, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite connection string: mode=rw prevents creating new
	// files, mode=rwc allows creation.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; more connections just contend.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (s *Store) createTables() error {
	schema := `
	-- Peers this node has dialed or learned about
	CREATE TABLE IF NOT EXISTS peers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		onion_host TEXT NOT NULL,
		port INTEGER NOT NULL,
		first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
		dial_count INTEGER DEFAULT 0,
		dial_failures INTEGER DEFAULT 0,
		last_outcome TEXT,
		UNIQUE(onion_host, port)
	);

	CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);

	-- One row per node lifecycle run
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		network_ready_at DATETIME,
		published_at DATETIME,
		onion_host TEXT,
		port INTEGER,
		bootstrap_attempts INTEGER DEFAULT 0,
		outcome TEXT NOT NULL,
		last_error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// UpsertPeer records a peer sighting without touching its dial counters.
func (s *Store) UpsertPeer(ctx context.Context, addr model.NodeAddress) error {
	query := `
	INSERT INTO peers (onion_host, port)
	VALUES (?, ?)
	ON CONFLICT(onion_host, port) DO UPDATE SET
		last_seen = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, addr.Host(), addr.Port()); err != nil {
		return fmt.Errorf("failed to upsert peer: %w", err)
	}
	return nil
}

// RecordDial records the outcome of one outbound connection attempt.
// The outcome string is "ok" for success or the error text otherwise.
func (s *Store) RecordDial(ctx context.Context, addr model.NodeAddress, outcome string, failed bool) error {
	failure := 0
	if failed {
		failure = 1
	}

	query := `
	INSERT INTO peers (onion_host, port, dial_count, dial_failures, last_outcome)
	VALUES (?, ?, 1, ?, ?)
	ON CONFLICT(onion_host, port) DO UPDATE SET
		last_seen = CURRENT_TIMESTAMP,
		dial_count = dial_count + 1,
		dial_failures = dial_failures + excluded.dial_failures,
		last_outcome = excluded.last_outcome
	`

	if _, err := s.db.ExecContext(ctx, query, addr.Host(), addr.Port(), failure, outcome); err != nil {
		return fmt.Errorf("failed to record dial: %w", err)
	}
	return nil
}

// ListPeers returns known peers, most recently seen first.
func (s *Store) ListPeers(ctx context.Context) ([]model.Peer, error) {
	query := `
	SELECT onion_host, port, first_seen, last_seen, dial_count, dial_failures, last_outcome
	FROM peers
	ORDER BY last_seen DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	defer rows.Close()

	var peers []model.Peer
	for rows.Next() {
		var host string
		var port int
		var firstSeen, lastSeen string
		var outcome sql.NullString
		var peer model.Peer

		if err := rows.Scan(&host, &port, &firstSeen, &lastSeen, &peer.DialCount, &peer.DialFailures, &outcome); err != nil {
			return nil, fmt.Errorf("failed to scan peer: %w", err)
		}

		addr, err := model.NewNodeAddress(host, port)
		if err != nil {
			// A malformed row cannot be represented; skip it rather than
			// fail the whole listing.
			continue
		}
		peer.Address = addr
		peer.FirstSeen = parseTimestamp(firstSeen)
		peer.LastSeen = parseTimestamp(lastSeen)
		if outcome.Valid {
			peer.LastOutcome = outcome.String
		}
		peers = append(peers, peer)
	}

	return peers, rows.Err()
}

// SaveRun persists one lifecycle run and returns its ID.
func (s *Store) SaveRun(ctx context.Context, run *model.RunRecord) (int64, error) {
	query := `
	INSERT INTO runs (started_at, network_ready_at, published_at, onion_host, port, bootstrap_attempts, outcome, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		formatTimestamp(run.StartedAt),
		nullableTimestamp(run.NetworkReadyAt),
		nullableTimestamp(run.PublishedAt),
		run.Address.Host(),
		run.Address.Port(),
		run.BootstrapAttempts,
		string(run.Outcome),
		run.LastError,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}

	return result.LastInsertId()
}

// LatestRun returns the most recent run, or nil if none is recorded.
func (s *Store) LatestRun(ctx context.Context) (*model.RunRecord, error) {
	runs, err := s.Runs(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// Runs returns up to limit recent runs, newest first. A non-positive limit
// returns all runs.
func (s *Store) Runs(ctx context.Context, limit int) ([]model.RunRecord, error) {
	query := `
	SELECT id, started_at, network_ready_at, published_at, onion_host, port, bootstrap_attempts, outcome, last_error
	FROM runs
	ORDER BY started_at DESC, id DESC
	`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var run model.RunRecord
		var startedAt string
		var readyAt, publishedAt, host, lastErr sql.NullString
		var port sql.NullInt64
		var outcome string

		if err := rows.Scan(&run.ID, &startedAt, &readyAt, &publishedAt, &host, &port, &run.BootstrapAttempts, &outcome, &lastErr); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.StartedAt = parseTimestamp(startedAt)
		if readyAt.Valid {
			run.NetworkReadyAt = parseTimestamp(readyAt.String)
		}
		if publishedAt.Valid {
			run.PublishedAt = parseTimestamp(publishedAt.String)
		}
		if host.Valid && host.String != "" && port.Valid {
			if addr, addrErr := model.NewNodeAddress(host.String, int(port.Int64)); addrErr == nil {
				run.Address = addr
			}
		}
		run.Outcome = model.RunOutcome(outcome)
		if lastErr.Valid {
			run.LastError = lastErr.String
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// ErrNoDatabase is returned when a read-only open finds no database file.
var ErrNoDatabase = errors.New("no database found")

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple
// formats. SQLite may return timestamps in different formats depending on
// configuration. If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// formatTimestamp renders a time in the SQLite default datetime format.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// nullableTimestamp renders a time, mapping the zero value to NULL.
func nullableTimestamp(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTimestamp(t)
}
