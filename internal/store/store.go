// Package store keeps bridge state across restarts in SQLite: the last
// published snapshot of every gateway, so entities have values before the
// first poll finishes, and a bounded history of poll cycles for status
// and diagnostics.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/pointtapi"
)

// MaxCyclesPerDevice is how many poll cycles are kept per gateway.
const MaxCyclesPerDevice = 500

// Cycle outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeFailed     = "failed"
	OutcomeAuthFailed = "auth_failed"
)

const (
	sqlUpsertSnapshot = `INSERT INTO snapshots (device_id, fetched_at, body)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
		 fetched_at = excluded.fetched_at,
		 body = excluded.body`

	sqlLoadSnapshot = `SELECT fetched_at, body FROM snapshots WHERE device_id = ?`

	sqlDeleteSnapshot = `DELETE FROM snapshots WHERE device_id = ?`

	sqlInsertCycle = `INSERT INTO poll_cycles
		(device_id, started_at, duration_ms, paths, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlPruneCycles = `DELETE FROM poll_cycles
		WHERE device_id = ? AND id NOT IN (
		 SELECT id FROM poll_cycles WHERE device_id = ? ORDER BY id DESC LIMIT ?)`

	sqlRecentCycles = `SELECT id, device_id, started_at, duration_ms, paths, outcome, error
		FROM poll_cycles WHERE device_id = ? ORDER BY id DESC LIMIT ?`

	sqlDeleteCycles = `DELETE FROM poll_cycles WHERE device_id = ?`
)

// Cycle is one recorded poll cycle.
type Cycle struct {
	ID        int64
	DeviceID  string
	StartedAt time.Time
	Duration  time.Duration
	Paths     int
	Outcome   string
	Error     string
}

// Store is the state database. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies
// migrations. WAL mode, a busy timeout and a single connection keep the
// daemon the sole writer.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: creating directory for %s: %w", path, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("state store opened", slog.String("path", path))

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}

// SaveSnapshot replaces the stored snapshot of device.
func (s *Store) SaveSnapshot(ctx context.Context, device string, snap *coordinator.Snapshot) error {
	if snap == nil {
		return nil
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encoding snapshot of %s: %w", device, err)
	}

	_, err = s.db.ExecContext(ctx, sqlUpsertSnapshot,
		device, snap.FetchedAt().UTC().Format(time.RFC3339Nano), body)
	if err != nil {
		return fmt.Errorf("store: saving snapshot of %s: %w", device, err)
	}

	return nil
}

// LoadSnapshot returns the stored snapshot of device, or nil if there is
// none.
func (s *Store) LoadSnapshot(ctx context.Context, device string) (*coordinator.Snapshot, error) {
	var (
		fetchedAt string
		body      []byte
	)

	err := s.db.QueryRowContext(ctx, sqlLoadSnapshot, device).Scan(&fetchedAt, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading snapshot of %s: %w", device, err)
	}

	at, err := time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("store: snapshot of %s has bad timestamp %q: %w", device, fetchedAt, err)
	}

	var nodes map[string]pointtapi.Node
	if err := json.Unmarshal(body, &nodes); err != nil {
		return nil, fmt.Errorf("store: decoding snapshot of %s: %w", device, err)
	}

	return coordinator.NewSnapshot(nodes, at), nil
}

// RecordCycle appends res to the history of device and prunes the oldest
// rows beyond MaxCyclesPerDevice.
func (s *Store) RecordCycle(ctx context.Context, device string, res coordinator.CycleResult) error {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	_, err = tx.ExecContext(ctx, sqlInsertCycle,
		device,
		res.StartedAt.UTC().Format(time.RFC3339Nano),
		res.Duration.Milliseconds(),
		res.Paths,
		outcome(res.Err),
		errText,
	)
	if err != nil {
		return fmt.Errorf("store: recording cycle of %s: %w", device, err)
	}

	if _, err := tx.ExecContext(ctx, sqlPruneCycles, device, device, MaxCyclesPerDevice); err != nil {
		return fmt.Errorf("store: pruning cycles of %s: %w", device, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing cycle of %s: %w", device, err)
	}

	return nil
}

// RecentCycles returns up to limit cycles of device, newest first.
func (s *Store) RecentCycles(ctx context.Context, device string, limit int) ([]Cycle, error) {
	rows, err := s.db.QueryContext(ctx, sqlRecentCycles, device, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing cycles of %s: %w", device, err)
	}
	defer rows.Close()

	var out []Cycle

	for rows.Next() {
		var (
			c          Cycle
			startedAt  string
			durationMs int64
		)

		if err := rows.Scan(&c.ID, &c.DeviceID, &startedAt, &durationMs, &c.Paths, &c.Outcome, &c.Error); err != nil {
			return nil, fmt.Errorf("store: scanning cycle: %w", err)
		}

		c.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("store: cycle %d has bad timestamp %q: %w", c.ID, startedAt, err)
		}

		c.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating cycles: %w", err)
	}

	return out, nil
}

// Forget removes everything stored for device. Used on logout.
func (s *Store) Forget(ctx context.Context, device string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	for _, q := range []string{sqlDeleteSnapshot, sqlDeleteCycles} {
		if _, err := tx.ExecContext(ctx, q, device); err != nil {
			return fmt.Errorf("store: forgetting %s: %w", device, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing forget of %s: %w", device, err)
	}

	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case coordinator.IsAuthFailure(err):
		return OutcomeAuthFailed
	default:
		return OutcomeFailed
	}
}
