// Package store persists runs and their phase states to SQLite, carrying
// results across the seed/init/sim phase handoff. A run is keyed by the
// fingerprint of its validated config; each phase saves exactly one state
// snapshot, replaced on re-run.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tissueworks/bioflux/internal/config"
	"github.com/tissueworks/bioflux/internal/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fingerprint TEXT NOT NULL,
    config_json TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint);

CREATE TABLE IF NOT EXISTS states (
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    phase TEXT NOT NULL,
    status TEXT NOT NULL,
    step INTEGER NOT NULL,
    sim_time REAL NOT NULL,
    state_json TEXT NOT NULL,
    saved_at TEXT NOT NULL,
    PRIMARY KEY (run_id, phase)
);
`

// Store is a SQLite-backed run archive. Safe for concurrent use.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the run database at dir/bioflux.db.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	path := filepath.Join(dir, "bioflux.db")

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with a single writer

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// CreateRun records a new run for the config and returns its id.
func (s *Store) CreateRun(ctx context.Context, cfg *config.Config) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("failed to encode config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (fingerprint, config_json, created_at) VALUES (?, ?, ?)`,
		cfg.Fingerprint(), string(cfgJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to create run: %w", err)
	}
	return res.LastInsertId()
}

// LatestRun returns the newest run id whose config fingerprint matches.
// ok is false when no such run exists.
func (s *Store) LatestRun(ctx context.Context, fingerprint string) (id int64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE fingerprint = ? ORDER BY id DESC LIMIT 1`,
		fingerprint).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query runs: %w", err)
	}
	return id, true, nil
}

// SaveState stores (or replaces) a phase's state snapshot for a run.
func (s *Store) SaveState(ctx context.Context, runID int64, phase engine.Phase, status engine.Status, st *engine.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO states (run_id, phase, status, step, sim_time, state_json, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, phase) DO UPDATE SET
			status = excluded.status,
			step = excluded.step,
			sim_time = excluded.sim_time,
			state_json = excluded.state_json,
			saved_at = excluded.saved_at`,
		runID, string(phase), status.String(), st.Step, st.Time, string(stJSON),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save %s state: %w", phase, err)
	}
	return nil
}

// LoadState retrieves a phase's state snapshot and the status it was saved
// with. It returns an error when the phase has not been run.
func (s *Store) LoadState(ctx context.Context, runID int64, phase engine.Phase) (*engine.State, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status, stJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, state_json FROM states WHERE run_id = ? AND phase = ?`,
		runID, string(phase)).Scan(&status, &stJSON)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("run %d has no %s state; run that phase first", runID, phase)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load %s state: %w", phase, err)
	}

	var st engine.State
	if err := json.Unmarshal([]byte(stJSON), &st); err != nil {
		return nil, "", fmt.Errorf("failed to decode %s state: %w", phase, err)
	}
	return &st, status, nil
}

// LoadConfig returns the config a run was created with.
func (s *Store) LoadConfig(ctx context.Context, runID int64) (*config.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cfgJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT config_json FROM runs WHERE id = ?`, runID).Scan(&cfgJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run config: %w", err)
	}

	var cfg config.Config
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode run config: %w", err)
	}
	return &cfg, nil
}

// RunRecord summarizes one stored run.
type RunRecord struct {
	ID          int64  `json:"id"`
	Fingerprint string `json:"fingerprint"`
	CreatedAt   string `json:"created_at"`
}

// PhaseRecord summarizes one stored phase state.
type PhaseRecord struct {
	Phase   string  `json:"phase"`
	Status  string  `json:"status"`
	Step    int     `json:"step"`
	SimTime float64 `json:"sim_time"`
	SavedAt string  `json:"saved_at"`
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fingerprint, created_at FROM runs ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Phases returns the stored phase states of a run in execution order.
func (s *Store) Phases(ctx context.Context, runID int64) ([]PhaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT phase, status, step, sim_time, saved_at FROM states
		WHERE run_id = ?
		ORDER BY CASE phase WHEN 'init' THEN 0 ELSE 1 END`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phases: %w", err)
	}
	defer rows.Close()

	var out []PhaseRecord
	for rows.Next() {
		var p PhaseRecord
		if err := rows.Scan(&p.Phase, &p.Status, &p.Step, &p.SimTime, &p.SavedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
