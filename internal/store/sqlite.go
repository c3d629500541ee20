package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"sentinel/internal/types"
)

// SQLiteStore implements RecordStore on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ RecordStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	base_url      TEXT NOT NULL,
	sensitive_keys TEXT NOT NULL DEFAULT '[]',
	slack_channel TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS devices (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	kind            TEXT NOT NULL DEFAULT 'desktop',
	viewport_width  INTEGER NOT NULL DEFAULT 1920,
	viewport_height INTEGER NOT NULL DEFAULT 1080,
	scale           REAL NOT NULL DEFAULT 1.0,
	mobile          INTEGER NOT NULL DEFAULT 0,
	touch           INTEGER NOT NULL DEFAULT 0,
	user_agent      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS networks (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	latency_ms    INTEGER NOT NULL DEFAULT 0,
	download_kbps INTEGER NOT NULL DEFAULT 0,
	upload_kbps   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	device_id    TEXT NOT NULL,
	network_id   TEXT NOT NULL,
	locale       TEXT NOT NULL DEFAULT 'en-US',
	persona      TEXT NOT NULL DEFAULT '',
	target_url   TEXT NOT NULL,
	task         TEXT NOT NULL,
	triggered_by TEXT NOT NULL DEFAULT 'manual',
	status       TEXT NOT NULL,
	result       TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	duration_ms  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_prev ON runs(project_id, device_id, network_id, status, started_at DESC);

CREATE TABLE IF NOT EXISTS issues (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	severity    TEXT NOT NULL DEFAULT 'P2',
	category    TEXT NOT NULL DEFAULT 'functional',
	status      TEXT NOT NULL DEFAULT 'open',
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_id, created_at DESC);

CREATE TABLE IF NOT EXISTS run_issues (
	run_id   TEXT NOT NULL,
	issue_id TEXT NOT NULL,
	PRIMARY KEY (run_id, issue_id)
);

CREATE TABLE IF NOT EXISTS evidence (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	step       INTEGER NOT NULL DEFAULT 0,
	path       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evidence_run ON evidence(run_id, step);

CREATE TABLE IF NOT EXISTS issue_evidence (
	issue_id    TEXT NOT NULL,
	evidence_id TEXT NOT NULL,
	PRIMARY KEY (issue_id, evidence_id)
);

CREATE TABLE IF NOT EXISTS run_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	level      TEXT NOT NULL DEFAULT 'info',
	type       TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	payload    TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_run ON run_events(run_id, id);

CREATE TABLE IF NOT EXISTS run_steps (
	run_id      TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	action      TEXT NOT NULL,
	input       TEXT,
	status      TEXT NOT NULL DEFAULT 'ok',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS perf_metrics (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id                TEXT NOT NULL,
	url                   TEXT NOT NULL,
	step                  INTEGER NOT NULL DEFAULT 0,
	lcp_ms                REAL NOT NULL DEFAULT 0,
	cls                   REAL NOT NULL DEFAULT 0,
	ttfb_ms               REAL NOT NULL DEFAULT 0,
	fcp_ms                REAL NOT NULL DEFAULT 0,
	dom_content_loaded_ms REAL NOT NULL DEFAULT 0,
	resource_count        INTEGER NOT NULL DEFAULT 0,
	total_transfer_kb     REAL NOT NULL DEFAULT 0,
	created_at            TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_perf_run ON perf_metrics(run_id);

CREATE TABLE IF NOT EXISTS a11y_violations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	rule_id     TEXT NOT NULL,
	impact      TEXT NOT NULL DEFAULT 'minor',
	description TEXT NOT NULL DEFAULT '',
	help        TEXT NOT NULL DEFAULT '',
	nodes       TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_a11y_run ON a11y_violations(run_id);
`

// OpenSQLite opens (and bootstraps) the database at path. Use ":memory:"
// for tests.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time; serialize access through the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("sqlite store opened", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// seedDefaults is used by the CLI on first boot to provide a usable set of
// devices and networks without manual setup.
func (s *SQLiteStore) SeedDefaults(ctx context.Context) error {
	devices := []types.Device{
		{ID: "desktop-chrome", Name: "Desktop Chrome", Kind: "desktop", ViewportWidth: 1920, ViewportHeight: 1080, Scale: 1},
		{ID: "iphone-14", Name: "iPhone 14", Kind: "mobile", ViewportWidth: 390, ViewportHeight: 844, Scale: 3, Mobile: true, Touch: true,
			UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"},
		{ID: "pixel-7", Name: "Pixel 7", Kind: "mobile", ViewportWidth: 412, ViewportHeight: 915, Scale: 2.625, Mobile: true, Touch: true,
			UserAgent: "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"},
		{ID: "ipad", Name: "iPad", Kind: "tablet", ViewportWidth: 810, ViewportHeight: 1080, Scale: 2, Mobile: true, Touch: true,
			UserAgent: "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"},
	}
	networks := []types.Network{
		{ID: "broadband", Name: "Broadband"},
		{ID: "fast-4g", Name: "Fast 4G", LatencyMs: 60, DownloadKbps: 9000, UploadKbps: 4500},
		{ID: "slow-3g", Name: "Slow 3G", LatencyMs: 400, DownloadKbps: 400, UploadKbps: 400},
	}
	for i := range devices {
		if err := s.UpsertDevice(ctx, &devices[i]); err != nil {
			return err
		}
	}
	for i := range networks {
		if err := s.UpsertNetwork(ctx, &networks[i]); err != nil {
			return err
		}
	}
	return nil
}
