package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentinel/internal/types"
)

func (s *SQLiteStore) CreateRun(ctx context.Context, run *types.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = types.RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, project_id, device_id, network_id, locale, persona,
			target_url, task, triggered_by, status, result, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		run.ID, run.ProjectID, run.DeviceID, run.NetworkID, run.Locale, run.Persona,
		run.TargetURL, run.Task, run.TriggeredBy, run.Status, run.Result, run.StartedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result types.RunResult, duration time.Duration) error {
	return s.finishRun(ctx, runID, types.RunStatusCompleted, result, duration)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, duration time.Duration) error {
	return s.finishRun(ctx, runID, types.RunStatusFailed, "", duration)
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status types.RunStatus, result types.RunResult, duration time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, result = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		status, result, time.Now().UTC(), duration.Milliseconds(), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, project_id, device_id, network_id, locale, persona,
	target_url, task, triggered_by, status, result, started_at, completed_at, duration_ms`

func scanRun(row interface{ Scan(...any) error }) (*types.Run, error) {
	var run types.Run
	var completed sql.NullTime
	err := row.Scan(&run.ID, &run.ProjectID, &run.DeviceID, &run.NetworkID,
		&run.Locale, &run.Persona, &run.TargetURL, &run.Task, &run.TriggeredBy,
		&run.Status, &run.Result, &run.StartedAt, &completed, &run.DurationMS)
	if err != nil {
		return nil, err
	}
	run.CompletedAt = scanTime(completed)
	return &run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, projectID string, limit int) ([]types.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE project_id = ?
		ORDER BY started_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) PreviousCompletedRun(ctx context.Context, projectID, deviceID, networkID, excludeRunID string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE project_id = ? AND device_id = ? AND network_id = ?
		  AND status = ? AND id != ?
		ORDER BY started_at DESC LIMIT 1`,
		projectID, deviceID, networkID, types.RunStatusCompleted, excludeRunID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("previous completed run: %w", err)
	}
	return run, nil
}
