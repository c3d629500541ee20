package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentinel/internal/types"
)

func (s *SQLiteStore) InsertEvidence(ctx context.Context, ev *types.Evidence) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (id, run_id, kind, step, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.Kind, ev.Step, ev.Path, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

// LinkEvidenceToIssue is add-only: evidence links are never removed.
func (s *SQLiteStore) LinkEvidenceToIssue(ctx context.Context, evidenceID, issueID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO issue_evidence (issue_id, evidence_id) VALUES (?, ?)`,
		issueID, evidenceID)
	if err != nil {
		return fmt.Errorf("link evidence %s to issue %s: %w", evidenceID, issueID, err)
	}
	return nil
}

func (s *SQLiteStore) EvidenceForRun(ctx context.Context, runID string) ([]types.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, kind, step, path, created_at FROM evidence
		WHERE run_id = ? ORDER BY step, created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("evidence for run: %w", err)
	}
	defer rows.Close()

	var out []types.Evidence
	for rows.Next() {
		var ev types.Evidence
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Kind, &ev.Step, &ev.Path, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) EvidenceForStep(ctx context.Context, runID string, step int) (*types.Evidence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, kind, step, path, created_at FROM evidence
		WHERE run_id = ? AND step = ? AND kind = ?
		ORDER BY created_at DESC LIMIT 1`, runID, step, types.EvidenceScreenshot)

	var ev types.Evidence
	err := row.Scan(&ev.ID, &ev.RunID, &ev.Kind, &ev.Step, &ev.Path, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("evidence for step %d: %w", step, err)
	}
	return &ev, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *types.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Level == "" {
		ev.Level = "info"
	}
	var payload any
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, level, type, message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Level, ev.Type, ev.Message, payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) collectEvents(rows *sql.Rows) ([]types.Event, error) {
	defer rows.Close()
	var out []types.Event
	for rows.Next() {
		var ev types.Event
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Level, &ev.Type, &ev.Message, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) EventsForRun(ctx context.Context, runID string) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, level, type, message, payload, created_at
		FROM run_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("events for run: %w", err)
	}
	return s.collectEvents(rows)
}

func (s *SQLiteStore) EventsForRunByType(ctx context.Context, runID, eventType string) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, level, type, message, payload, created_at
		FROM run_events WHERE run_id = ? AND type = ? ORDER BY id`, runID, eventType)
	if err != nil {
		return nil, fmt.Errorf("events for run by type: %w", err)
	}
	return s.collectEvents(rows)
}

func (s *SQLiteStore) InsertStep(ctx context.Context, step *types.Step) error {
	if step.StartedAt.IsZero() {
		step.StartedAt = time.Now().UTC()
	}
	var input any
	if len(step.Input) > 0 {
		input = string(step.Input)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_steps (run_id, seq, action, input, status, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.RunID, step.Seq, step.Action, input, step.Status, step.DurationMS, step.StartedAt)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StepsForRun(ctx context.Context, runID string) ([]types.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, action, input, status, duration_ms, started_at
		FROM run_steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("steps for run: %w", err)
	}
	defer rows.Close()

	var out []types.Step
	for rows.Next() {
		var step types.Step
		var input sql.NullString
		if err := rows.Scan(&step.RunID, &step.Seq, &step.Action, &input, &step.Status, &step.DurationMS, &step.StartedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if input.Valid {
			step.Input = []byte(input.String)
		}
		out = append(out, step)
	}
	return out, rows.Err()
}
