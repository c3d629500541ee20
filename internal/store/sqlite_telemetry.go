package store

import (
	"context"
	"fmt"
	"time"

	"sentinel/internal/types"
)

func (s *SQLiteStore) InsertPerfMetric(ctx context.Context, m *types.PerfMetric) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO perf_metrics (run_id, url, step, lcp_ms, cls, ttfb_ms, fcp_ms,
			dom_content_loaded_ms, resource_count, total_transfer_kb, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.URL, m.Step, m.LCPMs, m.CLS, m.TTFBMs, m.FCPMs,
		m.DOMContentLoadedMs, m.ResourceCount, m.TotalTransferKB, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert perf metric: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PerfMetricsForRun(ctx context.Context, runID string) ([]types.PerfMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, url, step, lcp_ms, cls, ttfb_ms, fcp_ms,
			dom_content_loaded_ms, resource_count, total_transfer_kb, created_at
		FROM perf_metrics WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("perf metrics for run: %w", err)
	}
	defer rows.Close()

	var out []types.PerfMetric
	for rows.Next() {
		var m types.PerfMetric
		if err := rows.Scan(&m.RunID, &m.URL, &m.Step, &m.LCPMs, &m.CLS, &m.TTFBMs,
			&m.FCPMs, &m.DOMContentLoadedMs, &m.ResourceCount, &m.TotalTransferKB, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan perf metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertA11yViolation(ctx context.Context, v *types.A11yViolation) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO a11y_violations (run_id, rule_id, impact, description, help, nodes, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.RunID, v.RuleID, v.Impact, v.Description, v.Help, v.Nodes, v.URL, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert a11y violation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) A11yViolationsForRun(ctx context.Context, runID string) ([]types.A11yViolation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, rule_id, impact, description, help, nodes, url, created_at
		FROM a11y_violations WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("a11y violations for run: %w", err)
	}
	defer rows.Close()

	var out []types.A11yViolation
	for rows.Next() {
		var v types.A11yViolation
		if err := rows.Scan(&v.RunID, &v.RuleID, &v.Impact, &v.Description, &v.Help, &v.Nodes, &v.URL, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan a11y violation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
