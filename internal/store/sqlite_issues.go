package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentinel/internal/types"
)

var validCategories = map[string]struct{}{
	"functional": {}, "visual": {}, "performance": {},
	"accessibility": {}, "mobile": {}, "regression": {},
}

func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now().UTC()
	}
	if issue.Status == "" {
		issue.Status = types.IssueStatusOpen
	}
	if _, ok := validCategories[issue.Category]; !ok {
		issue.Category = "functional"
	}
	issue.Severity = types.NormalizeSeverity(string(issue.Severity))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (id, project_id, title, description, severity, category, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.ProjectID, issue.Title, issue.Description,
		issue.Severity, issue.Category, issue.Status, issue.CreatedAt)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LinkIssueToRun(ctx context.Context, issueID, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_issues (run_id, issue_id) VALUES (?, ?)`, runID, issueID)
	if err != nil {
		return fmt.Errorf("link issue %s to run %s: %w", issueID, runID, err)
	}
	return nil
}

const issueColumns = `id, project_id, title, description, severity, category, status, created_at`

func scanIssue(row interface{ Scan(...any) error }) (*types.Issue, error) {
	var issue types.Issue
	err := row.Scan(&issue.ID, &issue.ProjectID, &issue.Title, &issue.Description,
		&issue.Severity, &issue.Category, &issue.Status, &issue.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (s *SQLiteStore) collectIssues(rows *sql.Rows) ([]types.Issue, error) {
	defer rows.Close()
	var issues []types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, *issue)
	}
	return issues, rows.Err()
}

func (s *SQLiteStore) IssuesForRun(ctx context.Context, runID string) ([]types.Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE id IN (SELECT issue_id FROM run_issues WHERE run_id = ?)
		ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("issues for run: %w", err)
	}
	return s.collectIssues(rows)
}

func (s *SQLiteStore) RecentIssues(ctx context.Context, projectID string, limit int) ([]types.Issue, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE project_id = ?
		ORDER BY created_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent issues: %w", err)
	}
	return s.collectIssues(rows)
}

func (s *SQLiteStore) IssuesSince(ctx context.Context, projectID string, since time.Time) ([]types.Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE project_id = ? AND created_at >= ?
		ORDER BY created_at DESC`, projectID, since)
	if err != nil {
		return nil, fmt.Errorf("issues since %s: %w", since, err)
	}
	return s.collectIssues(rows)
}

func (s *SQLiteStore) GetIssue(ctx context.Context, issueID string) (*types.Issue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, issueID)
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", issueID, err)
	}
	return issue, nil
}

func (s *SQLiteStore) MarkIssueFlaky(ctx context.Context, issueID string, downgraded types.Severity) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE issues SET status = ?, severity = ? WHERE id = ?`,
		types.IssueStatusFlaky, downgraded, issueID)
	if err != nil {
		return fmt.Errorf("mark issue flaky %s: %w", issueID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
