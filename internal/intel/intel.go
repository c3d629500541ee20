// Package intel derives second-order signal from persisted issues:
// likely root causes, recurring trend clusters, and regressions against
// the previous comparable run.
package intel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinel/internal/similarity"
	"sentinel/internal/store"
	"sentinel/internal/types"
)

const (
	// rootCauseWindow bounds how many recent issues similarity runs over.
	rootCauseWindow = 200
	// similarCap bounds how many matches a lookup returns.
	similarCap = 5
	// trendThreshold merges issues into one trend cluster.
	trendThreshold = 0.4
	// regressionThreshold matches a new issue against a previously passed test.
	regressionThreshold = 0.3
)

// Analyzer answers similarity questions over the issue history.
type Analyzer struct {
	store  store.RecordStore
	logger *zap.Logger
}

func NewAnalyzer(st store.RecordStore, logger *zap.Logger) *Analyzer {
	return &Analyzer{store: st, logger: logger}
}

// SimilarIssues returns prior issues of the project whose title and
// description overlap the given text at or above threshold, best first.
// excludeID removes the issue itself when it is already persisted.
func (a *Analyzer) SimilarIssues(ctx context.Context, projectID, excludeID, title, description string, threshold float64) ([]types.SimilarIssue, error) {
	recent, err := a.store.RecentIssues(ctx, projectID, rootCauseWindow)
	if err != nil {
		return nil, fmt.Errorf("load recent issues: %w", err)
	}
	subject := title + " " + description
	var matches []types.SimilarIssue
	for _, candidate := range recent {
		if candidate.ID == excludeID {
			continue
		}
		score := similarity.Score(subject, candidate.Title+" "+candidate.Description)
		if score < threshold {
			continue
		}
		matches = append(matches, types.SimilarIssue{Issue: candidate, Score: round3(score)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > similarCap {
		matches = matches[:similarCap]
	}
	return matches, nil
}

// Trends clusters the project's issues from the trailing window by title
// similarity. Clustering is greedy in recency order: each issue joins the
// first existing cluster whose representative title matches, otherwise it
// starts a new one. Clusters come back sorted by size.
func (a *Analyzer) Trends(ctx context.Context, projectID string, windowDays int) ([]types.IssueTrend, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	issues, err := a.store.IssuesSince(ctx, projectID, since)
	if err != nil {
		return nil, fmt.Errorf("load issues since %s: %w", since.Format(time.DateOnly), err)
	}

	var trends []types.IssueTrend
	for _, issue := range issues {
		placed := false
		for i := range trends {
			if similarity.Score(issue.Title, trends[i].Title) >= trendThreshold {
				appendToTrend(&trends[i], issue)
				placed = true
				break
			}
		}
		if !placed {
			trends = append(trends, types.IssueTrend{
				Title:      issue.Title,
				Count:      1,
				Severities: []string{string(issue.Severity)},
				FirstSeen:  issue.CreatedAt,
				LastSeen:   issue.CreatedAt,
				IssueIDs:   []string{issue.ID},
			})
		}
	}
	for i := range trends {
		sort.Strings(trends[i].Severities)
	}
	sort.SliceStable(trends, func(i, j int) bool { return trends[i].Count > trends[j].Count })
	return trends, nil
}

func appendToTrend(t *types.IssueTrend, issue types.Issue) {
	t.Count++
	t.IssueIDs = append(t.IssueIDs, issue.ID)
	if !containsString(t.Severities, string(issue.Severity)) {
		t.Severities = append(t.Severities, string(issue.Severity))
	}
	if issue.CreatedAt.Before(t.FirstSeen) {
		t.FirstSeen = issue.CreatedAt
	}
	if issue.CreatedAt.After(t.LastSeen) {
		t.LastSeen = issue.CreatedAt
	}
}

// DetectRegressions compares the run's new issues against what the
// previous comparable run reported as passing. Each regressed test yields
// one regression issue tied to its first matching new issue.
func (a *Analyzer) DetectRegressions(ctx context.Context, run *types.Run, issues []types.Issue) (int, error) {
	if len(issues) == 0 {
		return 0, nil
	}
	prev, err := a.store.PreviousCompletedRun(ctx, run.ProjectID, run.DeviceID, run.NetworkID, run.ID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load previous run: %w", err)
	}
	passed, err := a.testsPassed(ctx, prev.ID)
	if err != nil {
		return 0, err
	}
	if len(passed) == 0 {
		return 0, nil
	}

	count := 0
	for _, test := range passed {
		for _, issue := range issues {
			score := similarity.Score(issue.Title+" "+issue.Description, test)
			if score < regressionThreshold {
				continue
			}
			reg := &types.Issue{
				ID:        uuid.NewString(),
				ProjectID: run.ProjectID,
				Title:     "Regression: " + test,
				Description: fmt.Sprintf(
					"%q passed in run %s but now fails: %s (match %.3f)",
					test, prev.ID, issue.Title, round3(score)),
				Severity: issue.Severity,
				Category: "regression",
				Status:   types.IssueStatusOpen,
			}
			if err := a.store.CreateIssue(ctx, reg); err != nil {
				a.logger.Error("persist regression issue", zap.String("test", test), zap.Error(err))
				break
			}
			if err := a.store.LinkIssueToRun(ctx, reg.ID, run.ID); err != nil {
				a.logger.Warn("link regression issue", zap.Error(err))
			}
			a.appendEvent(ctx, run.ID, "warn", types.EventRegression, reg.Title, map[string]any{
				"test": test, "previous_run_id": prev.ID,
				"matched_issue_id": issue.ID, "score": round3(score),
			})
			a.logger.Warn("regression detected",
				zap.String("run_id", run.ID),
				zap.String("test", test),
				zap.String("matched_issue", issue.Title))
			count++
			break
		}
	}
	if count > 0 {
		a.appendEvent(ctx, run.ID, "warn", types.EventRegressionSummary,
			fmt.Sprintf("%d regressions against run %s", count, prev.ID),
			map[string]any{"count": count, "previous_run_id": prev.ID})
	}
	return count, nil
}

// testsPassed reads the tests_passed list out of a run's completion event.
func (a *Analyzer) testsPassed(ctx context.Context, runID string) ([]string, error) {
	events, err := a.store.EventsForRunByType(ctx, runID, types.EventRunComplete)
	if err != nil {
		return nil, fmt.Errorf("load completion event: %w", err)
	}
	if len(events) == 0 || len(events[0].Payload) == 0 {
		return nil, nil
	}
	var summary types.StructuredSummary
	if err := json.Unmarshal(events[0].Payload, &summary); err != nil {
		a.logger.Warn("unreadable completion payload", zap.String("run_id", runID), zap.Error(err))
		return nil, nil
	}
	return summary.TestsPassed, nil
}

func (a *Analyzer) appendEvent(ctx context.Context, runID, level, eventType, message string, payload any) {
	ev := &types.Event{RunID: runID, Level: level, Type: eventType, Message: message}
	if raw, err := json.Marshal(payload); err == nil {
		ev.Payload = raw
	}
	if err := a.store.AppendEvent(ctx, ev); err != nil {
		a.logger.Warn("append event", zap.String("run_id", runID), zap.Error(err))
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
