package intel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sentinel/internal/store"
	"sentinel/internal/types"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, store.RecordStore) {
	t.Helper()
	st, err := store.OpenSQLite(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.UpsertProject(context.Background(), &types.Project{
		ID: "proj", Name: "Demo", BaseURL: "https://demo.test",
	}))
	return NewAnalyzer(st, zaptest.NewLogger(t)), st
}

func mustIssue(t *testing.T, st store.RecordStore, title, desc string, sev types.Severity) types.Issue {
	t.Helper()
	issue := types.Issue{
		ID: uuid.NewString(), ProjectID: "proj",
		Title: title, Description: desc,
		Severity: sev, Category: "functional", Status: types.IssueStatusOpen,
	}
	require.NoError(t, st.CreateIssue(context.Background(), &issue))
	return issue
}

func TestSimilarIssuesRanksAndExcludes(t *testing.T) {
	a, st := newTestAnalyzer(t)
	ctx := context.Background()

	target := mustIssue(t, st, "Checkout button broken on payment page", "clicking checkout shows error", types.SeverityP0)
	near := mustIssue(t, st, "Checkout button broken payment flow", "checkout click produces error page", types.SeverityP1)
	mustIssue(t, st, "Footer logo misaligned", "logo off by 3px", types.SeverityP3)

	similar, err := a.SimilarIssues(ctx, "proj", target.ID, target.Title, target.Description, 0.35)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, near.ID, similar[0].Issue.ID)
	assert.GreaterOrEqual(t, similar[0].Score, 0.35)

	// The issue never matches itself.
	for _, s := range similar {
		assert.NotEqual(t, target.ID, s.Issue.ID)
	}
}

func TestSimilarIssuesLooserThresholdFindsMore(t *testing.T) {
	a, st := newTestAnalyzer(t)
	ctx := context.Background()

	mustIssue(t, st, "Login form rejects valid password", "login fails", types.SeverityP1)
	mustIssue(t, st, "Login page loads slowly", "slow login page render", types.SeverityP2)

	strict, err := a.SimilarIssues(ctx, "proj", "", "Login form rejects valid password", "login fails", 0.35)
	require.NoError(t, err)
	loose, err := a.SimilarIssues(ctx, "proj", "", "Login form rejects valid password", "login fails", 0.25)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(loose), len(strict))
}

func TestTrendsClusterBySimilarity(t *testing.T) {
	a, st := newTestAnalyzer(t)

	mustIssue(t, st, "Cart total wrong after coupon", "", types.SeverityP1)
	mustIssue(t, st, "Cart total wrong after applying coupon code", "", types.SeverityP0)
	mustIssue(t, st, "Cart total incorrect with coupon", "", types.SeverityP1)
	mustIssue(t, st, "Search returns no results", "", types.SeverityP2)

	trends, err := a.Trends(context.Background(), "proj", 30)
	require.NoError(t, err)
	require.Len(t, trends, 2)

	assert.Equal(t, 3, trends[0].Count, "biggest cluster first")
	assert.Len(t, trends[0].IssueIDs, 3)
	assert.Equal(t, []string{"P0", "P1"}, trends[0].Severities)
	assert.False(t, trends[0].LastSeen.Before(trends[0].FirstSeen))
	assert.Equal(t, 1, trends[1].Count)
}

func completedRun(t *testing.T, st store.RecordStore, deviceID string, testsPassed []string, at time.Time) *types.Run {
	t.Helper()
	ctx := context.Background()
	run := &types.Run{
		ID: uuid.NewString(), ProjectID: "proj",
		DeviceID: deviceID, NetworkID: "broadband",
		TargetURL: "https://demo.test", Task: "smoke",
		TriggeredBy: "schedule", Status: types.RunStatusRunning,
		StartedAt: at,
	}
	require.NoError(t, st.CreateRun(ctx, run))
	require.NoError(t, st.CompleteRun(ctx, run.ID, types.RunResultNoIssues, time.Minute))
	payload, err := json.Marshal(types.StructuredSummary{TestsPassed: testsPassed})
	require.NoError(t, err)
	require.NoError(t, st.AppendEvent(ctx, &types.Event{
		RunID: run.ID, Level: "info", Type: types.EventRunComplete,
		Message: "run completed", Payload: payload,
	}))
	return run
}

func TestDetectRegressions(t *testing.T) {
	a, st := newTestAnalyzer(t)
	ctx := context.Background()

	prev := completedRun(t, st, "desktop-chrome",
		[]string{"checkout flow completes successfully", "search returns relevant results"},
		time.Now().UTC().Add(-time.Hour))

	current := &types.Run{
		ID: uuid.NewString(), ProjectID: "proj",
		DeviceID: "desktop-chrome", NetworkID: "broadband",
		TargetURL: "https://demo.test", TriggeredBy: "schedule",
		Status: types.RunStatusRunning, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateRun(ctx, current))

	issues := []types.Issue{
		mustIssue(t, st, "Checkout flow fails at payment", "checkout flow errors before completing successfully", types.SeverityP0),
	}
	for _, issue := range issues {
		require.NoError(t, st.LinkIssueToRun(ctx, issue.ID, current.ID))
	}

	count, err := a.DetectRegressions(ctx, current, issues)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only the checkout test regressed")

	linked, err := st.IssuesForRun(ctx, current.ID)
	require.NoError(t, err)
	var reg *types.Issue
	for i := range linked {
		if linked[i].Category == "regression" {
			reg = &linked[i]
		}
	}
	require.NotNil(t, reg)
	assert.Equal(t, types.SeverityP0, reg.Severity, "severity inherited from the matched issue")
	assert.Contains(t, reg.Description, prev.ID)

	events, err := st.EventsForRunByType(ctx, current.ID, types.EventRegressionSummary)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestDetectRegressionsOnePerPassedTest(t *testing.T) {
	a, st := newTestAnalyzer(t)
	ctx := context.Background()

	completedRun(t, st, "desktop-chrome",
		[]string{"checkout flow completes successfully"},
		time.Now().UTC().Add(-time.Hour))

	current := &types.Run{
		ID: uuid.NewString(), ProjectID: "proj",
		DeviceID: "desktop-chrome", NetworkID: "broadband",
		TargetURL: "https://demo.test", TriggeredBy: "schedule",
		Status: types.RunStatusRunning, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateRun(ctx, current))

	// Both issues match the single passed test; only the first counts.
	issues := []types.Issue{
		mustIssue(t, st, "Checkout flow fails at payment", "checkout flow no longer completes successfully", types.SeverityP0),
		mustIssue(t, st, "Checkout flow completes with wrong total", "checkout flow completes successfully but charges twice", types.SeverityP1),
	}
	for _, issue := range issues {
		require.NoError(t, st.LinkIssueToRun(ctx, issue.ID, current.ID))
	}

	count, err := a.DetectRegressions(ctx, current, issues)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	linked, err := st.IssuesForRun(ctx, current.ID)
	require.NoError(t, err)
	var regs []types.Issue
	for _, issue := range linked {
		if issue.Category == "regression" {
			regs = append(regs, issue)
		}
	}
	require.Len(t, regs, 1)
	assert.Equal(t, types.SeverityP0, regs[0].Severity, "inherits from the first matching issue")
}

func TestDetectRegressionsNoPreviousRun(t *testing.T) {
	a, st := newTestAnalyzer(t)
	ctx := context.Background()

	current := &types.Run{
		ID: uuid.NewString(), ProjectID: "proj",
		DeviceID: "pixel-7", NetworkID: "slow-3g",
		Status: types.RunStatusRunning, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateRun(ctx, current))

	count, err := a.DetectRegressions(ctx, current,
		[]types.Issue{{ID: "x", Title: "anything", Severity: types.SeverityP1}})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDetectRegressionsSkipsWhenNothingPassed(t *testing.T) {
	a, st := newTestAnalyzer(t)
	ctx := context.Background()

	completedRun(t, st, "ipad", nil, time.Now().UTC().Add(-time.Hour))
	current := &types.Run{
		ID: uuid.NewString(), ProjectID: "proj",
		DeviceID: "ipad", NetworkID: "broadband",
		Status: types.RunStatusRunning, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateRun(ctx, current))

	count, err := a.DetectRegressions(ctx, current,
		[]types.Issue{{ID: "x", Title: "broken thing", Severity: types.SeverityP1}})
	require.NoError(t, err)
	assert.Zero(t, count)
}
