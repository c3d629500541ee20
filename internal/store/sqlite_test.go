package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sentinel/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRun(projectID string) *types.Run {
	return &types.Run{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		DeviceID:    "desktop-chrome",
		NetworkID:   "broadband",
		Locale:      "en-US",
		Persona:     "first_time_user",
		TargetURL:   "https://shop.example.com",
		Task:        "Navigate to https://shop.example.com and test checkout",
		TriggeredBy: "manual",
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := newTestRun("proj-1")
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunStatusRunning, got.Status)
	require.Nil(t, got.CompletedAt)

	require.NoError(t, s.CompleteRun(ctx, run.ID, types.RunResultIssueFound, 90*time.Second))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunStatusCompleted, got.Status)
	require.Equal(t, types.RunResultIssueFound, got.Result)
	require.EqualValues(t, 90000, got.DurationMS)
	require.NotNil(t, got.CompletedAt)
}

func TestFailRunUnknownID(t *testing.T) {
	s := newTestStore(t)
	err := s.FailRun(context.Background(), "nope", time.Second)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPreviousCompletedRunScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := newTestRun("proj-1")
	older.StartedAt = time.Now().Add(-2 * time.Hour).UTC()
	require.NoError(t, s.CreateRun(ctx, older))
	require.NoError(t, s.CompleteRun(ctx, older.ID, types.RunResultNoIssues, time.Minute))

	// Same project but different device: must not match.
	otherDevice := newTestRun("proj-1")
	otherDevice.DeviceID = "iphone-14"
	otherDevice.StartedAt = time.Now().Add(-time.Hour).UTC()
	require.NoError(t, s.CreateRun(ctx, otherDevice))
	require.NoError(t, s.CompleteRun(ctx, otherDevice.ID, types.RunResultNoIssues, time.Minute))

	current := newTestRun("proj-1")
	require.NoError(t, s.CreateRun(ctx, current))

	prev, err := s.PreviousCompletedRun(ctx, "proj-1", "desktop-chrome", "broadband", current.ID)
	require.NoError(t, err)
	require.Equal(t, older.ID, prev.ID)

	_, err = s.PreviousCompletedRun(ctx, "proj-1", "ipad", "broadband", current.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIssueCreateAndLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := newTestRun("proj-1")
	require.NoError(t, s.CreateRun(ctx, run))

	issue := &types.Issue{
		ID:        uuid.NewString(),
		ProjectID: "proj-1",
		Title:     "Checkout button unresponsive",
		Severity:  "p1", // lowercase on purpose
		Category:  "bogus",
	}
	require.NoError(t, s.CreateIssue(ctx, issue))
	require.NoError(t, s.LinkIssueToRun(ctx, issue.ID, run.ID))
	// Linking twice is a no-op.
	require.NoError(t, s.LinkIssueToRun(ctx, issue.ID, run.ID))

	issues, err := s.IssuesForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, types.SeverityP1, issues[0].Severity)
	require.Equal(t, "functional", issues[0].Category) // unknown category mapped
	require.Equal(t, types.IssueStatusOpen, issues[0].Status)
}

func TestMarkIssueFlaky(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := &types.Issue{ID: uuid.NewString(), ProjectID: "proj-1", Title: "Ghost error toast", Severity: types.SeverityP0}
	require.NoError(t, s.CreateIssue(ctx, issue))
	require.NoError(t, s.MarkIssueFlaky(ctx, issue.ID, types.SeverityP0.Downgrade()))

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.Equal(t, types.IssueStatusFlaky, got.Status)
	require.Equal(t, types.SeverityP1, got.Severity)
}

func TestRecentIssuesOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateIssue(ctx, &types.Issue{
			ID:        uuid.NewString(),
			ProjectID: "proj-1",
			Title:     "issue",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	issues, err := s.RecentIssues(ctx, "proj-1", 3)
	require.NoError(t, err)
	require.Len(t, issues, 3)
	require.True(t, issues[0].CreatedAt.After(issues[1].CreatedAt))
}

func TestEvidenceAndEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := newTestRun("proj-1")
	require.NoError(t, s.CreateRun(ctx, run))

	shot := &types.Evidence{ID: uuid.NewString(), RunID: run.ID, Kind: types.EvidenceScreenshot, Step: 3, Path: "/evidence/run/step_003.png"}
	require.NoError(t, s.InsertEvidence(ctx, shot))

	got, err := s.EvidenceForStep(ctx, run.ID, 3)
	require.NoError(t, err)
	require.Equal(t, shot.ID, got.ID)

	_, err = s.EvidenceForStep(ctx, run.ID, 9)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.AppendEvent(ctx, &types.Event{RunID: run.ID, Type: types.EventRunStart, Message: "run started"}))
	require.NoError(t, s.AppendEvent(ctx, &types.Event{
		RunID: run.ID, Type: types.EventRunComplete, Message: "done",
		Payload: []byte(`{"tests_passed":["login"]}`),
	}))

	events, err := s.EventsForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, types.EventRunStart, events[0].Type)

	complete, err := s.EventsForRunByType(ctx, run.ID, types.EventRunComplete)
	require.NoError(t, err)
	require.Len(t, complete, 1)
	require.JSONEq(t, `{"tests_passed":["login"]}`, string(complete[0].Payload))
}

func TestStepsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := newTestRun("proj-1")
	require.NoError(t, s.CreateRun(ctx, run))

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.InsertStep(ctx, &types.Step{
			RunID: run.ID, Seq: i, Action: "click", Status: "ok",
			Input: []byte(`{"selector":"#buy"}`),
		}))
	}

	steps, err := s.StepsForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	require.Equal(t, 1, steps[0].Seq)
	require.JSONEq(t, `{"selector":"#buy"}`, string(steps[0].Input))
}

func TestTelemetryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := newTestRun("proj-1")
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.InsertPerfMetric(ctx, &types.PerfMetric{
		RunID: run.ID, URL: run.TargetURL, Step: 1,
		LCPMs: 2400, CLS: 0.12, TTFBMs: 310, ResourceCount: 42, TotalTransferKB: 1800,
	}))
	metrics, err := s.PerfMetricsForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	require.Equal(t, 2400.0, metrics[0].LCPMs)

	require.NoError(t, s.InsertA11yViolation(ctx, &types.A11yViolation{
		RunID: run.ID, RuleID: "color-contrast", Impact: "serious", Description: "low contrast",
	}))
	violations, err := s.A11yViolationsForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Equal(t, "serious", violations[0].Impact)
}

func TestTargetsAndSeedDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SeedDefaults(ctx))

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, devices)

	dev, err := s.GetDevice(ctx, "iphone-14")
	require.NoError(t, err)
	require.True(t, dev.Mobile)
	require.True(t, dev.Touch)

	net, err := s.GetNetwork(ctx, "broadband")
	require.NoError(t, err)
	require.False(t, net.Throttled())

	net, err = s.GetNetwork(ctx, "slow-3g")
	require.NoError(t, err)
	require.True(t, net.Throttled())

	proj := &types.Project{ID: "proj-1", Name: "Shop", BaseURL: "https://shop.example.com", SensitiveKeys: []string{"session_token"}}
	require.NoError(t, s.UpsertProject(ctx, proj))
	got, err := s.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, []string{"session_token"}, got.SensitiveKeys)
}
