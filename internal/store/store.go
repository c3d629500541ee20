// Package store persists runs, issues, evidence, and run telemetry.
// The canonical implementation is SQLite; everything above it talks to
// the RecordStore interface.
package store

import (
	"context"
	"errors"
	"time"

	"sentinel/internal/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// RecordStore is the persistence boundary for the orchestrator.
type RecordStore interface {
	// Runs
	CreateRun(ctx context.Context, run *types.Run) error
	CompleteRun(ctx context.Context, runID string, result types.RunResult, duration time.Duration) error
	FailRun(ctx context.Context, runID string, duration time.Duration) error
	GetRun(ctx context.Context, runID string) (*types.Run, error)
	ListRuns(ctx context.Context, projectID string, limit int) ([]types.Run, error)
	// PreviousCompletedRun returns the most recent completed run for the
	// same project, device, and network, excluding excludeRunID.
	PreviousCompletedRun(ctx context.Context, projectID, deviceID, networkID, excludeRunID string) (*types.Run, error)

	// Issues
	CreateIssue(ctx context.Context, issue *types.Issue) error
	LinkIssueToRun(ctx context.Context, issueID, runID string) error
	IssuesForRun(ctx context.Context, runID string) ([]types.Issue, error)
	RecentIssues(ctx context.Context, projectID string, limit int) ([]types.Issue, error)
	GetIssue(ctx context.Context, issueID string) (*types.Issue, error)
	// MarkIssueFlaky sets status to flaky and applies the downgraded severity.
	MarkIssueFlaky(ctx context.Context, issueID string, downgraded types.Severity) error
	IssuesSince(ctx context.Context, projectID string, since time.Time) ([]types.Issue, error)

	// Evidence
	InsertEvidence(ctx context.Context, ev *types.Evidence) error
	LinkEvidenceToIssue(ctx context.Context, evidenceID, issueID string) error
	EvidenceForRun(ctx context.Context, runID string) ([]types.Evidence, error)
	EvidenceForStep(ctx context.Context, runID string, step int) (*types.Evidence, error)

	// Run timeline
	AppendEvent(ctx context.Context, ev *types.Event) error
	EventsForRun(ctx context.Context, runID string) ([]types.Event, error)
	EventsForRunByType(ctx context.Context, runID, eventType string) ([]types.Event, error)
	InsertStep(ctx context.Context, step *types.Step) error
	StepsForRun(ctx context.Context, runID string) ([]types.Step, error)

	// Telemetry
	InsertPerfMetric(ctx context.Context, m *types.PerfMetric) error
	PerfMetricsForRun(ctx context.Context, runID string) ([]types.PerfMetric, error)
	InsertA11yViolation(ctx context.Context, v *types.A11yViolation) error
	A11yViolationsForRun(ctx context.Context, runID string) ([]types.A11yViolation, error)

	// Targets
	GetDevice(ctx context.Context, id string) (*types.Device, error)
	ListDevices(ctx context.Context) ([]types.Device, error)
	UpsertDevice(ctx context.Context, d *types.Device) error
	GetNetwork(ctx context.Context, id string) (*types.Network, error)
	ListNetworks(ctx context.Context) ([]types.Network, error)
	UpsertNetwork(ctx context.Context, n *types.Network) error
	GetProject(ctx context.Context, id string) (*types.Project, error)
	UpsertProject(ctx context.Context, p *types.Project) error

	Close() error
}
