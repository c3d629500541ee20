package orchestrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinel/internal/agent"
	"sentinel/internal/browser"
	"sentinel/internal/prompt"
	"sentinel/internal/similarity"
	"sentinel/internal/types"
)

const (
	// flakyMaxIssues caps how many issues fit one verification task.
	flakyMaxIssues = 5
	// flakyRounds is how many verification re-runs are attempted.
	flakyRounds = 2
	// flakyQuorum is the reproductions (original run included) needed to
	// confirm an issue out of flakyRounds+1 total observations.
	flakyQuorum = 2
	// flakyMatchThreshold matches a re-reported issue back to the original.
	flakyMatchThreshold = 0.3
)

// verifyFlaky re-runs the session against the high-severity issues the
// final summary reported. Issues that fail the reproduction quorum are
// marked flaky and downgraded one severity step.
func (e *Executor) verifyFlaky(ctx context.Context, run *types.Run, device *types.Device, network *types.Network, issues []types.Issue, scanner *realtimeScanner, logger *zap.Logger) {
	var candidates []types.Issue
	for _, issue := range issues {
		if issue.Severity != types.SeverityP0 && issue.Severity != types.SeverityP1 {
			continue
		}
		if issue.Category == "accessibility" || scanner.SeenTitle(issue.Title) {
			continue
		}
		candidates = append(candidates, issue)
		if len(candidates) == flakyMaxIssues {
			break
		}
	}
	if len(candidates) == 0 {
		return
	}

	titles := make([]string, len(candidates))
	for i, c := range candidates {
		titles[i] = c.Title
	}
	logger.Info("flaky verification starting", zap.Strings("titles", titles))
	e.appendEvent(ctx, run.ID, "info", types.EventFlakyDetectionStart,
		fmt.Sprintf("verifying %d issues", len(candidates)),
		map[string]any{"titles": titles})

	// The original run counts as the first observation of each issue.
	reproduced := make(map[string]int, len(candidates))
	attempts := flakyRounds + 1
	for _, c := range candidates {
		reproduced[c.Title] = 1
	}

	task := prompt.VerificationTask(run.TargetURL, candidates)
	for round := 1; round <= flakyRounds; round++ {
		summary, err := e.verificationRound(ctx, run, device, network, task, round, logger)
		if err != nil {
			// A failed round is a non-reproduction, not a verification failure.
			logger.Warn("flaky verification round failed",
				zap.Int("round", round), zap.Error(err))
			continue
		}
		for _, c := range candidates {
			for _, ri := range summary.Issues {
				if similarity.Score(ri.Title+" "+ri.Description, c.Title) >= flakyMatchThreshold {
					reproduced[c.Title]++
					break
				}
			}
		}
	}

	var confirmed, flaky []string
	for _, c := range candidates {
		hits := reproduced[c.Title]
		if hits >= flakyQuorum {
			confirmed = append(confirmed, c.Title)
			e.appendEvent(ctx, run.ID, "info", types.EventFlakyConfirmed, c.Title,
				map[string]any{"issue_id": c.ID, "reproduced": hits, "attempts": attempts})
			continue
		}
		downgraded := c.Severity.Downgrade()
		if err := e.store.MarkIssueFlaky(ctx, c.ID, downgraded); err != nil {
			logger.Error("mark issue flaky", zap.String("issue_id", c.ID), zap.Error(err))
		}
		flaky = append(flaky, c.Title)
		e.appendEvent(ctx, run.ID, "warn", types.EventFlakyDetected, c.Title,
			map[string]any{
				"issue_id": c.ID, "reproduced": hits, "attempts": attempts,
				"severity": string(c.Severity), "downgraded_to": string(downgraded),
			})
		logger.Warn("issue marked flaky",
			zap.String("title", c.Title),
			zap.String("downgraded_to", string(downgraded)))
	}

	e.appendEvent(ctx, run.ID, "info", types.EventFlakyDetectionComplete,
		fmt.Sprintf("%d confirmed, %d flaky", len(confirmed), len(flaky)),
		map[string]any{"confirmed": confirmed, "flaky": flaky})

	if e.notifier != nil && len(flaky) > 0 {
		if err := e.notifier.NotifyFlakySummary(ctx, run, confirmed, flaky); err != nil {
			logger.Warn("flaky summary notification", zap.Error(err))
		}
	}
}

// verificationRound executes one stripped-down re-run and returns its
// parsed summary. The round gets its own run record and browser session
// but no realtime channel, telemetry, or downstream analysis.
func (e *Executor) verificationRound(ctx context.Context, parent *types.Run, device *types.Device, network *types.Network, task string, round int, logger *zap.Logger) (*types.StructuredSummary, error) {
	run := &types.Run{
		ID:          uuid.NewString(),
		ProjectID:   parent.ProjectID,
		DeviceID:    parent.DeviceID,
		NetworkID:   parent.NetworkID,
		Locale:      parent.Locale,
		Persona:     parent.Persona,
		TargetURL:   parent.TargetURL,
		Task:        task,
		TriggeredBy: "flaky_verification",
		Status:      types.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create verification run: %w", err)
	}
	rlog := logger.With(zap.String("verification_run_id", run.ID), zap.Int("round", round))
	rlog.Info("verification round starting")

	session, err := e.sessions(ctx, run.ID, browser.SessionOptions{
		Device:  *device,
		Network: *network,
		Locale:  run.Locale,
	})
	if err != nil {
		e.failVerification(ctx, run, rlog)
		return nil, fmt.Errorf("open verification session: %w", err)
	}

	systemPrompt := prompt.System(prompt.Params{
		DeviceLabel:  device.Name,
		NetworkLabel: network.Name,
		TargetURL:    run.TargetURL,
		PersonaKey:   run.Persona,
		Locale:       run.Locale,
	})
	finalText, err := e.loop.Run(ctx, systemPrompt, task,
		[]agent.ToolDefinition{browser.ToolDefinition()}, session.Executor(), agent.Callbacks{})
	if _, cerr := session.Close(); cerr != nil {
		rlog.Warn("close verification session", zap.Error(cerr))
	}
	if err != nil {
		e.failVerification(ctx, run, rlog)
		return nil, fmt.Errorf("verification loop: %w", err)
	}

	summary, err := ParseSummary(finalText)
	if err != nil {
		e.failVerification(ctx, run, rlog)
		return nil, fmt.Errorf("parse verification summary: %w", err)
	}
	if err := e.store.CompleteRun(ctx, run.ID, types.RunResultFlakyVerification, time.Since(run.StartedAt)); err != nil {
		rlog.Error("complete verification run", zap.Error(err))
	}
	rlog.Info("verification round completed", zap.Int("reported_issues", len(summary.Issues)))
	return summary, nil
}

func (e *Executor) failVerification(ctx context.Context, run *types.Run, logger *zap.Logger) {
	if err := e.store.FailRun(ctx, run.ID, time.Since(run.StartedAt)); err != nil {
		logger.Error("mark verification run failed", zap.Error(err))
	}
}
