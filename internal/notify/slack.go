// Package notify pushes run findings to Slack. Delivery is best-effort:
// a dead webhook never fails a run.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sentinel/internal/orchestrate"
	"sentinel/internal/types"
)

// defaultOwners routes issue categories to team channels when no explicit
// routing is configured.
var defaultOwners = map[string]string{
	"functional":    "backend",
	"visual":        "frontend",
	"accessibility": "ux",
	"mobile":        "frontend",
	"performance":   "backend",
	"regression":    "backend",
}

// Slack posts messages to an incoming webhook.
type Slack struct {
	webhookURL string
	owners     map[string]string
	client     *http.Client
	logger     *zap.Logger
}

// NewSlack builds a notifier. An empty webhook URL yields a notifier that
// silently drops everything, which keeps call sites unconditional.
// owners overrides the default category to owner routing; nil keeps it.
func NewSlack(webhookURL string, owners map[string]string, logger *zap.Logger) *Slack {
	merged := make(map[string]string, len(defaultOwners))
	for k, v := range defaultOwners {
		merged[k] = v
	}
	for k, v := range owners {
		merged[strings.ToLower(k)] = v
	}
	return &Slack{
		webhookURL: webhookURL,
		owners:     merged,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Owner returns the team that triages a category.
func (s *Slack) Owner(category string) string {
	if owner, ok := s.owners[strings.ToLower(category)]; ok {
		return owner
	}
	return s.owners["functional"]
}

// NotifyRealtimeIssue announces a confirmed mid-session finding.
func (s *Slack) NotifyRealtimeIssue(ctx context.Context, run *types.Run, issue orchestrate.RealtimeIssue, screenshots []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *[%s] %s*\n", issue.Severity, issue.Title)
	fmt.Fprintf(&b, "%s\n", issue.Description)
	fmt.Fprintf(&b, "Owner: %s | Run: %s | Target: %s", s.Owner(issue.Category), run.ID, run.TargetURL)
	if len(screenshots) > 0 {
		fmt.Fprintf(&b, "\nScreenshots: %s", strings.Join(screenshots, ", "))
	}
	return s.post(ctx, b.String())
}

// NotifyRunSummary posts the end-of-run digest.
func (s *Slack) NotifyRunSummary(ctx context.Context, run *types.Run, summary *types.StructuredSummary, issueCount int) error {
	icon := "✅"
	if issueCount > 0 {
		icon = "⚠️"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *QA run %s complete*\n", icon, run.ID)
	fmt.Fprintf(&b, "Target: %s | Device: %s | Network: %s | Persona: %s\n",
		run.TargetURL, run.DeviceID, run.NetworkID, run.Persona)
	fmt.Fprintf(&b, "Issues: %d | Passed checks: %d\n", issueCount, len(summary.TestsPassed))
	if summary.Summary != "" {
		b.WriteString(summary.Summary)
	}
	if summary.CaptchaEncountered {
		b.WriteString("\nA CAPTCHA blocked part of the session.")
	}
	return s.post(ctx, b.String())
}

// NotifyFlakySummary reports the verification verdicts for a run.
func (s *Slack) NotifyFlakySummary(ctx context.Context, run *types.Run, confirmed, flaky []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "🔁 *Flaky verification for run %s*\n", run.ID)
	if len(confirmed) > 0 {
		fmt.Fprintf(&b, "Confirmed: %s\n", strings.Join(confirmed, "; "))
	}
	if len(flaky) > 0 {
		fmt.Fprintf(&b, "Flaky (downgraded): %s", strings.Join(flaky, "; "))
	}
	return s.post(ctx, b.String())
}

func (s *Slack) post(ctx context.Context, text string) error {
	if s.webhookURL == "" {
		s.logger.Debug("slack skipped: webhook not configured")
		return nil
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}
