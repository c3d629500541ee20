// Package types holds the shared domain model for sentinel: runs, issues,
// evidence, and the structured summary agents report at the end of a session.
package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Severity is a P0-P3 triage level.
type Severity string

const (
	SeverityP0 Severity = "P0" // showstopper
	SeverityP1 Severity = "P1" // critical / blocker
	SeverityP2 Severity = "P2" // major
	SeverityP3 Severity = "P3" // minor / cosmetic
)

// NormalizeSeverity maps free-form severity text to a canonical level.
// Unknown or empty input defaults to P2.
func NormalizeSeverity(raw string) Severity {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "P0":
		return SeverityP0
	case "P1":
		return SeverityP1
	case "P2":
		return SeverityP2
	case "P3":
		return SeverityP3
	}
	return SeverityP2
}

// Downgrade returns the severity one step lower. P2 and P3 are unchanged;
// only P0 and P1 issues go through flaky verification.
func (s Severity) Downgrade() Severity {
	switch s {
	case SeverityP0:
		return SeverityP1
	case SeverityP1:
		return SeverityP2
	}
	return s
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunResult classifies a completed run.
type RunResult string

const (
	RunResultIssueFound        RunResult = "issue_found"
	RunResultNoIssues          RunResult = "no_issues"
	RunResultFlakyVerification RunResult = "flaky_verification"
)

// Run is a single QA session against a target URL.
type Run struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	DeviceID    string     `json:"device_id"`
	NetworkID   string     `json:"network_id"`
	Locale      string     `json:"locale"`
	Persona     string     `json:"persona"`
	TargetURL   string     `json:"target_url"`
	Task        string     `json:"task"`
	TriggeredBy string     `json:"triggered_by"` // manual, schedule, flaky_verification
	Status      RunStatus  `json:"status"`
	Result      RunResult  `json:"result,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
}

// IssueStatus tracks issue triage state.
type IssueStatus string

const (
	IssueStatusOpen  IssueStatus = "open"
	IssueStatusFlaky IssueStatus = "flaky"
)

// Issue is a persisted defect report.
type Issue struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Severity    Severity    `json:"severity"`
	Category    string      `json:"category"` // functional, visual, performance, accessibility, mobile, regression
	Status      IssueStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

// EvidenceKind distinguishes evidence artifacts.
type EvidenceKind string

const (
	EvidenceScreenshot EvidenceKind = "screenshot"
	EvidenceVideo      EvidenceKind = "video"
)

// Evidence is a captured artifact tied to a run and optionally a step.
type Evidence struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Kind      EvidenceKind `json:"kind"`
	Step      int          `json:"step,omitempty"`
	Path      string       `json:"path"`
	CreatedAt time.Time    `json:"created_at"`
}

// Event is a structured log entry in a run's timeline.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Level     string          `json:"level"` // info, warn, error
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Event types emitted during a run. The run_complete payload carries the
// structured summary and is read back by regression detection.
const (
	EventRunStart               = "run_start"
	EventRunComplete            = "run_complete"
	EventRunFailed              = "run_failed"
	EventStep                   = "step"
	EventRealtimeIssue          = "realtime_issue"
	EventParseWarning           = "parse_warning"
	EventUXConfusion            = "ux_confusion"
	EventLocaleIssue            = "locale_issue"
	EventCaptcha                = "captcha_encountered"
	EventRootCause              = "root_cause"
	EventRegression             = "regression_detected"
	EventRegressionSummary      = "regression_summary"
	EventFlakyDetectionStart    = "flaky_detection_start"
	EventFlakyConfirmed         = "flaky_confirmed"
	EventFlakyDetected          = "flaky_detected"
	EventFlakyDetectionComplete = "flaky_detection_complete"
	EventA11yViolation          = "a11y_violation"
)

// Step records one browser action taken by the agent.
type Step struct {
	RunID      string          `json:"run_id"`
	Seq        int             `json:"seq"`
	Action     string          `json:"action"`
	Input      json.RawMessage `json:"input,omitempty"`
	Status     string          `json:"status"` // ok, error
	DurationMS int64           `json:"duration_ms"`
	StartedAt  time.Time       `json:"started_at"`
}

// PerfMetric holds Core Web Vitals sampled from a page.
type PerfMetric struct {
	RunID              string    `json:"run_id"`
	URL                string    `json:"url"`
	Step               int       `json:"step"`
	LCPMs              float64   `json:"lcp_ms"`
	CLS                float64   `json:"cls"`
	TTFBMs             float64   `json:"ttfb_ms"`
	FCPMs              float64   `json:"fcp_ms"`
	DOMContentLoadedMs float64   `json:"dom_content_loaded_ms"`
	ResourceCount      int       `json:"resource_count"`
	TotalTransferKB    float64   `json:"total_transfer_kb"`
	CreatedAt          time.Time `json:"created_at"`
}

// A11yViolation is one axe-core rule violation found on a page.
type A11yViolation struct {
	RunID       string    `json:"run_id"`
	RuleID      string    `json:"rule_id"`
	Impact      string    `json:"impact"` // critical, serious, moderate, minor
	Description string    `json:"description"`
	Help        string    `json:"help"`
	Nodes       string    `json:"nodes"` // truncated sample of offending HTML
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// A11ySeverity maps an axe impact level to an issue severity.
func A11ySeverity(impact string) Severity {
	switch strings.ToLower(impact) {
	case "critical":
		return SeverityP0
	case "serious":
		return SeverityP1
	case "moderate":
		return SeverityP2
	}
	return SeverityP3
}

// Device is a browser emulation target.
type Device struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Kind           string  `json:"kind"` // desktop, mobile, tablet
	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	Scale          float64 `json:"scale"`
	Mobile         bool    `json:"mobile"`
	Touch          bool    `json:"touch"`
	UserAgent      string  `json:"user_agent"`
}

// Network is a throttling profile. All-zero fields mean no throttling.
type Network struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LatencyMs    int    `json:"latency_ms"`
	DownloadKbps int    `json:"download_kbps"`
	UploadKbps   int    `json:"upload_kbps"`
}

// Throttled reports whether this profile applies any network conditions.
func (n Network) Throttled() bool {
	return n.LatencyMs != 0 || n.DownloadKbps != 0 || n.UploadKbps != 0
}

// Project scopes runs and issues to one application under test.
type Project struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	BaseURL       string   `json:"base_url"`
	SensitiveKeys []string `json:"sensitive_keys,omitempty"`
	SlackChannel  string   `json:"slack_channel,omitempty"`
}

// ReportedIssue is one issue entry in the agent's structured summary, and
// also the payload of a realtime issue marker line.
type ReportedIssue struct {
	ID                    string   `json:"id,omitempty"`
	Severity              string   `json:"severity"`
	SeverityJustification string   `json:"severity_justification,omitempty"`
	Title                 string   `json:"title"`
	Description           string   `json:"description"`
	StepsToReproduce      []string `json:"steps_to_reproduce,omitempty"`
	Expected              string   `json:"expected,omitempty"`
	Actual                string   `json:"actual,omitempty"`
	ScreenshotStep        int      `json:"screenshot_step,omitempty"`
	Category              string   `json:"category,omitempty"`
}

// UXConfusionEvent records a moment where the persona could not find or
// understand something.
type UXConfusionEvent struct {
	Screen             string `json:"screen"`
	Intent             string `json:"intent"`
	ConfusionReason    string `json:"confusion_reason"`
	ExtraActionsNeeded int    `json:"extra_actions_needed,omitempty"`
	ScreenshotStep     int    `json:"screenshot_step,omitempty"`
}

// LocaleIssue records untranslated or mis-localized text.
type LocaleIssue struct {
	TextFound        string `json:"text_found"`
	ExpectedLanguage string `json:"expected_language"`
	Location         string `json:"location"`
	Type             string `json:"type"`
	ScreenshotStep   int    `json:"screenshot_step,omitempty"`
}

// StructuredSummary is the JSON document the agent emits when a session ends.
type StructuredSummary struct {
	Summary            string             `json:"summary"`
	URL                string             `json:"url,omitempty"`
	Device             string             `json:"device,omitempty"`
	Network            string             `json:"network,omitempty"`
	TestsPassed        []string           `json:"tests_passed"`
	CaptchaEncountered bool               `json:"captcha_encountered"`
	CaptchaDetails     string             `json:"captcha_details,omitempty"`
	Issues             []ReportedIssue    `json:"issues"`
	UXConfusionEvents  []UXConfusionEvent `json:"ux_confusion_events,omitempty"`
	LocaleIssues       []LocaleIssue      `json:"locale_issues,omitempty"`
	Recommendations    []string           `json:"recommendations,omitempty"`
}

// SimilarIssue pairs an issue with its similarity score against another.
type SimilarIssue struct {
	Issue Issue   `json:"issue"`
	Score float64 `json:"score"`
}

// IssueTrend is one cluster of recurring issues over a trailing window.
type IssueTrend struct {
	Title      string    `json:"title"`
	Count      int       `json:"count"`
	Severities []string  `json:"severities"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	IssueIDs   []string  `json:"issue_ids"`
}
