package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinel/internal/agent"
	"sentinel/internal/browser"
	"sentinel/internal/intel"
	"sentinel/internal/prompt"
	"sentinel/internal/store"
	"sentinel/internal/types"
)

// postRunSimilarity is the root-cause threshold applied right after a run;
// interactive discovery uses a looser 0.25.
const postRunSimilarity = 0.35

// BrowserSession is the slice of a live browser session the executor uses.
// *browser.Session satisfies it.
type BrowserSession interface {
	Executor() agent.ToolExecutor
	CurrentURL() string
	ConsoleErrors() []string
	PerfMetrics(ctx context.Context, step int) (*types.PerfMetric, error)
	A11yAudit(ctx context.Context) ([]types.A11yViolation, error)
	Close() (string, error)
}

// SessionOpener opens an isolated browser session for one run.
type SessionOpener func(ctx context.Context, runID string, opts browser.SessionOptions) (BrowserSession, error)

// Notifier pushes findings to the outside world. Implementations are
// best-effort; the executor logs and ignores their errors.
type Notifier interface {
	NotifyRealtimeIssue(ctx context.Context, run *types.Run, issue RealtimeIssue, screenshots []string) error
	NotifyRunSummary(ctx context.Context, run *types.Run, summary *types.StructuredSummary, issueCount int) error
	NotifyFlakySummary(ctx context.Context, run *types.Run, confirmed, flaky []string) error
}

// RunRequest describes one run to execute.
type RunRequest struct {
	// RunID preassigns the run id so callers can hand it out before the
	// run record exists. Empty means generate one.
	RunID       string            `json:"-"`
	ProjectID   string            `json:"project_id"`
	DeviceID    string            `json:"device_id"`
	NetworkID   string            `json:"network_id"`
	Locale      string            `json:"locale"`
	Persona     string            `json:"persona"`
	TargetURL   string            `json:"target_url"`
	Task        string            `json:"task"`
	InputData   map[string]string `json:"input_data,omitempty"`
	TriggeredBy string            `json:"triggered_by,omitempty"`
}

// Executor runs QA sessions end to end.
type Executor struct {
	store        store.RecordStore
	loop         agent.Loop
	sessions     SessionOpener
	notifier     Notifier
	analyzer     *intel.Analyzer
	evidenceRoot string
	logger       *zap.Logger
}

// NewExecutor wires an executor. notifier may be nil.
func NewExecutor(st store.RecordStore, loop agent.Loop, sessions SessionOpener, notifier Notifier, analyzer *intel.Analyzer, evidenceRoot string, logger *zap.Logger) *Executor {
	return &Executor{
		store:        st,
		loop:         loop,
		sessions:     sessions,
		notifier:     notifier,
		analyzer:     analyzer,
		evidenceRoot: evidenceRoot,
		logger:       logger,
	}
}

// runState tracks per-run progress shared between loop callbacks.
type runState struct {
	mu          sync.Mutex
	seq         int
	screenshots []string // paths, most recent last, capped at 3
}

func (rs *runState) currentStep() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.seq
}

func (rs *runState) nextStep() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.seq++
	return rs.seq
}

func (rs *runState) addScreenshot(path string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.screenshots = append(rs.screenshots, path)
	if len(rs.screenshots) > 3 {
		rs.screenshots = rs.screenshots[len(rs.screenshots)-3:]
	}
}

func (rs *runState) recentScreenshots() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]string, len(rs.screenshots))
	copy(out, rs.screenshots)
	return out
}

// Start launches a run in the background and returns its id immediately.
// Failures surface through the run's status and events.
func (e *Executor) Start(req RunRequest) string {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	id := req.RunID
	go func() {
		if _, err := e.Execute(context.Background(), req); err != nil {
			e.logger.Error("background run failed", zap.String("run_id", id), zap.Error(err))
		}
	}()
	return id
}

// Execute performs one full run. The returned run carries the final status
// even when err is non-nil.
func (e *Executor) Execute(ctx context.Context, req RunRequest) (*types.Run, error) {
	project, err := e.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", req.ProjectID, err)
	}
	device, err := e.store.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("load device %s: %w", req.DeviceID, err)
	}
	network, err := e.store.GetNetwork(ctx, req.NetworkID)
	if err != nil {
		return nil, fmt.Errorf("load network %s: %w", req.NetworkID, err)
	}
	if req.Locale == "" {
		req.Locale = "en-US"
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "manual"
	}
	if req.TargetURL == "" {
		req.TargetURL = project.BaseURL
	}

	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	run := &types.Run{
		ID:          req.RunID,
		ProjectID:   req.ProjectID,
		DeviceID:    req.DeviceID,
		NetworkID:   req.NetworkID,
		Locale:      req.Locale,
		Persona:     req.Persona,
		TargetURL:   req.TargetURL,
		Task:        req.Task,
		TriggeredBy: req.TriggeredBy,
		Status:      types.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	logger := e.logger.With(zap.String("run_id", run.ID), zap.String("project_id", run.ProjectID))
	masked := MaskInputData(req.InputData, project.SensitiveKeys)
	logger.Info("run starting",
		zap.String("device", device.Name),
		zap.String("network", network.Name),
		zap.String("locale", run.Locale),
		zap.String("persona", run.Persona),
		zap.Any("input_data", masked))
	e.appendEvent(ctx, run.ID, "info", types.EventRunStart, "run started", map[string]any{
		"device": device.Name, "network": network.Name,
		"locale": run.Locale, "persona": run.Persona, "input_data": masked,
	})

	evidenceDir := filepath.Join(e.evidenceRoot, run.ID)
	if err := os.MkdirAll(evidenceDir, 0o755); err != nil {
		return e.failRun(ctx, run, logger, fmt.Errorf("evidence dir: %w", err))
	}

	session, err := e.sessions(ctx, run.ID, browser.SessionOptions{
		Device:   *device,
		Network:  *network,
		Locale:   run.Locale,
		VideoDir: filepath.Join(evidenceDir, "video"),
	})
	if err != nil {
		return e.failRun(ctx, run, logger, fmt.Errorf("open browser session: %w", err))
	}

	state := &runState{}
	scanner := newRealtimeScanner(logger)
	queue := newNotifyQueue(logger)

	maskAll := func(text string) string {
		return MaskText(text, req.InputData, project.SensitiveKeys)
	}

	cb := agent.Callbacks{
		OnOutput: func(text string) {
			for _, ri := range scanner.Scan(run.ID, maskAll(text)) {
				e.persistRealtimeIssue(ctx, run, ri, state, queue, logger)
			}
		},
		OnToolResult: func(call agent.ToolCall, result agent.ToolResult, elapsed time.Duration) {
			step := state.nextStep()
			e.persistStep(ctx, run.ID, step, call, result, elapsed, evidenceDir, state, logger)
		},
		OnAPIResponse: func(meta agent.ResponseMeta) {
			logger.Debug("model round trip",
				zap.Int("turn", meta.Turn),
				zap.String("stop_reason", meta.StopReason),
				zap.Int("input_tokens", meta.InputTokens),
				zap.Int("output_tokens", meta.OutputTokens))
		},
	}

	systemPrompt := prompt.System(prompt.Params{
		DeviceLabel:  device.Name,
		NetworkLabel: network.Name,
		TargetURL:    run.TargetURL,
		PersonaKey:   run.Persona,
		Locale:       run.Locale,
	})
	task := prompt.ComposeTask(run.TargetURL, run.Task, req.InputData)

	finalText, loopErr := e.loop.Run(ctx, systemPrompt, task,
		[]agent.ToolDefinition{browser.ToolDefinition()}, session.Executor(), cb)

	if loopErr != nil {
		queue.close()
		e.closeSession(ctx, run, session, logger)
		return e.failRun(ctx, run, logger, fmt.Errorf("agent loop: %w", loopErr))
	}

	summary, parseErr := ParseSummary(maskAll(finalText))
	if parseErr != nil {
		logger.Warn("structured summary missing, completing without issues", zap.Error(parseErr))
		e.appendEvent(ctx, run.ID, "warn", types.EventParseWarning,
			"agent output had no parseable structured summary", map[string]any{
				"output_tail": tail(finalText, 500),
			})
		summary = &types.StructuredSummary{}
	}

	issues := e.persistSummary(ctx, run, summary, scanner, logger)

	// Telemetry is sampled before the session goes away.
	e.collectTelemetry(ctx, run, session, state, logger)
	e.closeSession(ctx, run, session, logger)

	duration := time.Since(run.StartedAt)
	result := types.RunResultNoIssues
	if len(issues) > 0 || scanner.count() > 0 {
		result = types.RunResultIssueFound
	}
	if err := e.store.CompleteRun(ctx, run.ID, result, duration); err != nil {
		logger.Error("complete run", zap.Error(err))
	}
	run.Status = types.RunStatusCompleted
	run.Result = result
	run.DurationMS = duration.Milliseconds()
	now := time.Now().UTC()
	run.CompletedAt = &now

	e.appendEvent(ctx, run.ID, "info", types.EventRunComplete, "run completed", summary)
	logger.Info("run completed",
		zap.Duration("duration", duration),
		zap.String("result", string(result)),
		zap.Int("issues", len(issues)))

	// Downstream analysis is best-effort: failures log, the run stands.
	e.annotateRootCauses(ctx, run, issues, logger)
	if e.analyzer != nil {
		if _, err := e.analyzer.DetectRegressions(ctx, run, issues); err != nil {
			logger.Warn("regression detection", zap.Error(err))
		}
	}
	if run.TriggeredBy != "flaky_verification" {
		e.verifyFlaky(ctx, run, device, network, issues, scanner, logger)
	}

	if e.notifier != nil {
		queue.enqueue(func(qctx context.Context) {
			if err := e.notifier.NotifyRunSummary(qctx, run, summary, len(issues)); err != nil {
				logger.Warn("run summary notification", zap.Error(err))
			}
		})
	}
	queue.close()
	return run, nil
}

func (e *Executor) failRun(ctx context.Context, run *types.Run, logger *zap.Logger, cause error) (*types.Run, error) {
	duration := time.Since(run.StartedAt)
	if err := e.store.FailRun(ctx, run.ID, duration); err != nil {
		logger.Error("mark run failed", zap.Error(err))
	}
	run.Status = types.RunStatusFailed
	run.DurationMS = duration.Milliseconds()
	e.appendEvent(ctx, run.ID, "error", types.EventRunFailed, cause.Error(), nil)
	logger.Error("run failed", zap.Error(cause), zap.Duration("duration", duration))
	return run, cause
}

func (e *Executor) closeSession(ctx context.Context, run *types.Run, session BrowserSession, logger *zap.Logger) {
	videoPath, err := session.Close()
	if err != nil {
		logger.Warn("close browser session", zap.Error(err))
	}
	if videoPath == "" {
		return
	}
	ev := &types.Evidence{
		ID:    uuid.NewString(),
		RunID: run.ID,
		Kind:  types.EvidenceVideo,
		Path:  videoPath,
	}
	if err := e.store.InsertEvidence(ctx, ev); err != nil {
		logger.Warn("persist video evidence", zap.Error(err))
	}
}

func (e *Executor) persistStep(ctx context.Context, runID string, step int, call agent.ToolCall, result agent.ToolResult, elapsed time.Duration, evidenceDir string, state *runState, logger *zap.Logger) {
	action, _ := call.Input["action"].(string)
	status := "ok"
	if result.IsError {
		status = "error"
	}
	input, _ := json.Marshal(call.Input)
	st := &types.Step{
		RunID:      runID,
		Seq:        step,
		Action:     action,
		Input:      input,
		Status:     status,
		DurationMS: elapsed.Milliseconds(),
		StartedAt:  time.Now().UTC().Add(-elapsed),
	}
	if err := e.store.InsertStep(ctx, st); err != nil {
		logger.Warn("persist step", zap.Int("seq", step), zap.Error(err))
	}
	e.appendEvent(ctx, runID, "info", types.EventStep, fmt.Sprintf("step %d: %s (%s)", step, action, status), nil)

	if len(result.ImagePNG) == 0 {
		return
	}
	path := filepath.Join(evidenceDir, fmt.Sprintf("step_%03d.png", step))
	if err := os.WriteFile(path, result.ImagePNG, 0o644); err != nil {
		logger.Warn("write screenshot", zap.Int("seq", step), zap.Error(err))
		return
	}
	ev := &types.Evidence{
		ID:    uuid.NewString(),
		RunID: runID,
		Kind:  types.EvidenceScreenshot,
		Step:  step,
		Path:  path,
	}
	if err := e.store.InsertEvidence(ctx, ev); err != nil {
		logger.Warn("persist screenshot evidence", zap.Int("seq", step), zap.Error(err))
		return
	}
	state.addScreenshot(path)
}

func (e *Executor) persistRealtimeIssue(ctx context.Context, run *types.Run, ri RealtimeIssue, state *runState, queue *notifyQueue, logger *zap.Logger) {
	issue := &types.Issue{
		ID:          uuid.NewString(),
		ProjectID:   run.ProjectID,
		Title:       ri.Title,
		Description: ri.Description,
		Severity:    types.NormalizeSeverity(ri.Severity),
		Category:    ri.Category,
		Status:      types.IssueStatusOpen,
	}
	if err := e.store.CreateIssue(ctx, issue); err != nil {
		logger.Error("persist realtime issue", zap.String("title", ri.Title), zap.Error(err))
		return
	}
	if err := e.store.LinkIssueToRun(ctx, issue.ID, run.ID); err != nil {
		logger.Warn("link realtime issue", zap.Error(err))
	}
	if ev, err := e.store.EvidenceForStep(ctx, run.ID, state.currentStep()); err == nil && ev != nil {
		if err := e.store.LinkEvidenceToIssue(ctx, ev.ID, issue.ID); err != nil {
			logger.Warn("link realtime evidence", zap.Error(err))
		}
	}
	e.appendEvent(ctx, run.ID, "warn", types.EventRealtimeIssue, ri.Title, ri)
	logger.Warn("realtime issue reported",
		zap.String("title", ri.Title), zap.String("severity", string(issue.Severity)))

	if e.notifier != nil {
		shots := state.recentScreenshots()
		queue.enqueue(func(qctx context.Context) {
			if err := e.notifier.NotifyRealtimeIssue(qctx, run, ri, shots); err != nil {
				logger.Warn("realtime notification", zap.Error(err))
			}
		})
	}
}

// persistSummary stores the issues and intelligence events from the parsed
// summary, skipping issues already captured through the realtime channel.
func (e *Executor) persistSummary(ctx context.Context, run *types.Run, summary *types.StructuredSummary, scanner *realtimeScanner, logger *zap.Logger) []types.Issue {
	var persisted []types.Issue
	for _, ri := range summary.Issues {
		if scanner.SeenTitle(ri.Title) {
			continue
		}
		issue := types.Issue{
			ID:          uuid.NewString(),
			ProjectID:   run.ProjectID,
			Title:       ri.Title,
			Description: reportedDescription(ri),
			Severity:    types.NormalizeSeverity(ri.Severity),
			Category:    ri.Category,
			Status:      types.IssueStatusOpen,
		}
		if err := e.store.CreateIssue(ctx, &issue); err != nil {
			logger.Error("persist issue", zap.String("title", ri.Title), zap.Error(err))
			continue
		}
		if err := e.store.LinkIssueToRun(ctx, issue.ID, run.ID); err != nil {
			logger.Warn("link issue", zap.Error(err))
		}
		if ri.ScreenshotStep > 0 {
			if ev, err := e.store.EvidenceForStep(ctx, run.ID, ri.ScreenshotStep); err == nil && ev != nil {
				if err := e.store.LinkEvidenceToIssue(ctx, ev.ID, issue.ID); err != nil {
					logger.Warn("link issue evidence", zap.Error(err))
				}
			}
		}
		persisted = append(persisted, issue)
	}

	for _, ux := range summary.UXConfusionEvents {
		e.appendEvent(ctx, run.ID, "info", types.EventUXConfusion, ux.ConfusionReason, ux)
	}
	for _, li := range summary.LocaleIssues {
		e.appendEvent(ctx, run.ID, "warn", types.EventLocaleIssue, li.TextFound, li)
	}
	if summary.CaptchaEncountered {
		e.appendEvent(ctx, run.ID, "warn", types.EventCaptcha, summary.CaptchaDetails, nil)
	}
	return persisted
}

// collectTelemetry samples perf metrics and runs the accessibility audit on
// the final page. Serious violations become issues of their own.
func (e *Executor) collectTelemetry(ctx context.Context, run *types.Run, session BrowserSession, state *runState, logger *zap.Logger) {
	if pm, err := session.PerfMetrics(ctx, state.currentStep()); err != nil {
		logger.Warn("perf metrics", zap.Error(err))
	} else {
		pm.RunID = run.ID
		if err := e.store.InsertPerfMetric(ctx, pm); err != nil {
			logger.Warn("persist perf metrics", zap.Error(err))
		}
	}

	violations, err := session.A11yAudit(ctx)
	if err != nil {
		logger.Warn("accessibility audit", zap.Error(err))
		return
	}
	for i := range violations {
		v := &violations[i]
		v.RunID = run.ID
		if err := e.store.InsertA11yViolation(ctx, v); err != nil {
			logger.Warn("persist a11y violation", zap.String("rule", v.RuleID), zap.Error(err))
			continue
		}
		e.appendEvent(ctx, run.ID, "warn", types.EventA11yViolation, v.RuleID, v)

		sev := types.A11ySeverity(v.Impact)
		if sev != types.SeverityP0 && sev != types.SeverityP1 {
			continue
		}
		issue := &types.Issue{
			ID:          uuid.NewString(),
			ProjectID:   run.ProjectID,
			Title:       "A11y: " + v.Help,
			Description: fmt.Sprintf("%s (rule %s, impact %s)\nSample nodes:\n%s", v.Description, v.RuleID, v.Impact, v.Nodes),
			Severity:    sev,
			Category:    "accessibility",
			Status:      types.IssueStatusOpen,
		}
		if err := e.store.CreateIssue(ctx, issue); err != nil {
			logger.Warn("persist a11y issue", zap.Error(err))
			continue
		}
		if err := e.store.LinkIssueToRun(ctx, issue.ID, run.ID); err != nil {
			logger.Warn("link a11y issue", zap.Error(err))
		}
	}

	if errs := session.ConsoleErrors(); len(errs) > 0 {
		logger.Info("console errors captured", zap.Int("count", len(errs)))
	}
}

// annotateRootCauses logs likely-related prior issues for each new issue.
func (e *Executor) annotateRootCauses(ctx context.Context, run *types.Run, issues []types.Issue, logger *zap.Logger) {
	if e.analyzer == nil {
		return
	}
	for _, issue := range issues {
		similar, err := e.analyzer.SimilarIssues(ctx, run.ProjectID, issue.ID, issue.Title, issue.Description, postRunSimilarity)
		if err != nil {
			logger.Warn("root cause lookup", zap.String("issue_id", issue.ID), zap.Error(err))
			continue
		}
		if len(similar) == 0 {
			continue
		}
		e.appendEvent(ctx, run.ID, "info", types.EventRootCause,
			fmt.Sprintf("%d similar prior issues for %q", len(similar), issue.Title),
			map[string]any{"issue_id": issue.ID, "similar": similar})
	}
}

func (e *Executor) appendEvent(ctx context.Context, runID, level, eventType, message string, payload any) {
	ev := &types.Event{RunID: runID, Level: level, Type: eventType, Message: message}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		e.logger.Warn("append event", zap.String("run_id", runID), zap.String("type", eventType), zap.Error(err))
	}
}

func reportedDescription(ri types.ReportedIssue) string {
	desc := ri.Description
	if ri.Expected != "" || ri.Actual != "" {
		desc += fmt.Sprintf("\nExpected: %s\nActual: %s", ri.Expected, ri.Actual)
	}
	if len(ri.StepsToReproduce) > 0 {
		desc += "\nSteps to reproduce:"
		for i, s := range ri.StepsToReproduce {
			desc += fmt.Sprintf("\n%d. %s", i+1, s)
		}
	}
	if ri.SeverityJustification != "" {
		desc += "\nSeverity justification: " + ri.SeverityJustification
	}
	return desc
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
