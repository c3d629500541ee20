package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-rod/rod"

	"sentinel/internal/types"
)

const perfMetricsJS = `
() => new Promise((resolve) => {
	const out = {
		lcp_ms: 0, cls: 0, ttfb_ms: 0, fcp_ms: 0,
		dom_content_loaded_ms: 0, resource_count: 0, total_transfer_kb: 0
	};

	const nav = performance.getEntriesByType('navigation')[0];
	if (nav) {
		out.ttfb_ms = nav.responseStart - nav.requestStart;
		out.dom_content_loaded_ms = nav.domContentLoadedEventEnd - nav.startTime;
	}

	const paints = performance.getEntriesByType('paint');
	for (const p of paints) {
		if (p.name === 'first-contentful-paint') out.fcp_ms = p.startTime;
	}

	const resources = performance.getEntriesByType('resource');
	out.resource_count = resources.length;
	out.total_transfer_kb = resources.reduce((sum, r) => sum + (r.transferSize || 0), 0) / 1024;

	try {
		new PerformanceObserver((list) => {
			const entries = list.getEntries();
			if (entries.length) out.lcp_ms = entries[entries.length - 1].startTime;
		}).observe({ type: 'largest-contentful-paint', buffered: true });
	} catch (e) {}

	try {
		new PerformanceObserver((list) => {
			for (const e of list.getEntries()) {
				if (!e.hadRecentInput) out.cls += e.value;
			}
		}).observe({ type: 'layout-shift', buffered: true });
	} catch (e) {}

	// Give buffered observers one tick to flush.
	setTimeout(() => resolve(out), 250);
})
`

// PerfMetrics samples Core Web Vitals from the current page.
func (s *Session) PerfMetrics(ctx context.Context, step int) (*types.PerfMetric, error) {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           perfMetricsJS,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return nil, fmt.Errorf("sample perf metrics: %w", err)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal perf metrics: %w", err)
	}

	var m types.PerfMetric
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode perf metrics: %w", err)
	}
	m.URL = s.CurrentURL()
	m.Step = step
	return &m, nil
}

const axeSourceURL = "https://cdnjs.cloudflare.com/ajax/libs/axe-core/4.9.1/axe.min.js"

const a11yAuditJS = `
(src) => new Promise((resolve) => {
	const run = () => {
		window.axe.run(document, { runOnly: { type: 'tag', values: ['wcag2a', 'wcag2aa', 'wcag21aa'] } })
			.then((results) => resolve(results.violations.map(v => ({
				rule_id: v.id,
				impact: v.impact || 'minor',
				description: v.description,
				help: v.help,
				nodes: v.nodes.slice(0, 5).map(n => (n.html || '').slice(0, 200))
			}))))
			.catch((e) => resolve({ error: String(e) }));
	};
	if (window.axe) { run(); return; }
	const script = document.createElement('script');
	script.src = src;
	script.onload = run;
	script.onerror = () => resolve({ error: 'failed to load axe-core' });
	document.head.appendChild(script);
})
`

// A11yAudit injects axe-core and runs a WCAG 2.1 AA audit on the current
// page.
func (s *Session) A11yAudit(ctx context.Context) ([]types.A11yViolation, error) {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           a11yAuditJS,
		JSArgs:       []interface{}{axeSourceURL},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return nil, fmt.Errorf("a11y audit: %w", err)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal a11y results: %w", err)
	}

	var failure struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &failure); err == nil && failure.Error != "" {
		return nil, fmt.Errorf("a11y audit: %s", failure.Error)
	}

	var rows []struct {
		RuleID      string   `json:"rule_id"`
		Impact      string   `json:"impact"`
		Description string   `json:"description"`
		Help        string   `json:"help"`
		Nodes       []string `json:"nodes"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode a11y results: %w", err)
	}

	url := s.CurrentURL()
	out := make([]types.A11yViolation, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.A11yViolation{
			RuleID:      row.RuleID,
			Impact:      row.Impact,
			Description: row.Description,
			Help:        row.Help,
			Nodes:       strings.Join(row.Nodes, "\n"),
			URL:         url,
		})
	}
	return out, nil
}
