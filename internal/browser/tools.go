package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sentinel/internal/agent"
)

// ToolName is the single browser tool exposed to the agent.
const ToolName = "browser_action"

// ToolDefinition returns the browser_action tool schema.
func ToolDefinition() agent.ToolDefinition {
	return agent.ToolDefinition{
		Name: ToolName,
		Description: "Interact with the page under test. Every action returns the " +
			"current URL and a screenshot of the viewport after the action.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type": "string",
					"enum": []string{"navigate", "click", "type", "press_key", "scroll", "back", "read_text", "screenshot", "wait"},
				},
				"url":       map[string]any{"type": "string", "description": "target URL for navigate"},
				"selector":  map[string]any{"type": "string", "description": "CSS selector for click and type"},
				"text":      map[string]any{"type": "string", "description": "text to type"},
				"key":       map[string]any{"type": "string", "description": "key name for press_key, e.g. Enter"},
				"delta_y":   map[string]any{"type": "number", "description": "vertical scroll distance in pixels; negative scrolls up"},
				"wait_ms":   map[string]any{"type": "integer", "description": "milliseconds to wait"},
			},
			"required": []string{"action"},
		},
	}
}

// Action is a parsed browser_action invocation.
type Action struct {
	Name     string
	URL      string
	Selector string
	Text     string
	Key      string
	DeltaY   float64
	WaitMs   int
}

// ParseAction validates a browser_action tool input.
func ParseAction(input map[string]any) (Action, error) {
	act := Action{}
	name, _ := input["action"].(string)
	if name == "" {
		return act, fmt.Errorf("missing action")
	}
	act.Name = name
	act.URL, _ = input["url"].(string)
	act.Selector, _ = input["selector"].(string)
	act.Text, _ = input["text"].(string)
	act.Key, _ = input["key"].(string)
	if v, ok := input["delta_y"].(float64); ok {
		act.DeltaY = v
	}
	switch v := input["wait_ms"].(type) {
	case float64:
		act.WaitMs = int(v)
	case int:
		act.WaitMs = v
	}

	switch name {
	case "navigate":
		if act.URL == "" {
			return act, fmt.Errorf("navigate requires url")
		}
	case "click":
		if act.Selector == "" {
			return act, fmt.Errorf("click requires selector")
		}
	case "type":
		if act.Selector == "" || act.Text == "" {
			return act, fmt.Errorf("type requires selector and text")
		}
	case "press_key":
		if act.Key == "" {
			return act, fmt.Errorf("press_key requires key")
		}
	case "scroll", "back", "read_text", "screenshot", "wait":
	default:
		return act, fmt.Errorf("unknown action %q", name)
	}
	return act, nil
}

// Describe renders a short human-readable label for step logs.
func (a Action) Describe() string {
	switch a.Name {
	case "navigate":
		return fmt.Sprintf("navigate %s", a.URL)
	case "click":
		return fmt.Sprintf("click %s", a.Selector)
	case "type":
		return fmt.Sprintf("type into %s", a.Selector)
	case "press_key":
		return fmt.Sprintf("press %s", a.Key)
	}
	return a.Name
}

// Executor binds a session to the agent's tool loop. Screenshots are taken
// after every action so the model always sees the result.
func (s *Session) Executor() agent.ToolExecutor {
	return func(ctx context.Context, call agent.ToolCall) agent.ToolResult {
		if call.Name != ToolName {
			return agent.ToolResult{Content: fmt.Sprintf("unknown tool %q", call.Name), IsError: true}
		}
		act, err := ParseAction(call.Input)
		if err != nil {
			return agent.ToolResult{Content: err.Error(), IsError: true}
		}
		return s.execute(ctx, act)
	}
}

func (s *Session) execute(ctx context.Context, act Action) agent.ToolResult {
	var err error
	var content string

	switch act.Name {
	case "navigate":
		err = s.Navigate(ctx, act.URL)
	case "click":
		err = s.Click(ctx, act.Selector)
	case "type":
		err = s.Type(ctx, act.Selector, act.Text)
	case "press_key":
		err = s.PressKey(ctx, act.Key)
	case "scroll":
		dy := act.DeltaY
		if dy == 0 {
			dy = 600
		}
		err = s.Scroll(ctx, 0, dy)
	case "back":
		err = s.Back(ctx)
	case "read_text":
		content, err = s.ReadText(ctx)
	case "wait":
		err = s.wait(ctx, act.WaitMs)
	case "screenshot":
		// screenshot is appended below for every action
	}
	if err != nil {
		return agent.ToolResult{Content: fmt.Sprintf("%s failed: %v", act.Name, err), IsError: true}
	}

	if content == "" {
		content = fmt.Sprintf("%s ok, url=%s", act.Name, s.CurrentURL())
	}

	png, shotErr := s.Screenshot(ctx)
	if shotErr != nil {
		s.logger.Warn("screenshot failed", zap.Error(shotErr))
		return agent.ToolResult{Content: content}
	}
	return agent.ToolResult{Content: content, ImagePNG: png}
}

func (s *Session) wait(ctx context.Context, ms int) error {
	if ms <= 0 {
		ms = 1000
	}
	if ms > 10000 {
		ms = 10000
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	}
}
