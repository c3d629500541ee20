// Package agent drives the multi-turn LLM tool loop that explores a target
// site. Providers are hidden behind the Loop interface; callers observe the
// session through Callbacks.
package agent

import (
	"context"
	"strings"
	"time"
)

// ToolDefinition describes one tool exposed to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult is the outcome of executing a tool call. ImagePNG, when set,
// is returned to the model as an inline screenshot.
type ToolResult struct {
	Content  string `json:"content"`
	ImagePNG []byte `json:"-"`
	IsError  bool   `json:"is_error,omitempty"`
}

// ToolExecutor runs one tool call. It must not panic; failures are
// reported through ToolResult.IsError.
type ToolExecutor func(ctx context.Context, call ToolCall) ToolResult

// ResponseMeta summarizes one model API round trip.
type ResponseMeta struct {
	Model        string
	StopReason   string
	Turn         int
	InputTokens  int
	OutputTokens int
}

// Callbacks observe the loop as it runs. All fields are optional.
type Callbacks struct {
	// OnOutput fires for each text block the model emits.
	OnOutput func(text string)
	// OnToolResult fires after each tool call completes.
	OnToolResult func(call ToolCall, result ToolResult, elapsed time.Duration)
	// OnAPIResponse fires after each API round trip.
	OnAPIResponse func(meta ResponseMeta)
}

func (cb Callbacks) output(text string) {
	if cb.OnOutput != nil && text != "" {
		cb.OnOutput(text)
	}
}

func (cb Callbacks) toolResult(call ToolCall, result ToolResult, elapsed time.Duration) {
	if cb.OnToolResult != nil {
		cb.OnToolResult(call, result, elapsed)
	}
}

func (cb Callbacks) apiResponse(meta ResponseMeta) {
	if cb.OnAPIResponse != nil {
		cb.OnAPIResponse(meta)
	}
}

// Loop runs a complete agent session and returns the model's final text.
type Loop interface {
	Run(ctx context.Context, systemPrompt, task string, tools []ToolDefinition, exec ToolExecutor, cb Callbacks) (string, error)
}

// Config selects and tunes a provider loop.
type Config struct {
	Model    string
	APIKey   string
	BaseURL  string // Anthropic-style API base; ignored for Gemini
	MaxTurns int
	Timeout  time.Duration
	// ImageWindow bounds how many recent screenshots stay in context.
	ImageWindow int
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 80
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Minute
	}
	if c.ImageWindow <= 0 {
		c.ImageWindow = 3
	}
	return c
}

// New picks a provider by model name: "gemini-*" models use the Gemini
// SDK, everything else goes through the Anthropic messages API.
func New(ctx context.Context, cfg Config) (Loop, error) {
	if strings.HasPrefix(strings.ToLower(cfg.Model), "gemini") {
		return NewGeminiLoop(ctx, cfg)
	}
	return NewAnthropicLoop(cfg), nil
}
