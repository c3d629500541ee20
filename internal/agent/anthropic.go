package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicLoop implements Loop against the Anthropic messages API.
type AnthropicLoop struct {
	apiKey      string
	baseURL     string
	model       string
	maxTurns    int
	imageWindow int
	httpClient  *http.Client
}

var _ Loop = (*AnthropicLoop)(nil)

// NewAnthropicLoop creates a loop for the Anthropic messages API.
func NewAnthropicLoop(cfg Config) *AnthropicLoop {
	cfg = cfg.withDefaults()
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicLoop{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		maxTurns:    cfg.MaxTurns,
		imageWindow: cfg.ImageWindow,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

type anthropicImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicContentBlock struct {
	Type      string                `json:"type"` // text, image, tool_use, tool_result
	Text      string                `json:"text,omitempty"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Input     map[string]any        `json:"input,omitempty"`
	ToolUseID string                `json:"tool_use_id,omitempty"`
	Content   any                   `json:"content,omitempty"`
	IsError   bool                  `json:"is_error,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Run drives the tool loop until the model stops requesting tools or the
// turn budget runs out. The returned string is the text of the final
// assistant message.
func (l *AnthropicLoop) Run(ctx context.Context, systemPrompt, task string, tools []ToolDefinition, exec ToolExecutor, cb Callbacks) (string, error) {
	if l.apiKey == "" {
		return "", fmt.Errorf("anthropic: API key not configured")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.httpClient.Timeout)
		defer cancel()
	}

	anthropicTools := make([]anthropicTool, len(tools))
	for i, t := range tools {
		anthropicTools[i] = anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}

	messages := []anthropicMessage{{
		Role:    "user",
		Content: []anthropicContentBlock{{Type: "text", Text: task}},
	}}

	var lastText string
	for turn := 1; turn <= l.maxTurns; turn++ {
		resp, err := l.complete(ctx, anthropicRequest{
			Model:     l.model,
			MaxTokens: 8192,
			System:    systemPrompt,
			Messages:  messages,
			Tools:     anthropicTools,
		})
		if err != nil {
			return "", fmt.Errorf("turn %d: %w", turn, err)
		}

		cb.apiResponse(ResponseMeta{
			Model:        resp.Model,
			StopReason:   resp.StopReason,
			Turn:         turn,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		})

		var turnText strings.Builder
		var toolCalls []ToolCall
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				turnText.WriteString(block.Text)
				cb.output(block.Text)
			case "tool_use":
				toolCalls = append(toolCalls, ToolCall{ID: block.ID, Name: block.Name, Input: block.Input})
			}
		}
		if text := strings.TrimSpace(turnText.String()); text != "" {
			lastText = text
		}

		if resp.StopReason != "tool_use" || len(toolCalls) == 0 {
			return lastText, nil
		}

		messages = append(messages, anthropicMessage{Role: "assistant", Content: resp.Content})

		var results []anthropicContentBlock
		for _, call := range toolCalls {
			started := time.Now()
			result := exec(ctx, call)
			cb.toolResult(call, result, time.Since(started))
			results = append(results, toolResultBlock(call, result))
		}
		messages = append(messages, anthropicMessage{Role: "user", Content: results})
		messages = pruneImages(messages, l.imageWindow)
	}

	return lastText, fmt.Errorf("turn budget exhausted after %d turns", l.maxTurns)
}

func toolResultBlock(call ToolCall, result ToolResult) anthropicContentBlock {
	block := anthropicContentBlock{
		Type:      "tool_result",
		ToolUseID: call.ID,
		IsError:   result.IsError,
	}
	if len(result.ImagePNG) == 0 {
		block.Content = result.Content
		return block
	}
	inner := []anthropicContentBlock{
		{Type: "text", Text: result.Content},
		{Type: "image", Source: &anthropicImageSource{
			Type:      "base64",
			MediaType: "image/png",
			Data:      base64.StdEncoding.EncodeToString(result.ImagePNG),
		}},
	}
	block.Content = inner
	return block
}

// pruneImages strips screenshots from all but the most recent window of
// tool results so long sessions do not blow up the context.
func pruneImages(messages []anthropicMessage, window int) []anthropicMessage {
	seen := 0
	for i := len(messages) - 1; i >= 0; i-- {
		for j := range messages[i].Content {
			block := &messages[i].Content[j]
			if block.Type != "tool_result" {
				continue
			}
			inner, ok := block.Content.([]anthropicContentBlock)
			if !ok {
				continue
			}
			hasImage := false
			for _, b := range inner {
				if b.Type == "image" {
					hasImage = true
					break
				}
			}
			if !hasImage {
				continue
			}
			seen++
			if seen <= window {
				continue
			}
			kept := inner[:0]
			for _, b := range inner {
				if b.Type != "image" {
					kept = append(kept, b)
				}
			}
			block.Content = kept
		}
	}
	return messages
}

func (l *AnthropicLoop) complete(ctx context.Context, reqBody anthropicRequest) (*anthropicResponse, error) {
	const maxRetries = 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", l.baseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", l.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)

		resp, err := l.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("API status %d: %s", resp.StatusCode, string(body))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("API status %d: %s", resp.StatusCode, string(body))
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		if parsed.Error != nil {
			return nil, fmt.Errorf("API error: %s", parsed.Error.Message)
		}
		return &parsed, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
