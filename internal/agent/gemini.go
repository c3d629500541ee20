package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiLoop implements Loop on the Gemini API via function calling.
type GeminiLoop struct {
	client   *genai.Client
	model    string
	maxTurns int
}

var _ Loop = (*GeminiLoop)(nil)

// NewGeminiLoop creates a loop backed by the Gemini SDK.
func NewGeminiLoop(ctx context.Context, cfg Config) (*GeminiLoop, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiLoop{client: client, model: cfg.Model, maxTurns: cfg.MaxTurns}, nil
}

// Run drives the function-calling loop until the model stops requesting
// tools or the turn budget runs out.
func (l *GeminiLoop) Run(ctx context.Context, systemPrompt, task string, tools []ToolDefinition, exec ToolExecutor, cb Callbacks) (string, error) {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGenaiSchema(t.InputSchema),
		}
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Tools:             []*genai.Tool{{FunctionDeclarations: decls}},
	}

	contents := []*genai.Content{genai.NewContentFromText(task, genai.RoleUser)}

	var lastText string
	for turn := 1; turn <= l.maxTurns; turn++ {
		resp, err := l.client.Models.GenerateContent(ctx, l.model, contents, config)
		if err != nil {
			return "", fmt.Errorf("turn %d: %w", turn, err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return lastText, fmt.Errorf("turn %d: empty response", turn)
		}

		meta := ResponseMeta{Model: l.model, Turn: turn}
		if resp.UsageMetadata != nil {
			meta.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			meta.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		candidate := resp.Candidates[0].Content
		var turnText strings.Builder
		var calls []*genai.FunctionCall
		for _, part := range candidate.Parts {
			if part.Text != "" {
				turnText.WriteString(part.Text)
				cb.output(part.Text)
			}
			if part.FunctionCall != nil {
				calls = append(calls, part.FunctionCall)
			}
		}
		if text := strings.TrimSpace(turnText.String()); text != "" {
			lastText = text
		}

		if len(calls) > 0 {
			meta.StopReason = "tool_use"
		} else {
			meta.StopReason = "end_turn"
		}
		cb.apiResponse(meta)

		if len(calls) == 0 {
			return lastText, nil
		}

		contents = append(contents, candidate)

		var replyParts []*genai.Part
		for _, fc := range calls {
			call := ToolCall{ID: fc.ID, Name: fc.Name, Input: fc.Args}
			started := time.Now()
			result := exec(ctx, call)
			cb.toolResult(call, result, time.Since(started))

			response := map[string]any{"result": result.Content}
			if result.IsError {
				response["error"] = result.Content
			}
			replyParts = append(replyParts, genai.NewPartFromFunctionResponse(fc.Name, response))
			if len(result.ImagePNG) > 0 {
				replyParts = append(replyParts, genai.NewPartFromBytes(result.ImagePNG, "image/png"))
			}
		}
		contents = append(contents, genai.NewContentFromParts(replyParts, genai.RoleUser))
	}

	return lastText, fmt.Errorf("turn budget exhausted after %d turns", l.maxTurns)
}

// toGenaiSchema converts a JSON-schema style map into the SDK's typed
// schema. Only the subset used by the browser tool is handled.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		switch t {
		case "object":
			out.Type = genai.TypeObject
		case "string":
			out.Type = genai.TypeString
		case "integer":
			out.Type = genai.TypeInteger
		case "number":
			out.Type = genai.TypeNumber
		case "boolean":
			out.Type = genai.TypeBoolean
		case "array":
			out.Type = genai.TypeArray
		}
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if enum, ok := schema["enum"].([]string); ok {
		out.Enum = enum
	} else if enumAny, ok := schema["enum"].([]any); ok {
		for _, v := range enumAny {
			if s, ok := v.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	if req, ok := schema["required"].([]string); ok {
		out.Required = req
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				out.Properties[name] = toGenaiSchema(sub)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = toGenaiSchema(items)
	}
	return out
}
