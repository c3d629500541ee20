package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicStub(t *testing.T, responses []string) (*httptest.Server, *[]anthropicRequest) {
	t.Helper()
	var requests []anthropicRequest
	i := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)

		require.Less(t, i, len(responses), "more requests than scripted responses")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(responses[i]))
		i++
	}))
	return srv, &requests
}

func newTestLoop(url string) *AnthropicLoop {
	return NewAnthropicLoop(Config{Model: "test-model", APIKey: "key", BaseURL: url, Timeout: 5 * time.Second})
}

func TestRunToolLoopRoundTrip(t *testing.T) {
	srv, requests := anthropicStub(t, []string{
		`{"model":"test-model","stop_reason":"tool_use","content":[
			{"type":"text","text":"Opening the page."},
			{"type":"tool_use","id":"tool_1","name":"browser_action","input":{"action":"navigate","url":"https://example.com"}}
		],"usage":{"input_tokens":100,"output_tokens":20}}`,
		`{"model":"test-model","stop_reason":"end_turn","content":[
			{"type":"text","text":"{\"summary\":\"done\",\"tests_passed\":[],\"issues\":[]}"}
		],"usage":{"input_tokens":140,"output_tokens":30}}`,
	})
	defer srv.Close()

	var outputs []string
	var toolCalls []ToolCall
	var metas []ResponseMeta
	cb := Callbacks{
		OnOutput:      func(text string) { outputs = append(outputs, text) },
		OnToolResult:  func(call ToolCall, _ ToolResult, _ time.Duration) { toolCalls = append(toolCalls, call) },
		OnAPIResponse: func(meta ResponseMeta) { metas = append(metas, meta) },
	}

	exec := func(ctx context.Context, call ToolCall) ToolResult {
		return ToolResult{Content: "navigated"}
	}

	tools := []ToolDefinition{{Name: "browser_action", InputSchema: map[string]any{"type": "object"}}}
	final, err := newTestLoop(srv.URL).Run(context.Background(), "system", "task", tools, exec, cb)
	require.NoError(t, err)

	assert.Equal(t, `{"summary":"done","tests_passed":[],"issues":[]}`, final)
	assert.Equal(t, []string{"Opening the page.", `{"summary":"done","tests_passed":[],"issues":[]}`}, outputs)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "browser_action", toolCalls[0].Name)
	assert.Equal(t, "navigate", toolCalls[0].Input["action"])
	require.Len(t, metas, 2)
	assert.Equal(t, "tool_use", metas[0].StopReason)
	assert.Equal(t, 1, metas[0].Turn)

	// Second request must carry assistant turn plus tool_result for tool_1.
	require.Len(t, *requests, 2)
	second := (*requests)[1]
	require.Len(t, second.Messages, 3)
	assert.Equal(t, "assistant", second.Messages[1].Role)
	assert.Equal(t, "tool_result", second.Messages[2].Content[0].Type)
	assert.Equal(t, "tool_1", second.Messages[2].Content[0].ToolUseID)
}

func TestRunToolErrorReportedToModel(t *testing.T) {
	srv, requests := anthropicStub(t, []string{
		`{"model":"test-model","stop_reason":"tool_use","content":[
			{"type":"tool_use","id":"tool_1","name":"browser_action","input":{"action":"click","selector":"#gone"}}
		]}`,
		`{"model":"test-model","stop_reason":"end_turn","content":[{"type":"text","text":"gave up"}]}`,
	})
	defer srv.Close()

	exec := func(ctx context.Context, call ToolCall) ToolResult {
		return ToolResult{Content: "element not found", IsError: true}
	}

	final, err := newTestLoop(srv.URL).Run(context.Background(), "", "task", nil, exec, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, "gave up", final)

	second := (*requests)[1]
	block := second.Messages[2].Content[0]
	assert.True(t, block.IsError)
}

func TestRunRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"model":"test-model","stop_reason":"end_turn","content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	final, err := newTestLoop(srv.URL).Run(context.Background(), "", "task", nil, nil, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, "ok", final)
	assert.Equal(t, 2, attempts)
}

func TestRunMissingAPIKey(t *testing.T) {
	loop := NewAnthropicLoop(Config{Model: "test-model"})
	_, err := loop.Run(context.Background(), "", "task", nil, nil, Callbacks{})
	require.Error(t, err)
}

func TestPruneImagesKeepsRecentWindow(t *testing.T) {
	withImage := func(id string) anthropicMessage {
		return anthropicMessage{Role: "user", Content: []anthropicContentBlock{{
			Type:      "tool_result",
			ToolUseID: id,
			Content: []anthropicContentBlock{
				{Type: "text", Text: "screenshot taken"},
				{Type: "image", Source: &anthropicImageSource{Type: "base64", MediaType: "image/png", Data: "aaaa"}},
			},
		}}}
	}

	messages := []anthropicMessage{withImage("t1"), withImage("t2"), withImage("t3"), withImage("t4")}
	pruned := pruneImages(messages, 3)

	countImages := func(m anthropicMessage) int {
		n := 0
		inner := m.Content[0].Content.([]anthropicContentBlock)
		for _, b := range inner {
			if b.Type == "image" {
				n++
			}
		}
		return n
	}

	assert.Equal(t, 0, countImages(pruned[0]), "oldest screenshot dropped")
	assert.Equal(t, 1, countImages(pruned[1]))
	assert.Equal(t, 1, countImages(pruned[2]))
	assert.Equal(t, 1, countImages(pruned[3]))
}

func TestToGenaiSchemaHandlesNestedObject(t *testing.T) {
	schema := toGenaiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{"type": "string", "enum": []string{"navigate", "click"}},
			"count":  map[string]any{"type": "integer"},
		},
		"required": []string{"action"},
	})
	require.NotNil(t, schema)
	require.Contains(t, schema.Properties, "action")
	assert.Equal(t, []string{"navigate", "click"}, schema.Properties["action"].Enum)
	assert.Equal(t, []string{"action"}, schema.Required)
}
