package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStreamingClient(t *testing.T) *StreamingClient {
	t.Helper()
	client, err := NewStreamingClient(&Config{
		Endpoint: "http://localhost:9999/v1",
		Model:    "test-model",
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestParseTextToolCalls(t *testing.T) {
	c := newTestStreamingClient(t)

	content := `Let me look that up.
<tool_call>{"name": "semantic_search_schema", "arguments": {"query": "customer orders", "top_k": 5}}</tool_call>`

	calls := c.parseTextToolCalls(content)
	require.Len(t, calls, 1)
	assert.Equal(t, "semantic_search_schema", calls[0].Function.Name)
	assert.Equal(t, "function", calls[0].Type)

	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(calls[0].Function.Arguments), &args))
	assert.Equal(t, "customer orders", args["query"])
}

func TestParseTextToolCalls_IgnoresMalformed(t *testing.T) {
	c := newTestStreamingClient(t)
	assert.Empty(t, c.parseTextToolCalls(`<tool_call>{not json}</tool_call>`))
	assert.Empty(t, c.parseTextToolCalls("no markup here"))
}

func TestCleanModelOutput(t *testing.T) {
	c := newTestStreamingClient(t)

	content := `<think>reasoning goes here</think>Here is the answer.
<tool_call>{"name": "x", "arguments": {}}</tool_call>


Trailing.`

	cleaned := c.cleanModelOutput(content)
	assert.NotContains(t, cleaned, "<think>")
	assert.NotContains(t, cleaned, "<tool_call>")
	assert.Contains(t, cleaned, "Here is the answer.")
	assert.Contains(t, cleaned, "Trailing.")
}

func TestBuildOpenAIMessages(t *testing.T) {
	c := newTestStreamingClient(t)

	msgs := c.buildOpenAIMessages([]Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "", ToolCalls: []ToolCall{
			{ID: "tc1", Type: "function", Function: ToolCallFunc{Name: "list_all_tables", Arguments: "{}"}},
		}},
		{Role: RoleTool, Content: `{"tables":[]}`, ToolCallID: "tc1"},
	}, "system prompt")

	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "system prompt", msgs[0].Content)
	assert.Equal(t, "user", msgs[1].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "list_all_tables", msgs[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "tc1", msgs[3].ToolCallID)
}

func TestBuildOpenAITools(t *testing.T) {
	c := newTestStreamingClient(t)

	assert.Nil(t, c.buildOpenAITools(nil))

	defs := []ToolDefinition{
		NewToolDefinition("get_table_ddl", "Fetch table structure", map[string]ParameterProperty{
			"table_name": {Type: "string", Description: "table to describe"},
		}, []string{"table_name"}),
	}
	tools := c.buildOpenAITools(defs)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_table_ddl", tools[0].Function.Name)
}

type scriptedExecutor struct {
	result string
	calls  int
}

func (e *scriptedExecutor) ExecuteTool(ctx context.Context, name, arguments string) (string, error) {
	e.calls++
	return e.result, nil
}

// completionServer scripts an OpenAI-compatible streaming endpoint: the
// first round returns one tool call, every later round plain text. It
// counts the completion rounds it serves.
func completionServer(rounds *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(rounds, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		if n == 1 {
			fmt.Fprint(w, `data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"execute_non_query_with_explanation","arguments":"{\"sql\": \"DELETE FROM orders WHERE id = 1\"}"}}]}}]}`+"\n\n")
		} else {
			fmt.Fprint(w, `data: {"id":"2","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"All done."}}]}`+"\n\n")
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collectStreamEvents(events chan StreamEvent) []StreamEventType {
	close(events)
	var types []StreamEventType
	for e := range events {
		types = append(types, e.Type)
	}
	return types
}

func TestStreamWithTools_SuspendEndsAfterToolResult(t *testing.T) {
	var rounds int32
	srv := completionServer(&rounds)
	defer srv.Close()

	client, err := NewStreamingClient(&Config{
		Endpoint: srv.URL + "/v1",
		Model:    "test-model",
	}, zap.NewNop())
	require.NoError(t, err)

	executor := &scriptedExecutor{result: `{"type": "needs_confirmation", "pending_id": "p1"}`}
	events := make(chan StreamEvent, 32)
	req := &StreamingRequest{
		Messages: []Message{{Role: RoleUser, Content: "delete order 1"}},
		Suspend: func(toolResult string) bool {
			return strings.Contains(toolResult, "needs_confirmation")
		},
	}

	require.NoError(t, client.StreamWithTools(context.Background(), req, executor, events))

	assert.Equal(t, []StreamEventType{
		StreamEventToolCall,
		StreamEventToolResult,
	}, collectStreamEvents(events), "the stream ends at the tool result, without done")
	assert.Equal(t, int32(1), atomic.LoadInt32(&rounds), "no further completion round after suspension")
	assert.Equal(t, 1, executor.calls)
}

func TestStreamWithTools_LoopsWithoutSuspend(t *testing.T) {
	var rounds int32
	srv := completionServer(&rounds)
	defer srv.Close()

	client, err := NewStreamingClient(&Config{
		Endpoint: srv.URL + "/v1",
		Model:    "test-model",
	}, zap.NewNop())
	require.NoError(t, err)

	executor := &scriptedExecutor{result: `{"success": true}`}
	events := make(chan StreamEvent, 32)
	req := &StreamingRequest{
		Messages: []Message{{Role: RoleUser, Content: "delete order 1"}},
	}

	require.NoError(t, client.StreamWithTools(context.Background(), req, executor, events))

	assert.Equal(t, []StreamEventType{
		StreamEventToolCall,
		StreamEventToolResult,
		StreamEventText,
		StreamEventDone,
	}, collectStreamEvents(events))
	assert.Equal(t, int32(2), atomic.LoadInt32(&rounds))
}

func TestNewToolDefinition(t *testing.T) {
	def := NewToolDefinition("t", "d", map[string]ParameterProperty{
		"mode": {Type: "string", Enum: []string{"a", "b"}},
	}, []string{"mode"})

	props := def.Parameters["properties"].(map[string]any)
	mode := props["mode"].(map[string]any)
	assert.Equal(t, []string{"a", "b"}, mode["enum"])
	assert.Equal(t, []string{"mode"}, def.Parameters["required"])
}
