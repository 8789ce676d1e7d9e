package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// StreamEvent represents a streaming event from the LLM loop.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Data    any             `json:"data,omitempty"`
}

// StreamEventType defines types of streaming events.
type StreamEventType string

const (
	StreamEventText       StreamEventType = "text"
	StreamEventToolCall   StreamEventType = "tool_call"
	StreamEventToolResult StreamEventType = "tool_result"
	StreamEventDone       StreamEventType = "done"
	StreamEventError      StreamEventType = "error"
)

// ToolCall represents a tool call from the LLM.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc represents a function call within a tool call.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResultPayload is the Data attached to a tool_result event.
type ToolResultPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
}

// StreamingClient extends the basic LLM client with streaming and tool
// capabilities.
type StreamingClient struct {
	*Client
	maxToolIterations int
}

// NewStreamingClient creates a new streaming-capable LLM client.
func NewStreamingClient(cfg *Config, logger *zap.Logger) (*StreamingClient, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &StreamingClient{
		Client:            client,
		maxToolIterations: 10,
	}, nil
}

// StreamingRequest represents a request for streaming chat completion.
type StreamingRequest struct {
	Messages     []Message
	Tools        []ToolDefinition
	Temperature  float64
	SystemPrompt string

	// Suspend, when set, is consulted after every tool result. Returning
	// true ends the stream right there: no further tool calls run, no new
	// completion round starts, and no done event is emitted. The caller
	// owns the rest of the turn.
	Suspend func(toolResult string) bool
}

// Message represents a chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// StreamWithTools performs streaming chat completion with tool support.
// Events are sent to eventChan as they occur; the caller consumes until a
// done or error event arrives, or until req.Suspend cuts the loop short
// after a tool result. Tool execution errors are folded into the
// conversation as tool results so the model can react, never raised.
func (c *StreamingClient) StreamWithTools(
	ctx context.Context,
	req *StreamingRequest,
	executor ToolExecutor,
	eventChan chan<- StreamEvent,
) error {
	messages := c.buildOpenAIMessages(req.Messages, req.SystemPrompt)
	tools := c.buildOpenAITools(req.Tools)

	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = 0.7
	}

	for iteration := 0; iteration < c.maxToolIterations; iteration++ {
		content, toolCalls, err := c.streamIteration(ctx, messages, tools, temperature, eventChan)
		if err != nil {
			eventChan <- StreamEvent{Type: StreamEventError, Content: err.Error()}
			return err
		}

		// No tool calls means the model is done talking
		if len(toolCalls) == 0 {
			eventChan <- StreamEvent{Type: StreamEventDone}
			return nil
		}

		assistantMsg := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: content,
		}
		for _, tc := range toolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		messages = append(messages, assistantMsg)

		for _, tc := range toolCalls {
			eventChan <- StreamEvent{
				Type: StreamEventToolCall,
				Data: tc,
			}

			result, execErr := executor.ExecuteTool(ctx, tc.Function.Name, tc.Function.Arguments)
			if execErr != nil {
				result = fmt.Sprintf("Error executing tool: %s", execErr.Error())
			}

			eventChan <- StreamEvent{
				Type:    StreamEventToolResult,
				Content: result,
				Data:    ToolResultPayload{ToolCallID: tc.ID, Name: tc.Function.Name},
			}

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})

			if req.Suspend != nil && req.Suspend(result) {
				c.logger.Info("Stream suspended on tool result",
					zap.String("tool", tc.Function.Name),
					zap.Int("iteration", iteration))
				return nil
			}
		}
	}

	return fmt.Errorf("exceeded maximum tool iterations (%d)", c.maxToolIterations)
}

// streamIteration performs a single streaming request and returns the
// accumulated content and tool calls.
func (c *StreamingClient) streamIteration(
	ctx context.Context,
	messages []openai.ChatCompletionMessage,
	tools []openai.Tool,
	temperature float32,
	eventChan chan<- StreamEvent,
) (string, []ToolCall, error) {
	start := time.Now()

	c.logger.Debug("Starting stream iteration",
		zap.Int("message_count", len(messages)),
		zap.Int("tool_count", len(tools)))

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: temperature,
		Stream:      true,
	})
	if err != nil {
		c.logger.Error("Failed to create stream", zap.Error(err))
		return "", nil, ClassifyError(err)
	}
	defer stream.Close()

	var contentBuilder strings.Builder
	toolCallsMap := make(map[int]*ToolCall)

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.logger.Error("Stream receive error", zap.Error(err))
			return "", nil, ClassifyError(err)
		}

		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta

		if delta.Content != "" {
			contentBuilder.WriteString(delta.Content)
			eventChan <- StreamEvent{
				Type:    StreamEventText,
				Content: delta.Content,
			}
		}

		// Tool calls arrive sliced across chunks; accumulate by index.
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}

			if existing, exists := toolCallsMap[idx]; !exists {
				toolCallsMap[idx] = &ToolCall{
					ID:   tc.ID,
					Type: string(tc.Type),
					Function: ToolCallFunc{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			} else {
				existing.Function.Arguments += tc.Function.Arguments
			}
		}
	}

	content := contentBuilder.String()

	// Models without native tool calling emit <tool_call> markup instead.
	if len(toolCallsMap) == 0 && content != "" {
		parsedToolCalls := c.parseTextToolCalls(content)
		if len(parsedToolCalls) > 0 {
			content = c.cleanModelOutput(content)
			for i, tc := range parsedToolCalls {
				toolCallsMap[i] = &tc
			}
		}
	}

	var toolCalls []ToolCall
	for i := 0; i < len(toolCallsMap); i++ {
		if tc, ok := toolCallsMap[i]; ok {
			toolCalls = append(toolCalls, *tc)
		}
	}

	c.logger.Info("Stream iteration completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("content_length", len(content)),
		zap.Int("tool_calls", len(toolCalls)))

	return content, toolCalls, nil
}

var (
	textToolCallRegex  = regexp.MustCompile(`<tool_call>\s*(\{[\s\S]*?\})\s*</tool_call>`)
	toolCallBlockRegex = regexp.MustCompile(`<tool_call>[\s\S]*?</tool_call>`)
	thinkBlockRegex    = regexp.MustCompile(`<think>[\s\S]*?</think>`)
	multiNewlineRegex  = regexp.MustCompile(`\n{3,}`)
)

// parseTextToolCalls parses tool calls from text output for models without
// native tool calling. Expected format:
// <tool_call>{"name": "...", "arguments": {...}}</tool_call>
func (c *StreamingClient) parseTextToolCalls(content string) []ToolCall {
	var toolCalls []ToolCall

	matches := textToolCallRegex.FindAllStringSubmatch(content, -1)
	for i, match := range matches {
		if len(match) < 2 {
			continue
		}

		var toolCallJSON struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}

		if err := json.Unmarshal([]byte(match[1]), &toolCallJSON); err != nil {
			c.logger.Debug("Failed to parse text tool call", zap.Error(err))
			continue
		}

		argsJSON, err := json.Marshal(toolCallJSON.Arguments)
		if err != nil {
			continue
		}

		toolCalls = append(toolCalls, ToolCall{
			ID:   fmt.Sprintf("text_tool_%d", i),
			Type: "function",
			Function: ToolCallFunc{
				Name:      toolCallJSON.Name,
				Arguments: string(argsJSON),
			},
		})
	}

	return toolCalls
}

// cleanModelOutput removes tool call markup and thinking blocks from model output.
func (c *StreamingClient) cleanModelOutput(content string) string {
	content = thinkBlockRegex.ReplaceAllString(content, "")
	content = toolCallBlockRegex.ReplaceAllString(content, "")
	content = multiNewlineRegex.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// buildOpenAIMessages converts our message format to OpenAI format.
func (c *StreamingClient) buildOpenAIMessages(messages []Message, systemPrompt string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage

	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}

		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}

		result = append(result, oaiMsg)
	}

	return result
}

// buildOpenAITools converts our tool definitions to OpenAI format.
func (c *StreamingClient) buildOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.Tool, len(tools))
	for i, def := range tools {
		paramsJSON, _ := json.Marshal(def.Parameters)
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(paramsJSON),
			},
		}
	}

	return result
}
