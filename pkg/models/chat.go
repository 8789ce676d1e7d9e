package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatRole represents the role of a chat message sender.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleSystem    ChatRole = "system"
	ChatRoleTool      ChatRole = "tool"
)

// ValidChatRoles contains all valid chat role values.
var ValidChatRoles = []ChatRole{
	ChatRoleUser,
	ChatRoleAssistant,
	ChatRoleSystem,
	ChatRoleTool,
}

// IsValidChatRole checks if the given role is valid.
func IsValidChatRole(r ChatRole) bool {
	for _, v := range ValidChatRoles {
		if v == r {
			return true
		}
	}
	return false
}

// ChatSession is one conversation thread with the assistant. Sessions are
// created implicitly by the first message; the title is generated afterwards.
type ChatSession struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolCall represents an LLM tool call request.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction contains the function name and arguments for a tool call.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// ChatMessage represents a persisted message in an assistant session.
type ChatMessage struct {
	ID         uuid.UUID  `json:"id"`
	SessionID  uuid.UUID  `json:"session_id"`
	Role       ChatRole   `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsFromUser returns true if the message is from a user.
func (m *ChatMessage) IsFromUser() bool {
	return m.Role == ChatRoleUser
}

// IsToolResponse returns true if the message is a tool response.
func (m *ChatMessage) IsToolResponse() bool {
	return m.Role == ChatRoleTool
}

// HasToolCalls returns true if the message contains tool calls.
func (m *ChatMessage) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// StreamEventType represents the type of a streaming chat event.
type StreamEventType string

const (
	StreamEventContent           StreamEventType = "content"
	StreamEventToolCallStart     StreamEventType = "tool_call_start"
	StreamEventToolCallResult    StreamEventType = "tool_call_result"
	StreamEventNeedsConfirmation StreamEventType = "needs_confirmation"
	StreamEventRecommendations   StreamEventType = "recommendations"
	StreamEventTitleUpdated      StreamEventType = "title_updated"
	StreamEventDone              StreamEventType = "done"
	StreamEventError             StreamEventType = "error"
)

// StreamEvent is one element of the ordered event stream a turn produces.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Data    any             `json:"data,omitempty"`
}

// NewContentEvent creates a text delta event.
func NewContentEvent(content string) StreamEvent {
	return StreamEvent{Type: StreamEventContent, Content: content}
}

// NewToolCallStartEvent creates a tool invocation event.
func NewToolCallStartEvent(toolCall ToolCall) StreamEvent {
	return StreamEvent{Type: StreamEventToolCallStart, Data: toolCall}
}

// NewToolCallResultEvent creates a tool result event. Content carries the
// tool call id, Data the tool's JSON result.
func NewToolCallResultEvent(toolID string, result any) StreamEvent {
	return StreamEvent{
		Type:    StreamEventToolCallResult,
		Content: toolID,
		Data:    result,
	}
}

// NewNeedsConfirmationEvent creates the suspension event carrying everything
// the caller needs to render an approval prompt.
func NewNeedsConfirmationEvent(prompt *ConfirmationPrompt) StreamEvent {
	return StreamEvent{Type: StreamEventNeedsConfirmation, Data: prompt}
}

// NewRecommendationsEvent creates a follow-up suggestions event.
func NewRecommendationsEvent(questions []string) StreamEvent {
	return StreamEvent{Type: StreamEventRecommendations, Data: questions}
}

// NewTitleUpdatedEvent creates a session title event.
func NewTitleUpdatedEvent(title string) StreamEvent {
	return StreamEvent{Type: StreamEventTitleUpdated, Content: title}
}

// NewDoneEvent creates a completion event.
func NewDoneEvent() StreamEvent {
	return StreamEvent{Type: StreamEventDone}
}

// NewErrorEvent creates an error event.
func NewErrorEvent(err string) StreamEvent {
	return StreamEvent{Type: StreamEventError, Content: err}
}

// ConfirmationPrompt is the payload of a needs_confirmation event.
type ConfirmationPrompt struct {
	PendingID      uuid.UUID `json:"pending_id"`
	SessionID      uuid.UUID `json:"session_id"`
	SQL            string    `json:"sql"`
	Explanation    string    `json:"explanation"`
	ExpectedImpact string    `json:"expected_impact"`
	RiskLevel      string    `json:"risk_level"`
	Warnings       []string  `json:"warnings,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}
