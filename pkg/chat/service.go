// Package chat runs assistant turns: it relays the model's event stream to
// the caller in causal order, persists the conversation, and resumes turns
// that were suspended on a confirmation.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/agent"
	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/gateway"
	"github.com/askdb-inc/askdb-engine/pkg/llm"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/repositories"
	"github.com/askdb-inc/askdb-engine/pkg/schemaindex"
)

// Service drives assistant turns for chat sessions.
type Service struct {
	repo        repositories.ConversationRepository
	gw          *gateway.Gateway
	index       *schemaindex.Index
	streamer    llm.ToolStreamer
	recommender *agent.Recommender
	logger      *zap.Logger
}

// NewService creates a chat service. The recommender may be nil; follow-up
// suggestions and title generation are skipped then.
func NewService(
	repo repositories.ConversationRepository,
	gw *gateway.Gateway,
	index *schemaindex.Index,
	streamer llm.ToolStreamer,
	recommender *agent.Recommender,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		gw:          gw,
		index:       index,
		streamer:    streamer,
		recommender: recommender,
		logger:      logger.Named("chat"),
	}
}

// RunTurn processes one user message and streams the resulting events in
// causal order. While a confirmation is pending for the session, new
// messages are rejected with apperrors.ErrConfirmationPending. When a tool
// call parks an operation, the turn emits needs_confirmation and ends
// without a done event; the session stays suspended until Resume.
func (s *Service) RunTurn(ctx context.Context, sessionID uuid.UUID, userText string, events chan<- models.StreamEvent) error {
	pending, err := s.gw.Pending(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to check pending operations: %w", err)
	}
	if pending != nil {
		return apperrors.ErrConfirmationPending
	}

	session, err := s.repo.EnsureSession(ctx, sessionID)
	if err != nil {
		events <- models.NewErrorEvent("Failed to start session")
		return err
	}
	firstTurn := session.Title == ""

	userMessage := &models.ChatMessage{
		SessionID: sessionID,
		Role:      models.ChatRoleUser,
		Content:   userText,
	}
	if err := s.repo.SaveMessage(ctx, userMessage); err != nil {
		s.logger.Error("Failed to save user message",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		events <- models.NewErrorEvent("Failed to save message")
		return err
	}

	history, err := s.repo.GetHistory(ctx, sessionID, repositories.DefaultHistoryLimit)
	if err != nil {
		s.logger.Error("Failed to get chat history",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		events <- models.NewErrorEvent("Failed to get chat history")
		return err
	}

	req := &llm.StreamingRequest{
		SystemPrompt: agent.BuildSystemPrompt(s.index),
		Messages:     historyToLLMMessages(history),
		Tools:        agent.ToolDefinitions(),
		Temperature:  0.7,
		// A tool result carrying the pending marker ends the model loop;
		// the user decides before the model reasons any further.
		Suspend: func(toolResult string) bool {
			return agent.ParsePendingMarker(toolResult) != nil
		},
	}
	executor := agent.NewToolExecutor(sessionID, s.index, s.gw, s.logger)

	internalChan := make(chan llm.StreamEvent, 100)
	errChan := make(chan error, 1)
	go func() {
		defer close(internalChan)
		errChan <- s.streamer.StreamWithTools(ctx, req, executor, internalChan)
	}()

	var textBuilder strings.Builder
	var answerBuilder strings.Builder
	var pendingToolCalls []models.ToolCall
	var suspension *models.ConfirmationPrompt

	for event := range internalChan {
		// needs_confirmation closes the turn for the caller; drain without
		// forwarding anything a misbehaving streamer emits after it.
		if suspension != nil {
			continue
		}

		switch event.Type {
		case llm.StreamEventText:
			textBuilder.WriteString(event.Content)
			answerBuilder.WriteString(event.Content)
			events <- models.NewContentEvent(event.Content)

		case llm.StreamEventToolCall:
			if tc, ok := event.Data.(llm.ToolCall); ok {
				call := models.ToolCall{
					ID:   tc.ID,
					Type: tc.Type,
					Function: models.ToolCallFunction{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
				pendingToolCalls = append(pendingToolCalls, call)
				events <- models.NewToolCallStartEvent(call)
			}

		case llm.StreamEventToolResult:
			// The tool result closes out the assistant message that
			// requested it.
			if len(pendingToolCalls) > 0 || textBuilder.Len() > 0 {
				s.saveAssistantMessage(ctx, sessionID, textBuilder.String(), pendingToolCalls)
				textBuilder.Reset()
				pendingToolCalls = nil
			}

			toolCallID := ""
			if payload, ok := event.Data.(llm.ToolResultPayload); ok {
				toolCallID = payload.ToolCallID
			}
			s.saveToolMessage(ctx, sessionID, toolCallID, event.Content)

			if prompt := agent.ParsePendingMarker(event.Content); prompt != nil {
				suspension = prompt
				events <- models.NewNeedsConfirmationEvent(prompt)
			} else {
				events <- models.NewToolCallResultEvent(toolCallID, json.RawMessage(event.Content))
			}

		case llm.StreamEventDone, llm.StreamEventError:
			if textBuilder.Len() > 0 {
				s.saveAssistantMessage(ctx, sessionID, textBuilder.String(), nil)
				textBuilder.Reset()
			}
			if event.Type == llm.StreamEventError {
				events <- models.NewErrorEvent(event.Content)
			}
		}

		if event.Type == llm.StreamEventDone || event.Type == llm.StreamEventError {
			break
		}
	}

	if err := <-errChan; err != nil {
		return err
	}

	// A suspended turn ends here; done is only emitted once the pending
	// operation is resolved.
	if suspension != nil {
		return nil
	}

	s.emitClosingEvents(ctx, sessionID, firstTurn, userText, answerBuilder.String(), events)
	events <- models.NewDoneEvent()
	return nil
}

// Resume resolves a suspended confirmation and streams the outcome. Stale
// or superseded ids surface apperrors.ErrStaleConfirmation.
func (s *Service) Resume(ctx context.Context, sessionID, pendingID uuid.UUID, decision string, events chan<- models.StreamEvent) error {
	op, err := s.gw.Resolve(ctx, sessionID, pendingID, decision)
	if err != nil {
		return err
	}

	events <- models.NewToolCallResultEvent(op.ID.String(), op.Outcome)

	summary := resolutionSummary(op)
	events <- models.NewContentEvent(summary)
	s.saveAssistantMessage(ctx, sessionID, summary, nil)

	events <- models.NewDoneEvent()
	return nil
}

// History returns the persisted messages of a session in chronological
// order.
func (s *Service) History(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	return s.repo.GetHistory(ctx, sessionID, limit)
}

func (s *Service) emitClosingEvents(ctx context.Context, sessionID uuid.UUID, firstTurn bool, question, answer string, events chan<- models.StreamEvent) {
	if s.recommender == nil {
		return
	}

	if suggestions, err := s.recommender.Suggest(ctx, question, answer); err != nil {
		s.logger.Debug("Skipping follow-up suggestions", zap.Error(err))
	} else if len(suggestions) > 0 {
		events <- models.NewRecommendationsEvent(suggestions)
	}

	if !firstTurn {
		return
	}
	title, err := s.recommender.TitleForSession(ctx, question)
	if err != nil {
		s.logger.Debug("Skipping session title", zap.Error(err))
		return
	}
	if err := s.repo.SetTitle(ctx, sessionID, title); err != nil {
		s.logger.Warn("Failed to store session title",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return
	}
	events <- models.NewTitleUpdatedEvent(title)
}

func (s *Service) saveAssistantMessage(ctx context.Context, sessionID uuid.UUID, content string, toolCalls []models.ToolCall) {
	if content == "" && len(toolCalls) == 0 {
		return
	}
	msg := &models.ChatMessage{
		SessionID: sessionID,
		Role:      models.ChatRoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	}
	if err := s.repo.SaveMessage(ctx, msg); err != nil {
		s.logger.Error("Failed to save assistant message",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
}

func (s *Service) saveToolMessage(ctx context.Context, sessionID uuid.UUID, toolCallID, content string) {
	msg := &models.ChatMessage{
		SessionID:  sessionID,
		Role:       models.ChatRoleTool,
		Content:    content,
		ToolCallID: toolCallID,
	}
	if err := s.repo.SaveMessage(ctx, msg); err != nil {
		s.logger.Error("Failed to save tool message",
			zap.String("session_id", sessionID.String()),
			zap.String("tool_call_id", toolCallID),
			zap.Error(err))
	}
}

func historyToLLMMessages(history []*models.ChatMessage) []llm.Message {
	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msg := llm.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: llm.ToolCallFunc{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}
	return messages
}

func resolutionSummary(op *models.PendingOperation) string {
	switch op.Status {
	case models.PendingStatusExecuted:
		if op.Outcome != nil {
			return op.Outcome.Message
		}
		return "The operation was executed."
	case models.PendingStatusRejected:
		return "The operation was rejected; nothing was executed."
	default:
		return fmt.Sprintf("The operation is %s.", op.Status)
	}
}
