package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/auth"
	"github.com/askdb-inc/askdb-engine/pkg/chat"
	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// SendMessageRequest for POST /api/sessions/{sid}/messages.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// ConfirmRequest for POST /api/sessions/{sid}/confirm.
type ConfirmRequest struct {
	PendingID uuid.UUID `json:"pending_id"`
	Decision  string    `json:"decision"`
}

// ChatMessageResponse is one history entry.
type ChatMessageResponse struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []models.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

// ChatHistoryResponse for GET /api/sessions/{sid}/messages.
type ChatHistoryResponse struct {
	Messages []ChatMessageResponse `json:"messages"`
	Total    int                   `json:"total"`
}

// ChatHandler handles chat HTTP requests with SSE streaming.
type ChatHandler struct {
	service *chat.Service
	logger  *zap.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(service *chat.Service, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{service: service, logger: logger}
}

// RegisterRoutes registers the chat handler's routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/sessions/{sid}/messages", authMiddleware.RequireAuth(h.SendMessage))
	mux.HandleFunc("GET /api/sessions/{sid}/messages", authMiddleware.RequireAuth(h.GetHistory))
	mux.HandleFunc("POST /api/sessions/{sid}/confirm", authMiddleware.RequireAuth(h.Confirm))
}

// SendMessage handles POST /api/sessions/{sid}/messages. The response is a
// Server-Sent Events stream; a suspended turn ends the stream after
// needs_confirmation without a done event.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Message == "" {
		h.writeError(w, http.StatusBadRequest, "missing_message", "Message is required")
		return
	}

	h.stream(w, r, sessionID, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(r.Context(), sessionID, req.Message, events)
	})
}

// Confirm handles POST /api/sessions/{sid}/confirm: it resolves a pending
// operation and streams the outcome with the same SSE framing.
func (h *ChatHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.PendingID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "missing_pending_id", "pending_id is required")
		return
	}
	if !models.IsValidDecision(req.Decision) {
		h.writeError(w, http.StatusBadRequest, "invalid_decision", "decision must be approve or reject")
		return
	}

	h.stream(w, r, sessionID, func(events chan<- models.StreamEvent) error {
		return h.service.Resume(r.Context(), sessionID, req.PendingID, req.Decision, events)
	})
}

// stream runs the turn in the background and relays its events as SSE.
// Headers are written lazily so errors raised before the first event can
// still produce a proper JSON status.
func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, run func(events chan<- models.StreamEvent) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("SSE not supported")
		h.writeError(w, http.StatusInternalServerError, "sse_unsupported", "SSE not supported")
		return
	}

	eventChan := make(chan models.StreamEvent, 100)
	errChan := make(chan error, 1)
	go func() {
		defer close(eventChan)
		errChan <- run(eventChan)
	}()

	streaming := false
	for event := range eventChan {
		if !streaming {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			streaming = true
		}

		data, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("Failed to marshal event", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	err := <-errChan
	if err != nil {
		h.logger.Warn("Chat turn failed",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
	if streaming {
		// The stream already carried an error event if one applied.
		return
	}

	switch {
	case err == nil:
		w.Header().Set("Content-Type", "text/event-stream")
	case errors.Is(err, apperrors.ErrConfirmationPending):
		h.writeError(w, http.StatusConflict, "confirmation_pending",
			"Resolve the pending operation before sending new messages")
	case errors.Is(err, apperrors.ErrStaleConfirmation):
		h.writeError(w, http.StatusGone, "stale_confirmation",
			"The pending operation expired or was superseded")
	default:
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Chat turn failed")
	}
}

// GetHistory handles GET /api/sessions/{sid}/messages.
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	messages, err := h.service.History(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.Error("Failed to get chat history",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get chat history")
		return
	}

	data := ChatHistoryResponse{
		Messages: make([]ChatMessageResponse, len(messages)),
		Total:    len(messages),
	}
	for i, m := range messages {
		data.Messages[i] = ChatMessageResponse{
			ID:         m.ID.String(),
			SessionID:  m.SessionID.String(),
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			CreatedAt:  m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ChatHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(r.PathValue("sid"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_session_id", "Session id must be a UUID")
		return uuid.Nil, false
	}
	return sessionID, true
}
