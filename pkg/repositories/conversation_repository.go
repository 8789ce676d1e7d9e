// Package repositories provides data access for the engine's own storage.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/database"
	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// DefaultHistoryLimit bounds how much conversation history is replayed to
// the model per turn.
const DefaultHistoryLimit = 50

// ConversationRepository persists chat sessions and their append-only
// message log.
type ConversationRepository interface {
	EnsureSession(ctx context.Context, sessionID uuid.UUID) (*models.ChatSession, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*models.ChatSession, error)
	SetTitle(ctx context.Context, sessionID uuid.UUID, title string) error
	SaveMessage(ctx context.Context, message *models.ChatMessage) error
	GetHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error)
	CountMessages(ctx context.Context, sessionID uuid.UUID) (int, error)
}

type conversationRepository struct {
	db *database.DB
}

// NewConversationRepository creates a ConversationRepository backed by the
// engine database.
func NewConversationRepository(db *database.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

var _ ConversationRepository = (*conversationRepository)(nil)

func (r *conversationRepository) EnsureSession(ctx context.Context, sessionID uuid.UUID) (*models.ChatSession, error) {
	query := `
		INSERT INTO chat_sessions (id, title, created_at, updated_at)
		VALUES ($1, '', now(), now())
		ON CONFLICT (id) DO UPDATE SET updated_at = now()
		RETURNING id, title, created_at, updated_at`

	var s models.ChatSession
	err := r.db.QueryRow(ctx, query, sessionID).Scan(&s.ID, &s.Title, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure session: %w", err)
	}
	return &s, nil
}

func (r *conversationRepository) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.ChatSession, error) {
	query := `
		SELECT id, title, created_at, updated_at
		FROM chat_sessions
		WHERE id = $1`

	var s models.ChatSession
	err := r.db.QueryRow(ctx, query, sessionID).Scan(&s.ID, &s.Title, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (r *conversationRepository) SetTitle(ctx context.Context, sessionID uuid.UUID, title string) error {
	query := `
		UPDATE chat_sessions
		SET title = $2, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, sessionID, title)
	if err != nil {
		return fmt.Errorf("failed to set session title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *conversationRepository) SaveMessage(ctx context.Context, message *models.ChatMessage) error {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	var toolCallsJSON []byte
	if message.ToolCalls != nil {
		var err error
		toolCallsJSON, err = json.Marshal(message.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to marshal tool_calls: %w", err)
		}
	}

	query := `
		INSERT INTO chat_messages (
			id, session_id, role, content, tool_calls, tool_call_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		message.ID, message.SessionID, message.Role, message.Content,
		toolCallsJSON, nullableString(message.ToolCallID), message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *conversationRepository) GetHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	// Most recent messages first, then reversed into chronological order.
	query := `
		SELECT id, session_id, role, content, tool_calls, tool_call_id, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.ChatMessage, 0)
	for rows.Next() {
		m, err := scanChatMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *conversationRepository) CountMessages(ctx context.Context, sessionID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM chat_messages
		WHERE session_id = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func scanChatMessage(rows pgx.Rows) (*models.ChatMessage, error) {
	var m models.ChatMessage
	var toolCallsJSON []byte
	var toolCallID *string

	err := rows.Scan(
		&m.ID, &m.SessionID, &m.Role, &m.Content,
		&toolCallsJSON, &toolCallID, &m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	if toolCallID != nil {
		m.ToolCallID = *toolCallID
	}
	if len(toolCallsJSON) > 0 {
		if err := json.Unmarshal(toolCallsJSON, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool_calls: %w", err)
		}
	}
	return &m, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
