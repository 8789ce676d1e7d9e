package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/agent"
	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/config"
	"github.com/askdb-inc/askdb-engine/pkg/gateway"
	"github.com/askdb-inc/askdb-engine/pkg/llm"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/schemaindex"
)

// memoryRepo is an in-memory ConversationRepository for relay tests.
type memoryRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.ChatSession
	messages []*models.ChatMessage
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sessions: make(map[uuid.UUID]*models.ChatSession)}
}

func (r *memoryRepo) EnsureSession(ctx context.Context, sessionID uuid.UUID) (*models.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		return s, nil
	}
	s := &models.ChatSession{ID: sessionID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.sessions[sessionID] = s
	return s, nil
}

func (r *memoryRepo) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s, nil
}

func (r *memoryRepo) SetTitle(ctx context.Context, sessionID uuid.UUID, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.Title = title
	return nil
}

func (r *memoryRepo) SaveMessage(ctx context.Context, message *models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	r.messages = append(r.messages, message)
	return nil
}

func (r *memoryRepo) GetHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ChatMessage
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) CountMessages(ctx context.Context, sessionID uuid.UUID) (int, error) {
	h, _ := r.GetHistory(ctx, sessionID, 0)
	return len(h), nil
}

func (r *memoryRepo) roles(sessionID uuid.UUID) []models.ChatRole {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ChatRole
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			out = append(out, m.Role)
		}
	}
	return out
}

type fakeExec struct {
	mu        sync.Mutex
	execCalls int
}

func (f *fakeExec) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	return &datasource.QueryExecutionResult{
		Columns:  []datasource.ColumnInfo{{Name: "n", Type: "INTEGER"}},
		Rows:     []map[string]any{{"n": 7}},
		RowCount: 1,
	}, nil
}

func (f *fakeExec) Execute(ctx context.Context, sqlStatement string) (*datasource.ExecuteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls++
	return &datasource.ExecuteResult{RowsAffected: 3}, nil
}

func (f *fakeExec) QuoteIdentifier(name string) string { return name }

func (f *fakeExec) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execCalls
}

type harness struct {
	service *Service
	repo    *memoryRepo
	exec    *fakeExec
	gw      *gateway.Gateway
}

func newHarness(t *testing.T, streamer llm.ToolStreamer, recommender *agent.Recommender) *harness {
	t.Helper()

	exec := &fakeExec{}
	gw, err := gateway.New(exec, gateway.NewMemoryStore(), &config.SafetyConfig{
		ConfirmationThreshold: "high",
		PendingTTLMinutes:     10,
		MaxResultRows:         15,
	}, zap.NewNop())
	require.NoError(t, err)

	repo := newMemoryRepo()
	index := schemaindex.New(llm.NewMockLLMClient(), zap.NewNop())
	return &harness{
		service: NewService(repo, gw, index, streamer, recommender, zap.NewNop()),
		repo:    repo,
		exec:    exec,
		gw:      gw,
	}
}

func collectEvents(t *testing.T, run func(events chan<- models.StreamEvent) error) ([]models.StreamEvent, error) {
	t.Helper()
	events := make(chan models.StreamEvent, 100)
	err := run(events)
	close(events)

	var out []models.StreamEvent
	for e := range events {
		out = append(out, e)
	}
	return out, err
}

func eventTypes(events []models.StreamEvent) []models.StreamEventType {
	out := make([]models.StreamEventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestRunTurn_PlainAnswer(t *testing.T) {
	streamer := &llm.MockToolStreamer{
		StreamFunc: func(ctx context.Context, req *llm.StreamingRequest, executor llm.ToolExecutor, eventChan chan<- llm.StreamEvent) error {
			eventChan <- llm.StreamEvent{Type: llm.StreamEventText, Content: "There are "}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventText, Content: "7 orders."}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventDone}
			return nil
		},
	}
	h := newHarness(t, streamer, nil)
	sessionID := uuid.New()

	events, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), sessionID, "How many orders?", events)
	})
	require.NoError(t, err)

	assert.Equal(t, []models.StreamEventType{
		models.StreamEventContent,
		models.StreamEventContent,
		models.StreamEventDone,
	}, eventTypes(events))

	assert.Equal(t, []models.ChatRole{
		models.ChatRoleUser,
		models.ChatRoleAssistant,
	}, h.repo.roles(sessionID))
}

func TestRunTurn_ToolCallOrdering(t *testing.T) {
	streamer := &llm.MockToolStreamer{
		StreamFunc: func(ctx context.Context, req *llm.StreamingRequest, executor llm.ToolExecutor, eventChan chan<- llm.StreamEvent) error {
			tc := llm.ToolCall{
				ID:   "call_1",
				Type: "function",
				Function: llm.ToolCallFunc{
					Name:      agent.ToolExecuteQuery,
					Arguments: `{"sql": "SELECT count(*) AS n FROM orders", "explanation": "count"}`,
				},
			}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventToolCall, Data: tc}

			result, err := executor.ExecuteTool(ctx, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				return err
			}
			eventChan <- llm.StreamEvent{
				Type:    llm.StreamEventToolResult,
				Content: result,
				Data:    llm.ToolResultPayload{ToolCallID: tc.ID, Name: tc.Function.Name},
			}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventText, Content: "7 orders."}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventDone}
			return nil
		},
	}
	h := newHarness(t, streamer, nil)
	sessionID := uuid.New()

	events, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), sessionID, "How many orders?", events)
	})
	require.NoError(t, err)

	assert.Equal(t, []models.StreamEventType{
		models.StreamEventToolCallStart,
		models.StreamEventToolCallResult,
		models.StreamEventContent,
		models.StreamEventDone,
	}, eventTypes(events))

	// tool_call_result carries the tool call id and the raw JSON result.
	assert.Equal(t, "call_1", events[1].Content)
	var outcome models.ExecutionOutcome
	require.NoError(t, json.Unmarshal(events[1].Data.(json.RawMessage), &outcome))
	assert.True(t, outcome.Success)

	assert.Equal(t, []models.ChatRole{
		models.ChatRoleUser,
		models.ChatRoleAssistant, // tool-call request
		models.ChatRoleTool,
		models.ChatRoleAssistant, // final answer
	}, h.repo.roles(sessionID))
}

// riskyStreamer drives one DELETE through the gateway so the turn suspends.
// Like the real streaming client it stops as soon as req.Suspend accepts the
// tool result.
func riskyStreamer() *llm.MockToolStreamer {
	return &llm.MockToolStreamer{
		StreamFunc: func(ctx context.Context, req *llm.StreamingRequest, executor llm.ToolExecutor, eventChan chan<- llm.StreamEvent) error {
			tc := llm.ToolCall{
				ID:   "call_del",
				Type: "function",
				Function: llm.ToolCallFunc{
					Name:      agent.ToolExecuteNonQuery,
					Arguments: `{"sql": "DELETE FROM orders WHERE status = 'stale'", "explanation": "purge stale orders", "expected_impact": "removes stale rows"}`,
				},
			}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventToolCall, Data: tc}

			result, err := executor.ExecuteTool(ctx, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				return err
			}
			eventChan <- llm.StreamEvent{
				Type:    llm.StreamEventToolResult,
				Content: result,
				Data:    llm.ToolResultPayload{ToolCallID: tc.ID, Name: tc.Function.Name},
			}
			if req.Suspend != nil && req.Suspend(result) {
				return nil
			}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventText, Content: "Deleted."}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventDone}
			return nil
		},
	}
}

func TestRunTurn_SuspendsOnConfirmation(t *testing.T) {
	h := newHarness(t, riskyStreamer(), nil)
	sessionID := uuid.New()

	events, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), sessionID, "Delete stale orders", events)
	})
	require.NoError(t, err)

	types := eventTypes(events)
	assert.Equal(t, []models.StreamEventType{
		models.StreamEventToolCallStart,
		models.StreamEventNeedsConfirmation,
	}, types, "needs_confirmation ends the turn; no content or done after it")

	prompt, ok := events[1].Data.(*models.ConfirmationPrompt)
	require.True(t, ok)
	assert.Equal(t, "high", prompt.RiskLevel)
	assert.NotEqual(t, uuid.Nil, prompt.PendingID)
	assert.Zero(t, h.exec.calls(), "nothing executed before approval")
}

func TestRunTurn_IgnoresEventsAfterConfirmationRequest(t *testing.T) {
	// A streamer that keeps talking after the marker result must not leak
	// those events to the caller.
	streamer := &llm.MockToolStreamer{
		StreamFunc: func(ctx context.Context, req *llm.StreamingRequest, executor llm.ToolExecutor, eventChan chan<- llm.StreamEvent) error {
			tc := llm.ToolCall{
				ID:   "call_del",
				Type: "function",
				Function: llm.ToolCallFunc{
					Name:      agent.ToolExecuteNonQuery,
					Arguments: `{"sql": "DELETE FROM orders WHERE status = 'stale'", "explanation": "purge stale orders", "expected_impact": "removes stale rows"}`,
				},
			}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventToolCall, Data: tc}
			result, err := executor.ExecuteTool(ctx, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				return err
			}
			eventChan <- llm.StreamEvent{
				Type:    llm.StreamEventToolResult,
				Content: result,
				Data:    llm.ToolResultPayload{ToolCallID: tc.ID, Name: tc.Function.Name},
			}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventText, Content: "Going ahead with the delete."}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventDone}
			return nil
		},
	}
	h := newHarness(t, streamer, nil)

	events, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), uuid.New(), "Delete stale orders", events)
	})
	require.NoError(t, err)

	assert.Equal(t, []models.StreamEventType{
		models.StreamEventToolCallStart,
		models.StreamEventNeedsConfirmation,
	}, eventTypes(events))
	assert.Zero(t, h.exec.calls())
}

func TestRunTurn_RejectedWhilePending(t *testing.T) {
	h := newHarness(t, riskyStreamer(), nil)
	sessionID := uuid.New()

	_, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), sessionID, "Delete stale orders", events)
	})
	require.NoError(t, err)

	_, err = collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), sessionID, "Also show revenue", events)
	})
	assert.ErrorIs(t, err, apperrors.ErrConfirmationPending)
}

func TestResume_ApproveExecutesAndCompletes(t *testing.T) {
	h := newHarness(t, riskyStreamer(), nil)
	sessionID := uuid.New()

	turnEvents, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), sessionID, "Delete stale orders", events)
	})
	require.NoError(t, err)
	prompt := turnEvents[1].Data.(*models.ConfirmationPrompt)

	events, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.Resume(context.Background(), sessionID, prompt.PendingID, models.DecisionApprove, events)
	})
	require.NoError(t, err)

	assert.Equal(t, []models.StreamEventType{
		models.StreamEventToolCallResult,
		models.StreamEventContent,
		models.StreamEventDone,
	}, eventTypes(events))

	outcome, ok := events[0].Data.(*models.ExecutionOutcome)
	require.True(t, ok)
	assert.True(t, outcome.Success)
	assert.Equal(t, int64(3), outcome.RowsAffected)
	assert.Equal(t, 1, h.exec.calls())

	// The session is usable again.
	pending, err := h.gw.Pending(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestResume_RejectDoesNotExecute(t *testing.T) {
	h := newHarness(t, riskyStreamer(), nil)
	sessionID := uuid.New()

	turnEvents, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), sessionID, "Delete stale orders", events)
	})
	require.NoError(t, err)
	prompt := turnEvents[1].Data.(*models.ConfirmationPrompt)

	events, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.Resume(context.Background(), sessionID, prompt.PendingID, models.DecisionReject, events)
	})
	require.NoError(t, err)

	assert.Zero(t, h.exec.calls())
	last := events[len(events)-1]
	assert.Equal(t, models.StreamEventDone, last.Type)

	var contents []string
	for _, e := range events {
		if e.Type == models.StreamEventContent {
			contents = append(contents, e.Content)
		}
	}
	require.NotEmpty(t, contents)
	assert.Contains(t, contents[0], "rejected")
}

func TestResume_StaleID(t *testing.T) {
	h := newHarness(t, riskyStreamer(), nil)
	sessionID := uuid.New()

	_, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), sessionID, "Delete stale orders", events)
	})
	require.NoError(t, err)

	_, err = collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.Resume(context.Background(), sessionID, uuid.New(), models.DecisionApprove, events)
	})
	assert.ErrorIs(t, err, apperrors.ErrStaleConfirmation)
}

func TestRunTurn_FirstTurnRecommendationsAndTitle(t *testing.T) {
	streamer := &llm.MockToolStreamer{
		StreamFunc: func(ctx context.Context, req *llm.StreamingRequest, executor llm.ToolExecutor, eventChan chan<- llm.StreamEvent) error {
			eventChan <- llm.StreamEvent{Type: llm.StreamEventText, Content: "7 orders."}
			eventChan <- llm.StreamEvent{Type: llm.StreamEventDone}
			return nil
		},
	}

	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (string, error) {
		if len(prompt) > 0 && prompt[0] == 'W' { // title prompt starts with "Write"
			return "Order Counts", nil
		}
		return `["Break down by month", "Which customer ordered most?"]`, nil
	}
	recommender := agent.NewRecommender(mock, zap.NewNop())

	h := newHarness(t, streamer, recommender)
	sessionID := uuid.New()

	events, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), sessionID, "How many orders?", events)
	})
	require.NoError(t, err)

	assert.Equal(t, []models.StreamEventType{
		models.StreamEventContent,
		models.StreamEventRecommendations,
		models.StreamEventTitleUpdated,
		models.StreamEventDone,
	}, eventTypes(events))
	assert.Equal(t, "Order Counts", events[2].Content)

	session, err := h.repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, "Order Counts", session.Title)

	// Second turn keeps the title and skips title_updated.
	events, err = collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), sessionID, "And last month?", events)
	})
	require.NoError(t, err)
	for _, e := range events {
		assert.NotEqual(t, models.StreamEventTitleUpdated, e.Type)
	}
}

func TestRunTurn_StreamErrorSurfaced(t *testing.T) {
	streamErr := errors.New("model unavailable")
	streamer := &llm.MockToolStreamer{
		StreamFunc: func(ctx context.Context, req *llm.StreamingRequest, executor llm.ToolExecutor, eventChan chan<- llm.StreamEvent) error {
			eventChan <- llm.StreamEvent{Type: llm.StreamEventError, Content: streamErr.Error()}
			return streamErr
		},
	}
	h := newHarness(t, streamer, nil)

	events, err := collectEvents(t, func(events chan<- models.StreamEvent) error {
		return h.service.RunTurn(context.Background(), uuid.New(), "hi", events)
	})
	require.ErrorIs(t, err, streamErr)

	types := eventTypes(events)
	require.NotEmpty(t, types)
	assert.Equal(t, models.StreamEventError, types[len(types)-1])
}
