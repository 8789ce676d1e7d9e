package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/gateway"
	"github.com/askdb-inc/askdb-engine/pkg/llm"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/schemaindex"
)

// ToolExecutor executes the model's tool calls for one session.
type ToolExecutor struct {
	sessionID uuid.UUID
	index     *schemaindex.Index
	gw        *gateway.Gateway
	logger    *zap.Logger
}

// NewToolExecutor creates a tool executor bound to one chat session.
func NewToolExecutor(sessionID uuid.UUID, index *schemaindex.Index, gw *gateway.Gateway, logger *zap.Logger) *ToolExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolExecutor{
		sessionID: sessionID,
		index:     index,
		gw:        gw,
		logger:    logger.Named("tool-executor"),
	}
}

var _ llm.ToolExecutor = (*ToolExecutor)(nil)

// ExecuteTool dispatches to the tool handler. The set is closed: unknown
// names are an error, not a lookup.
func (e *ToolExecutor) ExecuteTool(ctx context.Context, name string, arguments string) (string, error) {
	e.logger.Debug("Executing tool",
		zap.String("tool", name),
		zap.String("session_id", e.sessionID.String()))

	switch name {
	case ToolSemanticSearchSchema:
		return e.semanticSearchSchema(ctx, arguments)
	case ToolGetTableDDL:
		return e.getTableDDL(ctx, arguments)
	case ToolExecuteQuery:
		return e.executeQuery(ctx, arguments)
	case ToolExecuteNonQuery:
		return e.executeNonQuery(ctx, arguments)
	case ToolListAllTables:
		return e.listAllTables(ctx, arguments)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

type semanticSearchArgs struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k"`
	EntityTypes []string `json:"entity_types"`
}

func (e *ToolExecutor) semanticSearchSchema(ctx context.Context, arguments string) (string, error) {
	var args semanticSearchArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	var types []schemaindex.EntityType
	for _, t := range args.EntityTypes {
		types = append(types, schemaindex.EntityType(t))
	}

	matches, err := e.index.Search(ctx, args.Query, args.TopK, types)
	if err != nil {
		if errors.Is(err, apperrors.ErrIndexNotReady) {
			return toolError("The schema index has not been built yet. Ask an administrator to rebuild it."), nil
		}
		return toolError(fmt.Sprintf("Search failed: %v", err)), nil
	}

	type hit struct {
		ID          string         `json:"id"`
		Type        string         `json:"type"`
		DisplayText string         `json:"display_text"`
		Score       float64        `json:"score"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}
	hits := make([]hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, hit{
			ID:          m.Entry.ID,
			Type:        string(m.Entry.Type),
			DisplayText: m.Entry.DisplayText,
			Score:       m.Score,
			Metadata:    m.Entry.Metadata,
		})
	}

	return marshalResult(map[string]any{
		"query":   args.Query,
		"results": hits,
		"count":   len(hits),
	})
}

type tableDDLArgs struct {
	TableName string `json:"table_name"`
}

func (e *ToolExecutor) getTableDDL(ctx context.Context, arguments string) (string, error) {
	var args tableDDLArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.TableName == "" {
		return "", fmt.Errorf("table_name is required")
	}

	doc, err := e.index.Table(args.TableName)
	if err != nil {
		if errors.Is(err, apperrors.ErrIndexNotReady) {
			return toolError("The schema index has not been built yet. Ask an administrator to rebuild it."), nil
		}
		return toolError(fmt.Sprintf("Table lookup failed: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"schema_name": doc.Schema,
		"table_name":  doc.Table,
		"ddl":         doc.DDL(),
	})
}

type executeQueryArgs struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

func (e *ToolExecutor) executeQuery(ctx context.Context, arguments string) (string, error) {
	var args executeQueryArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.SQL == "" {
		return "", fmt.Errorf("sql is required")
	}

	outcome, err := e.gw.ExecuteReadOnly(ctx, args.SQL)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnexpectedWrite) {
			return toolError("This statement modifies data. Use execute_non_query_with_explanation instead."), nil
		}
		return toolError(fmt.Sprintf("Query failed: %v", err)), nil
	}

	return marshalResult(outcome)
}

type executeNonQueryArgs struct {
	SQL            string `json:"sql"`
	Explanation    string `json:"explanation"`
	ExpectedImpact string `json:"expected_impact"`
}

func (e *ToolExecutor) executeNonQuery(ctx context.Context, arguments string) (string, error) {
	var args executeNonQueryArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.SQL == "" {
		return "", fmt.Errorf("sql is required")
	}

	outcome, pending, err := e.gw.ExecuteWithExplanation(ctx, e.sessionID, args.SQL, args.Explanation, args.ExpectedImpact)
	if err != nil {
		return toolError(fmt.Sprintf("Execution failed: %v", err)), nil
	}

	if pending != nil {
		return marshalResult(&PendingMarker{
			NeedsConfirmation: true,
			Confirmation:      pending.Prompt(),
			Message:           "This operation requires explicit user confirmation before it runs. Tell the user what is about to happen and stop; do not call further tools.",
		})
	}

	return marshalResult(outcome)
}

func (e *ToolExecutor) listAllTables(ctx context.Context, _ string) (string, error) {
	tables, err := e.index.ListTables()
	if err != nil {
		if errors.Is(err, apperrors.ErrIndexNotReady) {
			return toolError("The schema index has not been built yet. Ask an administrator to rebuild it."), nil
		}
		return toolError(fmt.Sprintf("Listing tables failed: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"tables": tables,
		"count":  len(tables),
	})
}

// PendingMarker is the tool-result payload that signals a parked operation.
// The stream relay looks for it to emit the needs_confirmation event.
type PendingMarker struct {
	NeedsConfirmation bool                       `json:"needs_confirmation"`
	Confirmation      *models.ConfirmationPrompt `json:"confirmation"`
	Message           string                     `json:"message"`
}

// ParsePendingMarker extracts the confirmation prompt from a tool result, or
// nil if the result is not a pending marker.
func ParsePendingMarker(toolResult string) *models.ConfirmationPrompt {
	var marker PendingMarker
	if err := json.Unmarshal([]byte(toolResult), &marker); err != nil {
		return nil
	}
	if !marker.NeedsConfirmation || marker.Confirmation == nil {
		return nil
	}
	return marker.Confirmation
}

func toolError(message string) string {
	out, _ := json.Marshal(map[string]string{"error": message})
	return string(out)
}

func marshalResult(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return string(out), nil
}
