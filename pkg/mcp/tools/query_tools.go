// Package tools provides MCP tool implementations for askdb-engine.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/agent"
	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/gateway"
	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// QueryToolDeps defines dependencies for the query MCP tools. SessionID
// identifies this MCP host as a chat session so pending confirmations are
// scoped the same way as in the HTTP chat surface.
type QueryToolDeps struct {
	SessionID uuid.UUID
	Executor  *agent.ToolExecutor
	Gateway   *gateway.Gateway
	Logger    *zap.Logger
}

// RegisterQueryTools registers the natural-language query tools with the
// MCP server. They call the same schema index and operation gateway code
// paths as the built-in chat agent, so a statement held for confirmation
// here is resolved with the same handshake.
func RegisterQueryTools(mcpServer *server.MCPServer, deps *QueryToolDeps) {
	registerSemanticSearchTool(mcpServer, deps)
	registerTableDDLTool(mcpServer, deps)
	registerExecuteQueryTool(mcpServer, deps)
	registerExecuteNonQueryTool(mcpServer, deps)
	registerListTablesTool(mcpServer, deps)
	registerResolveConfirmationTool(mcpServer, deps)
	registerPendingOperationTool(mcpServer, deps)
}

// runTool marshals the argument map and dispatches through the shared tool
// executor. Recoverable failures come back as JSON payloads inside the
// result text; only system failures surface as Go errors.
func runTool(ctx context.Context, deps *QueryToolDeps, name string, args any) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
	}

	deps.Logger.Debug("Executing MCP tool",
		zap.String("tool", name),
		zap.String("session_id", deps.SessionID.String()))

	result, err := deps.Executor.ExecuteTool(ctx, name, string(payload))
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(result), nil
}

func registerSemanticSearchTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		agent.ToolSemanticSearchSchema,
		mcp.WithDescription(
			"Semantically search the database schema and business glossary. "+
				"Returns the tables, columns and business terms most relevant to a natural-language phrase. "+
				"Use this before writing SQL. "+
				"Example: semantic_search_schema(query='monthly revenue per customer') surfaces the orders and customers tables.",
		),
		mcp.WithString(
			"query",
			mcp.Required(),
			mcp.Description("Natural-language description of the data you are looking for"),
		),
		mcp.WithNumber(
			"top_k",
			mcp.Description("Maximum number of results to return (default 10)"),
		),
		mcp.WithArray(
			"entity_types",
			mcp.Description("Optional: restrict results to 'table', 'column' or 'business_term'"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, semanticSearchHandler(deps))
}

func semanticSearchHandler(deps *QueryToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return nil, err
		}
		query = trimString(query)
		if query == "" {
			return NewErrorResult("invalid_parameters", "parameter 'query' cannot be empty"), nil
		}

		args := map[string]any{"query": query}
		if topK := getOptionalInt(req, "top_k"); topK > 0 {
			args["top_k"] = topK
		}
		if types := getStringSlice(req, "entity_types"); len(types) > 0 {
			args["entity_types"] = types
		}

		return runTool(ctx, deps, agent.ToolSemanticSearchSchema, args)
	}
}

func registerTableDDLTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		agent.ToolGetTableDDL,
		mcp.WithDescription(
			"Get the CREATE TABLE definition of one table, including columns, types, primary key and foreign keys. "+
				"Example: get_table_ddl(table_name='public.orders').",
		),
		mcp.WithString(
			"table_name",
			mcp.Required(),
			mcp.Description("Table name, optionally schema-qualified (e.g. public.orders)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, tableDDLHandler(deps))
}

func tableDDLHandler(deps *QueryToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tableName, err := req.RequireString("table_name")
		if err != nil {
			return nil, err
		}
		tableName = trimString(tableName)
		if tableName == "" {
			return NewErrorResult("invalid_parameters", "parameter 'table_name' cannot be empty"), nil
		}

		return runTool(ctx, deps, agent.ToolGetTableDDL, map[string]any{"table_name": tableName})
	}
}

func registerExecuteQueryTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		agent.ToolExecuteQuery,
		mcp.WithDescription(
			"Execute a read-only SQL query (SELECT) against the database. "+
				"Results are truncated to a configured row cap. "+
				"Statements that modify data are rejected; use execute_non_query_with_explanation for those.",
		),
		mcp.WithString(
			"sql",
			mcp.Required(),
			mcp.Description("The SQL query to run"),
		),
		mcp.WithString(
			"explanation",
			mcp.Required(),
			mcp.Description("One sentence explaining what the query does, in business terms"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, executeQueryHandler(deps))
}

func executeQueryHandler(deps *QueryToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sqlText, err := req.RequireString("sql")
		if err != nil {
			return nil, err
		}
		if trimString(sqlText) == "" {
			return NewErrorResult("invalid_parameters", "parameter 'sql' cannot be empty"), nil
		}
		explanation, err := req.RequireString("explanation")
		if err != nil {
			return nil, err
		}

		return runTool(ctx, deps, agent.ToolExecuteQuery, map[string]any{
			"sql":         sqlText,
			"explanation": explanation,
		})
	}
}

func registerExecuteNonQueryTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		agent.ToolExecuteNonQuery,
		mcp.WithDescription(
			"Execute a SQL statement that modifies data or schema (INSERT, UPDATE, DELETE, CREATE, ALTER, DROP). "+
				"Risky statements are not run immediately: the result contains needs_confirmation=true and a "+
				"confirmation payload with a pending_id. Present it to the user, then call resolve_confirmation "+
				"with their decision.",
		),
		mcp.WithString(
			"sql",
			mcp.Required(),
			mcp.Description("The SQL statement to run"),
		),
		mcp.WithString(
			"explanation",
			mcp.Required(),
			mcp.Description("One sentence explaining what the statement does"),
		),
		mcp.WithString(
			"expected_impact",
			mcp.Required(),
			mcp.Description("What will change, e.g. 'deletes about 40 rows from orders'"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, executeNonQueryHandler(deps))
}

func executeNonQueryHandler(deps *QueryToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sqlText, err := req.RequireString("sql")
		if err != nil {
			return nil, err
		}
		if trimString(sqlText) == "" {
			return NewErrorResult("invalid_parameters", "parameter 'sql' cannot be empty"), nil
		}
		explanation, err := req.RequireString("explanation")
		if err != nil {
			return nil, err
		}
		expectedImpact, err := req.RequireString("expected_impact")
		if err != nil {
			return nil, err
		}

		return runTool(ctx, deps, agent.ToolExecuteNonQuery, map[string]any{
			"sql":             sqlText,
			"explanation":     explanation,
			"expected_impact": expectedImpact,
		})
	}
}

func registerListTablesTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		agent.ToolListAllTables,
		mcp.WithDescription(
			"List every table in the database with its schema and approximate row count.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, listTablesHandler(deps))
}

func listTablesHandler(deps *QueryToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return runTool(ctx, deps, agent.ToolListAllTables, map[string]any{})
	}
}

func registerResolveConfirmationTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		"resolve_confirmation",
		mcp.WithDescription(
			"Resolve a SQL statement that was held for user confirmation. "+
				"Call this only after the user explicitly approved or rejected the operation. "+
				"Approval executes the held statement and returns its outcome; rejection discards it. "+
				"Example: resolve_confirmation(pending_id='...', decision='approve').",
		),
		mcp.WithString(
			"pending_id",
			mcp.Required(),
			mcp.Description("The pending_id from the needs_confirmation payload"),
		),
		mcp.WithString(
			"decision",
			mcp.Required(),
			mcp.Description("'approve' to execute the held statement, 'reject' to discard it"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, resolveConfirmationHandler(deps))
}

func resolveConfirmationHandler(deps *QueryToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawID, err := req.RequireString("pending_id")
		if err != nil {
			return nil, err
		}
		pendingID, err := uuid.Parse(trimString(rawID))
		if err != nil {
			return NewErrorResult("invalid_parameters", "parameter 'pending_id' must be a UUID"), nil
		}

		decision, err := req.RequireString("decision")
		if err != nil {
			return nil, err
		}
		decision = trimString(decision)
		if !models.IsValidDecision(decision) {
			return NewErrorResult("invalid_parameters", "parameter 'decision' must be 'approve' or 'reject'"), nil
		}

		op, err := deps.Gateway.Resolve(ctx, deps.SessionID, pendingID, decision)
		if err != nil {
			if errors.Is(err, apperrors.ErrStaleConfirmation) {
				return NewErrorResult("stale_confirmation",
					"the pending operation expired or was superseded; submit the statement again if it is still wanted"), nil
			}
			return nil, err
		}

		jsonBytes, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal resolved operation: %w", err)
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}
}

func registerPendingOperationTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		"get_pending_operation",
		mcp.WithDescription(
			"Get the SQL operation currently awaiting user confirmation for this session, if any. "+
				"Use this to re-read the confirmation prompt before calling resolve_confirmation.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, pendingOperationHandler(deps))
}

func pendingOperationHandler(deps *QueryToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		op, err := deps.Gateway.Pending(ctx, deps.SessionID)
		if err != nil {
			return nil, err
		}

		payload := map[string]any{"pending": op != nil}
		if op != nil {
			payload["confirmation"] = op.Prompt()
		}

		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pending operation: %w", err)
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}
}
