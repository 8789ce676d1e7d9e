package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/agent"
	"github.com/askdb-inc/askdb-engine/pkg/config"
	"github.com/askdb-inc/askdb-engine/pkg/gateway"
	"github.com/askdb-inc/askdb-engine/pkg/llm"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/schemaindex"
)

// fakeExec scripts the datasource behind the gateway.
type fakeExec struct {
	execCalls int
}

func (f *fakeExec) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	return &datasource.QueryExecutionResult{
		Columns:  []datasource.ColumnInfo{{Name: "n", Type: "INT8"}},
		Rows:     []map[string]any{{"n": int64(7)}},
		RowCount: 1,
	}, nil
}

func (f *fakeExec) Execute(ctx context.Context, sqlStatement string) (*datasource.ExecuteResult, error) {
	f.execCalls++
	return &datasource.ExecuteResult{RowsAffected: 3}, nil
}

func (f *fakeExec) QuoteIdentifier(name string) string { return `"` + name + `"` }

type schemaFixture struct{}

func (schemaFixture) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	return []datasource.TableMetadata{
		{SchemaName: "public", TableName: "orders", RowCount: 320},
		{SchemaName: "public", TableName: "customers", RowCount: 80},
	}, nil
}

func (schemaFixture) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	switch tableName {
	case "orders":
		return []datasource.ColumnMetadata{
			{ColumnName: "id", DataType: "UUID", IsPrimaryKey: true, OrdinalPosition: 1},
			{ColumnName: "customer_id", DataType: "UUID", OrdinalPosition: 2},
		}, nil
	case "customers":
		return []datasource.ColumnMetadata{
			{ColumnName: "id", DataType: "UUID", IsPrimaryKey: true, OrdinalPosition: 1},
			{ColumnName: "name", DataType: "TEXT", OrdinalPosition: 2},
		}, nil
	}
	return nil, nil
}

func (schemaFixture) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	return nil, nil
}

func wordVector(text string) []float32 {
	words := []string{"order", "customer", "name"}
	lower := strings.ToLower(text)
	vec := make([]float32, len(words))
	for i, w := range words {
		vec[i] = float32(strings.Count(lower, w))
	}
	return vec
}

func newQueryDeps(t *testing.T) (*QueryToolDeps, *fakeExec) {
	t.Helper()

	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input string, model string) ([]float32, error) {
		return wordVector(input), nil
	}
	mock.CreateEmbeddingsFunc = func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
		out := make([][]float32, len(inputs))
		for i, in := range inputs {
			out[i] = wordVector(in)
		}
		return out, nil
	}

	idx := schemaindex.New(mock, zap.NewNop())
	_, err := idx.Rebuild(context.Background(), schemaFixture{}, nil, nil)
	require.NoError(t, err)

	exec := &fakeExec{}
	gw, err := gateway.New(exec, gateway.NewMemoryStore(), &config.SafetyConfig{
		ConfirmationThreshold: "high",
		PendingTTLMinutes:     10,
		MaxResultRows:         15,
	}, zap.NewNop())
	require.NoError(t, err)

	sessionID := uuid.New()
	return &QueryToolDeps{
		SessionID: sessionID,
		Executor:  agent.NewToolExecutor(sessionID, idx, gw, zap.NewNop()),
		Gateway:   gw,
		Logger:    zap.NewNop(),
	}, exec
}

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func decodeResult(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), v))
}

func TestSemanticSearchTool(t *testing.T) {
	deps, _ := newQueryDeps(t)
	handler := semanticSearchHandler(deps)

	result, err := handler(context.Background(), callReq(agent.ToolSemanticSearchSchema, map[string]any{
		"query": "customer orders",
		"top_k": float64(3),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload struct {
		Results []struct {
			ID    string  `json:"id"`
			Score float64 `json:"score"`
		} `json:"results"`
		Count int `json:"count"`
	}
	decodeResult(t, result, &payload)
	require.NotEmpty(t, payload.Results)
	assert.Equal(t, len(payload.Results), payload.Count)
	assert.Equal(t, "table:public.orders", payload.Results[0].ID)
}

func TestSemanticSearchTool_MissingQuery(t *testing.T) {
	deps, _ := newQueryDeps(t)
	handler := semanticSearchHandler(deps)

	_, err := handler(context.Background(), callReq(agent.ToolSemanticSearchSchema, map[string]any{}))
	require.Error(t, err)
}

func TestSemanticSearchTool_BlankQuery(t *testing.T) {
	deps, _ := newQueryDeps(t)
	handler := semanticSearchHandler(deps)

	result, err := handler(context.Background(), callReq(agent.ToolSemanticSearchSchema, map[string]any{
		"query": "   ",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	var resp ErrorResponse
	decodeResult(t, result, &resp)
	assert.Equal(t, "invalid_parameters", resp.Code)
}

func TestTableDDLTool(t *testing.T) {
	deps, _ := newQueryDeps(t)
	handler := tableDDLHandler(deps)

	result, err := handler(context.Background(), callReq(agent.ToolGetTableDDL, map[string]any{
		"table_name": "public.orders",
	}))
	require.NoError(t, err)

	var payload struct {
		SchemaName string `json:"schema_name"`
		TableName  string `json:"table_name"`
		DDL        string `json:"ddl"`
	}
	decodeResult(t, result, &payload)
	assert.Equal(t, "public", payload.SchemaName)
	assert.Equal(t, "orders", payload.TableName)
	assert.Contains(t, payload.DDL, "CREATE TABLE")
}

func TestTableDDLTool_UnknownTable(t *testing.T) {
	deps, _ := newQueryDeps(t)
	handler := tableDDLHandler(deps)

	result, err := handler(context.Background(), callReq(agent.ToolGetTableDDL, map[string]any{
		"table_name": "public.nope",
	}))
	require.NoError(t, err)

	var payload map[string]string
	decodeResult(t, result, &payload)
	assert.Contains(t, payload["error"], "nope")
}

func TestExecuteQueryTool(t *testing.T) {
	deps, _ := newQueryDeps(t)
	handler := executeQueryHandler(deps)

	result, err := handler(context.Background(), callReq(agent.ToolExecuteQuery, map[string]any{
		"sql":         "SELECT count(*) AS n FROM orders",
		"explanation": "counts orders",
	}))
	require.NoError(t, err)

	var outcome models.ExecutionOutcome
	decodeResult(t, result, &outcome)
	assert.True(t, outcome.Success)
	assert.Equal(t, 1, outcome.RowCount)
}

func TestExecuteQueryTool_RejectsMutatingSQL(t *testing.T) {
	deps, exec := newQueryDeps(t)
	handler := executeQueryHandler(deps)

	result, err := handler(context.Background(), callReq(agent.ToolExecuteQuery, map[string]any{
		"sql":         "DELETE FROM orders WHERE id = 1",
		"explanation": "removes an order",
	}))
	require.NoError(t, err)

	var payload map[string]string
	decodeResult(t, result, &payload)
	assert.Contains(t, payload["error"], agent.ToolExecuteNonQuery)
	assert.Equal(t, 0, exec.execCalls)
}

func TestExecuteNonQueryTool_LowRiskRunsImmediately(t *testing.T) {
	deps, exec := newQueryDeps(t)
	handler := executeNonQueryHandler(deps)

	result, err := handler(context.Background(), callReq(agent.ToolExecuteNonQuery, map[string]any{
		"sql":             "INSERT INTO orders (id) VALUES ('x')",
		"explanation":     "adds an order",
		"expected_impact": "inserts one row",
	}))
	require.NoError(t, err)

	var outcome models.ExecutionOutcome
	decodeResult(t, result, &outcome)
	assert.True(t, outcome.Success)
	assert.Equal(t, int64(3), outcome.RowsAffected)
	assert.Equal(t, 1, exec.execCalls)
}

func TestExecuteNonQueryTool_RiskyStatementParks(t *testing.T) {
	deps, exec := newQueryDeps(t)
	handler := executeNonQueryHandler(deps)

	result, err := handler(context.Background(), callReq(agent.ToolExecuteNonQuery, map[string]any{
		"sql":             "DELETE FROM orders WHERE status = 'stale'",
		"explanation":     "removes stale orders",
		"expected_impact": "deletes stale rows",
	}))
	require.NoError(t, err)

	prompt := agent.ParsePendingMarker(resultText(t, result))
	require.NotNil(t, prompt)
	assert.Equal(t, "high", prompt.RiskLevel)
	assert.Equal(t, 0, exec.execCalls)

	op, err := deps.Gateway.Pending(context.Background(), deps.SessionID)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, prompt.PendingID, op.ID)
}

func TestListTablesTool(t *testing.T) {
	deps, _ := newQueryDeps(t)
	handler := listTablesHandler(deps)

	result, err := handler(context.Background(), callReq(agent.ToolListAllTables, nil))
	require.NoError(t, err)

	var payload struct {
		Count  int                        `json:"count"`
		Tables []datasource.TableMetadata `json:"tables"`
	}
	decodeResult(t, result, &payload)
	assert.Equal(t, 2, payload.Count)
}

func TestResolveConfirmationTool_Approve(t *testing.T) {
	deps, exec := newQueryDeps(t)

	parkStatement(t, deps)
	op, err := deps.Gateway.Pending(context.Background(), deps.SessionID)
	require.NoError(t, err)
	require.NotNil(t, op)

	handler := resolveConfirmationHandler(deps)
	result, err := handler(context.Background(), callReq("resolve_confirmation", map[string]any{
		"pending_id": op.ID.String(),
		"decision":   "approve",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resolved models.PendingOperation
	decodeResult(t, result, &resolved)
	assert.Equal(t, models.PendingStatusExecuted, resolved.Status)
	require.NotNil(t, resolved.Outcome)
	assert.True(t, resolved.Outcome.Success)
	assert.Equal(t, int64(3), resolved.Outcome.RowsAffected)
	assert.Equal(t, 1, exec.execCalls)
}

func TestResolveConfirmationTool_Reject(t *testing.T) {
	deps, exec := newQueryDeps(t)

	parkStatement(t, deps)
	op, err := deps.Gateway.Pending(context.Background(), deps.SessionID)
	require.NoError(t, err)

	handler := resolveConfirmationHandler(deps)
	result, err := handler(context.Background(), callReq("resolve_confirmation", map[string]any{
		"pending_id": op.ID.String(),
		"decision":   "reject",
	}))
	require.NoError(t, err)

	var resolved models.PendingOperation
	decodeResult(t, result, &resolved)
	assert.Equal(t, models.PendingStatusRejected, resolved.Status)
	assert.Equal(t, 0, exec.execCalls)
}

func TestResolveConfirmationTool_StaleID(t *testing.T) {
	deps, _ := newQueryDeps(t)

	handler := resolveConfirmationHandler(deps)
	result, err := handler(context.Background(), callReq("resolve_confirmation", map[string]any{
		"pending_id": uuid.NewString(),
		"decision":   "approve",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	var resp ErrorResponse
	decodeResult(t, result, &resp)
	assert.Equal(t, "stale_confirmation", resp.Code)
}

func TestResolveConfirmationTool_InvalidParameters(t *testing.T) {
	deps, _ := newQueryDeps(t)
	handler := resolveConfirmationHandler(deps)

	cases := []struct {
		name string
		args map[string]any
	}{
		{"bad uuid", map[string]any{"pending_id": "not-a-uuid", "decision": "approve"}},
		{"bad decision", map[string]any{"pending_id": uuid.NewString(), "decision": "maybe"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := handler(context.Background(), callReq("resolve_confirmation", tc.args))
			require.NoError(t, err)
			require.True(t, result.IsError)

			var resp ErrorResponse
			decodeResult(t, result, &resp)
			assert.Equal(t, "invalid_parameters", resp.Code)
		})
	}
}

func TestPendingOperationTool(t *testing.T) {
	deps, _ := newQueryDeps(t)
	handler := pendingOperationHandler(deps)

	result, err := handler(context.Background(), callReq("get_pending_operation", nil))
	require.NoError(t, err)

	var payload struct {
		Pending      bool                       `json:"pending"`
		Confirmation *models.ConfirmationPrompt `json:"confirmation"`
	}
	decodeResult(t, result, &payload)
	assert.False(t, payload.Pending)
	assert.Nil(t, payload.Confirmation)

	parkStatement(t, deps)

	result, err = handler(context.Background(), callReq("get_pending_operation", nil))
	require.NoError(t, err)
	decodeResult(t, result, &payload)
	assert.True(t, payload.Pending)
	require.NotNil(t, payload.Confirmation)
	assert.Equal(t, "high", payload.Confirmation.RiskLevel)
}

// parkStatement submits a risky statement so a pending operation exists.
func parkStatement(t *testing.T, deps *QueryToolDeps) {
	t.Helper()
	handler := executeNonQueryHandler(deps)
	result, err := handler(context.Background(), callReq(agent.ToolExecuteNonQuery, map[string]any{
		"sql":             "DELETE FROM orders WHERE status = 'stale'",
		"explanation":     "removes stale orders",
		"expected_impact": "deletes stale rows",
	}))
	require.NoError(t, err)
	require.NotNil(t, agent.ParsePendingMarker(resultText(t, result)))
}
