// Package agent wires the language model to the schema index and the
// operation gateway: it defines the tool surface the model may call and
// executes those calls.
package agent

import (
	"github.com/askdb-inc/askdb-engine/pkg/llm"
)

// Tool names. The executor dispatches over exactly this set; anything else
// the model invents is rejected.
const (
	ToolSemanticSearchSchema = "semantic_search_schema"
	ToolGetTableDDL          = "get_table_ddl"
	ToolExecuteQuery         = "execute_query_with_explanation"
	ToolExecuteNonQuery      = "execute_non_query_with_explanation"
	ToolListAllTables        = "list_all_tables"
)

// ToolDefinitions returns the tool schema advertised to the model.
func ToolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		llm.NewToolDefinition(
			ToolSemanticSearchSchema,
			"Semantically search the database schema and business glossary. Returns the tables, columns and business terms most relevant to a natural-language phrase. Use this before writing SQL.",
			map[string]llm.ParameterProperty{
				"query": {Type: "string", Description: "Natural-language description of the data you are looking for"},
				"top_k": {Type: "integer", Description: "Maximum number of results to return (default 10)"},
				"entity_types": {
					Type:        "array",
					Description: "Restrict results to these entity types",
					Items:       &llm.ParameterProperty{Type: "string", Enum: []string{"table", "column", "business_term"}},
				},
			},
			[]string{"query"},
		),
		llm.NewToolDefinition(
			ToolGetTableDDL,
			"Get the CREATE TABLE definition of one table, including columns, types, primary key and foreign keys.",
			map[string]llm.ParameterProperty{
				"table_name": {Type: "string", Description: "Table name, optionally schema-qualified (e.g. public.orders)"},
			},
			[]string{"table_name"},
		),
		llm.NewToolDefinition(
			ToolExecuteQuery,
			"Execute a read-only SQL query (SELECT) against the database. Results are truncated to a configured row cap. Never use this for statements that modify data.",
			map[string]llm.ParameterProperty{
				"sql":         {Type: "string", Description: "The SQL query to run"},
				"explanation": {Type: "string", Description: "One sentence explaining what the query does, in business terms"},
			},
			[]string{"sql", "explanation"},
		),
		llm.NewToolDefinition(
			ToolExecuteNonQuery,
			"Execute a SQL statement that modifies data or schema (INSERT, UPDATE, DELETE, CREATE, ALTER, DROP). Risky statements are held for explicit user confirmation instead of running immediately.",
			map[string]llm.ParameterProperty{
				"sql":             {Type: "string", Description: "The SQL statement to run"},
				"explanation":     {Type: "string", Description: "One sentence explaining what the statement does"},
				"expected_impact": {Type: "string", Description: "What will change, e.g. 'deletes about 40 rows from orders'"},
			},
			[]string{"sql", "explanation", "expected_impact"},
		),
		llm.NewToolDefinition(
			ToolListAllTables,
			"List every table in the database with its schema and approximate row count.",
			map[string]llm.ParameterProperty{},
			nil,
		),
	}
}
