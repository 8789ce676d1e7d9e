package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/askdb-inc/askdb-engine/pkg/schemaindex"
)

// BuildSystemPrompt composes the agent's system prompt. When the index is
// built, the table list is included so the model doesn't waste a tool call
// discovering it.
func BuildSystemPrompt(index *schemaindex.Index) string {
	var sb strings.Builder

	sb.WriteString(`You are a data assistant that answers questions about a SQL database. Your role is to:

1. Translate the user's questions into SQL and run it
2. Explain results in plain business language
3. Handle data modifications carefully and transparently

Available tools:
- semantic_search_schema: Find tables, columns and business terms relevant to a phrase
- get_table_ddl: Get the full definition of a table
- execute_query_with_explanation: Run a read-only SELECT query
- execute_non_query_with_explanation: Run a statement that modifies data or schema
- list_all_tables: List every table in the database

Guidelines:
- Search the schema before writing SQL; never guess table or column names
- Always provide the explanation and expected_impact arguments yourself, derived from the user's request - never ask the user for technical metadata
- Use execute_query_with_explanation only for reads; any INSERT, UPDATE, DELETE, CREATE, ALTER or DROP goes through execute_non_query_with_explanation
- When a tool reports needs_confirmation, summarize the operation and its risk for the user and stop - the user decides outside this conversation turn
- If a query fails, read the error, fix the SQL and retry rather than giving up
- Keep answers concise; show small result tables inline when helpful

`)

	if index == nil || !index.Ready() {
		sb.WriteString("Note: the schema index has not been built yet. Table search will be unavailable until an administrator rebuilds it.\n")
		return sb.String()
	}

	tables, err := index.ListTables()
	if err != nil || len(tables) == 0 {
		return sb.String()
	}

	sb.WriteString("## Available Tables\n\n")
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, fmt.Sprintf("%s.%s", t.SchemaName, t.TableName))
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString("- " + name + "\n")
	}

	return sb.String()
}
