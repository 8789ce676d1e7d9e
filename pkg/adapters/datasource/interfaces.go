// Package datasource defines the adapter contract for the customer databases
// the assistant answers questions about. Concrete adapters live in
// subpackages (postgres, mssql) and register themselves with the registry.
package datasource

import (
	"context"
)

// MaxQueryLimit is the hard ceiling on rows returned by Query regardless of
// the limit the caller asks for.
const MaxQueryLimit = 1000

// TableMetadata describes a discovered user table.
type TableMetadata struct {
	SchemaName string `json:"schema_name"`
	TableName  string `json:"table_name"`
	RowCount   int64  `json:"row_count"`
}

// ColumnMetadata describes a discovered column.
type ColumnMetadata struct {
	ColumnName      string  `json:"column_name"`
	DataType        string  `json:"data_type"`
	IsNullable      bool    `json:"is_nullable"`
	IsPrimaryKey    bool    `json:"is_primary_key"`
	OrdinalPosition int     `json:"ordinal_position"`
	DefaultValue    *string `json:"default_value,omitempty"`
}

// ForeignKeyMetadata describes a foreign key relationship.
type ForeignKeyMetadata struct {
	ConstraintName string `json:"constraint_name"`
	SourceSchema   string `json:"source_schema"`
	SourceTable    string `json:"source_table"`
	SourceColumn   string `json:"source_column"`
	TargetSchema   string `json:"target_schema"`
	TargetTable    string `json:"target_table"`
	TargetColumn   string `json:"target_column"`
}

// SchemaExtractor discovers tables, columns and relationships from a
// connected datasource.
type SchemaExtractor interface {
	// DiscoverTables returns all user tables, excluding system schemas.
	DiscoverTables(ctx context.Context) ([]TableMetadata, error)

	// DiscoverColumns returns the columns of one table in ordinal order.
	DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]ColumnMetadata, error)

	// DiscoverForeignKeys returns all foreign key relationships.
	DiscoverForeignKeys(ctx context.Context) ([]ForeignKeyMetadata, error)
}

// ColumnInfo describes a result column of an executed query.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryExecutionResult holds the bounded result set of a read query.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ExecuteResult holds the outcome of an arbitrary SQL statement. Statements
// that return rows (SELECT, RETURNING/OUTPUT clauses) populate Columns and
// Rows; plain DML populates RowsAffected.
type ExecuteResult struct {
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowCount     int              `json:"row_count"`
	RowsAffected int64            `json:"rows_affected"`
}

// QueryExecutor runs SQL against a connected datasource.
type QueryExecutor interface {
	// Query runs a read statement with a bounded result set. Limits <= 0 or
	// above MaxQueryLimit are clamped to MaxQueryLimit.
	Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error)

	// Execute runs any SQL statement (DDL or DML) and reports its effect.
	Execute(ctx context.Context, sqlStatement string) (*ExecuteResult, error)

	// QuoteIdentifier safely quotes an identifier for this dialect.
	QuoteIdentifier(name string) string
}

// Adapter bundles the two capabilities of a connected datasource.
type Adapter struct {
	Schema SchemaExtractor
	Exec   QueryExecutor

	closer func() error
}

// NewAdapter wraps an extractor and executor with a shared close function.
func NewAdapter(schema SchemaExtractor, exec QueryExecutor, closer func() error) *Adapter {
	return &Adapter{Schema: schema, Exec: exec, closer: closer}
}

// Close releases the underlying connection pool.
func (a *Adapter) Close() error {
	if a.closer != nil {
		return a.closer()
	}
	return nil
}
