package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/askdb-inc/askdb-engine/pkg/adapters/datasource"
)

// QueryExecutor provides SQL Server query execution.
type QueryExecutor struct {
	db *sql.DB
}

// Query runs a read statement and returns bounded results using SQL
// Server's TOP clause.
func (e *QueryExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	effectiveLimit := limit
	if effectiveLimit <= 0 || effectiveLimit > datasource.MaxQueryLimit {
		effectiveLimit = datasource.MaxQueryLimit
	}
	queryToRun := fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", effectiveLimit, sqlQuery)

	rows, err := e.db.QueryContext(ctx, queryToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]datasource.ColumnInfo, len(columnNames))
	for i, colName := range columnNames {
		columns[i] = datasource.ColumnInfo{
			Name: colName,
			Type: mapSQLServerType(columnTypes[i].DatabaseTypeName()),
		}
	}

	resultRows, err := collectRows(rows, columnNames, columnTypes)
	if err != nil {
		return nil, err
	}

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// Execute runs any SQL statement (DDL/DML) and returns results. Statements
// with OUTPUT clauses return rows; plain DML returns RowsAffected.
func (e *QueryExecutor) Execute(ctx context.Context, sqlStatement string) (*datasource.ExecuteResult, error) {
	result := &datasource.ExecuteResult{}

	rows, err := e.db.QueryContext(ctx, sqlStatement)
	if err != nil {
		// Likely a DML statement without OUTPUT; fall back to ExecContext
		// for the rows-affected count.
		return e.executePlain(ctx, sqlStatement)
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil || len(columnTypes) == 0 {
		rows.Close()
		return e.executePlain(ctx, sqlStatement)
	}

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result.Columns = columnNames
	result.Rows, err = collectRows(rows, columnNames, columnTypes)
	if err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)

	return result, nil
}

func (e *QueryExecutor) executePlain(ctx context.Context, sqlStatement string) (*datasource.ExecuteResult, error) {
	execResult, err := e.db.ExecContext(ctx, sqlStatement)
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}

	rowsAffected, err := execResult.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return &datasource.ExecuteResult{RowsAffected: rowsAffected}, nil
}

// QuoteIdentifier safely quotes a SQL identifier using SQL Server's square
// bracket syntax.
func (e *QueryExecutor) QuoteIdentifier(name string) string {
	return quoteName(name)
}

// collectRows scans all remaining rows into maps, converting []byte text
// columns to strings.
func collectRows(rows *sql.Rows, columnNames []string, columnTypes []*sql.ColumnType) ([]map[string]any, error) {
	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any)
		for i, col := range columnNames {
			val := values[i]
			if b, ok := val.([]byte); ok && isStringType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col] = val
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return resultRows, nil
}

var _ datasource.QueryExecutor = (*QueryExecutor)(nil)
