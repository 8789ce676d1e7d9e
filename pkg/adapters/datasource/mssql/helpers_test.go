package mssql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/askdb-inc/askdb-engine/pkg/config"
)

func TestQuoteName(t *testing.T) {
	assert.Equal(t, "[orders]", quoteName("orders"))
	assert.Equal(t, "[weird]]name]", quoteName("weird]name"))
}

func TestMapSQLServerType(t *testing.T) {
	assert.Equal(t, "INTEGER", mapSQLServerType("int"))
	assert.Equal(t, "VARCHAR", mapSQLServerType("NVARCHAR"))
	assert.Equal(t, "TIMESTAMP", mapSQLServerType("datetime2"))
	assert.Equal(t, "UUID", mapSQLServerType("UNIQUEIDENTIFIER"))
	assert.Equal(t, "GEOGRAPHY", mapSQLServerType("geography"))
}

func TestIsStringType(t *testing.T) {
	assert.True(t, isStringType("nvarchar"))
	assert.True(t, isStringType("TEXT"))
	assert.False(t, isStringType("INT"))
	assert.False(t, isStringType("VARBINARY"))
}

func TestBuildConnectionString(t *testing.T) {
	cfg := &config.DatasourceConfig{
		Host:     "db.example.com",
		Port:     1433,
		User:     "sa",
		Password: "p@ss word",
		Database: "sales",
		SSLMode:  "disable",
	}

	connStr := buildConnectionString(cfg)
	assert.Contains(t, connStr, "sqlserver://")
	assert.Contains(t, connStr, "db.example.com:1433")
	assert.Contains(t, connStr, "database=sales")
	assert.Contains(t, connStr, "encrypt=disable")
	assert.NotContains(t, connStr, "p@ss word", "password must be URL-encoded")
}
