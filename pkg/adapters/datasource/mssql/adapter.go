// Package mssql implements the datasource adapter for SQL Server through
// database/sql and the go-mssqldb driver.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/config"
)

func init() {
	datasource.Register("mssql", New)
}

// New connects to SQL Server and returns a ready adapter.
func New(ctx context.Context, cfg *config.DatasourceConfig, logger *zap.Logger) (*datasource.Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlserver", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}
	if cfg.PoolMaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.PoolMaxConns))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlserver: %w", err)
	}

	logger.Info("Connected to sqlserver datasource",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return datasource.NewAdapter(
		&SchemaExtractor{db: db, logger: logger.Named("mssql-schema")},
		&QueryExecutor{db: db},
		db.Close,
	), nil
}

func buildConnectionString(cfg *config.DatasourceConfig) string {
	query := url.Values{}
	query.Set("database", cfg.Database)
	if cfg.SSLMode == "disable" {
		query.Set("encrypt", "disable")
	} else {
		query.Set("encrypt", "true")
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}
