// Package postgres implements the datasource adapter for PostgreSQL using
// pgx connection pools.
package postgres

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/config"
)

func init() {
	datasource.Register("postgres", New)
}

// New connects to PostgreSQL and returns a ready adapter. The pool is shared
// by the schema extractor and the query executor and is verified with a ping
// before use.
func New(ctx context.Context, cfg *config.DatasourceConfig, logger *zap.Logger) (*datasource.Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.PoolMaxConns > 0 {
		poolCfg.MaxConns = cfg.PoolMaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("Connected to postgres datasource",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return datasource.NewAdapter(
		&SchemaExtractor{pool: pool, logger: logger.Named("postgres-schema")},
		&QueryExecutor{pool: pool},
		func() error {
			pool.Close()
			return nil
		},
	), nil
}

func buildConnectionString(cfg *config.DatasourceConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}
