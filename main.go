package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/adapters/datasource"
	_ "github.com/askdb-inc/askdb-engine/pkg/adapters/datasource/mssql"
	_ "github.com/askdb-inc/askdb-engine/pkg/adapters/datasource/postgres"
	"github.com/askdb-inc/askdb-engine/pkg/agent"
	"github.com/askdb-inc/askdb-engine/pkg/auth"
	"github.com/askdb-inc/askdb-engine/pkg/chat"
	"github.com/askdb-inc/askdb-engine/pkg/config"
	"github.com/askdb-inc/askdb-engine/pkg/database"
	"github.com/askdb-inc/askdb-engine/pkg/gateway"
	"github.com/askdb-inc/askdb-engine/pkg/handlers"
	"github.com/askdb-inc/askdb-engine/pkg/llm"
	"github.com/askdb-inc/askdb-engine/pkg/logging"
	"github.com/askdb-inc/askdb-engine/pkg/mcp"
	mcptools "github.com/askdb-inc/askdb-engine/pkg/mcp/tools"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/repositories"
	"github.com/askdb-inc/askdb-engine/pkg/schemaindex"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("bind_addr", cfg.BindAddr),
		zap.String("port", cfg.Port),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("datasource_type", cfg.Datasource.Type),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("confirmation_threshold", cfg.Safety.ConfirmationThreshold))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Engine failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Engine database: conversations and migrations.
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrate(cfg, logger); err != nil {
		return err
	}

	// Pending-operation store: Redis when configured, in-memory otherwise.
	store, err := newPendingStore(cfg, logger)
	if err != nil {
		return err
	}

	// Target datasource the assistant answers questions about.
	ds, err := datasource.Open(ctx, &cfg.Datasource, logger)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close() }()

	clients, err := llm.NewFromConfig(&cfg.LLM, logger)
	if err != nil {
		return err
	}

	index := schemaindex.New(clients.Embedder, logger)
	builder := schemaindex.NewBuilder(index, logger)

	var terms []models.BusinessTerm
	if cfg.GlossaryPath != "" {
		terms, err = schemaindex.LoadGlossary(cfg.GlossaryPath)
		if err != nil {
			return err
		}
		logger.Info("Loaded business glossary",
			zap.String("path", cfg.GlossaryPath),
			zap.Int("terms", len(terms)))
	}

	// Build the index in the background so startup is not blocked on
	// embedding the whole schema. Until it finishes the agent advises the
	// model that search is unavailable.
	if err := builder.Start(ds.Schema, terms); err != nil {
		logger.Warn("Failed to start initial index build", zap.Error(err))
	}

	gw, err := gateway.New(ds.Exec, store, &cfg.Safety, logger)
	if err != nil {
		return err
	}

	repo := repositories.NewConversationRepository(db)
	recommender := agent.NewRecommender(clients.Generator, logger)
	chatService := chat.NewService(repo, gw, index, clients.Streamer, recommender, logger)

	verifier, err := auth.NewVerifier(&cfg.Auth)
	if err != nil {
		return err
	}
	authMiddleware := auth.NewMiddleware(verifier, logger)

	// MCP surface: external agent hosts share one session so pending
	// confirmations raised over MCP are resolved over MCP.
	mcpServer := mcp.NewServer("askdb-engine", cfg.Version, logger)
	mcpSessionID := uuid.New()
	mcptools.RegisterQueryTools(mcpServer.MCP(), &mcptools.QueryToolDeps{
		SessionID: mcpSessionID,
		Executor:  agent.NewToolExecutor(mcpSessionID, index, gw, logger),
		Gateway:   gw,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewChatHandler(chatService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewIndexHandler(index, builder, ds.Schema, terms, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux, authMiddleware)

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting askdb-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	builder.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// migrate runs schema migrations over database/sql, which golang-migrate
// requires.
func migrate(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	return database.RunMigrations(sqlDB, "migrations", logger)
}

func newPendingStore(cfg *config.Config, logger *zap.Logger) (gateway.PendingStore, error) {
	if cfg.Redis.Host == "" {
		logger.Info("Using in-memory pending-operation store")
		return gateway.NewMemoryStore(), nil
	}

	client, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, err
	}
	logger.Info("Using Redis pending-operation store",
		zap.String("host", cfg.Redis.Host),
		zap.Int("port", cfg.Redis.Port))
	return gateway.NewRedisStore(client, cfg.Safety.PendingTTL()), nil
}
