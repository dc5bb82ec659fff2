package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/analytics"
	"github.com/patrickwarner/coregflow/internal/catalog"
	"github.com/patrickwarner/coregflow/internal/config"
	"github.com/patrickwarner/coregflow/internal/db"
	"github.com/patrickwarner/coregflow/internal/session"
)

func main() {
	_ = godotenv.Load()
	appCfg := config.Load()

	// Initialize logger for MCP server - use stderr to avoid stdio conflicts
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	// Use same encoder config as observability package for consistency
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("coregflow-mcp").With(zap.String("service", "coregflow-mcp"))
	zap.ReplaceGlobals(logger)

	ctx := context.Background()

	client := catalog.NewClient(appCfg.CatalogURL, appCfg.CatalogToken, appCfg.CatalogTimeout, appCfg.CatalogCacheTTL, logger, nil)
	srv := &CoregServer{
		catalog: client,
		loader:  catalog.NewLoader(client, appCfg.CMSAssetsURL, logger),
		logger:  logger,
	}

	if store, err := db.InitRedis(ctx, appCfg.RedisAddr); err != nil {
		logger.Warn("Redis unavailable, session inspection disabled", zap.Error(err))
	} else {
		defer store.Close()
		srv.sessions = session.NewRedisBackend(store.Client, appCfg.SessionTTL)
	}

	if appCfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(ctx, appCfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("ClickHouse unavailable, session events disabled", zap.Error(err))
		} else {
			defer ch.Close()
			srv.analytics = ch
		}
	}

	if appCfg.PostgresDSN != "" {
		pg, err := db.InitPostgres(appCfg.PostgresDSN, 5, 2, appCfg.DBConnMaxLifetime, appCfg.DBConnMaxIdleTime)
		if err != nil {
			logger.Warn("Postgres unavailable, PIN lookup disabled", zap.Error(err))
		} else {
			defer pg.Close()
			srv.calls = pg
		}
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "coregflow",
		Version: "1.0.0",
	}, nil)
	srv.register(server)

	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio")
	if err := server.Run(ctx, loggingTransport); err != nil {
		logger.Error("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
		os.Exit(1)
	}
}
