package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/analytics"
	"github.com/patrickwarner/coregflow/internal/api"
	"github.com/patrickwarner/coregflow/internal/catalog"
	"github.com/patrickwarner/coregflow/internal/config"
	"github.com/patrickwarner/coregflow/internal/db"
	"github.com/patrickwarner/coregflow/internal/dispatch"
	"github.com/patrickwarner/coregflow/internal/flow"
	"github.com/patrickwarner/coregflow/internal/geoip"
	"github.com/patrickwarner/coregflow/internal/middleware"
	"github.com/patrickwarner/coregflow/internal/models"
	"github.com/patrickwarner/coregflow/internal/observability"
	"github.com/patrickwarner/coregflow/internal/payload"
	"github.com/patrickwarner/coregflow/internal/ratelimit"
	"github.com/patrickwarner/coregflow/internal/session"
	"github.com/patrickwarner/coregflow/internal/visits"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := observability.InitLogger(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}
	if cfg.TokenSecret == "" {
		return errors.New("TOKEN_SECRET is required")
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	var sessions session.Backend
	switch cfg.SessionBackend {
	case "memory":
		logger.Warn("using in-memory session store, sessions are lost on restart")
		sessions = session.NewMemoryBackend()
	default:
		store, err := db.InitRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer store.Close()
		sessions = session.NewRedisBackend(store.Client, cfg.SessionTTL)
	}

	// Flow analytics are optional.
	var recorder analytics.Recorder
	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer ch.Close()
		recorder = ch
	}

	geoSvc, err := geoip.Init(cfg.GeoIPDB)
	if err != nil {
		logger.Warn("geoip unavailable, countries will be empty", zap.Error(err))
		geoSvc = nil
	}
	defer func() { _ = geoSvc.Close() }()

	var visitSvc *visits.Service
	if cfg.PostgresDSN != "" {
		pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pg.Close()

		limiter := ratelimit.NewKeyedLimiter(ratelimit.Config{
			Capacity:   cfg.PinRateLimitCapacity,
			RefillRate: cfg.PinRateLimitRefill,
			Interval:   cfg.PinRateLimitInterval,
			Enabled:    cfg.PinRateLimitEnabled,
		}, metricsRegistry)
		visitSvc = visits.NewService(pg, limiter, logger.Named("visits"))
	} else {
		logger.Info("POSTGRES_DSN not set, visit registration and PIN channel disabled")
	}

	leads := dispatch.NewLeadClient(cfg.LeadURL, cfg.DispatchTimeout, logger)
	dispatcher := dispatch.New(leads, cfg.DispatchTimeout, logger, metricsRegistry, recorder)
	orch := flow.New(flow.Config{
		ShortForm: models.Destination{CID: cfg.ShortFormCID, SID: cfg.ShortFormSID},
	}, payload.NewBuilder(cfg.CampaignURL, logger), dispatcher, recorder, logger, metricsRegistry)

	catalogClient := catalog.NewClient(cfg.CatalogURL, cfg.CatalogToken, cfg.CatalogTimeout, cfg.CatalogCacheTTL, logger, metricsRegistry)

	srvDeps := api.NewServer(logger, sessions, catalogClient, orch, visitSvc, geoSvc, metricsRegistry, cfg)

	r := mux.NewRouter()
	srvDeps.Routes(r)
	// metrics endpoint
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	var handler http.Handler = middleware.WithTraceLogger(logger)(r)
	handler = middleware.CORS(cfg.AllowedOrigin)(handler)
	handler = otelhttp.NewHandler(handler, cfg.ServiceName)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Coreg flow server running",
		zap.String("addr", addr),
		zap.String("session_backend", cfg.SessionBackend),
		zap.Bool("visits_enabled", visitSvc != nil))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	// let queued lead deliveries finish before the process exits
	orch.Wait()

	return nil
}
