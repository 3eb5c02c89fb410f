package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/torii-authz/torii/internal/handlers"
	infracache "github.com/torii-authz/torii/internal/infrastructure/cache"
	"github.com/torii-authz/torii/internal/infrastructure/config"
	"github.com/torii-authz/torii/internal/infrastructure/database"
	"github.com/torii-authz/torii/internal/infrastructure/logger"
	"github.com/torii-authz/torii/internal/infrastructure/metrics"
	"github.com/torii-authz/torii/internal/repositories/postgres"
	"github.com/torii-authz/torii/internal/services"
	"github.com/torii-authz/torii/internal/services/authorization"
	"github.com/torii-authz/torii/pkg/cache/memorycache"
)

const defaultEnv = "dev"

func main() {
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	if err := config.InitConfig(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pg.Close()

	zlog.Info("connected to database",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database))

	schemaRepo := postgres.NewPostgresSchemaRepository(pg.DB)
	relationRepo := postgres.NewPostgresRelationRepository(pg.DB)
	attributeRepo := postgres.NewPostgresAttributeRepository(pg.DB)

	exporter := metrics.NewPrometheusExporter()

	ruleEngine := authorization.NewRuleEngine()
	evaluator := authorization.NewEvaluator(
		relationRepo,
		attributeRepo,
		ruleEngine,
		cfg.Engine.MaxDepth,
		cfg.Engine.StrictCycles,
	)

	var schemaService services.SchemaServiceInterface
	var checker authorization.CheckerInterface
	var snapshotManager *infracache.SnapshotManager

	// Background workers stop when this context is cancelled on shutdown.
	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	if cfg.Cache.Enabled {
		decisionCache := memorycache.New(&memorycache.Config{
			MaxEntries: cfg.Cache.MaxEntries,
			DefaultTTL: cfg.Cache.TTL(),
		})
		schemaCache := memorycache.New(&memorycache.Config{
			MaxEntries: 1000,
			DefaultTTL: cfg.Cache.TTL(),
		})

		snapshotManager = infracache.NewSnapshotManager(
			pg.DB, cfg.Database.ConnectionString(), cfg.Cache.TTL(), zlog)
		if err := snapshotManager.Start(backgroundCtx); err != nil {
			zlog.Fatal("failed to start snapshot manager", zap.Error(err))
		}
		defer snapshotManager.Stop()

		svc := services.NewSchemaServiceWithCache(schemaRepo, schemaCache, cfg.Cache.TTL())
		schemaService = svc
		checker = authorization.NewCheckerWithCache(
			svc, evaluator, decisionCache, snapshotManager, cfg.Cache.TTL(), cfg.Engine.CheckTimeout())

		// Publish cache gauges periodically.
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-backgroundCtx.Done():
					return
				case <-ticker.C:
					exporter.UpdateCacheMetrics(decisionCache.Metrics())
				}
			}
		}()
	} else {
		svc := services.NewSchemaService(schemaRepo)
		schemaService = svc
		checker = authorization.NewChecker(svc, evaluator, cfg.Engine.CheckTimeout())
	}

	expander := authorization.NewExpander(schemaService, relationRepo, cfg.Engine.MaxDepth)
	lookup := authorization.NewLookup(checker, schemaService, relationRepo)

	router := handlers.NewRouter(&handlers.RouterConfig{
		SchemaHandler:     handlers.NewSchemaHandler(schemaService),
		DataHandler:       handlers.NewDataHandler(relationRepo, attributeRepo),
		PermissionHandler: handlers.NewPermissionHandler(checker, expander, lookup, exporter),
		Health:            pg,
		Exporter:          exporter,
		Logger:            zlog,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		zlog.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		zlog.Fatal("server error", zap.Error(err))
	case sig := <-sigChan:
		zlog.Info("shutting down", zap.String("signal", sig.String()))
		stopBackground()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Warn("graceful shutdown failed, forcing close", zap.Error(err))
			_ = server.Close()
		}
	}
}
