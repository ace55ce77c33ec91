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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bimakw/position-indexer/internal/application/services"
	"github.com/bimakw/position-indexer/internal/config"
	"github.com/bimakw/position-indexer/internal/infrastructure/cache"
	"github.com/bimakw/position-indexer/internal/infrastructure/database"
	"github.com/bimakw/position-indexer/internal/infrastructure/ethereum"
	"github.com/bimakw/position-indexer/internal/infrastructure/logging"
	"github.com/bimakw/position-indexer/internal/presentation/handlers"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting position indexer",
		zap.Strings("token_types", cfg.Indexer.TokenTypes),
		zap.String("rpc_url", cfg.Ethereum.RPCURL),
		zap.Duration("sync_interval", cfg.Indexer.SyncInterval),
		zap.Uint64("block_lot_max_size", cfg.Indexer.BlockLotMaxSize),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.NewPostgresDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	// Connect to node
	ethClient, err := ethereum.NewClient(cfg.Ethereum, logger)
	if err != nil {
		logger.Fatal("Failed to connect to node", zap.Error(err))
	}
	defer ethClient.Close()

	// Cache invalidation is optional
	var invalidator services.CacheInvalidator
	redisCache, err := cache.NewRedisCache(cfg.Redis, cfg.API.CacheTTL, logger)
	if err != nil {
		logger.Warn("Failed to connect to Redis, running without cache invalidation", zap.Error(err))
	} else {
		defer redisCache.Close()
		invalidator = redisCache
	}

	store := database.NewStore(db.DB())

	g, gctx := errgroup.WithContext(ctx)

	for _, tokenType := range cfg.Indexer.TokenTypes {
		indexer := services.NewPositionIndexerService(tokenType, store, ethClient, invalidator, cfg.Indexer, logger)
		g.Go(func() error {
			return indexer.Run(gctx)
		})
	}

	healthHandler := handlers.NewHealthHandler(
		handlers.Component{Name: "database", Checker: db, Critical: true},
		handlers.Component{Name: "node", Checker: ethClient, Critical: true},
	)
	server := newMetricsServer(cfg.Indexer.MetricsPort, healthHandler)

	g.Go(func() error {
		logger.Info("Starting metrics server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Indexer stopped with error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Indexer stopped")
}

func newMetricsServer(port int, health *handlers.HealthHandler) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Get("/live", health.Live)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
