package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/eventstore/internal/api"
	"example.com/eventstore/internal/bootstrap"
	"example.com/eventstore/internal/config"
	"example.com/eventstore/internal/consumers"
	"example.com/eventstore/internal/dispatch"
	"example.com/eventstore/internal/domain"
	"example.com/eventstore/internal/projection"
	"example.com/eventstore/internal/schema"
	"example.com/eventstore/internal/store"
	"example.com/eventstore/internal/topics"
	httptransport "example.com/eventstore/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	validator := schema.NewValidator()

	topicRegistry, err := topics.NewRegistry(validator,
		topics.WithConfigStore(topics.NewFSConfigStore(cfg.ConfigDir)),
		topics.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to load topic registry", zap.Error(err))
	}

	eventStore, closeStore, err := newEventStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise event store", zap.Error(err))
	}
	defer closeStore()

	consumerRegistry, err := consumers.NewRegistry(
		filepath.Join(cfg.ConfigDir, "consumers.json"),
		consumers.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to load consumer registry", zap.Error(err))
	}

	seeder := bootstrap.New(topicRegistry, eventStore, bootstrap.WithLogger(logger))
	seed := bootstrap.Seed{AdminEmail: cfg.SystemAdminEmail, AdminPassword: cfg.SystemAdminPassword}
	if err := seeder.Run(ctx, seed); err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}

	engine := projection.NewEngine(projection.WithLogger(logger))
	if err := engine.Rebuild(ctx, eventStore); err != nil {
		logger.Fatal("failed to rebuild projections", zap.Error(err))
	}

	manager := dispatch.NewManager(eventStore, consumerRegistry, dispatch.Config{
		TickInterval:    cfg.DispatchTickInterval,
		BatchSize:       cfg.DispatchBatchSize,
		MaxAttempts:     cfg.DispatchMaxAttempts,
		WebhookTimeout:  cfg.WebhookTimeout,
		KafkaBrokers:    cfg.KafkaBrokers,
		DeleteOnExhaust: cfg.DispatchParkPolicy == config.ParkPolicyDelete,
	}, dispatch.WithLogger(logger))

	service := domain.NewService(topicRegistry, eventStore, consumerRegistry, validator,
		domain.WithLogger(logger),
		domain.WithScheduler(manager),
		domain.WithProjection(engine))

	// Queue a worker per known topic so consumers registered in a previous
	// run resume delivery without waiting for a publish.
	for _, topic := range topicRegistry.GetAllTopics(ctx) {
		manager.EnsureWorker(topic.QualifiedName())
	}
	known, err := consumerRegistry.FindAll(ctx)
	if err != nil {
		logger.Fatal("failed to list consumers", zap.Error(err))
	}
	for _, consumer := range known {
		for qualified := range consumer.Topics {
			manager.EnsureWorker(qualified)
		}
	}

	handler := api.NewHandler(service)

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))
	router.Use(api.RequestLogger(logger))
	router.Use(api.LimitBody(cfg.MaxBodyBytes))
	router.Use(api.RateLimit(cfg.RateLimitPerMinute))
	handler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.Address(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return manager.Run(groupCtx)
	})

	group.Go(func() error {
		logger.Info("event store listening",
			zap.String("address", cfg.Address()),
			zap.String("backend", string(cfg.StoreBackend)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutdown requested")
		cancel()
	}()

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("event store stopped")
}

func newLogger(format string) (*zap.Logger, error) {
	if format == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newEventStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (domain.EventStore, func(), error) {
	loc, err := time.LoadLocation(cfg.DateFilterTimezone)
	if err != nil {
		return nil, nil, fmt.Errorf("loading timezone %q: %w", cfg.DateFilterTimezone, err)
	}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		s := store.NewMemoryStore(store.WithLogger(logger), store.WithLocation(loc))
		return s, func() {}, nil
	case config.BackendFS:
		s := store.NewFSStore(cfg.DataDir, store.WithLogger(logger), store.WithLocation(loc))
		return s, func() {}, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		s := store.NewPostgresStore(pool, store.WithLogger(logger), store.WithLocation(loc))
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("preparing postgres schema: %w", err)
		}
		return s, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
