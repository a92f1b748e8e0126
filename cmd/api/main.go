package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/tillpoint/api/internal/handlers"
	"github.com/tillpoint/api/internal/platform/config"
	"github.com/tillpoint/api/internal/platform/display"
	"github.com/tillpoint/api/internal/platform/events"
	pfirestore "github.com/tillpoint/api/internal/platform/firestore"
	"github.com/tillpoint/api/internal/platform/idempotency"
	"github.com/tillpoint/api/internal/platform/observability"
	"github.com/tillpoint/api/internal/platform/secrets"
	"github.com/tillpoint/api/internal/pricing"
	"github.com/tillpoint/api/internal/repositories"
	firestoreRepo "github.com/tillpoint/api/internal/repositories/firestore"
	"github.com/tillpoint/api/internal/repositories/sqlstore"
	"github.com/tillpoint/api/internal/services"
)

const (
	idempotencyCollection = "idempotency_keys"
	metricsNamespace      = "tillpoint"
	meterName             = "github.com/tillpoint/api"
)

// closer runs on shutdown in reverse registration order.
type closer struct {
	name string
	fn   func(context.Context) error
}

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	var loadOpts []config.Option
	if path := strings.TrimSpace(os.Getenv("API_ENV_FILE")); path != "" {
		loadOpts = append(loadOpts, config.WithEnvFile(path))
	}

	envValues, err := config.EnvironmentValues(loadOpts...)
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}
	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	loadOpts = append(loadOpts, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	cfg, err := config.Load(ctx, loadOpts...)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		var secretErr *config.SecretError
		if errors.As(err, &secretErr) {
			logger.Fatal("failed to resolve secret", zap.String("field", secretErr.Field), zap.Error(secretErr.Err))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := services.BuildInfo{
		Version:     cfg.Build.Version,
		CommitSHA:   cfg.Build.CommitSHA,
		Environment: cfg.Build.Environment,
		StartedAt:   startedAt,
	}

	var closers []closer
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(closeCtx); err != nil {
				logger.Warn("close error", zap.String("component", closers[i].name), zap.Error(err))
			}
		}
	}()

	var checks []repositories.DependencyCheck

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	closers = append(closers, closer{name: "firestore", fn: firestoreProvider.Close})

	orderRepo, idemStore, orderCheck, closeOrders, err := openOrderStore(ctx, cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order store", zap.Error(err), zap.String("backend", cfg.Storage.OrderBackend))
	}
	if closeOrders != nil {
		closers = append(closers, closer{name: "orders", fn: closeOrders})
	}
	checks = append(checks, orderCheck)

	sinks, displayChecks, displayClosers, snapshots, err := buildDisplaySinks(ctx, cfg, logger.Named("display"))
	if err != nil {
		logger.Fatal("failed to initialise display sinks", zap.Error(err))
	}
	closers = append(closers, displayClosers...)
	checks = append(checks, displayChecks...)

	var orderEvents services.OrderEventPublisher
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.OrderTopic != "" {
		writer, err := events.NewKafkaWriter(cfg.Kafka, cfg.Kafka.OrderTopic, logger.Named("kafka"))
		if err != nil {
			logger.Fatal("failed to initialise order event writer", zap.Error(err))
		}
		producer, err := events.NewProducer(writer)
		if err != nil {
			logger.Fatal("failed to initialise order event producer", zap.Error(err))
		}
		closers = append(closers, closer{name: "kafka-orders", fn: func(context.Context) error { return producer.Close() }})
		orderEvents = events.NewOrderPublisher(producer)
	}

	eventLogger := services.EventLogger(observability.NewEventLogger(logger.Named("services")))
	meter := otel.GetMeterProvider().Meter(meterName)
	engine := pricing.Engine{}
	displayPublisher := display.Multi(sinks...)

	pricingService, err := services.NewPricingService(services.PricingServiceDeps{
		Config:  cfg.Pricing,
		Engine:  engine,
		Display: displayPublisher,
		Meter:   meter,
		Logger:  eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing service", zap.Error(err))
	}
	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:  orderRepo,
		Config:  cfg.Pricing,
		Engine:  engine,
		Events:  orderEvents,
		Display: displayPublisher,
		Meter:   meter,
		Logger:  eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}
	reportService, err := services.NewReportService(services.ReportServiceDeps{
		Orders: orderRepo,
		Logger: eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise report service", zap.Error(err))
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Engine:           engine,
		Build:            buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			runIdempotencyCleanup(cleanupCtx, idemStore, cfg.Idempotency, logger.Named("idempotency"))
		}()
	}

	middlewares := []func(http.Handler) http.Handler{
		handlers.TerminalMiddleware(),
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	opts := []handlers.Option{
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(buildInfo),
			handlers.WithHealthSystemService(systemService),
		)),
		handlers.WithPricingRoutes(handlers.NewPricingHandlers(pricingService,
			handlers.WithQuoteRateLimit(cfg.Pricing.QuoteRateLimit, cfg.Pricing.QuoteRateWindow, nil),
		).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(orderService,
			handlers.WithCheckoutMiddlewares(idempotencyMiddleware),
		).Routes),
		handlers.WithReportRoutes(handlers.NewReportHandlers(reportService).Routes),
	}
	if snapshots != nil {
		opts = append(opts, handlers.WithDisplayRoutes(handlers.NewDisplayHandlers(snapshots).Routes))
	}
	if cfg.Metrics.Enabled {
		metrics := observability.NewHTTPMetrics(metricsNamespace)
		middlewares = append(middlewares, metrics.Middleware())
		opts = append(opts, handlers.WithMetricsHandler(cfg.Metrics.Path, metrics.Handler()))
	}
	opts = append(opts, handlers.WithMiddlewares(middlewares...))

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("tillpoint api listening",
			zap.String("orderBackend", cfg.Storage.OrderBackend),
			zap.String("pricingMode", string(cfg.Pricing.DefaultMode)),
			zap.Int("displaySinks", len(sinks)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// openOrderStore wires the configured order backend together with the idempotency store and the
// readiness check that belong to it.
// newSecretFetcher reads its settings from the raw environment because it must exist
// before config.Load can resolve references.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(project),
		secrets.WithFallbackFile(fallbackPath),
	}
	if raw := lookup("API_SECRET_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse API_SECRET_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile := lookup("API_SECRET_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func openOrderStore(ctx context.Context, cfg config.Config, provider *pfirestore.Provider) (repositories.OrderRepository, idempotency.Store, repositories.DependencyCheck, func(context.Context) error, error) {
	switch cfg.Storage.OrderBackend {
	case config.OrderBackendPostgres:
		db, err := sqlstore.Open(ctx, cfg.Database)
		if err != nil {
			return nil, nil, repositories.DependencyCheck{}, nil, err
		}
		repo, err := sqlstore.NewOrderRepository(db)
		if err != nil {
			_ = sqlstore.Close(db)
			return nil, nil, repositories.DependencyCheck{}, nil, err
		}
		check := repositories.DependencyCheck{
			Name:    "postgres",
			Timeout: 1500 * time.Millisecond,
			Check:   func(ctx context.Context) error { return sqlstore.Ping(ctx, db) },
		}
		return repo, idempotency.NewMemoryStore(), check, closeDB(db), nil
	default:
		repo, err := firestoreRepo.NewOrderRepository(provider)
		if err != nil {
			return nil, nil, repositories.DependencyCheck{}, nil, err
		}
		check := repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check:   provider.Ping,
		}
		return repo, idempotency.NewFirestoreStore(provider, idempotencyCollection), check, nil, nil
	}
}

func closeDB(db *gorm.DB) func(context.Context) error {
	return func(context.Context) error { return sqlstore.Close(db) }
}

// buildDisplaySinks connects every configured customer display channel. Channels that are not
// configured are skipped; all of them are optional for readiness.
func buildDisplaySinks(ctx context.Context, cfg config.Config, logger *zap.Logger) ([]display.Publisher, []repositories.DependencyCheck, []closer, *display.SnapshotStore, error) {
	var (
		sinks     []display.Publisher
		checks    []repositories.DependencyCheck
		closers   []closer
		snapshots *display.SnapshotStore
	)

	if topicID := strings.TrimSpace(cfg.PubSub.DisplayTopic); topicID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, pfirestore.EmulatorOptions(cfg.PubSub.EmulatorHost)...)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		closers = append(closers, closer{name: "pubsub", fn: func(context.Context) error { return client.Close() }})
		topic := client.Topic(topicID)
		publisher, err := display.NewPubSubPublisher(topic)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		closers = append(closers, closer{name: "pubsub-display", fn: func(context.Context) error {
			publisher.Stop()
			return nil
		}})
		sinks = append(sinks, publisher)
		checks = append(checks, repositories.DependencyCheck{
			Name:     "pubsub",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topicID)
				}
				return nil
			},
		})
		logger.Info("display channel enabled", zap.String("channel", "pubsub"), zap.String("topic", topicID))
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.DisplayTopic != "" {
		writer, err := events.NewKafkaWriter(cfg.Kafka, cfg.Kafka.DisplayTopic, logger.Named("kafka"))
		if err != nil {
			return nil, nil, nil, nil, err
		}
		producer, err := events.NewProducer(writer)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		closers = append(closers, closer{name: "kafka-display", fn: func(context.Context) error { return producer.Close() }})
		sinks = append(sinks, display.NewKafkaPublisher(producer))
		logger.Info("display channel enabled", zap.String("channel", "kafka"), zap.String("topic", cfg.Kafka.DisplayTopic))
	}

	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, closer{name: "redis", fn: func(context.Context) error { return client.Close() }})
		snapshots = display.NewSnapshotStore(client, cfg.Redis.SnapshotTTL)
		sinks = append(sinks, snapshots)
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  time.Second,
			Optional: true,
			Check:    snapshots.Ping,
		})
		logger.Info("display channel enabled", zap.String("channel", "redis"), zap.String("addr", addr))
	}

	return sinks, checks, closers, snapshots, nil
}

func runIdempotencyCleanup(ctx context.Context, store idempotency.Store, cfg config.IdempotencyConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}
