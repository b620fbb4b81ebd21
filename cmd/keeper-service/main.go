package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/provenix/evidence-keeper/internal/config"
	"github.com/provenix/evidence-keeper/internal/keeper"
	"github.com/provenix/evidence-keeper/internal/keeper/anchor"
	"github.com/provenix/evidence-keeper/internal/keeper/batch"
	"github.com/provenix/evidence-keeper/internal/keeper/store"
	"github.com/provenix/evidence-keeper/shared/logger"
	"github.com/provenix/evidence-keeper/shared/postgresql"
	"github.com/provenix/evidence-keeper/shared/rabbitmq"
)

const consumerTag = "keeper-dispatcher"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("KEEPER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/keeper-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateKeeperConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting keeper service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("anchoring_mode", cfg.Keeper.AnchoringMode),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// The keeper owns the schema; bootstrap is idempotent.
	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.EnsureSchema(schemaCtx, dbClient.GetDB())
	schemaCancel()
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	// Select anchor provider
	provider := initProvider(&cfg.Anchor, appLogger.Logger)

	jobStore := store.NewJobStore(dbClient.GetDB(), appLogger.Logger)
	batchStore := store.NewBatchStore(dbClient.GetDB(), appLogger.Logger)

	batchMode := cfg.Keeper.AnchoringMode == config.AnchoringModeBatch

	// RabbitMQ and the batch anchor only exist in batch mode
	var rabbitClient *rabbitmq.Client
	var batchAnchor *batch.Anchor
	if batchMode {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		appLogger.Info("RabbitMQ connection established")

		batchAnchor = batch.NewAnchor(batchStore, provider, batch.Config{
			MaxBatchSize: cfg.Keeper.MaxBatchSize,
			MaxBatchAge:  cfg.Keeper.MaxBatchAge,
			MinBatchSize: cfg.Keeper.MinBatchSize,
		}, appLogger.Logger)
	}

	keeperInstance := keeper.New(&keeper.Config{
		Logger:              appLogger.Logger,
		Store:               jobStore,
		Provider:            provider,
		Batch:               batchAnchor,
		RabbitClient:        rabbitClient,
		JobPollInterval:     cfg.Keeper.JobPollInterval,
		ConfirmPollInterval: cfg.Keeper.ConfirmPollInterval,
		BatchPollInterval:   cfg.Keeper.BatchPollInterval,
		PrefetchCount:       cfg.RabbitMQ.Consumer.PrefetchCount,
		ConsumerTag:         consumerTag,
	})

	// Expose Prometheus metrics when a port is configured
	if cfg.Server.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		metricsSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: mux,
		}
		defer metricsSrv.Close()

		go func() {
			appLogger.Info("Metrics server listening",
				slog.String("address", metricsSrv.Addr),
			)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLogger.Error("Metrics server failed",
					slog.Any("error", err),
				)
			}
		}()
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, 1)

	// The confirmation loop runs in both modes
	wg.Add(1)
	go func() {
		defer wg.Done()
		keeperInstance.RunConfirmationLoop(ctx)
	}()

	if batchMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keeperInstance.RunBatchTimeoutLoop(ctx)
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := keeperInstance.RunDispatcher(ctx); err != nil {
				errChan <- err
			}
		}()
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keeperInstance.RunJobLoop(ctx)
		}()
	}

	appLogger.Info("Keeper service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Keeper error",
			slog.Any("error", err),
		)
		cancel()
		wg.Wait()
		closeClients(dbClient, rabbitClient)
		return err
	}

	// Cancel context to stop the loops
	cancel()

	shutdownTimeout := cfg.Keeper.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()

		// Drain the in-memory pending batch before losing it
		if batchAnchor != nil {
			if err := batchAnchor.Flush(shutdownCtx); err != nil {
				appLogger.Error("Failed to flush pending batch",
					slog.Any("error", err),
				)
			}
		}
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Keeper stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Keeper shutdown timeout exceeded, forcing exit")
	}

	closeClients(dbClient, rabbitClient)

	appLogger.Info("Keeper service shutdown complete")
	return nil
}

func closeClients(dbClient *postgresql.Client, rabbitClient *rabbitmq.Client) {
	if rabbitClient != nil {
		rabbitClient.Close()
	}
	if dbClient != nil {
		dbClient.Close()
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initProvider selects the anchor provider from configuration
func initProvider(cfg *config.AnchorConfig, logger *slog.Logger) anchor.Provider {
	if cfg.UseStub {
		logger.Warn("Using stub anchor provider; no real chain writes will happen")
		return anchor.StubProvider{}
	}

	cluster := cfg.Cluster
	if cluster == "" {
		cluster = "devnet"
	}

	return anchor.NewSolanaProvider(cfg.Endpoint, cluster, cfg.RequestTimeout, logger)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
