// Package main is the entry point for the campaign API.
//
// It loads configuration, selects the blob store backend, wires the donation
// ledger and the three public endpoints into the core chassis, and then
// serves either as an AWS Lambda function (API Gateway HTTP API) or as a
// plain HTTP server with graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"campaignfund/internal/api/handlers"
	"campaignfund/internal/blobstore"
	"campaignfund/internal/campaign"
	"campaignfund/internal/config"
	"campaignfund/internal/core"
	"campaignfund/internal/db"
	"campaignfund/internal/donations"
	"campaignfund/internal/external"
	"campaignfund/internal/metrics"
	"campaignfund/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(envOr("AWS_REGION", "ap-south-1"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("campaign API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"campaign", cfg.Campaign.ID,
		"store_backend", cfg.Store.Backend,
	)

	ctx := context.Background()
	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if isLambdaEnvironment() {
		logger.Info("starting in Lambda mode")
		lambda.Start(core.LambdaHandler(srv.Handler()))
		return nil
	}

	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires every dependency and mounts the routes.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Server, error) {
	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	recorder, err := newRecorder(ctx, cfg, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}

	c := campaign.FromConfig(cfg.Campaign)

	donationsStore := backend.Namespace(cfg.Store.DonationsNamespace)
	records := donations.NewRecordStore(donationsStore, cfg.Store.Timeout)
	aggregates := donations.NewAggregateStore(
		backend.Namespace(cfg.Store.StatsNamespace),
		c,
		cfg.Store.Timeout,
		cfg.Store.AggregateMaxRetries,
		logger,
		donations.WithConflictObserver(recorder),
	)
	ledgerCfg := donations.LedgerConfig{
		Donations:  donationsStore,
		Records:    records,
		Aggregates: aggregates,
		ClaimLease: cfg.Store.ClaimLease,
		Timeout:    cfg.Store.Timeout,
		Observer:   recorder,
		Logger:     logger,
	}
	if publisher != nil {
		ledgerCfg.Publisher = publisher
	}
	ledger := donations.NewLedger(ledgerCfg)

	if cfg.Store.ClaimLease <= cfg.Server.RequestTimeout {
		logger.Warn("claim lease does not exceed the request timeout; a slow delivery may be counted twice",
			"claim_lease", cfg.Store.ClaimLease,
			"request_timeout", cfg.Server.RequestTimeout,
		)
	}

	gateway := external.NewRazorpayClient(
		&http.Client{Timeout: cfg.Razorpay.Timeout},
		external.RazorpayClientConfig{
			KeyID:     cfg.Razorpay.KeyID,
			KeySecret: cfg.Razorpay.KeySecret,
			BaseURL:   cfg.Razorpay.APIURL,
			Logger:    logger,
		},
	)
	if !gateway.Configured() {
		logger.Warn("razorpay credentials not configured; order creation will fail")
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = recorder
	srv.HealthProbes = []core.HealthProbe{
		core.PingProbe{ProbeName: "blob_store", Ping: backend.Ping},
	}
	srv.Closers = append(srv.Closers, backend.Close)

	srv.RouteRegistrars = []core.RouteRegistrar{
		handlers.Registrar(handlers.NewOrderHandler(c, gateway, srv.Validator, recorder, logger)),
		handlers.Registrar(handlers.NewRazorpayWebhookHandler(handlers.WebhookHandlerConfig{
			Campaign:        c,
			Verifier:        external.RazorpayVerifier{},
			Recorder:        ledger,
			Metrics:         recorder,
			Secret:          cfg.Razorpay.WebhookSecret,
			AllowUnverified: cfg.Razorpay.AllowUnverified,
			MaxBodyBytes:    cfg.Server.MaxWebhookBody,
			Logger:          logger,
		})),
		handlers.Registrar(handlers.NewStatsHandler(c, ledger)),
	}
	srv.MountRoutes()

	return srv, nil
}

// openBackend returns the blob store selected by STORE_BACKEND.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blobstore.Backend, error) {
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.Store.DatabaseURL.Unmask(),
			MaxConns: cfg.Store.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		repo := db.NewBlobRepository(pool, pool.Close)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensuring blob schema: %w", err)
		}
		logger.Info("blob store: postgres")
		return repo, nil

	case "dynamodb":
		backend, err := blobstore.NewDynamoBackend(ctx, cfg.AWS.Region, cfg.AWS.EndpointURL, cfg.Store.DynamoTable)
		if err != nil {
			return nil, err
		}
		logger.Info("blob store: dynamodb", "table", cfg.Store.DynamoTable)
		return backend, nil

	default:
		logger.Warn("blob store: in-memory; data is lost on restart")
		return blobstore.NewMemoryBackend(), nil
	}
}

func newRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (metrics.Recorder, error) {
	if !cfg.Observability.MetricsEnabled {
		return metrics.Noop{}, nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	return metrics.NewCloudWatchRecorder(client, cfg.Observability.MetricNamespace, cfg.Campaign.ID, logger), nil
}

// newPublisher returns nil when no queue is configured.
func newPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*queue.ReceiptPublisher, error) {
	if cfg.AWS.DonationQueueURL == "" {
		return nil, nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	return queue.NewReceiptPublisher(client, cfg.AWS.DonationQueueURL, logger), nil
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config (region=%s): %w", cfg.AWS.Region, err)
	}
	return awsCfg, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Close the store after in-flight requests drain.
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
