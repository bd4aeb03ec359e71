// Package main is the entry point for the llcstack payment API.
//
// It loads configuration, wires the Stripe client into the checkout
// composer, verifier and deferred-subscription reconciler, attaches the
// optional ledger database, failure queue and CloudWatch metrics, and serves
// the chi router.
//
// Inside AWS Lambda the router is driven by API Gateway HTTP API events;
// everywhere else it runs as a standard HTTP server with graceful shutdown on
// SIGINT/SIGTERM.
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
	"github.com/jackc/pgx/v5/pgxpool"

	"llcstack/internal/api/handlers"
	"llcstack/internal/checkout"
	"llcstack/internal/config"
	"llcstack/internal/core"
	"llcstack/internal/db"
	"llcstack/internal/external"
	"llcstack/internal/metrics"
	"llcstack/internal/queue"
)

var (
	_ checkout.Ledger            = (*db.DeferredSubscriptionRepo)(nil)
	_ checkout.SubscriptionStore = (*external.StripeClient)(nil)
	_ checkout.FailureSink       = (*queue.FailurePublisher)(nil)
	_ checkout.Recorder          = (*metrics.CloudWatchMetrics)(nil)
	_ core.MetricsCollector      = (*metrics.CloudWatchMetrics)(nil)
	_ core.RateLimitStore        = (*db.RateLimitRepo)(nil)
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("llcstack payment API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	srv, err := buildServer(context.Background(), cfg, logger)
	if err != nil {
		return err
	}

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}
	return runHTTPServer(srv, cfg, logger)
}

// secretProvider returns the SSM provider outside local development.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.NewSSMProvider(region, os.Getenv("AWS_ENDPOINT_URL"))
}

// buildServer wires every dependency and mounts the routes. Optional
// backends (ledger, failure queue, metrics) are attached only when
// configured.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.RateLimitStore = core.NewLocalRateLimitStore()

	catalog, err := checkout.LoadCatalog(cfg.Pricing.CatalogJSON, cfg.Pricing.RAYearlyPriceID, cfg.Pricing.MailMonthlyPriceID)
	if err != nil {
		return nil, fmt.Errorf("loading pricing catalog: %w", err)
	}
	for _, key := range catalog.UnconfiguredRecurring() {
		logger.Warn("recurring add-on has no price configured; selecting it will be refused",
			"add_on", key,
		)
	}

	stripeClient := external.NewStripeClient(external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		BaseURL:   cfg.Billing.StripeAPIBase,
		Timeout:   cfg.Billing.StripeTimeout,
		UserAgent: cfg.Build.UserAgent(cfg.Service),
		Logger:    logger,
	})

	var recorder checkout.Recorder = checkout.NoopRecorder{}
	var reconcilerOpts []checkout.ReconcilerOption

	needAWS := cfg.Observability.EnableMetrics || cfg.AWS.FailureQueueURL != ""
	if needAWS {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}

		if cfg.Observability.EnableMetrics {
			cw := metrics.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			}), logger)
			srv.Metrics = cw
			recorder = cw
		}

		if cfg.AWS.FailureQueueURL != "" {
			sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			reconcilerOpts = append(reconcilerOpts,
				checkout.WithFailureSink(queue.NewFailurePublisher(sqsClient, cfg.AWS.FailureQueueURL, logger)))
		}
	}
	reconcilerOpts = append(reconcilerOpts, checkout.WithRecorder(recorder))

	if cfg.Database.Enabled() {
		pool, err := openPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		srv.HealthChecks = append(srv.HealthChecks, core.PingCheck{CheckName: "database", Ping: pool.Ping})
		srv.Closers = append(srv.Closers, func() error {
			pool.Close()
			return nil
		})
		reconcilerOpts = append(reconcilerOpts,
			checkout.WithLedger(db.NewDeferredSubscriptionRepo(pool, cfg.Database.ClaimStaleAfter, logger)))
		srv.RateLimitStore = db.NewRateLimitRepo(pool, logger)
	} else {
		logger.Warn("DATABASE_URL not set; duplicate webhook deliveries can create duplicate subscriptions")
	}

	if cfg.Billing.StripeWebhookSecret.IsZero() {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set; webhook deliveries will be refused")
	}

	composer := checkout.NewComposer(
		catalog,
		stripeClient,
		checkout.NewCustomerResolver(stripeClient, logger),
		cfg.Server.SiteURL,
		recorder,
		logger,
	)
	verifier := checkout.NewVerifier(stripeClient, logger)
	reconciler := checkout.NewReconciler(catalog, stripeClient, logger, reconcilerOpts...)

	checkoutHandler := handlers.NewCheckoutHandler(composer, verifier, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{Tolerance: cfg.Billing.WebhookTolerance},
		reconciler,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, checkoutHandler.RegisterRoutes)
	srv.WebhookRouteRegistrars = append(srv.WebhookRouteRegistrars, webhookHandler.RegisterRoutes)
	srv.MountRoutes()

	return srv, nil
}

// openPool connects the ledger database. The pool is small: one Lambda
// instance handles one request at a time.
func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	return pool, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runLambda hands the router to the Lambda runtime. lambda.Start does not
// return; resources are reclaimed when the execution environment is frozen.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	logger.Info("starting in Lambda mode")
	lambda.Start(core.NewLambdaAdapter(srv.Handler()).ProxyWithContext)
	return nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
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

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
