// Package main is the entrypoint for the ledger maintenance Lambda.
//
// EventBridge rules send a MaintenancePayload naming the task. The handler
// routes it to the ledger maintenance service:
//
//   - sweep_abandoned_claims parks pending claims older than
//     CLAIM_ABANDON_AFTER on the failure queue and marks them abandoned.
//   - purge_settled_claims deletes created claims older than
//     CLAIM_SETTLED_RETENTION.
//   - purge_rate_limits deletes rate limit counters whose window ended more
//     than RATE_LIMIT_PURGE_GRACE ago.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"llcstack/internal/config"
	"llcstack/internal/db"
	"llcstack/internal/queue"
	"llcstack/internal/scheduler"
)

var (
	_ scheduler.ClaimStore   = (*db.DeferredSubscriptionRepo)(nil)
	_ scheduler.FailureSink  = (*queue.FailurePublisher)(nil)
	_ scheduler.CounterStore = (*db.RateLimitRepo)(nil)
)

// LedgerService is the subset of scheduler.LedgerMaintenance the handler
// calls.
type LedgerService interface {
	SweepAbandoned(ctx context.Context, now time.Time, olderThan time.Duration, limit int) (int, error)
	PurgeSettled(ctx context.Context, now time.Time, retention time.Duration, limit int) (int, error)
}

// CounterService is the subset of scheduler.CounterCleanup the handler calls.
type CounterService interface {
	PurgeExpired(ctx context.Context, now time.Time, grace time.Duration) (int, error)
}

// Handler holds the dependencies of the maintenance Lambda.
type Handler struct {
	Ledger           LedgerService
	Counters         CounterService
	AbandonAfter     time.Duration
	SettledRetention time.Duration
	RateLimitGrace   time.Duration
	BatchLimit       int
	Logger           *slog.Logger
}

// Handle runs one maintenance task and returns a one-line summary.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "maintenance handler invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	start := time.Now()
	items, err := h.dispatch(ctx, payload.Task, now)
	if err != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", err,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, err)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result,
		"task", taskStr,
		"items", items,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (int, error) {
	switch task {
	case scheduler.TaskSweepAbandonedClaims:
		return h.Ledger.SweepAbandoned(ctx, now, h.AbandonAfter, h.BatchLimit)
	case scheduler.TaskPurgeSettledClaims:
		return h.Ledger.PurgeSettled(ctx, now, h.SettledRetention, h.BatchLimit)
	case scheduler.TaskPurgeRateLimits:
		return h.Counters.PurgeExpired(ctx, now, h.RateLimitGrace)
	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	logger.Info("maintenance Lambda initializing (cold start)")

	handler, err := buildHandler(context.Background(), logger, level)
	if err != nil {
		logger.Error("maintenance Lambda initialization failed", "error", err)
		os.Exit(1)
	}

	lambda.Start(handler.Handle)
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

// parseLevel maps LOG_LEVEL to a slog level. Unknown values select info.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildHandler loads configuration, applies LOG_LEVEL to level and wires the
// maintenance services.
func buildHandler(ctx context.Context, logger *slog.Logger, level *slog.LevelVar) (*Handler, error) {
	cfg, err := config.LoadMaintenanceConfig(secretProvider())
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if level != nil {
		level.Set(parseLevel(cfg.LogLevel))
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	var sink scheduler.FailureSink
	if cfg.AWS.FailureQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		sink = queue.NewFailurePublisher(sqsClient, cfg.AWS.FailureQueueURL, logger)
	} else {
		logger.Warn("RECONCILE_FAILURE_QUEUE_URL not set; abandoned claims are only logged")
	}

	repo := db.NewDeferredSubscriptionRepo(pool, cfg.Database.ClaimStaleAfter, logger)

	logger.Info("maintenance Lambda initialized",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"abandon_after", cfg.AbandonAfter.String(),
		"settled_retention", cfg.SettledRetention.String(),
	)

	return &Handler{
		Ledger:           scheduler.NewLedgerMaintenance(repo, sink, logger),
		Counters:         scheduler.NewCounterCleanup(db.NewRateLimitRepo(pool, logger), logger),
		AbandonAfter:     cfg.AbandonAfter,
		SettledRetention: cfg.SettledRetention,
		RateLimitGrace:   cfg.RateLimitGrace,
		BatchLimit:       cfg.BatchLimit,
		Logger:           logger,
	}, nil
}
