package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/suragms/BillingApp-sub007/internal/audit"
	"github.com/suragms/BillingApp-sub007/internal/cron"
	"github.com/suragms/BillingApp-sub007/internal/customers"
	"github.com/suragms/BillingApp-sub007/internal/idempotency"
	"github.com/suragms/BillingApp-sub007/internal/ledger"
	"github.com/suragms/BillingApp-sub007/pkg/config"
	"github.com/suragms/BillingApp-sub007/pkg/db"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/instance"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
	"github.com/suragms/BillingApp-sub007/pkg/migrate"
	"github.com/suragms/BillingApp-sub007/pkg/outbox"
	"github.com/suragms/BillingApp-sub007/pkg/pubsub"
	"github.com/suragms/BillingApp-sub007/pkg/redis"
)

type auditPublisher interface {
	Publish(ctx context.Context, event models.OutboxEvent) error
}

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	only := flag.String("jobs", "", "comma-separated job names to run (default: all)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var (
		cache idempotency.Cache
		lock  = cron.NewLocalLock()
	)
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		redisLock, err := cron.NewRedisLock(redisClient, "", cfg.Cron.LockTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create cron lock", err)
			os.Exit(1)
		}
		cache, lock = redisClient, redisLock
	} else {
		logg.Warn(context.Background(), "redis not configured, cron lock is process local")
	}

	engine, err := ledger.Bootstrap(cfg.Ledger, dbClient, cache, logg, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger engine", err)
		os.Exit(1)
	}

	var publisher auditPublisher = audit.NewLogPublisher(logg)
	if cfg.PubSub.Enabled() {
		psClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		publisher = psClient
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	registry, err := buildRegistry(cfg, dbClient, cache, engine, publisher, logg, metricsCollector)
	if err == nil {
		registry, err = registry.Only(splitJobs(*only)...)
	}
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metricsCollector,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"once":        *once,
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron run failed", err)
			os.Exit(1)
		}
		return
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildRegistry orders the jobs so relayed audit rows become eligible for
// retention in the same cycle.
func buildRegistry(cfg *config.Config, dbClient *db.Client, cache idempotency.Cache, engine *ledger.Engine, publisher auditPublisher, logg *logger.Logger, m *metrics.CronJobMetrics) (*cron.Registry, error) {
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)

	reconcile, err := cron.NewBalanceReconcileJob(cron.BalanceReconcileJobParams{
		Logger:    logg,
		Customers: customers.NewRepository(conn),
		Ledger:    engine,
		Metrics:   m,
		BatchSize: cfg.Cron.ReconcileBatchSize,
	})
	if err != nil {
		return nil, err
	}
	relay, err := cron.NewAuditRelayJob(cron.AuditRelayJobParams{
		Logger:      logg,
		Repository:  outboxRepo,
		Publisher:   publisher,
		Metrics:     m,
		PageSize:    cfg.Cron.AuditRelayPageSize,
		MaxAttempts: cfg.Cron.AuditRelayMaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewAuditRetentionJob(cron.AuditRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Metrics:    m,
		Retention:  cfg.Cron.AuditRetentionDays,
	})
	if err != nil {
		return nil, err
	}

	registry, err := cron.NewRegistry(reconcile, relay, retention)
	if err != nil {
		return nil, err
	}
	if cfg.Cron.IdempotencyRetentionOn {
		purge, err := cron.NewIdempotencyRetentionJob(cron.IdempotencyRetentionJobParams{
			Logger:  logg,
			Store:   idempotency.NewStore(conn, cache, cfg.Ledger.IdempotencyTTL, logg),
			Metrics: m,
			TTL:     cfg.Ledger.IdempotencyTTL,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(purge); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func splitJobs(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}
