package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/suragms/BillingApp-sub007/pkg/logger"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
)

const (
	idempotencyRetentionJobName = "idempotency-retention"
	defaultIdempotencyTTL       = 7 * 24 * time.Hour
)

type idempotencyPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type IdempotencyRetentionJobParams struct {
	Logger  *logger.Logger
	Store   idempotencyPurger
	Metrics *metrics.CronJobMetrics
	TTL     time.Duration
}

// NewIdempotencyRetentionJob purges idempotency mappings older than TTL. A
// purged key behaves like a fresh key afterwards.
func NewIdempotencyRetentionJob(params IdempotencyRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &idempotencyRetentionJob{
		logg:    params.Logger,
		store:   params.Store,
		metrics: params.Metrics,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

type idempotencyRetentionJob struct {
	logg    *logger.Logger
	store   idempotencyPurger
	metrics *metrics.CronJobMetrics
	ttl     time.Duration
	now     func() time.Time
}

func (j *idempotencyRetentionJob) Name() string { return idempotencyRetentionJobName }

func (j *idempotencyRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	purged, err := j.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("idempotency retention: %w", err)
	}
	j.metrics.AddProcessed(j.Name(), int(purged))
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":      cutoff,
		"rows_purged": purged,
	}), "idempotency retention cleanup complete")
	return nil
}
