package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
)

const (
	auditRelayJobName     = "audit-relay"
	defaultAuditRelayPage = 500
)

type auditRelayRepo interface {
	FetchRelayable(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error)
	CountExhausted(ctx context.Context, maxAttempts int) (int64, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

type auditPublisher interface {
	Publish(ctx context.Context, event models.OutboxEvent) error
}

type AuditRelayJobParams struct {
	Logger     *logger.Logger
	Repository auditRelayRepo
	Publisher  auditPublisher
	Metrics    *metrics.CronJobMetrics
	PageSize   int
	// MaxAttempts stops retrying an event after that many failed publishes.
	// Zero retries forever.
	MaxAttempts int
}

// NewAuditRelayJob drains unrelayed audit outbox rows into the publisher and
// stamps them published. Failed rows stay queued for the next cycle.
func NewAuditRelayJob(params AuditRelayJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("audit publisher required")
	}
	page := params.PageSize
	if page <= 0 {
		page = defaultAuditRelayPage
	}
	return &auditRelayJob{
		logg:        params.Logger,
		repo:        params.Repository,
		publisher:   params.Publisher,
		metrics:     params.Metrics,
		page:        page,
		maxAttempts: params.MaxAttempts,
		now:         time.Now,
	}, nil
}

type auditRelayJob struct {
	logg        *logger.Logger
	repo        auditRelayRepo
	publisher   auditPublisher
	metrics     *metrics.CronJobMetrics
	page        int
	maxAttempts int
	now         func() time.Time
}

func (j *auditRelayJob) Name() string { return auditRelayJobName }

// Run relays a single page per cycle so a publisher outage cannot spin.
// Successful events are stamped together after the page is sent.
func (j *auditRelayJob) Run(ctx context.Context) error {
	events, err := j.repo.FetchRelayable(ctx, j.page, j.maxAttempts)
	if err != nil {
		return fmt.Errorf("fetch relayable audit events: %w", err)
	}
	var (
		errs    error
		relayed []uuid.UUID
	)
	for _, event := range events {
		if pubErr := j.publisher.Publish(ctx, event); pubErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("publish %s: %w", event.ID, pubErr))
			if markErr := j.repo.MarkFailed(ctx, event.ID, pubErr); markErr != nil {
				errs = multierr.Append(errs, fmt.Errorf("mark %s failed: %w", event.ID, markErr))
			}
			continue
		}
		relayed = append(relayed, event.ID)
	}
	if err := j.repo.MarkPublished(ctx, relayed, j.now().UTC()); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("mark %d events published: %w", len(relayed), err))
		relayed = nil
	}
	j.metrics.AddProcessed(j.Name(), len(relayed))

	logCtx := j.logg.WithFields(ctx, map[string]any{"fetched": len(events), "relayed": len(relayed)})
	if exhausted, err := j.repo.CountExhausted(ctx, j.maxAttempts); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("count exhausted audit events: %w", err))
	} else if exhausted > 0 {
		j.logg.Warn(j.logg.WithField(logCtx, "exhausted", exhausted), "audit events exceeded relay attempts")
	}
	j.logg.Info(logCtx, "audit relay complete")
	return errs
}
