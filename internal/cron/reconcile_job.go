package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/suragms/BillingApp-sub007/internal/ledger"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
)

const (
	balanceReconcileJobName  = "balance-reconcile"
	defaultReconcileBatch    = 200
	maxReconcileErrorsLogged = 20
)

type customerPager interface {
	ListPage(ctx context.Context, tenantID *int64, afterID int64, limit int) ([]models.Customer, error)
}

type balanceReconciler interface {
	ReconcileCustomer(ctx context.Context, tenantID, customerID, userID int64) (ledger.ReconcileResult, error)
}

// BalanceReconcileJobParams configures the balance reconciliation job.
type BalanceReconcileJobParams struct {
	Logger    *logger.Logger
	Customers customerPager
	Ledger    balanceReconciler
	Metrics   *metrics.CronJobMetrics
	BatchSize int
}

// NewBalanceReconcileJob returns the job that recomputes every customer's
// balance from invoices and cleared payments, correcting drift.
func NewBalanceReconcileJob(params BalanceReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Customers == nil {
		return nil, fmt.Errorf("customer repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger engine required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &balanceReconcileJob{
		logg:      params.Logger,
		customers: params.Customers,
		ledger:    params.Ledger,
		metrics:   params.Metrics,
		batch:     batch,
	}, nil
}

type balanceReconcileJob struct {
	logg      *logger.Logger
	customers customerPager
	ledger    balanceReconciler
	metrics   *metrics.CronJobMetrics
	batch     int
}

func (j *balanceReconcileJob) Name() string { return balanceReconcileJobName }

// Run walks customers by id. One customer failing does not stop the others;
// every failure is returned together.
func (j *balanceReconcileJob) Run(ctx context.Context) error {
	var (
		errs      error
		afterID   int64
		processed int
		drifted   int
		failed    int
	)
	for {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		page, err := j.customers.ListPage(ctx, nil, afterID, j.batch)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list customers after %d: %w", afterID, err))
		}
		for _, c := range page {
			afterID = c.ID
			res, err := j.ledger.ReconcileCustomer(ctx, c.TenantID, c.ID, 0)
			if err != nil {
				failed++
				if failed <= maxReconcileErrorsLogged {
					errs = multierr.Append(errs, fmt.Errorf("customer %d (tenant %d): %w", c.ID, c.TenantID, err))
				}
				continue
			}
			processed++
			if res.Drifted() {
				drifted++
			}
		}
		if len(page) < j.batch {
			break
		}
	}

	j.metrics.AddProcessed(j.Name(), processed)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"customers_reconciled": processed,
		"customers_drifted":    drifted,
		"customers_failed":     failed,
	})
	j.logg.Info(logCtx, "balance reconciliation complete")
	if failed > maxReconcileErrorsLogged {
		errs = multierr.Append(errs, fmt.Errorf("%d further customers failed", failed-maxReconcileErrorsLogged))
	}
	return errs
}
