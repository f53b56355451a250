// Package ledger keeps payments, the invoices they settle and their
// customers' balances consistent. Every mutation runs in one transaction and
// re-derives invoice and customer figures from the payment rows.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/suragms/BillingApp-sub007/internal/audit"
	"github.com/suragms/BillingApp-sub007/internal/customers"
	"github.com/suragms/BillingApp-sub007/internal/idempotency"
	"github.com/suragms/BillingApp-sub007/internal/invoices"
	"github.com/suragms/BillingApp-sub007/internal/payments"
	"github.com/suragms/BillingApp-sub007/pkg/config"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
)

const (
	opCreate      = "create_payment"
	opTransition  = "transition_status"
	opEdit        = "edit_payment"
	opDelete      = "delete_payment"
	opAllocate    = "allocate_payment"
	opRecalculate = "recalculate_balance"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditAppender interface {
	Append(ctx context.Context, tx *gorm.DB, entry audit.Entry) error
}

// Options tune the engine's money and timing rules.
type Options struct {
	Tolerance          decimal.Decimal
	DuplicateWindow    time.Duration
	TransactionTimeout time.Duration
}

// OptionsFromConfig converts the ledger config section.
func OptionsFromConfig(cfg config.LedgerConfig) (Options, error) {
	tol, err := cfg.AmountTolerance()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Tolerance:          tol,
		DuplicateWindow:    cfg.DuplicateWindow,
		TransactionTimeout: cfg.TransactionTimeout,
	}, nil
}

// EngineParams wires the engine's collaborators.
type EngineParams struct {
	TX          txRunner
	Payments    payments.Repository
	Invoices    invoices.Repository
	Customers   customers.Repository
	Idempotency *idempotency.Store
	Audit       auditAppender
	Logger      *logger.Logger
	Metrics     *metrics.LedgerMetrics
	Options     Options
	Now         func() time.Time
}

// Engine is the payment ledger.
type Engine struct {
	tx          txRunner
	payments    payments.Repository
	invoices    invoices.Repository
	customers   customers.Repository
	idempotency *idempotency.Store
	audit       auditAppender
	logg        *logger.Logger
	metrics     *metrics.LedgerMetrics
	opts        Options
	now         func() time.Time
}

func NewEngine(p EngineParams) (*Engine, error) {
	switch {
	case p.TX == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case p.Invoices == nil:
		return nil, fmt.Errorf("invoices repository required")
	case p.Customers == nil:
		return nil, fmt.Errorf("customers repository required")
	case p.Idempotency == nil:
		return nil, fmt.Errorf("idempotency store required")
	case p.Audit == nil:
		return nil, fmt.Errorf("audit sink required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	opts := p.Options
	if opts.Tolerance.IsNegative() {
		return nil, fmt.Errorf("tolerance must not be negative")
	}
	if opts.DuplicateWindow < 0 {
		opts.DuplicateWindow = 0
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		tx:          p.TX,
		payments:    p.Payments,
		invoices:    p.Invoices,
		customers:   p.Customers,
		idempotency: p.Idempotency,
		audit:       p.Audit,
		logg:        p.Logger,
		metrics:     p.Metrics,
		opts:        opts,
		now:         now,
	}, nil
}

// unit bundles the repositories bound to one transaction.
type unit struct {
	tx          *gorm.DB
	payments    payments.Repository
	invoices    invoices.Repository
	customers   customers.Repository
	idempotency *idempotency.Store
}

// inTx runs fn as one atomic unit of work under the configured timeout.
func (e *Engine) inTx(ctx context.Context, fn func(ctx context.Context, u unit) error) error {
	if e.opts.TransactionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.TransactionTimeout)
		defer cancel()
	}
	return e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return fn(ctx, unit{
			tx:          tx,
			payments:    e.payments.WithTx(tx),
			invoices:    e.invoices.WithTx(tx),
			customers:   e.customers.WithTx(tx),
			idempotency: e.idempotency.WithTx(tx),
		})
	})
}

// observe records the outcome of op started at start and translates err.
func (e *Engine) observe(ctx context.Context, op string, start time.Time, outcome string, err error) error {
	err = e.translate(ctx, op, err)
	if err != nil {
		outcome = string(codeOf(err))
	}
	e.metrics.Observe(op, outcome, time.Since(start))
	return err
}

func (e *Engine) appendAudit(ctx context.Context, u unit, entry audit.Entry) error {
	if err := e.audit.Append(ctx, u.tx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (e *Engine) withinTolerance(amount, limit decimal.Decimal) bool {
	return amount.LessThanOrEqual(limit.Add(e.opts.Tolerance))
}
