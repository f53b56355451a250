package ledger

import (
	"context"
	"time"

	"github.com/suragms/BillingApp-sub007/internal/audit"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
)

// RecalculateCustomerBalance recomputes a customer's balance from invoices
// and cleared payments and persists it.
func (e *Engine) RecalculateCustomerBalance(ctx context.Context, customerID, tenantID int64) error {
	_, err := e.ReconcileCustomer(ctx, tenantID, customerID, 0)
	return err
}

// ReconcileCustomer is RecalculateCustomerBalance reporting the stored and
// recomputed balances. A corrected drift is audited on behalf of userID
// (0 for system jobs).
func (e *Engine) ReconcileCustomer(ctx context.Context, tenantID, customerID, userID int64) (ReconcileResult, error) {
	start := time.Now()
	var result ReconcileResult
	err := e.inTx(ctx, func(ctx context.Context, u unit) error {
		_, res, err := e.recalculateBalance(ctx, u, tenantID, customerID)
		if err != nil {
			return err
		}
		result = res
		if !res.Drifted() {
			return nil
		}
		return e.appendAudit(ctx, u, audit.Entry{
			TenantID:    tenantID,
			UserID:      userID,
			Action:      enums.EventCustomerBalanceRecalculated,
			AggregateID: customerID,
			Detail: map[string]string{
				"previous": res.Previous.StringFixed(2),
				"balance":  res.Balance.StringFixed(2),
			},
		})
	})
	if err = e.observe(ctx, opRecalculate, start, metrics.OutcomeSuccess, err); err != nil {
		return ReconcileResult{}, err
	}
	if result.Drifted() {
		e.metrics.IncDrift()
		logCtx := e.logg.WithTenantID(ctx, tenantID)
		logCtx = e.logg.WithFields(logCtx, map[string]any{
			"customer_id": customerID,
			"previous":    result.Previous.StringFixed(2),
			"balance":     result.Balance.StringFixed(2),
		})
		e.logg.Warn(logCtx, "customer balance drift corrected")
	}
	return result, nil
}
