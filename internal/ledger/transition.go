package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/suragms/BillingApp-sub007/internal/audit"
	"github.com/suragms/BillingApp-sub007/internal/repo"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	pkgerrors "github.com/suragms/BillingApp-sub007/pkg/errors"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
)

// TransitionStatus moves a payment through the status machine:
//
//	PENDING <-> CLEARED
//	PENDING | CLEARED -> VOID | RETURNED (final)
//
// The invoice is re-derived on every change. The customer balance is
// recalculated only when the payment was or becomes CLEARED, since pending
// money never touched it.
func (e *Engine) TransitionStatus(ctx context.Context, paymentID int64, next enums.PaymentStatus, userID, tenantID int64) (bool, error) {
	start := time.Now()
	err := e.transitionStatus(ctx, paymentID, next, userID, tenantID)
	if err = e.observe(ctx, opTransition, start, metrics.OutcomeSuccess, err); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) transitionStatus(ctx context.Context, paymentID int64, next enums.PaymentStatus, userID, tenantID int64) error {
	if !next.IsValid() {
		return validationError(fmt.Sprintf("invalid payment status %q", next))
	}

	return e.inTx(ctx, func(ctx context.Context, u unit) error {
		payment, sale, err := e.lockPayment(ctx, u, tenantID, paymentID)
		if err != nil {
			return err
		}
		prev := payment.Status
		if prev == next {
			return nil
		}
		if !prev.CanTransitionTo(next) {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot move payment from %s to %s", prev, next).
				WithDetails(map[string]string{"from": string(prev), "to": string(next)})
		}

		now := e.now()
		payment.Status = next
		payment.UpdatedAt = now
		payment.UpdatedBy = &userID
		if err := u.payments.Update(ctx, payment, payment.Version, map[string]any{
			"status":     next,
			"updated_at": now,
			"updated_by": userID,
		}); err != nil {
			return err
		}

		touchBalance := prev == enums.PaymentStatusCleared || next == enums.PaymentStatusCleared
		if _, _, err := e.settle(ctx, u, payment, sale, touchBalance); err != nil {
			return err
		}

		return e.appendAudit(ctx, u, audit.Entry{
			TenantID:    tenantID,
			UserID:      userID,
			Action:      enums.EventPaymentStatusChanged,
			AggregateID: payment.ID,
			Detail: map[string]any{
				"from":   prev,
				"to":     next,
				"amount": payment.Amount.StringFixed(2),
			},
		})
	})
}

// lockPayment loads the payment and, when it references one, its invoice,
// both under row locks and in that order.
func (e *Engine) lockPayment(ctx context.Context, u unit, tenantID, paymentID int64) (*models.Payment, *models.Sale, error) {
	payment, err := u.payments.GetForUpdate(ctx, tenantID, paymentID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, nil, notFoundError("payment %d not found", paymentID)
		}
		return nil, nil, err
	}
	if payment.SaleID == nil {
		return payment, nil, nil
	}
	sale, err := u.invoices.GetForUpdate(ctx, tenantID, *payment.SaleID)
	if err != nil {
		if repo.IsNotFound(err) {
			// Invoice was deleted after the payment: nothing left to re-derive.
			return payment, nil, nil
		}
		return nil, nil, err
	}
	return payment, sale, nil
}
