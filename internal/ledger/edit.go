package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/suragms/BillingApp-sub007/internal/audit"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	pkgerrors "github.com/suragms/BillingApp-sub007/pkg/errors"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
)

// EditPayment changes amount, mode, reference or date of a live payment. A
// new mode re-derives the status the same way creation does. The invoice and
// the customer balance are re-derived afterwards.
func (e *Engine) EditPayment(ctx context.Context, paymentID int64, changes EditPaymentRequest, userID, tenantID int64) (*PaymentView, error) {
	start := time.Now()
	view, err := e.editPayment(ctx, paymentID, changes, userID, tenantID)
	if err = e.observe(ctx, opEdit, start, metrics.OutcomeSuccess, err); err != nil {
		return nil, err
	}
	return view, nil
}

func (e *Engine) editPayment(ctx context.Context, paymentID int64, changes EditPaymentRequest, userID, tenantID int64) (*PaymentView, error) {
	if changes.empty() {
		return nil, validationError("no changes supplied")
	}
	if changes.Amount != nil && !changes.Amount.IsPositive() {
		return nil, validationError("amount must be greater than zero")
	}
	if changes.Mode != nil && !changes.Mode.IsValid() {
		return nil, validationError(fmt.Sprintf("invalid payment mode %q", *changes.Mode))
	}

	var view PaymentView
	err := e.inTx(ctx, func(ctx context.Context, u unit) error {
		payment, sale, err := e.lockPayment(ctx, u, tenantID, paymentID)
		if err != nil {
			return err
		}
		if payment.Status.IsTerminal() {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "payment is %s and can no longer be edited", payment.Status)
		}
		before := toPaymentView(payment)
		now := e.now()
		updates := map[string]any{"updated_at": now, "updated_by": userID}

		if changes.Amount != nil && !changes.Amount.Equal(payment.Amount) {
			amount := changes.Amount.Round(2)
			if sale != nil {
				out, err := e.outstanding(ctx, u, sale)
				if err != nil {
					return err
				}
				// The payment's current amount is still counted in out.
				available := out.Add(payment.Amount)
				if !e.withinTolerance(amount, available) {
					return pkgerrors.Newf(pkgerrors.CodeOverpayment, "amount %s exceeds outstanding %s", amount.StringFixed(2), available.StringFixed(2))
				}
			}
			payment.Amount = amount
			updates["amount"] = amount
		}
		if changes.Mode != nil && *changes.Mode != payment.Mode {
			status, err := changes.Mode.InitialStatus()
			if err != nil {
				return validationError(err.Error())
			}
			payment.Mode = *changes.Mode
			payment.Status = status
			updates["mode"] = payment.Mode
			updates["status"] = status
		}
		if changes.Reference != nil {
			payment.Reference = changes.Reference
			updates["reference"] = *changes.Reference
		}
		if changes.PaymentDate != nil && !changes.PaymentDate.IsZero() {
			payment.PaymentDate = changes.PaymentDate.UTC()
			updates["payment_date"] = payment.PaymentDate
		}
		payment.UpdatedAt = now
		payment.UpdatedBy = &userID

		if err := u.payments.Update(ctx, payment, payment.Version, updates); err != nil {
			return err
		}
		if _, _, err := e.settle(ctx, u, payment, sale, true); err != nil {
			return err
		}

		view = toPaymentView(payment)
		return e.appendAudit(ctx, u, audit.Entry{
			TenantID:    tenantID,
			UserID:      userID,
			Action:      enums.EventPaymentEdited,
			AggregateID: payment.ID,
			Detail:      map[string]any{"before": before, "after": view},
		})
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// DeletePayment removes a payment, its idempotency mappings and its effect on
// the invoice and the customer balance.
func (e *Engine) DeletePayment(ctx context.Context, paymentID, userID, tenantID int64) (bool, error) {
	start := time.Now()
	err := e.inTx(ctx, func(ctx context.Context, u unit) error {
		payment, sale, err := e.lockPayment(ctx, u, tenantID, paymentID)
		if err != nil {
			return err
		}
		removed := toPaymentView(payment)

		if err := u.idempotency.DeleteByPayment(ctx, tenantID, payment.ID); err != nil {
			return err
		}
		if err := u.payments.Delete(ctx, tenantID, payment.ID); err != nil {
			return err
		}
		if _, _, err := e.settle(ctx, u, payment, sale, true); err != nil {
			return err
		}

		return e.appendAudit(ctx, u, audit.Entry{
			TenantID:    tenantID,
			UserID:      userID,
			Action:      enums.EventPaymentDeleted,
			AggregateID: payment.ID,
			Detail:      removed,
		})
	})
	if err = e.observe(ctx, opDelete, start, metrics.OutcomeSuccess, err); err != nil {
		return false, err
	}
	return true, nil
}
