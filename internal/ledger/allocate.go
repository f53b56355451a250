package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suragms/BillingApp-sub007/internal/audit"
	"github.com/suragms/BillingApp-sub007/internal/idempotency"
	"github.com/suragms/BillingApp-sub007/internal/repo"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
)

// AllocatePayment spreads one payment over a customer's invoices in request
// order. Each invoice receives min(requested, remaining, outstanding); empty
// or exhausted allocations are skipped. The balance is recalculated once.
func (e *Engine) AllocatePayment(ctx context.Context, req AllocatePaymentRequest, userID, tenantID int64, idempotencyKey string) (*AllocatePaymentResult, error) {
	start := time.Now()
	result, replayed, err := e.allocatePayment(ctx, req, userID, tenantID, idempotencyKey)
	outcome := metrics.OutcomeSuccess
	if replayed {
		outcome = metrics.OutcomeReplayed
	}
	if err = e.observe(ctx, opAllocate, start, outcome, err); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) allocatePayment(ctx context.Context, req AllocatePaymentRequest, userID, tenantID int64, key string) (*AllocatePaymentResult, bool, error) {
	if req.CustomerID <= 0 {
		return nil, false, validationError("customerId is required")
	}
	if !req.TotalAmount.IsPositive() {
		return nil, false, validationError("total amount must be greater than zero")
	}
	status, err := req.Mode.InitialStatus()
	if err != nil {
		return nil, false, validationError(fmt.Sprintf("invalid payment mode %q", req.Mode))
	}
	if len(req.Allocations) == 0 {
		return nil, false, validationError("at least one allocation is required")
	}

	var hash string
	if key != "" {
		if hash, err = idempotency.HashRequest(req); err != nil {
			return nil, false, err
		}
		var prior AllocatePaymentResult
		found, err := e.replay(ctx, tenantID, key, idempotency.OperationAllocate, hash, &prior)
		if err != nil {
			return nil, false, err
		}
		if found {
			return &prior, true, nil
		}
	}

	var (
		result *AllocatePaymentResult
		claim  *models.PaymentIdempotency
	)
	err = e.inTx(ctx, func(ctx context.Context, u unit) error {
		var err error
		if claim, err = e.claimKey(ctx, u, tenantID, userID, key, idempotency.OperationAllocate, hash); err != nil {
			return err
		}
		if _, err := u.customers.Get(ctx, tenantID, req.CustomerID); err != nil {
			if repo.IsNotFound(err) {
				return notFoundError("customer %d not found", req.CustomerID)
			}
			return err
		}

		remaining := req.TotalAmount.Round(2)
		now := e.now()
		date := paymentDate(req.PaymentDate, now)
		customerID := req.CustomerID
		var created []PaymentView

		for _, alloc := range req.Allocations {
			if !alloc.Amount.IsPositive() || !remaining.IsPositive() {
				continue
			}
			sale, err := u.invoices.GetForUpdate(ctx, tenantID, alloc.InvoiceID)
			if err != nil {
				if repo.IsNotFound(err) {
					return validationError(fmt.Sprintf("invoice %d not found", alloc.InvoiceID))
				}
				return err
			}
			if sale.CustomerID == nil || *sale.CustomerID != customerID {
				return validationError(fmt.Sprintf("invoice %d is not billed to customer %d", alloc.InvoiceID, customerID))
			}
			out, err := e.outstanding(ctx, u, sale)
			if err != nil {
				return err
			}
			amount := decimal.Min(alloc.Amount, remaining, out).Round(2)
			if !amount.IsPositive() {
				continue
			}

			saleID := sale.ID
			payment := &models.Payment{
				TenantID:    tenantID,
				SaleID:      &saleID,
				CustomerID:  &customerID,
				Amount:      amount,
				Mode:        req.Mode,
				Status:      status,
				PaymentDate: date,
				Reference:   req.Reference,
				CreatedBy:   userID,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := u.payments.Create(ctx, payment); err != nil {
				return err
			}
			if _, err := e.refreshInvoice(ctx, u, sale); err != nil {
				return err
			}
			view := toPaymentView(payment)
			if err := e.appendAudit(ctx, u, audit.Entry{
				TenantID:    tenantID,
				UserID:      userID,
				Action:      enums.EventPaymentAllocated,
				AggregateID: payment.ID,
				Detail:      map[string]any{"payment": view, "requested": alloc.Amount.StringFixed(2)},
			}); err != nil {
				return err
			}
			created = append(created, view)
			remaining = remaining.Sub(amount)
		}

		if len(created) == 0 {
			return validationError("no allocation produced a payment")
		}

		customer, _, err := e.recalculateBalance(ctx, u, tenantID, customerID)
		if err != nil {
			return err
		}
		result = &AllocatePaymentResult{
			Payment:  created[0],
			Payments: created,
			Customer: *toCustomerSummary(customer),
		}
		return e.completeKey(ctx, u, claim, created[0].ID, result)
	})
	if errors.Is(err, idempotency.ErrKeyExists) {
		var prior AllocatePaymentResult
		if err := e.replayLost(ctx, tenantID, key, idempotency.OperationAllocate, hash, &prior); err != nil {
			return nil, false, err
		}
		return &prior, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	logCtx := e.logg.WithTenantID(ctx, tenantID)
	logCtx = e.logg.WithFields(logCtx, map[string]any{"customer_id": req.CustomerID, "payments": len(result.Payments)})
	e.logg.Info(logCtx, "payment allocated")

	if claim == nil {
		return result, false, nil
	}
	var canonical AllocatePaymentResult
	if err := e.rememberKey(ctx, claim, &canonical); err != nil {
		return nil, false, err
	}
	return &canonical, false, nil
}
