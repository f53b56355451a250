package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/suragms/BillingApp-sub007/internal/audit"
	"github.com/suragms/BillingApp-sub007/internal/idempotency"
	"github.com/suragms/BillingApp-sub007/internal/repo"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	pkgerrors "github.com/suragms/BillingApp-sub007/pkg/errors"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
)

// CreatePayment records a payment and re-derives the affected invoice and
// customer balance. With an idempotency key, a repeated call returns the
// first call's result without touching the ledger.
func (e *Engine) CreatePayment(ctx context.Context, req CreatePaymentRequest, userID, tenantID int64, idempotencyKey string) (*CreatePaymentResult, error) {
	start := time.Now()
	result, replayed, err := e.createPayment(ctx, req, userID, tenantID, idempotencyKey)
	outcome := metrics.OutcomeSuccess
	if replayed {
		outcome = metrics.OutcomeReplayed
	}
	if err = e.observe(ctx, opCreate, start, outcome, err); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) createPayment(ctx context.Context, req CreatePaymentRequest, userID, tenantID int64, key string) (*CreatePaymentResult, bool, error) {
	if !req.Amount.IsPositive() {
		return nil, false, validationError("amount must be greater than zero")
	}
	if req.CustomerID == nil && req.SaleID == nil {
		return nil, false, validationError("either customerId or saleId is required")
	}
	status, err := req.Mode.InitialStatus()
	if err != nil {
		return nil, false, validationError(fmt.Sprintf("invalid payment mode %q", req.Mode))
	}

	var hash string
	if key != "" {
		if hash, err = idempotency.HashRequest(req); err != nil {
			return nil, false, err
		}
		var prior CreatePaymentResult
		found, err := e.replay(ctx, tenantID, key, idempotency.OperationCreate, hash, &prior)
		if err != nil {
			return nil, false, err
		}
		if found {
			return &prior, true, nil
		}
	}

	var (
		result *CreatePaymentResult
		claim  *models.PaymentIdempotency
	)
	err = e.inTx(ctx, func(ctx context.Context, u unit) error {
		var err error
		if claim, err = e.claimKey(ctx, u, tenantID, userID, key, idempotency.OperationCreate, hash); err != nil {
			return err
		}
		var (
			sale       *models.Sale
			customerID = req.CustomerID
		)
		if req.SaleID != nil {
			s, err := u.invoices.GetForUpdate(ctx, tenantID, *req.SaleID)
			if err != nil {
				if repo.IsNotFound(err) {
					return validationError(fmt.Sprintf("invoice %d not found", *req.SaleID))
				}
				return err
			}
			sale = s
			switch {
			case sale.CustomerID != nil && customerID == nil:
				customerID = sale.CustomerID
			case sale.CustomerID != nil && *sale.CustomerID != *customerID:
				return validationError("customer does not match the invoice")
			}
		}
		if customerID != nil && (sale == nil || sale.CustomerID == nil) {
			if _, err := u.customers.Get(ctx, tenantID, *customerID); err != nil {
				if repo.IsNotFound(err) {
					return notFoundError("customer %d not found", *customerID)
				}
				return err
			}
		}

		if sale != nil {
			out, err := e.outstanding(ctx, u, sale)
			if err != nil {
				return err
			}
			if !out.IsPositive() {
				return pkgerrors.New(pkgerrors.CodeOverpayment, "invoice is already fully paid")
			}
			if !e.withinTolerance(req.Amount, out) {
				return pkgerrors.Newf(pkgerrors.CodeOverpayment, "amount %s exceeds outstanding %s", req.Amount.StringFixed(2), out.StringFixed(2)).
					WithDetails(map[string]string{"outstanding": out.StringFixed(2)})
			}
			if e.opts.DuplicateWindow > 0 {
				dup, err := u.payments.ExistsSince(ctx, tenantID, sale.ID, req.Amount, e.now().Add(-e.opts.DuplicateWindow), enums.ActivePaymentStatuses()...)
				if err != nil {
					return err
				}
				if dup {
					return pkgerrors.New(pkgerrors.CodeDuplicateSubmission, "an identical payment for this invoice was just recorded")
				}
			}
		}

		now := e.now()
		payment := &models.Payment{
			TenantID:    tenantID,
			SaleID:      req.SaleID,
			CustomerID:  customerID,
			Amount:      req.Amount.Round(2),
			Mode:        req.Mode,
			Status:      status,
			PaymentDate: paymentDate(req.PaymentDate, now),
			Reference:   req.Reference,
			CreatedBy:   userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := u.payments.Create(ctx, payment); err != nil {
			return err
		}

		inv, cust, err := e.settle(ctx, u, payment, sale, status == enums.PaymentStatusCleared)
		if err != nil {
			return err
		}

		view := toPaymentView(payment)
		if err := e.appendAudit(ctx, u, audit.Entry{
			TenantID:    tenantID,
			UserID:      userID,
			Action:      enums.EventPaymentCreated,
			AggregateID: payment.ID,
			Detail:      view,
		}); err != nil {
			return err
		}
		result = &CreatePaymentResult{Payment: view, Invoice: inv, Customer: cust}
		return e.completeKey(ctx, u, claim, payment.ID, result)
	})
	if errors.Is(err, idempotency.ErrKeyExists) {
		var prior CreatePaymentResult
		if err := e.replayLost(ctx, tenantID, key, idempotency.OperationCreate, hash, &prior); err != nil {
			return nil, false, err
		}
		return &prior, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	logCtx := e.logg.WithTenantID(ctx, tenantID)
	logCtx = e.logg.WithPayment(logCtx, result.Payment.ID, result.Payment.SaleID, result.Payment.CustomerID)
	e.logg.Info(logCtx, "payment created")

	if claim == nil {
		return result, false, nil
	}
	var canonical CreatePaymentResult
	if err := e.rememberKey(ctx, claim, &canonical); err != nil {
		return nil, false, err
	}
	return &canonical, false, nil
}

// replay loads the result stored for key into dst. It fails when the key was
// used for another operation or a different request body.
func (e *Engine) replay(ctx context.Context, tenantID int64, key, operation, hash string, dst any) (bool, error) {
	rec, err := e.idempotency.Lookup(ctx, tenantID, key)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if idempotency.Pending(rec) {
		return false, inFlightError()
	}
	if rec.Operation != operation || rec.RequestHash != hash {
		return false, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key was already used for a different request").
			WithDetails(map[string]any{"paymentId": rec.PaymentID})
	}
	if err := json.Unmarshal(rec.ResponseSnapshot, dst); err != nil {
		return false, fmt.Errorf("decode idempotency snapshot: %w", err)
	}
	return true, nil
}

// claimKey reserves key inside the ledger transaction before anything is
// written. A concurrent request holding the same key makes the insert fail
// with idempotency.ErrKeyExists, which rolls this transaction back.
func (e *Engine) claimKey(ctx context.Context, u unit, tenantID, userID int64, key, operation, hash string) (*models.PaymentIdempotency, error) {
	if key == "" {
		return nil, nil
	}
	claim := &models.PaymentIdempotency{
		TenantID:       tenantID,
		IdempotencyKey: key,
		Operation:      operation,
		RequestHash:    hash,
		UserID:         userID,
		CreatedAt:      e.now(),
	}
	if err := u.idempotency.Claim(ctx, claim); err != nil {
		return nil, err
	}
	return claim, nil
}

// completeKey stores the result under the claimed key in the same
// transaction, so the mapping commits exactly when the payment does.
func (e *Engine) completeKey(ctx context.Context, u unit, claim *models.PaymentIdempotency, paymentID int64, result any) error {
	if claim == nil {
		return nil
	}
	snapshot, err := json.Marshal(result)
	if err != nil {
		return err
	}
	claim.PaymentID = paymentID
	claim.ResponseSnapshot = snapshot
	return u.idempotency.Complete(ctx, claim)
}

// rememberKey caches the committed mapping and decodes its snapshot into dst
// so the first response matches every replay byte for byte.
func (e *Engine) rememberKey(ctx context.Context, claim *models.PaymentIdempotency, dst any) error {
	e.idempotency.Remember(ctx, claim)
	return json.Unmarshal(claim.ResponseSnapshot, dst)
}

// replayLost answers a request whose claim lost to a concurrent writer with
// the winner's committed result.
func (e *Engine) replayLost(ctx context.Context, tenantID int64, key, operation, hash string, dst any) error {
	found, err := e.replay(ctx, tenantID, key, operation, hash, dst)
	if err != nil {
		return err
	}
	if !found {
		return inFlightError()
	}
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"tenant_id":       tenantID,
		"idempotency_key": key,
	}), "idempotency key won by a concurrent request, replaying")
	return nil
}
