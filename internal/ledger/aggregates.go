package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/suragms/BillingApp-sub007/internal/repo"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
)

// outstanding is what may still be paid against the sale: the grand total
// minus every payment that has not been voided or returned.
func (e *Engine) outstanding(ctx context.Context, u unit, sale *models.Sale) (decimal.Decimal, error) {
	claimed, err := u.payments.SumForSale(ctx, sale.TenantID, sale.ID, enums.ActivePaymentStatuses()...)
	if err != nil {
		return decimal.Zero, err
	}
	return sale.GrandTotal.Sub(claimed).Round(2), nil
}

// refreshInvoice re-derives PaidAmount, PaymentStatus and LastPaymentDate from
// the payment rows and saves them under the sale's version.
func (e *Engine) refreshInvoice(ctx context.Context, u unit, sale *models.Sale) (*InvoiceSummary, error) {
	paid, err := u.payments.SumForSale(ctx, sale.TenantID, sale.ID, enums.PaymentStatusCleared)
	if err != nil {
		return nil, err
	}
	pending, err := u.payments.CountForSale(ctx, sale.TenantID, sale.ID, enums.PaymentStatusPending)
	if err != nil {
		return nil, err
	}
	latest, err := u.payments.LatestForSale(ctx, sale.TenantID, sale.ID, enums.ActivePaymentStatuses()...)
	if err != nil {
		return nil, err
	}

	sale.PaidAmount = paid
	sale.PaymentStatus = e.invoiceStatus(sale.GrandTotal, paid, pending > 0)
	sale.LastPaymentDate = nil
	if latest != nil {
		d := latest.PaymentDate.UTC()
		sale.LastPaymentDate = &d
	}
	if err := u.invoices.Save(ctx, sale); err != nil {
		return nil, err
	}

	out, err := e.outstanding(ctx, u, sale)
	if err != nil {
		return nil, err
	}
	return &InvoiceSummary{
		ID:              sale.ID,
		InvoiceNo:       sale.InvoiceNo,
		GrandTotal:      sale.GrandTotal.Round(2),
		PaidAmount:      sale.PaidAmount.Round(2),
		Outstanding:     out,
		PaymentStatus:   sale.PaymentStatus,
		LastPaymentDate: utcPtr(sale.LastPaymentDate),
	}, nil
}

// invoiceStatus is Paid once cleared money covers the total, Partial while any
// money is cleared or awaiting clearance, Pending otherwise.
func (e *Engine) invoiceStatus(grandTotal, paid decimal.Decimal, hasPending bool) enums.InvoicePaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(grandTotal.Sub(e.opts.Tolerance)):
		return enums.InvoicePaymentPaid
	case paid.IsPositive() || hasPending:
		return enums.InvoicePaymentPartial
	default:
		return enums.InvoicePaymentPending
	}
}

// recalculateBalance is the only code path that writes Customer.Balance:
// undeleted invoice totals minus cleared payments, read fresh under a row lock.
func (e *Engine) recalculateBalance(ctx context.Context, u unit, tenantID, customerID int64) (*models.Customer, ReconcileResult, error) {
	customer, err := u.customers.GetForUpdate(ctx, tenantID, customerID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ReconcileResult{}, notFoundError("customer %d not found", customerID)
		}
		return nil, ReconcileResult{}, err
	}

	billed, err := u.invoices.SumGrandTotalForCustomer(ctx, tenantID, customerID)
	if err != nil {
		return nil, ReconcileResult{}, err
	}
	cleared, err := u.payments.SumForCustomer(ctx, tenantID, customerID, enums.PaymentStatusCleared)
	if err != nil {
		return nil, ReconcileResult{}, err
	}

	result := ReconcileResult{
		CustomerID: customerID,
		Previous:   customer.Balance.Round(2),
		Balance:    billed.Sub(cleared).Round(2),
	}
	now := e.now()
	customer.Balance = result.Balance
	customer.LastActivity = &now
	if err := u.customers.Save(ctx, customer); err != nil {
		return nil, ReconcileResult{}, err
	}
	return customer, result, nil
}

// customerSummary loads the customer without writing it.
func (e *Engine) customerSummary(ctx context.Context, u unit, tenantID int64, customerID *int64) (*CustomerSummary, error) {
	if customerID == nil {
		return nil, nil
	}
	customer, err := u.customers.Get(ctx, tenantID, *customerID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return toCustomerSummary(customer), nil
}

// settle refreshes the invoice (when the payment has one) and, if
// touchBalance, recalculates the customer's balance.
func (e *Engine) settle(ctx context.Context, u unit, p *models.Payment, sale *models.Sale, touchBalance bool) (*InvoiceSummary, *CustomerSummary, error) {
	var (
		inv  *InvoiceSummary
		cust *CustomerSummary
		err  error
	)
	if sale != nil {
		if inv, err = e.refreshInvoice(ctx, u, sale); err != nil {
			return nil, nil, err
		}
	}
	if p.CustomerID == nil {
		return inv, nil, nil
	}
	if touchBalance {
		customer, _, err := e.recalculateBalance(ctx, u, p.TenantID, *p.CustomerID)
		if err != nil {
			return nil, nil, err
		}
		return inv, toCustomerSummary(customer), nil
	}
	cust, err = e.customerSummary(ctx, u, p.TenantID, p.CustomerID)
	return inv, cust, err
}
