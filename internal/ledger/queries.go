package ledger

import (
	"context"

	"github.com/suragms/BillingApp-sub007/internal/payments"
	"github.com/suragms/BillingApp-sub007/internal/repo"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/pagination"
)

// GetPayment returns one payment of the tenant.
func (e *Engine) GetPayment(ctx context.Context, tenantID, paymentID int64) (*PaymentView, error) {
	p, err := e.payments.Get(ctx, tenantID, paymentID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, notFoundError("payment %d not found", paymentID)
		}
		return nil, e.translate(ctx, "get_payment", err)
	}
	view := toPaymentView(p)
	return &view, nil
}

// ListPayments returns one page of the tenant's payments, newest first.
func (e *Engine) ListPayments(ctx context.Context, tenantID int64, filter PaymentFilter) (*PaymentPage, error) {
	after, err := pagination.ParseCursor(filter.Cursor)
	if err != nil {
		return nil, validationError("invalid cursor")
	}
	limit := pagination.NormalizeLimit(filter.Limit)
	rows, err := e.payments.List(ctx, tenantID, payments.Filter{
		SaleID:     filter.SaleID,
		CustomerID: filter.CustomerID,
		Status:     filter.Status,
		After:      after,
		Limit:      pagination.LimitWithBuffer(limit),
	})
	if err != nil {
		return nil, e.translate(ctx, "list_payments", err)
	}
	rows, next := pagination.Trim(rows, limit, func(p models.Payment) pagination.Cursor {
		return pagination.Cursor{At: p.PaymentDate, ID: p.ID}
	})
	page := &PaymentPage{Items: make([]PaymentView, 0, len(rows)), NextCursor: next}
	for i := range rows {
		page.Items = append(page.Items, toPaymentView(&rows[i]))
	}
	return page, nil
}

// GetInvoiceSummary reports an invoice's stored payment state and its
// outstanding amount.
func (e *Engine) GetInvoiceSummary(ctx context.Context, tenantID, saleID int64) (*InvoiceSummary, error) {
	sale, err := e.invoices.Get(ctx, tenantID, saleID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, notFoundError("invoice %d not found", saleID)
		}
		return nil, e.translate(ctx, "get_invoice", err)
	}
	out, err := e.outstanding(ctx, unit{payments: e.payments}, sale)
	if err != nil {
		return nil, e.translate(ctx, "get_invoice", err)
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

// GetCustomerSummary returns the customer's stored balance projection.
func (e *Engine) GetCustomerSummary(ctx context.Context, tenantID, customerID int64) (*CustomerSummary, error) {
	c, err := e.customers.Get(ctx, tenantID, customerID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, notFoundError("customer %d not found", customerID)
		}
		return nil, e.translate(ctx, "get_customer", err)
	}
	return toCustomerSummary(c), nil
}
