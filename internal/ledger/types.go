package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
)

// CreatePaymentRequest is the payment intent submitted by a caller.
type CreatePaymentRequest struct {
	SaleID      *int64            `json:"saleId,omitempty"`
	CustomerID  *int64            `json:"customerId,omitempty"`
	Amount      decimal.Decimal   `json:"amount"`
	Mode        enums.PaymentMode `json:"mode"`
	Reference   *string           `json:"reference,omitempty"`
	PaymentDate *time.Time        `json:"paymentDate,omitempty"`
}

// EditPaymentRequest carries the fields to change; nil fields are kept.
type EditPaymentRequest struct {
	Amount      *decimal.Decimal   `json:"amount,omitempty"`
	Mode        *enums.PaymentMode `json:"mode,omitempty"`
	Reference   *string            `json:"reference,omitempty"`
	PaymentDate *time.Time         `json:"paymentDate,omitempty"`
}

func (r EditPaymentRequest) empty() bool {
	return r.Amount == nil && r.Mode == nil && r.Reference == nil && r.PaymentDate == nil
}

// Allocation asks for part of an allocated payment to go to one invoice.
type Allocation struct {
	InvoiceID int64           `json:"invoiceId"`
	Amount    decimal.Decimal `json:"amount"`
}

// AllocatePaymentRequest splits one payment across a customer's invoices in
// the given order.
type AllocatePaymentRequest struct {
	CustomerID  int64             `json:"customerId"`
	TotalAmount decimal.Decimal   `json:"totalAmount"`
	Mode        enums.PaymentMode `json:"mode"`
	Reference   *string           `json:"reference,omitempty"`
	PaymentDate *time.Time        `json:"paymentDate,omitempty"`
	Allocations []Allocation      `json:"allocations"`
}

// PaymentView is the caller-facing shape of a payment row.
type PaymentView struct {
	ID          int64               `json:"id"`
	SaleID      *int64              `json:"saleId,omitempty"`
	CustomerID  *int64              `json:"customerId,omitempty"`
	Amount      decimal.Decimal     `json:"amount"`
	Mode        enums.PaymentMode   `json:"mode"`
	Status      enums.PaymentStatus `json:"status"`
	PaymentDate time.Time           `json:"paymentDate"`
	Reference   *string             `json:"reference,omitempty"`
	CreatedBy   int64               `json:"createdBy"`
	Version     int64               `json:"version"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// InvoiceSummary reports an invoice's payment-derived state.
type InvoiceSummary struct {
	ID              int64                      `json:"id"`
	InvoiceNo       string                     `json:"invoiceNo"`
	GrandTotal      decimal.Decimal            `json:"grandTotal"`
	PaidAmount      decimal.Decimal            `json:"paidAmount"`
	Outstanding     decimal.Decimal            `json:"outstanding"`
	PaymentStatus   enums.InvoicePaymentStatus `json:"paymentStatus"`
	LastPaymentDate *time.Time                 `json:"lastPaymentDate,omitempty"`
}

// CustomerSummary reports a customer's balance projection.
type CustomerSummary struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Balance      decimal.Decimal `json:"balance"`
	LastActivity *time.Time      `json:"lastActivity,omitempty"`
}

// CreatePaymentResult is returned by CreatePayment and replayed verbatim for
// repeated idempotency keys.
type CreatePaymentResult struct {
	Payment  PaymentView      `json:"payment"`
	Invoice  *InvoiceSummary  `json:"invoice,omitempty"`
	Customer *CustomerSummary `json:"customer,omitempty"`
}

// AllocatePaymentResult holds the first payment created, every payment
// created, and the customer's balance afterwards.
type AllocatePaymentResult struct {
	Payment  PaymentView     `json:"payment"`
	Payments []PaymentView   `json:"payments"`
	Customer CustomerSummary `json:"customer"`
}

// ReconcileResult reports what an authoritative recalculation changed.
type ReconcileResult struct {
	CustomerID int64           `json:"customerId"`
	Previous   decimal.Decimal `json:"previous"`
	Balance    decimal.Decimal `json:"balance"`
}

// Drifted reports whether the stored balance disagreed with the source rows.
func (r ReconcileResult) Drifted() bool {
	return !r.Previous.Equal(r.Balance)
}

// PaymentFilter narrows ListPayments. Cursor is the NextCursor of the
// previous page.
type PaymentFilter struct {
	SaleID     *int64
	CustomerID *int64
	Status     *enums.PaymentStatus
	Limit      int
	Cursor     string
}

// PaymentPage is one page of ListPayments, newest first.
type PaymentPage struct {
	Items      []PaymentView `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

func toPaymentView(p *models.Payment) PaymentView {
	return PaymentView{
		ID:          p.ID,
		SaleID:      p.SaleID,
		CustomerID:  p.CustomerID,
		Amount:      p.Amount.Round(2),
		Mode:        p.Mode,
		Status:      p.Status,
		PaymentDate: p.PaymentDate.UTC(),
		Reference:   p.Reference,
		CreatedBy:   p.CreatedBy,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

func toCustomerSummary(c *models.Customer) *CustomerSummary {
	return &CustomerSummary{
		ID:           c.ID,
		Name:         c.Name,
		Balance:      c.Balance.Round(2),
		LastActivity: utcPtr(c.LastActivity),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
