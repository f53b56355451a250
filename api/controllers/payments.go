package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suragms/BillingApp-sub007/api/middleware"
	"github.com/suragms/BillingApp-sub007/api/responses"
	"github.com/suragms/BillingApp-sub007/api/validators"
	"github.com/suragms/BillingApp-sub007/internal/ledger"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	pkgerrors "github.com/suragms/BillingApp-sub007/pkg/errors"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
	"github.com/suragms/BillingApp-sub007/pkg/pagination"
)

const maxReferenceLen = 120

// LedgerService is the subset of the ledger engine the HTTP layer drives.
type LedgerService interface {
	CreatePayment(ctx context.Context, req ledger.CreatePaymentRequest, userID, tenantID int64, idempotencyKey string) (*ledger.CreatePaymentResult, error)
	AllocatePayment(ctx context.Context, req ledger.AllocatePaymentRequest, userID, tenantID int64, idempotencyKey string) (*ledger.AllocatePaymentResult, error)
	TransitionStatus(ctx context.Context, paymentID int64, next enums.PaymentStatus, userID, tenantID int64) (bool, error)
	EditPayment(ctx context.Context, paymentID int64, changes ledger.EditPaymentRequest, userID, tenantID int64) (*ledger.PaymentView, error)
	DeletePayment(ctx context.Context, paymentID, userID, tenantID int64) (bool, error)
	ReconcileCustomer(ctx context.Context, tenantID, customerID, userID int64) (ledger.ReconcileResult, error)
	GetPayment(ctx context.Context, tenantID, paymentID int64) (*ledger.PaymentView, error)
	ListPayments(ctx context.Context, tenantID int64, filter ledger.PaymentFilter) (*ledger.PaymentPage, error)
	GetInvoiceSummary(ctx context.Context, tenantID, saleID int64) (*ledger.InvoiceSummary, error)
	GetCustomerSummary(ctx context.Context, tenantID, customerID int64) (*ledger.CustomerSummary, error)
}

type createPaymentBody struct {
	SaleID      *int64          `json:"saleId" validate:"omitempty,gt=0"`
	CustomerID  *int64          `json:"customerId" validate:"omitempty,gt=0"`
	Amount      decimal.Decimal `json:"amount" validate:"money"`
	Mode        string          `json:"mode" validate:"required,payment_mode"`
	Reference   *string         `json:"reference" validate:"omitempty,max=120"`
	PaymentDate *time.Time      `json:"paymentDate"`
}

func (b createPaymentBody) toRequest() ledger.CreatePaymentRequest {
	return ledger.CreatePaymentRequest{
		SaleID:      b.SaleID,
		CustomerID:  b.CustomerID,
		Amount:      b.Amount,
		Mode:        enums.PaymentMode(b.Mode),
		Reference:   sanitizeReference(b.Reference),
		PaymentDate: b.PaymentDate,
	}
}

type allocationBody struct {
	InvoiceID int64           `json:"invoiceId" validate:"gt=0"`
	Amount    decimal.Decimal `json:"amount" validate:"money"`
}

type allocatePaymentBody struct {
	CustomerID  int64            `json:"customerId" validate:"gt=0"`
	TotalAmount decimal.Decimal  `json:"totalAmount" validate:"money"`
	Mode        string           `json:"mode" validate:"required,payment_mode"`
	Reference   *string          `json:"reference" validate:"omitempty,max=120"`
	PaymentDate *time.Time       `json:"paymentDate"`
	Allocations []allocationBody `json:"allocations" validate:"required,min=1,dive"`
}

func (b allocatePaymentBody) toRequest() ledger.AllocatePaymentRequest {
	allocations := make([]ledger.Allocation, 0, len(b.Allocations))
	for _, a := range b.Allocations {
		allocations = append(allocations, ledger.Allocation{InvoiceID: a.InvoiceID, Amount: a.Amount})
	}
	return ledger.AllocatePaymentRequest{
		CustomerID:  b.CustomerID,
		TotalAmount: b.TotalAmount,
		Mode:        enums.PaymentMode(b.Mode),
		Reference:   sanitizeReference(b.Reference),
		PaymentDate: b.PaymentDate,
		Allocations: allocations,
	}
}

type editPaymentBody struct {
	Amount      *decimal.Decimal `json:"amount" validate:"omitempty,money"`
	Mode        *string          `json:"mode" validate:"omitempty,payment_mode"`
	Reference   *string          `json:"reference" validate:"omitempty,max=120"`
	PaymentDate *time.Time       `json:"paymentDate"`
}

func (b editPaymentBody) toRequest() ledger.EditPaymentRequest {
	req := ledger.EditPaymentRequest{
		Amount:      b.Amount,
		Reference:   sanitizeReference(b.Reference),
		PaymentDate: b.PaymentDate,
	}
	if b.Mode != nil {
		mode := enums.PaymentMode(*b.Mode)
		req.Mode = &mode
	}
	return req
}

type transitionBody struct {
	Status string `json:"status" validate:"required,payment_status"`
}

type transitionResponse struct {
	PaymentID int64               `json:"paymentId"`
	Status    enums.PaymentStatus `json:"status"`
	Applied   bool                `json:"applied"`
}

// CreatePayment records a payment. A repeated Idempotency-Key replays the
// first response.
func CreatePayment(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, userID, ok := identity(w, r, logg)
		if !ok {
			return
		}
		var body createPaymentBody
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CreatePayment(r.Context(), body.toRequest(), userID, tenantID, middleware.IdempotencyKeyFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// AllocatePayment splits one tendered amount across a customer's invoices.
func AllocatePayment(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, userID, ok := identity(w, r, logg)
		if !ok {
			return
		}
		var body allocatePaymentBody
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.AllocatePayment(r.Context(), body.toRequest(), userID, tenantID, middleware.IdempotencyKeyFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func GetPayment(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := identity(w, r, logg)
		if !ok {
			return
		}
		paymentID, err := validators.ParsePathID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.GetPayment(r.Context(), tenantID, paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// ListPayments filters by saleId, customerId and status query parameters and
// pages with limit and cursor.
func ListPayments(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := identity(w, r, logg)
		if !ok {
			return
		}
		filter, err := parsePaymentFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListPayments(r.Context(), tenantID, filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func EditPayment(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, userID, ok := identity(w, r, logg)
		if !ok {
			return
		}
		paymentID, err := validators.ParsePathID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body editPaymentBody
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.EditPayment(r.Context(), paymentID, body.toRequest(), userID, tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func TransitionPayment(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, userID, ok := identity(w, r, logg)
		if !ok {
			return
		}
		paymentID, err := validators.ParsePathID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body transitionBody
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		next := enums.PaymentStatus(body.Status)
		applied, err := svc.TransitionStatus(r.Context(), paymentID, next, userID, tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, transitionResponse{PaymentID: paymentID, Status: next, Applied: applied})
	}
}

func DeletePayment(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, userID, ok := identity(w, r, logg)
		if !ok {
			return
		}
		paymentID, err := validators.ParsePathID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deleted, err := svc.DeletePayment(r.Context(), paymentID, userID, tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"paymentId": paymentID, "deleted": deleted})
	}
}

func parsePaymentFilter(r *http.Request) (ledger.PaymentFilter, error) {
	var filter ledger.PaymentFilter
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	filter.Cursor = strings.TrimSpace(r.URL.Query().Get("cursor"))
	if filter.SaleID, err = validators.ParseQueryID(r, "saleId"); err != nil {
		return filter, err
	}
	if filter.CustomerID, err = validators.ParseQueryID(r, "customerId"); err != nil {
		return filter, err
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := enums.ParsePaymentStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").WithDetails(map[string]any{"field": "status"})
		}
		filter.Status = &status
	}
	return filter, nil
}

func identity(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (int64, int64, bool) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	userID := middleware.UserIDFromContext(r.Context())
	if tenantID <= 0 || userID <= 0 {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "tenant context missing"))
		return 0, 0, false
	}
	return tenantID, userID, true
}

func sanitizeReference(ref *string) *string {
	if ref == nil {
		return nil
	}
	cleaned := validators.SanitizeString(*ref, maxReferenceLen)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
