package controllers

import (
	"net/http"

	"github.com/suragms/BillingApp-sub007/api/responses"
	"github.com/suragms/BillingApp-sub007/api/validators"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
)

func GetCustomer(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := identity(w, r, logg)
		if !ok {
			return
		}
		customerID, err := validators.ParsePathID(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.GetCustomerSummary(r.Context(), tenantID, customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// RecalculateBalance rebuilds a customer's balance from sales and cleared
// payments and reports the drift it corrected.
func RecalculateBalance(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, userID, ok := identity(w, r, logg)
		if !ok {
			return
		}
		customerID, err := validators.ParsePathID(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ReconcileCustomer(r.Context(), tenantID, customerID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"customerId": result.CustomerID,
			"previous":   result.Previous,
			"balance":    result.Balance,
			"drifted":    result.Drifted(),
		})
	}
}

func GetInvoice(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := identity(w, r, logg)
		if !ok {
			return
		}
		invoiceID, err := validators.ParsePathID(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.GetInvoiceSummary(r.Context(), tenantID, invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
