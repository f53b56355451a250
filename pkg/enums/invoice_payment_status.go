package enums

import "fmt"

// InvoicePaymentStatus summarises how much of an invoice has been settled.
type InvoicePaymentStatus string

const (
	InvoicePaymentPending InvoicePaymentStatus = "Pending"
	InvoicePaymentPartial InvoicePaymentStatus = "Partial"
	InvoicePaymentPaid    InvoicePaymentStatus = "Paid"
)

var validInvoicePaymentStatuses = []InvoicePaymentStatus{
	InvoicePaymentPending,
	InvoicePaymentPartial,
	InvoicePaymentPaid,
}

// String implements fmt.Stringer.
func (s InvoicePaymentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known InvoicePaymentStatus.
func (s InvoicePaymentStatus) IsValid() bool {
	for _, candidate := range validInvoicePaymentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseInvoicePaymentStatus converts raw input into an InvoicePaymentStatus.
func ParseInvoicePaymentStatus(value string) (InvoicePaymentStatus, error) {
	for _, candidate := range validInvoicePaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice payment status %q", value)
}
