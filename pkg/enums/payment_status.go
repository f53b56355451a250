package enums

import "fmt"

// PaymentStatus is the ledger lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusCleared  PaymentStatus = "CLEARED"
	PaymentStatusReturned PaymentStatus = "RETURNED"
	PaymentStatusVoid     PaymentStatus = "VOID"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusCleared,
	PaymentStatusReturned,
	PaymentStatusVoid,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is a final reversal.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentStatusReturned, PaymentStatusVoid:
		return true
	case PaymentStatusPending, PaymentStatusCleared:
		return false
	}
	return false
}

// IsActive reports whether the payment still claims part of an invoice's
// outstanding amount.
func (p PaymentStatus) IsActive() bool {
	switch p {
	case PaymentStatusPending, PaymentStatusCleared:
		return true
	case PaymentStatusReturned, PaymentStatusVoid:
		return false
	}
	return false
}

// CanTransitionTo reports whether moving from p to next is allowed. Staying in
// the same state is always allowed.
func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !next.IsValid() {
		return false
	}
	if p == next {
		return true
	}
	switch p {
	case PaymentStatusPending:
		return next == PaymentStatusCleared || next.IsTerminal()
	case PaymentStatusCleared:
		return next == PaymentStatusPending || next.IsTerminal()
	case PaymentStatusReturned, PaymentStatusVoid:
		return false
	}
	return false
}

// ActivePaymentStatuses lists the statuses counted against outstanding.
func ActivePaymentStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentStatusPending, PaymentStatusCleared}
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
