package enums

import "fmt"

// PaymentMode is the instrument a payment was tendered with.
type PaymentMode string

const (
	PaymentModeCash   PaymentMode = "CASH"
	PaymentModeCheque PaymentMode = "CHEQUE"
	PaymentModeOnline PaymentMode = "ONLINE"
	PaymentModeCredit PaymentMode = "CREDIT"
)

var validPaymentModes = []PaymentMode{
	PaymentModeCash,
	PaymentModeCheque,
	PaymentModeOnline,
	PaymentModeCredit,
}

// PaymentModes lists every accepted mode.
func PaymentModes() []PaymentMode {
	return append([]PaymentMode(nil), validPaymentModes...)
}

// String implements fmt.Stringer.
func (m PaymentMode) String() string {
	return string(m)
}

// IsValid reports whether the value is a known PaymentMode.
func (m PaymentMode) IsValid() bool {
	for _, candidate := range validPaymentModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// InitialStatus returns the status a new payment in this mode starts in.
// Cheques and credit wait for confirmation; cash and online settle at once.
func (m PaymentMode) InitialStatus() (PaymentStatus, error) {
	switch m {
	case PaymentModeCash, PaymentModeOnline:
		return PaymentStatusCleared, nil
	case PaymentModeCheque, PaymentModeCredit:
		return PaymentStatusPending, nil
	}
	return "", fmt.Errorf("invalid payment mode %q", m)
}

// ParsePaymentMode converts raw input into a PaymentMode.
func ParsePaymentMode(value string) (PaymentMode, error) {
	for _, candidate := range validPaymentModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment mode %q", value)
}
