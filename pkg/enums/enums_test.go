package enums

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitialStatusByMode(t *testing.T) {
	cases := map[PaymentMode]PaymentStatus{
		PaymentModeCash:   PaymentStatusCleared,
		PaymentModeOnline: PaymentStatusCleared,
		PaymentModeCheque: PaymentStatusPending,
		PaymentModeCredit: PaymentStatusPending,
	}
	for mode, want := range cases {
		got, err := mode.InitialStatus()
		require.NoError(t, err)
		require.Equal(t, want, got, "mode %s", mode)
	}

	_, err := PaymentMode("BARTER").InitialStatus()
	require.Error(t, err)
}

func TestPaymentStatusTransitions(t *testing.T) {
	allowed := [][2]PaymentStatus{
		{PaymentStatusPending, PaymentStatusCleared},
		{PaymentStatusCleared, PaymentStatusPending},
		{PaymentStatusPending, PaymentStatusVoid},
		{PaymentStatusPending, PaymentStatusReturned},
		{PaymentStatusCleared, PaymentStatusVoid},
		{PaymentStatusCleared, PaymentStatusReturned},
		{PaymentStatusVoid, PaymentStatusVoid},
	}
	for _, tr := range allowed {
		require.True(t, tr[0].CanTransitionTo(tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]PaymentStatus{
		{PaymentStatusVoid, PaymentStatusCleared},
		{PaymentStatusVoid, PaymentStatusPending},
		{PaymentStatusReturned, PaymentStatusCleared},
		{PaymentStatusReturned, PaymentStatusVoid},
		{PaymentStatusPending, PaymentStatus("SETTLED")},
	}
	for _, tr := range denied {
		require.False(t, tr[0].CanTransitionTo(tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestPaymentStatusClassification(t *testing.T) {
	require.True(t, PaymentStatusPending.IsActive())
	require.True(t, PaymentStatusCleared.IsActive())
	require.False(t, PaymentStatusVoid.IsActive())
	require.True(t, PaymentStatusReturned.IsTerminal())
	require.False(t, PaymentStatusCleared.IsTerminal())
}

func TestParseHelpers(t *testing.T) {
	status, err := ParsePaymentStatus("CLEARED")
	require.NoError(t, err)
	require.Equal(t, PaymentStatusCleared, status)

	_, err = ParsePaymentMode("cash")
	require.Error(t, err)

	inv, err := ParseInvoicePaymentStatus("Partial")
	require.NoError(t, err)
	require.Equal(t, InvoicePaymentPartial, inv)

	event, err := ParseOutboxEventType("payment_deleted")
	require.NoError(t, err)
	require.Equal(t, AggregatePayment, event.AggregateFor())
	require.Equal(t, AggregateCustomer, EventCustomerBalanceRecalculated.AggregateFor())
}
