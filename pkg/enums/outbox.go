package enums

import "fmt"

// OutboxAggregateType identifies the aggregate an audit event belongs to.
type OutboxAggregateType string

const (
	AggregatePayment  OutboxAggregateType = "payment"
	AggregateInvoice  OutboxAggregateType = "invoice"
	AggregateCustomer OutboxAggregateType = "customer"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePayment,
	AggregateInvoice,
	AggregateCustomer,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the audit action recorded for a ledger mutation.
type OutboxEventType string

const (
	EventPaymentCreated              OutboxEventType = "payment_created"
	EventPaymentStatusChanged        OutboxEventType = "payment_status_changed"
	EventPaymentEdited               OutboxEventType = "payment_edited"
	EventPaymentDeleted              OutboxEventType = "payment_deleted"
	EventPaymentAllocated            OutboxEventType = "payment_allocated"
	EventCustomerBalanceRecalculated OutboxEventType = "customer_balance_recalculated"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentCreated,
	EventPaymentStatusChanged,
	EventPaymentEdited,
	EventPaymentDeleted,
	EventPaymentAllocated,
	EventCustomerBalanceRecalculated,
}

// AggregateFor returns the aggregate type an event is keyed on.
func (e OutboxEventType) AggregateFor() OutboxAggregateType {
	if e == EventCustomerBalanceRecalculated {
		return AggregateCustomer
	}
	return AggregatePayment
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
