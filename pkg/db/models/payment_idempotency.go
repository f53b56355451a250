package models

import (
	"encoding/json"
	"time"
)

// PaymentIdempotency maps a client idempotency key to the result it produced.
type PaymentIdempotency struct {
	ID               int64           `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID         int64           `gorm:"column:tenant_id;not null;uniqueIndex:uq_payment_idempotency_key,priority:1"`
	IdempotencyKey   string          `gorm:"column:idempotency_key;type:varchar(128);not null;uniqueIndex:uq_payment_idempotency_key,priority:2"`
	Operation        string          `gorm:"column:operation;type:varchar(32);not null"`
	RequestHash      string          `gorm:"column:request_hash;type:varchar(64);not null"`
	PaymentID        int64           `gorm:"column:payment_id;not null;index"`
	UserID           int64           `gorm:"column:user_id;not null"`
	ResponseSnapshot json.RawMessage `gorm:"column:response_snapshot;type:jsonb;not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;index"`
}

func (PaymentIdempotency) TableName() string { return "payment_idempotency" }
