package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/suragms/BillingApp-sub007/pkg/enums"
)

// Sale is the ledger-relevant projection of an invoice. GrandTotal is owned by
// the sales subsystem; the payment-derived fields are written by the ledger.
type Sale struct {
	ID              int64                      `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID        int64                      `gorm:"column:tenant_id;not null;index"`
	CustomerID      *int64                     `gorm:"column:customer_id;index"`
	InvoiceNo       string                     `gorm:"column:invoice_no;not null"`
	GrandTotal      decimal.Decimal            `gorm:"column:grand_total;type:numeric(18,2);not null"`
	PaidAmount      decimal.Decimal            `gorm:"column:paid_amount;type:numeric(18,2);not null;default:0"`
	PaymentStatus   enums.InvoicePaymentStatus `gorm:"column:payment_status;type:varchar(16);not null;default:'Pending'"`
	LastPaymentDate *time.Time                 `gorm:"column:last_payment_date"`
	IsDeleted       bool                       `gorm:"column:is_deleted;not null;default:false"`
	Version         int64                      `gorm:"column:version;not null;default:1"`
	CreatedAt       time.Time                  `gorm:"column:created_at"`
	UpdatedAt       time.Time                  `gorm:"column:updated_at"`
}

func (Sale) TableName() string { return "sales" }
