package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/suragms/BillingApp-sub007/pkg/enums"
)

// Payment is a single tender recorded against an invoice and/or customer.
type Payment struct {
	ID          int64               `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID    int64               `gorm:"column:tenant_id;not null;index:idx_payments_tenant_sale,priority:1;index:idx_payments_tenant_customer,priority:1"`
	SaleID      *int64              `gorm:"column:sale_id;index:idx_payments_tenant_sale,priority:2"`
	CustomerID  *int64              `gorm:"column:customer_id;index:idx_payments_tenant_customer,priority:2"`
	Amount      decimal.Decimal     `gorm:"column:amount;type:numeric(18,2);not null"`
	Mode        enums.PaymentMode   `gorm:"column:mode;type:varchar(16);not null"`
	Status      enums.PaymentStatus `gorm:"column:status;type:varchar(16);not null"`
	PaymentDate time.Time           `gorm:"column:payment_date;not null"`
	Reference   *string             `gorm:"column:reference"`
	CreatedBy   int64               `gorm:"column:created_by;not null"`
	UpdatedBy   *int64              `gorm:"column:updated_by"`
	Version     int64               `gorm:"column:version;not null;default:1"`
	CreatedAt   time.Time           `gorm:"column:created_at"`
	UpdatedAt   time.Time           `gorm:"column:updated_at"`
}

func (Payment) TableName() string { return "payments" }
