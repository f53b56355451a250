package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer carries the balance projection maintained by the ledger.
type Customer struct {
	ID           int64           `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID     int64           `gorm:"column:tenant_id;not null;index"`
	Name         string          `gorm:"column:name;not null"`
	Balance      decimal.Decimal `gorm:"column:balance;type:numeric(18,2);not null;default:0"`
	LastActivity *time.Time      `gorm:"column:last_activity"`
	Version      int64           `gorm:"column:version;not null;default:1"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (Customer) TableName() string { return "customers" }
