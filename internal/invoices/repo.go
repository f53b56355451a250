package invoices

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/suragms/BillingApp-sub007/internal/repo"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
)

// Repository reads invoices and persists their payment-derived fields.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, tenantID, saleID int64) (*models.Sale, error)
	GetForUpdate(ctx context.Context, tenantID, saleID int64) (*models.Sale, error)
	Save(ctx context.Context, sale *models.Sale) error
	SumGrandTotalForCustomer(ctx context.Context, tenantID, customerID int64) (decimal.Decimal, error)
}

type repository struct {
	repo.Base
	now func() time.Time
}

// NewRepository builds an invoice repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db), now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Base.WithTx(tx), now: r.now}
}

// Get returns an undeleted invoice of the tenant or gorm.ErrRecordNotFound.
func (r *repository) Get(ctx context.Context, tenantID, saleID int64) (*models.Sale, error) {
	return r.find(r.DB(ctx), tenantID, saleID)
}

// GetForUpdate is Get under a row lock held until the transaction ends.
func (r *repository) GetForUpdate(ctx context.Context, tenantID, saleID int64) (*models.Sale, error) {
	return r.find(r.Locked(ctx), tenantID, saleID)
}

func (r *repository) find(q *gorm.DB, tenantID, saleID int64) (*models.Sale, error) {
	var sale models.Sale
	err := q.Where("id = ? AND tenant_id = ? AND is_deleted = ?", saleID, tenantID, false).
		First(&sale).Error
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// Save writes PaidAmount, PaymentStatus and LastPaymentDate, guarded by the
// version the caller read. On success sale.Version is advanced.
func (r *repository) Save(ctx context.Context, sale *models.Sale) error {
	now := r.now()
	err := r.UpdateVersioned(ctx, &models.Sale{}, sale.TenantID, sale.ID, sale.Version, map[string]any{
		"paid_amount":       sale.PaidAmount,
		"payment_status":    sale.PaymentStatus,
		"last_payment_date": sale.LastPaymentDate,
		"updated_at":        now,
	})
	if err != nil {
		return err
	}
	sale.Version++
	sale.UpdatedAt = now
	return nil
}

// SumGrandTotalForCustomer totals every undeleted invoice billed to the customer.
func (r *repository) SumGrandTotalForCustomer(ctx context.Context, tenantID, customerID int64) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.DB(ctx).Model(&models.Sale{}).
		Select("COALESCE(SUM(grand_total), 0)").
		Where("tenant_id = ? AND customer_id = ? AND is_deleted = ?", tenantID, customerID, false).
		Row().Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Decimal.Round(2), nil
}
