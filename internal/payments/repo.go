package payments

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/suragms/BillingApp-sub007/internal/repo"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	"github.com/suragms/BillingApp-sub007/pkg/pagination"
)

// Filter narrows ListPayments; nil fields are ignored.
type Filter struct {
	SaleID     *int64
	CustomerID *int64
	Status     *enums.PaymentStatus
	After      *pagination.Cursor
	Limit      int
}

// Repository persists payment rows and answers the aggregate sums the
// ledger derives invoice and customer state from.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	Get(ctx context.Context, tenantID, paymentID int64) (*models.Payment, error)
	GetForUpdate(ctx context.Context, tenantID, paymentID int64) (*models.Payment, error)
	List(ctx context.Context, tenantID int64, filter Filter) ([]models.Payment, error)
	Update(ctx context.Context, payment *models.Payment, expectedVersion int64, updates map[string]any) error
	Delete(ctx context.Context, tenantID, paymentID int64) error

	SumForSale(ctx context.Context, tenantID, saleID int64, statuses ...enums.PaymentStatus) (decimal.Decimal, error)
	SumForCustomer(ctx context.Context, tenantID, customerID int64, statuses ...enums.PaymentStatus) (decimal.Decimal, error)
	CountForSale(ctx context.Context, tenantID, saleID int64, statuses ...enums.PaymentStatus) (int64, error)
	LatestForSale(ctx context.Context, tenantID, saleID int64, statuses ...enums.PaymentStatus) (*models.Payment, error)
	ExistsSince(ctx context.Context, tenantID, saleID int64, amount decimal.Decimal, since time.Time, statuses ...enums.PaymentStatus) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a payment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.Version == 0 {
		payment.Version = 1
	}
	return r.DB(ctx).Create(payment).Error
}

func (r *repository) Get(ctx context.Context, tenantID, paymentID int64) (*models.Payment, error) {
	return r.find(r.DB(ctx), tenantID, paymentID)
}

func (r *repository) GetForUpdate(ctx context.Context, tenantID, paymentID int64) (*models.Payment, error) {
	return r.find(r.Locked(ctx), tenantID, paymentID)
}

func (r *repository) find(q *gorm.DB, tenantID, paymentID int64) (*models.Payment, error) {
	var payment models.Payment
	if err := q.Where("id = ? AND tenant_id = ?", paymentID, tenantID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) List(ctx context.Context, tenantID int64, filter Filter) ([]models.Payment, error) {
	q := r.DB(ctx).Where("tenant_id = ?", tenantID)
	if filter.SaleID != nil {
		q = q.Where("sale_id = ?", *filter.SaleID)
	}
	if filter.CustomerID != nil {
		q = q.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.After != nil {
		q = q.Where("(payment_date < ? OR (payment_date = ? AND id < ?))", filter.After.At, filter.After.At, filter.After.ID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []models.Payment
	if err := q.Order("payment_date DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Update applies updates if the payment still has expectedVersion. The
// caller's struct is expected to already hold the new field values.
func (r *repository) Update(ctx context.Context, payment *models.Payment, expectedVersion int64, updates map[string]any) error {
	if err := r.UpdateVersioned(ctx, &models.Payment{}, payment.TenantID, payment.ID, expectedVersion, updates); err != nil {
		return err
	}
	payment.Version = expectedVersion + 1
	return nil
}

func (r *repository) Delete(ctx context.Context, tenantID, paymentID int64) error {
	res := r.DB(ctx).Where("id = ? AND tenant_id = ?", paymentID, tenantID).Delete(&models.Payment{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) SumForSale(ctx context.Context, tenantID, saleID int64, statuses ...enums.PaymentStatus) (decimal.Decimal, error) {
	return r.sum(r.forSale(ctx, tenantID, saleID, statuses))
}

func (r *repository) SumForCustomer(ctx context.Context, tenantID, customerID int64, statuses ...enums.PaymentStatus) (decimal.Decimal, error) {
	q := r.DB(ctx).Model(&models.Payment{}).Where("tenant_id = ? AND customer_id = ?", tenantID, customerID)
	return r.sum(withStatuses(q, statuses))
}

func (r *repository) CountForSale(ctx context.Context, tenantID, saleID int64, statuses ...enums.PaymentStatus) (int64, error) {
	var n int64
	err := r.forSale(ctx, tenantID, saleID, statuses).Count(&n).Error
	return n, err
}

// LatestForSale returns the most recently dated payment, or nil when none match.
func (r *repository) LatestForSale(ctx context.Context, tenantID, saleID int64, statuses ...enums.PaymentStatus) (*models.Payment, error) {
	var rows []models.Payment
	err := r.forSale(ctx, tenantID, saleID, statuses).
		Order("payment_date DESC").Order("id DESC").
		Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// ExistsSince reports whether a payment of exactly amount was recorded
// against the sale at or after since.
func (r *repository) ExistsSince(ctx context.Context, tenantID, saleID int64, amount decimal.Decimal, since time.Time, statuses ...enums.PaymentStatus) (bool, error) {
	var n int64
	err := r.forSale(ctx, tenantID, saleID, statuses).
		Where("amount = ? AND created_at >= ?", amount, since).
		Count(&n).Error
	return n > 0, err
}

func (r *repository) forSale(ctx context.Context, tenantID, saleID int64, statuses []enums.PaymentStatus) *gorm.DB {
	q := r.DB(ctx).Model(&models.Payment{}).Where("tenant_id = ? AND sale_id = ?", tenantID, saleID)
	return withStatuses(q, statuses)
}

func withStatuses(q *gorm.DB, statuses []enums.PaymentStatus) *gorm.DB {
	if len(statuses) == 0 {
		return q
	}
	return q.Where("status IN ?", statuses)
}

func (r *repository) sum(q *gorm.DB) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if err := q.Select("COALESCE(SUM(amount), 0)").Row().Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total.Decimal.Round(2), nil
}
