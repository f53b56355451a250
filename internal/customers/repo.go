package customers

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/suragms/BillingApp-sub007/internal/repo"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
)

// Repository reads customers and persists the balance projection.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, tenantID, customerID int64) (*models.Customer, error)
	GetForUpdate(ctx context.Context, tenantID, customerID int64) (*models.Customer, error)
	Save(ctx context.Context, customer *models.Customer) error
	ListPage(ctx context.Context, tenantID *int64, afterID int64, limit int) ([]models.Customer, error)
}

type repository struct {
	repo.Base
	now func() time.Time
}

// NewRepository builds a customer repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db), now: func() time.Time { return time.Now().UTC() }}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Base.WithTx(tx), now: r.now}
}

func (r *repository) Get(ctx context.Context, tenantID, customerID int64) (*models.Customer, error) {
	return r.find(r.DB(ctx), tenantID, customerID)
}

func (r *repository) GetForUpdate(ctx context.Context, tenantID, customerID int64) (*models.Customer, error) {
	return r.find(r.Locked(ctx), tenantID, customerID)
}

func (r *repository) find(q *gorm.DB, tenantID, customerID int64) (*models.Customer, error) {
	var customer models.Customer
	if err := q.Where("id = ? AND tenant_id = ?", customerID, tenantID).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// Save persists Balance and LastActivity if the row still has the version the
// caller read.
func (r *repository) Save(ctx context.Context, customer *models.Customer) error {
	now := r.now()
	err := r.UpdateVersioned(ctx, &models.Customer{}, customer.TenantID, customer.ID, customer.Version, map[string]any{
		"balance":       customer.Balance,
		"last_activity": customer.LastActivity,
		"updated_at":    now,
	})
	if err != nil {
		return err
	}
	customer.Version++
	customer.UpdatedAt = now
	return nil
}

// ListPage returns customers ordered by id after the given cursor. A nil
// tenantID pages across all tenants.
func (r *repository) ListPage(ctx context.Context, tenantID *int64, afterID int64, limit int) ([]models.Customer, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.DB(ctx).Where("id > ?", afterID)
	if tenantID != nil {
		q = q.Where("tenant_id = ?", *tenantID)
	}
	var rows []models.Customer
	if err := q.Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
