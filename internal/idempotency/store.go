// Package idempotency maps client-supplied keys to the ledger result they
// produced. The database row is authoritative; Redis, when configured, caches
// rows for fast replay.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/suragms/BillingApp-sub007/internal/repo"
	dbpkg "github.com/suragms/BillingApp-sub007/pkg/db"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
	"github.com/suragms/BillingApp-sub007/pkg/redis"
)

// Operations a key can be recorded for.
const (
	OperationCreate   = "create"
	OperationAllocate = "allocate"
)

// ErrKeyExists is returned by Claim when another writer already owns the key.
var ErrKeyExists = errors.New("idempotency key already recorded")

// Cache is the subset of the redis client used for read-through caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	PaymentIdempotencyKey(tenantID int64, key string) string
}

// Store persists idempotency records.
type Store struct {
	base  repo.Base
	cache Cache
	ttl   time.Duration
	logg  *logger.Logger
}

// NewStore builds a store. cache may be nil.
func NewStore(db *gorm.DB, cache Cache, ttl time.Duration, logg *logger.Logger) *Store {
	return &Store{base: repo.NewBase(db), cache: cache, ttl: ttl, logg: logg}
}

// WithTx binds database writes to tx. Cache calls are unaffected.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	if tx == nil {
		return s
	}
	clone := *s
	clone.base = s.base.WithTx(tx)
	return &clone
}

// Lookup returns the record for (tenantID, key) or nil when the key is unused.
func (s *Store) Lookup(ctx context.Context, tenantID int64, key string) (*models.PaymentIdempotency, error) {
	if rec := s.fromCache(ctx, tenantID, key); rec != nil {
		return rec, nil
	}

	var rec models.PaymentIdempotency
	err := s.base.DB(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		First(&rec).Error
	if repo.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, &rec)
	return &rec, nil
}

// Claim reserves rec's key in the transaction the store is bound to. A
// concurrent writer that already holds the key yields ErrKeyExists; the
// caller must roll back and Lookup again once the holder has committed.
// Claims are never cached: the transaction may still roll back.
func (s *Store) Claim(ctx context.Context, rec *models.PaymentIdempotency) error {
	if len(rec.ResponseSnapshot) == 0 {
		rec.ResponseSnapshot = json.RawMessage(`{}`)
	}
	if err := s.base.DB(ctx).Create(rec).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return ErrKeyExists
		}
		return err
	}
	return nil
}

// Complete stores the payment and response produced under a claimed key.
func (s *Store) Complete(ctx context.Context, rec *models.PaymentIdempotency) error {
	if rec.ID == 0 || rec.PaymentID <= 0 {
		return errors.New("idempotency claim is not complete")
	}
	res := s.base.DB(ctx).Model(&models.PaymentIdempotency{}).
		Where("id = ? AND tenant_id = ?", rec.ID, rec.TenantID).
		Updates(map[string]any{
			"payment_id":        rec.PaymentID,
			"response_snapshot": rec.ResponseSnapshot,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("idempotency claim %d not found", rec.ID)
	}
	return nil
}

// Remember caches a committed record. Cache failures are logged only.
func (s *Store) Remember(ctx context.Context, rec *models.PaymentIdempotency) {
	s.toCache(ctx, rec)
}

// Pending reports whether rec is a claim whose result was never stored.
func Pending(rec *models.PaymentIdempotency) bool {
	return rec != nil && rec.PaymentID == 0
}

// DeleteByPayment removes every mapping that points at the payment.
func (s *Store) DeleteByPayment(ctx context.Context, tenantID, paymentID int64) error {
	var keys []string
	if err := s.base.DB(ctx).Model(&models.PaymentIdempotency{}).
		Where("tenant_id = ? AND payment_id = ?", tenantID, paymentID).
		Pluck("idempotency_key", &keys).Error; err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.base.DB(ctx).
		Where("tenant_id = ? AND payment_id = ?", tenantID, paymentID).
		Delete(&models.PaymentIdempotency{}).Error; err != nil {
		return err
	}
	s.evict(ctx, tenantID, keys...)
	return nil
}

// PurgeBefore drops records created before cutoff and returns how many went.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.base.DB(ctx).Where("created_at < ?", cutoff).Delete(&models.PaymentIdempotency{})
	return res.RowsAffected, res.Error
}

// HashRequest fingerprints a request body so a reused key with a different
// payload can be told apart from a genuine retry.
func HashRequest(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Store) fromCache(ctx context.Context, tenantID int64, key string) *models.PaymentIdempotency {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, s.cache.PaymentIdempotencyKey(tenantID, key))
	if err != nil {
		if !redis.IsMiss(err) {
			s.warn(ctx, "idempotency cache read failed", err)
		}
		return nil
	}
	var rec models.PaymentIdempotency
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.warn(ctx, "idempotency cache entry unreadable", err)
		return nil
	}
	return &rec
}

func (s *Store) toCache(ctx context.Context, rec *models.PaymentIdempotency) {
	if s.cache == nil || Pending(rec) {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cache.PaymentIdempotencyKey(rec.TenantID, rec.IdempotencyKey), string(raw), s.ttl); err != nil {
		s.warn(ctx, "idempotency cache write failed", err)
	}
}

func (s *Store) evict(ctx context.Context, tenantID int64, keys ...string) {
	if s.cache == nil {
		return
	}
	cacheKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		cacheKeys = append(cacheKeys, s.cache.PaymentIdempotencyKey(tenantID, k))
	}
	if err := s.cache.Del(ctx, cacheKeys...); err != nil {
		s.warn(ctx, "idempotency cache evict failed", err)
	}
}

func (s *Store) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}
