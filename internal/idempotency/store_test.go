package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suragms/BillingApp-sub007/pkg/db/dbtest"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
)

type fakeCache struct {
	data map[string]string
	gets int
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string]string{}} }

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	f.gets++
	v, ok := f.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.data[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeCache) PaymentIdempotencyKey(tenantID int64, key string) string {
	return fmt.Sprintf("test:%d:%s", tenantID, key)
}

func record(tenantID int64, key string, paymentID int64, at time.Time) *models.PaymentIdempotency {
	return &models.PaymentIdempotency{
		TenantID:         tenantID,
		IdempotencyKey:   key,
		Operation:        OperationCreate,
		RequestHash:      "abc",
		PaymentID:        paymentID,
		UserID:           9,
		ResponseSnapshot: json.RawMessage(`{"payment":{"id":1}}`),
		CreatedAt:        at,
	}
}

// save claims rec outside any ledger transaction and caches it, the way a
// committed claim ends up.
func save(t *testing.T, store *Store, rec *models.PaymentIdempotency) {
	t.Helper()
	require.NoError(t, store.Claim(context.Background(), rec))
	store.Remember(context.Background(), rec)
}

func TestClaimAndLookup(t *testing.T) {
	db := dbtest.Open(t)
	cache := newFakeCache()
	store := NewStore(db, cache, time.Hour, nil)
	ctx := context.Background()

	got, err := store.Lookup(ctx, 1, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)

	save(t, store, record(1, "k1", 100, time.Now().UTC()))
	assert.Contains(t, cache.data, "test:1:k1")

	got, err = store.Lookup(ctx, 1, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 100, got.PaymentID)
	assert.JSONEq(t, `{"payment":{"id":1}}`, string(got.ResponseSnapshot))

	other, err := store.Lookup(ctx, 2, "k1")
	require.NoError(t, err)
	assert.Nil(t, other, "keys are tenant scoped")
}

func TestClaimDuplicateKeyReportsExisting(t *testing.T) {
	db := dbtest.Open(t)
	store := NewStore(db, nil, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, store.Claim(ctx, record(1, "dup", 100, time.Now().UTC())))
	err := store.Claim(ctx, record(1, "dup", 101, time.Now().UTC()))
	require.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, store.Claim(ctx, record(2, "dup", 102, time.Now().UTC())))
}

func TestClaimCompletesInsideTransaction(t *testing.T) {
	db := dbtest.Open(t)
	cache := newFakeCache()
	store := NewStore(db, cache, time.Hour, nil)
	ctx := context.Background()

	claim := record(1, "tx", 0, time.Now().UTC())
	claim.ResponseSnapshot = nil
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		bound := store.WithTx(tx)
		if err := bound.Claim(ctx, claim); err != nil {
			return err
		}
		assert.True(t, Pending(claim))
		assert.Empty(t, cache.data, "claims are not cached before commit")
		claim.PaymentID = 42
		claim.ResponseSnapshot = json.RawMessage(`{"payment":{"id":42}}`)
		return bound.Complete(ctx, claim)
	}))

	got, err := store.Lookup(ctx, 1, "tx")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, Pending(got))
	assert.EqualValues(t, 42, got.PaymentID)
	assert.JSONEq(t, `{"payment":{"id":42}}`, string(got.ResponseSnapshot))
}

func TestRolledBackClaimReleasesKey(t *testing.T) {
	db := dbtest.Open(t)
	store := NewStore(db, nil, time.Hour, nil)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := store.WithTx(tx).Claim(ctx, record(1, "gone", 0, time.Now().UTC())); err != nil {
			return err
		}
		return errors.New("ledger write failed")
	})
	require.Error(t, err)

	got, err := store.Lookup(ctx, 1, "gone")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, store.Claim(ctx, record(1, "gone", 5, time.Now().UTC())))
}

func TestCompleteRequiresClaimAndPayment(t *testing.T) {
	db := dbtest.Open(t)
	store := NewStore(db, nil, time.Hour, nil)
	ctx := context.Background()

	require.Error(t, store.Complete(ctx, record(1, "never", 5, time.Now().UTC())))

	claim := record(1, "half", 0, time.Now().UTC())
	require.NoError(t, store.Claim(ctx, claim))
	require.Error(t, store.Complete(ctx, claim))
}

func TestLookupFallsBackToDatabaseOnCacheMiss(t *testing.T) {
	db := dbtest.Open(t)
	require.NoError(t, NewStore(db, nil, time.Hour, nil).Claim(context.Background(), record(1, "k", 5, time.Now().UTC())))

	cache := newFakeCache()
	store := NewStore(db, cache, time.Hour, nil)
	got, err := store.Lookup(context.Background(), 1, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, cache.data, "test:1:k", "db hit warms the cache")
}

func TestDeleteByPaymentEvictsCache(t *testing.T) {
	db := dbtest.Open(t)
	cache := newFakeCache()
	store := NewStore(db, cache, time.Hour, nil)
	ctx := context.Background()

	save(t, store, record(1, "a", 7, time.Now().UTC()))
	save(t, store, record(1, "b", 8, time.Now().UTC()))

	require.NoError(t, store.DeleteByPayment(ctx, 1, 7))
	assert.NotContains(t, cache.data, "test:1:a")
	assert.Contains(t, cache.data, "test:1:b")

	got, err := store.Lookup(ctx, 1, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.DeleteByPayment(ctx, 1, 404))
}

func TestPurgeBefore(t *testing.T) {
	db := dbtest.Open(t)
	store := NewStore(db, nil, time.Hour, nil)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Claim(ctx, record(1, "old", 1, now.AddDate(0, 0, -10))))
	require.NoError(t, store.Claim(ctx, record(1, "new", 2, now)))

	n, err := store.PurgeBefore(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestHashRequestIsStable(t *testing.T) {
	a, err := HashRequest(map[string]any{"amount": "10.00", "mode": "CASH"})
	require.NoError(t, err)
	b, err := HashRequest(map[string]any{"mode": "CASH", "amount": "10.00"})
	require.NoError(t, err)
	c, err := HashRequest(map[string]any{"mode": "CASH", "amount": "10.01"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestPendingClaimIsNeverCached(t *testing.T) {
	db := dbtest.Open(t)
	cache := newFakeCache()
	store := NewStore(db, cache, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, store.Claim(ctx, record(1, "open", 0, time.Now().UTC())))
	got, err := store.Lookup(ctx, 1, "open")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, Pending(got))
	assert.NotContains(t, cache.data, "test:1:open")
}
