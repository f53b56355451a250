package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suragms/BillingApp-sub007/internal/audit"
	"github.com/suragms/BillingApp-sub007/internal/customers"
	"github.com/suragms/BillingApp-sub007/internal/idempotency"
	"github.com/suragms/BillingApp-sub007/internal/invoices"
	"github.com/suragms/BillingApp-sub007/internal/payments"
	"github.com/suragms/BillingApp-sub007/internal/repo"
	dbpkg "github.com/suragms/BillingApp-sub007/pkg/db"
	"github.com/suragms/BillingApp-sub007/pkg/db/dbtest"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	pkgerrors "github.com/suragms/BillingApp-sub007/pkg/errors"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
	"github.com/suragms/BillingApp-sub007/pkg/outbox"
)

const (
	tenantID = int64(1)
	userID   = int64(42)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t      *testing.T
	db     *gorm.DB
	engine *Engine
	clock  *fakeClock
	outbox *outbox.Repository
	store  *idempotency.Store
	reg    *prometheus.Registry
	params EngineParams
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, *gorm.DB, audit.Entry) error {
	return errors.New("audit sink unavailable")
}

func newFixture(t *testing.T, opts ...func(*EngineParams)) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "ledger-test", Level: zerolog.DebugLevel, Output: io.Discard})
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	reg := prometheus.NewRegistry()

	outboxRepo := outbox.NewRepository(db)
	sink, err := audit.NewSink(outbox.NewService(outboxRepo, logg))
	require.NoError(t, err)
	store := idempotency.NewStore(db, nil, time.Hour, logg)

	params := EngineParams{
		TX:          dbpkg.FromGorm(db),
		Payments:    payments.NewRepository(db),
		Invoices:    invoices.NewRepository(db),
		Customers:   customers.NewRepository(db),
		Idempotency: store,
		Audit:       sink,
		Logger:      logg,
		Metrics:     metrics.NewLedgerMetrics(reg),
		Options: Options{
			Tolerance:          decimal.RequireFromString("0.01"),
			DuplicateWindow:    2 * time.Minute,
			TransactionTimeout: 5 * time.Second,
		},
		Now: clock.Now,
	}
	for _, opt := range opts {
		opt(&params)
	}
	engine, err := NewEngine(params)
	require.NoError(t, err)

	return &fixture{t: t, db: db, engine: engine, clock: clock, outbox: outboxRepo, store: store, reg: reg, params: params}
}

// rebuild replaces the engine with one built from the fixture's params after
// opts are applied.
func (f *fixture) rebuild(opts ...func(*EngineParams)) {
	f.t.Helper()
	for _, opt := range opts {
		opt(&f.params)
	}
	engine, err := NewEngine(f.params)
	require.NoError(f.t, err)
	f.engine = engine
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

func (f *fixture) seedCustomer(name string) *models.Customer {
	f.t.Helper()
	c := &models.Customer{TenantID: tenantID, Name: name, Balance: decimal.Zero, Version: 1, CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now()}
	require.NoError(f.t, f.db.Create(c).Error)
	return c
}

// seedSale creates an invoice and raises the customer's balance the way the
// sales subsystem does when an invoice is issued.
func (f *fixture) seedSale(customerID *int64, total string) *models.Sale {
	f.t.Helper()
	s := &models.Sale{
		TenantID:      tenantID,
		CustomerID:    customerID,
		InvoiceNo:     "INV-" + total,
		GrandTotal:    dec(total),
		PaidAmount:    decimal.Zero,
		PaymentStatus: enums.InvoicePaymentPending,
		Version:       1,
		CreatedAt:     f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	}
	require.NoError(f.t, f.db.Create(s).Error)
	if customerID != nil {
		c := f.customer(*customerID)
		require.NoError(f.t, f.db.Model(&models.Customer{}).Where("id = ?", c.ID).
			Update("balance", c.Balance.Add(dec(total))).Error)
	}
	return s
}

func (f *fixture) sale(id int64) *models.Sale {
	f.t.Helper()
	var s models.Sale
	require.NoError(f.t, f.db.First(&s, id).Error)
	return &s
}

func (f *fixture) customer(id int64) *models.Customer {
	f.t.Helper()
	var c models.Customer
	require.NoError(f.t, f.db.First(&c, id).Error)
	return &c
}

func (f *fixture) paymentCount() int64 {
	f.t.Helper()
	var n int64
	require.NoError(f.t, f.db.Model(&models.Payment{}).Count(&n).Error)
	return n
}

func (f *fixture) auditActions() []enums.OutboxEventType {
	f.t.Helper()
	var rows []models.OutboxEvent
	require.NoError(f.t, f.db.Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.EventType)
	}
	return out
}

// assertInvariants checks every invoice and customer against the raw rows.
func (f *fixture) assertInvariants() {
	f.t.Helper()
	var (
		sales []models.Sale
		pays  []models.Payment
		custs []models.Customer
	)
	require.NoError(f.t, f.db.Find(&sales).Error)
	require.NoError(f.t, f.db.Find(&pays).Error)
	require.NoError(f.t, f.db.Find(&custs).Error)

	for _, s := range sales {
		if s.IsDeleted {
			continue
		}
		cleared := decimal.Zero
		for _, p := range pays {
			if p.SaleID != nil && *p.SaleID == s.ID && p.Status == enums.PaymentStatusCleared {
				cleared = cleared.Add(p.Amount)
			}
		}
		assertAmount(f.t, cleared.String(), s.PaidAmount, "paid amount of invoice %d", s.ID)
		assert.True(f.t, cleared.LessThanOrEqual(s.GrandTotal.Add(dec("0.01"))), "invoice %d overpaid", s.ID)
		if cleared.GreaterThanOrEqual(s.GrandTotal.Sub(dec("0.01"))) {
			assert.Equal(f.t, enums.InvoicePaymentPaid, s.PaymentStatus, "invoice %d", s.ID)
		}
	}
	for _, c := range custs {
		expected := decimal.Zero
		for _, s := range sales {
			if !s.IsDeleted && s.CustomerID != nil && *s.CustomerID == c.ID {
				expected = expected.Add(s.GrandTotal)
			}
		}
		for _, p := range pays {
			if p.CustomerID != nil && *p.CustomerID == c.ID && p.Status == enums.PaymentStatusCleared {
				expected = expected.Sub(p.Amount)
			}
		}
		assertAmount(f.t, expected.String(), c.Balance, "balance of customer %d", c.ID)
	}
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, pkgerrors.CodeOf(err), "error: %v", err)
}

func cashFor(saleID int64, amount string) CreatePaymentRequest {
	return CreatePaymentRequest{SaleID: &saleID, Amount: dec(amount), Mode: enums.PaymentModeCash}
}

func TestScenarioA_FullCashPaymentMarksInvoicePaid(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")

	res, err := f.engine.CreatePayment(context.Background(), cashFor(s.ID, "1000"), userID, tenantID, "")
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusCleared, res.Payment.Status)
	require.NotNil(t, res.Payment.CustomerID, "customer adopted from invoice")
	assert.Equal(t, c.ID, *res.Payment.CustomerID)
	require.NotNil(t, res.Invoice)
	assert.Equal(t, enums.InvoicePaymentPaid, res.Invoice.PaymentStatus)
	assertAmount(t, "0", res.Invoice.Outstanding)
	require.NotNil(t, res.Customer)
	assertAmount(t, "0", res.Customer.Balance)

	stored := f.sale(s.ID)
	assert.Equal(t, enums.InvoicePaymentPaid, stored.PaymentStatus)
	assert.NotNil(t, stored.LastPaymentDate)
	assertAmount(t, "0", f.customer(c.ID).Balance)
	assert.Equal(t, []enums.OutboxEventType{enums.EventPaymentCreated}, f.auditActions())
	f.assertInvariants()
}

func TestScenarioB_PaymentAfterFullPaymentIsOverpayment(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()

	_, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "1000"), userID, tenantID, "")
	require.NoError(t, err)

	_, err = f.engine.CreatePayment(ctx, cashFor(s.ID, "1"), userID, tenantID, "")
	requireCode(t, err, pkgerrors.CodeOverpayment)
	assert.EqualValues(t, 1, f.paymentCount())
	f.assertInvariants()
}

func TestOverpaymentToleranceAllowsRoundingDifference(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "100")
	ctx := context.Background()

	_, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "100.02"), userID, tenantID, "")
	requireCode(t, err, pkgerrors.CodeOverpayment)

	res, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "100.01"), userID, tenantID, "")
	require.NoError(t, err)
	assert.Equal(t, enums.InvoicePaymentPaid, res.Invoice.PaymentStatus)
}

func TestScenarioCDE_ChequeLifecycle(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()

	// C: a pending cheque marks the invoice partial without paying anything.
	res, err := f.engine.CreatePayment(ctx, CreatePaymentRequest{SaleID: &s.ID, Amount: dec("500"), Mode: enums.PaymentModeCheque}, userID, tenantID, "")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, res.Payment.Status)
	assert.Equal(t, enums.InvoicePaymentPartial, res.Invoice.PaymentStatus)
	assertAmount(t, "0", res.Invoice.PaidAmount)
	assertAmount(t, "500", res.Invoice.Outstanding)
	assertAmount(t, "1000", f.customer(c.ID).Balance)
	f.assertInvariants()

	// D: clearing it pays the invoice and lowers the balance.
	ok, err := f.engine.TransitionStatus(ctx, res.Payment.ID, enums.PaymentStatusCleared, userID, tenantID)
	require.NoError(t, err)
	assert.True(t, ok)
	stored := f.sale(s.ID)
	assertAmount(t, "500", stored.PaidAmount)
	assert.Equal(t, enums.InvoicePaymentPartial, stored.PaymentStatus)
	assertAmount(t, "500", f.customer(c.ID).Balance)
	f.assertInvariants()

	// E: deleting it undoes both.
	ok, err = f.engine.DeletePayment(ctx, res.Payment.ID, userID, tenantID)
	require.NoError(t, err)
	assert.True(t, ok)
	stored = f.sale(s.ID)
	assertAmount(t, "0", stored.PaidAmount)
	assert.Equal(t, enums.InvoicePaymentPending, stored.PaymentStatus)
	assert.Nil(t, stored.LastPaymentDate)
	assertAmount(t, "1000", f.customer(c.ID).Balance)
	assert.EqualValues(t, 0, f.paymentCount())
	f.assertInvariants()

	assert.Equal(t, []enums.OutboxEventType{
		enums.EventPaymentCreated,
		enums.EventPaymentStatusChanged,
		enums.EventPaymentDeleted,
	}, f.auditActions())
}

func TestScenarioF_ConcurrentPaymentsCannotExceedOutstanding(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.CreatePayment(context.Background(), cashFor(s.ID, "600"), userID, tenantID, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireCode(t, err, pkgerrors.CodeOverpayment)
	}
	assert.Equal(t, 1, succeeded)
	assert.EqualValues(t, 1, f.paymentCount())
	f.assertInvariants()
}

func TestConcurrentPaymentsWithinOutstandingBothSucceed(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")

	var wg sync.WaitGroup
	amounts := []string{"400", "500"}
	errs := make([]error, len(amounts))
	for i, amount := range amounts {
		wg.Add(1)
		go func(i int, amount string) {
			defer wg.Done()
			_, errs[i] = f.engine.CreatePayment(context.Background(), cashFor(s.ID, amount), userID, tenantID, "")
		}(i, amount)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assertAmount(t, "900", f.sale(s.ID).PaidAmount)
	assertAmount(t, "100", f.customer(c.ID).Balance)
	f.assertInvariants()
}

func TestCreatePaymentValidation(t *testing.T) {
	f := newFixture(t)
	acme := f.seedCustomer("Acme")
	other := f.seedCustomer("Other")
	s := f.seedSale(&acme.ID, "1000")
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreatePaymentRequest
		code pkgerrors.Code
	}{
		{"zero amount", cashFor(s.ID, "0"), pkgerrors.CodeValidation},
		{"negative amount", cashFor(s.ID, "-5"), pkgerrors.CodeValidation},
		{"no attribution", CreatePaymentRequest{Amount: dec("10"), Mode: enums.PaymentModeCash}, pkgerrors.CodeValidation},
		{"unknown mode", CreatePaymentRequest{SaleID: &s.ID, Amount: dec("10"), Mode: "BARTER"}, pkgerrors.CodeValidation},
		{"missing invoice", cashFor(9999, "10"), pkgerrors.CodeValidation},
		{"customer mismatch", CreatePaymentRequest{SaleID: &s.ID, CustomerID: &other.ID, Amount: dec("10"), Mode: enums.PaymentModeCash}, pkgerrors.CodeValidation},
		{"missing customer", CreatePaymentRequest{CustomerID: ptr(int64(9999)), Amount: dec("10"), Mode: enums.PaymentModeCash}, pkgerrors.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.CreatePayment(ctx, tc.req, userID, tenantID, "")
			requireCode(t, err, tc.code)
		})
	}
	assert.EqualValues(t, 0, f.paymentCount())
	assert.Empty(t, f.auditActions())
}

func TestCreatePaymentRejectsOtherTenantsInvoice(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")

	_, err := f.engine.CreatePayment(context.Background(), cashFor(s.ID, "10"), userID, tenantID+1, "")
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestCreatePaymentOnDeletedInvoiceIsRejected(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	require.NoError(t, f.db.Model(&models.Sale{}).Where("id = ?", s.ID).Update("is_deleted", true).Error)

	_, err := f.engine.CreatePayment(context.Background(), cashFor(s.ID, "10"), userID, tenantID, "")
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestDuplicateSubmissionGuard(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()

	_, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "200"), userID, tenantID, "")
	require.NoError(t, err)

	f.clock.Advance(90 * time.Second)
	_, err = f.engine.CreatePayment(ctx, cashFor(s.ID, "200"), userID, tenantID, "")
	requireCode(t, err, pkgerrors.CodeDuplicateSubmission)

	_, err = f.engine.CreatePayment(ctx, cashFor(s.ID, "250"), userID, tenantID, "")
	require.NoError(t, err, "different amount is not a duplicate")

	f.clock.Advance(time.Minute)
	_, err = f.engine.CreatePayment(ctx, cashFor(s.ID, "200"), userID, tenantID, "")
	require.NoError(t, err, "outside the window")

	assert.EqualValues(t, 3, f.paymentCount())
	f.assertInvariants()
}

func TestIdempotentCreateReplaysIdenticalResponse(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()
	req := cashFor(s.ID, "300")

	first, err := f.engine.CreatePayment(ctx, req, userID, tenantID, "key-1")
	require.NoError(t, err)
	second, err := f.engine.CreatePayment(ctx, req, userID, tenantID, "key-1")
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	assert.EqualValues(t, 1, f.paymentCount())
	assertAmount(t, "700", f.customer(c.ID).Balance)
	assert.Len(t, f.auditActions(), 1)

	mfs, err := f.reg.Gather()
	require.NoError(t, err)
	assert.True(t, hasOutcome(mfs, opCreate, "replayed"))
}

func TestIdempotencyKeyReusedWithDifferentBody(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()

	_, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "300"), userID, tenantID, "key-1")
	require.NoError(t, err)
	_, err = f.engine.CreatePayment(ctx, cashFor(s.ID, "301"), userID, tenantID, "key-1")
	requireCode(t, err, pkgerrors.CodeIdempotency)

	_, err = f.engine.AllocatePayment(ctx, AllocatePaymentRequest{
		CustomerID:  c.ID,
		TotalAmount: dec("10"),
		Mode:        enums.PaymentModeCash,
		Allocations: []Allocation{{InvoiceID: s.ID, Amount: dec("10")}},
	}, userID, tenantID, "key-1")
	requireCode(t, err, pkgerrors.CodeIdempotency)
	assert.EqualValues(t, 1, f.paymentCount())
}

type downCache struct{}

func (downCache) Get(context.Context, string) (string, error) { return "", errors.New("redis down") }

func (downCache) Set(context.Context, string, any, time.Duration) error {
	return errors.New("redis down")
}

func (downCache) Del(context.Context, ...string) error { return errors.New("redis down") }

func (downCache) PaymentIdempotencyKey(tenantID int64, key string) string { return key }

func TestIdempotencyCacheOutageDoesNotFailPayment(t *testing.T) {
	f := newFixture(t)
	f.rebuild(func(p *EngineParams) {
		p.Idempotency = idempotency.NewStore(f.db, downCache{}, time.Hour, nil)
	})
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()

	first, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "250"), userID, tenantID, "cache-down")
	require.NoError(t, err)
	second, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "250"), userID, tenantID, "cache-down")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, f.paymentCount())
	assertAmount(t, "750", f.customer(c.ID).Balance)
}

func TestIdempotencyKeyStillInFlight(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	ctx := context.Background()

	require.NoError(t, f.store.Claim(ctx, &models.PaymentIdempotency{
		TenantID: tenantID, IdempotencyKey: "open", Operation: idempotency.OperationCreate,
		RequestHash: "whatever", UserID: userID, CreatedAt: f.clock.Now(),
	}))

	_, err := f.engine.CreatePayment(ctx, CreatePaymentRequest{CustomerID: &c.ID, Amount: dec("100"), Mode: enums.PaymentModeCash}, userID, tenantID, "open")
	requireCode(t, err, pkgerrors.CodeConcurrencyConflict)
	assert.EqualValues(t, 0, f.paymentCount())
}

// holdIdempotencyLookups parks the first n idempotency lookups until all of
// them have run, so every caller sees the key as unused before any commits.
func (f *fixture) holdIdempotencyLookups(n int) {
	f.t.Helper()
	var (
		calls atomic.Int64
		wg    sync.WaitGroup
	)
	wg.Add(n)
	require.NoError(f.t, f.db.Callback().Query().After("gorm:query").Register("test:hold_idempotency_lookups", func(tx *gorm.DB) {
		if tx.Statement.Table != "payment_idempotency" {
			return
		}
		if calls.Add(1) <= int64(n) {
			wg.Done()
			wg.Wait()
		}
	}))
}

func TestConcurrentSameKeyCreatesOnePayment(t *testing.T) {
	cases := []struct {
		name string
		req  func(c *models.Customer, s *models.Sale) CreatePaymentRequest
	}{
		{
			name: "customer only",
			req: func(c *models.Customer, _ *models.Sale) CreatePaymentRequest {
				return CreatePaymentRequest{CustomerID: &c.ID, Amount: dec("100"), Mode: enums.PaymentModeCash}
			},
		},
		{
			name: "invoice bound",
			req: func(_ *models.Customer, s *models.Sale) CreatePaymentRequest {
				return cashFor(s.ID, "100")
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.seedCustomer("Acme")
			req := tc.req(c, f.seedSale(&c.ID, "300"))
			f.holdIdempotencyLookups(2)

			var (
				wg      sync.WaitGroup
				results [2]*CreatePaymentResult
				errs    [2]error
			)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = f.engine.CreatePayment(context.Background(), req, userID, tenantID, "same-key")
				}(i)
			}
			wg.Wait()

			require.NoError(t, errs[0])
			require.NoError(t, errs[1])
			assert.EqualValues(t, 1, f.paymentCount())
			a, err := json.Marshal(results[0])
			require.NoError(t, err)
			b, err := json.Marshal(results[1])
			require.NoError(t, err)
			assert.JSONEq(t, string(a), string(b))
			assertAmount(t, "200", f.customer(c.ID).Balance)
			f.assertInvariants()
		})
	}
}

func TestConcurrentSameKeyAllocatesOnce(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "500")
	req := AllocatePaymentRequest{
		CustomerID:  c.ID,
		TotalAmount: dec("200"),
		Mode:        enums.PaymentModeCash,
		Allocations: []Allocation{{InvoiceID: s.ID, Amount: dec("200")}},
	}
	f.holdIdempotencyLookups(2)

	var (
		wg      sync.WaitGroup
		results [2]*AllocatePaymentResult
		errs    [2]error
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.AllocatePayment(context.Background(), req, userID, tenantID, "alloc-race")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0], results[1])
	assert.EqualValues(t, 1, f.paymentCount())
	assertAmount(t, "200", f.sale(s.ID).PaidAmount)
	assertAmount(t, "300", f.customer(c.ID).Balance)
	f.assertInvariants()
}

func TestReversibility_VoidThenRecreateRestoresState(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()

	first, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "400"), userID, tenantID, "")
	require.NoError(t, err)
	before := f.sale(s.ID)
	balanceBefore := f.customer(c.ID).Balance

	_, err = f.engine.TransitionStatus(ctx, first.Payment.ID, enums.PaymentStatusVoid, userID, tenantID)
	require.NoError(t, err)
	voided := f.sale(s.ID)
	assertAmount(t, "0", voided.PaidAmount)
	assert.Equal(t, enums.InvoicePaymentPending, voided.PaymentStatus)
	assertAmount(t, "1000", f.customer(c.ID).Balance)

	_, err = f.engine.CreatePayment(ctx, cashFor(s.ID, "400"), userID, tenantID, "")
	require.NoError(t, err, "voided payments are not duplicates")

	after := f.sale(s.ID)
	assert.True(t, before.PaidAmount.Equal(after.PaidAmount))
	assert.Equal(t, before.PaymentStatus, after.PaymentStatus)
	assert.True(t, balanceBefore.Equal(f.customer(c.ID).Balance))
	f.assertInvariants()
}

func TestTransitionRules(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()

	res, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "300"), userID, tenantID, "")
	require.NoError(t, err)
	id := res.Payment.ID

	ok, err := f.engine.TransitionStatus(ctx, id, enums.PaymentStatusCleared, userID, tenantID)
	require.NoError(t, err)
	assert.True(t, ok, "same status is a no-op")
	assert.Len(t, f.auditActions(), 1)

	_, err = f.engine.TransitionStatus(ctx, id, enums.PaymentStatus("BOUNCED"), userID, tenantID)
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = f.engine.TransitionStatus(ctx, 9999, enums.PaymentStatusVoid, userID, tenantID)
	requireCode(t, err, pkgerrors.CodeNotFound)

	// CLEARED -> PENDING gives the money back to the balance but keeps the
	// invoice partial while the payment awaits clearance.
	_, err = f.engine.TransitionStatus(ctx, id, enums.PaymentStatusPending, userID, tenantID)
	require.NoError(t, err)
	assertAmount(t, "1000", f.customer(c.ID).Balance)
	assert.Equal(t, enums.InvoicePaymentPartial, f.sale(s.ID).PaymentStatus)
	f.assertInvariants()

	// PENDING -> RETURNED never touched the balance.
	_, err = f.engine.TransitionStatus(ctx, id, enums.PaymentStatusReturned, userID, tenantID)
	require.NoError(t, err)
	assertAmount(t, "1000", f.customer(c.ID).Balance)
	assert.Equal(t, enums.InvoicePaymentPending, f.sale(s.ID).PaymentStatus)

	_, err = f.engine.TransitionStatus(ctx, id, enums.PaymentStatusCleared, userID, tenantID)
	requireCode(t, err, pkgerrors.CodeStateConflict)
	f.assertInvariants()
}

func TestClearedToVoidRestoresBalance(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()

	res, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "250"), userID, tenantID, "")
	require.NoError(t, err)
	assertAmount(t, "750", f.customer(c.ID).Balance)

	_, err = f.engine.TransitionStatus(ctx, res.Payment.ID, enums.PaymentStatusVoid, userID, tenantID)
	require.NoError(t, err)
	assertAmount(t, "1000", f.customer(c.ID).Balance)
	assertAmount(t, "1000", func() decimal.Decimal {
		sum, err := f.engine.GetInvoiceSummary(ctx, tenantID, s.ID)
		require.NoError(t, err)
		return sum.Outstanding
	}())
}

func TestEditPayment(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()

	res, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "300"), userID, tenantID, "")
	require.NoError(t, err)
	id := res.Payment.ID

	view, err := f.engine.EditPayment(ctx, id, EditPaymentRequest{Amount: ptr(dec("500")), Reference: ptr("RCPT-9")}, userID, tenantID)
	require.NoError(t, err)
	assertAmount(t, "500", view.Amount)
	assert.Equal(t, "RCPT-9", *view.Reference)
	assert.EqualValues(t, 2, view.Version)
	assertAmount(t, "500", f.sale(s.ID).PaidAmount)
	assertAmount(t, "500", f.customer(c.ID).Balance)
	f.assertInvariants()

	// Switching to cheque re-derives the status to pending.
	view, err = f.engine.EditPayment(ctx, id, EditPaymentRequest{Mode: ptr(enums.PaymentModeCheque)}, userID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, view.Status)
	assertAmount(t, "0", f.sale(s.ID).PaidAmount)
	assert.Equal(t, enums.InvoicePaymentPartial, f.sale(s.ID).PaymentStatus)
	assertAmount(t, "1000", f.customer(c.ID).Balance)
	f.assertInvariants()

	_, err = f.engine.EditPayment(ctx, id, EditPaymentRequest{Amount: ptr(dec("1000.02"))}, userID, tenantID)
	requireCode(t, err, pkgerrors.CodeOverpayment)

	_, err = f.engine.EditPayment(ctx, id, EditPaymentRequest{}, userID, tenantID)
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = f.engine.EditPayment(ctx, id, EditPaymentRequest{Amount: ptr(dec("0"))}, userID, tenantID)
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = f.engine.EditPayment(ctx, 9999, EditPaymentRequest{Reference: ptr("x")}, userID, tenantID)
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, err = f.engine.TransitionStatus(ctx, id, enums.PaymentStatusVoid, userID, tenantID)
	require.NoError(t, err)
	_, err = f.engine.EditPayment(ctx, id, EditPaymentRequest{Reference: ptr("late")}, userID, tenantID)
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestDeletePaymentRemovesIdempotencyMapping(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()
	req := cashFor(s.ID, "100")

	first, err := f.engine.CreatePayment(ctx, req, userID, tenantID, "key-del")
	require.NoError(t, err)

	_, err = f.engine.DeletePayment(ctx, first.Payment.ID, userID, tenantID)
	require.NoError(t, err)
	rec, err := f.store.Lookup(ctx, tenantID, "key-del")
	require.NoError(t, err)
	assert.Nil(t, rec)

	f.clock.Advance(5 * time.Minute)
	second, err := f.engine.CreatePayment(ctx, req, userID, tenantID, "key-del")
	require.NoError(t, err)
	assert.NotEqual(t, first.Payment.ID, second.Payment.ID, "key is free again")

	_, err = f.engine.DeletePayment(ctx, first.Payment.ID, userID, tenantID)
	requireCode(t, err, pkgerrors.CodeNotFound)
	f.assertInvariants()
}

func TestCustomerOnlyPayment(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	f.seedSale(&c.ID, "1000")

	res, err := f.engine.CreatePayment(context.Background(), CreatePaymentRequest{
		CustomerID: &c.ID, Amount: dec("150.50"), Mode: enums.PaymentModeOnline,
	}, userID, tenantID, "")
	require.NoError(t, err)
	assert.Nil(t, res.Invoice)
	require.NotNil(t, res.Customer)
	assertAmount(t, "849.5", res.Customer.Balance)
	f.assertInvariants()
}

func TestWalkInPaymentWithoutCustomer(t *testing.T) {
	f := newFixture(t)
	s := f.seedSale(nil, "80")

	res, err := f.engine.CreatePayment(context.Background(), cashFor(s.ID, "80"), userID, tenantID, "")
	require.NoError(t, err)
	assert.Nil(t, res.Payment.CustomerID)
	assert.Nil(t, res.Customer)
	assert.Equal(t, enums.InvoicePaymentPaid, res.Invoice.PaymentStatus)
}

func TestAllocatePayment(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	a := f.seedSale(&c.ID, "300")
	b := f.seedSale(&c.ID, "500")
	z := f.seedSale(&c.ID, "200")
	ctx := context.Background()

	res, err := f.engine.AllocatePayment(ctx, AllocatePaymentRequest{
		CustomerID:  c.ID,
		TotalAmount: dec("700"),
		Mode:        enums.PaymentModeCash,
		Allocations: []Allocation{
			{InvoiceID: a.ID, Amount: dec("0")},
			{InvoiceID: a.ID, Amount: dec("350")},
			{InvoiceID: b.ID, Amount: dec("500")},
			{InvoiceID: z.ID, Amount: dec("200")},
		},
	}, userID, tenantID, "")
	require.NoError(t, err)

	require.Len(t, res.Payments, 2)
	assert.Equal(t, res.Payments[0], res.Payment)
	assertAmount(t, "300", res.Payments[0].Amount, "capped at invoice outstanding")
	assertAmount(t, "400", res.Payments[1].Amount, "capped at remaining")
	assertAmount(t, "300", res.Customer.Balance)

	assert.Equal(t, enums.InvoicePaymentPaid, f.sale(a.ID).PaymentStatus)
	assert.Equal(t, enums.InvoicePaymentPartial, f.sale(b.ID).PaymentStatus)
	assert.Equal(t, enums.InvoicePaymentPending, f.sale(z.ID).PaymentStatus)
	f.assertInvariants()

	// Everything already paid on a: nothing to allocate.
	_, err = f.engine.AllocatePayment(ctx, AllocatePaymentRequest{
		CustomerID:  c.ID,
		TotalAmount: dec("50"),
		Mode:        enums.PaymentModeCash,
		Allocations: []Allocation{{InvoiceID: a.ID, Amount: dec("50")}},
	}, userID, tenantID, "")
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestAllocatePaymentRejections(t *testing.T) {
	f := newFixture(t)
	acme := f.seedCustomer("Acme")
	other := f.seedCustomer("Other")
	foreign := f.seedSale(&other.ID, "100")
	walkIn := f.seedSale(nil, "55")
	ctx := context.Background()

	_, err := f.engine.AllocatePayment(ctx, AllocatePaymentRequest{
		CustomerID: 9999, TotalAmount: dec("10"), Mode: enums.PaymentModeCash,
		Allocations: []Allocation{{InvoiceID: foreign.ID, Amount: dec("10")}},
	}, userID, tenantID, "")
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, err = f.engine.AllocatePayment(ctx, AllocatePaymentRequest{
		CustomerID: acme.ID, TotalAmount: dec("10"), Mode: enums.PaymentModeCash,
		Allocations: []Allocation{{InvoiceID: foreign.ID, Amount: dec("10")}},
	}, userID, tenantID, "")
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = f.engine.AllocatePayment(ctx, AllocatePaymentRequest{
		CustomerID: acme.ID, TotalAmount: dec("10"), Mode: enums.PaymentModeCash,
		Allocations: []Allocation{{InvoiceID: walkIn.ID, Amount: dec("10")}},
	}, userID, tenantID, "")
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = f.engine.AllocatePayment(ctx, AllocatePaymentRequest{
		CustomerID: acme.ID, TotalAmount: dec("10"), Mode: enums.PaymentModeCash,
	}, userID, tenantID, "")
	requireCode(t, err, pkgerrors.CodeValidation)

	assert.EqualValues(t, 0, f.paymentCount())
	assertAmount(t, "0", f.sale(walkIn.ID).PaidAmount)
}

func TestAllocatePaymentIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "500")
	ctx := context.Background()
	req := AllocatePaymentRequest{
		CustomerID:  c.ID,
		TotalAmount: dec("200"),
		Mode:        enums.PaymentModeCheque,
		Allocations: []Allocation{{InvoiceID: s.ID, Amount: dec("200")}},
	}

	first, err := f.engine.AllocatePayment(ctx, req, userID, tenantID, "alloc-1")
	require.NoError(t, err)
	second, err := f.engine.AllocatePayment(ctx, req, userID, tenantID, "alloc-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, f.paymentCount())
	assertAmount(t, "500", f.customer(c.ID).Balance, "pending cheque leaves balance")
}

func TestReconcileCorrectsDrift(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()

	_, err := f.engine.CreatePayment(ctx, cashFor(s.ID, "100"), userID, tenantID, "")
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.Customer{}).Where("id = ?", c.ID).Update("balance", dec("12345")).Error)

	res, err := f.engine.ReconcileCustomer(ctx, tenantID, c.ID, 0)
	require.NoError(t, err)
	assert.True(t, res.Drifted())
	assertAmount(t, "12345", res.Previous)
	assertAmount(t, "900", res.Balance)
	assertAmount(t, "900", f.customer(c.ID).Balance)
	assert.Contains(t, f.auditActions(), enums.EventCustomerBalanceRecalculated)

	require.NoError(t, f.engine.RecalculateCustomerBalance(ctx, c.ID, tenantID))
	again, err := f.engine.ReconcileCustomer(ctx, tenantID, c.ID, 0)
	require.NoError(t, err)
	assert.False(t, again.Drifted())

	requireCode(t, f.engine.RecalculateCustomerBalance(ctx, 9999, tenantID), pkgerrors.CodeNotFound)
	f.assertInvariants()
}

func TestFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t, func(p *EngineParams) { p.Audit = failingAudit{} })
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")

	_, err := f.engine.CreatePayment(context.Background(), cashFor(s.ID, "1000"), userID, tenantID, "k")
	requireCode(t, err, pkgerrors.CodeInternal)

	assert.EqualValues(t, 0, f.paymentCount())
	stored := f.sale(s.ID)
	assertAmount(t, "0", stored.PaidAmount)
	assert.EqualValues(t, 1, stored.Version)
	assertAmount(t, "1000", f.customer(c.ID).Balance)

	rec, err := f.store.Lookup(context.Background(), tenantID, "k")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStaleVersionSurfacesAsRetryableConflict(t *testing.T) {
	f := newFixture(t)
	err := f.engine.translate(context.Background(), opEdit, repo.ErrStaleVersion)
	requireCode(t, err, pkgerrors.CodeConcurrencyConflict)
	assert.True(t, pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).Retryable)

	typed := pkgerrors.New(pkgerrors.CodeOverpayment, "x")
	assert.Same(t, typed, f.engine.translate(context.Background(), opCreate, typed))

	timeout := f.engine.translate(context.Background(), opCreate, context.DeadlineExceeded)
	requireCode(t, timeout, pkgerrors.CodeDependency)
}

func TestReadOperations(t *testing.T) {
	f := newFixture(t)
	c := f.seedCustomer("Acme")
	s := f.seedSale(&c.ID, "1000")
	ctx := context.Background()

	res, err := f.engine.CreatePayment(ctx, CreatePaymentRequest{SaleID: &s.ID, Amount: dec("100"), Mode: enums.PaymentModeCredit}, userID, tenantID, "")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.engine.CreatePayment(ctx, cashFor(s.ID, "200"), userID, tenantID, "")
	require.NoError(t, err)

	got, err := f.engine.GetPayment(ctx, tenantID, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, got.Status)

	_, err = f.engine.GetPayment(ctx, tenantID+1, res.Payment.ID)
	requireCode(t, err, pkgerrors.CodeNotFound)

	pending := enums.PaymentStatusPending
	list, err := f.engine.ListPayments(ctx, tenantID, PaymentFilter{SaleID: &s.ID, Status: &pending})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Empty(t, list.NextCursor)

	all, err := f.engine.ListPayments(ctx, tenantID, PaymentFilter{CustomerID: &c.ID})
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)

	first, err := f.engine.ListPayments(ctx, tenantID, PaymentFilter{CustomerID: &c.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	require.NotEmpty(t, first.NextCursor)
	second, err := f.engine.ListPayments(ctx, tenantID, PaymentFilter{CustomerID: &c.ID, Limit: 1, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.NotEqual(t, first.Items[0].ID, second.Items[0].ID)
	assert.Empty(t, second.NextCursor)

	_, err = f.engine.ListPayments(ctx, tenantID, PaymentFilter{Cursor: "not-a-cursor"})
	requireCode(t, err, pkgerrors.CodeValidation)

	inv, err := f.engine.GetInvoiceSummary(ctx, tenantID, s.ID)
	require.NoError(t, err)
	assertAmount(t, "200", inv.PaidAmount)
	assertAmount(t, "700", inv.Outstanding)

	cust, err := f.engine.GetCustomerSummary(ctx, tenantID, c.ID)
	require.NoError(t, err)
	assertAmount(t, "800", cust.Balance)

	_, err = f.engine.GetCustomerSummary(ctx, tenantID, 9999)
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(EngineParams{})
	require.Error(t, err)
}

func hasOutcome(mfs []*dto.MetricFamily, operation, outcome string) bool {
	for _, mf := range mfs {
		if mf.GetName() != "ledger_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var op, out string
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "operation":
					op = l.GetValue()
				case "outcome":
					out = l.GetValue()
				}
			}
			if op == operation && out == outcome && m.GetCounter().GetValue() > 0 {
				return true
			}
		}
	}
	return false
}
