package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suragms/BillingApp-sub007/internal/audit"
	"github.com/suragms/BillingApp-sub007/internal/customers"
	"github.com/suragms/BillingApp-sub007/internal/idempotency"
	"github.com/suragms/BillingApp-sub007/internal/invoices"
	"github.com/suragms/BillingApp-sub007/internal/ledger"
	"github.com/suragms/BillingApp-sub007/internal/payments"
	pkgAuth "github.com/suragms/BillingApp-sub007/pkg/auth"
	"github.com/suragms/BillingApp-sub007/pkg/config"
	dbpkg "github.com/suragms/BillingApp-sub007/pkg/db"
	"github.com/suragms/BillingApp-sub007/pkg/db/dbtest"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
	"github.com/suragms/BillingApp-sub007/pkg/outbox"
)

const testTenant = int64(3)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type harness struct {
	t       *testing.T
	db      *gorm.DB
	handler http.Handler
	cfg     *config.Config
}

func newHarness(t *testing.T, dbPinger stubPinger) *harness {
	t.Helper()
	db := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "router-test", Level: zerolog.WarnLevel, Output: io.Discard})
	reg := prometheus.NewRegistry()

	outboxRepo := outbox.NewRepository(db)
	sink, err := audit.NewSink(outbox.NewService(outboxRepo, logg))
	require.NoError(t, err)
	trail, err := audit.NewTrail(outboxRepo)
	require.NoError(t, err)
	engine, err := ledger.NewEngine(ledger.EngineParams{
		TX:          dbpkg.FromGorm(db),
		Payments:    payments.NewRepository(db),
		Invoices:    invoices.NewRepository(db),
		Customers:   customers.NewRepository(db),
		Idempotency: idempotency.NewStore(db, nil, time.Hour, logg),
		Audit:       sink,
		Logger:      logg,
		Metrics:     metrics.NewLedgerMetrics(reg),
		Options: ledger.Options{
			Tolerance:          decimal.RequireFromString("0.01"),
			DuplicateWindow:    2 * time.Minute,
			TransactionTimeout: 5 * time.Second,
		},
	})
	require.NoError(t, err)

	cfg := &config.Config{
		App: config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "billing", ExpirationMinutes: 10},
	}
	return &harness{
		t:  t,
		db: db,
		handler: NewRouter(RouterParams{
			Config:   cfg,
			Logger:   logg,
			DB:       dbPinger,
			Ledger:   engine,
			Audit:    trail,
			Gatherer: reg,
		}),
		cfg: cfg,
	}
}

func (h *harness) token(tenantID int64) string {
	h.t.Helper()
	tok, err := pkgAuth.MintAccessToken(h.cfg.JWT, time.Now().UTC(), pkgAuth.AccessTokenPayload{UserID: 9, TenantID: tenantID})
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, token, idemKey string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) seedInvoice(total string) (*models.Customer, *models.Sale) {
	h.t.Helper()
	now := time.Now().UTC()
	c := &models.Customer{TenantID: testTenant, Name: "Acme", Balance: decimal.RequireFromString(total), Version: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(h.t, h.db.Create(c).Error)
	s := &models.Sale{
		TenantID:      testTenant,
		CustomerID:    &c.ID,
		InvoiceNo:     "INV-100",
		GrandTotal:    decimal.RequireFromString(total),
		PaidAmount:    decimal.Zero,
		PaymentStatus: enums.InvoicePaymentPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(h.t, h.db.Create(s).Error)
	return c, s
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t, stubPinger{})

	rec := h.do(http.MethodGet, "/health/live", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-Billing-Env"))

	rec = h.do(http.MethodGet, "/health/ready", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"up"`)
}

func TestReadyReportsDatabaseOutage(t *testing.T) {
	h := newHarness(t, stubPinger{err: errors.New("connection refused")})

	rec := h.do(http.MethodGet, "/health/ready", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DEPENDENCY_ERROR", errorCode(t, rec))
}

func TestPaymentRoutesRequireToken(t *testing.T) {
	h := newHarness(t, stubPinger{})

	rec := h.do(http.MethodGet, "/api/v1/payments", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))

	rec = h.do(http.MethodGet, "/api/v1/payments", "not-a-jwt", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreatePaymentReplaysIdenticalResponse(t *testing.T) {
	h := newHarness(t, stubPinger{})
	_, sale := h.seedInvoice("1000.00")
	tok := h.token(testTenant)
	body := map[string]any{"saleId": sale.ID, "amount": "400.00", "mode": "CASH"}

	first := h.do(http.MethodPost, "/api/v1/payments", tok, "key-abc", body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := h.do(http.MethodPost, "/api/v1/payments", tok, "key-abc", body)
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Equal(t, first.Body.String(), second.Body.String())

	var count int64
	require.NoError(t, h.db.Model(&models.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	rec := h.do(http.MethodGet, "/api/v1/invoices/"+itoa(sale.ID), tok, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		Data ledger.InvoiceSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.True(t, summary.Data.PaidAmount.Equal(decimal.RequireFromString("400")))
	assert.Equal(t, enums.InvoicePaymentPartial, summary.Data.PaymentStatus)
}

func TestCreatePaymentRejectsOverpaymentAndBadInput(t *testing.T) {
	h := newHarness(t, stubPinger{})
	_, sale := h.seedInvoice("500.00")
	tok := h.token(testTenant)

	rec := h.do(http.MethodPost, "/api/v1/payments", tok, "", map[string]any{"saleId": sale.ID, "amount": "600.00", "mode": "CASH"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "OVERPAYMENT", errorCode(t, rec))

	rec = h.do(http.MethodPost, "/api/v1/payments", tok, "", map[string]any{"saleId": sale.ID, "amount": "0", "mode": "CASH"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"amount"`)

	rec = h.do(http.MethodPost, "/api/v1/payments", tok, "", map[string]any{"saleId": sale.ID, "amount": "10", "mode": "BARTER"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/payments", tok, "", map[string]any{"saleId": sale.ID, "amount": "10", "mode": "CASH", "surprise": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvoiceOfAnotherTenantIsHidden(t *testing.T) {
	h := newHarness(t, stubPinger{})
	_, sale := h.seedInvoice("500.00")

	rec := h.do(http.MethodGet, "/api/v1/invoices/"+itoa(sale.ID), h.token(testTenant+1), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChequeLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, stubPinger{})
	customer, sale := h.seedInvoice("300.00")
	tok := h.token(testTenant)

	rec := h.do(http.MethodPost, "/api/v1/payments", tok, "", map[string]any{"saleId": sale.ID, "amount": "300.00", "mode": "CHEQUE", "reference": "  CHQ-77  "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Data ledger.CreatePaymentResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, enums.PaymentStatusPending, created.Data.Payment.Status)
	require.NotNil(t, created.Data.Payment.Reference)
	assert.Equal(t, "CHQ-77", *created.Data.Payment.Reference)
	paymentPath := "/api/v1/payments/" + itoa(created.Data.Payment.ID)

	rec = h.do(http.MethodPost, paymentPath+"/status", tok, "", map[string]any{"status": "CLEARED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"applied":true`)

	rec = h.do(http.MethodGet, "/api/v1/customers/"+itoa(customer.ID), tok, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cust struct {
		Data ledger.CustomerSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cust))
	assert.True(t, cust.Data.Balance.IsZero(), "balance %s", cust.Data.Balance)

	rec = h.do(http.MethodPost, paymentPath+"/status", tok, "", map[string]any{"status": "RETURNED"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, paymentPath+"/status", tok, "", map[string]any{"status": "CLEARED"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "STATE_CONFLICT", errorCode(t, rec))

	rec = h.do(http.MethodGet, "/api/v1/payments?saleId="+itoa(sale.ID)+"&status=RETURNED", tok, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data ledger.PaymentPage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Data.Items, 1)

	rec = h.do(http.MethodGet, "/api/v1/payments?status=LOST", tok, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, paymentPath+"/audit", tok, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var history struct {
		Data struct {
			Entries []audit.TrailEntry `json:"entries"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	actions := make([]enums.OutboxEventType, 0, len(history.Data.Entries))
	for _, e := range history.Data.Entries {
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []enums.OutboxEventType{
		enums.EventPaymentCreated,
		enums.EventPaymentStatusChanged,
		enums.EventPaymentStatusChanged,
	}, actions)

	rec = h.do(http.MethodGet, paymentPath+"/audit", h.token(testTenant+1), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entries":[]`)
}

func TestRecalculateBalanceRepairsDrift(t *testing.T) {
	h := newHarness(t, stubPinger{})
	customer, _ := h.seedInvoice("250.00")
	require.NoError(t, h.db.Model(&models.Customer{}).Where("id = ?", customer.ID).Update("balance", decimal.RequireFromString("999")).Error)

	rec := h.do(http.MethodPost, "/api/v1/customers/"+itoa(customer.ID)+"/recalculate-balance", h.token(testTenant), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"drifted":true`)

	var stored models.Customer
	require.NoError(t, h.db.First(&stored, customer.ID).Error)
	assert.True(t, stored.Balance.Equal(decimal.RequireFromString("250")), "balance %s", stored.Balance)
}

func TestRejectsMalformedIdempotencyKey(t *testing.T) {
	h := newHarness(t, stubPinger{})
	rec := h.do(http.MethodPost, "/api/v1/payments", h.token(testTenant), "has space", map[string]any{"amount": "1", "mode": "CASH"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, stubPinger{})
	_, sale := h.seedInvoice("100.00")
	h.do(http.MethodPost, "/api/v1/payments", h.token(testTenant), "", map[string]any{"saleId": sale.ID, "amount": "50", "mode": "CASH"})

	rec := h.do(http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_operation")
}

func itoa(id int64) string {
	return decimal.NewFromInt(id).String()
}
