package ledger

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/suragms/BillingApp-sub007/internal/audit"
	"github.com/suragms/BillingApp-sub007/internal/customers"
	"github.com/suragms/BillingApp-sub007/internal/idempotency"
	"github.com/suragms/BillingApp-sub007/internal/invoices"
	"github.com/suragms/BillingApp-sub007/internal/payments"
	"github.com/suragms/BillingApp-sub007/pkg/config"
	"github.com/suragms/BillingApp-sub007/pkg/db"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
	"github.com/suragms/BillingApp-sub007/pkg/metrics"
	"github.com/suragms/BillingApp-sub007/pkg/outbox"
)

// Bootstrap wires an engine over the shared database client. cache may be
// nil when Redis is not configured.
func Bootstrap(cfg config.LedgerConfig, client *db.Client, cache idempotency.Cache, logg *logger.Logger, reg prometheus.Registerer) (*Engine, error) {
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn := client.DB()
	sink, err := audit.NewSink(outbox.NewService(outbox.NewRepository(conn), logg))
	if err != nil {
		return nil, fmt.Errorf("audit sink: %w", err)
	}
	return NewEngine(EngineParams{
		TX:          client,
		Payments:    payments.NewRepository(conn),
		Invoices:    invoices.NewRepository(conn),
		Customers:   customers.NewRepository(conn),
		Idempotency: idempotency.NewStore(conn, cache, cfg.IdempotencyTTL, logg),
		Audit:       sink,
		Logger:      logg,
		Metrics:     metrics.NewLedgerMetrics(reg),
		Options:     opts,
	})
}
