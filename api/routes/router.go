package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suragms/BillingApp-sub007/api/controllers"
	"github.com/suragms/BillingApp-sub007/api/middleware"
	"github.com/suragms/BillingApp-sub007/pkg/config"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
)

// RouterParams lists what the HTTP surface depends on. Redis is optional.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    controllers.Pinger
	Ledger   controllers.LedgerService
	Audit    controllers.AuditTrail
	Gatherer prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	deps := map[string]controllers.Pinger{"database": p.DB}
	if p.Redis != nil {
		deps["redis"] = p.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.IdempotencyKey(logg))

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", controllers.ListPayments(p.Ledger, logg))
			r.Post("/", controllers.CreatePayment(p.Ledger, logg))
			r.Post("/allocate", controllers.AllocatePayment(p.Ledger, logg))
			r.Route("/{paymentId}", func(r chi.Router) {
				r.Get("/", controllers.GetPayment(p.Ledger, logg))
				r.Patch("/", controllers.EditPayment(p.Ledger, logg))
				r.Delete("/", controllers.DeletePayment(p.Ledger, logg))
				r.Post("/status", controllers.TransitionPayment(p.Ledger, logg))
				if p.Audit != nil {
					r.Get("/audit", controllers.AggregateAudit(p.Audit, enums.AggregatePayment, "paymentId", logg))
				}
			})
		})

		r.Get("/invoices/{invoiceId}", controllers.GetInvoice(p.Ledger, logg))

		r.Route("/customers/{customerId}", func(r chi.Router) {
			r.Get("/", controllers.GetCustomer(p.Ledger, logg))
			r.Post("/recalculate-balance", controllers.RecalculateBalance(p.Ledger, logg))
			if p.Audit != nil {
				r.Get("/audit", controllers.AggregateAudit(p.Audit, enums.AggregateCustomer, "customerId", logg))
			}
		})
	})

	return r
}
