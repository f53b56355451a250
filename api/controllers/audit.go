package controllers

import (
	"context"
	"net/http"

	"github.com/suragms/BillingApp-sub007/api/responses"
	"github.com/suragms/BillingApp-sub007/api/validators"
	"github.com/suragms/BillingApp-sub007/internal/audit"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
)

type AuditTrail interface {
	For(ctx context.Context, tenantID int64, aggregate enums.OutboxAggregateType, aggregateID int64) ([]audit.TrailEntry, error)
}

// AggregateAudit serves the audit history of the record named by the path
// parameter param.
func AggregateAudit(trail AuditTrail, aggregate enums.OutboxAggregateType, param string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := identity(w, r, logg)
		if !ok {
			return
		}
		id, err := validators.ParsePathID(r, param)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := trail.For(r.Context(), tenantID, aggregate, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"entries": entries})
	}
}
