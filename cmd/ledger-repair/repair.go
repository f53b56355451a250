package main

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/suragms/BillingApp-sub007/internal/ledger"
	"github.com/suragms/BillingApp-sub007/pkg/db/models"
)

type reconciler interface {
	ReconcileCustomer(ctx context.Context, tenantID, customerID, userID int64) (ledger.ReconcileResult, error)
}

type customerPager interface {
	ListPage(ctx context.Context, tenantID *int64, afterID int64, limit int) ([]models.Customer, error)
}

// repair rebuilds the listed customers, or every customer of the tenant when
// ids is empty. A failing customer does not stop the run.
func repair(ctx context.Context, engine reconciler, pager customerPager, tenantID, userID int64, ids []int64, batch int, report func(ledger.ReconcileResult)) (repaired, checked int, err error) {
	fix := func(customerID int64) {
		res, rerr := engine.ReconcileCustomer(ctx, tenantID, customerID, userID)
		checked++
		if rerr != nil {
			err = multierr.Append(err, fmt.Errorf("customer %d: %w", customerID, rerr))
			return
		}
		if res.Drifted() {
			repaired++
		}
		if report != nil {
			report(res)
		}
	}

	if len(ids) > 0 {
		for _, id := range ids {
			fix(id)
		}
		return repaired, checked, err
	}

	if batch <= 0 {
		batch = defaultBatch
	}
	var afterID int64
	for {
		if cerr := ctx.Err(); cerr != nil {
			return repaired, checked, multierr.Append(err, cerr)
		}
		page, perr := pager.ListPage(ctx, &tenantID, afterID, batch)
		if perr != nil {
			return repaired, checked, multierr.Append(err, fmt.Errorf("list customers after %d: %w", afterID, perr))
		}
		for _, c := range page {
			fix(c.ID)
		}
		if len(page) < batch {
			return repaired, checked, err
		}
		afterID = page[len(page)-1].ID
	}
}
