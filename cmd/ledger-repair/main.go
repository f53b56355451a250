package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/suragms/BillingApp-sub007/internal/customers"
	"github.com/suragms/BillingApp-sub007/internal/ledger"
	"github.com/suragms/BillingApp-sub007/pkg/config"
	"github.com/suragms/BillingApp-sub007/pkg/db"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
)

const defaultBatch = 200

func main() {
	tenantID := flag.Int64("tenant", 0, "tenant whose balances are rebuilt")
	customerID := flag.Int64("customer", 0, "single customer to rebuild (default: every customer of the tenant)")
	userID := flag.Int64("user", 0, "operator id recorded in the audit trail")
	batch := flag.Int("batch", defaultBatch, "customers loaded per page")
	flag.Parse()

	if *tenantID <= 0 {
		fmt.Fprintln(os.Stderr, "-tenant is required")
		flag.Usage()
		os.Exit(2)
	}

	logg := logger.New(logger.Options{ServiceName: "ledger-repair"})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "ledger-repair",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	engine, err := ledger.Bootstrap(cfg.Ledger, dbClient, nil, logg, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger engine", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithTenantID(ctx, *tenantID)

	var ids []int64
	if *customerID > 0 {
		ids = []int64{*customerID}
	}
	repaired, checked, err := repair(ctx, engine, customers.NewRepository(dbClient.DB()), *tenantID, *userID, ids, *batch, func(res ledger.ReconcileResult) {
		if res.Drifted() {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"customer_id": res.CustomerID,
				"previous":    res.Previous.StringFixed(2),
				"balance":     res.Balance.StringFixed(2),
			}), "balance repaired")
		}
	})
	ctx = logg.WithFields(ctx, map[string]any{"checked": checked, "repaired": repaired})
	if err != nil {
		logg.Error(ctx, "ledger repair finished with errors", err)
		os.Exit(1)
	}
	logg.Info(ctx, "ledger repair complete")
}
