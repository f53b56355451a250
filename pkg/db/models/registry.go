package models

// All lists the ledger tables in dependency order. Used by AutoMigrate for the
// SQLite dev driver and in tests; Postgres schemas come from goose migrations.
func All() []any {
	return []any{
		&Customer{},
		&Sale{},
		&Payment{},
		&PaymentIdempotency{},
		&OutboxEvent{},
	}
}
