package migrations

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Money columns are TEXT holding decimal strings so SQLite and Postgres
// round-trip amounts exactly. Timestamps are RFC 3339 text for the same reason.

var ledgerSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            username TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            password TEXT NOT NULL,
            role TEXT NOT NULL,
            business_id TEXT NOT NULL,
            created_at TEXT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS sales (
            id TEXT PRIMARY KEY,
            local_id TEXT NOT NULL,
            business_id TEXT NOT NULL,
            customer_name TEXT NOT NULL DEFAULT '',
            customer_phone TEXT NOT NULL DEFAULT '',
            payment_method TEXT NOT NULL,
            sale_type TEXT NOT NULL,
            notes TEXT NOT NULL DEFAULT '',
            total_amount TEXT NOT NULL,
            sold_by TEXT NOT NULL,
            created_at TEXT NOT NULL,
            UNIQUE(business_id, local_id)
        );`,
	`CREATE TABLE IF NOT EXISTS sale_items (
            id TEXT PRIMARY KEY,
            sale_id TEXT NOT NULL,
            position INTEGER NOT NULL,
            item_name TEXT NOT NULL,
            quantity INTEGER NOT NULL CHECK (quantity > 0),
            unit_price TEXT NOT NULL,
            total_price TEXT NOT NULL,
            cost_price TEXT NOT NULL,
            profit TEXT NOT NULL,
            FOREIGN KEY(sale_id) REFERENCES sales(id)
        );`,
	`CREATE INDEX IF NOT EXISTS sale_items_sale_id ON sale_items(sale_id);`,
	`CREATE TABLE IF NOT EXISTS debts (
            id TEXT PRIMARY KEY,
            business_id TEXT NOT NULL,
            debtor_name TEXT NOT NULL,
            debtor_phone TEXT NOT NULL DEFAULT '',
            debtor_email TEXT NOT NULL DEFAULT '',
            debt_type TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            original_amount TEXT NOT NULL,
            remaining_amount TEXT NOT NULL,
            status TEXT NOT NULL,
            related_sale_id TEXT UNIQUE,
            due_date TEXT,
            recorded_by TEXT NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL,
            FOREIGN KEY(related_sale_id) REFERENCES sales(id)
        );`,
	`CREATE INDEX IF NOT EXISTS debts_business_id ON debts(business_id);`,
	`CREATE TABLE IF NOT EXISTS debt_payments (
            id TEXT PRIMARY KEY,
            debt_id TEXT NOT NULL,
            amount TEXT NOT NULL,
            payment_method TEXT NOT NULL,
            notes TEXT NOT NULL DEFAULT '',
            recorded_by TEXT NOT NULL,
            created_at TEXT NOT NULL,
            FOREIGN KEY(debt_id) REFERENCES debts(id)
        );`,
	`CREATE INDEX IF NOT EXISTS debt_payments_debt_id ON debt_payments(debt_id);`,
}

var pendingSchema = []string{
	`CREATE TABLE IF NOT EXISTS pending_sales (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            business_id TEXT NOT NULL,
            local_id TEXT NOT NULL UNIQUE,
            payload TEXT NOT NULL,
            created_at TEXT NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS pending_sales_business ON pending_sales(business_id, seq);`,
	`CREATE TABLE IF NOT EXISTS debt_followups (
            local_id TEXT PRIMARY KEY,
            business_id TEXT NOT NULL,
            sale_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            last_error TEXT NOT NULL DEFAULT '',
            attempts INTEGER NOT NULL DEFAULT 0,
            created_at TEXT NOT NULL
        );`,
}

// Run creates the remote ledger schema.
func Run(db *sqlx.DB) error {
	return apply(db, ledgerSchema)
}

// RunPending creates the on-device queue schema. It is SQLite only.
func RunPending(db *sqlx.DB) error {
	return apply(db, pendingSchema)
}

func apply(db *sqlx.DB, schema []string) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
