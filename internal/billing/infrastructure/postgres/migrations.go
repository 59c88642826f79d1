package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	name string
	up   string
}

var migrations = []migration{
	{
		name: "create_billing_contracts",
		up: `
CREATE TABLE IF NOT EXISTS billing_contracts (
    id                    TEXT PRIMARY KEY,
    contract_type         TEXT NOT NULL DEFAULT '',
    school_org_nr         TEXT NOT NULL DEFAULT '',
    student_name          TEXT NOT NULL DEFAULT '',
    student_national_id   TEXT NOT NULL DEFAULT '',
    student_class         TEXT NOT NULL DEFAULT '',
    student_school        TEXT NOT NULL DEFAULT '',
    guardian_name         TEXT,
    guardian_national_id  TEXT,
    signed_by_name        TEXT NOT NULL DEFAULT '',
    signed_by_national_id TEXT NOT NULL DEFAULT '',
    customer_imported_at  TIMESTAMPTZ,
    not_found_in_registry BOOLEAN NOT NULL DEFAULT FALSE
);`,
	},
	{
		name: "create_billing_installments",
		up: `
CREATE TABLE IF NOT EXISTS billing_installments (
    contract_id   TEXT NOT NULL REFERENCES billing_contracts (id) ON DELETE CASCADE,
    rate_key      TEXT NOT NULL,
    billing_year  INT NOT NULL DEFAULT 0,
    status        TEXT NOT NULL DEFAULT 'Ikke Fakturert',
    invoiced_at   TIMESTAMPTZ,
    serial_number TEXT NOT NULL DEFAULT '',
    amount        NUMERIC(12,2),
    PRIMARY KEY (contract_id, rate_key)
);

CREATE INDEX IF NOT EXISTS idx_billing_installments_year ON billing_installments (billing_year);
CREATE INDEX IF NOT EXISTS idx_billing_installments_invoiced_at ON billing_installments (invoiced_at);`,
	},
	{
		name: "create_billing_serial_numbers",
		up: `
CREATE TABLE IF NOT EXISTS billing_serial_numbers (
    iteration_number BIGINT PRIMARY KEY,
    current_year     INT NOT NULL,
    rate_number      INT NOT NULL,
    random_suffix    TEXT NOT NULL,
    system           TEXT NOT NULL,
    serial_number    TEXT NOT NULL UNIQUE,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS billing_counters (
    name TEXT PRIMARY KEY,
    seq  BIGINT NOT NULL
);`,
	},
	{
		name: "create_billing_price_settings",
		up: `
CREATE TABLE IF NOT EXISTS billing_price_settings (
    id                      INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    regular_price           NUMERIC(12,2) NOT NULL DEFAULT 0,
    reduced_price           NUMERIC(12,2) NOT NULL DEFAULT 0,
    student_exceptions      JSONB NOT NULL DEFAULT '[]',
    class_exceptions        JSONB NOT NULL DEFAULT '[]',
    invoice_flow_exceptions JSONB NOT NULL DEFAULT '[]',
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
}

// Migrate creates the billing tables. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("billing/postgres: nil db")
	}
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.up); err != nil {
			return fmt.Errorf("billing/postgres: migration %s: %w", m.name, err)
		}
	}
	return nil
}
