package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Column types differ between the two dialects. Money is kept as text on
// sqlite so amounts never round-trip through float64, and as unscaled
// NUMERIC on postgres so a unit price like 0.125 is stored as given.
var columnTypes = map[string]*strings.Replacer{
	DriverPostgres: strings.NewReplacer(
		"{{money}}", "NUMERIC",
		"{{time}}", "TIMESTAMPTZ",
		"{{blob}}", "BYTEA",
	),
	DriverSQLite: strings.NewReplacer(
		"{{money}}", "TEXT",
		"{{time}}", "TIMESTAMP",
		"{{blob}}", "BLOB",
	),
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		date_of_birth {{time}},
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS doctors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		department TEXT NOT NULL DEFAULT '',
		consultation_fee {{money}},
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS visits (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		visit_date {{time}} NOT NULL,
		consultations TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_visits_patient ON visits (patient_id)`,
	`CREATE TABLE IF NOT EXISTS packages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		total_price {{money}} NOT NULL,
		items TEXT NOT NULL,
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS patient_packages (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		package_id TEXT NOT NULL REFERENCES packages (id),
		status TEXT NOT NULL,
		assigned_at {{time}} NOT NULL,
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_patient_packages_patient ON patient_packages (patient_id, status)`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		invoice_number TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL,
		patient_name TEXT NOT NULL,
		items TEXT NOT NULL,
		total_amount {{money}} NOT NULL,
		payment_mode TEXT NOT NULL,
		payment_breakdown TEXT,
		created_by TEXT NOT NULL DEFAULT '',
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_patient ON invoices (patient_id)`,
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		name_key TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT '',
		unit_price {{money}} NOT NULL,
		batches TEXT NOT NULL,
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES inventory_items (id),
		item_name TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		change INTEGER NOT NULL,
		reason TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at {{time}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_item ON stock_movements (item_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload {{blob}} NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		retry_at {{time}},
		processed_at {{time}},
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_status ON outbox_events (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		changes {{blob}} NOT NULL,
		metadata {{blob}} NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at {{time}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs (entity_type, entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs (created_at)`,
}

// Migrate creates every ledger table that does not exist yet.
// upgrades bring tables created by earlier releases in line with schema.
// Each statement must be safe to repeat.
var upgrades = map[string][]string{
	// money columns used to be NUMERIC(14,2), which rounded unit prices
	DriverPostgres: {
		`ALTER TABLE doctors ALTER COLUMN consultation_fee TYPE NUMERIC`,
		`ALTER TABLE packages ALTER COLUMN total_price TYPE NUMERIC`,
		`ALTER TABLE invoices ALTER COLUMN total_amount TYPE NUMERIC`,
		`ALTER TABLE inventory_items ALTER COLUMN unit_price TYPE NUMERIC`,
	},
}

// statements renders the schema and upgrades for driver.
func statements(driver string) ([]string, error) {
	types, ok := columnTypes[driver]
	if !ok {
		return nil, fmt.Errorf("no schema for driver %q", driver)
	}
	out := make([]string, 0, len(schema)+len(upgrades[driver]))
	for _, stmt := range schema {
		out = append(out, types.Replace(stmt))
	}
	return append(out, upgrades[driver]...), nil
}

func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, err := statements(db.DriverName())
	if err != nil {
		return err
	}

	return WithTx(ctx, db, func(tx *sqlx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}
		return nil
	})
}
