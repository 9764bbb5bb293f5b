package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Monetary columns are numeric(12,2) throughout. Never floating point.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS gl_accounts (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		sub_type TEXT NOT NULL DEFAULT '',
		is_bank_account BOOLEAN NOT NULL DEFAULT FALSE,
		is_security_deposit_liability BOOLEAN NOT NULL DEFAULT FALSE,
		exclude_from_cash_balances BOOLEAN NOT NULL DEFAULT FALSE,
		account_number TEXT,
		routing_number TEXT,
		country TEXT,
		external_account_id BIGINT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS properties (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		operating_bank_gl_account_id UUID REFERENCES gl_accounts(id),
		deposit_trust_gl_account_id UUID REFERENCES gl_accounts(id),
		reserve NUMERIC(12,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		transaction_type TEXT NOT NULL,
		date DATE NOT NULL,
		total_amount NUMERIC(12,2) NOT NULL CHECK (total_amount >= 0),
		lease_id BIGINT,
		property_id UUID,
		unit_id UUID,
		external_transaction_id BIGINT,
		bank_gl_account_id UUID REFERENCES gl_accounts(id),
		memo TEXT,
		reference_number TEXT,
		is_reconciled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (org_id, external_transaction_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transaction_lines (
		id UUID PRIMARY KEY,
		transaction_id UUID NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
		gl_account_id UUID NOT NULL REFERENCES gl_accounts(id),
		posting_type TEXT NOT NULL CHECK (posting_type IN ('Debit', 'Credit')),
		amount NUMERIC(12,2) NOT NULL CHECK (amount >= 0),
		property_id UUID,
		unit_id UUID,
		lease_id BIGINT,
		is_cash_posting BOOLEAN NOT NULL DEFAULT FALSE,
		memo TEXT,
		date DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transaction_lines_gl_date ON transaction_lines (gl_account_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_transaction_lines_property ON transaction_lines (property_id)`,
	`CREATE TABLE IF NOT EXISTS bill_applications (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		bill_transaction_id UUID NOT NULL REFERENCES transactions(id),
		source_transaction_id UUID NOT NULL REFERENCES transactions(id),
		source_type TEXT NOT NULL CHECK (source_type IN ('payment', 'credit', 'refund')),
		applied_amount NUMERIC(12,2) NOT NULL CHECK (applied_amount > 0),
		applied_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bill_applications_bill ON bill_applications (bill_transaction_id)`,
	`CREATE TABLE IF NOT EXISTS reconciliation_log (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		external_reconciliation_id BIGINT NOT NULL,
		external_bank_account_id BIGINT NOT NULL,
		bank_gl_account_id UUID NOT NULL REFERENCES gl_accounts(id),
		property_id UUID,
		statement_ending_date DATE,
		is_finished BOOLEAN NOT NULL DEFAULT FALSE,
		ending_balance NUMERIC(12,2),
		total_checks_withdrawals NUMERIC(12,2),
		total_deposits_additions NUMERIC(12,2),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (org_id, external_reconciliation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS payer_restrictions (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		payer_id UUID NOT NULL,
		restriction_type TEXT NOT NULL,
		restricted_until TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS payer_restriction_methods (
		restriction_id UUID NOT NULL REFERENCES payer_restrictions(id) ON DELETE CASCADE,
		payment_method TEXT NOT NULL,
		PRIMARY KEY (restriction_id, payment_method)
	)`,
}

// EnsureSchema creates the ledger tables if they do not exist. Safe to run
// on every startup.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	log.Println("Database schema verified")
	return nil
}
