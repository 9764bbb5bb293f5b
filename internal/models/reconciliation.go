package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationLog mirrors one statement period from the external bank
// system. Rows are keyed by ExternalID so repeated syncs upsert instead of
// duplicating. Once IsFinished flips true the period is closed and never
// reverts to pending.
type ReconciliationLog struct {
	ID                     string           `json:"id" db:"id"`
	OrgID                  string           `json:"org_id" db:"org_id"`
	ExternalID             int64            `json:"external_reconciliation_id" db:"external_reconciliation_id"`
	ExternalBankAccountID  int64            `json:"external_bank_account_id" db:"external_bank_account_id"`
	BankGLAccountID        string           `json:"bank_gl_account_id" db:"bank_gl_account_id"`
	PropertyID             *string          `json:"property_id,omitempty" db:"property_id"`
	StatementEndingDate    *time.Time       `json:"statement_ending_date,omitempty" db:"statement_ending_date"`
	IsFinished             bool             `json:"is_finished" db:"is_finished"`
	EndingBalance          *decimal.Decimal `json:"ending_balance,omitempty" db:"ending_balance"`
	TotalChecksWithdrawals *decimal.Decimal `json:"total_checks_withdrawals,omitempty" db:"total_checks_withdrawals"`
	TotalDepositsAdditions *decimal.Decimal `json:"total_deposits_additions,omitempty" db:"total_deposits_additions"`
	CreatedAt              time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at" db:"updated_at"`
}
