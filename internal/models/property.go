package models

import (
	"github.com/shopspring/decimal"
)

// PropertyAccounts holds a property's financial configuration: the bank GL
// accounts it operates through and its held-back reserve. Either account
// link may be absent.
type PropertyAccounts struct {
	PropertyID               string          `json:"property_id" db:"id"`
	OrgID                    string          `json:"org_id" db:"org_id"`
	OperatingBankGLAccountID *string         `json:"operating_bank_gl_account_id,omitempty" db:"operating_bank_gl_account_id"`
	DepositTrustGLAccountID  *string         `json:"deposit_trust_gl_account_id,omitempty" db:"deposit_trust_gl_account_id"`
	Reserve                  decimal.Decimal `json:"reserve" db:"reserve"`
}

// PropertyFinancials is the derived financial summary for one property as
// of a date. Every figure is computed from posted transaction lines, never
// cached.
type PropertyFinancials struct {
	PropertyID       string          `json:"property_id"`
	AsOf             string          `json:"as_of"`
	CashBalance      decimal.Decimal `json:"cash_balance"`
	SecurityDeposits decimal.Decimal `json:"security_deposits"`
	Reserve          decimal.Decimal `json:"reserve"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
}
