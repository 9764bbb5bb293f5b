package models

import (
	"fmt"
	"strings"
	"time"
)

// AccountType classifies a GL account. Values are stored lowercase and
// parsed case-insensitively.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeIncome    AccountType = "income"
	AccountTypeExpense   AccountType = "expense"
	AccountTypeEquity    AccountType = "equity"
)

func ParseAccountType(s string) (AccountType, error) {
	t := AccountType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeIncome, AccountTypeExpense, AccountTypeEquity:
		return t, nil
	}
	return "", fmt.Errorf("unknown account type %q", s)
}

// IsDebitNormal reports whether a debit increases the account's balance.
// Asset and expense accounts are debit-normal; liability, income and
// equity accounts are credit-normal.
func (t AccountType) IsDebitNormal() bool {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return true
	case AccountTypeLiability, AccountTypeIncome, AccountTypeEquity:
		return false
	}
	return false
}

// GLAccount is one row of the chart of accounts.
type GLAccount struct {
	ID                         string      `json:"id" db:"id"`
	OrgID                      string      `json:"org_id" db:"org_id"`
	Name                       string      `json:"name" db:"name"`
	Type                       AccountType `json:"type" db:"type"`
	SubType                    string      `json:"sub_type" db:"sub_type"`
	IsBankAccount              bool        `json:"is_bank_account" db:"is_bank_account"`
	IsSecurityDepositLiability bool        `json:"is_security_deposit_liability" db:"is_security_deposit_liability"`
	ExcludeFromCashBalances    bool        `json:"exclude_from_cash_balances" db:"exclude_from_cash_balances"`
	AccountNumber              string      `json:"account_number,omitempty" db:"account_number"`
	RoutingNumber              string      `json:"routing_number,omitempty" db:"routing_number"`
	Country                    string      `json:"country,omitempty" db:"country"`
	ExternalAccountID          *int64      `json:"external_account_id,omitempty" db:"external_account_id"`
	IsActive                   bool        `json:"is_active" db:"is_active"`
	CreatedAt                  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt                  time.Time   `json:"updated_at" db:"updated_at"`
}

// ContributesToCashBalance reports whether lines against this account are
// part of the cash-balance fold. Only bank-flagged accounts that are not
// explicitly excluded participate.
func (a *GLAccount) ContributesToCashBalance() bool {
	return a.IsBankAccount && !a.ExcludeFromCashBalances
}
