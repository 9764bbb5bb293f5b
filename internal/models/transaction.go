package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the closed set of header types the ledger accepts.
type TransactionType string

const (
	TransactionTypePayment             TransactionType = "Payment"
	TransactionTypeBill                TransactionType = "Bill"
	TransactionTypeCharge              TransactionType = "Charge"
	TransactionTypeCredit              TransactionType = "Credit"
	TransactionTypeApplyDeposit        TransactionType = "ApplyDeposit"
	TransactionTypeRefund              TransactionType = "Refund"
	TransactionTypeGeneralJournalEntry TransactionType = "GeneralJournalEntry"
	TransactionTypeDeposit             TransactionType = "Deposit"
	TransactionTypeTransfer            TransactionType = "Transfer"
)

func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(s)
	switch t {
	case TransactionTypePayment, TransactionTypeBill, TransactionTypeCharge,
		TransactionTypeCredit, TransactionTypeApplyDeposit, TransactionTypeRefund,
		TransactionTypeGeneralJournalEntry, TransactionTypeDeposit, TransactionTypeTransfer:
		return t, nil
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// PostingType is the side of a double-entry line.
type PostingType string

const (
	PostingDebit  PostingType = "Debit"
	PostingCredit PostingType = "Credit"
)

func ParsePostingType(s string) (PostingType, error) {
	switch PostingType(s) {
	case PostingDebit:
		return PostingDebit, nil
	case PostingCredit:
		return PostingCredit, nil
	}
	return "", fmt.Errorf("unknown posting type %q", s)
}

// SignedAmount converts a line's magnitude into a signed contribution for
// the account it posts to. The sign is conditioned on the account's normal
// balance, not hard-coded to the asset convention: a debit increases a
// debit-normal account and decreases a credit-normal one.
func SignedAmount(amount decimal.Decimal, posting PostingType, accountType AccountType) decimal.Decimal {
	switch posting {
	case PostingDebit:
		if accountType.IsDebitNormal() {
			return amount
		}
		return amount.Neg()
	case PostingCredit:
		if accountType.IsDebitNormal() {
			return amount.Neg()
		}
		return amount
	}
	return decimal.Zero
}

// Transaction is a ledger header. TotalAmount is a magnitude, never signed.
type Transaction struct {
	ID              string          `json:"id" db:"id"`
	OrgID           string          `json:"org_id" db:"org_id"`
	TransactionType TransactionType `json:"transaction_type" db:"transaction_type"`
	Date            time.Time       `json:"date" db:"date"`
	TotalAmount     decimal.Decimal `json:"total_amount" db:"total_amount"`
	LeaseID         *int64          `json:"lease_id,omitempty" db:"lease_id"`
	PropertyID      *string         `json:"property_id,omitempty" db:"property_id"`
	UnitID          *string         `json:"unit_id,omitempty" db:"unit_id"`
	ExternalID      *int64          `json:"external_transaction_id,omitempty" db:"external_transaction_id"`
	BankGLAccountID *string         `json:"bank_gl_account_id,omitempty" db:"bank_gl_account_id"`
	Memo            string          `json:"memo,omitempty" db:"memo"`
	ReferenceNumber string          `json:"reference_number,omitempty" db:"reference_number"`
	IsReconciled    bool            `json:"is_reconciled" db:"is_reconciled"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// TransactionLine is one side of a posting. Amount is a non-negative
// magnitude; direction comes from PostingType. Property/unit/lease context
// is denormalized onto the line for query performance.
type TransactionLine struct {
	ID            string          `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	GLAccountID   string          `json:"gl_account_id" db:"gl_account_id"`
	PostingType   PostingType     `json:"posting_type" db:"posting_type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	PropertyID    *string         `json:"property_id,omitempty" db:"property_id"`
	UnitID        *string         `json:"unit_id,omitempty" db:"unit_id"`
	LeaseID       *int64          `json:"lease_id,omitempty" db:"lease_id"`
	IsCashPosting bool            `json:"is_cash_posting" db:"is_cash_posting"`
	Memo          string          `json:"memo,omitempty" db:"memo"`
	Date          time.Time       `json:"date" db:"date"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}
