package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationSourceType is the kind of transaction being applied against a
// bill.
type ApplicationSourceType string

const (
	SourcePayment ApplicationSourceType = "payment"
	SourceCredit  ApplicationSourceType = "credit"
	SourceRefund  ApplicationSourceType = "refund"
)

func ParseApplicationSourceType(s string) (ApplicationSourceType, error) {
	switch ApplicationSourceType(s) {
	case SourcePayment:
		return SourcePayment, nil
	case SourceCredit:
		return SourceCredit, nil
	case SourceRefund:
		return SourceRefund, nil
	}
	return "", fmt.Errorf("unknown application source type %q", s)
}

// BillApplication links a payment/credit/refund transaction to the bill it
// settles. The sum of applied amounts against one bill never exceeds the
// bill's total, and applications whose source transaction is reconciled are
// frozen.
type BillApplication struct {
	ID                  string                `json:"id" db:"id"`
	OrgID               string                `json:"org_id" db:"org_id"`
	BillTransactionID   string                `json:"bill_transaction_id" db:"bill_transaction_id"`
	SourceTransactionID string                `json:"source_transaction_id" db:"source_transaction_id"`
	SourceType          ApplicationSourceType `json:"source_type" db:"source_type"`
	AppliedAmount       decimal.Decimal       `json:"applied_amount" db:"applied_amount"`
	AppliedAt           time.Time             `json:"applied_at" db:"applied_at"`
	CreatedAt           time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at" db:"updated_at"`
}
