package models

import (
	"fmt"
	"time"
)

// PaymentMethod is the closed set of methods a restriction can block.
type PaymentMethod string

const (
	MethodCheck             PaymentMethod = "Check"
	MethodCash              PaymentMethod = "Cash"
	MethodMoneyOrder        PaymentMethod = "MoneyOrder"
	MethodCreditCard        PaymentMethod = "CreditCard"
	MethodElectronicPayment PaymentMethod = "ElectronicPayment"
	MethodDirectDeposit     PaymentMethod = "DirectDeposit"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(s)
	switch m {
	case MethodCheck, MethodCash, MethodMoneyOrder, MethodCreditCard,
		MethodElectronicPayment, MethodDirectDeposit:
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// PayerRestriction blocks a payer from a set of payment methods within a
// window. RestrictedUntil nil means indefinite. A payer may carry several
// restrictions at once; callers evaluate them as a union.
type PayerRestriction struct {
	ID              string          `json:"id" db:"id"`
	OrgID           string          `json:"org_id" db:"org_id"`
	PayerID         string          `json:"payer_id" db:"payer_id"`
	RestrictionType string          `json:"restriction_type" db:"restriction_type"`
	RestrictedUntil *time.Time      `json:"restricted_until,omitempty" db:"restricted_until"`
	Methods         []PaymentMethod `json:"payment_methods" db:"-"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Expired reports whether the restriction window has passed. Computed at
// read time; there is no background sweep.
func (r *PayerRestriction) Expired(now time.Time) bool {
	return r.RestrictedUntil != nil && !r.RestrictedUntil.After(now)
}
