package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for the ledger core. Callers match with errors.Is; HTTP
// handlers translate ErrReconciledLock to 409, ErrNotFound to 404 and the
// rest of the client errors to 4xx.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrReconciledLock    = errors.New("transaction is reconciled and locked")
	ErrCrossOrgViolation = errors.New("referenced transactions belong to different organizations")
	ErrOverApplication   = errors.New("applications exceed bill total")
)

// UnbalancedTransactionError reports which side of a transaction is heavier
// and by how much. It is returned before anything is persisted.
type UnbalancedTransactionError struct {
	DebitTotal  decimal.Decimal
	CreditTotal decimal.Decimal
}

func (e *UnbalancedTransactionError) Error() string {
	diff := e.DebitTotal.Sub(e.CreditTotal)
	side := "debits"
	if diff.IsNegative() {
		side = "credits"
	}
	return fmt.Sprintf("unbalanced transaction: %s exceed by %s (debits=%s credits=%s)",
		side, diff.Abs().StringFixed(2), e.DebitTotal.StringFixed(2), e.CreditTotal.StringFixed(2))
}

func (e *UnbalancedTransactionError) Unwrap() error { return ErrValidation }

// AccountReferenceError reports a line pointing at a missing or inactive GL
// account.
type AccountReferenceError struct {
	GLAccountID string
	Reason      string
}

func (e *AccountReferenceError) Error() string {
	return fmt.Sprintf("gl account %s: %s", e.GLAccountID, e.Reason)
}

func (e *AccountReferenceError) Unwrap() error { return ErrValidation }

// ReconciledLockError carries the transaction whose reconciled state blocked
// a mutation.
type ReconciledLockError struct {
	TransactionID string
	Operation     string
}

func (e *ReconciledLockError) Error() string {
	return fmt.Sprintf("%s rejected: transaction %s is reconciled", e.Operation, e.TransactionID)
}

func (e *ReconciledLockError) Unwrap() error { return ErrReconciledLock }

// OverApplicationError reports an application that would push a bill past
// its total. The request is rejected, never clamped.
type OverApplicationError struct {
	BillTransactionID string
	BillTotal         decimal.Decimal
	AlreadyApplied    decimal.Decimal
	Requested         decimal.Decimal
}

func (e *OverApplicationError) Error() string {
	return fmt.Sprintf("over-application on bill %s: %s applied + %s requested > %s total",
		e.BillTransactionID, e.AlreadyApplied.StringFixed(2), e.Requested.StringFixed(2), e.BillTotal.StringFixed(2))
}

func (e *OverApplicationError) Unwrap() error { return ErrOverApplication }

// ExternalSyncError wraps a per-item failure during reconciliation sync.
// The batch logs it and continues with the next item.
type ExternalSyncError struct {
	BankGLAccountID string
	ExternalID      int64
	Err             error
}

func (e *ExternalSyncError) Error() string {
	return fmt.Sprintf("sync failed for bank account %s (external %d): %v", e.BankGLAccountID, e.ExternalID, e.Err)
}

func (e *ExternalSyncError) Unwrap() error { return e.Err }

// IsConflict reports whether the error should surface as an HTTP 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrReconciledLock)
}

// IsClientError reports whether the error is the caller's fault rather than
// an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrReconciledLock) ||
		errors.Is(err, ErrCrossOrgViolation) ||
		errors.Is(err, ErrOverApplication)
}
