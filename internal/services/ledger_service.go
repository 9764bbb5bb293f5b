package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/parkrowpm/ledger/internal/audit"
	"github.com/parkrowpm/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// balanceTolerance is the rounding slack for the double-entry invariant:
// debit and credit totals must agree to two decimal places.
var balanceTolerance = decimal.New(5, -3) // 0.005

// LedgerService owns the Transaction/TransactionLine lifecycle. It is the
// only write path into the ledger: every transaction it accepts balances,
// and nothing under a reconciled transaction can be mutated through it.
//
// The balance invariant is checked here rather than trusted from upstream
// mappers because external sync is known to sometimes deliver only one side
// of a transaction.
type LedgerService struct {
	db        *sql.DB
	accounts  *GLAccountService
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewLedgerService(db *sql.DB, accounts *GLAccountService, auditLogger *audit.Logger) *LedgerService {
	return &LedgerService{
		db:        db,
		accounts:  accounts,
		audit:     auditLogger,
		validator: NewValidationHelper(),
	}
}

type LineInput struct {
	GLAccountID string          `json:"gl_account_id" validate:"required"`
	PostingType string          `json:"posting_type" validate:"required,oneof=Debit Credit"`
	Amount      decimal.Decimal `json:"amount"`
	PropertyID  *string         `json:"property_id"`
	UnitID      *string         `json:"unit_id"`
	LeaseID     *int64          `json:"lease_id"`
	Memo        string          `json:"memo"`
	Date        time.Time       `json:"date"`
}

type TransactionInput struct {
	TransactionType string          `json:"transaction_type" validate:"required"`
	Date            time.Time       `json:"date" validate:"required"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	LeaseID         *int64          `json:"lease_id"`
	PropertyID      *string         `json:"property_id"`
	UnitID          *string         `json:"unit_id"`
	ExternalID      *int64          `json:"external_transaction_id"`
	BankGLAccountID *string         `json:"bank_gl_account_id"`
	Memo            string          `json:"memo"`
	ReferenceNumber string          `json:"reference_number"`
	Lines           []LineInput     `json:"lines" validate:"required,min=2,dive"`
}

// PostTransaction validates and persists a header plus its lines as one
// atomic unit. Validation failures are returned before anything is written;
// there is no partial persistence and no external call.
func (s *LedgerService) PostTransaction(ctx context.Context, orgID string, in TransactionInput) (string, error) {
	if err := s.validator.ValidateStruct(&in); err != nil {
		return "", err
	}

	txType, err := models.ParseTransactionType(in.TransactionType)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrValidation)
	}
	if in.TotalAmount.IsNegative() {
		return "", fmt.Errorf("total_amount must be non-negative: %w", ErrValidation)
	}

	accountIDs := make([]string, 0, len(in.Lines))
	postings := make([]models.PostingType, len(in.Lines))
	for i, line := range in.Lines {
		posting, err := models.ParsePostingType(line.PostingType)
		if err != nil {
			return "", fmt.Errorf("line %d: %v: %w", i, err, ErrValidation)
		}
		postings[i] = posting
		if !line.Amount.IsPositive() {
			return "", fmt.Errorf("line %d: amount must be positive: %w", i, ErrValidation)
		}
		accountIDs = append(accountIDs, line.GLAccountID)
	}

	accounts, err := s.accounts.AccountsByID(ctx, orgID, accountIDs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve gl accounts: %w", err)
	}
	for _, line := range in.Lines {
		account, ok := accounts[line.GLAccountID]
		if !ok {
			return "", &AccountReferenceError{GLAccountID: line.GLAccountID, Reason: "unknown account"}
		}
		if !account.IsActive {
			return "", &AccountReferenceError{GLAccountID: line.GLAccountID, Reason: "account is inactive"}
		}
	}

	debits, credits := decimal.Zero, decimal.Zero
	for i, line := range in.Lines {
		switch postings[i] {
		case models.PostingDebit:
			debits = debits.Add(line.Amount)
		case models.PostingCredit:
			credits = credits.Add(line.Amount)
		}
	}
	if debits.Sub(credits).Abs().GreaterThan(balanceTolerance) {
		return "", &UnbalancedTransactionError{DebitTotal: debits, CreditTotal: credits}
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	transactionID := uuid.NewString()
	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO transactions
		(id, org_id, transaction_type, date, total_amount, lease_id, property_id, unit_id,
		 external_transaction_id, bank_gl_account_id, memo, reference_number, is_reconciled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, NOW(), NOW())
	`, transactionID, orgID, string(txType), in.Date, in.TotalAmount,
		in.LeaseID, in.PropertyID, in.UnitID, in.ExternalID, in.BankGLAccountID,
		in.Memo, in.ReferenceNumber)
	if err != nil {
		return "", fmt.Errorf("failed to insert transaction header: %w", err)
	}

	for i, line := range in.Lines {
		account := accounts[line.GLAccountID]
		lineDate := line.Date
		if lineDate.IsZero() {
			lineDate = in.Date
		}
		_, err = dbTx.ExecContext(ctx, `
			INSERT INTO transaction_lines
			(id, transaction_id, gl_account_id, posting_type, amount, property_id, unit_id,
			 lease_id, is_cash_posting, memo, date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		`, uuid.NewString(), transactionID, line.GLAccountID, string(postings[i]), line.Amount,
			line.PropertyID, line.UnitID, line.LeaseID, account.ContributesToCashBalance(),
			line.Memo, lineDate)
		if err != nil {
			return "", fmt.Errorf("failed to insert transaction line %d: %w", i, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.audit.LogPosted(orgID, transactionID, in.TotalAmount, len(in.Lines))
	return transactionID, nil
}

// Querier abstracts *sql.DB and *sql.Tx so the reconciliation guard can run
// either standalone or inside an open transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LockIfReconciled is the single reconciliation guard. Every mutating
// operation in this service and in the bill application service calls it
// before proceeding; a reconciled transaction surfaces as a conflict, never
// silently skipped.
func (s *LedgerService) LockIfReconciled(ctx context.Context, orgID, transactionID, operation string) error {
	return s.lockIfReconciled(ctx, s.db, orgID, transactionID, operation, `
		SELECT is_reconciled FROM transactions WHERE id = $1 AND org_id = $2
	`)
}

// LockIfReconciledIn is the guard run inside a caller's transaction. It
// takes a row lock so the reconciled flag cannot flip under a concurrent
// mutation before the caller commits.
func (s *LedgerService) LockIfReconciledIn(ctx context.Context, q Querier, orgID, transactionID, operation string) error {
	return s.lockIfReconciled(ctx, q, orgID, transactionID, operation, `
		SELECT is_reconciled FROM transactions WHERE id = $1 AND org_id = $2 FOR UPDATE
	`)
}

func (s *LedgerService) lockIfReconciled(ctx context.Context, q Querier, orgID, transactionID, operation, query string) error {
	var isReconciled bool
	err := q.QueryRowContext(ctx, query, transactionID, orgID).Scan(&isReconciled)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check reconciliation state: %w", err)
	}
	if isReconciled {
		s.audit.LogLockRejected(orgID, transactionID, operation)
		return &ReconciledLockError{TransactionID: transactionID, Operation: operation}
	}
	return nil
}

type LineUpdateInput struct {
	PostingType string          `json:"posting_type" validate:"required,oneof=Debit Credit"`
	Amount      decimal.Decimal `json:"amount"`
	Memo        string          `json:"memo"`
}

// UpdateLine edits one line of an unreconciled transaction. The edit is
// rejected when it would leave the transaction unbalanced.
func (s *LedgerService) UpdateLine(ctx context.Context, orgID, lineID string, in LineUpdateInput) error {
	if err := s.validator.ValidateStruct(&in); err != nil {
		return err
	}
	posting, err := models.ParsePostingType(in.PostingType)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive: %w", ErrValidation)
	}

	transactionID, err := s.lineParent(ctx, lineID)
	if err != nil {
		return err
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	// Guarded inside the transaction so the reconciled flag cannot flip
	// between the check and the write.
	if err := s.LockIfReconciledIn(ctx, dbTx, orgID, transactionID, "update line"); err != nil {
		return err
	}

	debits, credits, _, err := siblingTotals(ctx, dbTx, transactionID, lineID)
	if err != nil {
		return err
	}
	switch posting {
	case models.PostingDebit:
		debits = debits.Add(in.Amount)
	case models.PostingCredit:
		credits = credits.Add(in.Amount)
	}
	if debits.Sub(credits).Abs().GreaterThan(balanceTolerance) {
		return &UnbalancedTransactionError{DebitTotal: debits, CreditTotal: credits}
	}

	_, err = dbTx.ExecContext(ctx, `
		UPDATE transaction_lines
		SET posting_type = $1, amount = $2, memo = $3, updated_at = NOW()
		WHERE id = $4
	`, string(posting), in.Amount, in.Memo, lineID)
	if err != nil {
		return fmt.Errorf("failed to update line: %w", err)
	}
	return dbTx.Commit()
}

// DeleteLine removes one line of an unreconciled transaction. The last two
// lines cannot be split apart: a delete that would leave a single-sided
// transaction is rejected.
func (s *LedgerService) DeleteLine(ctx context.Context, orgID, lineID string) error {
	transactionID, err := s.lineParent(ctx, lineID)
	if err != nil {
		return err
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	if err := s.LockIfReconciledIn(ctx, dbTx, orgID, transactionID, "delete line"); err != nil {
		return err
	}

	debits, credits, remaining, err := siblingTotals(ctx, dbTx, transactionID, lineID)
	if err != nil {
		return err
	}
	if remaining > 0 && debits.Sub(credits).Abs().GreaterThan(balanceTolerance) {
		return &UnbalancedTransactionError{DebitTotal: debits, CreditTotal: credits}
	}

	_, err = dbTx.ExecContext(ctx, `DELETE FROM transaction_lines WHERE id = $1`, lineID)
	if err != nil {
		return fmt.Errorf("failed to delete line: %w", err)
	}
	return dbTx.Commit()
}

// GetTransaction loads a header with its lines.
func (s *LedgerService) GetTransaction(ctx context.Context, orgID, transactionID string) (*models.Transaction, []models.TransactionLine, error) {
	var t models.Transaction
	var rawType string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, transaction_type, date, total_amount, lease_id, property_id, unit_id,
		       external_transaction_id, bank_gl_account_id, COALESCE(memo, ''), COALESCE(reference_number, ''), is_reconciled
		FROM transactions
		WHERE id = $1 AND org_id = $2
	`, transactionID, orgID).Scan(&t.ID, &t.OrgID, &rawType, &t.Date, &t.TotalAmount,
		&t.LeaseID, &t.PropertyID, &t.UnitID, &t.ExternalID, &t.BankGLAccountID,
		&t.Memo, &t.ReferenceNumber, &t.IsReconciled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	t.TransactionType, err = models.ParseTransactionType(rawType)
	if err != nil {
		return nil, nil, fmt.Errorf("transaction %s: %v: %w", t.ID, err, ErrValidation)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, gl_account_id, posting_type, amount, property_id, unit_id,
		       lease_id, is_cash_posting, COALESCE(memo, ''), date
		FROM transaction_lines
		WHERE transaction_id = $1
		ORDER BY created_at
	`, transactionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load transaction lines: %w", err)
	}
	defer rows.Close()

	var lines []models.TransactionLine
	for rows.Next() {
		var line models.TransactionLine
		var rawPosting string
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.GLAccountID, &rawPosting,
			&line.Amount, &line.PropertyID, &line.UnitID, &line.LeaseID,
			&line.IsCashPosting, &line.Memo, &line.Date); err != nil {
			return nil, nil, err
		}
		line.PostingType, err = models.ParsePostingType(rawPosting)
		if err != nil {
			return nil, nil, fmt.Errorf("line %s: %v: %w", line.ID, err, ErrValidation)
		}
		lines = append(lines, line)
	}
	return &t, lines, rows.Err()
}

func (s *LedgerService) lineParent(ctx context.Context, lineID string) (string, error) {
	var transactionID string
	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id FROM transaction_lines WHERE id = $1
	`, lineID).Scan(&transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("transaction line %s: %w", lineID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load transaction line: %w", err)
	}
	return transactionID, nil
}

// siblingTotals sums the debit and credit sides of a transaction excluding
// one line, returning the count of lines that would remain.
func siblingTotals(ctx context.Context, dbTx *sql.Tx, transactionID, excludeLineID string) (debits, credits decimal.Decimal, remaining int, err error) {
	debits, credits = decimal.Zero, decimal.Zero
	rows, err := dbTx.QueryContext(ctx, `
		SELECT posting_type, amount
		FROM transaction_lines
		WHERE transaction_id = $1 AND id <> $2
	`, transactionID, excludeLineID)
	if err != nil {
		return debits, credits, 0, fmt.Errorf("failed to load sibling lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rawPosting string
		var amount decimal.Decimal
		if err := rows.Scan(&rawPosting, &amount); err != nil {
			return debits, credits, 0, err
		}
		posting, perr := models.ParsePostingType(rawPosting)
		if perr != nil {
			log.Printf("[LEDGER] Skipping line with invalid posting type on %s: %v", transactionID, perr)
			continue
		}
		remaining++
		switch posting {
		case models.PostingDebit:
			debits = debits.Add(amount)
		case models.PostingCredit:
			credits = credits.Add(amount)
		}
	}
	return debits, credits, remaining, rows.Err()
}
