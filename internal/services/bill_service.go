package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/parkrowpm/ledger/internal/audit"
	"github.com/parkrowpm/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// BillService manages bill applications: the links that settle a bill from
// payment, credit or refund transactions. Over-application is rejected under
// a row lock on the bill so two concurrent applications cannot both observe
// room and overshoot together.
type BillService struct {
	db     *sql.DB
	ledger *LedgerService
	audit  *audit.Logger
}

func NewBillService(db *sql.DB, ledger *LedgerService, auditLogger *audit.Logger) *BillService {
	return &BillService{db: db, ledger: ledger, audit: auditLogger}
}

type ApplyInput struct {
	BillTransactionID   string          `json:"bill_transaction_id" validate:"required"`
	SourceTransactionID string          `json:"source_transaction_id" validate:"required"`
	SourceType          string          `json:"source_type" validate:"required,oneof=payment credit refund"`
	Amount              decimal.Decimal `json:"amount"`
}

// ApplyPayment records an application of a source transaction against a
// bill. Both transactions must belong to the caller's org, neither may be
// reconciled, and the applied total across all applications may not exceed
// the bill's total amount.
func (s *BillService) ApplyPayment(ctx context.Context, orgID string, in ApplyInput) (string, error) {
	if err := s.ledger.validator.ValidateStruct(&in); err != nil {
		return "", err
	}
	sourceType, err := models.ParseApplicationSourceType(in.SourceType)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return "", fmt.Errorf("applied amount must be positive: %w", ErrValidation)
	}
	if in.BillTransactionID == in.SourceTransactionID {
		return "", fmt.Errorf("a bill cannot be applied to itself: %w", ErrValidation)
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	bill, err := s.headerForUpdate(ctx, dbTx, in.BillTransactionID)
	if err != nil {
		return "", err
	}
	source, err := s.headerForUpdate(ctx, dbTx, in.SourceTransactionID)
	if err != nil {
		return "", err
	}

	if bill.OrgID != orgID || source.OrgID != orgID || bill.OrgID != source.OrgID {
		return "", fmt.Errorf("bill %s and source %s: %w", in.BillTransactionID, in.SourceTransactionID, ErrCrossOrgViolation)
	}
	if bill.TransactionType != models.TransactionTypeBill {
		return "", fmt.Errorf("transaction %s is a %s, not a bill: %w", bill.ID, bill.TransactionType, ErrValidation)
	}
	if err := s.ledger.LockIfReconciledIn(ctx, dbTx, orgID, bill.ID, "apply payment"); err != nil {
		return "", err
	}
	if err := s.ledger.LockIfReconciledIn(ctx, dbTx, orgID, source.ID, "apply payment"); err != nil {
		return "", err
	}

	applied, err := appliedTotal(ctx, dbTx, orgID, bill.ID)
	if err != nil {
		return "", err
	}
	if applied.Add(in.Amount).Sub(bill.TotalAmount).GreaterThan(balanceTolerance) {
		return "", &OverApplicationError{
			BillTransactionID: bill.ID,
			BillTotal:         bill.TotalAmount,
			AlreadyApplied:    applied,
			Requested:         in.Amount,
		}
	}

	applicationID := uuid.NewString()
	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO bill_applications
		(id, org_id, bill_transaction_id, source_transaction_id, source_type, applied_amount, applied_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), NOW())
	`, applicationID, orgID, bill.ID, source.ID, string(sourceType), in.Amount)
	if err != nil {
		return "", fmt.Errorf("failed to insert bill application: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit bill application: %w", err)
	}

	s.audit.LogApplication(orgID, bill.ID, source.ID, in.Amount, false)
	return applicationID, nil
}

// UnapplyPayment removes an existing application. The removal is refused
// when either side of the link has been reconciled, since unapplying would
// change what a closed statement period settled.
func (s *BillService) UnapplyPayment(ctx context.Context, orgID, applicationID string) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	var app models.BillApplication
	err = dbTx.QueryRowContext(ctx, `
		SELECT id, bill_transaction_id, source_transaction_id, applied_amount
		FROM bill_applications
		WHERE id = $1 AND org_id = $2
		FOR UPDATE
	`, applicationID, orgID).Scan(&app.ID, &app.BillTransactionID, &app.SourceTransactionID, &app.AppliedAmount)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("bill application %s: %w", applicationID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load bill application: %w", err)
	}

	if err := s.ledger.LockIfReconciledIn(ctx, dbTx, orgID, app.BillTransactionID, "unapply payment"); err != nil {
		return err
	}
	if err := s.ledger.LockIfReconciledIn(ctx, dbTx, orgID, app.SourceTransactionID, "unapply payment"); err != nil {
		return err
	}

	_, err = dbTx.ExecContext(ctx, `DELETE FROM bill_applications WHERE id = $1`, applicationID)
	if err != nil {
		return fmt.Errorf("failed to delete bill application: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit removal: %w", err)
	}

	s.audit.LogApplication(orgID, app.BillTransactionID, app.SourceTransactionID, app.AppliedAmount, true)
	return nil
}

// AppliedTotal is the sum already applied against a bill.
func (s *BillService) AppliedTotal(ctx context.Context, orgID, billTransactionID string) (decimal.Decimal, error) {
	return appliedTotal(ctx, s.db, orgID, billTransactionID)
}

// OutstandingAmount is the bill's total minus everything applied so far.
func (s *BillService) OutstandingAmount(ctx context.Context, orgID, billTransactionID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT total_amount FROM transactions
		WHERE id = $1 AND org_id = $2 AND transaction_type = 'Bill'
	`, billTransactionID, orgID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("bill %s: %w", billTransactionID, ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load bill: %w", err)
	}

	applied, err := appliedTotal(ctx, s.db, orgID, billTransactionID)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Sub(applied), nil
}

// ApplicationsForBill lists the applications against one bill, newest first.
func (s *BillService) ApplicationsForBill(ctx context.Context, orgID, billTransactionID string) ([]models.BillApplication, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, bill_transaction_id, source_transaction_id, source_type, applied_amount, applied_at
		FROM bill_applications
		WHERE org_id = $1 AND bill_transaction_id = $2
		ORDER BY applied_at DESC
	`, orgID, billTransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bill applications: %w", err)
	}
	defer rows.Close()

	var apps []models.BillApplication
	for rows.Next() {
		var app models.BillApplication
		var rawSourceType string
		if err := rows.Scan(&app.ID, &app.OrgID, &app.BillTransactionID, &app.SourceTransactionID,
			&rawSourceType, &app.AppliedAmount, &app.AppliedAt); err != nil {
			return nil, err
		}
		app.SourceType, err = models.ParseApplicationSourceType(rawSourceType)
		if err != nil {
			return nil, fmt.Errorf("application %s: %v: %w", app.ID, err, ErrValidation)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func appliedTotal(ctx context.Context, q Querier, orgID, billTransactionID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(applied_amount), 0)
		FROM bill_applications
		WHERE org_id = $1 AND bill_transaction_id = $2
	`, orgID, billTransactionID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum applied amounts: %w", err)
	}
	return total, nil
}

func (s *BillService) headerForUpdate(ctx context.Context, dbTx *sql.Tx, transactionID string) (*models.Transaction, error) {
	var t models.Transaction
	var rawType string
	err := dbTx.QueryRowContext(ctx, `
		SELECT id, org_id, transaction_type, total_amount, is_reconciled
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, transactionID).Scan(&t.ID, &t.OrgID, &rawType, &t.TotalAmount, &t.IsReconciled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	t.TransactionType, err = models.ParseTransactionType(rawType)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %v: %w", t.ID, err, ErrValidation)
	}
	return &t, nil
}
