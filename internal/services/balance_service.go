package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/parkrowpm/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// BalanceService derives balances from the ledger. Balances are never
// stored; every figure is a fold over posted lines at read time, so a
// balance can never drift from the lines that back it.
type BalanceService struct {
	db *sql.DB
}

func NewBalanceService(db *sql.DB) *BalanceService {
	return &BalanceService{db: db}
}

// ComputeBankBalance folds every line posted to one GL account up to and
// including asOf, signed by posting type against the account's normal
// balance. For a bank (asset) account debits increase the balance.
func (s *BalanceService) ComputeBankBalance(ctx context.Context, orgID, glAccountID string, asOf time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.posting_type, l.amount, a.type
		FROM transaction_lines l
		JOIN gl_accounts a ON a.id = l.gl_account_id
		WHERE a.org_id = $1 AND l.gl_account_id = $2 AND l.date <= $3
		ORDER BY l.date, l.created_at
	`, orgID, glAccountID, asOf)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load account lines: %w", err)
	}
	defer rows.Close()

	return foldSigned(rows)
}

// ComputePropertyCashBalance folds the cash postings attributed to one
// property. Lines against bank accounts flagged exclude_from_cash_balances
// are not cash postings and never enter the fold.
func (s *BalanceService) ComputePropertyCashBalance(ctx context.Context, orgID, propertyID string, asOf time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.posting_type, l.amount, a.type
		FROM transaction_lines l
		JOIN gl_accounts a ON a.id = l.gl_account_id
		WHERE a.org_id = $1 AND l.property_id = $2 AND l.is_cash_posting = TRUE AND l.date <= $3
		ORDER BY l.date, l.created_at
	`, orgID, propertyID, asOf)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load cash postings: %w", err)
	}
	defer rows.Close()

	return foldSigned(rows)
}

// ComputeSecurityDepositsHeld folds lines against security deposit liability
// accounts for one property. Liability accounts are credit normal, so held
// deposits come back positive.
func (s *BalanceService) ComputeSecurityDepositsHeld(ctx context.Context, orgID, propertyID string, asOf time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.posting_type, l.amount, a.type
		FROM transaction_lines l
		JOIN gl_accounts a ON a.id = l.gl_account_id
		WHERE a.org_id = $1 AND l.property_id = $2
		  AND a.is_security_deposit_liability = TRUE AND l.date <= $3
		ORDER BY l.date, l.created_at
	`, orgID, propertyID, asOf)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load deposit postings: %w", err)
	}
	defer rows.Close()

	return foldSigned(rows)
}

// PropertyAccounts loads a property's financial configuration.
func (s *BalanceService) PropertyAccounts(ctx context.Context, orgID, propertyID string) (*models.PropertyAccounts, error) {
	var p models.PropertyAccounts
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, operating_bank_gl_account_id, deposit_trust_gl_account_id, reserve
		FROM properties
		WHERE id = $1 AND org_id = $2
	`, propertyID, orgID).Scan(&p.PropertyID, &p.OrgID, &p.OperatingBankGLAccountID, &p.DepositTrustGLAccountID, &p.Reserve)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("property %s: %w", propertyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load property: %w", err)
	}
	return &p, nil
}

// ComputePropertyFinancials assembles the property financial summary:
//
//	available = cash balance - security deposits held - reserve
//
// The reserve is a configured floor on the properties row, not a ledger
// figure.
func (s *BalanceService) ComputePropertyFinancials(ctx context.Context, orgID, propertyID string, asOf time.Time) (*models.PropertyFinancials, error) {
	property, err := s.PropertyAccounts(ctx, orgID, propertyID)
	if err != nil {
		return nil, err
	}

	cash, err := s.ComputePropertyCashBalance(ctx, orgID, propertyID, asOf)
	if err != nil {
		return nil, err
	}
	deposits, err := s.ComputeSecurityDepositsHeld(ctx, orgID, propertyID, asOf)
	if err != nil {
		return nil, err
	}

	return &models.PropertyFinancials{
		PropertyID:       property.PropertyID,
		CashBalance:      cash,
		SecurityDeposits: deposits,
		Reserve:          property.Reserve,
		AvailableBalance: cash.Sub(deposits).Sub(property.Reserve),
		AsOf:             asOf.Format("2006-01-02"),
	}, nil
}

// foldSigned accumulates (posting_type, amount, account_type) rows into a
// single signed balance.
func foldSigned(rows *sql.Rows) (decimal.Decimal, error) {
	balance := decimal.Zero
	for rows.Next() {
		var rawPosting, rawType string
		var amount decimal.Decimal
		if err := rows.Scan(&rawPosting, &amount, &rawType); err != nil {
			return decimal.Zero, err
		}
		posting, err := models.ParsePostingType(rawPosting)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%v: %w", err, ErrValidation)
		}
		accountType, err := models.ParseAccountType(rawType)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%v: %w", err, ErrValidation)
		}
		balance = balance.Add(models.SignedAmount(amount, posting, accountType))
	}
	return balance, rows.Err()
}
