package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/parkrowpm/ledger/internal/models"
)

// GLAccountService is the read side of the chart of accounts. Account
// management itself lives upstream; the ledger core only classifies and
// resolves accounts.
type GLAccountService struct {
	db *sql.DB
}

func NewGLAccountService(db *sql.DB) *GLAccountService {
	return &GLAccountService{db: db}
}

const glAccountColumns = `id, org_id, name, type, sub_type, is_bank_account,
	is_security_deposit_liability, exclude_from_cash_balances,
	COALESCE(account_number, ''), COALESCE(routing_number, ''), COALESCE(country, ''),
	external_account_id, is_active`

func scanGLAccount(row interface{ Scan(...any) error }) (*models.GLAccount, error) {
	var a models.GLAccount
	var rawType string
	err := row.Scan(
		&a.ID, &a.OrgID, &a.Name, &rawType, &a.SubType, &a.IsBankAccount,
		&a.IsSecurityDepositLiability, &a.ExcludeFromCashBalances,
		&a.AccountNumber, &a.RoutingNumber, &a.Country,
		&a.ExternalAccountID, &a.IsActive,
	)
	if err != nil {
		return nil, err
	}
	a.Type, err = models.ParseAccountType(rawType)
	if err != nil {
		return nil, fmt.Errorf("account %s: %v: %w", a.ID, err, ErrValidation)
	}
	return &a, nil
}

func (s *GLAccountService) GetAccount(ctx context.Context, orgID, id string) (*models.GLAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+glAccountColumns+`
		FROM gl_accounts
		WHERE id = $1 AND org_id = $2
	`, id, orgID)

	account, err := scanGLAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("gl account %s: %w", id, ErrNotFound)
	}
	return account, err
}

// AccountsByID resolves a set of account ids in one query, returned as a
// map for line validation. Missing ids are simply absent from the map.
func (s *GLAccountService) AccountsByID(ctx context.Context, orgID string, ids []string) (map[string]*models.GLAccount, error) {
	accounts := make(map[string]*models.GLAccount, len(ids))
	if len(ids) == 0 {
		return accounts, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+glAccountColumns+`
		FROM gl_accounts
		WHERE org_id = $1 AND id = ANY($2)
	`, orgID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanGLAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts[a.ID] = a
	}
	return accounts, rows.Err()
}

// BankAccountRef pairs a local bank GL account with its external system id.
// Accounts without an external id cannot be synced and are excluded.
type BankAccountRef struct {
	ID         string
	ExternalID int64
}

func (s *GLAccountService) BankAccounts(ctx context.Context, orgID string) ([]BankAccountRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_account_id
		FROM gl_accounts
		WHERE org_id = $1 AND is_bank_account = TRUE AND is_active = TRUE
		  AND external_account_id IS NOT NULL
		ORDER BY id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []BankAccountRef
	for rows.Next() {
		var ref BankAccountRef
		if err := rows.Scan(&ref.ID, &ref.ExternalID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
