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

// RepairService finds money-movement transactions that lack their bank side
// and synthesizes the missing debit. External sync occasionally delivers a
// payment's income credits without the bank line, which silently understates
// cash balances until repaired.
//
// The tool runs dry by default. It only ever writes a line whose amount is
// derived from the transaction's own credit lines, and it never guesses a
// bank account: candidates it cannot resolve are reported and left alone.
type RepairService struct {
	db       *sql.DB
	accounts *GLAccountService
	audit    *audit.Logger
}

func NewRepairService(db *sql.DB, accounts *GLAccountService, auditLogger *audit.Logger) *RepairService {
	return &RepairService{db: db, accounts: accounts, audit: auditLogger}
}

// RepairCandidate is one transaction missing its bank line.
type RepairCandidate struct {
	TransactionID   string          `json:"transaction_id"`
	TransactionType string          `json:"transaction_type"`
	Date            time.Time       `json:"date"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PropertyID      *string         `json:"property_id,omitempty"`
	BankGLAccountID *string         `json:"bank_gl_account_id,omitempty"`
}

type RepairSummary struct {
	Scanned       int      `json:"scanned"`
	Repaired      int      `json:"repaired"`
	Balanced      int      `json:"balanced"`
	Unresolved    int      `json:"unresolved"`
	UnresolvedIDs []string `json:"unresolved_ids,omitempty"`
	DryRun        bool     `json:"dry_run"`
}

// FindCandidates returns Payment and ApplyDeposit transactions with no line
// against any bank account.
func (s *RepairService) FindCandidates(ctx context.Context, orgID string) ([]RepairCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.transaction_type, t.date, t.total_amount, t.property_id, t.bank_gl_account_id
		FROM transactions t
		WHERE t.org_id = $1
		  AND t.transaction_type IN ('Payment', 'ApplyDeposit')
		  AND NOT EXISTS (
			SELECT 1 FROM transaction_lines l
			JOIN gl_accounts a ON a.id = l.gl_account_id
			WHERE l.transaction_id = t.id AND a.is_bank_account = TRUE
		  )
		ORDER BY t.date, t.id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for repair candidates: %w", err)
	}
	defer rows.Close()

	var candidates []RepairCandidate
	for rows.Next() {
		var c RepairCandidate
		if err := rows.Scan(&c.TransactionID, &c.TransactionType, &c.Date, &c.TotalAmount,
			&c.PropertyID, &c.BankGLAccountID); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// Repair processes every candidate. With apply false nothing is written;
// the summary shows what a real run would do. The synthesized debit equals
// the candidate's credited amount minus its existing debits, not the header
// total, because the header total can disagree with the lines on exactly
// the damaged records this tool exists for.
//
// Running twice is safe: a repaired transaction has a bank line and is no
// longer a candidate.
func (s *RepairService) Repair(ctx context.Context, orgID string, apply bool) (*RepairSummary, error) {
	candidates, err := s.FindCandidates(ctx, orgID)
	if err != nil {
		return nil, err
	}

	summary := &RepairSummary{Scanned: len(candidates), DryRun: !apply}
	for _, c := range candidates {
		debits, credits, err := s.lineTotals(ctx, c.TransactionID)
		if err != nil {
			return nil, err
		}
		missing := credits.Sub(debits)
		if missing.Abs().LessThanOrEqual(balanceTolerance) {
			summary.Balanced++
			continue
		}
		if missing.IsNegative() {
			// Debits already exceed credits; adding another debit would
			// make it worse. Leave it for manual review.
			summary.Unresolved++
			summary.UnresolvedIDs = append(summary.UnresolvedIDs, c.TransactionID)
			continue
		}

		bankAccount, err := s.resolveBankAccount(ctx, orgID, c)
		if err != nil {
			return nil, err
		}
		if bankAccount == nil {
			summary.Unresolved++
			summary.UnresolvedIDs = append(summary.UnresolvedIDs, c.TransactionID)
			log.Printf("[REPAIR] No bank account resolvable for transaction %s", c.TransactionID)
			continue
		}

		if apply {
			_, err = s.db.ExecContext(ctx, `
				INSERT INTO transaction_lines
				(id, transaction_id, gl_account_id, posting_type, amount, property_id,
				 is_cash_posting, memo, date, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
			`, uuid.NewString(), c.TransactionID, bankAccount.ID, string(models.PostingDebit),
				missing, c.PropertyID, bankAccount.ContributesToCashBalance(),
				"Synthesized missing bank line", c.Date)
			if err != nil {
				return nil, fmt.Errorf("failed to insert repair line for %s: %w", c.TransactionID, err)
			}
		}
		s.audit.LogRepair(orgID, c.TransactionID, bankAccount.ID, missing, apply)
		summary.Repaired++
	}
	return summary, nil
}

func (s *RepairService) lineTotals(ctx context.Context, transactionID string) (debits, credits decimal.Decimal, err error) {
	debits, credits = decimal.Zero, decimal.Zero
	rows, err := s.db.QueryContext(ctx, `
		SELECT posting_type, amount FROM transaction_lines WHERE transaction_id = $1
	`, transactionID)
	if err != nil {
		return debits, credits, fmt.Errorf("failed to load lines for %s: %w", transactionID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rawPosting string
		var amount decimal.Decimal
		if err := rows.Scan(&rawPosting, &amount); err != nil {
			return debits, credits, err
		}
		switch models.PostingType(rawPosting) {
		case models.PostingDebit:
			debits = debits.Add(amount)
		case models.PostingCredit:
			credits = credits.Add(amount)
		}
	}
	return debits, credits, rows.Err()
}

// resolveBankAccount finds where the synthesized debit belongs: the header's
// own bank account if present, otherwise the operating account of the
// transaction's property, falling back to its deposit trust account. Nil
// means unresolvable.
func (s *RepairService) resolveBankAccount(ctx context.Context, orgID string, c RepairCandidate) (*models.GLAccount, error) {
	if c.BankGLAccountID != nil {
		account, err := s.accounts.GetAccount(ctx, orgID, *c.BankGLAccountID)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if account.IsBankAccount {
			return account, nil
		}
		return nil, nil
	}

	if c.PropertyID == nil {
		return nil, nil
	}
	var operatingID, trustID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT operating_bank_gl_account_id, deposit_trust_gl_account_id
		FROM properties
		WHERE id = $1 AND org_id = $2
	`, *c.PropertyID, orgID).Scan(&operatingID, &trustID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve property bank account: %w", err)
	}

	bankID := operatingID
	if !bankID.Valid {
		bankID = trustID
	}
	if !bankID.Valid {
		return nil, nil
	}

	account, err := s.accounts.GetAccount(ctx, orgID, bankID.String)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}
