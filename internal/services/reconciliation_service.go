package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/parkrowpm/ledger/internal/external"
	"github.com/parkrowpm/ledger/internal/models"
)

// ReconciliationService mirrors statement periods from the external bank
// system into the reconciliation log. Sync is idempotent and keyed by the
// external id, and a finished period is terminal: once closed it never
// reopens, regardless of what a later fetch reports.
type ReconciliationService struct {
	db       *sql.DB
	accounts *GLAccountService
	client   external.StatementClient
}

func NewReconciliationService(db *sql.DB, accounts *GLAccountService, client external.StatementClient) *ReconciliationService {
	return &ReconciliationService{db: db, accounts: accounts, client: client}
}

// SyncSummary reports one sync run. Errors holds per-account and per-record
// failures that were isolated so the rest of the run could proceed.
type SyncSummary struct {
	BankAccounts int      `json:"bank_accounts"`
	Created      int      `json:"created"`
	Updated      int      `json:"updated"`
	Finished     int      `json:"finished"`
	Skipped      int      `json:"skipped"`
	Errors       []string `json:"errors,omitempty"`
}

// SyncReconciliations fetches reconciliation state for every syncable bank
// account in the org. A failure on one account or record is recorded and
// skipped; it never aborts the run.
func (s *ReconciliationService) SyncReconciliations(ctx context.Context, orgID string) (*SyncSummary, error) {
	refs, err := s.accounts.BankAccounts(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank accounts: %w", err)
	}

	summary := &SyncSummary{BankAccounts: len(refs)}
	for _, ref := range refs {
		recs, err := s.client.Reconciliations(ctx, ref.ExternalID)
		if err != nil {
			syncErr := &ExternalSyncError{BankGLAccountID: ref.ID, Err: err}
			log.Printf("[RECON] %v", syncErr)
			summary.Errors = append(summary.Errors, syncErr.Error())
			continue
		}

		propertyID, err := s.ResolvePropertyForBankAccount(ctx, orgID, ref.ID)
		if err != nil {
			log.Printf("[RECON] Property resolution failed for account %s: %v", ref.ID, err)
		}

		for _, rec := range recs {
			if err := s.syncOne(ctx, orgID, ref, propertyID, rec, summary); err != nil {
				syncErr := &ExternalSyncError{BankGLAccountID: ref.ID, ExternalID: rec.ID, Err: err}
				log.Printf("[RECON] %v", syncErr)
				summary.Errors = append(summary.Errors, syncErr.Error())
			}
		}
	}
	return summary, nil
}

func (s *ReconciliationService) syncOne(ctx context.Context, orgID string, ref BankAccountRef, propertyID *string, rec external.Reconciliation, summary *SyncSummary) error {
	// A record without its external key cannot be upserted; keying it on
	// zero would collapse every such record onto one row.
	if rec.ID <= 0 {
		log.Printf("[RECON] Skipping reconciliation with missing external id on account %s", ref.ID)
		summary.Skipped++
		return nil
	}

	var balance *external.ReconciliationBalance
	bal, err := s.client.ReconciliationBalance(ctx, ref.ExternalID, rec.ID)
	if err != nil {
		// The record itself is still worth mirroring without its balance.
		log.Printf("[RECON] Balance fetch failed for reconciliation %d: %v", rec.ID, err)
	} else {
		balance = bal
	}

	endingDate := external.ParseStatementDate(rec.StatementEndingDate)

	var existingID string
	var wasFinished bool
	err = s.db.QueryRowContext(ctx, `
		SELECT id, is_finished FROM reconciliation_log
		WHERE org_id = $1 AND external_reconciliation_id = $2
	`, orgID, rec.ID).Scan(&existingID, &wasFinished)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO reconciliation_log
			(id, org_id, external_reconciliation_id, external_bank_account_id, bank_gl_account_id,
			 property_id, statement_ending_date, is_finished,
			 ending_balance, total_checks_withdrawals, total_deposits_additions, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		`, uuid.NewString(), orgID, rec.ID, ref.ExternalID, ref.ID,
			propertyID, endingDate, rec.IsFinished,
			balanceField(balance, "ending"), balanceField(balance, "withdrawals"), balanceField(balance, "deposits"))
		if err != nil {
			return fmt.Errorf("failed to insert reconciliation: %w", err)
		}
		summary.Created++
	case err != nil:
		return fmt.Errorf("failed to look up reconciliation: %w", err)
	default:
		// A finished period stays finished even if the external system
		// later reports it pending again.
		finished := wasFinished || rec.IsFinished
		_, err = s.db.ExecContext(ctx, `
			UPDATE reconciliation_log
			SET statement_ending_date = $1, is_finished = $2, property_id = COALESCE($3, property_id),
			    ending_balance = COALESCE($4, ending_balance),
			    total_checks_withdrawals = COALESCE($5, total_checks_withdrawals),
			    total_deposits_additions = COALESCE($6, total_deposits_additions),
			    updated_at = NOW()
			WHERE id = $7
		`, endingDate, finished, propertyID,
			balanceField(balance, "ending"), balanceField(balance, "withdrawals"), balanceField(balance, "deposits"),
			existingID)
		if err != nil {
			return fmt.Errorf("failed to update reconciliation: %w", err)
		}
		summary.Updated++
	}

	if rec.IsFinished && !wasFinished {
		summary.Finished++
		if endingDate != nil {
			if err := s.markReconciled(ctx, orgID, ref.ID, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// markReconciled flags every transaction on the reconciled bank account
// dated inside the finished statement period. From that point the
// reconciliation lock applies to them.
func (s *ReconciliationService) markReconciled(ctx context.Context, orgID, bankGLAccountID string, rec external.Reconciliation) error {
	endingDate := external.ParseStatementDate(rec.StatementEndingDate)
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET is_reconciled = TRUE, updated_at = NOW()
		WHERE org_id = $1 AND bank_gl_account_id = $2 AND date <= $3 AND is_reconciled = FALSE
	`, orgID, bankGLAccountID, endingDate)
	if err != nil {
		return fmt.Errorf("failed to mark transactions reconciled: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Printf("[RECON] Locked %d transactions under reconciliation %d", n, rec.ID)
	}
	return nil
}

// ResolvePropertyForBankAccount maps a bank GL account back to the property
// it serves, preferring the operating account link over the deposit trust
// link. Returns nil when no property points at the account.
func (s *ReconciliationService) ResolvePropertyForBankAccount(ctx context.Context, orgID, bankGLAccountID string) (*string, error) {
	var propertyID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM properties
		WHERE org_id = $1 AND operating_bank_gl_account_id = $2
		ORDER BY id LIMIT 1
	`, orgID, bankGLAccountID).Scan(&propertyID)
	if err == nil {
		return &propertyID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to resolve property: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM properties
		WHERE org_id = $1 AND deposit_trust_gl_account_id = $2
		ORDER BY id LIMIT 1
	`, orgID, bankGLAccountID).Scan(&propertyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve property: %w", err)
	}
	return &propertyID, nil
}

// Logs lists the mirrored reconciliation periods for one bank account,
// newest statement first.
func (s *ReconciliationService) Logs(ctx context.Context, orgID, bankGLAccountID string) ([]models.ReconciliationLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, external_reconciliation_id, external_bank_account_id, bank_gl_account_id,
		       property_id, statement_ending_date, is_finished,
		       ending_balance, total_checks_withdrawals, total_deposits_additions
		FROM reconciliation_log
		WHERE org_id = $1 AND bank_gl_account_id = $2
		ORDER BY statement_ending_date DESC NULLS LAST
	`, orgID, bankGLAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reconciliation log: %w", err)
	}
	defer rows.Close()

	var logs []models.ReconciliationLog
	for rows.Next() {
		var l models.ReconciliationLog
		if err := rows.Scan(&l.ID, &l.OrgID, &l.ExternalID, &l.ExternalBankAccountID, &l.BankGLAccountID,
			&l.PropertyID, &l.StatementEndingDate, &l.IsFinished,
			&l.EndingBalance, &l.TotalChecksWithdrawals, &l.TotalDepositsAdditions); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// balanceField flattens an optional balance into nullable insert arguments.
func balanceField(balance *external.ReconciliationBalance, field string) any {
	if balance == nil {
		return nil
	}
	switch field {
	case "ending":
		return balance.EndingBalance
	case "withdrawals":
		return balance.TotalChecksAndWithdrawals
	case "deposits":
		return balance.TotalDepositsAndAdditions
	}
	return nil
}
