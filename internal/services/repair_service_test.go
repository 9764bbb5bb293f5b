package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/parkrowpm/ledger/internal/audit"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func repairCandidateRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "transaction_type", "date", "total_amount", "property_id", "bank_gl_account_id"})
}

func TestRepairService_Repair(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewRepairService(db, NewGLAccountService(db), audit.NewLogger(nil))
	txDate := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)

	t.Run("dry run reports without writing", func(t *testing.T) {
		mock.ExpectQuery("SELECT t.id, t.transaction_type").
			WithArgs("org1").
			WillReturnRows(repairCandidateRows().
				AddRow("tx1", "Payment", txDate, "120.00", nil, "bank1"))
		mock.ExpectQuery("SELECT posting_type, amount FROM transaction_lines").
			WithArgs("tx1").
			WillReturnRows(sqlmock.NewRows([]string{"posting_type", "amount"}).
				AddRow("Credit", "100.00"))
		mock.ExpectQuery("SELECT (.+) FROM gl_accounts").
			WillReturnRows(glAccountRows().
				AddRow("bank1", "org1", "Operating", "asset", "", true, false, false, "", "", "", nil, true))

		summary, err := service.Repair(context.Background(), "org1", false)
		assert.NoError(t, err)
		assert.True(t, summary.DryRun)
		assert.Equal(t, 1, summary.Scanned)
		assert.Equal(t, 1, summary.Repaired)
		assert.Equal(t, 0, summary.Unresolved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("apply writes the credited amount, not the header total", func(t *testing.T) {
		mock.ExpectQuery("SELECT t.id, t.transaction_type").
			WithArgs("org1").
			WillReturnRows(repairCandidateRows().
				AddRow("tx1", "Payment", txDate, "120.00", nil, "bank1"))
		mock.ExpectQuery("SELECT posting_type, amount FROM transaction_lines").
			WithArgs("tx1").
			WillReturnRows(sqlmock.NewRows([]string{"posting_type", "amount"}).
				AddRow("Credit", "100.00"))
		mock.ExpectQuery("SELECT (.+) FROM gl_accounts").
			WillReturnRows(glAccountRows().
				AddRow("bank1", "org1", "Operating", "asset", "", true, false, false, "", "", "", nil, true))
		mock.ExpectExec("INSERT INTO transaction_lines").
			WithArgs(sqlmock.AnyArg(), "tx1", "bank1", "Debit", decimal.NewFromInt(100),
				nil, true, "Synthesized missing bank line", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		summary, err := service.Repair(context.Background(), "org1", true)
		assert.NoError(t, err)
		assert.False(t, summary.DryRun)
		assert.Equal(t, 1, summary.Repaired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips candidates with no resolvable bank account", func(t *testing.T) {
		mock.ExpectQuery("SELECT t.id, t.transaction_type").
			WithArgs("org1").
			WillReturnRows(repairCandidateRows().
				AddRow("tx2", "ApplyDeposit", txDate, "80.00", nil, nil))
		mock.ExpectQuery("SELECT posting_type, amount FROM transaction_lines").
			WithArgs("tx2").
			WillReturnRows(sqlmock.NewRows([]string{"posting_type", "amount"}).
				AddRow("Credit", "80.00"))

		summary, err := service.Repair(context.Background(), "org1", true)
		assert.NoError(t, err)
		assert.Equal(t, 1, summary.Unresolved)
		assert.Equal(t, []string{"tx2"}, summary.UnresolvedIDs)
		assert.Equal(t, 0, summary.Repaired)
	})

	t.Run("already balanced candidates are left alone", func(t *testing.T) {
		mock.ExpectQuery("SELECT t.id, t.transaction_type").
			WithArgs("org1").
			WillReturnRows(repairCandidateRows().
				AddRow("tx3", "Payment", txDate, "100.00", nil, "bank1"))
		mock.ExpectQuery("SELECT posting_type, amount FROM transaction_lines").
			WithArgs("tx3").
			WillReturnRows(sqlmock.NewRows([]string{"posting_type", "amount"}).
				AddRow("Debit", "100.00").
				AddRow("Credit", "100.00"))

		summary, err := service.Repair(context.Background(), "org1", true)
		assert.NoError(t, err)
		assert.Equal(t, 1, summary.Balanced)
		assert.Equal(t, 0, summary.Repaired)
	})

	t.Run("resolves through the property operating account", func(t *testing.T) {
		propertyID := "prop1"
		mock.ExpectQuery("SELECT t.id, t.transaction_type").
			WithArgs("org1").
			WillReturnRows(repairCandidateRows().
				AddRow("tx4", "Payment", txDate, "50.00", propertyID, nil))
		mock.ExpectQuery("SELECT posting_type, amount FROM transaction_lines").
			WithArgs("tx4").
			WillReturnRows(sqlmock.NewRows([]string{"posting_type", "amount"}).
				AddRow("Credit", "50.00"))
		mock.ExpectQuery("SELECT operating_bank_gl_account_id, deposit_trust_gl_account_id").
			WithArgs(propertyID, "org1").
			WillReturnRows(sqlmock.NewRows([]string{"operating_bank_gl_account_id", "deposit_trust_gl_account_id"}).
				AddRow("bank1", nil))
		mock.ExpectQuery("SELECT (.+) FROM gl_accounts").
			WillReturnRows(glAccountRows().
				AddRow("bank1", "org1", "Operating", "asset", "", true, false, false, "", "", "", nil, true))

		summary, err := service.Repair(context.Background(), "org1", false)
		assert.NoError(t, err)
		assert.Equal(t, 1, summary.Repaired)
	})

	t.Run("falls back to the deposit trust account", func(t *testing.T) {
		propertyID := "prop2"
		mock.ExpectQuery("SELECT t.id, t.transaction_type").
			WithArgs("org1").
			WillReturnRows(repairCandidateRows().
				AddRow("tx5", "ApplyDeposit", txDate, "75.00", propertyID, nil))
		mock.ExpectQuery("SELECT posting_type, amount FROM transaction_lines").
			WithArgs("tx5").
			WillReturnRows(sqlmock.NewRows([]string{"posting_type", "amount"}).
				AddRow("Credit", "75.00"))
		mock.ExpectQuery("SELECT operating_bank_gl_account_id, deposit_trust_gl_account_id").
			WithArgs(propertyID, "org1").
			WillReturnRows(sqlmock.NewRows([]string{"operating_bank_gl_account_id", "deposit_trust_gl_account_id"}).
				AddRow(nil, "trust1"))
		mock.ExpectQuery("SELECT (.+) FROM gl_accounts").
			WillReturnRows(glAccountRows().
				AddRow("trust1", "org1", "Deposit Trust", "asset", "", true, false, false, "", "", "", nil, true))

		summary, err := service.Repair(context.Background(), "org1", false)
		assert.NoError(t, err)
		assert.Equal(t, 1, summary.Repaired)
		assert.Equal(t, 0, summary.Unresolved)
	})

	t.Run("unresolved when neither property account is linked", func(t *testing.T) {
		propertyID := "prop3"
		mock.ExpectQuery("SELECT t.id, t.transaction_type").
			WithArgs("org1").
			WillReturnRows(repairCandidateRows().
				AddRow("tx6", "Payment", txDate, "40.00", propertyID, nil))
		mock.ExpectQuery("SELECT posting_type, amount FROM transaction_lines").
			WithArgs("tx6").
			WillReturnRows(sqlmock.NewRows([]string{"posting_type", "amount"}).
				AddRow("Credit", "40.00"))
		mock.ExpectQuery("SELECT operating_bank_gl_account_id, deposit_trust_gl_account_id").
			WithArgs(propertyID, "org1").
			WillReturnRows(sqlmock.NewRows([]string{"operating_bank_gl_account_id", "deposit_trust_gl_account_id"}).
				AddRow(nil, nil))

		summary, err := service.Repair(context.Background(), "org1", true)
		assert.NoError(t, err)
		assert.Equal(t, 1, summary.Unresolved)
		assert.Equal(t, []string{"tx6"}, summary.UnresolvedIDs)
	})

	t.Run("no candidates", func(t *testing.T) {
		mock.ExpectQuery("SELECT t.id, t.transaction_type").
			WithArgs("org1").
			WillReturnRows(repairCandidateRows())

		summary, err := service.Repair(context.Background(), "org1", false)
		assert.NoError(t, err)
		assert.Equal(t, 0, summary.Scanned)
	})
}
