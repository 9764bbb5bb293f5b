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

func glAccountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "org_id", "name", "type", "sub_type", "is_bank_account",
		"is_security_deposit_liability", "exclude_from_cash_balances", "account_number",
		"routing_number", "country", "external_account_id", "is_active"})
}

func paymentInput() TransactionInput {
	return TransactionInput{
		TransactionType: "Payment",
		Date:            time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		TotalAmount:     decimal.NewFromInt(100),
		Lines: []LineInput{
			{GLAccountID: "bank1", PostingType: "Debit", Amount: decimal.NewFromInt(100)},
			{GLAccountID: "income1", PostingType: "Credit", Amount: decimal.NewFromInt(100)},
		},
	}
}

func TestLedgerService_PostTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, NewGLAccountService(db), audit.NewLogger(nil))

	t.Run("posts a balanced payment", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM gl_accounts").
			WillReturnRows(glAccountRows().
				AddRow("bank1", "org1", "Operating", "asset", "", true, false, false, "", "", "", nil, true).
				AddRow("income1", "org1", "Rent Income", "income", "", false, false, false, "", "", "", nil, true))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_lines").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_lines").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		transactionID, err := service.PostTransaction(context.Background(), "org1", paymentInput())
		assert.NoError(t, err)
		assert.NotEmpty(t, transactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unbalanced lines before writing", func(t *testing.T) {
		in := paymentInput()
		in.Lines[1].Amount = decimal.NewFromInt(90)

		mock.ExpectQuery("SELECT (.+) FROM gl_accounts").
			WillReturnRows(glAccountRows().
				AddRow("bank1", "org1", "Operating", "asset", "", true, false, false, "", "", "", nil, true).
				AddRow("income1", "org1", "Rent Income", "income", "", false, false, false, "", "", "", nil, true))

		_, err := service.PostTransaction(context.Background(), "org1", in)
		var unbalanced *UnbalancedTransactionError
		assert.ErrorAs(t, err, &unbalanced)
		assert.Equal(t, "100.00", unbalanced.DebitTotal.StringFixed(2))
		assert.Equal(t, "90.00", unbalanced.CreditTotal.StringFixed(2))
		assert.ErrorIs(t, err, ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tolerates sub-cent rounding", func(t *testing.T) {
		in := paymentInput()
		in.Lines[0].Amount = decimal.RequireFromString("100.004")
		in.Lines[1].Amount = decimal.NewFromInt(100)

		mock.ExpectQuery("SELECT (.+) FROM gl_accounts").
			WillReturnRows(glAccountRows().
				AddRow("bank1", "org1", "Operating", "asset", "", true, false, false, "", "", "", nil, true).
				AddRow("income1", "org1", "Rent Income", "income", "", false, false, false, "", "", "", nil, true))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_lines").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_lines").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		_, err := service.PostTransaction(context.Background(), "org1", in)
		assert.NoError(t, err)
	})

	t.Run("rejects unknown account", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM gl_accounts").
			WillReturnRows(glAccountRows().
				AddRow("bank1", "org1", "Operating", "asset", "", true, false, false, "", "", "", nil, true))

		_, err := service.PostTransaction(context.Background(), "org1", paymentInput())
		var refErr *AccountReferenceError
		assert.ErrorAs(t, err, &refErr)
		assert.Equal(t, "income1", refErr.GLAccountID)
	})

	t.Run("rejects inactive account", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM gl_accounts").
			WillReturnRows(glAccountRows().
				AddRow("bank1", "org1", "Operating", "asset", "", true, false, false, "", "", "", nil, true).
				AddRow("income1", "org1", "Rent Income", "income", "", false, false, false, "", "", "", nil, false))

		_, err := service.PostTransaction(context.Background(), "org1", paymentInput())
		var refErr *AccountReferenceError
		assert.ErrorAs(t, err, &refErr)
	})

	t.Run("rejects single-sided input without touching the database", func(t *testing.T) {
		in := paymentInput()
		in.Lines = in.Lines[:1]

		_, err := service.PostTransaction(context.Background(), "org1", in)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects unknown transaction type", func(t *testing.T) {
		in := paymentInput()
		in.TransactionType = "Withdrawal"

		_, err := service.PostTransaction(context.Background(), "org1", in)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects negative line amount", func(t *testing.T) {
		in := paymentInput()
		in.Lines[0].Amount = decimal.NewFromInt(-100)

		_, err := service.PostTransaction(context.Background(), "org1", in)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestLedgerService_GetTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, NewGLAccountService(db), audit.NewLogger(nil))
	txDate := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	t.Run("loads header with lines", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, org_id, transaction_type, date").
			WithArgs("tx1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "transaction_type", "date",
				"total_amount", "lease_id", "property_id", "unit_id", "external_transaction_id",
				"bank_gl_account_id", "memo", "reference_number", "is_reconciled"}).
				AddRow("tx1", "org1", "Payment", txDate, "100.00", nil, nil, nil, nil, "bank1", "", "", false))
		mock.ExpectQuery("SELECT id, transaction_id, gl_account_id").
			WithArgs("tx1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "transaction_id", "gl_account_id",
				"posting_type", "amount", "property_id", "unit_id", "lease_id",
				"is_cash_posting", "memo", "date"}).
				AddRow("line1", "tx1", "bank1", "Debit", "100.00", nil, nil, nil, true, "", txDate).
				AddRow("line2", "tx1", "income1", "Credit", "100.00", nil, nil, nil, false, "", txDate))

		transaction, lines, err := service.GetTransaction(context.Background(), "org1", "tx1")
		assert.NoError(t, err)
		assert.Equal(t, "tx1", transaction.ID)
		assert.Len(t, lines, 2)
		assert.True(t, lines[0].IsCashPosting)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown transaction", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, org_id, transaction_type, date").
			WithArgs("missing", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, _, err := service.GetTransaction(context.Background(), "org1", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLedgerService_LockIfReconciled(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, NewGLAccountService(db), audit.NewLogger(nil))

	t.Run("passes for unreconciled transaction", func(t *testing.T) {
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("tx1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"is_reconciled"}).AddRow(false))

		assert.NoError(t, service.LockIfReconciled(context.Background(), "org1", "tx1", "update line"))
	})

	t.Run("blocks reconciled transaction", func(t *testing.T) {
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("tx1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"is_reconciled"}).AddRow(true))

		err := service.LockIfReconciled(context.Background(), "org1", "tx1", "delete line")
		var lockErr *ReconciledLockError
		assert.ErrorAs(t, err, &lockErr)
		assert.Equal(t, "tx1", lockErr.TransactionID)
		assert.ErrorIs(t, err, ErrReconciledLock)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("missing", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"is_reconciled"}))

		err := service.LockIfReconciled(context.Background(), "org1", "missing", "update line")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLedgerService_UpdateLine(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, NewGLAccountService(db), audit.NewLogger(nil))
	update := LineUpdateInput{PostingType: "Debit", Amount: decimal.NewFromInt(100)}

	t.Run("updates a balanced edit", func(t *testing.T) {
		mock.ExpectQuery("SELECT transaction_id FROM transaction_lines").
			WithArgs("line1").
			WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}).AddRow("tx1"))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT is_reconciled FROM transactions (.+) FOR UPDATE").
			WithArgs("tx1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"is_reconciled"}).AddRow(false))
		mock.ExpectQuery("SELECT posting_type, amount").
			WithArgs("tx1", "line1").
			WillReturnRows(sqlmock.NewRows([]string{"posting_type", "amount"}).
				AddRow("Credit", "100.00"))
		mock.ExpectExec("UPDATE transaction_lines").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, service.UpdateLine(context.Background(), "org1", "line1", update))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects edit that unbalances the transaction", func(t *testing.T) {
		smaller := LineUpdateInput{PostingType: "Debit", Amount: decimal.NewFromInt(50)}

		mock.ExpectQuery("SELECT transaction_id FROM transaction_lines").
			WithArgs("line1").
			WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}).AddRow("tx1"))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT is_reconciled FROM transactions (.+) FOR UPDATE").
			WithArgs("tx1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"is_reconciled"}).AddRow(false))
		mock.ExpectQuery("SELECT posting_type, amount").
			WithArgs("tx1", "line1").
			WillReturnRows(sqlmock.NewRows([]string{"posting_type", "amount"}).
				AddRow("Credit", "100.00"))
		mock.ExpectRollback()

		err := service.UpdateLine(context.Background(), "org1", "line1", smaller)
		var unbalanced *UnbalancedTransactionError
		assert.ErrorAs(t, err, &unbalanced)
	})

	t.Run("refuses edits under a reconciled transaction", func(t *testing.T) {
		mock.ExpectQuery("SELECT transaction_id FROM transaction_lines").
			WithArgs("line1").
			WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}).AddRow("tx1"))

		// The guard runs inside the write transaction, holding the row lock.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT is_reconciled FROM transactions (.+) FOR UPDATE").
			WithArgs("tx1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"is_reconciled"}).AddRow(true))
		mock.ExpectRollback()

		err := service.UpdateLine(context.Background(), "org1", "line1", update)
		assert.ErrorIs(t, err, ErrReconciledLock)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_DeleteLine(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, NewGLAccountService(db), audit.NewLogger(nil))

	t.Run("deletes when siblings still balance", func(t *testing.T) {
		mock.ExpectQuery("SELECT transaction_id FROM transaction_lines").
			WithArgs("line3").
			WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}).AddRow("tx1"))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT is_reconciled FROM transactions (.+) FOR UPDATE").
			WithArgs("tx1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"is_reconciled"}).AddRow(false))
		mock.ExpectQuery("SELECT posting_type, amount").
			WithArgs("tx1", "line3").
			WillReturnRows(sqlmock.NewRows([]string{"posting_type", "amount"}).
				AddRow("Debit", "100.00").
				AddRow("Credit", "100.00"))
		mock.ExpectExec("DELETE FROM transaction_lines").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, service.DeleteLine(context.Background(), "org1", "line3"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses delete that leaves one side dangling", func(t *testing.T) {
		mock.ExpectQuery("SELECT transaction_id FROM transaction_lines").
			WithArgs("line1").
			WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}).AddRow("tx1"))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT is_reconciled FROM transactions (.+) FOR UPDATE").
			WithArgs("tx1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"is_reconciled"}).AddRow(false))
		mock.ExpectQuery("SELECT posting_type, amount").
			WithArgs("tx1", "line1").
			WillReturnRows(sqlmock.NewRows([]string{"posting_type", "amount"}).
				AddRow("Credit", "100.00"))
		mock.ExpectRollback()

		err := service.DeleteLine(context.Background(), "org1", "line1")
		var unbalanced *UnbalancedTransactionError
		assert.ErrorAs(t, err, &unbalanced)
	})
}
