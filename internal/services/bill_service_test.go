package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/parkrowpm/ledger/internal/audit"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func billHeaderRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "org_id", "transaction_type", "total_amount", "is_reconciled"})
}

func reconciledRow(reconciled bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"is_reconciled"}).AddRow(reconciled)
}

func TestBillService_ApplyPayment(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	auditLogger := audit.NewLogger(nil)
	ledger := NewLedgerService(db, NewGLAccountService(db), auditLogger)
	service := NewBillService(db, ledger, auditLogger)

	input := func(amount int64) ApplyInput {
		return ApplyInput{
			BillTransactionID:   "bill1",
			SourceTransactionID: "pay1",
			SourceType:          "payment",
			Amount:              decimal.NewFromInt(amount),
		}
	}

	t.Run("applies within the bill total", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, org_id, transaction_type, total_amount, is_reconciled").
			WithArgs("bill1").
			WillReturnRows(billHeaderRows().AddRow("bill1", "org1", "Bill", "500.00", false))
		mock.ExpectQuery("SELECT id, org_id, transaction_type, total_amount, is_reconciled").
			WithArgs("pay1").
			WillReturnRows(billHeaderRows().AddRow("pay1", "org1", "Payment", "300.00", false))
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("bill1", "org1").WillReturnRows(reconciledRow(false))
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("pay1", "org1").WillReturnRows(reconciledRow(false))
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs("org1", "bill1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("300.00"))
		mock.ExpectExec("INSERT INTO bill_applications").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		applicationID, err := service.ApplyPayment(context.Background(), "org1", input(200))
		assert.NoError(t, err)
		assert.NotEmpty(t, applicationID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects over-application", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, org_id, transaction_type, total_amount, is_reconciled").
			WithArgs("bill1").
			WillReturnRows(billHeaderRows().AddRow("bill1", "org1", "Bill", "500.00", false))
		mock.ExpectQuery("SELECT id, org_id, transaction_type, total_amount, is_reconciled").
			WithArgs("pay1").
			WillReturnRows(billHeaderRows().AddRow("pay1", "org1", "Payment", "300.00", false))
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("bill1", "org1").WillReturnRows(reconciledRow(false))
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("pay1", "org1").WillReturnRows(reconciledRow(false))
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs("org1", "bill1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("300.00"))
		mock.ExpectRollback()

		_, err := service.ApplyPayment(context.Background(), "org1", input(250))
		var overErr *OverApplicationError
		assert.ErrorAs(t, err, &overErr)
		assert.Equal(t, "500.00", overErr.BillTotal.StringFixed(2))
		assert.Equal(t, "300.00", overErr.AlreadyApplied.StringFixed(2))
		assert.Equal(t, "250.00", overErr.Requested.StringFixed(2))
		assert.ErrorIs(t, err, ErrOverApplication)
	})

	t.Run("rejects reconciled source", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, org_id, transaction_type, total_amount, is_reconciled").
			WithArgs("bill1").
			WillReturnRows(billHeaderRows().AddRow("bill1", "org1", "Bill", "500.00", false))
		mock.ExpectQuery("SELECT id, org_id, transaction_type, total_amount, is_reconciled").
			WithArgs("pay1").
			WillReturnRows(billHeaderRows().AddRow("pay1", "org1", "Payment", "300.00", true))
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("bill1", "org1").WillReturnRows(reconciledRow(false))
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("pay1", "org1").WillReturnRows(reconciledRow(true))
		mock.ExpectRollback()

		_, err := service.ApplyPayment(context.Background(), "org1", input(100))
		assert.ErrorIs(t, err, ErrReconciledLock)
	})

	t.Run("rejects cross-org application", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, org_id, transaction_type, total_amount, is_reconciled").
			WithArgs("bill1").
			WillReturnRows(billHeaderRows().AddRow("bill1", "org1", "Bill", "500.00", false))
		mock.ExpectQuery("SELECT id, org_id, transaction_type, total_amount, is_reconciled").
			WithArgs("pay1").
			WillReturnRows(billHeaderRows().AddRow("pay1", "org2", "Payment", "300.00", false))
		mock.ExpectRollback()

		_, err := service.ApplyPayment(context.Background(), "org1", input(100))
		assert.ErrorIs(t, err, ErrCrossOrgViolation)
	})

	t.Run("rejects non-bill target", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, org_id, transaction_type, total_amount, is_reconciled").
			WithArgs("bill1").
			WillReturnRows(billHeaderRows().AddRow("bill1", "org1", "Charge", "500.00", false))
		mock.ExpectQuery("SELECT id, org_id, transaction_type, total_amount, is_reconciled").
			WithArgs("pay1").
			WillReturnRows(billHeaderRows().AddRow("pay1", "org1", "Payment", "300.00", false))
		mock.ExpectRollback()

		_, err := service.ApplyPayment(context.Background(), "org1", input(100))
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects self-application without touching the database", func(t *testing.T) {
		in := input(100)
		in.SourceTransactionID = "bill1"

		_, err := service.ApplyPayment(context.Background(), "org1", in)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestBillService_UnapplyPayment(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	auditLogger := audit.NewLogger(nil)
	ledger := NewLedgerService(db, NewGLAccountService(db), auditLogger)
	service := NewBillService(db, ledger, auditLogger)

	appRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "bill_transaction_id", "source_transaction_id", "applied_amount"}).
			AddRow("app1", "bill1", "pay1", "200.00")
	}

	t.Run("removes an unreconciled application", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, bill_transaction_id, source_transaction_id, applied_amount").
			WithArgs("app1", "org1").
			WillReturnRows(appRows())
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("bill1", "org1").WillReturnRows(reconciledRow(false))
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("pay1", "org1").WillReturnRows(reconciledRow(false))
		mock.ExpectExec("DELETE FROM bill_applications").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, service.UnapplyPayment(context.Background(), "org1", "app1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses removal when the payment is reconciled", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, bill_transaction_id, source_transaction_id, applied_amount").
			WithArgs("app1", "org1").
			WillReturnRows(appRows())
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("bill1", "org1").WillReturnRows(reconciledRow(false))
		mock.ExpectQuery("SELECT is_reconciled FROM transactions").
			WithArgs("pay1", "org1").WillReturnRows(reconciledRow(true))
		mock.ExpectRollback()

		err := service.UnapplyPayment(context.Background(), "org1", "app1")
		var lockErr *ReconciledLockError
		assert.ErrorAs(t, err, &lockErr)
		assert.Equal(t, "pay1", lockErr.TransactionID)
	})

	t.Run("unknown application", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, bill_transaction_id, source_transaction_id, applied_amount").
			WithArgs("missing", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "bill_transaction_id", "source_transaction_id", "applied_amount"}))
		mock.ExpectRollback()

		err := service.UnapplyPayment(context.Background(), "org1", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBillService_OutstandingAmount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	auditLogger := audit.NewLogger(nil)
	ledger := NewLedgerService(db, NewGLAccountService(db), auditLogger)
	service := NewBillService(db, ledger, auditLogger)

	t.Run("total minus applied", func(t *testing.T) {
		mock.ExpectQuery("SELECT total_amount FROM transactions").
			WithArgs("bill1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"total_amount"}).AddRow("500.00"))
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs("org1", "bill1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("300.00"))

		outstanding, err := service.OutstandingAmount(context.Background(), "org1", "bill1")
		assert.NoError(t, err)
		assert.Equal(t, "200.00", outstanding.StringFixed(2))
	})

	t.Run("unknown bill", func(t *testing.T) {
		mock.ExpectQuery("SELECT total_amount FROM transactions").
			WithArgs("missing", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"total_amount"}))

		_, err := service.OutstandingAmount(context.Background(), "org1", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
