package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceLedger_GetAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewBalanceLedger(db)
	ctx := context.Background()
	updated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("account without prior withdrawal", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, balance, last_withdrawal_at, updated_at\\s+FROM profiles\\s+WHERE id = \\$1").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "last_withdrawal_at", "updated_at"}).
				AddRow("user-1", "100.50", nil, updated))

		account, err := ledger.GetAccount(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", account.ID)
		assert.True(t, account.Balance.Equal(decimal.RequireFromString("100.5")))
		assert.Nil(t, account.LastWithdrawalAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("account with prior withdrawal", func(t *testing.T) {
		last := updated.Add(-time.Hour)
		mock.ExpectQuery("SELECT id, balance, last_withdrawal_at, updated_at").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "last_withdrawal_at", "updated_at"}).
				AddRow("user-1", "20", last, updated))

		account, err := ledger.GetAccount(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, account.LastWithdrawalAt)
		assert.True(t, account.LastWithdrawalAt.Equal(last))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, balance, last_withdrawal_at, updated_at").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "last_withdrawal_at", "updated_at"}))

		_, err := ledger.GetAccount(ctx, "ghost")
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBalanceLedger_Debit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewBalanceLedger(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("guarded debit applies", func(t *testing.T) {
		mock.ExpectExec("UPDATE profiles\\s+SET balance = balance - \\$1, last_withdrawal_at = \\$2, updated_at = \\$2\\s+WHERE id = \\$3 AND balance >= \\$1").
			WithArgs(decimalOf("50"), now, "user-1", now.Add(-24*time.Hour)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := ledger.Debit(ctx, "user-1", decimal.NewFromInt(50), now, 24*time.Hour)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guard not met", func(t *testing.T) {
		mock.ExpectExec("UPDATE profiles").
			WithArgs(decimalOf("500"), now, "user-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := ledger.Debit(ctx, "user-1", decimal.NewFromInt(500), now, 24*time.Hour)
		assert.ErrorIs(t, err, ErrDebitRejected)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver error", func(t *testing.T) {
		mock.ExpectExec("UPDATE profiles").
			WillReturnError(errors.New("connection reset"))

		err := ledger.Debit(ctx, "user-1", decimal.NewFromInt(5), now, 24*time.Hour)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrDebitRejected)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBalanceLedger_Refund(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewBalanceLedger(db)
	ctx := context.Background()
	now := time.Now().UTC()
	previous := now.Add(-48 * time.Hour)

	t.Run("restores amount and cooldown stamp", func(t *testing.T) {
		mock.ExpectExec("UPDATE profiles\\s+SET balance = balance \\+ \\$1, last_withdrawal_at = \\$2, updated_at = \\$3\\s+WHERE id = \\$4").
			WithArgs(decimalOf("50"), previous, now, "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := ledger.Refund(ctx, "user-1", decimal.NewFromInt(50), &previous, now)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("clears cooldown stamp for first withdrawal", func(t *testing.T) {
		mock.ExpectExec("UPDATE profiles").
			WithArgs(decimalOf("50"), nil, now, "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := ledger.Refund(ctx, "user-1", decimal.NewFromInt(50), nil, now)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBalanceLedger_Credit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewBalanceLedger(db)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE profiles\\s+SET balance = balance \\+ \\$1, updated_at = \\$2\\s+WHERE id = \\$3").
		WithArgs(decimalOf("25"), now, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ledger.Credit(context.Background(), db, "ghost", decimal.NewFromInt(25), now)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
