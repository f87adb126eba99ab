package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rewardsapp/withdrawals/internal/models"
	"github.com/shopspring/decimal"
)

// dbExecutor is satisfied by *sql.DB and *sql.Tx.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BalanceLedger reads and mutates the spendable balance on profiles. Every
// mutation is a single guarded statement so concurrent requests for the same
// account are serialized by the row update itself.
type BalanceLedger struct {
	db *sql.DB
}

func NewBalanceLedger(db *sql.DB) *BalanceLedger {
	return &BalanceLedger{db: db}
}

func (b *BalanceLedger) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	var lastWithdrawal sql.NullTime
	err := b.db.QueryRowContext(ctx, `
		SELECT id, balance, last_withdrawal_at, updated_at
		FROM profiles
		WHERE id = $1`, accountID).Scan(&account.ID, &account.Balance, &lastWithdrawal, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}

	if lastWithdrawal.Valid {
		t := lastWithdrawal.Time
		account.LastWithdrawalAt = &t
	}
	return &account, nil
}

// Debit subtracts amount and stamps last_withdrawal_at, but only while the
// balance covers the amount and the cooldown window has elapsed. A miss
// returns ErrDebitRejected and leaves the row untouched.
func (b *BalanceLedger) Debit(ctx context.Context, accountID string, amount decimal.Decimal, now time.Time, cooldown time.Duration) error {
	result, err := b.db.ExecContext(ctx, `
		UPDATE profiles
		SET balance = balance - $1, last_withdrawal_at = $2, updated_at = $2
		WHERE id = $3 AND balance >= $1
		  AND (last_withdrawal_at IS NULL OR last_withdrawal_at <= $4)`,
		amount, now, accountID, now.Add(-cooldown))
	if err != nil {
		return fmt.Errorf("debit account %s: %w", accountID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit account %s: %w", accountID, err)
	}
	if rowsAffected == 0 {
		return ErrDebitRejected
	}
	return nil
}

// Refund reverses a Debit: the amount goes back and last_withdrawal_at is
// restored to what it was before the debit.
func (b *BalanceLedger) Refund(ctx context.Context, accountID string, amount decimal.Decimal, previousWithdrawalAt *time.Time, now time.Time) error {
	result, err := b.db.ExecContext(ctx, `
		UPDATE profiles
		SET balance = balance + $1, last_withdrawal_at = $2, updated_at = $3
		WHERE id = $4`,
		amount, previousWithdrawalAt, now, accountID)
	if err != nil {
		return fmt.Errorf("refund account %s: %w", accountID, err)
	}
	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Credit adds amount without touching the cooldown stamp.
func (b *BalanceLedger) Credit(ctx context.Context, exec dbExecutor, accountID string, amount decimal.Decimal, now time.Time) error {
	result, err := exec.ExecContext(ctx, `
		UPDATE profiles
		SET balance = balance + $1, updated_at = $2
		WHERE id = $3`,
		amount, now, accountID)
	if err != nil {
		return fmt.Errorf("credit account %s: %w", accountID, err)
	}
	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
