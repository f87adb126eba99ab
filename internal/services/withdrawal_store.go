package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rewardsapp/withdrawals/internal/models"
)

const withdrawalColumns = `id, user_id, amount_usd, amount_crypto, currency, network, wallet_address,
	status, payout_type, withdrawal_id, tx_hash, processed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(row rowScanner) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := row.Scan(&w.ID, &w.UserID, &w.AmountUSD, &w.AmountCrypto, &w.Currency, &w.Network,
		&w.WalletAddress, &w.Status, &w.PayoutType, &w.ProviderRef, &w.TxHash, &w.ProcessedAt,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// WithdrawalStore answers read queries over crypto_withdrawals and the
// paired transaction history.
type WithdrawalStore struct {
	db *sql.DB
}

func NewWithdrawalStore(db *sql.DB) *WithdrawalStore {
	return &WithdrawalStore{db: db}
}

func (s *WithdrawalStore) Get(ctx context.Context, id string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(s.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM crypto_withdrawals WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load withdrawal %s: %w", id, err)
	}
	return w, nil
}

// FindByProviderRef looks a withdrawal up by the payout id the provider issued.
func (s *WithdrawalStore) FindByProviderRef(ctx context.Context, ref string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(s.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM crypto_withdrawals WHERE withdrawal_id = $1 LIMIT 1`, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load withdrawal by provider ref: %w", err)
	}
	return w, nil
}

func (s *WithdrawalStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.Withdrawal, error) {
	return s.list(ctx, `
		SELECT `+withdrawalColumns+`
		FROM crypto_withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
}

// ListPending returns the manual review queue, oldest first. An empty
// payoutType matches both auto and manual rows.
func (s *WithdrawalStore) ListPending(ctx context.Context, payoutType string, limit int) ([]models.Withdrawal, error) {
	return s.list(ctx, `
		SELECT `+withdrawalColumns+`
		FROM crypto_withdrawals
		WHERE status = 'pending' AND ($1 = '' OR payout_type = $1)
		ORDER BY created_at ASC
		LIMIT $2`, payoutType, limit)
}

func (s *WithdrawalStore) list(ctx context.Context, query string, args ...any) ([]models.Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()

	withdrawals := []models.Withdrawal{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, *w)
	}
	return withdrawals, rows.Err()
}

func (s *WithdrawalStore) ListTransactions(ctx context.Context, userID string, limit int) ([]models.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, description, status, reference_id, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	records := []models.TransactionRecord{}
	for rows.Next() {
		var rec models.TransactionRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Type, &rec.Amount, &rec.Description,
			&rec.Status, &rec.ReferenceID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
