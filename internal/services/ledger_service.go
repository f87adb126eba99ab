package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewardsapp/withdrawals/internal/audit"
	"github.com/rewardsapp/withdrawals/internal/metrics"
	"github.com/rewardsapp/withdrawals/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ActivityRecorder appends audit events.
type ActivityRecorder interface {
	Record(ctx context.Context, event audit.Event)
}

// Reservation describes an accepted withdrawal about to hit the ledger.
type Reservation struct {
	Account         *models.Account
	Amount          decimal.Decimal
	Currency        string
	Network         string
	WalletAddress   string
	PayoutType      string
	EstimatedCrypto decimal.NullDecimal
	Description     string
	Cooldown        time.Duration
}

// ledgerWriteTimeout bounds each detached ledger step of a reservation.
const ledgerWriteTimeout = 10 * time.Second

// LedgerReconciler owns every write to balances, withdrawals and their
// transaction records.
type LedgerReconciler struct {
	db     *sql.DB
	ledger *BalanceLedger
	audit  ActivityRecorder
	log    *zap.Logger
	now    func() time.Time
	newID  func() string

	writeTimeout time.Duration
}

func NewLedgerReconciler(db *sql.DB, ledger *BalanceLedger, recorder ActivityRecorder, log *zap.Logger) *LedgerReconciler {
	return &LedgerReconciler{
		db:     db,
		ledger: ledger,
		audit:  recorder,
		log:    log.Named("ledger"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,

		writeTimeout: ledgerWriteTimeout,
	}
}

// Reserve debits the account and records a pending withdrawal with its
// transaction row. The two inserts share one DB transaction; if it fails the
// debit is refunded before the error is returned. The writes do not follow
// the caller's cancellation: once the debit lands it is always followed by
// its insert or its refund. A refund that also fails is reported as Internal.
func (l *LedgerReconciler) Reserve(ctx context.Context, res Reservation) (*models.Withdrawal, error) {
	now := l.now()
	account := res.Account

	detached := context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(detached, l.writeTimeout)
	defer cancel()

	if err := l.ledger.Debit(ctx, account.ID, res.Amount, now, res.Cooldown); err != nil {
		return nil, err
	}

	withdrawal := &models.Withdrawal{
		ID:            l.newID(),
		UserID:        account.ID,
		AmountUSD:     res.Amount,
		AmountCrypto:  res.EstimatedCrypto,
		Currency:      res.Currency,
		Network:       res.Network,
		WalletAddress: res.WalletAddress,
		Status:        models.WithdrawalStatusPending,
		PayoutType:    res.PayoutType,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := l.insertWithdrawal(ctx, withdrawal, res.Description); err != nil {
		l.log.Error("withdrawal insert failed, refunding debit",
			zap.String("account_id", account.ID),
			zap.String("withdrawal_id", withdrawal.ID),
			zap.String("amount", res.Amount.String()),
			zap.Error(err))

		refundCtx, cancelRefund := context.WithTimeout(detached, l.writeTimeout)
		defer cancelRefund()

		if refundErr := l.ledger.Refund(refundCtx, account.ID, res.Amount, account.LastWithdrawalAt, l.now()); refundErr != nil {
			l.log.Error("refund after failed withdrawal insert failed, balance needs manual correction",
				zap.String("account_id", account.ID),
				zap.String("amount", res.Amount.String()),
				zap.Error(refundErr))
			return nil, errInternal(errors.Join(err, refundErr))
		}

		metrics.Refunds.WithLabelValues("persistence_failure").Inc()
		l.audit.Record(refundCtx, audit.Event{
			Action:   audit.ActionWithdrawalRefunded,
			TargetID: account.ID,
			Details:  models.Details{"amount": res.Amount.String(), "reason": err.Error()},
		})
		return nil, errPersistence(err)
	}

	return withdrawal, nil
}

func (l *LedgerReconciler) insertWithdrawal(ctx context.Context, w *models.Withdrawal, description string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO crypto_withdrawals
		(id, user_id, amount_usd, amount_crypto, currency, network, wallet_address, status, payout_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		w.ID, w.UserID, w.AmountUSD, w.AmountCrypto, w.Currency, w.Network, w.WalletAddress,
		w.Status, w.PayoutType, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions
		(id, user_id, type, amount, description, status, reference_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		l.newID(), w.UserID, models.TransactionTypeWithdrawal, w.AmountUSD.Neg(), description,
		models.WithdrawalStatusPending, w.ID, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Complete moves a pending withdrawal and its transaction row to completed.
// Nil providerRef or txHash keep the stored values.
func (l *LedgerReconciler) Complete(ctx context.Context, withdrawalID string, providerRef, txHash *string) (time.Time, error) {
	now := l.now()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return now, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE crypto_withdrawals
		SET status = $1, processed_at = $2, withdrawal_id = COALESCE($3, withdrawal_id),
		    tx_hash = COALESCE($4, tx_hash), updated_at = $2
		WHERE id = $5 AND status = $6`,
		models.WithdrawalStatusCompleted, now, providerRef, txHash, withdrawalID, models.WithdrawalStatusPending)
	if err != nil {
		return now, fmt.Errorf("complete withdrawal %s: %w", withdrawalID, err)
	}
	if err := requireOneRow(result); err != nil {
		return now, err
	}

	if err := l.setTransactionStatus(ctx, tx, withdrawalID, models.WithdrawalStatusCompleted, now); err != nil {
		return now, err
	}

	if err := tx.Commit(); err != nil {
		return now, fmt.Errorf("commit: %w", err)
	}
	return now, nil
}

// DegradeToManual hands a pending auto withdrawal to human review, keeping
// the diagnostic in the provider reference column.
func (l *LedgerReconciler) DegradeToManual(ctx context.Context, withdrawalID, annotation string) error {
	result, err := l.db.ExecContext(ctx, `
		UPDATE crypto_withdrawals
		SET payout_type = $1, withdrawal_id = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		models.PayoutTypeManual, annotation, l.now(), withdrawalID, models.WithdrawalStatusPending)
	if err != nil {
		return fmt.Errorf("degrade withdrawal %s: %w", withdrawalID, err)
	}
	return requireOneRow(result)
}

// Reject fails a pending withdrawal and credits the amount back.
func (l *LedgerReconciler) Reject(ctx context.Context, withdrawalID string) (*models.Withdrawal, error) {
	now := l.now()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	w, err := l.lockWithdrawal(ctx, tx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WithdrawalStatusPending {
		return nil, ErrInvalidTransition
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE crypto_withdrawals
		SET status = $1, processed_at = $2, updated_at = $2
		WHERE id = $3`,
		models.WithdrawalStatusFailed, now, withdrawalID); err != nil {
		return nil, fmt.Errorf("reject withdrawal %s: %w", withdrawalID, err)
	}

	if err := l.setTransactionStatus(ctx, tx, withdrawalID, models.WithdrawalStatusFailed, now); err != nil {
		return nil, err
	}

	if err := l.ledger.Credit(ctx, tx, w.UserID, w.AmountUSD, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	metrics.Refunds.WithLabelValues("rejected").Inc()
	w.Status = models.WithdrawalStatusFailed
	w.ProcessedAt = &now
	w.UpdatedAt = now
	return w, nil
}

// SetTxHash records an on-chain hash reported after completion.
func (l *LedgerReconciler) SetTxHash(ctx context.Context, withdrawalID, txHash string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE crypto_withdrawals
		SET tx_hash = $1, updated_at = $2
		WHERE id = $3 AND tx_hash IS NULL`,
		txHash, l.now(), withdrawalID)
	if err != nil {
		return fmt.Errorf("set tx hash on %s: %w", withdrawalID, err)
	}
	return nil
}

func (l *LedgerReconciler) lockWithdrawal(ctx context.Context, tx *sql.Tx, withdrawalID string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(tx.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM crypto_withdrawals WHERE id = $1 FOR UPDATE`, withdrawalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock withdrawal %s: %w", withdrawalID, err)
	}
	return w, nil
}

func (l *LedgerReconciler) setTransactionStatus(ctx context.Context, tx *sql.Tx, withdrawalID, status string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = $2
		WHERE reference_id = $3 AND status = $4`,
		status, now, withdrawalID, models.WithdrawalStatusPending)
	if err != nil {
		return fmt.Errorf("update transaction for %s: %w", withdrawalID, err)
	}
	return nil
}

func requireOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}
