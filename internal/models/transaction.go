package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusCompleted = "completed"
	WithdrawalStatusFailed    = "failed"

	PayoutTypeAuto   = "auto"
	PayoutTypeManual = "manual"

	TransactionTypeWithdrawal = "withdrawal"
)

// WithdrawalRequest is the body accepted by the withdrawal endpoint.
// Amount is a pointer so an absent value can be told apart from zero.
type WithdrawalRequest struct {
	Amount        *decimal.Decimal `json:"amount" validate:"required"`
	Currency      string           `json:"currency" validate:"required"`
	WalletAddress string           `json:"walletAddress" validate:"required,wallet_address"`
	Network       string           `json:"network,omitempty"`
}

// Withdrawal is a row of crypto_withdrawals.
type Withdrawal struct {
	ID            string              `json:"id" db:"id"`
	UserID        string              `json:"userId" db:"user_id"`
	AmountUSD     decimal.Decimal     `json:"amountUsd" db:"amount_usd"`
	AmountCrypto  decimal.NullDecimal `json:"estimatedCrypto" db:"amount_crypto"`
	Currency      string              `json:"currency" db:"currency"`
	Network       string              `json:"network" db:"network"`
	WalletAddress string              `json:"walletAddress" db:"wallet_address"`
	Status        string              `json:"status" db:"status"`
	PayoutType    string              `json:"payoutType" db:"payout_type"`
	ProviderRef   *string             `json:"providerReferenceId" db:"withdrawal_id"` // provider payout id or AUTO_* annotation
	TxHash        *string             `json:"txHash" db:"tx_hash"`
	ProcessedAt   *time.Time          `json:"processedAt" db:"processed_at"`
	CreatedAt     time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time           `json:"updatedAt" db:"updated_at"`
}

// TransactionRecord is the user-facing history entry paired with a withdrawal.
type TransactionRecord struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"userId" db:"user_id"`
	Type        string          `json:"type" db:"type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Description string          `json:"description" db:"description"`
	Status      string          `json:"status" db:"status"`
	ReferenceID *string         `json:"referenceId" db:"reference_id"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// ActivityLog is an append-only audit row.
type ActivityLog struct {
	ID        int64     `json:"id" db:"id"`
	AdminID   *string   `json:"adminId" db:"admin_id"`
	Action    string    `json:"action" db:"action"`
	TargetID  string    `json:"targetId" db:"target_id"`
	Details   Details   `json:"details" db:"details"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
