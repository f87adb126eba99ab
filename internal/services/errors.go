package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrorKind names a withdrawal failure the client can branch on.
type ErrorKind string

const (
	KindUnauthorized         ErrorKind = "Unauthorized"
	KindAccountNotFound      ErrorKind = "AccountNotFound"
	KindMissingField         ErrorKind = "MissingField"
	KindAmountBelowMinimum   ErrorKind = "AmountBelowMinimum"
	KindAmountAboveMaximum   ErrorKind = "AmountAboveMaximum"
	KindInsufficientBalance  ErrorKind = "InsufficientBalance"
	KindCooldownActive       ErrorKind = "CooldownActive"
	KindInvalidWalletAddress ErrorKind = "InvalidWalletAddress"
	KindPersistenceFailure   ErrorKind = "PersistenceFailure"
	KindProviderFailure      ErrorKind = "ProviderFailure"
	KindInternal             ErrorKind = "Internal"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrDebitRejected      = errors.New("conditional debit matched no rows")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrInvalidTransition  = errors.New("withdrawal is no longer pending")
	ErrSettingNotFound    = errors.New("setting not found")
	ErrInvalidSetting     = errors.New("invalid setting value")
	ErrInvalidSignature   = errors.New("invalid ipn signature")
	ErrMalformedIPN       = errors.New("malformed ipn payload")
	ErrIdempotencyBusy    = errors.New("request with this idempotency key is in progress")
)

// WithdrawalError is a classified failure of the withdrawal flow. Params is
// merged into the response body next to the localized message.
type WithdrawalError struct {
	Kind   ErrorKind
	Params map[string]any
	Err    error
}

func (e *WithdrawalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *WithdrawalError) Unwrap() error {
	return e.Err
}

func newKindError(kind ErrorKind, params map[string]any) *WithdrawalError {
	return &WithdrawalError{Kind: kind, Params: params}
}

func errMissingField(field string) *WithdrawalError {
	return newKindError(KindMissingField, map[string]any{"field": field})
}

func errBelowMinimum(min decimal.Decimal) *WithdrawalError {
	return newKindError(KindAmountBelowMinimum, map[string]any{"minimumWithdrawal": min})
}

func errAboveMaximum(max decimal.Decimal) *WithdrawalError {
	return newKindError(KindAmountAboveMaximum, map[string]any{"maximumWithdrawal": max})
}

func errInsufficientBalance(balance decimal.Decimal) *WithdrawalError {
	return newKindError(KindInsufficientBalance, map[string]any{"currentBalance": balance})
}

func errCooldownActive(remainingHours int, endsAt time.Time, cooldown time.Duration) *WithdrawalError {
	return newKindError(KindCooldownActive, map[string]any{
		"remainingHours": remainingHours,
		"cooldownEnds":   endsAt.UTC().Format(time.RFC3339),
		"cooldownHours":  int(cooldown.Hours()),
	})
}

func errInvalidWalletAddress() *WithdrawalError {
	return newKindError(KindInvalidWalletAddress, nil)
}

func errPersistence(err error) *WithdrawalError {
	return &WithdrawalError{Kind: KindPersistenceFailure, Err: err}
}

func errInternal(err error) *WithdrawalError {
	return &WithdrawalError{Kind: KindInternal, Err: err}
}

// KindOf returns the kind of a classified error, or KindInternal.
func KindOf(err error) ErrorKind {
	var we *WithdrawalError
	if errors.As(err, &we) {
		return we.Kind
	}
	if errors.Is(err, ErrAccountNotFound) {
		return KindAccountNotFound
	}
	return KindInternal
}
