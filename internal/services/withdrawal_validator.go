package services

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rewardsapp/withdrawals/internal/config"
	"github.com/rewardsapp/withdrawals/internal/models"
)

const walletAddressTag = "wallet_address"

// WithdrawalValidator applies the withdrawal rules in a fixed order and
// reports the first one violated. It never mutates anything.
type WithdrawalValidator struct {
	helper *ValidationHelper
	cfg    *config.WithdrawalConfig
}

func NewWithdrawalValidator(cfg *config.WithdrawalConfig) *WithdrawalValidator {
	helper := NewValidationHelper()
	helper.validator.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// Length screen only; address checksums are left to the provider.
	helper.validator.RegisterValidation(walletAddressTag, func(fl validator.FieldLevel) bool {
		n := utf8.RuneCountInString(fl.Field().String())
		return n >= cfg.MinAddressLength && n <= cfg.MaxAddressLength
	})

	return &WithdrawalValidator{helper: helper, cfg: cfg}
}

// Normalize trims user input before validation.
func (v *WithdrawalValidator) Normalize(req *models.WithdrawalRequest) {
	req.Currency = strings.TrimSpace(req.Currency)
	req.WalletAddress = strings.TrimSpace(req.WalletAddress)
	req.Network = strings.TrimSpace(req.Network)
}

// CheckRequest covers the rules that need only the request body.
func (v *WithdrawalValidator) CheckRequest(req *models.WithdrawalRequest) error {
	if err := v.helper.ValidateStruct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return errInternal(err)
		}
		for _, fe := range fieldErrs {
			if fe.Tag() == "required" {
				return errMissingField(fe.Field())
			}
		}
		return errInvalidWalletAddress()
	}

	if req.Amount.IsZero() {
		return errMissingField("amount")
	}
	return nil
}

// Validate runs every rule against the account and the resolved policy.
func (v *WithdrawalValidator) Validate(req *models.WithdrawalRequest, account *models.Account, policy models.WithdrawalPolicy, now time.Time) error {
	if err := v.CheckRequest(req); err != nil {
		return err
	}

	amount := *req.Amount
	if amount.LessThan(policy.Limits.Min) {
		return errBelowMinimum(policy.Limits.Min)
	}
	if amount.GreaterThan(policy.Limits.Max) {
		return errAboveMaximum(policy.Limits.Max)
	}

	if account.Balance.LessThan(amount) {
		return errInsufficientBalance(account.Balance)
	}

	return v.checkCooldown(account, now)
}

func (v *WithdrawalValidator) checkCooldown(account *models.Account, now time.Time) error {
	if account.LastWithdrawalAt == nil {
		return nil
	}

	endsAt := account.LastWithdrawalAt.Add(v.cfg.Cooldown)
	remaining := endsAt.Sub(now)
	if remaining <= 0 {
		return nil
	}

	return errCooldownActive(int(math.Ceil(remaining.Hours())), endsAt, v.cfg.Cooldown)
}

// NextWithdrawalAt is when the account may withdraw again after a debit at now.
func (v *WithdrawalValidator) NextWithdrawalAt(now time.Time) time.Time {
	return now.Add(v.cfg.Cooldown)
}
