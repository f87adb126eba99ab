package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rewardsapp/withdrawals/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultPolicy() models.WithdrawalPolicy {
	return models.WithdrawalPolicy{
		Limits:              models.WithdrawalLimits{Min: decimal.NewFromInt(10), Max: decimal.NewFromInt(1000)},
		AutoPayoutThreshold: decimal.NewFromInt(10),
	}
}

func requireKind(t *testing.T, err error, kind ErrorKind) *WithdrawalError {
	t.Helper()
	var werr *WithdrawalError
	require.True(t, errors.As(err, &werr), "expected *WithdrawalError, got %v", err)
	require.Equal(t, kind, werr.Kind)
	return werr
}

func TestWithdrawalValidator_Validate(t *testing.T) {
	v := NewWithdrawalValidator(testWithdrawalConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	account := &models.Account{ID: "user-1", Balance: decimal.NewFromInt(100)}

	valid := func() *models.WithdrawalRequest {
		return &models.WithdrawalRequest{Amount: dec("50"), Currency: "usdt", WalletAddress: testWallet}
	}

	t.Run("valid request passes", func(t *testing.T) {
		assert.NoError(t, v.Validate(valid(), account, defaultPolicy(), now))
	})

	t.Run("missing amount", func(t *testing.T) {
		req := valid()
		req.Amount = nil
		werr := requireKind(t, v.Validate(req, account, defaultPolicy(), now), KindMissingField)
		assert.Equal(t, "amount", werr.Params["field"])
	})

	t.Run("zero amount counts as missing", func(t *testing.T) {
		req := valid()
		req.Amount = dec("0")
		requireKind(t, v.Validate(req, account, defaultPolicy(), now), KindMissingField)
	})

	t.Run("missing currency", func(t *testing.T) {
		req := valid()
		req.Currency = ""
		werr := requireKind(t, v.Validate(req, account, defaultPolicy(), now), KindMissingField)
		assert.Equal(t, "currency", werr.Params["field"])
	})

	t.Run("missing wallet address", func(t *testing.T) {
		req := valid()
		req.WalletAddress = ""
		werr := requireKind(t, v.Validate(req, account, defaultPolicy(), now), KindMissingField)
		assert.Equal(t, "walletAddress", werr.Params["field"])
	})

	t.Run("wallet address length bounds", func(t *testing.T) {
		for _, tc := range []struct {
			name    string
			address string
			ok      bool
		}{
			{"19 chars", strings.Repeat("a", 19), false},
			{"20 chars", strings.Repeat("a", 20), true},
			{"100 chars", strings.Repeat("a", 100), true},
			{"101 chars", strings.Repeat("a", 101), false},
		} {
			t.Run(tc.name, func(t *testing.T) {
				req := valid()
				req.WalletAddress = tc.address
				err := v.Validate(req, account, defaultPolicy(), now)
				if tc.ok {
					assert.NoError(t, err)
				} else {
					requireKind(t, err, KindInvalidWalletAddress)
				}
			})
		}
	})

	t.Run("below minimum carries the bound", func(t *testing.T) {
		req := valid()
		req.Amount = dec("5")
		werr := requireKind(t, v.Validate(req, account, defaultPolicy(), now), KindAmountBelowMinimum)
		assert.True(t, werr.Params["minimumWithdrawal"].(decimal.Decimal).Equal(decimal.NewFromInt(10)))
	})

	t.Run("above maximum carries the bound", func(t *testing.T) {
		rich := &models.Account{ID: "user-1", Balance: decimal.NewFromInt(5000)}
		req := valid()
		req.Amount = dec("1000.01")
		werr := requireKind(t, v.Validate(req, rich, defaultPolicy(), now), KindAmountAboveMaximum)
		assert.True(t, werr.Params["maximumWithdrawal"].(decimal.Decimal).Equal(decimal.NewFromInt(1000)))
	})

	t.Run("bounds are inclusive", func(t *testing.T) {
		rich := &models.Account{ID: "user-1", Balance: decimal.NewFromInt(5000)}
		for _, amount := range []string{"10", "1000"} {
			req := valid()
			req.Amount = dec(amount)
			assert.NoError(t, v.Validate(req, rich, defaultPolicy(), now), amount)
		}
	})

	t.Run("insufficient balance carries current balance", func(t *testing.T) {
		req := valid()
		req.Amount = dec("100.01")
		werr := requireKind(t, v.Validate(req, account, defaultPolicy(), now), KindInsufficientBalance)
		assert.True(t, werr.Params["currentBalance"].(decimal.Decimal).Equal(decimal.NewFromInt(100)))
	})

	t.Run("cooldown ten hours in leaves fourteen", func(t *testing.T) {
		last := now.Add(-10 * time.Hour)
		recent := &models.Account{ID: "user-1", Balance: decimal.NewFromInt(100), LastWithdrawalAt: &last}
		werr := requireKind(t, v.Validate(valid(), recent, defaultPolicy(), now), KindCooldownActive)
		assert.Equal(t, 14, werr.Params["remainingHours"])
		assert.Equal(t, last.Add(24*time.Hour).Format(time.RFC3339), werr.Params["cooldownEnds"])
		assert.Equal(t, 24, werr.Params["cooldownHours"])
	})

	t.Run("partial hours round up", func(t *testing.T) {
		last := now.Add(-23*time.Hour - 59*time.Minute)
		recent := &models.Account{ID: "user-1", Balance: decimal.NewFromInt(100), LastWithdrawalAt: &last}
		werr := requireKind(t, v.Validate(valid(), recent, defaultPolicy(), now), KindCooldownActive)
		assert.Equal(t, 1, werr.Params["remainingHours"])
	})

	t.Run("cooldown elapsed exactly", func(t *testing.T) {
		last := now.Add(-24 * time.Hour)
		old := &models.Account{ID: "user-1", Balance: decimal.NewFromInt(100), LastWithdrawalAt: &last}
		assert.NoError(t, v.Validate(valid(), old, defaultPolicy(), now))
	})

	t.Run("first failing rule wins", func(t *testing.T) {
		last := now.Add(-time.Hour)
		poor := &models.Account{ID: "user-1", Balance: decimal.NewFromInt(1), LastWithdrawalAt: &last}
		req := valid()
		req.Amount = dec("5")
		requireKind(t, v.Validate(req, poor, defaultPolicy(), now), KindAmountBelowMinimum)

		req.WalletAddress = "short"
		requireKind(t, v.Validate(req, poor, defaultPolicy(), now), KindInvalidWalletAddress)
	})
}

func TestWithdrawalValidator_Normalize(t *testing.T) {
	v := NewWithdrawalValidator(testWithdrawalConfig())
	req := &models.WithdrawalRequest{Amount: dec("20"), Currency: " usdt ", WalletAddress: "  " + testWallet + "\n", Network: " TRC20 "}

	v.Normalize(req)

	assert.Equal(t, "usdt", req.Currency)
	assert.Equal(t, testWallet, req.WalletAddress)
	assert.Equal(t, "TRC20", req.Network)
}

func TestWithdrawalValidator_NextWithdrawalAt(t *testing.T) {
	v := NewWithdrawalValidator(testWithdrawalConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(24*time.Hour), v.NextWithdrawalAt(now))
}
