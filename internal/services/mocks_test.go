package services

import (
	"context"
	"database/sql/driver"
	"time"

	"github.com/rewardsapp/withdrawals/internal/audit"
	"github.com/rewardsapp/withdrawals/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockPayoutProvider struct {
	mock.Mock
}

func (m *MockPayoutProvider) CreatePayout(ctx context.Context, apiKey string, req PayoutRequest) (*PayoutResult, error) {
	args := m.Called(ctx, apiKey, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PayoutResult), args.Error(1)
}

func (m *MockPayoutProvider) EstimateAmount(ctx context.Context, apiKey string, amountUSD decimal.Decimal, currency string) (decimal.NullDecimal, error) {
	args := m.Called(ctx, apiKey, amountUSD, currency)
	return args.Get(0).(decimal.NullDecimal), args.Error(1)
}

type MockActivityRecorder struct {
	mock.Mock
}

func (m *MockActivityRecorder) Record(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

// actions returns the recorded actions in order.
func (m *MockActivityRecorder) actions() []string {
	var actions []string
	for _, call := range m.Calls {
		if call.Method == "Record" {
			actions = append(actions, call.Arguments.Get(1).(audit.Event).Action)
		}
	}
	return actions
}

type MockPayoutLedger struct {
	mock.Mock
}

func (m *MockPayoutLedger) Complete(ctx context.Context, withdrawalID string, providerRef, txHash *string) (time.Time, error) {
	args := m.Called(ctx, withdrawalID, providerRef, txHash)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockPayoutLedger) DegradeToManual(ctx context.Context, withdrawalID, annotation string) error {
	args := m.Called(ctx, withdrawalID, annotation)
	return args.Error(0)
}

// decimalArg matches a decimal SQL argument by value, ignoring scale.
type decimalArg struct {
	want decimal.Decimal
}

func decimalOf(s string) decimalArg {
	return decimalArg{want: decimal.RequireFromString(s)}
}

func (a decimalArg) Match(v driver.Value) bool {
	var got decimal.Decimal
	switch x := v.(type) {
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return false
		}
		got = d
	case decimal.Decimal:
		got = x
	default:
		return false
	}
	return got.Equal(a.want)
}

func testWithdrawalConfig() *config.WithdrawalConfig {
	return &config.WithdrawalConfig{
		DefaultMin:           decimal.NewFromInt(10),
		DefaultMax:           decimal.NewFromInt(1000),
		DefaultAutoThreshold: decimal.NewFromInt(10),
		Cooldown:             24 * time.Hour,
		MinAddressLength:     20,
		MaxAddressLength:     100,
		DefaultNetwork:       "TRC20",
		Locale:               "ar",
		IdempotencyTTL:       time.Hour,
		EstimateTimeout:      2 * time.Second,
	}
}

func ptr[T any](v T) *T {
	return &v
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

const testWallet = "TXYZabcdefghijklmnopqrstuvwxyz1234"
