package handlers

import (
	"context"
	"encoding/json"

	"github.com/rewardsapp/withdrawals/internal/models"
	"github.com/rewardsapp/withdrawals/internal/services"
	"github.com/stretchr/testify/mock"
)

type MockWithdrawalService struct {
	mock.Mock
}

func (m *MockWithdrawalService) CreateWithdrawal(ctx context.Context, userID string, req *models.WithdrawalRequest) (*services.WithdrawalResult, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.WithdrawalResult), args.Error(1)
}

func (m *MockWithdrawalService) Policy(ctx context.Context, userID string) (*services.PolicyView, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PolicyView), args.Error(1)
}

func (m *MockWithdrawalService) ListWithdrawals(ctx context.Context, userID string, limit int) ([]models.Withdrawal, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Withdrawal), args.Error(1)
}

func (m *MockWithdrawalService) ListTransactions(ctx context.Context, userID string, limit int) ([]models.TransactionRecord, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TransactionRecord), args.Error(1)
}

type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) Begin(ctx context.Context, userID, key string) (*services.StoredResponse, error) {
	args := m.Called(ctx, userID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StoredResponse), args.Error(1)
}

func (m *MockIdempotencyStore) Complete(ctx context.Context, userID, key string, resp services.StoredResponse) error {
	return m.Called(ctx, userID, key, resp).Error(0)
}

func (m *MockIdempotencyStore) Release(ctx context.Context, userID, key string) error {
	return m.Called(ctx, userID, key).Error(0)
}

type MockReviewService struct {
	mock.Mock
}

func (m *MockReviewService) ListQueue(ctx context.Context, payoutType string, limit int) ([]models.Withdrawal, error) {
	args := m.Called(ctx, payoutType, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Withdrawal), args.Error(1)
}

func (m *MockReviewService) Complete(ctx context.Context, adminID, withdrawalID string, input services.ManualCompletion) (*models.Withdrawal, error) {
	args := m.Called(ctx, adminID, withdrawalID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Withdrawal), args.Error(1)
}

func (m *MockReviewService) Reject(ctx context.Context, adminID, withdrawalID, reason string) (*models.Withdrawal, error) {
	args := m.Called(ctx, adminID, withdrawalID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Withdrawal), args.Error(1)
}

type MockSettingsService struct {
	mock.Mock
}

func (m *MockSettingsService) Get(ctx context.Context, key string) (json.RawMessage, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockSettingsService) Upsert(ctx context.Context, adminID, key string, value json.RawMessage) error {
	return m.Called(ctx, adminID, key, value).Error(0)
}

type MockIPNProcessor struct {
	mock.Mock
}

func (m *MockIPNProcessor) Handle(ctx context.Context, body []byte, signature string) (*models.Withdrawal, error) {
	args := m.Called(ctx, body, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Withdrawal), args.Error(1)
}
