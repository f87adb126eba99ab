package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rewardsapp/withdrawals/internal/config"
	"github.com/rewardsapp/withdrawals/internal/metrics"
	"github.com/rewardsapp/withdrawals/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const descriptionAddressPrefix = 10

// WithdrawalResult is an accepted withdrawal as returned to the caller.
type WithdrawalResult struct {
	Withdrawal       *models.Withdrawal
	AutoProcessed    bool
	NextWithdrawalAt time.Time
	Message          MessageKey
}

// PolicyView is what the withdrawal form needs before submitting.
type PolicyView struct {
	Limits              models.WithdrawalLimits `json:"limits"`
	AutoPayoutThreshold decimal.Decimal         `json:"autoPayoutThreshold"`
	CooldownHours       int                     `json:"cooldownHours"`
	Balance             decimal.Decimal         `json:"balance"`
	LastWithdrawalAt    *time.Time              `json:"lastWithdrawalAt"`
	NextWithdrawalAt    *time.Time              `json:"nextWithdrawalAt"`
}

// WithdrawalService runs a withdrawal request end to end: validation,
// ledger reservation and payout dispatch.
type WithdrawalService struct {
	ledger     *BalanceLedger
	limits     *LimitResolver
	validator  *WithdrawalValidator
	reconciler *LedgerReconciler
	dispatcher *PayoutDispatcher
	provider   PayoutProvider
	store      *WithdrawalStore
	messages   *Messages
	cfg        *config.WithdrawalConfig
	log        *zap.Logger
	now        func() time.Time
}

func NewWithdrawalService(
	ledger *BalanceLedger,
	limits *LimitResolver,
	validator *WithdrawalValidator,
	reconciler *LedgerReconciler,
	dispatcher *PayoutDispatcher,
	provider PayoutProvider,
	store *WithdrawalStore,
	messages *Messages,
	cfg *config.WithdrawalConfig,
	log *zap.Logger,
) *WithdrawalService {
	return &WithdrawalService{
		ledger:     ledger,
		limits:     limits,
		validator:  validator,
		reconciler: reconciler,
		dispatcher: dispatcher,
		provider:   provider,
		store:      store,
		messages:   messages,
		cfg:        cfg,
		log:        log.Named("withdrawals"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateWithdrawal validates and books a withdrawal for userID. Rule
// violations come back as *WithdrawalError before anything is written.
func (s *WithdrawalService) CreateWithdrawal(ctx context.Context, userID string, req *models.WithdrawalRequest) (*WithdrawalResult, error) {
	result, err := s.createWithdrawal(ctx, userID, req)
	if err != nil {
		metrics.WithdrawalRequests.WithLabelValues(string(KindOf(err))).Inc()
		return nil, err
	}
	metrics.WithdrawalRequests.WithLabelValues("accepted").Inc()
	return result, nil
}

func (s *WithdrawalService) createWithdrawal(ctx context.Context, userID string, req *models.WithdrawalRequest) (*WithdrawalResult, error) {
	s.validator.Normalize(req)
	if err := s.validator.CheckRequest(req); err != nil {
		return nil, err
	}

	account, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	policy, err := s.limits.Resolve(ctx)
	if err != nil {
		return nil, errInternal(err)
	}

	now := s.now()
	if err := s.validator.Validate(req, account, policy, now); err != nil {
		s.log.Info("withdrawal rejected",
			zap.String("account_id", userID),
			zap.String("kind", string(KindOf(err))))
		return nil, err
	}

	amount := *req.Amount
	currency := strings.ToUpper(req.Currency)
	network := req.Network
	if network == "" {
		network = s.cfg.DefaultNetwork
	}

	apiKey := s.limits.APIKey(ctx)
	estimate := s.estimate(ctx, apiKey, amount, currency)

	withdrawal, err := s.reconciler.Reserve(ctx, Reservation{
		Account:         account,
		Amount:          amount,
		Currency:        currency,
		Network:         network,
		WalletAddress:   req.WalletAddress,
		PayoutType:      s.dispatcher.PayoutTypeFor(amount, policy.AutoPayoutThreshold),
		EstimatedCrypto: estimate,
		Description:     s.describe(currency, req.WalletAddress),
		Cooldown:        s.cfg.Cooldown,
	})
	if errors.Is(err, ErrDebitRejected) {
		return nil, s.explainRejectedDebit(ctx, userID, req, policy)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("withdrawal reserved",
		zap.String("withdrawal_id", withdrawal.ID),
		zap.String("account_id", userID),
		zap.String("amount", amount.String()),
		zap.String("payout_type", withdrawal.PayoutType))

	// The debit is committed; the payout must run to the end even if the
	// client goes away.
	outcome := s.dispatcher.Dispatch(context.WithoutCancel(ctx), withdrawal, apiKey)

	message := MsgQueuedForReview
	switch {
	case outcome.AutoProcessed:
		message = MsgAutoProcessed
	case withdrawal.PayoutType == models.PayoutTypeAuto:
		message = MsgQueuedForAutoPayout
	}

	return &WithdrawalResult{
		Withdrawal:       withdrawal,
		AutoProcessed:    outcome.AutoProcessed,
		NextWithdrawalAt: s.validator.NextWithdrawalAt(withdrawal.CreatedAt),
		Message:          message,
	}, nil
}

func (s *WithdrawalService) loadAccount(ctx context.Context, userID string) (*models.Account, error) {
	account, err := s.ledger.GetAccount(ctx, userID)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, &WithdrawalError{Kind: KindAccountNotFound, Err: err}
	}
	if err != nil {
		return nil, errInternal(err)
	}
	return account, nil
}

// explainRejectedDebit re-reads the account after the guarded debit lost a
// race and reports the rule that now fails.
func (s *WithdrawalService) explainRejectedDebit(ctx context.Context, userID string, req *models.WithdrawalRequest, policy models.WithdrawalPolicy) error {
	account, err := s.ledger.GetAccount(ctx, userID)
	if err != nil {
		s.log.Warn("re-read after rejected debit failed", zap.String("account_id", userID), zap.Error(err))
		return errInsufficientBalance(decimal.Zero)
	}
	if err := s.validator.Validate(req, account, policy, s.now()); err != nil {
		return err
	}
	return errInsufficientBalance(account.Balance)
}

func (s *WithdrawalService) estimate(ctx context.Context, apiKey string, amount decimal.Decimal, currency string) decimal.NullDecimal {
	if apiKey == "" {
		return decimal.NullDecimal{}
	}
	if s.cfg.EstimateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.EstimateTimeout)
		defer cancel()
	}
	estimate, err := s.provider.EstimateAmount(ctx, apiKey, amount, currency)
	if err != nil {
		s.log.Warn("estimation error", zap.String("currency", currency), zap.Error(err))
		return decimal.NullDecimal{}
	}
	return estimate
}

func (s *WithdrawalService) describe(currency, address string) string {
	prefix := []rune(address)
	if len(prefix) > descriptionAddressPrefix {
		prefix = prefix[:descriptionAddressPrefix]
	}
	return s.messages.Text(s.messages.Default(), MsgTransactionDescription, map[string]any{
		"currency": currency,
		"address":  string(prefix),
	})
}

// Policy returns limits and cooldown state for userID.
func (s *WithdrawalService) Policy(ctx context.Context, userID string) (*PolicyView, error) {
	account, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	policy, err := s.limits.Resolve(ctx)
	if err != nil {
		return nil, errInternal(err)
	}

	view := &PolicyView{
		Limits:              policy.Limits,
		AutoPayoutThreshold: policy.AutoPayoutThreshold,
		CooldownHours:       int(s.cfg.Cooldown.Hours()),
		Balance:             account.Balance,
		LastWithdrawalAt:    account.LastWithdrawalAt,
	}
	if account.LastWithdrawalAt != nil {
		next := s.validator.NextWithdrawalAt(*account.LastWithdrawalAt)
		if next.After(s.now()) {
			view.NextWithdrawalAt = &next
		}
	}
	return view, nil
}

func (s *WithdrawalService) ListWithdrawals(ctx context.Context, userID string, limit int) ([]models.Withdrawal, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

func (s *WithdrawalService) ListTransactions(ctx context.Context, userID string, limit int) ([]models.TransactionRecord, error) {
	return s.store.ListTransactions(ctx, userID, limit)
}
