package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rewardsapp/withdrawals/internal/audit"
	"github.com/rewardsapp/withdrawals/internal/models"
	"go.uber.org/zap"
)

// ManualCompletion is what an operator reports after paying out by hand.
type ManualCompletion struct {
	TxHash      *string `json:"txHash"`
	ProviderRef *string `json:"providerReferenceId"`
}

// ReviewService is the operator side of withdrawals that did not complete
// automatically.
type ReviewService struct {
	reconciler *LedgerReconciler
	store      *WithdrawalStore
	audit      ActivityRecorder
	log        *zap.Logger
}

func NewReviewService(reconciler *LedgerReconciler, store *WithdrawalStore, recorder ActivityRecorder, log *zap.Logger) *ReviewService {
	return &ReviewService{
		reconciler: reconciler,
		store:      store,
		audit:      recorder,
		log:        log.Named("review"),
	}
}

func (r *ReviewService) ListQueue(ctx context.Context, payoutType string, limit int) ([]models.Withdrawal, error) {
	return r.store.ListPending(ctx, payoutType, limit)
}

// Complete marks a pending withdrawal as paid.
func (r *ReviewService) Complete(ctx context.Context, adminID, withdrawalID string, input ManualCompletion) (*models.Withdrawal, error) {
	input.TxHash = blankToNil(input.TxHash)
	input.ProviderRef = blankToNil(input.ProviderRef)

	if _, err := r.reconciler.Complete(ctx, withdrawalID, input.ProviderRef, input.TxHash); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			if _, getErr := r.store.Get(ctx, withdrawalID); getErr != nil {
				return nil, getErr
			}
		}
		return nil, err
	}

	w, err := r.store.Get(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}

	details := models.Details{"amount": w.AmountUSD.String(), "user_id": w.UserID}
	if w.TxHash != nil {
		details["tx_hash"] = *w.TxHash
	}
	r.audit.Record(ctx, audit.Event{
		AdminID:  &adminID,
		Action:   audit.ActionManualPayoutCompleted,
		TargetID: w.ID,
		Details:  details,
	})

	r.log.Info("manual payout completed", zap.String("withdrawal_id", w.ID), zap.String("admin_id", adminID))
	return w, nil
}

// Reject fails a pending withdrawal and returns the amount to the balance.
func (r *ReviewService) Reject(ctx context.Context, adminID, withdrawalID, reason string) (*models.Withdrawal, error) {
	w, err := r.reconciler.Reject(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}

	r.audit.Record(ctx, audit.Event{
		AdminID:  &adminID,
		Action:   audit.ActionWithdrawalRejected,
		TargetID: w.ID,
		Details: models.Details{
			"amount":  w.AmountUSD.String(),
			"user_id": w.UserID,
			"reason":  strings.TrimSpace(reason),
		},
	})

	r.log.Info("withdrawal rejected and refunded",
		zap.String("withdrawal_id", w.ID),
		zap.String("admin_id", adminID),
		zap.String("amount", w.AmountUSD.String()))
	return w, nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
