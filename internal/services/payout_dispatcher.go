package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rewardsapp/withdrawals/internal/audit"
	"github.com/rewardsapp/withdrawals/internal/metrics"
	"github.com/rewardsapp/withdrawals/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	annotationFailed = "AUTO_FAILED: "
	annotationError  = "AUTO_ERROR: "

	defaultFailureMessage = "Auto payout failed"
)

// payoutLedger is the part of the reconciler the dispatcher writes through.
type payoutLedger interface {
	Complete(ctx context.Context, withdrawalID string, providerRef, txHash *string) (time.Time, error)
	DegradeToManual(ctx context.Context, withdrawalID, annotation string) error
}

// DispatchOutcome reports what happened to one withdrawal.
type DispatchOutcome struct {
	Attempted     bool
	AutoProcessed bool
}

// PayoutDispatcher routes withdrawals to the provider or to manual review.
// A provider failure never undoes the debit; the withdrawal stays pending
// and is handed to an operator.
type PayoutDispatcher struct {
	provider    PayoutProvider
	ledger      payoutLedger
	audit       ActivityRecorder
	callbackURL string
	log         *zap.Logger
}

func NewPayoutDispatcher(provider PayoutProvider, ledger payoutLedger, recorder ActivityRecorder, callbackURL string, log *zap.Logger) *PayoutDispatcher {
	return &PayoutDispatcher{
		provider:    provider,
		ledger:      ledger,
		audit:       recorder,
		callbackURL: callbackURL,
		log:         log.Named("dispatcher"),
	}
}

// PayoutTypeFor picks auto for amounts at or below the threshold.
func (d *PayoutDispatcher) PayoutTypeFor(amount, threshold decimal.Decimal) string {
	if amount.LessThanOrEqual(threshold) {
		return models.PayoutTypeAuto
	}
	return models.PayoutTypeManual
}

// Dispatch attempts the auto payout for w and updates w in place to match
// what was persisted. Manual withdrawals are left alone.
func (d *PayoutDispatcher) Dispatch(ctx context.Context, w *models.Withdrawal, apiKey string) (outcome DispatchOutcome) {
	if w.PayoutType != models.PayoutTypeAuto {
		return outcome
	}

	if apiKey == "" {
		metrics.Payouts.WithLabelValues("skipped").Inc()
		d.degrade(ctx, w, annotationError+"provider api key not configured", audit.ActionAutoPayoutError)
		return outcome
	}

	outcome.Attempted = true
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("auto payout panicked", zap.String("withdrawal_id", w.ID), zap.Any("panic", r))
			metrics.Payouts.WithLabelValues("error").Inc()
			d.degrade(ctx, w, fmt.Sprintf("%s%v", annotationError, r), audit.ActionAutoPayoutError)
			outcome.AutoProcessed = false
		}
	}()

	d.log.Info("auto payout triggered",
		zap.String("withdrawal_id", w.ID),
		zap.String("amount", w.AmountUSD.String()),
		zap.String("currency", w.Currency))

	result, err := d.provider.CreatePayout(ctx, apiKey, PayoutRequest{
		Address:        w.WalletAddress,
		Currency:       w.Currency,
		Amount:         w.AmountUSD,
		IPNCallbackURL: d.callbackURL,
	})
	if err != nil {
		metrics.Payouts.WithLabelValues("error").Inc()
		d.log.Error("auto payout error", zap.String("withdrawal_id", w.ID), zap.Error(err))
		d.degrade(ctx, w, annotationError+err.Error(), audit.ActionAutoPayoutError)
		return outcome
	}

	if !result.Accepted() {
		message := result.Message
		if message == "" {
			message = defaultFailureMessage
		}
		metrics.Payouts.WithLabelValues("failed").Inc()
		d.log.Warn("auto payout failed",
			zap.String("withdrawal_id", w.ID),
			zap.Int("status", result.StatusCode),
			zap.String("message", message))
		d.degrade(ctx, w, annotationFailed+message, audit.ActionAutoPayoutFailed)
		return outcome
	}

	metrics.Payouts.WithLabelValues("success").Inc()
	outcome.AutoProcessed = true
	d.complete(ctx, w, result)
	return outcome
}

func (d *PayoutDispatcher) complete(ctx context.Context, w *models.Withdrawal, result *PayoutResult) {
	ref := result.ID
	var hash *string
	if result.Hash != "" {
		hash = &result.Hash
	}

	details := models.Details{"amount": w.AmountUSD.String(), "payout_id": ref}

	processedAt, err := d.ledger.Complete(ctx, w.ID, &ref, hash)
	if err != nil {
		// The provider holds the payout; an operator must reconcile the row.
		d.log.Error("payout accepted but completion not recorded",
			zap.String("withdrawal_id", w.ID),
			zap.String("payout_id", ref),
			zap.Error(err))
		details["record_error"] = err.Error()
	} else {
		w.Status = models.WithdrawalStatusCompleted
		w.ProcessedAt = &processedAt
		w.UpdatedAt = processedAt
		w.ProviderRef = &ref
		if hash != nil {
			w.TxHash = hash
		}
	}

	d.audit.Record(ctx, audit.Event{
		Action:   audit.ActionAutoPayoutSuccess,
		TargetID: w.ID,
		Details:  details,
	})
}

func (d *PayoutDispatcher) degrade(ctx context.Context, w *models.Withdrawal, annotation, action string) {
	if err := d.ledger.DegradeToManual(ctx, w.ID, annotation); err != nil {
		d.log.Error("failed to hand withdrawal to manual review",
			zap.String("withdrawal_id", w.ID),
			zap.String("annotation", annotation),
			zap.Error(err))
	} else {
		w.PayoutType = models.PayoutTypeManual
		w.ProviderRef = &annotation
	}

	d.audit.Record(ctx, audit.Event{
		Action:   action,
		TargetID: w.ID,
		Details:  models.Details{"amount": w.AmountUSD.String(), "error": annotation},
	})
}
