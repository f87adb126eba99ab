package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rewardsapp/withdrawals/internal/config"
	"github.com/rewardsapp/withdrawals/internal/models"
	"go.uber.org/zap"
)

// LimitResolver turns admin settings into the policy for one request. It
// keeps no state of its own; freshness is whatever the store provides.
type LimitResolver struct {
	store     SettingsStore
	sealer    *KeySealer
	cfg       *config.WithdrawalConfig
	envAPIKey string
	log       *zap.Logger
}

func NewLimitResolver(store SettingsStore, sealer *KeySealer, cfg *config.WithdrawalConfig, envAPIKey string, log *zap.Logger) *LimitResolver {
	return &LimitResolver{
		store:     store,
		sealer:    sealer,
		cfg:       cfg,
		envAPIKey: envAPIKey,
		log:       log.Named("limits"),
	}
}

// Resolve returns limits and the auto payout threshold, falling back to the
// configured defaults for missing or unusable settings. Store errors other
// than a missing key are returned.
func (r *LimitResolver) Resolve(ctx context.Context) (models.WithdrawalPolicy, error) {
	policy := models.WithdrawalPolicy{
		Limits: models.WithdrawalLimits{
			Min: r.cfg.DefaultMin,
			Max: r.cfg.DefaultMax,
		},
		AutoPayoutThreshold: r.cfg.DefaultAutoThreshold,
	}

	var limits models.LimitsSetting
	found, err := r.load(ctx, models.SettingWithdrawalLimits, &limits)
	if err != nil {
		return policy, err
	}
	if found {
		policy.Limits.Min = limits.Min.OrDefault(r.cfg.DefaultMin)
		policy.Limits.Max = limits.Max.OrDefault(r.cfg.DefaultMax)
	}

	var threshold models.ThresholdSetting
	found, err = r.load(ctx, models.SettingAutoPayoutThreshold, &threshold)
	if err != nil {
		return policy, err
	}
	if found {
		policy.AutoPayoutThreshold = threshold.Amount.OrDefault(r.cfg.DefaultAutoThreshold)
	}

	return policy, nil
}

// APIKey returns the provider key from admin settings, or the environment
// key when the setting is absent, blank or cannot be opened. "" means auto
// payouts are unavailable.
func (r *LimitResolver) APIKey(ctx context.Context) string {
	var setting models.APIKeySetting
	found, err := r.load(ctx, models.SettingNowPaymentsAPIKey, &setting)
	if err != nil {
		r.log.Warn("provider api key lookup failed, using environment key", zap.Error(err))
		return r.envAPIKey
	}
	if !found || strings.TrimSpace(setting.Value) == "" {
		return r.envAPIKey
	}

	key, err := r.sealer.Open(setting.Value)
	if err != nil {
		r.log.Error("stored provider api key could not be opened", zap.Error(err))
		return r.envAPIKey
	}
	return key
}

func (r *LimitResolver) load(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, ErrSettingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		r.log.Warn("ignoring malformed setting", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}
