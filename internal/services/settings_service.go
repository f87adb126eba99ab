package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rewardsapp/withdrawals/internal/audit"
	"github.com/rewardsapp/withdrawals/internal/models"
	"go.uber.org/zap"
)

const maskedKeyVisible = 4

// SettingsService is the admin read/write surface over admin_settings.
type SettingsService struct {
	store  SettingsStore
	sealer *KeySealer
	audit  ActivityRecorder
	log    *zap.Logger
}

func NewSettingsService(store SettingsStore, sealer *KeySealer, recorder ActivityRecorder, log *zap.Logger) *SettingsService {
	return &SettingsService{
		store:  store,
		sealer: sealer,
		audit:  recorder,
		log:    log.Named("settings"),
	}
}

// Get returns the stored value. The provider API key is masked.
func (s *SettingsService) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if !models.KnownSettings[key] {
		return nil, ErrSettingNotFound
	}

	value, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if key != models.SettingNowPaymentsAPIKey {
		return value, nil
	}

	var setting models.APIKeySetting
	if err := json.Unmarshal(value, &setting); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSetting, err)
	}
	plain, err := s.sealer.Open(setting.Value)
	if err != nil {
		plain = ""
	}
	return json.Marshal(models.APIKeySetting{Value: maskKey(plain)})
}

// Upsert validates and stores a setting on behalf of adminID.
func (s *SettingsService) Upsert(ctx context.Context, adminID, key string, value json.RawMessage) error {
	if !models.KnownSettings[key] {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(value, &object); err != nil || object == nil {
		return fmt.Errorf("%w: value must be a JSON object", ErrInvalidSetting)
	}

	stored, err := s.normalize(key, value)
	if err != nil {
		return err
	}

	if err := s.store.Upsert(ctx, key, stored, adminID); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{
		AdminID:  &adminID,
		Action:   audit.ActionSettingsUpdated,
		TargetID: key,
		Details:  models.Details{"key": key},
	})
	return nil
}

func (s *SettingsService) normalize(key string, value json.RawMessage) (json.RawMessage, error) {
	switch key {
	case models.SettingWithdrawalLimits:
		var limits models.LimitsSetting
		if err := json.Unmarshal(value, &limits); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSetting, err)
		}
		if !limits.Min.Set || !limits.Max.Set {
			return nil, fmt.Errorf("%w: min and max are required", ErrInvalidSetting)
		}
		if !limits.Min.Value.IsPositive() {
			return nil, fmt.Errorf("%w: min must be positive", ErrInvalidSetting)
		}
		if limits.Max.Value.LessThan(limits.Min.Value) {
			return nil, fmt.Errorf("%w: max must not be below min", ErrInvalidSetting)
		}
		return json.Marshal(models.WithdrawalLimits{Min: limits.Min.Value, Max: limits.Max.Value})

	case models.SettingAutoPayoutThreshold:
		var threshold models.ThresholdSetting
		if err := json.Unmarshal(value, &threshold); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSetting, err)
		}
		if !threshold.Amount.Set || threshold.Amount.Value.IsNegative() {
			return nil, fmt.Errorf("%w: amount must be zero or more", ErrInvalidSetting)
		}
		return json.Marshal(map[string]any{"amount": threshold.Amount.Value})

	case models.SettingNowPaymentsAPIKey:
		var setting models.APIKeySetting
		if err := json.Unmarshal(value, &setting); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSetting, err)
		}
		plain := strings.TrimSpace(setting.Value)
		if plain == "" {
			return nil, fmt.Errorf("%w: value is required", ErrInvalidSetting)
		}
		sealed, err := s.sealer.Seal(plain)
		if err != nil {
			return nil, err
		}
		return json.Marshal(models.APIKeySetting{Value: sealed})
	}

	return value, nil
}

func maskKey(key string) string {
	runes := []rune(key)
	if len(runes) <= maskedKeyVisible {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-maskedKeyVisible) + string(runes[len(runes)-maskedKeyVisible:])
}
