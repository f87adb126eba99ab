package models

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Keys of admin_settings rows.
const (
	SettingWithdrawalLimits    = "withdrawal_limits"
	SettingAutoPayoutThreshold = "auto_payout_threshold"
	SettingNowPaymentsAPIKey   = "nowpayments_api_key"
	SettingSecuritySettings    = "security_settings"
	SettingSystemNotifications = "system_notifications"
)

// KnownSettings lists the keys admins may write.
var KnownSettings = map[string]bool{
	SettingWithdrawalLimits:    true,
	SettingAutoPayoutThreshold: true,
	SettingNowPaymentsAPIKey:   true,
	SettingSecuritySettings:    true,
	SettingSystemNotifications: true,
}

// WithdrawalLimits bounds a single withdrawal in USD.
type WithdrawalLimits struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// WithdrawalPolicy is what the resolver hands to the validator and dispatcher.
type WithdrawalPolicy struct {
	Limits              WithdrawalLimits `json:"limits"`
	AutoPayoutThreshold decimal.Decimal  `json:"autoPayoutThreshold"`
}

// SettingAmount is a setting number that the admin UI may have stored either
// as a JSON number or as a string. Blank or unparsable input is left unset.
type SettingAmount struct {
	Value decimal.Decimal
	Set   bool
}

func (a *SettingAmount) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "" || raw == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		raw = strings.TrimSpace(s)
	}
	if raw == "" {
		return nil
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	a.Value, a.Set = d, true
	return nil
}

// OrDefault returns the value when it is set and non-zero.
func (a SettingAmount) OrDefault(def decimal.Decimal) decimal.Decimal {
	if !a.Set || a.Value.IsZero() {
		return def
	}
	return a.Value
}

// LimitsSetting is the stored shape of withdrawal_limits.
type LimitsSetting struct {
	Min SettingAmount `json:"min"`
	Max SettingAmount `json:"max"`
}

// ThresholdSetting is the stored shape of auto_payout_threshold.
type ThresholdSetting struct {
	Amount SettingAmount `json:"amount"`
}

// APIKeySetting is the stored shape of nowpayments_api_key.
type APIKeySetting struct {
	Value string `json:"value"`
}
