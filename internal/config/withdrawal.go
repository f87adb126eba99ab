package config

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// WithdrawalConfig holds the hardcoded fallbacks and rules of the withdrawal flow.
type WithdrawalConfig struct {
	DefaultMin           decimal.Decimal
	DefaultMax           decimal.Decimal
	DefaultAutoThreshold decimal.Decimal
	Cooldown             time.Duration
	MinAddressLength     int
	MaxAddressLength     int
	DefaultNetwork       string
	Locale               string
	IdempotencyTTL       time.Duration
	EstimateTimeout      time.Duration
}

// ProviderConfig configures the NOWPayments client.
type ProviderConfig struct {
	BaseURL         string
	APIKey          string
	IPNSecret       string
	CallbackBaseURL string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
}

// SettingsConfig configures admin settings reads and the API key sealer.
type SettingsConfig struct {
	CacheTTL time.Duration
	SealKey  string
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	SecretKey string
	AdminRole string
}

func LoadWithdrawalConfig() *WithdrawalConfig {
	viper.SetDefault("withdrawal.default_min", "10")
	viper.SetDefault("withdrawal.default_max", "1000")
	viper.SetDefault("withdrawal.default_auto_threshold", "10")
	viper.SetDefault("withdrawal.cooldown", 24*time.Hour)
	viper.SetDefault("withdrawal.min_address_length", 20)
	viper.SetDefault("withdrawal.max_address_length", 100)
	viper.SetDefault("withdrawal.default_network", "TRC20")
	viper.SetDefault("withdrawal.locale", "ar")
	viper.SetDefault("withdrawal.idempotency_ttl", 24*time.Hour)
	viper.SetDefault("withdrawal.estimate_timeout", 3*time.Second)

	return &WithdrawalConfig{
		DefaultMin:           getDecimal("withdrawal.default_min", decimal.NewFromInt(10)),
		DefaultMax:           getDecimal("withdrawal.default_max", decimal.NewFromInt(1000)),
		DefaultAutoThreshold: getDecimal("withdrawal.default_auto_threshold", decimal.NewFromInt(10)),
		Cooldown:             viper.GetDuration("withdrawal.cooldown"),
		MinAddressLength:     viper.GetInt("withdrawal.min_address_length"),
		MaxAddressLength:     viper.GetInt("withdrawal.max_address_length"),
		DefaultNetwork:       viper.GetString("withdrawal.default_network"),
		Locale:               viper.GetString("withdrawal.locale"),
		IdempotencyTTL:       viper.GetDuration("withdrawal.idempotency_ttl"),
		EstimateTimeout:      viper.GetDuration("withdrawal.estimate_timeout"),
	}
}

func LoadProviderConfig() *ProviderConfig {
	viper.SetDefault("nowpayments.base_url", "https://api.nowpayments.io/v1")
	viper.SetDefault("nowpayments.timeout", 15*time.Second)
	viper.SetDefault("nowpayments.max_retries", 2)
	viper.SetDefault("nowpayments.retry_backoff", 500*time.Millisecond)

	return &ProviderConfig{
		BaseURL:         viper.GetString("nowpayments.base_url"),
		APIKey:          viper.GetString("nowpayments.api_key"),
		IPNSecret:       viper.GetString("nowpayments.ipn_secret"),
		CallbackBaseURL: viper.GetString("nowpayments.callback_base_url"),
		Timeout:         viper.GetDuration("nowpayments.timeout"),
		MaxRetries:      viper.GetInt("nowpayments.max_retries"),
		RetryBackoff:    viper.GetDuration("nowpayments.retry_backoff"),
	}
}

func LoadSettingsConfig() *SettingsConfig {
	viper.SetDefault("settings.cache_ttl", time.Duration(0))

	return &SettingsConfig{
		CacheTTL: viper.GetDuration("settings.cache_ttl"),
		SealKey:  viper.GetString("settings.seal_key"),
	}
}

func LoadAuthConfig() *AuthConfig {
	viper.SetDefault("jwt.admin_role", "admin")

	return &AuthConfig{
		SecretKey: viper.GetString("jwt.secret_key"),
		AdminRole: viper.GetString("jwt.admin_role"),
	}
}

func getDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := viper.GetString(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return defaultVal
}
