package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Auth
	JWTSecret string
	OpsAPIKey string

	// Payment provider configuration
	PaymentProvider     string // paystack or stripe
	PaystackSecretKey   string
	PaystackBaseURL     string
	PaystackPlanCodes   map[string]string // "tier:cycle" -> plan code
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceIDs      map[string]string // "tier:cycle" -> price id
	ProviderTimeout     time.Duration

	// Lifecycle
	GracePeriodDays int
	SweepSchedule   string

	// Brevo email configuration
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string

	// Status change callback
	StatusWebhookURL    string
	StatusWebhookSecret string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, honouring a local .env file
func Load() (*Config, error) {
	// Ignore error if .env file doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Mode:                getEnv("GIN_MODE", "debug"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		OpsAPIKey:           getEnv("OPS_API_KEY", ""),
		PaymentProvider:     strings.ToLower(getEnv("PAYMENT_PROVIDER", "paystack")),
		PaystackSecretKey:   getEnv("PAYSTACK_SECRET_KEY", ""),
		PaystackBaseURL:     getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		ProviderTimeout:     getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second),
		GracePeriodDays:     getEnvInt("GRACE_PERIOD_DAYS", 7),
		SweepSchedule:       getEnv("SWEEP_SCHEDULE", "@hourly"),
		BrevoAPIKey:         getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:      getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:       getEnv("BREVO_FROM_NAME", "Auxeira Billing"),
		StatusWebhookURL:    getEnv("STATUS_WEBHOOK_URL", ""),
		StatusWebhookSecret: getEnv("STATUS_WEBHOOK_SECRET", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.PaystackPlanCodes, err = ParsePlanMap(getEnv("PAYSTACK_PLAN_CODES", "")); err != nil {
		return nil, fmt.Errorf("PAYSTACK_PLAN_CODES: %w", err)
	}
	if cfg.StripePriceIDs, err = ParsePlanMap(getEnv("STRIPE_PRICE_IDS", "")); err != nil {
		return nil, fmt.Errorf("STRIPE_PRICE_IDS: %w", err)
	}

	if cfg.GracePeriodDays <= 0 {
		return nil, fmt.Errorf("GRACE_PERIOD_DAYS must be positive, got %d", cfg.GracePeriodDays)
	}
	switch cfg.PaymentProvider {
	case "paystack", "stripe":
	default:
		return nil, fmt.Errorf("unknown PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}

	return cfg, nil
}

// ParsePlanMap parses "tier:cycle=code,tier:cycle=code" into a lookup map.
func ParsePlanMap(raw string) (map[string]string, error) {
	out := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" || !strings.Contains(key, ":") {
			return nil, fmt.Errorf("malformed entry %q (want tier:cycle=code)", pair)
		}
		out[key] = value
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
