package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanMap(t *testing.T) {
	m, err := ParsePlanMap(" Startup:monthly=PLN_a , growth:annual=PLN_b,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"startup:monthly": "PLN_a",
		"growth:annual":   "PLN_b",
	}, m)

	m, err = ParsePlanMap("")
	require.NoError(t, err)
	assert.Empty(t, m)

	for _, bad := range []string{"startup=PLN_a", "startup:monthly", "startup:monthly=", "=PLN_a"} {
		_, err := ParsePlanMap(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAYMENT_PROVIDER", "")
	t.Setenv("GRACE_PERIOD_DAYS", "")
	t.Setenv("PROVIDER_TIMEOUT", "")
	t.Setenv("PAYSTACK_PLAN_CODES", "")
	t.Setenv("STRIPE_PRICE_IDS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "paystack", cfg.PaymentProvider)
	assert.Equal(t, 7, cfg.GracePeriodDays)
	assert.Equal(t, 15*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "https://api.paystack.co", cfg.PaystackBaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PAYMENT_PROVIDER", "Stripe")
	t.Setenv("GRACE_PERIOD_DAYS", "10")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("STRIPE_PRICE_IDS", "scale:monthly=price_1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "stripe", cfg.PaymentProvider)
	assert.Equal(t, 10, cfg.GracePeriodDays)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "price_1", cfg.StripePriceIDs["scale:monthly"])
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("provider", func(t *testing.T) {
		t.Setenv("PAYMENT_PROVIDER", "paypal")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("grace", func(t *testing.T) {
		t.Setenv("PAYMENT_PROVIDER", "paystack")
		t.Setenv("GRACE_PERIOD_DAYS", "-1")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("plan map", func(t *testing.T) {
		t.Setenv("PAYMENT_PROVIDER", "paystack")
		t.Setenv("GRACE_PERIOD_DAYS", "7")
		t.Setenv("PAYSTACK_PLAN_CODES", "nonsense")
		_, err := Load()
		assert.Error(t, err)
	})
}
