package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig() *CheckoutConfig {
	return &CheckoutConfig{
		LockTTL:     2 * time.Minute,
		SessionTTL:  30 * time.Minute,
		MinAmount:   0.5,
		MaxAmount:   10000,
		MaxDecimals: 2,
		Currencies:  []string{"USD", "EUR", "PHP"},
	}
}

func TestCheckoutConfigValidate(t *testing.T) {
	assert.NoError(t, testConfig().Validate())

	bad := testConfig()
	bad.MaxAmount = 0.1
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.Currencies = nil
	assert.Error(t, bad.Validate())
}

func TestValidAmount(t *testing.T) {
	cfg := testConfig()
	assert.True(t, cfg.ValidAmount(0.5))
	assert.True(t, cfg.ValidAmount(10000))
	assert.True(t, cfg.ValidAmount(19.99))
	// Amounts whose scaled value lands just below an integer in binary
	// floating point.
	assert.True(t, cfg.ValidAmount(4.35))
	assert.True(t, cfg.ValidAmount(1.15))
	assert.True(t, cfg.ValidAmount(0.51))
	assert.False(t, cfg.ValidAmount(0.49))
	assert.False(t, cfg.ValidAmount(10000.01))
	assert.False(t, cfg.ValidAmount(19.999))
}

func TestValidCurrency(t *testing.T) {
	cfg := testConfig()
	assert.True(t, cfg.ValidCurrency("USD"))
	assert.True(t, cfg.ValidCurrency("usd"))
	assert.False(t, cfg.ValidCurrency("GBP"))
	assert.False(t, cfg.ValidCurrency(""))
}

func TestRateLimits(t *testing.T) {
	limits := RateLimits()
	for _, name := range []string{"payment", "payment-detail", "retry"} {
		bucket, ok := limits[name]
		assert.True(t, ok, "missing bucket %s", name)
		assert.Greater(t, bucket.MaxAttempts, 0)
		assert.Greater(t, bucket.WindowSeconds, 0)
	}
	assert.Less(t, limits["retry"].MaxAttempts, limits["payment"].MaxAttempts)
}
