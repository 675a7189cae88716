package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

// CheckoutConfig bounds what the checkout funnel accepts and how long its
// transient state lives. Values come from the environment and are validated
// once at boot.
type CheckoutConfig struct {
	LockTTL     time.Duration `validate:"required,min=1s,max=30m"`
	SessionTTL  time.Duration `validate:"required,min=1m,max=2h"`
	MinAmount   float64       `validate:"gte=0"`
	MaxAmount   float64       `validate:"gtfield=MinAmount"`
	MaxDecimals int           `validate:"gte=0,lte=4"`
	Currencies  []string      `validate:"required,min=1,dive,len=3"`

	// AllowUnverifiedWebhooks keeps the legacy leniency of accepting
	// webhooks when no secret is configured. Off by default; the trust
	// decision has to be made explicitly.
	AllowUnverifiedWebhooks bool
}

var checkoutCfg *CheckoutConfig

func Checkout() *CheckoutConfig {
	if checkoutCfg != nil {
		return checkoutCfg
	}
	cfg := &CheckoutConfig{
		LockTTL:                 envDuration("REGISTRATION_LOCK_TTL", 2*time.Minute),
		SessionTTL:              envDuration("CHECKOUT_SESSION_TTL", 30*time.Minute),
		MinAmount:               envFloat("CHECKOUT_MIN_AMOUNT", 0.5),
		MaxAmount:               envFloat("CHECKOUT_MAX_AMOUNT", 10000),
		MaxDecimals:             envInt("CHECKOUT_MAX_DECIMALS", 2),
		Currencies:              envList("CHECKOUT_CURRENCIES", []string{"USD", "EUR", "PHP"}),
		AllowUnverifiedWebhooks: envBool("WEBHOOK_ALLOW_UNVERIFIED", false),
	}
	checkoutCfg = cfg
	return cfg
}

// Validate runs the struct-level validation. Called from boot; a bad
// configuration is a startup failure, not a per-request one.
func (c *CheckoutConfig) Validate() error {
	v := validator.New()
	return v.Struct(c)
}

// ValidAmount checks a monetary amount against the configured bounds and
// decimal precision.
func (c *CheckoutConfig) ValidAmount(amount float64) bool {
	if amount < c.MinAmount || amount > c.MaxAmount {
		return false
	}
	scale := 1.0
	for i := 0; i < c.MaxDecimals; i++ {
		scale *= 10
	}
	// Binary floats cannot represent most decimal amounts exactly
	// (19.99*100 is 1998.999...), so compare against the rounded value
	// instead of truncating.
	scaled := amount * scale
	return math.Abs(scaled-math.Round(scaled)) < 1e-9
}

func (c *CheckoutConfig) ValidCurrency(currency string) bool {
	for _, cur := range c.Currencies {
		if strings.EqualFold(cur, currency) {
			return true
		}
	}
	return false
}

// RateLimitBucket is one named counter policy. Buckets are parameterized
// per route group rather than hard-coded in the limiter.
type RateLimitBucket struct {
	Name          string
	MaxAttempts   int
	WindowSeconds int
}

func RateLimits() map[string]RateLimitBucket {
	return map[string]RateLimitBucket{
		"payment": {
			Name:          "payment",
			MaxAttempts:   envInt("RATE_LIMIT_PAYMENT_MAX", 10),
			WindowSeconds: envInt("RATE_LIMIT_PAYMENT_WINDOW", 60),
		},
		"payment-detail": {
			Name:          "payment-detail",
			MaxAttempts:   envInt("RATE_LIMIT_DETAIL_MAX", 5),
			WindowSeconds: envInt("RATE_LIMIT_DETAIL_WINDOW", 300),
		},
		"retry": {
			Name:          "retry",
			MaxAttempts:   envInt("RATE_LIMIT_RETRY_MAX", 3),
			WindowSeconds: envInt("RATE_LIMIT_RETRY_WINDOW", 900),
		},
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
