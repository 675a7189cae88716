package middlewares

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"etix/src/config"
	"etix/src/lib"
	"etix/src/utils"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// LimitPolicy decides how a rejected request is answered; the limiter
// itself only counts.
type LimitPolicy int

const (
	// LimitPolicyJSON answers 429 with a retry_after body.
	LimitPolicyJSON LimitPolicy = iota
	// LimitPolicyRedirect sends the client back to the event page with a
	// human-readable wait message. Used on payment-confirmation routes
	// reached from a browser.
	LimitPolicyRedirect
)

type counterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

type redisCounterStore struct {
	rdb *redis.Client
}

func (s *redisCounterStore) Incr(ctx context.Context, key string) (int64, error) {
	if s.rdb == nil {
		return 0, errNoCounterStore
	}
	return s.rdb.Incr(ctx, key).Result()
}
func (s *redisCounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if s.rdb == nil {
		return errNoCounterStore
	}
	return s.rdb.Expire(ctx, key, ttl).Err()
}
func (s *redisCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if s.rdb == nil {
		return 0, errNoCounterStore
	}
	return s.rdb.TTL(ctx, key).Result()
}

var errNoCounterStore = errors.New("counter store not configured")

type RateLimiter struct {
	store counterStore
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{store: &redisCounterStore{rdb: lib.GetRedisClient()}}
}

// NewRateLimiterWithStore Replace the counter store, for tests.
func NewRateLimiterWithStore(store counterStore) *RateLimiter {
	return &RateLimiter{store: store}
}

// Allow counts one attempt against the window for the given signature and
// reports whether it fits, plus how long to wait when it does not. The
// window is fixed: the first attempt sets the expiry, the count resets when
// the key lapses. A counter-store outage fails open — dropping legitimate
// payments over a redis hiccup is the worse trade.
func (rl *RateLimiter) Allow(ctx context.Context, signature string, maxAttempts, windowSeconds int) (bool, int) {
	key := fmt.Sprintf("rl:%s", signature)
	n, err := rl.store.Incr(ctx, key)
	if err != nil {
		log.Printf("[ratelimit] Counter error for %s: %s\n", key, err.Error())
		return true, 0
	}
	if n == 1 {
		if err := rl.store.Expire(ctx, key, time.Duration(windowSeconds)*time.Second); err != nil {
			log.Printf("[ratelimit] Expire error for %s: %s\n", key, err.Error())
		}
	}
	if n > int64(maxAttempts) {
		ttl, err := rl.store.TTL(ctx, key)
		if err != nil || ttl <= 0 {
			ttl = time.Duration(windowSeconds) * time.Second
		}
		return false, int(math.Ceil(ttl.Seconds()))
	}
	return true, 0
}

// ClientSignature derives the limiter key from ip + user-agent, with the
// authenticated user id appended when present. Hashed so raw addresses
// never appear in storage keys.
func ClientSignature(ctx *gin.Context) string {
	parts := []string{ctx.ClientIP(), ctx.Request.UserAgent()}
	if id := ctx.GetUint("id"); id > 0 {
		parts = append(parts, strconv.FormatUint(uint64(id), 10))
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// RateLimit builds the middleware for one named bucket.
func RateLimit(bucket config.RateLimitBucket, policy LimitPolicy) gin.HandlerFunc {
	limiter := NewRateLimiter()
	return func(ctx *gin.Context) {
		signature := fmt.Sprintf("%s:%s", ClientSignature(ctx), bucket.Name)
		allowed, retryAfter := limiter.Allow(ctx.Request.Context(), signature, bucket.MaxAttempts, bucket.WindowSeconds)
		if allowed {
			ctx.Next()
			return
		}
		log.Printf("[ratelimit] Rejected %s %s bucket=%s retry_after=%ds\n", ctx.Request.Method, ctx.FullPath(), bucket.Name, retryAfter)
		ctx.Header("Retry-After", strconv.Itoa(retryAfter))
		switch policy {
		case LimitPolicyRedirect:
			if !wantsJSON(ctx) {
				target := utils.EventPagePath(eventIDFromRequest(ctx))
				ctx.Redirect(http.StatusSeeOther, fmt.Sprintf("%s?message=%s", target,
					fmt.Sprintf("Too+many+attempts.+Please+wait+%d+seconds.", retryAfter)))
				ctx.Abort()
				return
			}
			fallthrough
		default:
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": retryAfter,
			})
		}
	}
}

func wantsJSON(ctx *gin.Context) bool {
	accept := ctx.GetHeader("Accept")
	if strings.Contains(accept, "text/html") {
		return false
	}
	return true
}

func eventIDFromRequest(ctx *gin.Context) uint {
	for _, candidate := range []string{ctx.Param("id"), ctx.Query("event")} {
		if candidate == "" {
			continue
		}
		if id, err := strconv.Atoi(candidate); err == nil && id > 0 {
			return uint(id)
		}
	}
	return 0
}
