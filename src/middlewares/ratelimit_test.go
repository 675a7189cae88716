package middlewares

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeCounterStore struct {
	counts  map[string]int64
	expires map[string]time.Duration
	fail    bool
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{
		counts:  map[string]int64{},
		expires: map[string]time.Duration{},
	}
}

func (s *fakeCounterStore) Incr(ctx context.Context, key string) (int64, error) {
	if s.fail {
		return 0, errors.New("connection refused")
	}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *fakeCounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if s.fail {
		return errors.New("connection refused")
	}
	s.expires[key] = ttl
	return nil
}

func (s *fakeCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if s.fail {
		return 0, errors.New("connection refused")
	}
	return s.expires[key], nil
}

func (s *fakeCounterStore) reset(key string) {
	delete(s.counts, "rl:"+key)
}

func TestRateLimiterAllow(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to the limit then rejects", func(t *testing.T) {
		store := newFakeCounterStore()
		rl := NewRateLimiterWithStore(store)
		for i := 0; i < 10; i++ {
			allowed, _ := rl.Allow(ctx, "sig:payment", 10, 60)
			assert.True(t, allowed, "attempt %d should be allowed", i+1)
		}
		allowed, retryAfter := rl.Allow(ctx, "sig:payment", 10, 60)
		assert.False(t, allowed)
		assert.Greater(t, retryAfter, 0)
	})

	t.Run("window expiry resets the count", func(t *testing.T) {
		store := newFakeCounterStore()
		rl := NewRateLimiterWithStore(store)
		for i := 0; i < 4; i++ {
			rl.Allow(ctx, "sig:retry", 3, 900)
		}
		allowed, _ := rl.Allow(ctx, "sig:retry", 3, 900)
		assert.False(t, allowed)

		store.reset("sig:retry")
		allowed, _ = rl.Allow(ctx, "sig:retry", 3, 900)
		assert.True(t, allowed)
	})

	t.Run("separate signatures count independently", func(t *testing.T) {
		store := newFakeCounterStore()
		rl := NewRateLimiterWithStore(store)
		for i := 0; i < 5; i++ {
			rl.Allow(ctx, "sig-a:payment", 5, 60)
		}
		allowed, _ := rl.Allow(ctx, "sig-a:payment", 5, 60)
		assert.False(t, allowed)
		allowed, _ = rl.Allow(ctx, "sig-b:payment", 5, 60)
		assert.True(t, allowed)
	})

	t.Run("sets the window expiry on the first attempt only", func(t *testing.T) {
		store := newFakeCounterStore()
		rl := NewRateLimiterWithStore(store)
		rl.Allow(ctx, "sig:detail", 5, 300)
		assert.Equal(t, 300*time.Second, store.expires["rl:sig:detail"])
	})

	t.Run("fails open when the counter store is down", func(t *testing.T) {
		store := newFakeCounterStore()
		store.fail = true
		rl := NewRateLimiterWithStore(store)
		allowed, retryAfter := rl.Allow(ctx, "sig:payment", 1, 60)
		assert.True(t, allowed)
		assert.Zero(t, retryAfter)
	})
}
