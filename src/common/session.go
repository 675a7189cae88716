package common

import (
	"context"
	"encoding/json"
	"errors"
	"etix/src/lib"
	"etix/src/types"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Staging entry names. "registration_data" is the current funnel;
// "ticket_selection" is the legacy key older clients still write.
const (
	StagingRegistrationData = "registration_data"
	StagingTicketSelection  = "ticket_selection"
)

var stagingEntries = []string{StagingRegistrationData, StagingTicketSelection}

// CheckoutSession is the explicit value object for an in-flight checkout:
// what was picked, what it costs, and when the attempt stops being valid.
// It replaces ambient session state so every consumer sees the TTL.
type CheckoutSession struct {
	ID        string                  `json:"id"`
	EventID   uint                    `json:"event_id"`
	Items     []types.TicketSelection `json:"items"`
	Currency  string                  `json:"currency"`
	Total     float64                 `json:"total"`
	ExpiresAt time.Time               `json:"expires_at"`
}

func (s *CheckoutSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

func stagingKey(sessionID, entry string) string {
	return fmt.Sprintf("checkout:%s:%s", sessionID, entry)
}

// StagingStore is the keyspace the checkout funnel stages into. A miss is
// reported as ErrStagingMiss so callers never see the backend's sentinel.
type StagingStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

var ErrStagingMiss = errors.New("staging entry not found")

type redisStagingStore struct {
	rdb *redis.Client
}

func (s *redisStagingStore) Get(ctx context.Context, key string) (string, error) {
	if s.rdb == nil {
		return "", errNoStagingStore
	}
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrStagingMiss
	}
	return val, err
}

func (s *redisStagingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.rdb == nil {
		return errNoStagingStore
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *redisStagingStore) Del(ctx context.Context, key string) error {
	if s.rdb == nil {
		return errNoStagingStore
	}
	return s.rdb.Del(ctx, key).Err()
}

var errNoStagingStore = errors.New("staging store not configured")

var stagingStoreInst StagingStore

func getStagingStore() StagingStore {
	if stagingStoreInst != nil {
		return stagingStoreInst
	}
	stagingStoreInst = &redisStagingStore{rdb: lib.GetRedisClient()}
	return stagingStoreInst
}

// NewStagingStore Replace the staging store, for tests.
func NewStagingStore(s StagingStore) StagingStore {
	stagingStoreInst = s
	return stagingStoreInst
}

// StageCheckoutSession writes the staging entry. The redis TTL is set to
// twice the logical TTL: expiry decisions belong to ExpiresAt, redis only
// guarantees the key cannot outlive an abandoned funnel forever.
func StageCheckoutSession(ctx context.Context, entry string, session *CheckoutSession) error {
	store := getStagingStore()
	b, err := json.Marshal(session)
	if err != nil {
		return types.NewSessionError("could not serialize checkout session")
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return types.NewSessionError("checkout session already expired")
	}
	if err := store.Set(ctx, stagingKey(session.ID, entry), string(b), 2*ttl); err != nil {
		log.Printf("[session] Error staging %s: %s\n", entry, err.Error())
		return types.NewSessionError("could not persist checkout session")
	}
	return nil
}

// LoadCheckoutSession reads a staging entry; an expired entry is treated as
// absent (and cleared).
func LoadCheckoutSession(ctx context.Context, sessionID, entry string) (*CheckoutSession, error) {
	store := getStagingStore()
	val, err := store.Get(ctx, stagingKey(sessionID, entry))
	if errors.Is(err, ErrStagingMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewSessionError("could not read checkout session")
	}
	var session CheckoutSession
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, types.NewSessionError("corrupted checkout session")
	}
	if session.Expired(time.Now()) {
		store.Del(ctx, stagingKey(sessionID, entry))
		return nil, nil
	}
	return &session, nil
}

// ClearCheckoutSession drops every staging entry for the session id.
// Used on successful persistence, cancellation, and failure recovery.
func ClearCheckoutSession(ctx context.Context, sessionID string) {
	store := getStagingStore()
	for _, entry := range stagingEntries {
		if err := store.Del(ctx, stagingKey(sessionID, entry)); err != nil && !errors.Is(err, errNoStagingStore) {
			log.Printf("[session] Error clearing %s for %s: %s\n", entry, sessionID, err.Error())
		}
	}
}

// SweepExpiredEntries checks each staging entry for the session and clears
// the ones whose ExpiresAt has passed. Returns the names of cleared entries
// and how far past expiry each was. Best-effort by contract: any store
// error is swallowed after logging.
func SweepExpiredEntries(ctx context.Context, sessionID string, now time.Time) map[string]time.Duration {
	store := getStagingStore()
	cleared := map[string]time.Duration{}
	for _, entry := range stagingEntries {
		key := stagingKey(sessionID, entry)
		val, err := store.Get(ctx, key)
		if errors.Is(err, ErrStagingMiss) || errors.Is(err, errNoStagingStore) {
			continue
		}
		if err != nil {
			log.Printf("[session] Sweep read error on %s: %s\n", key, err.Error())
			continue
		}
		var session CheckoutSession
		if err := json.Unmarshal([]byte(val), &session); err != nil {
			// Corrupted entries are cleared too; resuming from them is worse.
			store.Del(ctx, key)
			cleared[entry] = 0
			continue
		}
		if session.Expired(now) {
			store.Del(ctx, key)
			cleared[entry] = now.Sub(session.ExpiresAt)
		}
	}
	return cleared
}
