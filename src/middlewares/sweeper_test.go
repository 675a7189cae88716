package middlewares

import (
	"context"
	"encoding/json"
	"etix/src/common"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeSweeperStore struct {
	values map[string]string
}

func (s *fakeSweeperStore) Get(_ context.Context, key string) (string, error) {
	val, ok := s.values[key]
	if !ok {
		return "", common.ErrStagingMiss
	}
	return val, nil
}

func (s *fakeSweeperStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.values[key] = value
	return nil
}

func (s *fakeSweeperStore) Del(_ context.Context, key string) error {
	delete(s.values, key)
	return nil
}

func TestSessionSweeper(t *testing.T) {
	gin.SetMode(gin.TestMode)

	stage := func(t *testing.T, store *fakeSweeperStore, sessionID, entry string, expiresAt time.Time) string {
		t.Helper()
		b, err := json.Marshal(&common.CheckoutSession{ID: sessionID, EventID: 1, ExpiresAt: expiresAt})
		assert.NoError(t, err)
		key := "checkout:" + sessionID + ":" + entry
		store.values[key] = string(b)
		return key
	}

	newRouter := func() *gin.Engine {
		g := gin.New()
		g.GET("/ping", SessionSweeper, func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"message": "pong"})
		})
		return g
	}

	t.Run("clears expired entries and keeps live ones", func(t *testing.T) {
		store := &fakeSweeperStore{values: map[string]string{}}
		common.NewStagingStore(store)
		defer common.NewStagingStore(nil)

		expiredKey := stage(t, store, "sid-1", common.StagingRegistrationData, time.Now().Add(-10*time.Minute))
		liveKey := stage(t, store, "sid-1", common.StagingTicketSelection, time.Now().Add(10*time.Minute))

		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
		req.AddCookie(&http.Cookie{Name: CheckoutSessionCookie, Value: "sid-1"})
		newRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		_, ok := store.values[expiredKey]
		assert.False(t, ok)
		_, ok = store.values[liveKey]
		assert.True(t, ok)
	})

	t.Run("no cookie leaves the store untouched", func(t *testing.T) {
		store := &fakeSweeperStore{values: map[string]string{}}
		common.NewStagingStore(store)
		defer common.NewStagingStore(nil)

		key := stage(t, store, "sid-2", common.StagingRegistrationData, time.Now().Add(-10*time.Minute))

		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
		newRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		_, ok := store.values[key]
		assert.True(t, ok)
	})
}
