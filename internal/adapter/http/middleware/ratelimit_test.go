package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"giftcard-ledger/internal/adapter/http/middleware"
	redisStore "giftcard-ledger/internal/adapter/storage/redis"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/internal/core/ports/mocks"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func setupRateLimitRouter(store ports.RateLimitStore, merchantID *uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if merchantID != nil {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.CtxMerchantID, *merchantID)
			c.Next()
		})
	}

	rule := middleware.RateLimitRule{Limit: 3, Window: time.Minute}
	r.GET("/test", middleware.RateLimiter(store, "test", rule, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	return r
}

func newRedisRateLimitStore(t *testing.T) (*redisStore.RateLimitStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisStore.NewRateLimitStore(client), mr
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	store, _ := newRedisRateLimitStore(t)
	router := setupRateLimitRouter(store, nil)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, 200, w.Code, "request %d should succeed", i+1)
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	store, _ := newRedisRateLimitStore(t)
	router := setupRateLimitRouter(store, nil)

	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimiter_KeysByMerchant(t *testing.T) {
	store, mr := newRedisRateLimitStore(t)
	merchantID := uuid.New()
	router := setupRateLimitRouter(store, &merchantID)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, 200, w.Code)

	found := false
	for _, k := range mr.Keys() {
		if containsAll(k, merchantID.String(), "test") {
			found = true
		}
	}
	assert.True(t, found, "expected a counter keyed by merchant id, got %v", mr.Keys())
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRateLimitStore(ctrl)
	store.EXPECT().Allow(gomock.Any(), gomock.Any(), int64(3), time.Minute).Return(nil, errors.New("redis down"))

	w := httptest.NewRecorder()
	setupRateLimitRouter(store, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDefaultRateLimitRules(t *testing.T) {
	rules := middleware.DefaultRateLimitRules()
	for _, group := range []string{"auth_login", "auth_register", "balance", "dashboard", "webhooks"} {
		rule, ok := rules[group]
		assert.True(t, ok, "missing rule for %s", group)
		assert.Positive(t, rule.Limit)
		assert.Positive(t, rule.Window)
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
