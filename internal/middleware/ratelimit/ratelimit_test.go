package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(perMinute int, methods ...string) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return newLimiter(Config{RequestsPerMinute: perMinute, Methods: methods}, clock.Now), clock
}

func TestAllowWithinWindow(t *testing.T) {
	rl, clock := newTestLimiter(3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"))
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	clock.Advance(time.Minute)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.Equal(t, int64(1), rl.GetMetrics().TotalHits)
}

func TestWindowDoesNotSlideOnBlockedRequests(t *testing.T) {
	rl, clock := newTestLimiter(1)

	assert.True(t, rl.Allow("a"))
	clock.Advance(40 * time.Second)
	assert.False(t, rl.Allow("a"))
	assert.Equal(t, 20*time.Second, rl.RetryAfter("a"))
	clock.Advance(20 * time.Second)
	assert.True(t, rl.Allow("a"))
}

func TestCleanupStaleEntries(t *testing.T) {
	rl, clock := newTestLimiter(5)
	rl.Allow("a")
	clock.Advance(5 * time.Minute)
	rl.Allow("b")
	clock.Advance(6 * time.Minute)

	assert.Equal(t, 1, rl.cleanupStaleEntries())
	assert.Equal(t, 1, rl.ActiveClients())
}

func TestMiddlewareOnlyThrottlesConfiguredMethods(t *testing.T) {
	rl, _ := newTestLimiter(1, http.MethodPost)
	handler := rl.Middleware(func(*http.Request) string { return "c" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	do := func(method string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(method, "/transactions", nil))
		return rr
	}

	assert.Equal(t, http.StatusNoContent, do(http.MethodPost).Code)
	limited := do(http.MethodPost)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusNoContent, do(http.MethodGet).Code)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	rl := NewLimiter(DefaultConfig())
	rl.Stop()
	rl.Stop()
}
