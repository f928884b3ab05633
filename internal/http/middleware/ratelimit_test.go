package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fichaclinica/intake-api/internal/practitioner"
)

func newTestLimiter(rate float64, burst int) (*RateLimiter, *time.Time) {
	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(rate, burst)
	rl.now = func() time.Time { return clock }
	return rl, &clock
}

func TestRateLimiterBurstAndRefill(t *testing.T) {
	rl, clock := newTestLimiter(2, 2)

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
	ok, wait := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	ok, _ = rl.Allow("b")
	assert.True(t, ok, "keys have separate buckets")

	*clock = clock.Add(500 * time.Millisecond)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	rl, clock := newTestLimiter(1, 1)
	rl.Allow("a")
	rl.Allow("b")
	assert.Equal(t, 2, rl.Len())

	*clock = clock.Add(bucketIdleTTL)
	rl.Allow("c")
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimitKeysOnPractitioner(t *testing.T) {
	rl, _ := newTestLimiter(0.5, 1)
	handler := rateLimitWith(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(practitionerID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/forms", nil)
		req.RemoteAddr = "10.0.0.1"
		if practitionerID != "" {
			req = req.WithContext(practitioner.WithID(req.Context(), practitionerID))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("ter-1").Code)
	limited := send("ter-1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "2", limited.Header().Get("Retry-After"))

	// Same IP, different practitioner.
	assert.Equal(t, http.StatusOK, send("ter-2").Code)
	assert.Equal(t, http.StatusOK, send("").Code)
	assert.Equal(t, http.StatusTooManyRequests, send("").Code)
}
