package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func limitedHandler(rl *RateLimiter) http.Handler {
	return rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func requestFrom(addr, userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = addr
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	return req
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiter_BasicFunctionality(t *testing.T) {
	handler := limitedHandler(NewRateLimiter(2, 2))
	req := requestFrom("192.168.1.1:1234", "")

	assert.Equal(t, http.StatusOK, serve(handler, req).Code)
	assert.Equal(t, http.StatusOK, serve(handler, req).Code)

	rr := serve(handler, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.JSONEq(t, `{"error":"Rate limit exceeded"}`, rr.Body.String())
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestRateLimiter_Keys(t *testing.T) {
	t.Run("per_ip", func(t *testing.T) {
		handler := limitedHandler(NewRateLimiter(1, 1))

		assert.Equal(t, http.StatusOK, serve(handler, requestFrom("192.168.1.1:1234", "")).Code)
		assert.Equal(t, http.StatusOK, serve(handler, requestFrom("192.168.1.2:1234", "")).Code)
		assert.Equal(t, http.StatusTooManyRequests, serve(handler, requestFrom("192.168.1.1:1234", "")).Code)
	})

	t.Run("port_is_ignored", func(t *testing.T) {
		handler := limitedHandler(NewRateLimiter(1, 1))

		assert.Equal(t, http.StatusOK, serve(handler, requestFrom("10.0.0.1:1111", "")).Code)
		assert.Equal(t, http.StatusTooManyRequests, serve(handler, requestFrom("10.0.0.1:2222", "")).Code)
	})

	t.Run("identity_wins_over_ip", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)
		handler := limitedHandler(rl)

		assert.Equal(t, http.StatusOK, serve(handler, requestFrom("10.0.0.1:1111", "alice")).Code)
		assert.Equal(t, http.StatusOK, serve(handler, requestFrom("10.0.0.1:1111", "bob")).Code)
		assert.Equal(t, http.StatusTooManyRequests, serve(handler, requestFrom("10.0.0.2:1111", "alice")).Code)
		assert.Equal(t, 2, rl.Len())
	})
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	handler := limitedHandler(NewRateLimiter(1000, 50))

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if serve(handler, requestFrom("192.168.1.1:1234", "")).Code == http.StatusOK {
					ok.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, ok.Load(), int64(50))
}
