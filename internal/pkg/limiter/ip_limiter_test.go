package limiter

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

func TestMiddlewareRejectsAfterBurst(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(0.001), 2)
	t.Cleanup(l.Close)

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	statuses := make([]int, 0, 3)
	for range 3 {
		r := httptest.NewRequest(http.MethodPost, "/login", nil)
		r.RemoteAddr = "198.51.100.7:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		statuses = append(statuses, w.Code)
	}

	want := []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("request %d: status %d, want %d (all: %v)", i, statuses[i], want[i], statuses)
		}
	}

	// A different client has its own bucket.
	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	r.RemoteAddr = "198.51.100.8:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("second client got status %d", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:4444"
	if got := ClientIP(r); got != "192.0.2.1" {
		t.Fatalf("ClientIP = %q", got)
	}

	r.RemoteAddr = ""
	if got := ClientIP(r); got != "unknown_ip" {
		t.Fatalf("ClientIP for empty addr = %q", got)
	}
}
