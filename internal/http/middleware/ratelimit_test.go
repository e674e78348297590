package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowConsumesBurstThenRefuses(t *testing.T) {
	l := NewIPRateLimiter(1, 3)
	base := time.Now()
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst refused", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("burst exhausted, request must be refused")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("each client has its own bucket")
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := NewIPRateLimiter(2, 2)
	current := time.Now()
	l.now = func() time.Time { return current }

	l.Allow("10.0.0.1")
	l.Allow("10.0.0.1")
	if l.Allow("10.0.0.1") {
		t.Fatal("bucket should be empty")
	}

	current = current.Add(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatal("one second at 2/sec refills two tokens")
	}
	if !l.Allow("10.0.0.1") {
		t.Fatal("second refilled token should be spendable")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("refill must cap at burst")
	}
}

func TestAllowEvictsIdleBuckets(t *testing.T) {
	l := NewIPRateLimiter(1, 1)
	current := time.Now()
	l.now = func() time.Time { return current }

	l.Allow("10.0.0.1")
	current = current.Add(bucketIdleEviction + time.Minute)
	l.Allow("10.0.0.2")

	if _, ok := l.buckets["10.0.0.1"]; ok {
		t.Error("idle bucket must be evicted")
	}
	if _, ok := l.buckets["10.0.0.2"]; !ok {
		t.Error("active bucket must survive the sweep")
	}
}

func TestRateLimitMiddlewareRejectsWith429(t *testing.T) {
	mw := RateLimit(1, 1)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
		req.Header.Set("X-Real-Ip", "203.0.113.9")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("first request code = %d, want 200", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("second request code = %d, want 429", code)
	}
}
