package ratelimit_test

import (
	"net/http/httptest"
	"testing"

	"github.com/zynqcloud/capdocs/internal/ratelimit"
)

func TestAllowPermitsUpToLimit(t *testing.T) {
	l := ratelimit.New(3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		if !l.Allow(rec, "key1") {
			t.Fatalf("request %d should be allowed within the limit", i)
		}
	}
}

func TestAllowRejectsBeyondLimitAndSetsRetryAfter(t *testing.T) {
	l := ratelimit.New(1)
	rec1 := httptest.NewRecorder()
	if !l.Allow(rec1, "key1") {
		t.Fatal("first request should be allowed")
	}

	rec2 := httptest.NewRecorder()
	if l.Allow(rec2, "key1") {
		t.Fatal("second immediate request should be rejected")
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on rejection")
	}
	if rec2.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", rec2.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestAllowScopesBucketsPerKey(t *testing.T) {
	l := ratelimit.New(1)
	rec1 := httptest.NewRecorder()
	if !l.Allow(rec1, "key1") {
		t.Fatal("key1 first request should be allowed")
	}
	rec2 := httptest.NewRecorder()
	if !l.Allow(rec2, "key2") {
		t.Fatal("key2 has its own bucket and should be allowed independently of key1")
	}
}

func TestAllowSetsLimitHeaderOnSuccess(t *testing.T) {
	l := ratelimit.New(5)
	rec := httptest.NewRecorder()
	l.Allow(rec, "key1")
	if rec.Header().Get("X-RateLimit-Limit") != "5" {
		t.Errorf("X-RateLimit-Limit = %q, want 5", rec.Header().Get("X-RateLimit-Limit"))
	}
}
