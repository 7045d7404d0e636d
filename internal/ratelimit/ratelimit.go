// Package ratelimit implements the rate-limit surface (C10): per-key
// token-bucket counters and the X-RateLimit-*/Retry-After headers. The
// core only defines the headers and that counters scope to the key id (§4.10);
// the algorithm itself is a standard token bucket.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter tracks one token bucket per capability key id, generalized from
// the teacher's single global UploadLimiter channel-semaphore into per-key
// buckets.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perMinute int
}

type bucket struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing perMinute requests per key, replenished
// continuously.
func New(perMinute int) *Limiter {
	if perMinute <= 0 {
		perMinute = 600
	}
	return &Limiter{buckets: make(map[string]*bucket), perMinute: perMinute}
}

func (l *Limiter) bucketFor(keyID string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[keyID]
	if !ok {
		every := time.Minute / time.Duration(l.perMinute)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), l.perMinute)}
		l.buckets[keyID] = b
	}
	return b
}

// Allow checks and consumes one token for keyID, writing the X-RateLimit-*
// headers onto w in every case, and Retry-After when rejecting.
func (l *Limiter) Allow(w http.ResponseWriter, keyID string) bool {
	b := l.bucketFor(keyID)
	reservation := b.limiter.Reserve()
	if !reservation.OK() {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.perMinute))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("Retry-After", "1")
		return false
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.perMinute))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(delay).Unix(), 10))
		w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
		return false
	}
	remaining := int(b.limiter.Tokens())
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.perMinute))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
	return true
}
