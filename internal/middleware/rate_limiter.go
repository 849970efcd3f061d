package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether a source may make another attempt.
type RateLimiter interface {
	Allow(source string) bool
}

// AttemptLimit sizes the token bucket kept for each source.
type AttemptLimit struct {
	// Attempts tokens refill evenly over Per.
	Attempts int
	Per      time.Duration
	Burst    int

	// Idle is how long an unused bucket is remembered.
	Idle time.Duration
}

type bucket struct {
	*rate.Limiter
	used time.Time
}

// AttemptLimiter throttles login attempts per source address. Requests with
// no known source share one bucket.
type AttemptLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu        sync.Mutex
	clock     func() time.Time
	buckets   map[string]*bucket
	nextSweep time.Time
}

// NewAttemptLimiter creates an AttemptLimiter. Zero fields default to five
// attempts a minute with a burst of Attempts and a ten minute idle window.
func NewAttemptLimiter(l AttemptLimit) *AttemptLimiter {
	if l.Attempts <= 0 {
		l.Attempts = 5
	}
	if l.Per <= 0 {
		l.Per = time.Minute
	}
	if l.Burst <= 0 {
		l.Burst = l.Attempts
	}
	if l.Idle <= 0 {
		l.Idle = 10 * time.Minute
	}
	return &AttemptLimiter{
		limit:   rate.Every(l.Per / time.Duration(l.Attempts)),
		burst:   l.Burst,
		idle:    l.Idle,
		clock:   time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow spends one token from source's bucket.
func (a *AttemptLimiter) Allow(source string) bool {
	if source == "" {
		source = "unknown"
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	if !now.Before(a.nextSweep) {
		a.sweepLocked(now)
	}
	b, ok := a.buckets[source]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(a.limit, a.burst)}
		a.buckets[source] = b
	}
	b.used = now
	return b.AllowN(now, 1)
}

// sweepLocked forgets idle buckets. It runs at most twice per idle window.
func (a *AttemptLimiter) sweepLocked(now time.Time) {
	for source, b := range a.buckets {
		if now.Sub(b.used) > a.idle {
			delete(a.buckets, source)
		}
	}
	a.nextSweep = now.Add(a.idle / 2)
}

// Sources returns how many sources currently have a bucket.
func (a *AttemptLimiter) Sources() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

// SetClock replaces the time source.
func (a *AttemptLimiter) SetClock(clock func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clock = clock
}
