package infra

import (
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
// Thread-safe and suitable for concurrent API calls.
type RateLimiter struct {
	mu          sync.Mutex
	tokens      float64
	maxTokens   float64
	refillRate  float64 // tokens per second
	lastRefill  time.Time
	minInterval time.Duration // minimum time between requests
	lastRequest time.Time
}

// NewRateLimiter creates a new rate limiter.
// maxRequests: maximum burst size
// perSecond: refill rate (requests per second)
func NewRateLimiter(maxRequests int, perSecond float64) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		tokens:      float64(maxRequests),
		maxTokens:   float64(maxRequests),
		refillRate:  perSecond,
		lastRefill:  now,
		minInterval: time.Duration(float64(time.Second) / perSecond),
		lastRequest: now.Add(-time.Hour), // Allow immediate first request
	}
}

// Wait blocks until a token is available.
// Returns immediately if a token is available.
func (r *RateLimiter) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	for r.tokens < 1 {
		// Calculate wait time for next token
		waitTime := time.Duration(float64(time.Second) / r.refillRate)
		r.mu.Unlock()
		time.Sleep(waitTime)
		r.mu.Lock()
		r.refill()
	}

	r.tokens--
	r.lastRequest = time.Now()
}

// TryAcquire attempts to acquire a token without blocking.
// Returns true if a token was acquired, false otherwise.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1 {
		r.tokens--
		r.lastRequest = time.Now()
		return true
	}
	return false
}

// refill adds tokens based on elapsed time.
// Must be called with mutex held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate

	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	r.lastRefill = now
}


// Pre-configured rate limiters for the BitMEX REST API. BitMEX allows 60
// requests/minute on authenticated routes and throttles bursts hard, so
// limits here are conservative to avoid bans.
var (
	bitmexOrderLimiter   *RateLimiter
	bitmexAccountLimiter *RateLimiter
	bitmexMarketLimiter  *RateLimiter
	rateLimiterOnce      sync.Once
)

// GetBitmexOrderLimiter returns the rate limiter for order endpoints.
func GetBitmexOrderLimiter() *RateLimiter {
	rateLimiterOnce.Do(initBitmexLimiters)
	return bitmexOrderLimiter
}

// GetBitmexAccountLimiter returns the rate limiter for position/order
// account queries.
func GetBitmexAccountLimiter() *RateLimiter {
	rateLimiterOnce.Do(initBitmexLimiters)
	return bitmexAccountLimiter
}

// GetBitmexMarketLimiter returns the rate limiter for bar/tick endpoints.
func GetBitmexMarketLimiter() *RateLimiter {
	rateLimiterOnce.Do(initBitmexLimiters)
	return bitmexMarketLimiter
}

func initBitmexLimiters() {
	bitmexOrderLimiter = NewRateLimiter(2, 1)   // 1 req/s, burst 2
	bitmexAccountLimiter = NewRateLimiter(2, 1) // 1 req/s, burst 2
	bitmexMarketLimiter = NewRateLimiter(5, 2)  // 2 req/s, burst 5
}
