// Package middleware provides connection-level guards for the signaling
// transport.
package middleware

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-client frame rate limiting
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter with the given frames per minute
func NewRateLimiter(messagesPerMin int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(messagesPerMin) / 60.0), // Convert to per-second
		burst:    max(messagesPerMin/10, 5),                  // Burst of 10% or at least 5
	}
}

// getLimiter returns the rate limiter for a client, creating one if needed
func (rl *RateLimiter) getLimiter(clientID string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[clientID]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = rl.limiters[clientID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[clientID] = limiter
	return limiter
}

// Allow reports whether the client may process another frame right now.
func (rl *RateLimiter) Allow(clientID string) bool {
	return rl.getLimiter(clientID).Allow()
}

// Forget drops the limiter state for a disconnected client.
func (rl *RateLimiter) Forget(clientID string) {
	rl.mu.Lock()
	delete(rl.limiters, clientID)
	rl.mu.Unlock()
}

// Cleanup removes stale rate limiters (call periodically)
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Remove limiters that haven't been used (tokens are at burst)
	for clientID, limiter := range rl.limiters {
		if limiter.Tokens() >= float64(rl.burst) {
			delete(rl.limiters, clientID)
		}
	}
}
