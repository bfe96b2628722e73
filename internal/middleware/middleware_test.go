package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsBurstThenThrottles(t *testing.T) {
	rl := NewRateLimiter(60) // 1/s, burst 6

	allowed := 0
	for i := 0; i < 20; i++ {
		if rl.Allow("c1") {
			allowed++
		}
	}
	assert.GreaterOrEqual(t, allowed, 5)
	assert.Less(t, allowed, 20, "sustained flood must be throttled")
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(60)

	for i := 0; i < 20; i++ {
		rl.Allow("noisy")
	}
	assert.True(t, rl.Allow("quiet"), "one client's flood must not throttle another")
}

func TestRateLimiter_Forget(t *testing.T) {
	rl := NewRateLimiter(60)
	for i := 0; i < 20; i++ {
		rl.Allow("c1")
	}
	assert.False(t, rl.Allow("c1"))

	rl.Forget("c1")
	assert.True(t, rl.Allow("c1"), "a reconnecting client starts with a fresh bucket")
}

func TestConnLimiter_PerIP(t *testing.T) {
	cl := NewConnLimiter(2, 0)

	assert.True(t, cl.Acquire("10.0.0.1:5001"))
	assert.True(t, cl.Acquire("10.0.0.1:5002"))
	assert.False(t, cl.Acquire("10.0.0.1:5003"), "third connection from the same IP is refused")
	assert.True(t, cl.Acquire("10.0.0.2:5001"), "another IP is unaffected")

	cl.Release("10.0.0.1:5001")
	assert.True(t, cl.Acquire("10.0.0.1:5003"))
}

func TestConnLimiter_Total(t *testing.T) {
	cl := NewConnLimiter(0, 2)

	assert.True(t, cl.Acquire("10.0.0.1:1"))
	assert.True(t, cl.Acquire("10.0.0.2:1"))
	assert.False(t, cl.Acquire("10.0.0.3:1"))

	cl.Release("10.0.0.2:1")
	assert.True(t, cl.Acquire("10.0.0.3:1"))
}

func TestConnLimiter_Unlimited(t *testing.T) {
	cl := NewConnLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, cl.Acquire("10.0.0.1:9"))
	}
}
