package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientRateLimiter_Acquire(t *testing.T) {
	t.Run("should allow requests under limit", func(t *testing.T) {
		limiter := NewClientRateLimiter(10, 5)
		for i := 0; i < 5; i++ {
			_, reason, ok := limiter.Acquire()
			assert.True(t, ok)
			assert.Empty(t, reason)
		}
		assert.Equal(t, 5, limiter.InFlight())
	})

	t.Run("should reject when concurrent limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiter(100, 3)
		for i := 0; i < 3; i++ {
			_, _, ok := limiter.Acquire()
			assert.True(t, ok)
		}

		code, reason, ok := limiter.Acquire()
		assert.False(t, ok)
		assert.Equal(t, TooManyConcurrent, code)
		assert.Equal(t, "too many concurrent requests", reason)

		limiter.Release()
		_, _, ok = limiter.Acquire()
		assert.True(t, ok)
	})

	t.Run("should reject when rate limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiter(5, 10)
		for i := 0; i < 5; i++ {
			_, _, ok := limiter.Acquire()
			assert.True(t, ok)
			limiter.Release()
		}

		code, reason, ok := limiter.Acquire()
		assert.False(t, ok)
		assert.Equal(t, RateLimitExceeded, code)
		assert.Equal(t, "rate limit exceeded", reason)
	})

	t.Run("should not go below zero in flight", func(t *testing.T) {
		limiter := NewClientRateLimiter(0, 0)
		limiter.Release()
		assert.Equal(t, 0, limiter.InFlight())
	})
}
