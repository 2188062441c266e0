package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestClientRateLimiter_CheckRequestAllowed(t *testing.T) {
	t.Run("should allow requests under limit", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(10, 5)

		for i := 0; i < 5; i++ {
			allowed, reason := limiter.CheckRequestAllowed()
			assert.True(t, allowed)
			assert.Empty(t, reason)
			limiter.RecordRequestStart()
		}
	})

	t.Run("should reject when concurrent limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(100, 3)

		for i := 0; i < 3; i++ {
			limiter.RecordRequestStart()
		}

		allowed, reason := limiter.CheckRequestAllowed()
		assert.False(t, allowed)
		assert.Equal(t, "too many concurrent requests", reason)
	})

	t.Run("should reject when rate limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(5, 10)

		for i := 0; i < 5; i++ {
			limiter.RecordRequestStart()
			limiter.RecordRequestEnd()
		}

		allowed, reason := limiter.CheckRequestAllowed()
		assert.False(t, allowed)
		assert.Equal(t, "rate limit exceeded", reason)
	})

	t.Run("should allow requests after window expires", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
		limiter := NewClientRateLimiterWithLimits(2, 10)
		limiter.now = clock.now

		limiter.RecordRequestStart()
		limiter.RecordRequestEnd()
		clock.t = clock.t.Add(30 * time.Second)
		limiter.RecordRequestStart()
		limiter.RecordRequestEnd()

		allowed, _ := limiter.CheckRequestAllowed()
		assert.False(t, allowed)

		clock.t = clock.t.Add(31 * time.Second)
		allowed, _ = limiter.CheckRequestAllowed()
		assert.True(t, allowed)

		requests, _ := limiter.GetStats()
		assert.Equal(t, 1, requests)
	})
}

func TestClientRateLimiter_RecordRequestStartEnd(t *testing.T) {
	t.Run("should track concurrent requests", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(100, 10)

		limiter.RecordRequestStart()
		limiter.RecordRequestStart()

		_, concurrent := limiter.GetStats()
		assert.Equal(t, 2, concurrent)

		limiter.RecordRequestEnd()
		_, concurrent = limiter.GetStats()
		assert.Equal(t, 1, concurrent)

		limiter.RecordRequestEnd()
		_, concurrent = limiter.GetStats()
		assert.Equal(t, 0, concurrent)
	})

	t.Run("should not go negative on concurrent count", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(100, 10)

		limiter.RecordRequestEnd()
		limiter.RecordRequestEnd()

		_, concurrent := limiter.GetStats()
		assert.Equal(t, 0, concurrent)
	})
}

func TestClientRateLimiter_GetStats(t *testing.T) {
	limiter := NewClientRateLimiter()

	limiter.RecordRequestStart()
	limiter.RecordRequestStart()
	limiter.RecordRequestStart()

	requests, concurrent := limiter.GetStats()
	assert.Equal(t, 3, requests)
	assert.Equal(t, 3, concurrent)

	limiter.RecordRequestEnd()

	requests, concurrent = limiter.GetStats()
	assert.Equal(t, 3, requests)
	assert.Equal(t, 2, concurrent)
}
