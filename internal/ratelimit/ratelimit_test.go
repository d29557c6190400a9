package ratelimit

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiterFirstWaitIsImmediate(t *testing.T) {
	limiter := NewSimpleRateLimiter(time.Hour, time.Hour)

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSimpleRateLimiterZeroDelay(t *testing.T) {
	limiter := NewSimpleRateLimiter(0, 0)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSimpleRateLimiterSpacesActions(t *testing.T) {
	limiter := NewSimpleRateLimiter(50*time.Millisecond, 50*time.Millisecond)

	require.NoError(t, limiter.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestSimpleRateLimiterCancelled(t *testing.T) {
	limiter := NewSimpleRateLimiter(time.Hour, time.Hour)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCalculateDelayWithinRange(t *testing.T) {
	limiter := NewSimpleRateLimiter(2*time.Second, 5*time.Second, WithRand(rand.New(rand.NewSource(7))))

	for i := 0; i < 100; i++ {
		d := limiter.calculateDelay()
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestSetDelayNormalisesInvertedRange(t *testing.T) {
	limiter := NewSimpleRateLimiter(5*time.Second, time.Second)
	minDelay, maxDelay := limiter.Delays()
	assert.Equal(t, 5*time.Second, minDelay)
	assert.Equal(t, 5*time.Second, maxDelay)

	limiter.SetDelay(3*time.Second, time.Second)
	minDelay, maxDelay = limiter.Delays()
	assert.Equal(t, 3*time.Second, minDelay)
	assert.Equal(t, 3*time.Second, maxDelay)
}

func TestAdaptiveRateLimiter(t *testing.T) {
	t.Run("Backs off on block", func(t *testing.T) {
		limiter := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)
		limiter.RecordBlock()

		minDelay, maxDelay := limiter.Delays()
		assert.Equal(t, 3*time.Second, minDelay)
		assert.Equal(t, 6*time.Second, maxDelay)
	})

	t.Run("Zero range gets a floor", func(t *testing.T) {
		limiter := NewAdaptiveRateLimiter(0, 0)
		limiter.RecordBlock()

		minDelay, maxDelay := limiter.Delays()
		assert.Equal(t, time.Second, minDelay)
		assert.Equal(t, time.Second, maxDelay)
	})

	t.Run("Capped", func(t *testing.T) {
		limiter := NewAdaptiveRateLimiter(100*time.Second, 110*time.Second)
		limiter.RecordBlock()

		minDelay, maxDelay := limiter.Delays()
		assert.Equal(t, 120*time.Second, minDelay)
		assert.Equal(t, 120*time.Second, maxDelay)
	})

	t.Run("Relaxes back to base", func(t *testing.T) {
		limiter := NewAdaptiveRateLimiter(0, 0)
		limiter.RecordBlock()

		for i := 0; i < 4; i++ {
			limiter.RecordSuccess()
		}
		minDelay, _ := limiter.Delays()
		assert.Equal(t, time.Second, minDelay)

		limiter.RecordSuccess()

		minDelay, maxDelay := limiter.Delays()
		assert.Equal(t, time.Duration(0), minDelay)
		assert.Equal(t, time.Duration(0), maxDelay)
	})

	t.Run("Block resets success streak", func(t *testing.T) {
		limiter := NewAdaptiveRateLimiter(0, 0)
		limiter.RecordBlock()
		for i := 0; i < 4; i++ {
			limiter.RecordSuccess()
		}
		limiter.RecordBlock()

		minDelay, _ := limiter.Delays()
		assert.Equal(t, 1500*time.Millisecond, minDelay)
	})
}
