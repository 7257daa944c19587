package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiterFirstWaitIsImmediate(t *testing.T) {
	r := NewSimpleRateLimiter(time.Hour, time.Hour)

	start := time.Now()
	require.NoError(t, r.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSimpleRateLimiterSpacesActions(t *testing.T) {
	r := NewSimpleRateLimiter(30*time.Millisecond, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, r.Wait(ctx))
	start := time.Now()
	require.NoError(t, r.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestSimpleRateLimiterRespectsContext(t *testing.T) {
	r := NewSimpleRateLimiter(time.Hour, time.Hour)
	require.NoError(t, r.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimpleRateLimiterSetDelay(t *testing.T) {
	r := NewSimpleRateLimiter(time.Second, 2*time.Second)
	r.SetDelay(5*time.Second, time.Second)

	min, max := r.Delays()
	assert.Equal(t, 5*time.Second, min)
	assert.Equal(t, 5*time.Second, max)
}

func TestAdaptiveRateLimiter(t *testing.T) {
	t.Run("widens after repeated errors", func(t *testing.T) {
		a := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)

		a.RecordError()
		a.RecordError()
		min, _ := a.Delays()
		assert.Equal(t, 2*time.Second, min)

		a.RecordError()
		min, max := a.Delays()
		assert.Equal(t, 3*time.Second, min)
		assert.Equal(t, 6*time.Second, max)
	})

	t.Run("backoff widens immediately and is capped", func(t *testing.T) {
		a := NewAdaptiveRateLimiter(40*time.Second, 100*time.Second)

		a.Backoff()
		min, max := a.Delays()
		assert.Equal(t, 60*time.Second, min)
		assert.Equal(t, 120*time.Second, max)

		a.Backoff()
		min, max = a.Delays()
		assert.Equal(t, 60*time.Second, min)
		assert.Equal(t, 120*time.Second, max)
	})

	t.Run("narrows after successes", func(t *testing.T) {
		a := NewAdaptiveRateLimiter(10*time.Second, 20*time.Second)

		for i := 0; i < 6; i++ {
			a.RecordSuccess()
		}
		min, max := a.Delays()
		assert.Equal(t, 9*time.Second, min)
		assert.Equal(t, 20*time.Second, max)
	})
}

func TestMinuteLimiter(t *testing.T) {
	m := NewMinuteLimiter(1)
	assert.True(t, m.Allow())
	assert.False(t, m.Allow())

	unlimited := NewMinuteLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow())
	}
}
