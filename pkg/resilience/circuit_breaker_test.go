package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_SuccessKeepsClosed(t *testing.T) {
	br := NewBreaker(BreakerConfig{
		Name:             "test-provider",
		FailureThreshold: 3,
		ResetAfter:       time.Second,
		CallTimeout:      time.Second,
	})

	for i := 0; i < 5; i++ {
		result, err := br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
			return "success", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "success", result)
	}

	snap := br.Snapshot()
	assert.False(t, snap.Open)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	br := NewBreaker(BreakerConfig{
		Name:             "test-provider",
		FailureThreshold: 3,
		ResetAfter:       time.Minute,
		CallTimeout:      time.Second,
	})

	for i := 0; i < 3; i++ {
		_, err := br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
		require.Error(t, err)
	}

	assert.True(t, br.Snapshot().Open)

	// The next call must be rejected without invoking the function.
	invoked := false
	_, err := br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "should not run", nil
	})
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.False(t, invoked)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	br := NewBreaker(BreakerConfig{
		Name:             "test-provider",
		FailureThreshold: 3,
		ResetAfter:       time.Minute,
		CallTimeout:      time.Second,
	})

	for i := 0; i < 2; i++ {
		br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	assert.Equal(t, 2, br.Snapshot().FailureCount)

	_, err := br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, br.Snapshot().FailureCount)
	assert.False(t, br.Snapshot().Open)
}

func TestBreaker_CooldownElapseAllowsAttempt(t *testing.T) {
	br := NewBreaker(BreakerConfig{
		Name:             "test-provider",
		FailureThreshold: 2,
		ResetAfter:       50 * time.Millisecond,
		CallTimeout:      time.Second,
	})

	for i := 0; i < 2; i++ {
		br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	assert.True(t, br.Snapshot().Open)
	assert.False(t, br.Available())

	// Inside the cooldown calls stay rejected.
	_, err := br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "nope", nil
	})
	assert.True(t, IsCircuitOpen(err))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, br.Available())

	// The first call after the cooldown is a real attempt; one success
	// fully closes the circuit.
	result, err := br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)

	snap := br.Snapshot()
	assert.False(t, snap.Open)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestBreaker_FailureAfterCooldownReopens(t *testing.T) {
	br := NewBreaker(BreakerConfig{
		Name:             "test-provider",
		FailureThreshold: 1,
		ResetAfter:       30 * time.Millisecond,
		CallTimeout:      time.Second,
	})

	br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	assert.True(t, br.Snapshot().Open)

	time.Sleep(40 * time.Millisecond)

	_, err := br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("still broken")
	})
	require.Error(t, err)
	assert.False(t, IsCircuitOpen(err))
	assert.True(t, br.Snapshot().Open)
}

func TestBreaker_CallTimeoutCountsAsFailure(t *testing.T) {
	br := NewBreaker(BreakerConfig{
		Name:             "test-provider",
		FailureThreshold: 5,
		ResetAfter:       time.Minute,
		CallTimeout:      20 * time.Millisecond,
	})

	_, err := br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	require.Error(t, err)
	assert.Equal(t, 1, br.Snapshot().FailureCount)
}

func TestBreaker_CallerCancellationNotCounted(t *testing.T) {
	br := NewBreaker(BreakerConfig{
		Name:             "test-provider",
		FailureThreshold: 1,
		ResetAfter:       time.Minute,
		CallTimeout:      time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := br.Call(ctx, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.Error(t, err)

	// An abandoned attempt says nothing about the provider.
	snap := br.Snapshot()
	assert.Equal(t, 0, snap.FailureCount)
	assert.False(t, snap.Open)
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []bool
	br := NewBreaker(BreakerConfig{
		Name:             "test-provider",
		FailureThreshold: 1,
		ResetAfter:       20 * time.Millisecond,
		CallTimeout:      time.Second,
		OnStateChange: func(name string, open bool) {
			transitions = append(transitions, open)
		},
	})

	br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	time.Sleep(30 * time.Millisecond)
	br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})

	assert.Equal(t, []bool{true, false}, transitions)
}

func TestBreaker_PanicRecordedAsFailure(t *testing.T) {
	br := NewBreaker(BreakerConfig{
		Name:             "test-provider",
		FailureThreshold: 3,
		ResetAfter:       time.Minute,
		CallTimeout:      time.Second,
	})

	_, err := br.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		panic("test panic")
	})
	require.Error(t, err)
	assert.Equal(t, 1, br.Snapshot().FailureCount)
}
