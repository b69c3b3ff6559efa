package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventualSuccessWithinBudget(t *testing.T) {
	ctx := context.Background()
	calls := 0

	got, err := Do(ctx, Options{Attempts: 5, Delay: time.Millisecond}, func(context.Context) ([]string, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return []string{"row"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"row"}, got)
	assert.Equal(t, 3, calls, "must not exceed attempts needed")
}

func TestNeverExceedsAttempts(t *testing.T) {
	ctx := context.Background()
	calls := 0

	_, _ = Do(ctx, Options{Attempts: 4, Delay: time.Millisecond, OnExhausted: ReturnEmpty}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("always fails")
	})

	assert.Equal(t, 4, calls)
}

func TestReturnEmptyPolicy(t *testing.T) {
	ctx := context.Background()

	got, err := Do(ctx, Options{Attempts: 2, Delay: time.Millisecond, OnExhausted: ReturnEmpty}, func(context.Context) ([]int, error) {
		return nil, errors.New("always fails")
	})

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPropagatePolicy(t *testing.T) {
	ctx := context.Background()

	_, err := Do(ctx, Options{Attempts: 2, Delay: time.Millisecond, OnExhausted: Propagate}, func(context.Context) (int, error) {
		return 0, errors.New("spend endpoint down")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "spend endpoint down")
}

func TestCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, Options{Attempts: 100, Delay: 50 * time.Millisecond, OnExhausted: ReturnEmpty}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls, 5)
}
