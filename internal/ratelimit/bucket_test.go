package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitAcquiresFirstSlot(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	bucket := NewGlobalBucket(client, 50*time.Millisecond)
	require.NoError(t, bucket.Wait(context.Background()))

	// The slot key is held for the interval.
	assert.True(t, s.Exists(globalKey))
}

func TestWaitBlocksUntilSlotFrees(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	bucket := NewGlobalBucket(client, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, bucket.Wait(ctx))

	// miniredis TTLs only advance via FastForward; free the slot shortly.
	go func() {
		time.Sleep(30 * time.Millisecond)
		s.FastForward(100 * time.Millisecond)
	}()

	start := time.Now()
	require.NoError(t, bucket.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitRespectsCancellation(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	bucket := NewGlobalBucket(client, time.Hour)
	ctx := context.Background()
	require.NoError(t, bucket.Wait(ctx))

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err = bucket.Wait(cancelCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
