// Package ratelimit serializes access to the ads platform's shared,
// rate-limited report path. The budget is one request per fixed interval for
// the whole fleet, so the bucket lives in redis under a single global key and
// worker processes cooperate without shared memory.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const globalKey = "sync:ratelimit:ads-report"

type GlobalBucket struct {
	rdb      *redis.Client
	interval time.Duration
	local    *rate.Limiter
}

func NewGlobalBucket(rdb *redis.Client, interval time.Duration) *GlobalBucket {
	if interval <= 0 {
		interval = time.Second
	}
	return &GlobalBucket{
		rdb:      rdb,
		interval: interval,
		// The local limiter keeps one process from hammering redis while
		// another process holds the slot.
		local: rate.NewLimiter(rate.Every(interval/2), 1),
	}
}

// Wait blocks until this caller owns the next request slot or ctx is done.
func (b *GlobalBucket) Wait(ctx context.Context) error {
	for {
		if err := b.local.Wait(ctx); err != nil {
			return err
		}

		ok, err := b.rdb.SetNX(ctx, globalKey, "1", b.interval).Result()
		if err != nil {
			return fmt.Errorf("acquire ads rate slot: %w", err)
		}
		if ok {
			return nil
		}

		ttl, err := b.rdb.PTTL(ctx, globalKey).Result()
		if err != nil || ttl <= 0 {
			ttl = b.interval / 4
		}

		timer := time.NewTimer(ttl)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
