// Package retry is the bounded fetch-retry helper shared by the pipeline
// stages. The exhaustion behavior is an explicit, named policy on every call
// site: ReturnEmpty lets a stage continue with partial data, Propagate fails
// the whole job so the queue's own backoff escalates.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrExhausted = errors.New("retries exhausted")

type ExhaustPolicy int

const (
	// ReturnEmpty yields the zero value and a nil error after the last
	// failed attempt.
	ReturnEmpty ExhaustPolicy = iota
	// Propagate yields ErrExhausted wrapping the last attempt's error.
	Propagate
)

type Options struct {
	Attempts    int
	Delay       time.Duration
	Factor      float64
	OnExhausted ExhaustPolicy
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Delay <= 0 {
		o.Delay = 2 * time.Second
	}
	if o.Factor <= 0 {
		o.Factor = 1
	}
	return o
}

// Do calls fn up to opts.Attempts times, sleeping between attempts. The
// sleep respects ctx; cancellation always propagates regardless of policy.
// fn is never called more than opts.Attempts times.
func Do[T any](ctx context.Context, opts Options, fn func(context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error
	delay := opts.Delay

	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == opts.Attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay = time.Duration(float64(delay) * opts.Factor)
	}

	if opts.OnExhausted == ReturnEmpty {
		return zero, nil
	}
	return zero, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, opts.Attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
