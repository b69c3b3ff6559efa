// Package dispatcher turns one scheduler tick into one delayed job per
// brand. Two delay rules apply together: brands sharing an upstream partner
// account get a large fixed gap so they never hit that account concurrently,
// and everything else gets a small strictly increasing stagger to avoid a
// thundering herd. The gap is delay arithmetic only, not a lock; a slow job
// can still overlap the next staggered one.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/models"

	"github.com/rs/zerolog"
)

// JobName is the single job name every brand worker recognizes.
const JobName = "daily-sync"

// ErrUnknownBrand is returned for ad-hoc triggers naming an unconfigured brand.
var ErrUnknownBrand = errors.New("dispatcher: unknown brand")

// Enqueuer is the queue surface the dispatcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job models.Job) error
}

type Dispatcher struct {
	brands []models.Brand
	sched  config.SchedulerConfig
	queue  Enqueuer
	logger zerolog.Logger
}

func New(brands []models.Brand, sched config.SchedulerConfig, queue Enqueuer, logger *zerolog.Logger) *Dispatcher {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "dispatcher").Logger()
	}
	return &Dispatcher{brands: brands, sched: sched, queue: queue, logger: base}
}

// PlanDelays assigns each brand its enqueue delay for one trigger.
func (d *Dispatcher) PlanDelays() map[string]time.Duration {
	delays := make(map[string]time.Duration, len(d.brands))
	groupPosition := make(map[string]int)
	ungrouped := 0

	for _, b := range d.brands {
		if b.MutexGroup != "" {
			pos := groupPosition[b.MutexGroup]
			groupPosition[b.MutexGroup] = pos + 1
			delays[b.Key] = d.sched.StaggerBase() + time.Duration(pos)*d.sched.MinGap(b.MutexGroup)
			continue
		}
		delays[b.Key] = d.sched.StaggerBase() + time.Duration(ungrouped)*d.sched.StaggerStep()
		ungrouped++
	}
	return delays
}

// Result reports the outcome of one dispatch, per brand.
type Result struct {
	Enqueued []string
	Failed   map[string]error
}

// DispatchDaily enqueues one job per configured brand. Each enqueue is
// isolated: a failing brand is logged and skipped so it cannot block the rest
// of the day's schedule. The job id embeds the trigger timestamp, so a second
// tick the same day produces new ids rather than colliding.
func (d *Dispatcher) DispatchDaily(ctx context.Context, now time.Time) Result {
	delays := d.PlanDelays()
	result := Result{Failed: make(map[string]error)}
	stamp := now.UTC().Format(time.RFC3339)

	for _, b := range d.brands {
		job := models.Job{
			Queue:    b.QueueName(),
			Name:     JobName,
			ID:       b.Key + "-" + stamp,
			Delay:    delays[b.Key],
			Attempts: d.sched.Attempts,
			Backoff:  d.sched.Backoff(),
		}
		if err := d.queue.Enqueue(ctx, job); err != nil {
			d.logger.Error().Err(err).Str("brand", b.Key).Msg("enqueue failed, continuing with remaining brands")
			result.Failed[b.Key] = err
			continue
		}
		result.Enqueued = append(result.Enqueued, b.Key)
	}

	d.logger.Info().
		Int("enqueued", len(result.Enqueued)).
		Int("failed", len(result.Failed)).
		Msg("daily sync dispatched")
	return result
}

// DispatchAdHoc enqueues a single immediate job for one brand, used by the
// manual trigger endpoint.
func (d *Dispatcher) DispatchAdHoc(ctx context.Context, brandKey string, now time.Time) error {
	for _, b := range d.brands {
		if b.Key != brandKey {
			continue
		}
		return d.queue.Enqueue(ctx, models.Job{
			Queue:    b.QueueName(),
			Name:     JobName,
			ID:       b.Key + "-adhoc-" + now.UTC().Format(time.RFC3339),
			Attempts: 1,
			Backoff:  d.sched.Backoff(),
		})
	}
	return ErrUnknownBrand
}
