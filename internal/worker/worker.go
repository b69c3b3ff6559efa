// Package worker consumes queued sync jobs. One Worker owns one brand queue
// and processes it serially; a Fleet runs one worker per brand plus a janitor
// goroutine that promotes due delayed jobs and reclaims expired leases.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketsync/internal/dispatcher"
	"marketsync/internal/metrics"
	"marketsync/internal/models"
	"marketsync/internal/notify"
	"marketsync/internal/queue"

	"github.com/rs/zerolog"
)

// ErrUnknownJob marks jobs whose name no handler recognizes. They are
// discarded immediately instead of burning retries on a job that can never
// succeed.
var ErrUnknownJob = errors.New("unknown job name")

const dequeueBlock = 5 * time.Second

// Runner executes one brand sync job.
type Runner interface {
	Run(ctx context.Context, brand models.Brand, jobID string) (models.SyncRun, error)
}

type Worker struct {
	brand        models.Brand
	queue        *queue.Queue
	pipeline     Runner
	notifier     *notify.Notifier
	lockDuration time.Duration
	logger       zerolog.Logger
}

func New(brand models.Brand, q *queue.Queue, pipeline Runner, notifier *notify.Notifier, lockDuration time.Duration, logger *zerolog.Logger) *Worker {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "worker").Str("brand", brand.Key).Logger()
	}
	if lockDuration <= 0 {
		lockDuration = 2 * time.Hour
	}
	return &Worker{
		brand:        brand,
		queue:        q,
		pipeline:     pipeline,
		notifier:     notifier,
		lockDuration: lockDuration,
		logger:       base,
	}
}

// Run consumes the brand queue until ctx is canceled. Each fetched job is
// fully processed before the next dequeue; long syncs hold their lease for
// the whole run.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Str("queue", w.brand.QueueName()).Msg("worker ready")
	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("worker stopping")
			return
		}
		job, err := w.queue.Dequeue(ctx, w.brand.QueueName(), dequeueBlock, w.lockDuration)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			// Paused queues return immediately; do not spin on them.
			if paused, _ := w.queue.IsPaused(ctx, w.brand.QueueName()); paused {
				time.Sleep(time.Second)
			}
			continue
		}
		w.process(ctx, job)
	}
}

// ProcessOne dequeues at most one job and handles it. It exists for the
// janitor-less test path and for drain-style tooling.
func (w *Worker) ProcessOne(ctx context.Context, block time.Duration) (bool, error) {
	job, err := w.queue.Dequeue(ctx, w.brand.QueueName(), block, w.lockDuration)
	if err != nil || job == nil {
		return false, err
	}
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *models.Job) {
	log := w.logger.With().Str("job_id", job.ID).Str("job_name", job.Name).Logger()

	if job.Name != dispatcher.JobName {
		log.Warn().Msg("discarding job with unknown name")
		if err := w.queue.Discard(ctx, job, fmt.Errorf("%w: %s", ErrUnknownJob, job.Name)); err != nil {
			log.Error().Err(err).Msg("discard failed")
		}
		w.notifier.JobFailed(w.brand.Key, job.ID, job.AttemptsMade, ErrUnknownJob)
		return
	}

	log.Info().Int("attempt", job.AttemptsMade).Msg("job active")
	metrics.IncJob(job.Queue, string(models.JobActive))

	started := time.Now()
	_, runErr := w.pipeline.Run(ctx, w.brand, job.ID)
	if runErr == nil {
		if err := w.queue.Complete(ctx, job); err != nil {
			log.Error().Err(err).Msg("complete failed")
			return
		}
		metrics.IncJob(job.Queue, string(models.JobCompleted))
		log.Info().Dur("took", time.Since(started)).Msg("job completed")
		return
	}

	retrying, err := w.queue.Fail(ctx, job, runErr)
	if err != nil {
		log.Error().Err(err).Msg("fail bookkeeping failed")
		return
	}
	if retrying {
		log.Warn().Err(runErr).Int("attempt", job.AttemptsMade).Msg("job failed, retry scheduled")
		return
	}
	metrics.IncJob(job.Queue, string(models.JobFailed))
	log.Error().Err(runErr).Int("attempts", job.AttemptsMade).Msg("job failed permanently")
	w.notifier.JobFailed(w.brand.Key, job.ID, job.AttemptsMade, runErr)
}

// Fleet runs one worker per brand and a shared janitor.
type Fleet struct {
	workers     []*Worker
	queue       *queue.Queue
	queues      []string
	promoteTick time.Duration
	logger      zerolog.Logger
}

func NewFleet(brands []models.Brand, q *queue.Queue, pipeline Runner, notifier *notify.Notifier, lockDuration, promoteTick time.Duration, logger *zerolog.Logger) *Fleet {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "fleet").Logger()
	}
	if promoteTick <= 0 {
		promoteTick = 15 * time.Second
	}
	f := &Fleet{queue: q, promoteTick: promoteTick, logger: base}
	for _, b := range brands {
		f.workers = append(f.workers, New(b, q, pipeline, notifier, lockDuration, logger))
		f.queues = append(f.queues, b.QueueName())
	}
	return f
}

// Run blocks until ctx is canceled and all workers have returned.
func (f *Fleet) Run(ctx context.Context) {
	done := make(chan struct{}, len(f.workers))
	for _, w := range f.workers {
		go func() {
			w.Run(ctx)
			done <- struct{}{}
		}()
	}
	go f.janitor(ctx)

	for range f.workers {
		<-done
	}
	f.logger.Info().Msg("fleet stopped")
}

// janitor moves due delayed jobs to ready and returns expired leases to the
// ready list so a crashed worker's job is picked up again.
func (f *Fleet) janitor(ctx context.Context) {
	ticker := time.NewTicker(f.promoteTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, name := range f.queues {
				if n, err := f.queue.PromoteDue(ctx, name, now); err != nil {
					f.logger.Error().Err(err).Str("queue", name).Msg("promote failed")
				} else if n > 0 {
					f.logger.Debug().Str("queue", name).Int("promoted", n).Msg("delayed jobs promoted")
				}
				if n, err := f.queue.ReapExpired(ctx, name, now); err != nil {
					f.logger.Error().Err(err).Str("queue", name).Msg("reap failed")
				} else if n > 0 {
					f.logger.Warn().Str("queue", name).Int("reaped", n).Msg("expired leases reclaimed")
				}
			}
		}
	}
}
