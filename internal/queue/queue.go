package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"marketsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrJobNotFound = errors.New("job not found")

const keyPrefix = "sync"

// Queue is a durable, named, per-brand job queue on redis.
//
// Layout per queue q:
//
//	sync:{q}:job:{id}   hash with the job fields
//	sync:{q}:ready      list of ids eligible to run
//	sync:{q}:delayed    zset of ids, score = ready-at unix ms
//	sync:{q}:active     zset of ids, score = lease expiry unix ms
//	sync:{q}:completed  list (bounded history)
//	sync:{q}:failed     list of permanently failed ids
//	sync:{q}:paused     flag key
//	sync:queues         set of known queue names
type Queue struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

func New(rdb *redis.Client, logger *zerolog.Logger) *Queue {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "queue").Logger()
	}
	return &Queue{rdb: rdb, logger: base}
}

// NewClient creates a redis client from connection settings.
func NewClient(addr, password string, db, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
}

func (q *Queue) key(queue, part string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, queue, part)
}

func (q *Queue) jobKey(queue, id string) string {
	return fmt.Sprintf("%s:%s:job:%s", keyPrefix, queue, id)
}

func (q *Queue) queuesKey() string {
	return keyPrefix + ":queues"
}

// Enqueue stores the job and makes it eligible after job.Delay. Job ids embed
// a fresh trigger timestamp, so duplicate triggers create distinct jobs
// rather than colliding.
func (q *Queue) Enqueue(ctx context.Context, job models.Job) error {
	if job.Queue == "" || job.ID == "" {
		return errors.New("queue and job id are required")
	}

	now := time.Now()
	job.EnqueuedAt = now
	job.ReadyAt = now.Add(job.Delay)
	if job.Delay > 0 {
		job.State = models.JobDelayed
	} else {
		job.State = models.JobWaiting
	}

	pipe := q.rdb.TxPipeline()
	pipe.SAdd(ctx, q.queuesKey(), job.Queue)
	pipe.HSet(ctx, q.jobKey(job.Queue, job.ID), jobFields(job))
	if job.Delay > 0 {
		pipe.ZAdd(ctx, q.key(job.Queue, "delayed"), redis.Z{
			Score:  float64(job.ReadyAt.UnixMilli()),
			Member: job.ID,
		})
	} else {
		pipe.LPush(ctx, q.key(job.Queue, "ready"), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", job.Queue, job.ID, err)
	}

	q.logger.Info().
		Str("queue", job.Queue).
		Str("job_id", job.ID).
		Dur("delay", job.Delay).
		Int("attempts", job.Attempts).
		Msg("job enqueued")
	return nil
}

// PromoteDue moves delayed jobs whose ready time has passed onto the ready list.
func (q *Queue) PromoteDue(ctx context.Context, queue string, now time.Time) (int, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, q.key(queue, "delayed"), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, q.key(queue, "ready"), id)
		pipe.ZRem(ctx, q.key(queue, "delayed"), id)
		pipe.HSet(ctx, q.jobKey(queue, id), "state", string(models.JobWaiting))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("promote due %s: %w", queue, err)
	}
	return len(ids), nil
}

// Dequeue pops one ready job and leases it for lockDuration. It returns
// (nil, nil) when the queue is paused or nothing is ready within block.
// The lock duration must exceed the longest expected pipeline runtime so a
// still-running job is not considered abandoned and redispatched.
func (q *Queue) Dequeue(ctx context.Context, queue string, block, lockDuration time.Duration) (*models.Job, error) {
	paused, err := q.IsPaused(ctx, queue)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, nil
	}

	res, err := q.rdb.BRPop(ctx, block, q.key(queue, "ready")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", queue, err)
	}
	if len(res) != 2 {
		return nil, nil
	}
	id := res[1]

	// The queue may have been paused while BRPop was blocking. Re-check and
	// put the job back instead of handing it out.
	paused, err = q.IsPaused(ctx, queue)
	if err != nil {
		return nil, err
	}
	if paused {
		if err := q.rdb.LPush(ctx, q.key(queue, "ready"), id).Err(); err != nil {
			return nil, fmt.Errorf("requeue %s/%s: %w", queue, id, err)
		}
		return nil, nil
	}

	job, err := q.GetJob(ctx, queue, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			// Removed between push and pop; skip it.
			return nil, nil
		}
		return nil, err
	}

	expiry := time.Now().Add(lockDuration)
	pipe := q.rdb.TxPipeline()
	pipe.ZAdd(ctx, q.key(queue, "active"), redis.Z{Score: float64(expiry.UnixMilli()), Member: id})
	pipe.HSet(ctx, q.jobKey(queue, id), "state", string(models.JobActive))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("lease %s/%s: %w", queue, id, err)
	}

	job.State = models.JobActive
	return job, nil
}

// Complete marks a job done and keeps a bounded history entry.
func (q *Queue) Complete(ctx context.Context, job *models.Job) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.key(job.Queue, "active"), job.ID)
	pipe.HSet(ctx, q.jobKey(job.Queue, job.ID), "state", string(models.JobCompleted))
	pipe.Expire(ctx, q.jobKey(job.Queue, job.ID), 7*24*time.Hour)
	pipe.LPush(ctx, q.key(job.Queue, "completed"), job.ID)
	pipe.LTrim(ctx, q.key(job.Queue, "completed"), 0, 999)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete %s/%s: %w", job.Queue, job.ID, err)
	}
	job.State = models.JobCompleted
	return nil
}

// Fail records a failed attempt. While attempts remain the job is rescheduled
// with exponential backoff and Fail reports true; once exhausted the job is
// parked on the failed list and is never retried automatically again.
func (q *Queue) Fail(ctx context.Context, job *models.Job, cause error) (bool, error) {
	job.AttemptsMade++
	job.LastError = cause.Error()

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.key(job.Queue, "active"), job.ID)
	pipe.HSet(ctx, q.jobKey(job.Queue, job.ID),
		"attempts_made", job.AttemptsMade,
		"last_error", job.LastError,
	)

	retrying := job.AttemptsMade < job.Attempts
	if retrying {
		delay := job.Backoff.NextDelay(job.AttemptsMade)
		readyAt := time.Now().Add(delay)
		job.State = models.JobDelayed
		pipe.HSet(ctx, q.jobKey(job.Queue, job.ID), "state", string(models.JobDelayed))
		pipe.ZAdd(ctx, q.key(job.Queue, "delayed"), redis.Z{
			Score:  float64(readyAt.UnixMilli()),
			Member: job.ID,
		})
	} else {
		job.State = models.JobFailed
		pipe.HSet(ctx, q.jobKey(job.Queue, job.ID), "state", string(models.JobFailed))
		pipe.LPush(ctx, q.key(job.Queue, "failed"), job.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return retrying, fmt.Errorf("fail %s/%s: %w", job.Queue, job.ID, err)
	}
	return retrying, nil
}

// Discard parks a job on the failed list immediately, without consuming the
// remaining retry budget. Used for unrecognized job names.
func (q *Queue) Discard(ctx context.Context, job *models.Job, cause error) error {
	job.State = models.JobFailed
	job.LastError = cause.Error()

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.key(job.Queue, "active"), job.ID)
	pipe.HSet(ctx, q.jobKey(job.Queue, job.ID),
		"state", string(models.JobFailed),
		"last_error", job.LastError,
	)
	pipe.LPush(ctx, q.key(job.Queue, "failed"), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("discard %s/%s: %w", job.Queue, job.ID, err)
	}
	return nil
}

// ReapExpired requeues active jobs whose lease has expired (crashed worker).
func (q *Queue) ReapExpired(ctx context.Context, queue string, now time.Time) (int, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, q.key(queue, "active"), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.key(queue, "active"), id)
		pipe.LPush(ctx, q.key(queue, "ready"), id)
		pipe.HSet(ctx, q.jobKey(queue, id), "state", string(models.JobWaiting))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("reap expired %s: %w", queue, err)
	}
	q.logger.Warn().Str("queue", queue).Int("count", len(ids)).Msg("requeued jobs with expired leases")
	return len(ids), nil
}

// GetJob loads one job by id.
func (q *Queue) GetJob(ctx context.Context, queue, id string) (*models.Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(queue, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s/%s: %w", queue, id, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromFields(queue, id, fields), nil
}

// Queues lists every queue any job was ever enqueued into.
func (q *Queue) Queues(ctx context.Context) ([]string, error) {
	return q.rdb.SMembers(ctx, q.queuesKey()).Result()
}

// JobIDs lists job ids in one state for one queue.
func (q *Queue) JobIDs(ctx context.Context, queue string, state models.JobState) ([]string, error) {
	switch state {
	case models.JobWaiting:
		return q.rdb.LRange(ctx, q.key(queue, "ready"), 0, -1).Result()
	case models.JobDelayed:
		return q.rdb.ZRange(ctx, q.key(queue, "delayed"), 0, -1).Result()
	case models.JobActive:
		return q.rdb.ZRange(ctx, q.key(queue, "active"), 0, -1).Result()
	case models.JobCompleted:
		return q.rdb.LRange(ctx, q.key(queue, "completed"), 0, -1).Result()
	case models.JobFailed:
		return q.rdb.LRange(ctx, q.key(queue, "failed"), 0, -1).Result()
	default:
		return nil, fmt.Errorf("unknown job state: %s", state)
	}
}

func (q *Queue) Pause(ctx context.Context, queue string) error {
	return q.rdb.Set(ctx, q.key(queue, "paused"), "1", 0).Err()
}

func (q *Queue) Resume(ctx context.Context, queue string) error {
	return q.rdb.Del(ctx, q.key(queue, "paused")).Err()
}

func (q *Queue) IsPaused(ctx context.Context, queue string) (bool, error) {
	n, err := q.rdb.Exists(ctx, q.key(queue, "paused")).Result()
	if err != nil {
		return false, fmt.Errorf("paused check %s: %w", queue, err)
	}
	return n > 0, nil
}

// Remove deletes one job by id wherever it currently sits. Active jobs are
// only delisted, not interrupted.
func (q *Queue) Remove(ctx context.Context, queue, id string) error {
	n, err := q.rdb.Exists(ctx, q.jobKey(queue, id)).Result()
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", queue, id, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.key(queue, "ready"), 0, id)
	pipe.ZRem(ctx, q.key(queue, "delayed"), id)
	pipe.ZRem(ctx, q.key(queue, "active"), id)
	pipe.LRem(ctx, q.key(queue, "completed"), 0, id)
	pipe.LRem(ctx, q.key(queue, "failed"), 0, id)
	pipe.Del(ctx, q.jobKey(queue, id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove %s/%s: %w", queue, id, err)
	}
	return nil
}

// Drain deletes all waiting and delayed jobs from one queue.
func (q *Queue) Drain(ctx context.Context, queue string) error {
	ready, err := q.rdb.LRange(ctx, q.key(queue, "ready"), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("drain %s: %w", queue, err)
	}
	delayed, err := q.rdb.ZRange(ctx, q.key(queue, "delayed"), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("drain %s: %w", queue, err)
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range append(ready, delayed...) {
		pipe.Del(ctx, q.jobKey(queue, id))
	}
	pipe.Del(ctx, q.key(queue, "ready"), q.key(queue, "delayed"))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("drain %s: %w", queue, err)
	}
	return nil
}

// Obliterate removes every job in every state plus the completed/failed
// history for one queue. The paused flag is untouched.
func (q *Queue) Obliterate(ctx context.Context, queue string) error {
	states := []models.JobState{
		models.JobWaiting, models.JobDelayed, models.JobActive,
		models.JobCompleted, models.JobFailed,
	}

	pipe := q.rdb.TxPipeline()
	for _, state := range states {
		ids, err := q.JobIDs(ctx, queue, state)
		if err != nil {
			return fmt.Errorf("obliterate %s: %w", queue, err)
		}
		for _, id := range ids {
			pipe.Del(ctx, q.jobKey(queue, id))
		}
	}
	pipe.Del(ctx,
		q.key(queue, "ready"),
		q.key(queue, "delayed"),
		q.key(queue, "active"),
		q.key(queue, "completed"),
		q.key(queue, "failed"),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("obliterate %s: %w", queue, err)
	}
	return nil
}

// StopAll is the emergency full reset: pause every known queue, drain its
// waiting/delayed jobs, then obliterate all remaining state. Safe to call
// with nothing enqueued; queues come out paused and empty.
func (q *Queue) StopAll(ctx context.Context) error {
	queues, err := q.Queues(ctx)
	if err != nil {
		return fmt.Errorf("stop all: %w", err)
	}

	var errs []error
	for _, name := range queues {
		if err := q.Pause(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := q.Drain(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := q.Obliterate(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushStorage opens a dedicated connection to the queue storage and erases
// every key in the database. Destructive; only for recovering from corrupted
// storage. The scoped connection is closed regardless of outcome.
func FlushStorage(ctx context.Context, addr, password string, db int) error {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	defer client.Close()

	if err := client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("flush storage: %w", err)
	}
	return nil
}

func jobFields(job models.Job) map[string]any {
	return map[string]any{
		"name":           job.Name,
		"payload":        job.Payload,
		"attempts":       job.Attempts,
		"attempts_made":  job.AttemptsMade,
		"backoff_base":   job.Backoff.Base.Milliseconds(),
		"backoff_factor": strconv.FormatFloat(job.Backoff.Factor, 'f', -1, 64),
		"backoff_max":    job.Backoff.Max.Milliseconds(),
		"state":          string(job.State),
		"last_error":     job.LastError,
		"enqueued_at":    job.EnqueuedAt.UnixMilli(),
		"ready_at":       job.ReadyAt.UnixMilli(),
	}
}

func jobFromFields(queue, id string, fields map[string]string) *models.Job {
	atoi := func(s string) int64 {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	factor, _ := strconv.ParseFloat(fields["backoff_factor"], 64)

	return &models.Job{
		Queue:        queue,
		ID:           id,
		Name:         fields["name"],
		Payload:      fields["payload"],
		Attempts:     int(atoi(fields["attempts"])),
		AttemptsMade: int(atoi(fields["attempts_made"])),
		Backoff: models.BackoffPolicy{
			Base:   time.Duration(atoi(fields["backoff_base"])) * time.Millisecond,
			Factor: factor,
			Max:    time.Duration(atoi(fields["backoff_max"])) * time.Millisecond,
		},
		State:      models.JobState(fields["state"]),
		LastError:  fields["last_error"],
		EnqueuedAt: time.UnixMilli(atoi(fields["enqueued_at"])),
		ReadyAt:    time.UnixMilli(atoi(fields["ready_at"])),
	}
}
