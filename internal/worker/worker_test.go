package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsync/internal/dispatcher"
	"marketsync/internal/models"
	"marketsync/internal/notify"
	"marketsync/internal/queue"
)

type fakeRunner struct {
	err   error
	calls int
}

func (f *fakeRunner) Run(_ context.Context, brand models.Brand, jobID string) (models.SyncRun, error) {
	f.calls++
	return models.SyncRun{Brand: brand.Key, JobID: jobID}, f.err
}

type fakeSender struct {
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func newTestWorker(t *testing.T, runner Runner) (*Worker, *queue.Queue, *fakeSender) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	q := queue.New(client, nil)
	sender := &fakeSender{}
	notifier := notify.NewWithSender(sender, 7, nil)
	brand := models.Brand{Key: "acme"}
	return New(brand, q, runner, notifier, time.Hour, nil), q, sender
}

func enqueue(t *testing.T, q *queue.Queue, job models.Job) {
	t.Helper()
	require.NoError(t, q.Enqueue(context.Background(), job))
}

func syncJob(id string, attempts int) models.Job {
	return models.Job{
		Queue:    models.Brand{Key: "acme"}.QueueName(),
		Name:     dispatcher.JobName,
		ID:       id,
		Attempts: attempts,
		Backoff:  models.BackoffPolicy{Base: time.Minute, Factor: 2, Max: time.Hour},
	}
}

func TestProcessCompletesSuccessfulJob(t *testing.T) {
	runner := &fakeRunner{}
	w, q, sender := newTestWorker(t, runner)
	ctx := context.Background()

	enqueue(t, q, syncJob("job-1", 5))
	handled, err := w.ProcessOne(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, handled)

	assert.Equal(t, 1, runner.calls)
	got, err := q.GetJob(ctx, w.brand.QueueName(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.State)
	assert.Empty(t, sender.sent)
}

func TestProcessReschedulesFailedJob(t *testing.T) {
	runner := &fakeRunner{err: errors.New("ads api 500")}
	w, q, sender := newTestWorker(t, runner)
	ctx := context.Background()

	enqueue(t, q, syncJob("job-2", 5))
	handled, err := w.ProcessOne(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, handled)

	got, err := q.GetJob(ctx, w.brand.QueueName(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, models.JobDelayed, got.State)
	assert.Equal(t, 1, got.AttemptsMade)
	assert.Empty(t, sender.sent, "retryable failures do not alert")
}

func TestProcessNotifiesOnPermanentFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("ads api 500")}
	w, q, sender := newTestWorker(t, runner)
	ctx := context.Background()

	enqueue(t, q, syncJob("job-3", 1))
	handled, err := w.ProcessOne(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, handled)

	got, err := q.GetJob(ctx, w.brand.QueueName(), "job-3")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0].(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "acme")
	assert.Contains(t, msg.Text, "ads api 500")
}

func TestProcessDiscardsUnknownJobName(t *testing.T) {
	runner := &fakeRunner{}
	w, q, sender := newTestWorker(t, runner)
	ctx := context.Background()

	job := syncJob("job-4", 5)
	job.Name = "nightly-report"
	enqueue(t, q, job)

	handled, err := w.ProcessOne(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, handled)

	assert.Zero(t, runner.calls, "pipeline never runs for unknown names")
	got, err := q.GetJob(ctx, w.brand.QueueName(), "job-4")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
	assert.Zero(t, got.AttemptsMade, "no retry budget consumed")
	require.Len(t, sender.sent, 1)
}

func TestProcessOneSkipsPausedQueue(t *testing.T) {
	runner := &fakeRunner{}
	w, q, _ := newTestWorker(t, runner)
	ctx := context.Background()

	enqueue(t, q, syncJob("job-5", 5))
	require.NoError(t, q.Pause(ctx, w.brand.QueueName()))

	handled, err := w.ProcessOne(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Zero(t, runner.calls)
}

func TestDelayedJobRunsAfterPromotion(t *testing.T) {
	runner := &fakeRunner{}
	w, q, _ := newTestWorker(t, runner)
	ctx := context.Background()

	job := syncJob("job-6", 5)
	job.Delay = time.Millisecond
	enqueue(t, q, job)

	// The delayed job becomes ready only once the janitor promotes it.
	handled, err := w.ProcessOne(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, handled)

	time.Sleep(5 * time.Millisecond)
	promoted, err := q.PromoteDue(ctx, w.brand.QueueName(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, promoted)

	handled, err = w.ProcessOne(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 1, runner.calls)
}
