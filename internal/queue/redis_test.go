package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"homespark/harvester/internal/config"
	"homespark/harvester/internal/domain/task"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQueue = "item:etagi:buy"

type clock struct {
	t time.Time
}

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T) (*RedisQueue, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := NewRedisQueue(rdb, config.RedisConfig{
		ConsumerGroup:     "test",
		KeyPrefix:         "test:",
		VisibilityTimeout: time.Hour,
		BlockTimeout:      20 * time.Millisecond,
	})
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q.now = c.Now

	require.NoError(t, q.EnsureQueue(context.Background(), testQueue))
	return q, c
}

func addItem(t *testing.T, q *RedisQueue, link string, policy AttemptPolicy) string {
	t.Helper()
	id, err := q.AddTask(context.Background(), testQueue, &task.ItemTask{TargetID: "etagi/buy", Link: link}, policy)
	require.NoError(t, err)
	return id
}

func TestAttemptPolicy_Backoff(t *testing.T) {
	p := DefaultAttemptPolicy()
	assert.Equal(t, 5*time.Second, p.Backoff(1))
	assert.Equal(t, 10*time.Second, p.Backoff(2))
	assert.Equal(t, 20*time.Second, p.Backoff(3))
}

func TestEnsureQueue_Idempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureQueue(context.Background(), testQueue))
}

func TestLeaseAck_RoundTrip(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id := addItem(t, q, "https://almaty.etagi.com/realty/1/", DefaultAttemptPolicy())

	depth, err := q.Depth(ctx, testQueue)
	require.NoError(t, err)
	assert.Equal(t, Depth{Waiting: 1}, depth)

	job, err := q.Lease(ctx, testQueue, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "ItemTask", job.TaskType)
	assert.Equal(t, 3, job.Policy.MaxAttempts)
	assert.Equal(t, 5*time.Second, job.Policy.BackoffBase)

	itemTask, err := task.UnmarshalTask[*task.ItemTask](job.Data)
	require.NoError(t, err)
	assert.Equal(t, "https://almaty.etagi.com/realty/1/", itemTask.Link)

	depth, err = q.Depth(ctx, testQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth.Waiting)
	assert.Equal(t, int64(1), depth.Active)
	assert.False(t, depth.Drained())

	require.NoError(t, q.Ack(ctx, job))

	depth, err = q.Depth(ctx, testQueue)
	require.NoError(t, err)
	assert.True(t, depth.Drained())

	next, err := q.Lease(ctx, testQueue, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestFail_RetriesWithBackoffThenSucceeds(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(t)
	addItem(t, q, "https://krisha.kz/a/show/1", DefaultAttemptPolicy())

	job, err := q.Lease(ctx, testQueue, "w")
	require.NoError(t, err)
	require.NotNil(t, job)

	dead, err := q.Fail(ctx, job, errors.New("navigation timeout"))
	require.NoError(t, err)
	assert.False(t, dead)

	// Mid-backoff the job counts as waiting, so the queue is not drained.
	depth, err := q.Depth(ctx, testQueue)
	require.NoError(t, err)
	assert.Equal(t, Depth{Waiting: 1, Delayed: 1}, depth)
	assert.False(t, depth.Drained())

	none, err := q.Lease(ctx, testQueue, "w")
	require.NoError(t, err)
	assert.Nil(t, none, "job must not be handed out before its backoff elapses")

	c.Advance(5 * time.Second)
	retry, err := q.Lease(ctx, testQueue, "w")
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.Equal(t, job.ID, retry.ID)
	assert.Equal(t, 1, retry.Attempts)

	require.NoError(t, q.Ack(ctx, retry))
	depth, err = q.Depth(ctx, testQueue)
	require.NoError(t, err)
	assert.True(t, depth.Drained())
}

func TestFail_SecondBackoffIsDoubled(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(t)
	addItem(t, q, "https://krisha.kz/a/show/2", DefaultAttemptPolicy())

	job, _ := q.Lease(ctx, testQueue, "w")
	_, err := q.Fail(ctx, job, errors.New("first"))
	require.NoError(t, err)

	c.Advance(5 * time.Second)
	job, _ = q.Lease(ctx, testQueue, "w")
	require.NotNil(t, job)
	_, err = q.Fail(ctx, job, errors.New("second"))
	require.NoError(t, err)

	c.Advance(9 * time.Second)
	early, err := q.Lease(ctx, testQueue, "w")
	require.NoError(t, err)
	assert.Nil(t, early)

	c.Advance(time.Second)
	job, err = q.Lease(ctx, testQueue, "w")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)
}

func TestFail_MarksDeadAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(t)
	start := c.Now()
	addItem(t, q, "https://www.kn.kz/almaty/1/", DefaultAttemptPolicy())

	var dead bool
	for attempt := 1; attempt <= 3; attempt++ {
		job, err := q.Lease(ctx, testQueue, "w")
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", attempt)

		dead, err = q.Fail(ctx, job, errors.New("selector not found"))
		require.NoError(t, err)
		c.Advance(time.Minute)
	}
	assert.True(t, dead)

	// Dead jobs are never retried again.
	job, err := q.Lease(ctx, testQueue, "w")
	require.NoError(t, err)
	assert.Nil(t, job)

	depth, err := q.Depth(ctx, testQueue)
	require.NoError(t, err)
	assert.True(t, depth.Drained())
	assert.Equal(t, int64(1), depth.Dead)

	deadJobs, err := q.DeadJobs(ctx, testQueue, start)
	require.NoError(t, err)
	require.Len(t, deadJobs, 1)
	assert.Equal(t, 3, deadJobs[0].Attempts)
	assert.Equal(t, "selector not found", deadJobs[0].Error)
	assert.Contains(t, deadJobs[0].Data, "https://www.kn.kz/almaty/1/")

	later, err := q.DeadJobs(ctx, testQueue, c.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestLease_BuriesUndecodableMessage(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(t)
	start := c.Now()

	require.NoError(t, q.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: q.streamKey(testQueue),
		Values: map[string]any{"job": "{not json"},
	}).Err())
	addItem(t, q, "https://almaty.etagi.com/realty/3/", DefaultAttemptPolicy())

	job, err := q.Lease(ctx, testQueue, "w")
	require.NoError(t, err, "a corrupt envelope must not fail the lease")
	assert.Nil(t, job)

	deadJobs, err := q.DeadJobs(ctx, testQueue, start)
	require.NoError(t, err)
	require.Len(t, deadJobs, 1)
	assert.Equal(t, "{not json", deadJobs[0].Data)
	assert.Contains(t, deadJobs[0].Error, "failed to decode job")

	job, err = q.Lease(ctx, testQueue, "w")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, q.Ack(ctx, job))

	depth, err := q.Depth(ctx, testQueue)
	require.NoError(t, err)
	assert.True(t, depth.Drained())
	assert.Equal(t, int64(1), depth.Dead)
}

func TestLease_ReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	q.visibilityTimeout = 10 * time.Millisecond
	addItem(t, q, "https://almaty.etagi.com/realty/2/", DefaultAttemptPolicy())

	first, err := q.Lease(ctx, testQueue, "crashed-worker")
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(50 * time.Millisecond)

	again, err := q.Lease(ctx, testQueue, "healthy-worker")
	require.NoError(t, err)
	require.NotNil(t, again, "an unacked job must be redelivered after the visibility timeout")
	assert.Equal(t, first.ID, again.ID)

	require.NoError(t, q.Ack(ctx, again))
	depth, err := q.Depth(ctx, testQueue)
	require.NoError(t, err)
	assert.True(t, depth.Drained())
}

func TestAddTask_BrokerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	q := NewRedisQueue(rdb, config.RedisConfig{})
	mr.Close()

	_, err := q.AddTask(context.Background(), testQueue, &task.ItemTask{TargetID: "etagi/buy", Link: "x"}, DefaultAttemptPolicy())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}
