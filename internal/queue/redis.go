package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"homespark/harvester/internal/config"
	"homespark/harvester/internal/domain/task"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const promoteBatchSize = 50

// promoteScript moves retry jobs whose backoff has elapsed from the delayed set
// back onto the stream. It runs atomically so a depth snapshot never misses them.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
  redis.call('ZREM', KEYS[1], member)
  redis.call('XADD', KEYS[2], '*', 'job', member)
end
return #due
`)

// envelope is the serialized form of a job inside the stream, the delayed set and the dead list.
type envelope struct {
	ID          string `json:"id"`
	TaskType    string `json:"task_type"`
	TaskData    string `json:"task_data"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	BackoffMs   int64  `json:"backoff_ms"`
	EnqueuedAt  int64  `json:"enqueued_at"`
	Error       string `json:"error,omitempty"`
}

type RedisQueue struct {
	redisClient       *redis.Client
	keyPrefix         string
	groupName         string
	visibilityTimeout time.Duration
	blockTimeout      time.Duration
	now               func() time.Time
}

func NewRedisQueue(redisClient *redis.Client, cfg config.RedisConfig) *RedisQueue {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "harvester:"
	}
	group := cfg.ConsumerGroup
	if group == "" {
		group = "harvester"
	}
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	block := cfg.BlockTimeout
	if block <= 0 {
		block = 5 * time.Second
	}

	return &RedisQueue{
		redisClient:       redisClient,
		keyPrefix:         prefix + "queue:",
		groupName:         group,
		visibilityTimeout: visibility,
		blockTimeout:      block,
		now:               time.Now,
	}
}

func (q *RedisQueue) streamKey(queueName string) string {
	return q.keyPrefix + queueName + ":stream"
}

func (q *RedisQueue) delayedKey(queueName string) string {
	return q.keyPrefix + queueName + ":delayed"
}

func (q *RedisQueue) deadKey(queueName string) string {
	return q.keyPrefix + queueName + ":dead"
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, op, key, err)
}

// EnsureQueue creates the stream and its consumer group if they do not exist yet.
func (q *RedisQueue) EnsureQueue(ctx context.Context, queueName string) error {
	stream := q.streamKey(queueName)
	err := q.redisClient.XGroupCreateMkStream(ctx, stream, q.groupName, "0").Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		log.Debugf("Group %s already exists for stream %s", q.groupName, stream)
		return nil
	}
	if err != nil {
		return unavailable("create group", stream, err)
	}
	log.Infof("✅ Stream %s and consumer group %s ready", stream, q.groupName)
	return nil
}

func (q *RedisQueue) AddTask(ctx context.Context, queueName string, t task.Task, policy AttemptPolicy) (string, error) {
	taskValue, err := t.TaskValue()
	if err != nil {
		return "", fmt.Errorf("failed to serialize task: %w", err)
	}

	env := envelope{
		ID:          uuid.NewString(),
		TaskType:    t.TaskType(),
		TaskData:    string(taskValue),
		MaxAttempts: policy.MaxAttempts,
		BackoffMs:   policy.BackoffBase.Milliseconds(),
		EnqueuedAt:  q.now().UnixMilli(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to serialize job envelope: %w", err)
	}

	stream := q.streamKey(queueName)
	messageID, err := q.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"job": string(payload)},
	}).Result()
	if err != nil {
		return "", unavailable("xadd", stream, err)
	}

	log.Debugf("Added %s %s to stream %s with message ID: %s", env.TaskType, env.ID, stream, messageID)
	return env.ID, nil
}

// Lease hands out one job. Due retries are promoted first, then jobs whose
// previous lease outlived the visibility timeout are reclaimed, and only then
// new entries are read.
func (q *RedisQueue) Lease(ctx context.Context, queueName, consumer string) (*Job, error) {
	if err := q.promoteDue(ctx, queueName); err != nil {
		return nil, err
	}

	stream := q.streamKey(queueName)
	claimed, _, err := q.redisClient.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    q.groupName,
		Consumer: consumer,
		MinIdle:  q.visibilityTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("xautoclaim", stream, err)
	}
	if len(claimed) > 0 {
		log.Warnf("🔄 Reclaimed message %s from %s after lease expiry", claimed[0].ID, stream)
		return q.decode(ctx, queueName, claimed[0])
	}

	result, err := q.redisClient.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.groupName,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    q.blockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // No new messages
		}
		return nil, unavailable("xreadgroup", stream, err)
	}
	if len(result) == 0 || len(result[0].Messages) == 0 {
		return nil, nil // No new messages
	}

	return q.decode(ctx, queueName, result[0].Messages[0])
}

func (q *RedisQueue) promoteDue(ctx context.Context, queueName string) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	keys := []string{q.delayedKey(queueName), q.streamKey(queueName)}
	promoted, err := promoteScript.Run(ctx, q.redisClient, keys, now, promoteBatchSize).Int()
	if err != nil {
		return unavailable("promote", keys[0], err)
	}
	if promoted > 0 {
		log.Debugf("Promoted %d delayed jobs on %s", promoted, queueName)
	}
	return nil
}

func (q *RedisQueue) decode(ctx context.Context, queueName string, msg redis.XMessage) (*Job, error) {
	raw, ok := msg.Values["job"].(string)
	if !ok {
		// Entry without a payload (deleted or foreign).
		return nil, q.bury(ctx, queueName, msg.ID, fmt.Sprint(msg.Values), "message has no job payload")
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, q.bury(ctx, queueName, msg.ID, raw, fmt.Sprintf("failed to decode job: %v", err))
	}

	return &Job{
		ID:       env.ID,
		Queue:    queueName,
		TaskType: env.TaskType,
		Data:     []byte(env.TaskData),
		Attempts: env.Attempts,
		Policy: AttemptPolicy{
			MaxAttempts: env.MaxAttempts,
			BackoffBase: time.Duration(env.BackoffMs) * time.Millisecond,
		},
		EnqueuedAt: time.UnixMilli(env.EnqueuedAt),
		messageID:  msg.ID,
	}, nil
}

// bury moves an undecodable message to the dead list and removes it from the stream,
// so it is neither redelivered nor counted as waiting.
func (q *RedisQueue) bury(ctx context.Context, queueName, messageID, data, reason string) error {
	stream := q.streamKey(queueName)
	log.Warnf("⚠️ Dropping malformed message %s on %s: %s", messageID, queueName, reason)

	member, err := json.Marshal(DeadJob{
		ID:       messageID,
		Queue:    queueName,
		Data:     data,
		Error:    reason,
		FailedAt: q.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize malformed message %s: %w", messageID, err)
	}

	_, err = q.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.deadKey(queueName), string(member))
		pipe.XAck(ctx, stream, q.groupName, messageID)
		pipe.XDel(ctx, stream, messageID)
		return nil
	})
	if err != nil {
		return unavailable("bury", stream, err)
	}
	return nil
}

func (j *Job) envelope() envelope {
	return envelope{
		ID:          j.ID,
		TaskType:    j.TaskType,
		TaskData:    string(j.Data),
		Attempts:    j.Attempts,
		MaxAttempts: j.Policy.MaxAttempts,
		BackoffMs:   j.Policy.BackoffBase.Milliseconds(),
		EnqueuedAt:  j.EnqueuedAt.UnixMilli(),
	}
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	stream := q.streamKey(job.Queue)
	_, err := q.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, stream, q.groupName, job.messageID)
		pipe.XDel(ctx, stream, job.messageID)
		return nil
	})
	if err != nil {
		return unavailable("ack", stream, err)
	}
	return nil
}

// Fail records a failed run. The job moves to the delayed set with exponential
// backoff, or to the dead list once it has used up its attempts. The move and
// the removal from the stream happen in one transaction.
func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	job.Attempts++
	env := job.envelope()
	if cause != nil {
		env.Error = cause.Error()
	}

	stream := q.streamKey(job.Queue)
	dead := job.Attempts >= job.Policy.MaxAttempts

	var member []byte
	var err error
	if dead {
		member, err = json.Marshal(DeadJob{
			ID:       job.ID,
			Queue:    job.Queue,
			TaskType: job.TaskType,
			Data:     string(job.Data),
			Attempts: job.Attempts,
			Error:    env.Error,
			FailedAt: q.now(),
		})
	} else {
		member, err = json.Marshal(env)
	}
	if err != nil {
		return false, fmt.Errorf("failed to serialize failed job %s: %w", job.ID, err)
	}

	readyAt := q.now().Add(job.Policy.Backoff(job.Attempts))
	_, err = q.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if dead {
			pipe.LPush(ctx, q.deadKey(job.Queue), string(member))
		} else {
			pipe.ZAdd(ctx, q.delayedKey(job.Queue), redis.Z{
				Score:  float64(readyAt.UnixMilli()),
				Member: string(member),
			})
		}
		pipe.XAck(ctx, stream, q.groupName, job.messageID)
		pipe.XDel(ctx, stream, job.messageID)
		return nil
	})
	if err != nil {
		return false, unavailable("fail", stream, err)
	}

	if dead {
		log.Errorf("💀 Job %s on %s is dead after %d attempts: %v", job.ID, job.Queue, job.Attempts, cause)
	} else {
		log.Warnf("🔄 Job %s on %s failed (attempt %d/%d), retrying at %s: %v",
			job.ID, job.Queue, job.Attempts, job.Policy.MaxAttempts, readyAt.Format("15:04:05"), cause)
	}
	return dead, nil
}

// Depth reads all counters in one transaction so the snapshot is consistent.
func (q *RedisQueue) Depth(ctx context.Context, queueName string) (Depth, error) {
	stream := q.streamKey(queueName)

	var (
		lengthCmd  *redis.IntCmd
		pendingCmd *redis.XPendingCmd
		delayedCmd *redis.IntCmd
		deadCmd    *redis.IntCmd
	)
	_, err := q.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lengthCmd = pipe.XLen(ctx, stream)
		pendingCmd = pipe.XPending(ctx, stream, q.groupName)
		delayedCmd = pipe.ZCard(ctx, q.delayedKey(queueName))
		deadCmd = pipe.LLen(ctx, q.deadKey(queueName))
		return nil
	})
	if err != nil {
		return Depth{}, unavailable("depth", stream, err)
	}

	pending, err := pendingCmd.Result()
	if err != nil {
		return Depth{}, unavailable("xpending", stream, err)
	}

	// Acked entries are deleted, so the stream holds exactly the undelivered
	// and the in-flight entries.
	undelivered := lengthCmd.Val() - pending.Count
	if undelivered < 0 {
		undelivered = 0
	}

	return Depth{
		Waiting: undelivered + delayedCmd.Val(),
		Active:  pending.Count,
		Delayed: delayedCmd.Val(),
		Dead:    deadCmd.Val(),
	}, nil
}

// DeadJobs lists jobs that died at or after since, newest first.
func (q *RedisQueue) DeadJobs(ctx context.Context, queueName string, since time.Time) ([]DeadJob, error) {
	key := q.deadKey(queueName)
	entries, err := q.redisClient.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, unavailable("lrange", key, err)
	}

	jobs := make([]DeadJob, 0, len(entries))
	for _, entry := range entries {
		var dead DeadJob
		if err := json.Unmarshal([]byte(entry), &dead); err != nil {
			log.Warnf("⚠️ Skipping undecodable dead job on %s: %v", queueName, err)
			continue
		}
		if dead.FailedAt.Before(since) {
			continue
		}
		jobs = append(jobs, dead)
	}
	return jobs, nil
}

func (q *RedisQueue) Close() error {
	if q.redisClient != nil {
		return q.redisClient.Close()
	}
	return nil
}
