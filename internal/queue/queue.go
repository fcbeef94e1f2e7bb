package queue

import (
	"context"
	"errors"
	"time"

	"homespark/harvester/internal/domain/task"
)

// ErrUnavailable wraps every broker failure. Callers must not retry these in-process.
var ErrUnavailable = errors.New("queue broker unavailable")

type Queue interface {
	EnsureQueue(ctx context.Context, queueName string) error
	AddTask(ctx context.Context, queueName string, t task.Task, policy AttemptPolicy) (string, error) // Returns job ID
	Lease(ctx context.Context, queueName, consumer string) (*Job, error)                                // nil when nothing is ready
	Ack(ctx context.Context, job *Job) error
	Fail(ctx context.Context, job *Job, cause error) (bool, error) // true when the job was marked dead
	Depth(ctx context.Context, queueName string) (Depth, error)
	DeadJobs(ctx context.Context, queueName string, since time.Time) ([]DeadJob, error)
}

// AttemptPolicy bounds how often a job runs and how long it waits between runs.
type AttemptPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BackoffBase time.Duration `json:"backoff_base"`
}

func DefaultAttemptPolicy() AttemptPolicy {
	return AttemptPolicy{
		MaxAttempts: 3,
		BackoffBase: 5 * time.Second,
	}
}

// Backoff returns the delay before the next run after attemptsMade failed runs.
func (p AttemptPolicy) Backoff(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	return p.BackoffBase * time.Duration(1<<(attemptsMade-1))
}

// Job is a leased unit of work.
type Job struct {
	ID         string
	Queue      string
	TaskType   string
	Data       []byte
	Attempts   int // failed runs so far
	Policy     AttemptPolicy
	EnqueuedAt time.Time

	messageID string
}

type DeadJob struct {
	ID       string    `json:"id"`
	Queue    string    `json:"queue"`
	TaskType string    `json:"task_type"`
	Data     string    `json:"data"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Depth is a queue snapshot. Waiting includes jobs sitting out a retry backoff.
type Depth struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Dead    int64 `json:"dead"`
}

func (d Depth) Drained() bool {
	return d.Waiting == 0 && d.Active == 0
}
