package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateManager keeps per-target cycle bookkeeping that workers and the
// coordinator share through the broker rather than through process memory.
type StateManager interface {
	BeginCycle(ctx context.Context, targetID string, startedAt time.Time) error
	CycleStart(ctx context.Context, targetID string) (time.Time, bool, error)
	FinishCycle(ctx context.Context, targetID string, finishedAt time.Time) error
	LastFinished(ctx context.Context, targetID string) (time.Time, bool, error)
	MarkEndOfResults(ctx context.Context, targetID string, pageNumber int) error
	EndOfResults(ctx context.Context, targetID string) (int, bool, error)
}

type redisStateManager struct {
	redisClient *redis.Client
	keyPrefix   string
}

func NewRedisStateManager(redisClient *redis.Client, prefix string) StateManager {
	return &redisStateManager{
		redisClient: redisClient,
		keyPrefix:   prefix + "cycle:",
	}
}

func (s *redisStateManager) key(targetID, name string) string {
	return s.keyPrefix + targetID + ":" + name
}

// BeginCycle records the cycle start and clears the previous cycle's end-of-results marker.
func (s *redisStateManager) BeginCycle(ctx context.Context, targetID string, startedAt time.Time) error {
	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(targetID, "started_at"), startedAt.UnixMilli(), 0)
		pipe.Del(ctx, s.key(targetID, "end_of_results"))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to begin cycle for %s: %w", targetID, err)
	}
	return nil
}

func (s *redisStateManager) CycleStart(ctx context.Context, targetID string) (time.Time, bool, error) {
	return s.getTime(ctx, s.key(targetID, "started_at"))
}

func (s *redisStateManager) FinishCycle(ctx context.Context, targetID string, finishedAt time.Time) error {
	err := s.redisClient.Set(ctx, s.key(targetID, "finished_at"), finishedAt.UnixMilli(), 0).Err()
	if err != nil {
		return fmt.Errorf("failed to finish cycle for %s: %w", targetID, err)
	}
	return nil
}

func (s *redisStateManager) LastFinished(ctx context.Context, targetID string) (time.Time, bool, error) {
	return s.getTime(ctx, s.key(targetID, "finished_at"))
}

func (s *redisStateManager) getTime(ctx context.Context, key string) (time.Time, bool, error) {
	val, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return time.UnixMilli(ms), true, nil
}

// MarkEndOfResults records that pageNumber came back empty. The lowest empty page wins.
func (s *redisStateManager) MarkEndOfResults(ctx context.Context, targetID string, pageNumber int) error {
	err := s.redisClient.ZAdd(ctx, s.key(targetID, "end_of_results"), redis.Z{
		Score:  float64(pageNumber),
		Member: strconv.Itoa(pageNumber),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to mark end of results for %s at page %d: %w", targetID, pageNumber, err)
	}
	return nil
}

func (s *redisStateManager) EndOfResults(ctx context.Context, targetID string) (int, bool, error) {
	entries, err := s.redisClient.ZRangeWithScores(ctx, s.key(targetID, "end_of_results"), 0, 0).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read end of results for %s: %w", targetID, err)
	}
	if len(entries) == 0 {
		return 0, false, nil
	}
	return int(entries[0].Score), true, nil
}
