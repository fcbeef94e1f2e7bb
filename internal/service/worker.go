package service

import (
	"context"
	"errors"
	"fmt"

	"homespark/harvester/internal/metrics"
	"homespark/harvester/internal/queue"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type handler func(ctx context.Context, job *queue.Job) error

// consume processes jobs from queueName one at a time until ctx is done. It returns
// an error only when the broker fails, which ends the cycle.
func (s *Service) consume(ctx context.Context, targetID, kind, queueName string, handle handler) error {
	consumer := fmt.Sprintf("%s-worker-%s", kind, uuid.NewString())
	logger := log.WithFields(log.Fields{"target": targetID, "queue": queueName})
	logger.Infof("🚀 Starting %s worker as consumer %s", kind, consumer)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("🛑 %s worker stopping", kind)
			return nil
		default:
		}

		job, err := s.queue.Lease(ctx, queueName, consumer)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Errorf("❌ Failed to get task from %s: %v", queueName, err)
			return err
		}
		if job == nil {
			continue
		}

		if err := s.process(ctx, targetID, kind, job, handle); err != nil {
			return err
		}
	}
}

func (s *Service) process(ctx context.Context, targetID, kind string, job *queue.Job, handle handler) error {
	logger := log.WithFields(log.Fields{"target": targetID, "job": job.ID, "attempt": job.Attempts + 1})

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.settings.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, s.settings.JobTimeout)
	}
	started := s.now()
	err := handle(jobCtx, job)
	cancel()
	s.metrics.JobDurationSeconds.WithLabelValues(targetID, kind).Observe(s.now().Sub(started).Seconds())

	if err == nil {
		if ackErr := s.queue.Ack(ctx, job); ackErr != nil {
			return fmt.Errorf("failed to ack job %s: %w", job.ID, ackErr)
		}
		s.metrics.JobsProcessedTotal.WithLabelValues(targetID, kind, metrics.OutcomeCompleted).Inc()
		return nil
	}

	if errors.Is(err, queue.ErrUnavailable) {
		logger.Errorf("❌ Broker failed while processing %s job: %v", kind, err)
		return err
	}

	dead, failErr := s.queue.Fail(ctx, job, err)
	if failErr != nil {
		return fmt.Errorf("failed to record failure of job %s: %w", job.ID, failErr)
	}
	if dead {
		logger.Errorf("💀 %s job failed permanently after %d attempts: %v", kind, job.Attempts, err)
		s.metrics.JobsProcessedTotal.WithLabelValues(targetID, kind, metrics.OutcomeDead).Inc()
	} else {
		logger.Warnf("🔄 %s job failed, will retry: %v", kind, err)
		s.metrics.JobsProcessedTotal.WithLabelValues(targetID, kind, metrics.OutcomeRetried).Inc()
	}
	return nil
}
