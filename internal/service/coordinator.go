package service

import (
	"context"
	"fmt"

	"homespark/harvester/internal/domain"
	"homespark/harvester/internal/domain/task"

	log "github.com/sirupsen/logrus"
)

// Enumerate enqueues page jobs 1..PageLimit for one cycle. It never fetches pages itself;
// it stops early once a page worker has reported the end of results.
func (s *Service) Enumerate(ctx context.Context, target domain.CrawlTarget) (int, error) {
	if target.PageLimit <= 0 {
		return 0, fmt.Errorf("target %s: page limit must be a positive integer, got %d", target.ID(), target.PageLimit)
	}

	logger := log.WithField("target", target.ID())
	policy := s.attemptPolicy()
	enqueued := 0

	for pageNumber := 1; pageNumber <= target.PageLimit; pageNumber++ {
		lastPage, ended, err := s.stateManager.EndOfResults(ctx, target.ID())
		if err != nil {
			return enqueued, err
		}
		if ended && pageNumber > lastPage {
			logger.Infof("🏁 End of results at page %d, not enqueuing pages %d-%d", lastPage, pageNumber, target.PageLimit)
			break
		}

		_, err = s.queue.AddTask(ctx, target.PageQueue(), &task.PageTask{
			TargetID:   target.ID(),
			PageURL:    target.PageURL(pageNumber),
			PageNumber: pageNumber,
		}, policy)
		if err != nil {
			logger.Errorf("❌ Failed to add page task %d: %v", pageNumber, err)
			return enqueued, err
		}
		enqueued++
		s.metrics.PagesEnqueuedTotal.WithLabelValues(target.ID()).Inc()

		if pageNumber < target.PageLimit {
			if err := s.sleep(ctx, s.jitter(s.settings.EnqueueDelayMin, s.settings.EnqueueDelayMax)); err != nil {
				return enqueued, err
			}
		}
	}

	logger.Infof("📄 Enqueued %d page jobs", enqueued)
	return enqueued, nil
}
