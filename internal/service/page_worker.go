package service

import (
	"context"
	"errors"
	"fmt"

	"homespark/harvester/internal/browser"
	"homespark/harvester/internal/domain"
	"homespark/harvester/internal/domain/task"
	"homespark/harvester/internal/extract"
	"homespark/harvester/internal/metrics"
	"homespark/harvester/internal/queue"

	log "github.com/sirupsen/logrus"
)

// pageHandler lists the item links on one index page and enqueues an item job per link.
func (s *Service) pageHandler(target domain.CrawlTarget, session *browser.SessionManager, rules extract.RuleSet) handler {
	return func(ctx context.Context, job *queue.Job) error {
		pageTask, err := task.UnmarshalTask[*task.PageTask](job.Data)
		if err != nil {
			return fmt.Errorf("failed to unmarshal page task data: %w", err)
		}
		logger := log.WithFields(log.Fields{"target": target.ID(), "page": pageTask.PageNumber})

		lastPage, ended, err := s.stateManager.EndOfResults(ctx, target.ID())
		if err != nil {
			return err
		}
		if ended && pageTask.PageNumber > lastPage {
			logger.Debugf("⏭️ Skipping page past end of results (%d)", lastPage)
			return nil
		}

		var links []string
		endOfResults := false
		err = session.Do(ctx, func(ctx context.Context, page browser.Page) error {
			if err := page.Navigate(ctx, pageTask.PageURL); err != nil {
				return err
			}
			if err := browser.AutoScroll(ctx, page); err != nil {
				return err
			}
			found, err := rules.ListItemLinks(ctx, page, pageTask.PageURL)
			if errors.Is(err, extract.ErrEndOfResults) {
				endOfResults = true
				return nil
			}
			links = found
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to list items on %s: %w", pageTask.PageURL, err)
		}

		if endOfResults {
			logger.Infof("🏁 No listings on %s, marking end of results", pageTask.PageURL)
			s.metrics.JobsProcessedTotal.WithLabelValues(target.ID(), "page", metrics.OutcomeEndOfResults).Inc()
			return s.stateManager.MarkEndOfResults(ctx, target.ID(), pageTask.PageNumber)
		}

		policy := s.attemptPolicy()
		for _, link := range links {
			_, err := s.queue.AddTask(ctx, target.ItemQueue(), &task.ItemTask{
				TargetID: target.ID(),
				Link:     link,
			}, policy)
			if err != nil {
				return fmt.Errorf("failed to add item task for %s: %w", link, err)
			}
		}
		s.metrics.ItemsEnqueuedTotal.WithLabelValues(target.ID()).Add(float64(len(links)))

		logger.Infof("📥 Queued %d listings from %s", len(links), pageTask.PageURL)
		return nil
	}
}
