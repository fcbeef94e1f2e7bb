package service

import (
	"context"
	"fmt"
	"time"

	"homespark/harvester/internal/browser"
	"homespark/harvester/internal/domain"
	"homespark/harvester/internal/domain/task"
	"homespark/harvester/internal/extract"
	"homespark/harvester/internal/index"
	"homespark/harvester/internal/queue"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// itemHandler extracts one listing, upserts it into the store and indexes its embedding.
func (s *Service) itemHandler(target domain.CrawlTarget, session *browser.SessionManager, rules extract.RuleSet) handler {
	return func(ctx context.Context, job *queue.Job) error {
		itemTask, err := task.UnmarshalTask[*task.ItemTask](job.Data)
		if err != nil {
			return fmt.Errorf("failed to unmarshal item task data: %w", err)
		}

		var raw *domain.RawFields
		err = session.Do(ctx, func(ctx context.Context, page browser.Page) error {
			if err := page.Navigate(ctx, itemTask.Link); err != nil {
				return err
			}
			raw, err = rules.ExtractRecord(ctx, page, itemTask.Link)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", itemTask.Link, err)
		}

		record := domain.NewListingRecord(itemTask.Link, target, raw, s.now())

		if err := s.retry(ctx, "store upsert", itemTask.Link, func() error {
			return s.repository.Upsert(ctx, record)
		}); err != nil {
			return err
		}

		var vector []float32
		if err := s.retry(ctx, "embedding", itemTask.Link, func() error {
			vector, err = s.embedder.Embed(ctx, record.EmbeddingText())
			return err
		}); err != nil {
			return err
		}

		if err := s.retry(ctx, "index upsert", itemTask.Link, func() error {
			return s.index.Upsert(ctx, index.NewEntry(record, vector))
		}); err != nil {
			return err
		}

		s.metrics.ListingsSavedTotal.WithLabelValues(target.ID()).Inc()
		log.WithField("target", target.ID()).Debugf("💾 Saved listing %s", itemTask.Link)
		return nil
	}
}

// retry runs fn up to StoreRetries times, StoreRetryDelay apart, inside the current attempt.
func (s *Service) retry(ctx context.Context, operation, link string, fn func() error) error {
	tries := s.settings.StoreRetries
	if tries < 1 {
		tries = 1
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.settings.StoreRetryDelay), uint64(tries-1)),
		ctx,
	)
	err := backoff.RetryNotify(fn, policy, func(err error, wait time.Duration) {
		log.WithField("link", link).Warnf("🔁 %s failed, retrying in %s: %v", operation, wait, err)
	})
	if err != nil {
		return fmt.Errorf("%s failed for %s: %w", operation, link, err)
	}
	return nil
}
