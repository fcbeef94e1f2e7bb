package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homespark/harvester/internal/domain"
	"homespark/harvester/internal/index"

	log "github.com/sirupsen/logrus"
)

type Eviction struct {
	StoreDeleted int64
	IndexDeleted int
}

// Reconcile removes the target's listings that were not refreshed since cutoff from both
// the store and the index. One backend failing does not stop the other.
func (s *Service) Reconcile(ctx context.Context, target domain.CrawlTarget, cutoff time.Time) (Eviction, error) {
	var eviction Eviction
	logger := log.WithField("target", target.ID())

	deleted, storeErr := s.repository.DeleteStale(ctx, target.Site, target.ListingType, cutoff)
	if storeErr != nil {
		logger.Errorf("❌ Failed to evict stale listings from store: %v", storeErr)
	} else {
		eviction.StoreDeleted = deleted
		s.metrics.ListingsEvicted.WithLabelValues(target.ID(), "store").Add(float64(deleted))
	}

	indexErr := s.evictFromIndex(ctx, target, cutoff, &eviction)
	if indexErr != nil {
		logger.Errorf("❌ Failed to evict stale listings from index: %v", indexErr)
	}

	if err := errors.Join(storeErr, indexErr); err != nil {
		return eviction, err
	}

	logger.Infof("🧹 Evicted %d store rows and %d index entries checked before %s",
		eviction.StoreDeleted, eviction.IndexDeleted, cutoff.Format(time.RFC3339))
	return eviction, nil
}

func (s *Service) evictFromIndex(ctx context.Context, target domain.CrawlTarget, cutoff time.Time, eviction *Eviction) error {
	ids, err := s.index.Query(ctx, index.Filter{
		Site:          target.Site,
		ListingType:   target.ListingType,
		CheckedBefore: cutoff,
	})
	if err != nil {
		return fmt.Errorf("failed to query stale entries: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.index.DeleteMany(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete %d stale entries: %w", len(ids), err)
	}

	eviction.IndexDeleted = len(ids)
	s.metrics.ListingsEvicted.WithLabelValues(target.ID(), "index").Add(float64(len(ids)))
	return nil
}
