package repository

import (
	"context"
	"time"

	"homespark/harvester/internal/domain"
)

// ListingRepository is the listing store. Upsert is keyed on the listing link.
type ListingRepository interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, record *domain.ListingRecord) error
	// DeleteStale removes the target's listings last checked before cutoff and reports how many went.
	DeleteStale(ctx context.Context, site domain.Site, listingType domain.ListingType, cutoff time.Time) (int64, error)
}
