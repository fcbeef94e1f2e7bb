package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"homespark/harvester/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the part of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type listingRepository struct {
	db DB
}

func NewListingRepository(db DB) ListingRepository {
	return &listingRepository{
		db: db,
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		link            TEXT PRIMARY KEY,
		site            TEXT NOT NULL,
		listing_type    TEXT NOT NULL,
		price           BIGINT NOT NULL,
		location        TEXT NOT NULL,
		floor           TEXT NOT NULL,
		contact_number  TEXT NOT NULL,
		photos          JSONB NOT NULL DEFAULT '[]',
		characteristics JSONB NOT NULL DEFAULT '{}',
		description     TEXT NOT NULL,
		last_checked_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS listings_site_type_checked_idx
		ON listings (site, listing_type, last_checked_at)`,
}

func (r *listingRepository) EnsureSchema(ctx context.Context) error {
	for _, statement := range schema {
		if _, err := r.db.Exec(ctx, statement); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (r *listingRepository) Upsert(ctx context.Context, record *domain.ListingRecord) error {
	photos, err := json.Marshal(record.Photos)
	if err != nil {
		return fmt.Errorf("failed to encode photos: %w", err)
	}
	characteristics, err := json.Marshal(record.Characteristics)
	if err != nil {
		return fmt.Errorf("failed to encode characteristics: %w", err)
	}

	query := `
	INSERT INTO listings (link, site, listing_type, price, location, floor, contact_number, photos, characteristics, description, last_checked_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (link)
	DO UPDATE SET site = $2, listing_type = $3, price = $4, location = $5, floor = $6, contact_number = $7,
		photos = $8, characteristics = $9, description = $10, last_checked_at = $11`
	_, err = r.db.Exec(ctx, query,
		record.Link,
		record.Site.String(),
		record.ListingType.String(),
		record.Price,
		record.Location,
		record.Floor,
		record.ContactNumber,
		string(photos),
		string(characteristics),
		record.Description,
		record.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save listing %s: %w", record.Link, err)
	}

	return nil
}

func (r *listingRepository) DeleteStale(ctx context.Context, site domain.Site, listingType domain.ListingType, cutoff time.Time) (int64, error) {
	query := `DELETE FROM listings WHERE site = $1 AND listing_type = $2 AND last_checked_at < $3`
	tag, err := r.db.Exec(ctx, query, site.String(), listingType.String(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale listings for %s/%s: %w", site, listingType, err)
	}
	return tag.RowsAffected(), nil
}
