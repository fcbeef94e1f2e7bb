package repository

import (
	"context"
	"fmt"
	"time"

	"homespark/harvester/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const listingsCollection = "listings"

type mongoListingRepository struct {
	collection *mongo.Collection
}

func NewMongoListingRepository(db *mongo.Database) ListingRepository {
	return &mongoListingRepository{
		collection: db.Collection(listingsCollection),
	}
}

func (r *mongoListingRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "link", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "site", Value: 1},
				{Key: "listing_type", Value: 1},
				{Key: "last_checked_at", Value: 1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("could not create listing indexes: %w", err)
	}
	return nil
}

func (r *mongoListingRepository) Upsert(ctx context.Context, record *domain.ListingRecord) error {
	_, err := r.collection.ReplaceOne(ctx,
		bson.D{{Key: "link", Value: record.Link}},
		record,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save listing %s: %w", record.Link, err)
	}
	return nil
}

func (r *mongoListingRepository) DeleteStale(ctx context.Context, site domain.Site, listingType domain.ListingType, cutoff time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.D{
		{Key: "site", Value: site.String()},
		{Key: "listing_type", Value: listingType.String()},
		{Key: "last_checked_at", Value: bson.D{{Key: "$lt", Value: cutoff}}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale listings for %s/%s: %w", site, listingType, err)
	}
	return res.DeletedCount, nil
}
