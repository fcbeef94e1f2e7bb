package index

import (
	"context"
	"errors"
	"time"

	"homespark/harvester/internal/domain"
)

var ErrUnavailable = errors.New("similarity index unavailable")

// Metadata is stored next to the vector and is what staleness queries filter on.
type Metadata struct {
	Link            string    `json:"link"`
	Price           int64     `json:"price"`
	Location        string    `json:"location"`
	Floor           string    `json:"floor"`
	Characteristics []string  `json:"characteristics"`
	Description     string    `json:"description"`
	Site            string    `json:"site"`
	Type            string    `json:"type"`
	LastChecked     time.Time `json:"last_checked"`
}

// Entry is one listing in the similarity index, identified by its link.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

func NewEntry(record *domain.ListingRecord, vector []float32) Entry {
	return Entry{
		ID:     record.Link,
		Vector: vector,
		Metadata: Metadata{
			Link:            record.Link,
			Price:           record.Price,
			Location:        record.Location,
			Floor:           record.Floor,
			Characteristics: record.CharacteristicLines(),
			Description:     record.Description,
			Site:            record.Site.String(),
			Type:            record.ListingType.String(),
			LastChecked:     record.LastCheckedAt,
		},
	}
}

// Filter selects entries of one target last checked before CheckedBefore.
type Filter struct {
	Site          domain.Site
	ListingType   domain.ListingType
	CheckedBefore time.Time
}

type Index interface {
	Upsert(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) ([]string, error)
	DeleteMany(ctx context.Context, ids []string) error
}
