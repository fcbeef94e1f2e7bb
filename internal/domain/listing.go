package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RawFields is what a site rule set extracts from a detail page.
type RawFields struct {
	Price           int64             `json:"price"`
	Location        string            `json:"location"`
	Floor           string            `json:"floor"`
	ContactNumber   string            `json:"contact_number"`
	Photos          []string          `json:"photos"`
	Characteristics map[string]string `json:"characteristics"`
	Description     string            `json:"description"`
}

// ListingRecord is the stored form of a listing, keyed by Link.
type ListingRecord struct {
	Link            string            `json:"link" bson:"link"`
	Site            Site              `json:"site" bson:"site"`
	ListingType     ListingType       `json:"listing_type" bson:"listing_type"`
	Price           int64             `json:"price" bson:"price"`
	Location        string            `json:"location" bson:"location"`
	Floor           string            `json:"floor" bson:"floor"`
	ContactNumber   string            `json:"contact_number" bson:"contact_number"`
	Photos          []string          `json:"photos" bson:"photos"`
	Characteristics map[string]string `json:"characteristics" bson:"characteristics"`
	Description     string            `json:"description" bson:"description"`
	LastCheckedAt   time.Time         `json:"last_checked_at" bson:"last_checked_at"`
}

func NewListingRecord(link string, target CrawlTarget, raw *RawFields, checkedAt time.Time) *ListingRecord {
	photos := raw.Photos
	if photos == nil {
		photos = []string{}
	}
	characteristics := raw.Characteristics
	if characteristics == nil {
		characteristics = map[string]string{}
	}

	return &ListingRecord{
		Link:            link,
		Site:            target.Site,
		ListingType:     target.ListingType,
		Price:           raw.Price,
		Location:        raw.Location,
		Floor:           raw.Floor,
		ContactNumber:   raw.ContactNumber,
		Photos:          photos,
		Characteristics: characteristics,
		Description:     raw.Description,
		LastCheckedAt:   checkedAt,
	}
}

// CharacteristicLines renders characteristics as sorted "key: value" lines.
func (r *ListingRecord) CharacteristicLines() []string {
	lines := make([]string, 0, len(r.Characteristics))
	for key, value := range r.Characteristics {
		lines = append(lines, fmt.Sprintf("%s: %s", key, value))
	}
	sort.Strings(lines)
	return lines
}

// EmbeddingText is the text the similarity index embeds for this listing.
func (r *ListingRecord) EmbeddingText() string {
	parts := []string{
		r.Description,
		fmt.Sprintf("%d", r.Price),
		r.Location,
		r.Floor,
		strings.Join(r.CharacteristicLines(), "; "),
	}
	return strings.Join(parts, "\n")
}
