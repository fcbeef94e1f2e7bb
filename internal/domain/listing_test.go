package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrawlTarget_PageURLAndQueues(t *testing.T) {
	target := CrawlTarget{
		Site:             SiteEtagi,
		ListingType:      ListingTypeBuy,
		IndexURLTemplate: "https://almaty.etagi.com/realty/?page={page}",
		PageLimit:        2,
	}

	assert.Equal(t, "etagi/buy", target.ID())
	assert.Equal(t, "https://almaty.etagi.com/realty/?page=7", target.PageURL(7))
	assert.Equal(t, "page:etagi:buy", target.PageQueue())
	assert.Equal(t, "item:etagi:buy", target.ItemQueue())
	require.NoError(t, target.Validate())
}

func TestCrawlTarget_Validate(t *testing.T) {
	base := CrawlTarget{Site: SiteKrisha, ListingType: ListingTypeDaily, IndexURLTemplate: "https://krisha.kz/?page={page}", PageLimit: 1}

	noLimit := base
	noLimit.PageLimit = 0
	assert.ErrorContains(t, noLimit.Validate(), "page limit")

	noPlaceholder := base
	noPlaceholder.IndexURLTemplate = "https://krisha.kz/"
	assert.ErrorContains(t, noPlaceholder.Validate(), "placeholder")

	unknownSite := base
	unknownSite.Site = "olx"
	assert.Error(t, unknownSite.Validate())
}

func TestParseTargetID(t *testing.T) {
	site, listingType, err := ParseTargetID("kn/daily")
	require.NoError(t, err)
	assert.Equal(t, SiteKN, site)
	assert.Equal(t, ListingTypeDaily, listingType)

	_, _, err = ParseTargetID("kn")
	assert.Error(t, err)
	_, _, err = ParseTargetID("kn/weekly")
	assert.Error(t, err)
}

func TestNewListingRecord(t *testing.T) {
	checkedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	target := CrawlTarget{Site: SiteKrisha, ListingType: ListingTypeBuy}
	raw := &RawFields{
		Price:           45000000,
		Location:        "Бостандыкский р-н",
		Floor:           "2-комнатная квартира, 60 м², 5/9 этаж",
		Characteristics: map[string]string{"Тип дома": "кирпичный", "Год постройки": "2010"},
		Description:     "Светлая квартира",
	}

	record := NewListingRecord("https://krisha.kz/a/show/1", target, raw, checkedAt)

	assert.Equal(t, SiteKrisha, record.Site)
	assert.Equal(t, ListingTypeBuy, record.ListingType)
	assert.Equal(t, checkedAt, record.LastCheckedAt)
	assert.NotNil(t, record.Photos)
	assert.Equal(t, []string{"Год постройки: 2010", "Тип дома: кирпичный"}, record.CharacteristicLines())

	text := record.EmbeddingText()
	assert.Contains(t, text, "Светлая квартира")
	assert.Contains(t, text, "45000000")
	assert.Contains(t, text, "5/9 этаж")
	assert.Contains(t, text, "Тип дома: кирпичный")
}
