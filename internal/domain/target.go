package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// PagePlaceholder is substituted with the page number in a target's index URL template.
const PagePlaceholder = "{page}"

// CrawlTarget is one (site, listing type) crawl configuration.
type CrawlTarget struct {
	Site             Site        `json:"site"`
	ListingType      ListingType `json:"listing_type"`
	IndexURLTemplate string      `json:"index_url_template"`
	PageLimit        int         `json:"page_limit"`
}

// ID returns the target identifier, e.g. "etagi/buy".
func (t CrawlTarget) ID() string {
	return t.Site.String() + "/" + t.ListingType.String()
}

func (t CrawlTarget) String() string {
	return t.ID()
}

// PageURL renders the listing index URL for the given page number.
func (t CrawlTarget) PageURL(pageNumber int) string {
	return strings.ReplaceAll(t.IndexURLTemplate, PagePlaceholder, strconv.Itoa(pageNumber))
}

// PageQueue is the name of the target's page queue.
func (t CrawlTarget) PageQueue() string {
	return "page:" + t.Site.String() + ":" + t.ListingType.String()
}

// ItemQueue is the name of the target's item queue.
func (t CrawlTarget) ItemQueue() string {
	return "item:" + t.Site.String() + ":" + t.ListingType.String()
}

func (t CrawlTarget) Validate() error {
	if _, err := ParseSite(t.Site.String()); err != nil {
		return err
	}
	if _, err := ParseListingType(t.ListingType.String()); err != nil {
		return err
	}
	if !strings.Contains(t.IndexURLTemplate, PagePlaceholder) {
		return fmt.Errorf("target %s: url template %q has no %s placeholder", t.ID(), t.IndexURLTemplate, PagePlaceholder)
	}
	if t.PageLimit <= 0 {
		return fmt.Errorf("target %s: page limit must be a positive integer, got %d", t.ID(), t.PageLimit)
	}
	return nil
}

// ParseTargetID splits "site/type" into its parts.
func ParseTargetID(id string) (Site, ListingType, error) {
	siteName, typeName, ok := strings.Cut(id, "/")
	if !ok {
		return "", "", fmt.Errorf("invalid target id %q, expected site/type", id)
	}
	site, err := ParseSite(siteName)
	if err != nil {
		return "", "", err
	}
	listingType, err := ParseListingType(typeName)
	if err != nil {
		return "", "", err
	}
	return site, listingType, nil
}
