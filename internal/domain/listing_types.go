package domain

import "fmt"

type ListingType string

func (t ListingType) String() string {
	return string(t)
}

const (
	ListingTypeBuy   ListingType = "buy"   // Sale listings
	ListingTypeRent  ListingType = "rent"  // Long-term rentals
	ListingTypeDaily ListingType = "daily" // Daily rentals
)

var ListingTypes = []ListingType{
	ListingTypeBuy,
	ListingTypeRent,
	ListingTypeDaily,
}

func (t ListingType) GetDisplayName() string {
	switch t {
	case ListingTypeBuy:
		return "Sale"
	case ListingTypeRent:
		return "Rent"
	case ListingTypeDaily:
		return "Daily rent"
	default:
		return "Unknown"
	}
}

func ParseListingType(s string) (ListingType, error) {
	for _, t := range ListingTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown listing type %q", s)
}

// Site identifies an upstream listing site. Each site has its own extraction rule set.
type Site string

func (s Site) String() string {
	return string(s)
}

const (
	SiteEtagi  Site = "etagi"  // almaty.etagi.com
	SiteKrisha Site = "krisha" // krisha.kz
	SiteKN     Site = "kn"     // kn.kz
)

var Sites = []Site{
	SiteEtagi,
	SiteKrisha,
	SiteKN,
}

func ParseSite(s string) (Site, error) {
	for _, site := range Sites {
		if string(site) == s {
			return site, nil
		}
	}
	return "", fmt.Errorf("unknown site %q", s)
}
