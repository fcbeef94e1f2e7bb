package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"homespark/harvester/internal/browser"
	"homespark/harvester/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrEndOfResults means an index page listed no items: the site has no more pages.
	ErrEndOfResults = errors.New("end of results")
	ErrUnknownSite  = errors.New("no rule set for site")
)

// RuleSet reads one site's markup. The caller has already navigated the page.
type RuleSet interface {
	Site() domain.Site
	// ListItemLinks returns absolute detail links, or ErrEndOfResults when the page lists none.
	ListItemLinks(ctx context.Context, page browser.Page, pageURL string) ([]string, error)
	// ExtractRecord fails rather than return a record with a required field missing.
	ExtractRecord(ctx context.Context, page browser.Page, link string) (*domain.RawFields, error)
}

type Registry interface {
	ForSite(site domain.Site) (RuleSet, error)
}

type registry map[domain.Site]RuleSet

func NewRegistry(rules ...RuleSet) Registry {
	r := make(registry, len(rules))
	for _, rule := range rules {
		r[rule.Site()] = rule
	}
	return r
}

// DefaultRegistry holds a rule set for every supported site.
func DefaultRegistry(waitTimeout time.Duration) Registry {
	return NewRegistry(
		NewEtagiRules(waitTimeout),
		NewKrishaRules(waitTimeout),
		NewKNRules(waitTimeout),
	)
}

func (r registry) ForSite(site domain.Site) (RuleSet, error) {
	rule, ok := r[site]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, site)
	}
	return rule, nil
}

// MissingFieldError reports a required field that was not on the page.
type MissingFieldError struct {
	Field    string
	Selector string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("required field %s not found (%s)", e.Field, e.Selector)
}

func requireText(doc *goquery.Document, field, selector string) (string, error) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", &MissingFieldError{Field: field, Selector: selector}
	}
	return cleanText(sel.Text()), nil
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	digitsRe     = regexp.MustCompile(`\d+`)
)

// cleanText flattens line breaks and runs of spaces.
func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// ParsePrice reads a price such as "45 000 000 〒" or "от 120 000 ₸/мес".
func ParsePrice(s string) (int64, error) {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\t', '\n', '\r', '₸', '〒':
			return -1
		}
		return r
	}, s)

	digits := compact
	if i := strings.IndexFunc(compact, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits = compact[:i]
	}
	if digits == "" {
		digits = strings.Join(digitsRe.FindAllString(compact, -1), "")
	}
	if digits == "" {
		return 0, fmt.Errorf("no price in %q", s)
	}

	price, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return price, nil
}

func priceFrom(doc *goquery.Document, selectors ...string) (int64, error) {
	for _, selector := range selectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		return ParsePrice(sel.Text())
	}
	return 0, &MissingFieldError{Field: "price", Selector: strings.Join(selectors, ", ")}
}

// collectLinks resolves every href under selector against base, dropping duplicates.
func collectLinks(doc *goquery.Document, selector, base string) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %q: %w", base, err)
	}

	seen := make(map[string]bool)
	links := make([]string, 0)
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		link := baseURL.ResolveReference(ref).String()
		if seen[link] {
			return
		}
		seen[link] = true
		links = append(links, link)
	})
	return links, nil
}

// pairs reads key/value pairs from rows, skipping rows missing either side.
func pairs(doc *goquery.Document, rowSelector, keySelector, valueSelector string) map[string]string {
	result := make(map[string]string)
	doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		key := cleanText(row.Find(keySelector).First().Text())
		value := cleanText(row.Find(valueSelector).First().Text())
		if key != "" && value != "" {
			result[key] = value
		}
	})
	return result
}
