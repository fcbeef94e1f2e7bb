package extract

import (
	"context"
	"strings"
	"time"

	"homespark/harvester/internal/browser"
	"homespark/harvester/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	knBaseURL         = "https://www.kn.kz"
	knLinkSelector    = "a.results-item-street"
	knDescription     = "p.description-text"
	knCharacteristics = "table tbody tr"
	knPrice           = "span.price"
	knTitle           = "div.col-content.title h1"
	knAddress         = "div.address"
	knPhoto           = `div.image-preview-list a[rel="object-image"]`
	knPhone           = "span.js-all-phones-view.block-all-phones-view span.con-pers__phone"
)

type knRules struct {
	waitTimeout time.Duration
}

func NewKNRules(waitTimeout time.Duration) RuleSet {
	return &knRules{waitTimeout: waitTimeout}
}

func (r *knRules) Site() domain.Site {
	return domain.SiteKN
}

func (r *knRules) ListItemLinks(ctx context.Context, page browser.Page, pageURL string) ([]string, error) {
	doc, err := browser.Document(ctx, page)
	if err != nil {
		return nil, err
	}
	links, err := collectLinks(doc, knLinkSelector, pageURL)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, ErrEndOfResults
	}
	return links, nil
}

func (r *knRules) ExtractRecord(ctx context.Context, page browser.Page, link string) (*domain.RawFields, error) {
	if err := page.WaitFor(ctx, knTitle, r.waitTimeout); err != nil {
		return nil, err
	}

	doc, err := browser.Document(ctx, page)
	if err != nil {
		return nil, err
	}

	price, err := priceFrom(doc, knPrice)
	if err != nil {
		return nil, err
	}

	title, err := requireText(doc, "title", knTitle)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(title, ",")
	floor := strings.TrimSpace(strings.Join(parts[:min(2, len(parts))], ","))
	street := ""
	if len(parts) > 3 {
		street = strings.TrimSpace(parts[3])
	}

	address := doc.Find(knAddress).First()
	if address.Length() == 0 {
		return nil, &MissingFieldError{Field: "location", Selector: knAddress}
	}
	location := ownText(address) + ", " + street

	photos := make([]string, 0)
	doc.Find(knPhoto).Each(func(_ int, s *goquery.Selection) {
		if href := strings.TrimSpace(s.AttrOr("href", "")); href != "" {
			photos = append(photos, knBaseURL+href)
		}
	})

	phone, err := requireText(doc, "contact number", knPhone)
	if err != nil {
		return nil, err
	}

	return &domain.RawFields{
		Price:           price,
		Location:        location,
		Floor:           floor,
		ContactNumber:   phone,
		Photos:          photos,
		Characteristics: pairs(doc, knCharacteristics, "th", "td"),
		Description:     cleanText(doc.Find(knDescription).First().Text()),
	}, nil
}

// ownText joins the text nodes directly under s, ignoring nested elements.
func ownText(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if node := c.Get(0); node != nil && node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
	})
	return cleanText(b.String())
}
