package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"homespark/harvester/internal/browser"
	"homespark/harvester/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

const (
	etagiLinkSelector     = "a.templates-object-card__body.yQfYt"
	etagiEmptySelector    = "div.ZJ0dK"
	etagiEmptyText        = "Ничего не найдено"
	etagiExpandSelector   = "button.cuZ5z.Ave0A.jJShB.tOs6D._0LC_o.GmYmq.zPhuj"
	etagiDescription      = "div.tv2WS"
	etagiCharacteristics  = `div[data-testid="object_characteristics"] li.gWNDI`
	etagiPrice            = `span[data-testid="object_current_price"]`
	etagiTitle            = `span[data-testid="object_title"]`
	etagiAddress          = `div[data-testid="object_address"]`
	etagiAddressNoise     = ".NU4YX"
	etagiPhoto            = "div.msUAD.MAfDE"
	etagiPhoneButton      = "button.ertXu"
	etagiPhoneButtonLabel = "button.ertXu span"
)

// Expand buttons are clicked second-first, matching how the page reveals the full description.
var etagiExpandScript = fmt.Sprintf(`() => {
	const buttons = Array.from(document.querySelectorAll(%q));
	buttons.slice(0, 2).reverse().forEach((b) => b.click());
	return buttons.length;
}`, etagiExpandSelector)

// Photos are CSS backgrounds, so they are read from computed style in the browser.
var etagiPhotoScript = fmt.Sprintf(`() => Array.from(document.querySelectorAll(%q)).map((el) => {
	const match = getComputedStyle(el).backgroundImage.match(/url\("(.*)"\)/);
	return match ? match[1] : '';
})`, etagiPhoto)

var backgroundURLRe = regexp.MustCompile(`url\(["']?([^"')]+)["']?\)`)

type etagiRules struct {
	waitTimeout time.Duration
}

func NewEtagiRules(waitTimeout time.Duration) RuleSet {
	return &etagiRules{waitTimeout: waitTimeout}
}

func (r *etagiRules) Site() domain.Site {
	return domain.SiteEtagi
}

func (r *etagiRules) ListItemLinks(ctx context.Context, page browser.Page, pageURL string) ([]string, error) {
	doc, err := browser.Document(ctx, page)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(doc.Find(etagiEmptySelector).First().Text()) == etagiEmptyText {
		return nil, ErrEndOfResults
	}

	links, err := collectLinks(doc, etagiLinkSelector, pageURL)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, ErrEndOfResults
	}
	return links, nil
}

func (r *etagiRules) ExtractRecord(ctx context.Context, page browser.Page, link string) (*domain.RawFields, error) {
	if _, err := page.Evaluate(ctx, etagiExpandScript); err != nil {
		return nil, fmt.Errorf("failed to expand listing: %w", err)
	}
	if err := page.WaitFor(ctx, etagiPrice, r.waitTimeout); err != nil {
		return nil, err
	}

	doc, err := browser.Document(ctx, page)
	if err != nil {
		return nil, err
	}

	price, err := priceFrom(doc, etagiPrice)
	if err != nil {
		return nil, err
	}
	floor, err := requireText(doc, "floor", etagiTitle)
	if err != nil {
		return nil, err
	}

	address := doc.Find(etagiAddress).First()
	if address.Length() == 0 {
		return nil, &MissingFieldError{Field: "location", Selector: etagiAddress}
	}
	address = address.Clone()
	address.Find(etagiAddressNoise).Remove()

	photos, err := r.photos(ctx, page, doc)
	if err != nil {
		return nil, err
	}

	if err := page.Click(ctx, etagiPhoneButton); err != nil {
		return nil, err
	}
	revealed, err := browser.Document(ctx, page)
	if err != nil {
		return nil, err
	}
	phone, err := requireText(revealed, "contact number", etagiPhoneButtonLabel)
	if err != nil {
		return nil, err
	}

	return &domain.RawFields{
		Price:           price,
		Location:        cleanText(address.Text()),
		Floor:           floor,
		ContactNumber:   phone,
		Photos:          photos,
		Characteristics: pairs(doc, etagiCharacteristics, "span.Y65Dj", "span.XVztD"),
		Description:     cleanText(doc.Find(etagiDescription).First().Text()),
	}, nil
}

// photos prefers computed styles and falls back to inline style attributes.
func (r *etagiRules) photos(ctx context.Context, page browser.Page, doc *goquery.Document) ([]string, error) {
	result, err := page.Evaluate(ctx, etagiPhotoScript)
	if err != nil {
		return nil, fmt.Errorf("failed to read photos: %w", err)
	}

	photos := make([]string, 0)
	if values, ok := result.([]any); ok {
		for _, v := range values {
			if s, ok := v.(string); ok && s != "" {
				photos = append(photos, s)
			}
		}
		return photos, nil
	}

	doc.Find(etagiPhoto).Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if match := backgroundURLRe.FindStringSubmatch(style); match != nil {
			photos = append(photos, match[1])
		}
	})
	return photos, nil
}
