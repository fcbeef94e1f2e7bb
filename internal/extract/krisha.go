package extract

import (
	"context"
	"strings"
	"time"

	"homespark/harvester/internal/browser"
	"homespark/harvester/internal/domain"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

const (
	krishaLinkSelector    = "a.a-card__title"
	krishaSidebar         = "div.offer__sidebar"
	krishaParameters      = "div.offer__parameters"
	krishaDescription     = "div.js-description.a-text.a-text-white-spaces"
	krishaTitle           = "div.offer__advert-title h1"
	krishaPhoto           = "div.gallery__small-item[data-photo-url]"
	krishaShowPhones      = "button.show-phones"
	krishaPhones          = "div.offer__contacts-phones p"
	krishaHiddenPhone     = "div.a-phones__hidden span.phone"
	krishaNoDescription   = "Нет описания"
	krishaMaskedPhone     = "+7 *** *** ****"
	krishaFloorMarker     = "этаж"
	krishaPhoneRevealWait = 10 * time.Second
)

type krishaRules struct {
	waitTimeout time.Duration
}

func NewKrishaRules(waitTimeout time.Duration) RuleSet {
	return &krishaRules{waitTimeout: waitTimeout}
}

func (r *krishaRules) Site() domain.Site {
	return domain.SiteKrisha
}

func (r *krishaRules) ListItemLinks(ctx context.Context, page browser.Page, pageURL string) ([]string, error) {
	doc, err := browser.Document(ctx, page)
	if err != nil {
		return nil, err
	}
	links, err := collectLinks(doc, krishaLinkSelector, pageURL)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, ErrEndOfResults
	}
	return links, nil
}

func (r *krishaRules) ExtractRecord(ctx context.Context, page browser.Page, link string) (*domain.RawFields, error) {
	for _, selector := range []string{krishaSidebar, krishaParameters} {
		if err := page.WaitFor(ctx, selector, r.waitTimeout); err != nil {
			return nil, err
		}
	}

	doc, err := browser.Document(ctx, page)
	if err != nil {
		return nil, err
	}

	description := cleanText(doc.Find(krishaDescription).First().Text())
	if description == "" {
		description = krishaNoDescription
	}

	price, err := priceFrom(doc, "div.offer__price", "p.offer__price")
	if err != nil {
		return nil, err
	}

	title, err := requireText(doc, "title", krishaTitle)
	if err != nil {
		return nil, err
	}
	floor, location := splitKrishaTitle(title)

	photos := make([]string, 0)
	doc.Find(krishaPhoto).Each(func(_ int, s *goquery.Selection) {
		if photo := strings.TrimSpace(s.AttrOr("data-photo-url", "")); photo != "" {
			photos = append(photos, photo)
		}
	})

	phone, err := r.contactNumber(ctx, page, link)
	if err != nil {
		return nil, err
	}

	return &domain.RawFields{
		Price:           price,
		Location:        location,
		Floor:           floor,
		ContactNumber:   phone,
		Photos:          photos,
		Characteristics: pairs(doc, krishaParameters+" dl", "dt", "dd"),
		Description:     description,
	}, nil
}

// splitKrishaTitle splits "2-комнатная квартира, 60 м², 5/9 этаж, Бостандыкский р-н" into
// the part up to "этаж" and the part after the last comma.
func splitKrishaTitle(title string) (floor, location string) {
	floor = title
	if i := strings.Index(title, krishaFloorMarker); i >= 0 {
		floor = title[:i+len(krishaFloorMarker)]
	}

	location = title
	if i := strings.LastIndex(title, ", "); i >= 0 {
		location = title[i+2:]
	}
	return strings.TrimSpace(floor), strings.TrimSpace(location)
}

func (r *krishaRules) contactNumber(ctx context.Context, page browser.Page, link string) (string, error) {
	if err := page.WaitFor(ctx, krishaShowPhones, r.waitTimeout); err != nil {
		return "", err
	}
	if err := page.Click(ctx, krishaShowPhones); err != nil {
		return "", err
	}

	waitErr := page.WaitFor(ctx, krishaPhones, krishaPhoneRevealWait)
	doc, err := browser.Document(ctx, page)
	if err != nil {
		return "", err
	}
	if waitErr == nil {
		return cleanText(doc.Find(krishaPhones).First().Text()), nil
	}

	// Owners may hide their number; the page then shows a masked placeholder.
	if hidden := doc.Find(krishaHiddenPhone).First(); strings.Contains(hidden.Text(), "*") {
		return krishaMaskedPhone, nil
	}
	log.WithField("link", link).Debugf("No contact number revealed: %v", waitErr)
	return "", nil
}
