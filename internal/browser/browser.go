package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"homespark/harvester/internal/config"
	"homespark/harvester/internal/proxy"

	"github.com/PuerkitoBio/goquery"
)

var ErrSessionClosed = errors.New("browser session closed")

// Page is a single tab. Implementations apply their own navigation timeout.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, script string) (any, error)
	Content(ctx context.Context) (string, error)
	Close() error
}

type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts a fresh browser process.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
}

type userAgentPicker []string

func (u userAgentPicker) pick() string {
	if len(u) == 0 {
		return defaultUserAgents[rand.Intn(len(defaultUserAgents))]
	}
	return u[rand.Intn(len(u))]
}

// NewLauncher builds the launcher for the configured driver.
func NewLauncher(cfg config.BrowserConfig, navigationTimeout time.Duration, proxies proxy.ProxySupplier) (Launcher, error) {
	switch cfg.Driver {
	case "", "playwright":
		return NewPlaywrightLauncher(cfg, navigationTimeout, proxies), nil
	case "rod":
		return NewRodLauncher(cfg, navigationTimeout, proxies), nil
	default:
		return nil, fmt.Errorf("unsupported browser driver: %s", cfg.Driver)
	}
}

// Document parses the page's current DOM.
func Document(ctx context.Context, page Page) (*goquery.Document, error) {
	html, err := page.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page content: %w", err)
	}
	return doc, nil
}

// autoScrollScript scrolls 100px every 100ms until the bottom is reached, so lazy cards render.
const autoScrollScript = `() => new Promise((resolve) => {
	let totalHeight = 0;
	const distance = 100;
	const timer = setInterval(() => {
		const scrollHeight = document.body.scrollHeight;
		window.scrollBy(0, distance);
		totalHeight += distance;
		if (totalHeight >= scrollHeight - window.innerHeight) {
			clearInterval(timer);
			resolve(true);
		}
	}, 100);
})`

func AutoScroll(ctx context.Context, page Page) error {
	if _, err := page.Evaluate(ctx, autoScrollScript); err != nil {
		return fmt.Errorf("failed to auto-scroll: %w", err)
	}
	return nil
}
