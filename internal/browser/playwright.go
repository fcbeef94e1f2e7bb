package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"homespark/harvester/internal/config"
	"homespark/harvester/internal/proxy"

	"github.com/playwright-community/playwright-go"
	log "github.com/sirupsen/logrus"
)

// PlaywrightLauncher drives Chromium through playwright. The driver process is
// started once and shared by every browser it launches.
type PlaywrightLauncher struct {
	cfg               config.BrowserConfig
	navigationTimeout time.Duration
	proxies           proxy.ProxySupplier
	userAgents        userAgentPicker

	once   sync.Once
	pw     *playwright.Playwright
	runErr error
}

func NewPlaywrightLauncher(cfg config.BrowserConfig, navigationTimeout time.Duration, proxies proxy.ProxySupplier) *PlaywrightLauncher {
	return &PlaywrightLauncher{
		cfg:               cfg,
		navigationTimeout: navigationTimeout,
		proxies:           proxies,
		userAgents:        cfg.UserAgents,
	}
}

func (l *PlaywrightLauncher) runtime() (*playwright.Playwright, error) {
	l.once.Do(func() {
		if l.cfg.InstallDriver {
			log.Info("📦 Installing playwright driver")
			if err := playwright.Install(); err != nil {
				l.runErr = fmt.Errorf("failed to install playwright: %w", err)
				return
			}
		}
		l.pw, l.runErr = playwright.Run()
	})
	return l.pw, l.runErr
}

func (l *PlaywrightLauncher) Launch(ctx context.Context) (Browser, error) {
	pw, err := l.runtime()
	if err != nil {
		return nil, err
	}

	options := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.cfg.Headless),
	}
	if len(l.cfg.Args) > 0 {
		options.Args = l.cfg.Args
	}
	if l.proxies != nil {
		if p := l.proxies.Get(); !p.Empty() {
			options.Proxy = &playwright.Proxy{
				Server:   p.Server,
				Username: playwright.String(p.Username),
				Password: playwright.String(p.Password),
			}
		}
	}

	b, err := pw.Chromium.Launch(options)
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	return &playwrightBrowser{
		browser:           b,
		navigationTimeout: l.navigationTimeout,
		userAgents:        l.userAgents,
	}, nil
}

// Stop shuts the playwright driver down.
func (l *PlaywrightLauncher) Stop() error {
	if l.pw == nil {
		return nil
	}
	return l.pw.Stop()
}

type playwrightBrowser struct {
	browser           playwright.Browser
	navigationTimeout time.Duration
	userAgents        userAgentPicker
}

func (b *playwrightBrowser) NewPage(ctx context.Context) (Page, error) {
	page, err := b.browser.NewPage(playwright.BrowserNewPageOptions{
		UserAgent: playwright.String(b.userAgents.pick()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &playwrightPage{page: page, navigationTimeout: b.navigationTimeout}, nil
}

func (b *playwrightBrowser) Close() error {
	return b.browser.Close()
}

type playwrightPage struct {
	page              playwright.Page
	navigationTimeout time.Duration
}

func timeoutMillis(ctx context.Context, fallback time.Duration) *float64 {
	timeout := fallback
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout <= 0 {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	return playwright.Float(float64(timeout.Milliseconds()))
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	res, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeoutMillis(ctx, p.navigationTimeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if res != nil && !res.Ok() {
		return fmt.Errorf("failed to load %s: %d %s", url, res.Status(), res.StatusText())
	}
	return nil
}

func (p *playwrightPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: timeoutMillis(ctx, timeout),
	})
	if err != nil {
		return fmt.Errorf("selector %s did not appear: %w", selector, err)
	}
	return nil
}

func (p *playwrightPage) Click(ctx context.Context, selector string) error {
	if err := p.page.Click(selector, playwright.PageClickOptions{
		Timeout: timeoutMillis(ctx, p.navigationTimeout),
	}); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

func (p *playwrightPage) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.page.Evaluate(script)
}

func (p *playwrightPage) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Content()
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}
