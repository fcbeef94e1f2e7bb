package browser

import (
	"context"
	"fmt"
	"time"

	"homespark/harvester/internal/config"
	"homespark/harvester/internal/proxy"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	log "github.com/sirupsen/logrus"
)

// RodLauncher drives a local Chromium over CDP through rod.
type RodLauncher struct {
	cfg               config.BrowserConfig
	navigationTimeout time.Duration
	proxies           proxy.ProxySupplier
	userAgents        userAgentPicker
}

func NewRodLauncher(cfg config.BrowserConfig, navigationTimeout time.Duration, proxies proxy.ProxySupplier) *RodLauncher {
	return &RodLauncher{
		cfg:               cfg,
		navigationTimeout: navigationTimeout,
		proxies:           proxies,
		userAgents:        cfg.UserAgents,
	}
}

func (l *RodLauncher) Launch(ctx context.Context) (Browser, error) {
	lnch := launcher.New().Headless(l.cfg.Headless).NoSandbox(true)

	var p proxy.Proxy
	if l.proxies != nil {
		p = l.proxies.Get()
	}
	if !p.Empty() {
		lnch = lnch.Set(flags.ProxyServer, p.Server)
	}

	controlURL, err := lnch.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		lnch.Kill()
		return nil, fmt.Errorf("failed to connect to chromium: %w", err)
	}

	if p.Username != "" && p.Password != "" {
		go func() {
			if err := b.HandleAuth(p.Username, p.Password)(); err != nil {
				log.Debugf("Proxy auth handler stopped: %v", err)
			}
		}()
	}

	return &rodBrowser{
		browser:           b,
		launcher:          lnch,
		navigationTimeout: l.navigationTimeout,
		userAgents:        l.userAgents,
	}, nil
}

type rodBrowser struct {
	browser           *rod.Browser
	launcher          *launcher.Launcher
	navigationTimeout time.Duration
	userAgents        userAgentPicker
}

func (b *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: b.userAgents.pick(),
	})
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("error setting user agent: %w", err)
	}

	return &rodPage{page: page, navigationTimeout: b.navigationTimeout}, nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	return err
}

type rodPage struct {
	page              *rod.Page
	navigationTimeout time.Duration
}

func (p *rodPage) scoped(ctx context.Context, timeout time.Duration) (*rod.Page, context.CancelFunc) {
	if timeout <= 0 {
		return p.page.Context(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return p.page.Context(ctx), cancel
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page, cancel := p.scoped(ctx, p.navigationTimeout)
	defer cancel()

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	page, cancel := p.scoped(ctx, timeout)
	defer cancel()

	if _, err := page.Element(selector); err != nil {
		return fmt.Errorf("selector %s did not appear: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	page, cancel := p.scoped(ctx, p.navigationTimeout)
	defer cancel()

	el, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Evaluate(ctx context.Context, script string) (any, error) {
	res, err := p.page.Context(ctx).Eval(script)
	if err != nil {
		return nil, err
	}
	return res.Value.Val(), nil
}

func (p *rodPage) Content(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
