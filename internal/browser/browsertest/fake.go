// Package browsertest serves canned HTML through the browser interfaces.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"homespark/harvester/internal/browser"

	"github.com/PuerkitoBio/goquery"
)

// Site maps URLs to HTML. Clicks maps "url selector" to the HTML shown after clicking selector on url.
type Site struct {
	mutex  sync.Mutex
	pages  map[string]string
	clicks map[string]string
	visits []string

	// NavigateHook, when set, can fail a navigation before the page is served.
	NavigateHook func(url string) error
}

func NewSite() *Site {
	return &Site{
		pages:  make(map[string]string),
		clicks: make(map[string]string),
	}
}

func (s *Site) Serve(url, html string) *Site {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pages[url] = html
	return s
}

func (s *Site) ServeAfterClick(url, selector, html string) *Site {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clicks[url+" "+selector] = html
	return s
}

func (s *Site) Visits() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.visits...)
}

func (s *Site) VisitCount(url string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	n := 0
	for _, v := range s.visits {
		if v == url {
			n++
		}
	}
	return n
}

// Launcher launches fake browsers over a Site.
type Launcher struct {
	Site *Site

	mutex     sync.Mutex
	launchErr error
	launches  int
	browsers  []*Browser
}

func NewLauncher(site *Site) *Launcher {
	return &Launcher{Site: site}
}

// FailLaunches makes every following launch return err; nil restores launching.
func (l *Launcher) FailLaunches(err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.launchErr = err
}

func (l *Launcher) Launch(ctx context.Context) (browser.Browser, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.launchErr != nil {
		return nil, l.launchErr
	}
	l.launches++
	b := &Browser{site: l.Site}
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *Launcher) Launches() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.launches
}

func (l *Launcher) Browsers() []*Browser {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

type Browser struct {
	site   *Site
	mutex  sync.Mutex
	closed bool
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return nil, errors.New("browser has been closed")
	}
	return &Page{site: b.site}, nil
}

func (b *Browser) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.closed = true
	return nil
}

func (b *Browser) Closed() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.closed
}

type Page struct {
	site *Site
	url  string
	html string
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.site.mutex.Lock()
	p.site.visits = append(p.site.visits, url)
	hook := p.site.NavigateHook
	html, ok := p.site.pages[url]
	p.site.mutex.Unlock()

	if hook != nil {
		if err := hook(url); err != nil {
			return err
		}
	}
	if !ok {
		return fmt.Errorf("failed to load %s: 404 Not Found", url)
	}
	p.url = url
	p.html = html
	return nil
}

func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.html))
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("selector %s did not appear", selector)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.WaitFor(ctx, selector, 0); err != nil {
		return err
	}

	p.site.mutex.Lock()
	defer p.site.mutex.Unlock()
	if html, ok := p.site.clicks[p.url+" "+selector]; ok {
		p.html = html
	}
	return nil
}

// Evaluate runs nothing; scripts only matter to a real browser.
func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	return nil, ctx.Err()
}

func (p *Page) Content(ctx context.Context) (string, error) {
	return p.html, ctx.Err()
}

func (p *Page) Close() error {
	return nil
}
