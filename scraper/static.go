package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"booking-scraper/utils"
)

// Fetcher loads the HTML for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (string, error) { return f(ctx, url) }

// StaticPage is a Page over server-rendered HTML parsed with goquery. It
// backs the plain-HTTP session and the browser-free tests.
type StaticPage struct {
	fetcher Fetcher
	url     string
	html    string
	doc     *goquery.Document
	closed  bool

	// OnClick handles clicks on elements without an href. When nil such
	// clicks are no-ops.
	OnClick func(ctx context.Context, p *StaticPage, sel *goquery.Selection) error

	// OnSelect handles SelectOption after the option has been marked
	// selected, standing in for the page's change handler.
	OnSelect func(ctx context.Context, p *StaticPage, locator, value string) error
}

var _ OptionSelector = (*StaticPage)(nil)

// NewStaticPage creates a page that loads documents through fetcher.
func NewStaticPage(fetcher Fetcher) *StaticPage {
	return &StaticPage{fetcher: fetcher}
}

func (p *StaticPage) Navigate(ctx context.Context, url string) error {
	if p.closed {
		return utils.ErrSessionLost
	}
	html, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	p.url = url
	return p.SetHTML(html)
}

// SetHTML replaces the current document, as a script-driven page update would.
func (p *StaticPage) SetHTML(html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	p.html = html
	p.doc = doc
	return nil
}

func (p *StaticPage) Query(ctx context.Context, locator string) (Element, error) {
	if p.doc == nil {
		return nil, nil
	}
	sel := p.doc.Find(locator).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	return &staticElement{page: p, sel: sel}, nil
}

func (p *StaticPage) QueryAll(ctx context.Context, locator string) ([]Element, error) {
	if p.doc == nil {
		return nil, nil
	}
	var out []Element
	p.doc.Find(locator).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &staticElement{page: p, sel: s})
	})
	return out, nil
}

// SelectOption marks the option with value selected in the first <select>
// matching locator.
func (p *StaticPage) SelectOption(ctx context.Context, locator, value string) error {
	if p.doc == nil {
		return fmt.Errorf("select %s: no document", locator)
	}
	sel := p.doc.Find(locator).First()
	if sel.Length() == 0 {
		return fmt.Errorf("select %s: not found", locator)
	}
	opt := sel.Find("option").FilterFunction(func(_ int, o *goquery.Selection) bool {
		v, _ := o.Attr("value")
		return v == value
	})
	if opt.Length() == 0 {
		return fmt.Errorf("select %s: no option %q", locator, value)
	}
	sel.Find("option").RemoveAttr("selected")
	opt.First().SetAttr("selected", "selected")
	if html, err := p.doc.Html(); err == nil {
		p.html = html
	}
	if p.OnSelect != nil {
		return p.OnSelect(ctx, p, locator, value)
	}
	return nil
}

func (p *StaticPage) RawSource(ctx context.Context) (string, error) {
	if p.closed {
		return "", utils.ErrSessionLost
	}
	return p.html, nil
}

func (p *StaticPage) WaitUntil(ctx context.Context, predicate func(context.Context) bool, timeout time.Duration) bool {
	return pollUntil(ctx, predicate, timeout)
}

func (p *StaticPage) ScrollToBottom(ctx context.Context) error { return nil }

func (p *StaticPage) CurrentURL(ctx context.Context) string { return p.url }

func (p *StaticPage) Close() error {
	p.closed = true
	return nil
}

type staticElement struct {
	page *StaticPage
	sel  *goquery.Selection
}

func (e *staticElement) Text(ctx context.Context) (string, error) {
	return strings.TrimSpace(e.sel.Text()), nil
}

func (e *staticElement) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}

func (e *staticElement) Click(ctx context.Context) error {
	if e.page.OnClick != nil {
		return e.page.OnClick(ctx, e.page, e.sel)
	}
	if href, ok := e.sel.Attr("href"); ok && href != "" && !strings.HasPrefix(href, "#") {
		return e.page.Navigate(ctx, ResolveURL(e.page.url, href))
	}
	return nil
}

// HTTPFetcher fetches pages over plain HTTP and converts them to UTF-8.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher creates an HTTPFetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, UserAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("status %d: %w", resp.StatusCode, utils.ErrBlocked)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	utf8Body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("charset conversion: %w", err)
	}
	body, err := io.ReadAll(utf8Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// NewHTTPSessionFactory returns a factory of StaticPages backed by one
// shared, stateless HTTP client.
func NewHTTPSessionFactory(fetcher *HTTPFetcher) SessionFactory {
	return func(ctx context.Context) (Page, error) {
		return NewStaticPage(fetcher), nil
	}
}
