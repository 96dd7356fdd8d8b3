package scraper

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Element is one node located on a page.
type Element interface {
	Text(ctx context.Context) (string, error)
	Attr(name string) (string, bool)
	Click(ctx context.Context) error
}

// Page is the page-fetch capability the pipeline drives. Implementations are
// not safe for concurrent use; each worker owns its own Page.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Query returns the first element matching the CSS locator, or nil when
	// nothing matches. It never waits for the element to appear.
	Query(ctx context.Context, locator string) (Element, error)
	QueryAll(ctx context.Context, locator string) ([]Element, error)
	RawSource(ctx context.Context) (string, error)
	// WaitUntil polls predicate until it holds, timeout elapses or ctx is done.
	WaitUntil(ctx context.Context, predicate func(context.Context) bool, timeout time.Duration) bool
	ScrollToBottom(ctx context.Context) error
	CurrentURL(ctx context.Context) string
	Close() error
}

// OptionSelector is implemented by pages that can pick a value in a
// <select> element and fire its change event.
type OptionSelector interface {
	SelectOption(ctx context.Context, locator, value string) error
}

// SessionFactory opens a fresh, exclusively owned Page.
type SessionFactory func(ctx context.Context) (Page, error)

const pollInterval = 250 * time.Millisecond

// pollUntil is the shared WaitUntil loop.
func pollUntil(ctx context.Context, predicate func(context.Context) bool, timeout time.Duration) bool {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if predicate(wctx) {
			return true
		}
		select {
		case <-wctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Exists reports whether locator currently matches anything on page.
func Exists(ctx context.Context, page Page, locator string) bool {
	el, err := page.Query(ctx, locator)
	return err == nil && el != nil
}

// ResolveURL resolves href against base. Unparseable input is returned trimmed.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return href
	}
	return b.ResolveReference(ref).String()
}
