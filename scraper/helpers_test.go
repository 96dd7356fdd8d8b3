package scraper

import (
	"context"
	"fmt"
	"strings"
)

// sitePages is an in-memory Fetcher keyed by URL.
type sitePages map[string]string

func (s sitePages) Fetch(ctx context.Context, url string) (string, error) {
	html, ok := s[url]
	if !ok {
		return "", fmt.Errorf("404 %s", url)
	}
	return html, nil
}

var _ Fetcher = sitePages(nil)

// resultsPage renders a search-results page with one card per href and an
// optional next link.
func resultsPage(next string, hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><div id=\"results\">")
	for i, h := range hrefs {
		fmt.Fprintf(&b, `<div data-testid="property-card"><a data-testid="title-link" href="%s">Stay %d</a></div>`, h, i)
	}
	b.WriteString("</div>")
	if next != "" {
		fmt.Fprintf(&b, `<a aria-label="Next page" href="%s">Next</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func staticPageAt(pages sitePages, url string) *StaticPage {
	p := NewStaticPage(pages)
	if err := p.Navigate(context.Background(), url); err != nil {
		panic(err)
	}
	return p
}
