package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"booking-scraper/models"
	"booking-scraper/scraper"
	"booking-scraper/utils"
)

// site is an in-memory set of pages. Fetching an unknown URL fails.
type site struct {
	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
}

func newSite(pages map[string]string) *site {
	return &site{pages: pages, hits: make(map[string]int)}
}

func (s *site) Fetch(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[url]++
	html, ok := s.pages[url]
	if !ok {
		return "", fmt.Errorf("404 %s", url)
	}
	return html, nil
}

func (s *site) factory() scraper.SessionFactory {
	return func(ctx context.Context) (scraper.Page, error) {
		return scraper.NewStaticPage(s), nil
	}
}

type stubGeocoder struct {
	mu    sync.Mutex
	calls int
	loc   *models.Location
	err   error
}

var _ Geocoder = (*stubGeocoder)(nil)

func (g *stubGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (*models.Location, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.loc, g.err
}

func detailHTML(title, price, address, coords string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="hp">`)
	if title != "" {
		fmt.Fprintf(&b, `<h2 class="title">%s</h2>`, title)
	}
	if price != "" {
		fmt.Fprintf(&b, `<span class="price">%s</span>`, price)
	}
	if address != "" {
		fmt.Fprintf(&b, `<p class="address">%s</p>`, address)
	}
	b.WriteString(`<span class="crumb">Apartments (Marrakech) (Guest House) (12)</span>`)
	if coords != "" {
		fmt.Fprintf(&b, `<script>{"latitude":%s}</script>`, coords)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func testProfile() Profile {
	coords := scraper.FieldSpec{
		Name:       "coordinates",
		Kind:       models.KindText,
		Strategies: []scraper.Strategy{scraper.Regex(`"latitude":(-?[\d.]+),"longitude":(-?[\d.]+)`)},
	}
	return Profile{
		ReadyLocators: []string{"#hp"},
		ReadyTimeout:  50 * time.Millisecond,
		Identity: scraper.FieldSpec{
			Name:       "title",
			Kind:       models.KindText,
			Strategies: []scraper.Strategy{scraper.ElementText("h1"), scraper.ElementText("h2.title")},
		},
		Fields: []scraper.FieldSpec{
			{Name: "price", Kind: models.KindNumber, Strategies: []scraper.Strategy{scraper.ElementText(".price")}, Parse: ParsePrice},
			{Name: "address", Kind: models.KindText, Strategies: []scraper.Strategy{scraper.ElementText(".address")}},
			{Name: "category", Kind: models.KindText, Strategies: []scraper.Strategy{
				scraper.Refine(scraper.ElementText(".crumb"), `\(([^)]+)\)\s*\([^)]*\)\s*$`),
			}},
		},
		Coordinates:   &coords,
		CategoryField: "category",
		Labels:        map[string]string{"Guest House": "Riad"},
		Substance:     []string{"price", ColumnAddress, ColumnZone},
	}
}

func newTestBuilder(profile Profile, geo Geocoder) *Builder {
	return NewBuilder(profile, scraper.NewExtractor(time.Second, nil), geo,
		&utils.RetryConfig{MaxAttempts: 1}, nil)
}

// sessionLostPage fails every navigation as a crashed browser would.
type sessionLostPage struct{ *scraper.StaticPage }

func (p sessionLostPage) Navigate(ctx context.Context, url string) error {
	return utils.ErrSessionLost
}

var errBoom = errors.New("boom")
