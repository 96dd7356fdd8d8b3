package booking

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-scraper/models"
	"booking-scraper/scraper"
	"booking-scraper/services"
	"booking-scraper/utils"
)

const propertyURL = "https://www.booking.com/hotel/ma/gueliz-atlas-view.html"

type pages map[string]string

func (p pages) Fetch(ctx context.Context, url string) (string, error) {
	html, ok := p[url]
	if !ok {
		return "", fmt.Errorf("404 %s", url)
	}
	return html, nil
}

type fixedGeocoder struct{ loc *models.Location }

func (g fixedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (*models.Location, error) {
	return g.loc, nil
}

const reviewPanel = `<div id="reviews">
<div data-testid="review-subscore">Comfort 9.1</div>
<div data-testid="review-subscore">Value for money 8.4</div>
<div data-testid="review-subscore">Location 9.5</div>
<div data-testid="review-subscore">Free WiFi 8.0</div>
</div>`

func propertyPage(title, crumb string) string {
	return `<html><head><title>` + title + `, Marrakech (updated prices)</title></head><body>
<div data-testid="property-header"><h2 class="pp-header__title">` + title + `</h2></div>
<span data-testid="breadcrumb-current"><span>` + crumb + `</span></span>
<span class="hp_address_subtitle">Rue de la Liberté, Guéliz, Marrakech</span>
<a data-atlas-latlng="31.6340,-8.0120" href="#map">Show on map</a>
<span data-testid="price-and-discounted-price">MAD 950</span>
<div data-testid="review-score-component"><div>8.6</div><div>Fabulous · 1,024 reviews</div></div>
<a id="js--hp-gallery-scorecard">See reviews</a>
<div id="description">2 bedrooms, a kitchenette and 65 m² with balcony. Air conditioning. Free Wi-Fi 100 Mbps.</div>
<table><tr><td class="hprt-table-cell-price"><span class="prc-no-css">MAD 900</span></td></tr>
<tr><td class="hprt-table-cell-price"><span class="prc-no-css">MAD 1,400</span></td></tr></table>
</body></html>`
}

func newBuilder(opts PropertyOptions) *services.Builder {
	geo := fixedGeocoder{loc: &models.Location{
		DisplayText:    "Rue de la Liberte, Gueliz, Marrakech, Morocco",
		ZoneCandidates: map[string]string{"suburb": "Gueliz"},
		CityCandidates: map[string]string{"city": "Marrakech"},
	}}
	return services.NewBuilder(Property(opts), scraper.NewExtractor(time.Second, nil),
		geo, &utils.RetryConfig{MaxAttempts: 1}, nil)
}

func buildProperty(t *testing.T, html string, apartmentsOnly bool) (*models.Record, int, error) {
	t.Helper()
	page := scraper.NewStaticPage(pages{propertyURL: html})
	clicks := 0
	page.OnClick = func(ctx context.Context, p *scraper.StaticPage, sel *goquery.Selection) error {
		clicks++
		return p.SetHTML(strings.Replace(html, "</body>", reviewPanel+"</body>", 1))
	}
	b := newBuilder(PropertyOptions{PanelTimeout: time.Second, ApartmentsOnly: apartmentsOnly})
	rec, err := b.Build(context.Background(), page, propertyURL)
	return rec, clicks, err
}

func field(t *testing.T, rec *models.Record, name string) models.Value {
	t.Helper()
	v, ok := rec.Fields.Get(name)
	require.True(t, ok, "field %s missing", name)
	return v
}

func number(t *testing.T, rec *models.Record, name string) float64 {
	t.Helper()
	f, ok := field(t, rec, name).Float()
	require.True(t, ok, "field %s has no number", name)
	return f
}

func TestPropertyProfileReadsListing(t *testing.T) {
	rec, clicks, err := buildProperty(t, propertyPage("Appartement Gueliz Vue Atlas", "Morocco (Marrakech) (Apartment) (212)"), false)
	require.NoError(t, err)

	assert.Equal(t, "Appartement Gueliz Vue Atlas", field(t, rec, "title").Str())
	assert.Equal(t, "Apartment", field(t, rec, "category").Str())
	assert.Equal(t, 950.0, number(t, rec, "price"))
	assert.Equal(t, 900.0, number(t, rec, "min_price"))
	assert.Equal(t, 1400.0, number(t, rec, "max_price"))
	assert.Equal(t, 8.6, number(t, rec, "general_review"))
	assert.Equal(t, 1024.0, number(t, rec, "general_review_count"))
	assert.Equal(t, 9.1, number(t, rec, "comfort_score"))
	assert.Equal(t, 8.4, number(t, rec, "value_score"))
	assert.Equal(t, 9.5, number(t, rec, "location_score"))
	assert.Equal(t, 8.0, number(t, rec, "wifi_score"))
	assert.Equal(t, 1, clicks, "reviews panel opens once per visit")

	assert.Equal(t, "100 Mbps", field(t, rec, "wifi_speed").Str())
	assert.Equal(t, true, field(t, rec, "wifi").Interface())
	assert.Equal(t, 2.0, number(t, rec, "bedrooms"))
	assert.Equal(t, 1.0, number(t, rec, "kitchens"))
	assert.Equal(t, 65.0, number(t, rec, "surface_m2"))
	assert.Equal(t, "air conditioning, balcony", field(t, rec, "amenities").Str())

	assert.Equal(t, "Rue de la Liberte, Gueliz, Marrakech", field(t, rec, services.ColumnAddress).Str())
	assert.Equal(t, "Gueliz", field(t, rec, services.ColumnZone).Str())
	assert.Equal(t, "Marrakech", field(t, rec, services.ColumnCity).Str())
	assert.Equal(t, 31.634, number(t, rec, services.ColumnLatitude))
	assert.Equal(t, -8.012, number(t, rec, services.ColumnLongitude))

	_, ok := rec.Fields.Get("avg_review_score_all")
	assert.False(t, ok, "traveler averages are off without review pages")
}

func TestPropertyProfileLabelsGuestHouses(t *testing.T) {
	rec, _, err := buildProperty(t, propertyPage("Dar Zitoun", "Morocco (Marrakech) (Guest House) (12)"), false)
	require.NoError(t, err)
	assert.Equal(t, "Riad", field(t, rec, "category").Str())
}

func TestPropertyProfileApartmentsOnly(t *testing.T) {
	_, _, err := buildProperty(t, propertyPage("Hotel Atlas Gueliz", "Morocco (Marrakech) (Hotel) (40)"), true)
	assert.ErrorIs(t, err, services.ErrRejected)

	rec, _, err := buildProperty(t, propertyPage("Studio Majorelle", "Morocco (Marrakech) (Apartment) (40)"), true)
	require.NoError(t, err)
	assert.Equal(t, "Studio Majorelle", field(t, rec, "title").Str())
}

const reviewCardsPage1 = `<div id="reviewCardsSection">
<select name="customerType"><option value="FAMILIES" selected>Families</option><option value="ALL">All reviewers</option></select>
<div data-testid="review-card"><span data-testid="review-traveler-type">Couple</span><div>Scored 9</div><p>Quiet and central.</p></div>
<div data-testid="review-card"><span data-testid="review-traveler-type">Family</span><div>Scored 8</div></div>
<div data-testid="review-card"><span data-testid="review-traveler-type">Solo traveller</span><div>Scored 7</div></div>
<div data-testid="review-card"><span data-testid="review-traveler-type">Pet owner</span><div>Scored 2</div></div>
<button aria-label="Next page">Next</button>
</div>`

const reviewCardsPage2 = `<div id="reviewCardsSection">
<div data-testid="review-card"><span data-testid="review-traveler-type">Couple</span><div aria-label="Scored 10"><div>10</div></div></div>
<div data-testid="review-card"><span data-testid="review-traveler-type">Group of friends</span><div>Scored 6.5</div></div>
<div data-testid="review-card"><span data-testid="review-traveler-type">Business traveller</span><div>Scored 8,5</div></div>
<button aria-label="Next page" disabled>Next</button>
</div>`

func TestPropertyProfileAveragesReviewsByTravelerType(t *testing.T) {
	base := propertyPage("Appartement Gueliz Vue Atlas", "Morocco (Marrakech) (Apartment) (212)")
	withCards := func(cards string) string {
		return strings.Replace(base, "</body>", reviewPanel+cards+"</body>", 1)
	}
	page := scraper.NewStaticPage(pages{propertyURL: withCards(reviewCardsPage1)})

	var selected []string
	page.OnSelect = func(ctx context.Context, p *scraper.StaticPage, locator, value string) error {
		selected = append(selected, value)
		return nil
	}
	nextClicks := 0
	page.OnClick = func(ctx context.Context, p *scraper.StaticPage, sel *goquery.Selection) error {
		if label, _ := sel.Attr("aria-label"); label == "Next page" {
			nextClicks++
			return p.SetHTML(withCards(reviewCardsPage2))
		}
		return nil
	}

	b := newBuilder(PropertyOptions{PanelTimeout: time.Second, ReviewPages: 5})
	rec, err := b.Build(context.Background(), page, propertyURL)
	require.NoError(t, err)

	assert.Equal(t, []string{"ALL"}, selected)
	assert.Equal(t, 1, nextClicks, "walk stops at the disabled next button")

	tests := []struct {
		group string
		avg   float64
		count float64
	}{
		{"all", 8.17, 6},
		{"couples", 9.5, 2},
		{"families", 8, 1},
		{"solo_travelers", 7, 1},
		{"business_travellers", 8.5, 1},
		{"groups_friends", 6.5, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.avg, number(t, rec, "avg_review_score_"+tt.group), tt.group)
		assert.Equal(t, tt.count, number(t, rec, "avg_review_score_"+tt.group+"_count"), tt.group)
	}
}

func TestPropertyProfileTravelerAveragesStopAtPageCap(t *testing.T) {
	base := propertyPage("Appartement Gueliz Vue Atlas", "Morocco (Marrakech) (Apartment) (212)")
	page := scraper.NewStaticPage(pages{propertyURL: strings.Replace(base, "</body>", reviewPanel+reviewCardsPage1+"</body>", 1)})
	nextClicks := 0
	page.OnClick = func(ctx context.Context, p *scraper.StaticPage, sel *goquery.Selection) error {
		nextClicks++
		return nil
	}

	rec, err := newBuilder(PropertyOptions{PanelTimeout: time.Second, ReviewPages: 1}).Build(context.Background(), page, propertyURL)
	require.NoError(t, err)

	assert.Zero(t, nextClicks)
	assert.Equal(t, 8.0, number(t, rec, "avg_review_score_all"))
	assert.Equal(t, 3.0, number(t, rec, "avg_review_score_all_count"))
	assert.True(t, field(t, rec, "avg_review_score_groups_friends").IsUnknown())
	assert.Equal(t, 0.0, number(t, rec, "avg_review_score_groups_friends_count"))
}

func TestNormalizeTravelerType(t *testing.T) {
	tests := []struct {
		label string
		want  string
		ok    bool
	}{
		{"Couple", "couples", true},
		{" Solo traveler ", "solo_travelers", true},
		{"Group of friends", "groups_friends", true},
		{"Business-traveller", "business_travellers", true},
		{"Families", "families", true},
		{"Pet owner", "", false},
	}
	for _, tt := range tests {
		got, ok := normalizeTravelerType(tt.label, TravelerTypes)
		assert.Equal(t, tt.ok, ok, tt.label)
		assert.Equal(t, tt.want, got, tt.label)
	}

	got, ok := normalizeTravelerType("Pet owner", map[string]string{"pet_owner": "families"})
	assert.True(t, ok)
	assert.Equal(t, "families", got)
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Morocco (Marrakech) (Guest House) (12)", "Guest House"},
		{"Entire home (Apartment)", "Apartment"},
		{"Apartment", "Apartment"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseCategory(tt.raw).Str(), tt.raw)
	}
	assert.True(t, parseCategory("  ").IsUnknown())
}

func TestDiscoveryProfileCollectsCards(t *testing.T) {
	const search = "https://www.booking.com/searchresults.html?ss=Marrakech"
	html := `<html><body>
<div data-testid="property-card"><a data-testid="title-link" href="/hotel/ma/a.html?aid=1">A</a></div>
<div data-testid="property-card"><a data-testid="title-link" href="/hotel/ma/b.html">B</a></div>
</body></html>`
	page := scraper.NewStaticPage(pages{search: html})

	profile := Discovery(3, time.Second)
	profile.SettleDelay = 0
	d := scraper.NewDiscoverer(profile, nil, &utils.RetryConfig{MaxAttempts: 1})

	res := d.Discover(context.Background(), page, search, utils.NewURLSet(), 0)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{
		"https://www.booking.com/hotel/ma/a.html?aid=1",
		"https://www.booking.com/hotel/ma/b.html",
	}, res.URLs)
	assert.Equal(t, scraper.StopNoNext, res.Reason)
}
