// Package booking declares what the pipeline reads from Booking.com search
// results and property pages.
package booking

import (
	"context"
	"regexp"
	"strings"
	"time"

	"booking-scraper/models"
	"booking-scraper/scraper"
	"booking-scraper/services"
)

// DefaultSearchURL is the search-results endpoint queries are built against.
const DefaultSearchURL = "https://www.booking.com/searchresults.html"

// Labels rewrites breadcrumb categories into the names used in reports.
var Labels = map[string]string{
	"Guest House": "Riad",
	"Condo Hotel": "Apartment-Hotel",
}

// Apartment classification keywords, lower case.
var (
	ExcludedKeywords = []string{
		"hotel", "hôtel", "riad", "villa", "palace", "resort", "lodge",
		"hostel", "auberge", "maison d'hôtes", "guest house", "boutique",
		"spa", "club", "camping", "dar ", "atelier", "pension",
	}
	IncludedKeywords = []string{
		"apartment", "appartement", "studio", "flat", "appart",
		"logement", "residence", "résidence", "suite", "loft",
	}
)

// Discovery returns the search-results profile.
func Discovery(maxPages int, readyTimeout time.Duration) scraper.DiscoveryProfile {
	return scraper.DiscoveryProfile{
		ItemLinks:    `a[data-testid="title-link"]`,
		ContentReady: []string{`[data-testid="property-card"]`, `a[data-testid="title-link"]`},
		NextPage: []string{
			`button[data-testid="load-more-results"]`,
			`button[aria-label="Next page"]`,
			`a[aria-label="Next page"]`,
			`li.bui-pagination__next-arrow a`,
		},
		BlockMarkers: []string{"are you a robot", "access denied", "unusual traffic", "captcha-delivery"},
		EmptyMarkers: []string{"no properties found", "0 properties found"},
		ReadyTimeout: readyTimeout,
		SettleDelay:  1500 * time.Millisecond,
		Dismiss:      Overlays,
		MaxPages:     maxPages,
	}
}

// Overlays dismisses the cookie banner and sign-in popups that cover
// freshly loaded pages.
var Overlays = scraper.DismissOverlays("overlays",
	[]string{`#onetrust-accept-btn-handler`, `button[data-gdpr-consent="accept"]`},
	[]string{`[role="dialog"] button[aria-label*="Dismiss"]`, `[role="dialog"] button[aria-label*="Close"]`},
)

// PropertyOptions tunes the property-page profile.
type PropertyOptions struct {
	// PanelTimeout bounds each wait for the reviews panel and review pages.
	PanelTimeout time.Duration
	// ApartmentsOnly keeps apartment-like listings only.
	ApartmentsOnly bool
	// ReviewPages caps the review pages walked for traveler-type averages.
	// Zero leaves those fields out.
	ReviewPages int
	// TravelerTypes overrides the reviewer label table.
	TravelerTypes map[string]string
}

// Property returns the property-page profile.
func Property(opts PropertyOptions) services.Profile {
	reviews := scraper.ClickFirst("reviews-panel",
		[]string{`#js--hp-gallery-scorecard`, `a[data-testid="see-all-reviews-link"]`, `a[href*="#tab-reviews"]`},
		`[data-testid="review-subscore"]`, opts.PanelTimeout)

	coords := scraper.FieldSpec{
		Name: "coordinates",
		Kind: models.KindText,
		Strategies: []scraper.Strategy{
			scraper.Attribute(`a[data-atlas-latlng]`, "data-atlas-latlng"),
			scraper.Regex(`"latitude":\s*([0-9.\-]+),\s*"longitude":\s*([0-9.\-]+)`),
			scraper.Regex(`"lat":\s*([0-9.\-]+),\s*"lng":\s*([0-9.\-]+)`),
		},
	}

	p := services.Profile{
		ReadyLocators: []string{`h2.pp-header__title`, `[data-testid="property-header"]`, `#hp_hotel_name`},
		ReadyTimeout:  10 * time.Second,
		Identity: scraper.FieldSpec{
			Name: "title",
			Kind: models.KindText,
			Strategies: []scraper.Strategy{
				scraper.ElementText(`h2.pp-header__title`),
				scraper.ElementText(`h2[data-testid="header-title"]`),
				scraper.ElementText(`[data-testid="property-header"] h1`),
				scraper.ElementText(`h1`),
				scraper.Refine(scraper.Selector(`title`), `^\s*([^,(|]+)`),
			},
		},
		Fields: []scraper.FieldSpec{
			{
				Name: "category",
				Kind: models.KindText,
				Strategies: []scraper.Strategy{
					scraper.ElementText(`span[data-testid="breadcrumb-current"] span`),
					scraper.ElementText(`[data-testid="breadcrumb-current"]`),
				},
				Parse: parseCategory,
			},
			{
				Name: "price",
				Kind: models.KindNumber,
				Strategies: []scraper.Strategy{
					scraper.ElementText(`[data-testid="price-and-discounted-price"]`),
					scraper.ElementText(`.bui-price-display__value`),
					scraper.ElementText(`.prco-valign-middle-helper`),
					scraper.Regex(`"price":\s*"?(\d+(?:[.,]\d+)?)"?`),
					scraper.Regex(`"displayPrice":\s*"?(\d+(?:[.,]\d+)?)"?`),
					scraper.Regex(`MAD\s*(\d+(?:[.,]\d+)*)`),
					scraper.Regex(`€\s*(\d+(?:[.,]\d+)*)`),
				},
				Parse: services.ParsePrice,
			},
			roomPrices("min_price", func(raw string) models.Value {
				v, _ := services.PriceRange(raw)
				return v
			}),
			roomPrices("max_price", func(raw string) models.Value {
				_, v := services.PriceRange(raw)
				return v
			}),
			{
				Name: "general_review",
				Kind: models.KindNumber,
				Strategies: []scraper.Strategy{
					scraper.ElementText(`[data-testid="review-score-component"] > div:first-child`),
					scraper.ElementText(`#js--hp-gallery-scorecard [aria-hidden="true"]`),
					scraper.ElementText(`.bui-review-score__badge`),
					scraper.Regex(`"ratingValue":\s*"?([\d.]+)`),
				},
				Parse: services.ParseScore,
			},
			{
				Name: "general_review_count",
				Kind: models.KindNumber,
				Strategies: []scraper.Strategy{
					scraper.Refine(scraper.ElementText(`[data-testid="review-score-component"]`), `([\d,]+)\s+(?:reviews|commentaires)`),
					scraper.Regex(`"reviewCount":\s*"?(\d+)`),
					scraper.Regex(`([\d,]+)\s+reviews`),
				},
				Parse: services.ParseCount,
			},
			subscore("comfort_score", "Comfort", reviews),
			subscore("value_score", "Value for money", reviews),
			subscore("location_score", "Location", reviews),
			subscore("wifi_score", "Free WiFi", reviews),
			{
				Name:       "wifi_speed",
				Kind:       models.KindText,
				Strategies: []scraper.Strategy{scraper.Regex(`(\d+\s*Mbps)`)},
			},
			{
				Name:       "wifi",
				Kind:       models.KindBool,
				Strategies: []scraper.Strategy{scraper.Mentions("wifi", "wi-fi", "wireless", "internet")},
			},
			{
				Name: "bedrooms",
				Kind: models.KindNumber,
				Strategies: []scraper.Strategy{
					scraper.Regex(`(?i)(\d+)\s*bedrooms?`),
					scraper.Regex(`(?i)(\d+)\s*chambres?`),
					scraper.Regex(`(?i)(\d+)\s*beds?\b`),
					scraper.Regex(`(?i)bedroom\s*:\s*(\d+)`),
				},
				Parse: services.ParseCount,
			},
			{
				Name: "kitchens",
				Kind: models.KindNumber,
				Strategies: []scraper.Strategy{
					scraper.Regex(`(?i)(\d+)\s*kitchens?`),
					scraper.Regex(`(?i)(\d+)\s*cuisines?`),
					scraper.Regex(`(?i)kitchen\s*:\s*(\d+)`),
					countIfMentioned("kitchen", "kitchenette", "cuisine"),
				},
				Parse: services.ParseCount,
			},
			{
				Name: "surface_m2",
				Kind: models.KindNumber,
				Strategies: []scraper.Strategy{
					scraper.Regex(`(\d+)\s*m²`),
					scraper.Regex(`(\d+)\s*m2\b`),
					scraper.Regex(`(?i)(\d+)\s*square\s*met(?:er|re)s?`),
					scraper.Regex(`(?i)(\d+)\s*sqm`),
				},
				Parse: services.ParseCount,
			},
			{
				Name:       "amenities",
				Kind:       models.KindText,
				Strategies: []scraper.Strategy{amenities()},
			},
			{
				Name: services.ColumnAddress,
				Kind: models.KindText,
				Strategies: []scraper.Strategy{
					scraper.ElementText(`[data-node_tt_id="location_score_tooltip"]`),
					scraper.ElementText(`.hp_address_subtitle`),
					scraper.ElementText(`[data-testid="address"]`),
					scraper.ElementText(`p.address`),
				},
			},
		},
		Dismiss:       Overlays,
		Coordinates:   &coords,
		CategoryField: "category",
		Labels:        Labels,
		Substance:     []string{"price", services.ColumnAddress, services.ColumnZone},
	}
	if opts.ReviewPages > 0 {
		p.Fields = append(p.Fields, travelerFields(reviews, opts)...)
	}
	if opts.ApartmentsOnly {
		p.Classifier = services.Classifier{Excluded: ExcludedKeywords, Included: IncludedKeywords}
	}
	return p
}

func roomPrices(name string, pick func(string) models.Value) scraper.FieldSpec {
	return scraper.FieldSpec{
		Name: name,
		Kind: models.KindNumber,
		Strategies: []scraper.Strategy{
			scraper.Elements(`td.hprt-table-cell-price div.hprt-price-block div.prco-wrapper span.prco-valign-middle-helper`),
			scraper.Elements(`td.hprt-table-cell-price span.prc-no-css`),
			scraper.Elements(`span.hprt-price-price-standard`),
			scraper.RegexAll(`[€$£]\s?(\d{2,5})`),
		},
		Parse: pick,
	}
}

var parenRegexp = regexp.MustCompile(`\(([^)]+)\)`)

// parseCategory reads the category from a breadcrumb like
// "Marrakech (Morocco) (Guest House) (12 properties)": the second
// parenthesised group from the end, or the only one.
func parseCategory(raw string) models.Value {
	raw = strings.TrimSpace(raw)
	m := parenRegexp.FindAllStringSubmatch(raw, -1)
	switch {
	case len(m) >= 2:
		return models.Text(m[len(m)-2][1])
	case len(m) == 1:
		return models.Text(m[0][1])
	case raw != "":
		return models.Text(raw)
	}
	return models.Unknown(models.KindText)
}

var scoreRegexp = regexp.MustCompile(`(\d+[.,]\d+|\d+)\s*$`)

// subscore reads one review sub-score, opening the reviews panel first when
// it is not already on the page.
func subscore(name, label string, panel scraper.Prerequisite) scraper.FieldSpec {
	labelled := scraper.Strategy{
		Name: "subscore " + label,
		Run: func(ctx context.Context, v *scraper.Visit) scraper.Result {
			els, err := v.Page.QueryAll(ctx, `[data-testid="review-subscore"]`)
			if err != nil {
				return scraper.Failed(err)
			}
			for _, el := range els {
				text, err := el.Text(ctx)
				text = strings.TrimSpace(text)
				if err != nil || !strings.HasPrefix(text, label) {
					continue
				}
				if m := scoreRegexp.FindStringSubmatch(text); m != nil {
					return scraper.Found(m[1])
				}
			}
			return scraper.Missing()
		},
	}
	return scraper.FieldSpec{
		Name: name,
		Kind: models.KindNumber,
		Strategies: []scraper.Strategy{
			scraper.After(panel, labelled),
			scraper.After(panel, scraper.Regex(`(?s)`+regexp.QuoteMeta(label)+`\W{1,40}?(\d+[.,]\d)`)),
		},
		Parse: services.ParseScore,
	}
}

// countIfMentioned yields "1" when any keyword appears in the source.
func countIfMentioned(keywords ...string) scraper.Strategy {
	mentions := scraper.Mentions(keywords...)
	return scraper.Strategy{
		Name: "count-if " + mentions.Name,
		Run: func(ctx context.Context, v *scraper.Visit) scraper.Result {
			res := mentions.Run(ctx, v)
			if res.Status != scraper.StatusFound {
				return res
			}
			if res.Raw == "true" {
				return scraper.Found("1")
			}
			return scraper.Missing()
		},
	}
}

var amenityPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"air conditioning", regexp.MustCompile(`(?i)air conditioning|climatisation`)},
	{"parking", regexp.MustCompile(`(?i)parking|garage`)},
	{"balcony", regexp.MustCompile(`(?i)balcony|balcon|terrasse`)},
	{"pool", regexp.MustCompile(`(?i)swimming pool|piscine`)},
	{"gym", regexp.MustCompile(`(?i)fitness|salle de sport`)},
}

// amenities lists detected amenities, comma separated.
func amenities() scraper.Strategy {
	return scraper.Strategy{
		Name: "amenities",
		Run: func(ctx context.Context, v *scraper.Visit) scraper.Result {
			src, err := v.Source(ctx)
			if err != nil {
				return scraper.Failed(err)
			}
			var found []string
			for _, a := range amenityPatterns {
				if a.re.MatchString(src) {
					found = append(found, a.name)
				}
			}
			if len(found) == 0 {
				return scraper.Missing()
			}
			return scraper.Found(strings.Join(found, ", "))
		},
	}
}
