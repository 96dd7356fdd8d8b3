package booking

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"booking-scraper/models"
	"booking-scraper/scraper"
	"booking-scraper/services"
)

const (
	customerTypeSelect = `select[name="customerType"]`
	reviewCards        = `[data-testid="review-card"]`
	reviewTravelerType = `[data-testid="review-traveler-type"]`
)

var reviewNextPage = []string{
	`#reviewCardsSection button[aria-label="Next page"]`,
	`#reviewCardsSection div:nth-child(2) > div:nth-child(1) button:last-child`,
}

// TravelerTypes maps normalized reviewer labels to report groups. Labels
// missing from the table are skipped.
var TravelerTypes = map[string]string{
	"couple":             "couples",
	"couples":            "couples",
	"group":              "groups_friends",
	"group_of_friends":   "groups_friends",
	"groups_friends":     "groups_friends",
	"solo_traveler":      "solo_travelers",
	"solo_traveller":     "solo_travelers",
	"solo_travelers":     "solo_travelers",
	"family":             "families",
	"families":           "families",
	"business_traveler":  "business_travellers",
	"business_traveller": "business_travellers",
}

// TravelerGroups lists the groups averaged per listing, "all" first.
var TravelerGroups = []string{"all", "families", "couples", "solo_travelers", "business_travellers", "groups_friends"}

// normalizeTravelerType lower-cases label, turns spaces and dashes into
// underscores and looks the result up in table.
func normalizeTravelerType(label string, table map[string]string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	group, ok := table[key]
	return group, ok
}

type travelerTally struct {
	scores map[string][]float64
}

func newTravelerTally() *travelerTally {
	return &travelerTally{scores: make(map[string][]float64)}
}

func (t *travelerTally) add(group string, score float64) {
	t.scores[group] = append(t.scores[group], score)
	t.scores["all"] = append(t.scores["all"], score)
}

func (t *travelerTally) stat(group string) (avg float64, n int) {
	s := t.scores[group]
	if len(s) == 0 {
		return 0, 0
	}
	var sum float64
	for _, f := range s {
		sum += f
	}
	return math.Round(sum/float64(len(s))*100) / 100, len(s)
}

var scoredRegexp = regexp.MustCompile(`Scored\s*(\d{1,2}(?:[.,]\d)?)`)

// cardScore reads "Scored N" from a review card's aria labels or text.
func cardScore(card *goquery.Selection) (float64, bool) {
	raw := ""
	card.Find(`[aria-label]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label, _ := s.Attr("aria-label")
		if scoredRegexp.MatchString(label) {
			raw = label
			return false
		}
		return true
	})
	if raw == "" {
		raw = card.Text()
	}
	m := scoredRegexp.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || f < 0 || f > 10 {
		return 0, false
	}
	return f, true
}

// readReviewPage tallies the cards on the current page and returns the
// first card's text so the walk can tell when the next page has loaded.
func readReviewPage(ctx context.Context, page scraper.Page, t *travelerTally, table map[string]string) (string, int, error) {
	src, err := page.RawSource(ctx)
	if err != nil {
		return "", 0, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return "", 0, err
	}
	cards := doc.Find(reviewCards)
	cards.Each(func(_ int, card *goquery.Selection) {
		group, ok := normalizeTravelerType(card.Find(reviewTravelerType).First().Text(), table)
		if !ok {
			return
		}
		if score, ok := cardScore(card); ok {
			t.add(group, score)
		}
	})
	return strings.TrimSpace(cards.First().Text()), cards.Length(), nil
}

func firstCardText(ctx context.Context, page scraper.Page) string {
	el, err := page.Query(ctx, reviewCards)
	if err != nil || el == nil {
		return ""
	}
	text, _ := el.Text(ctx)
	return strings.TrimSpace(text)
}

// nextReviewPage returns the enabled next-page button, or nil on the last page.
func nextReviewPage(ctx context.Context, page scraper.Page) scraper.Element {
	for _, loc := range reviewNextPage {
		el, err := page.Query(ctx, loc)
		if err != nil || el == nil {
			continue
		}
		if _, ok := el.Attr("disabled"); ok {
			return nil
		}
		if aria, _ := el.Attr("aria-disabled"); aria == "true" {
			return nil
		}
		if class, _ := el.Attr("class"); strings.Contains(class, "disabled") {
			return nil
		}
		return el
	}
	return nil
}

// walkReviews tallies up to maxPages pages of review cards. A walk cut short
// keeps what it has read; it fails only when nothing was read.
func walkReviews(ctx context.Context, page scraper.Page, maxPages int, timeout time.Duration, table map[string]string) (*travelerTally, error) {
	t := newTravelerTally()
	for n := 1; ; n++ {
		first, cards, err := readReviewPage(ctx, page, t, table)
		if err != nil {
			if n == 1 {
				return nil, fmt.Errorf("read review page: %w", err)
			}
			return t, nil
		}
		if cards == 0 || n >= maxPages {
			return t, nil
		}
		next := nextReviewPage(ctx, page)
		if next == nil {
			return t, nil
		}
		if err := next.Click(ctx); err != nil {
			return t, nil
		}
		turned := page.WaitUntil(ctx, func(c context.Context) bool {
			text := firstCardText(c, page)
			return text != "" && text != first
		}, timeout)
		if !turned {
			return t, nil
		}
	}
}

// allTravelers shows reviews from every traveler type and waits for the
// first review card.
func allTravelers(timeout time.Duration) scraper.Prerequisite {
	return scraper.Prerequisite{
		Key: "reviews-all-travelers",
		Run: func(ctx context.Context, page scraper.Page) error {
			if sel, ok := page.(scraper.OptionSelector); ok && scraper.Exists(ctx, page, customerTypeSelect) {
				if err := sel.SelectOption(ctx, customerTypeSelect, "ALL"); err != nil {
					return err
				}
			}
			if !page.WaitUntil(ctx, func(c context.Context) bool { return scraper.Exists(c, page, reviewCards) }, timeout) {
				return fmt.Errorf("no %s within %v", reviewCards, timeout)
			}
			return nil
		},
	}
}

// travelerFields declares the per-group average score and review count
// fields. All of them share one walk of the review pages.
func travelerFields(panel scraper.Prerequisite, opts PropertyOptions) []scraper.FieldSpec {
	filter := allTravelers(opts.PanelTimeout)
	table := opts.TravelerTypes
	if table == nil {
		table = TravelerTypes
	}
	tally := func(ctx context.Context, v *scraper.Visit) (*travelerTally, error) {
		got, err := v.Memo(ctx, "traveler-reviews", func(ctx context.Context) (any, error) {
			return walkReviews(ctx, v.Page, opts.ReviewPages, opts.PanelTimeout, table)
		})
		if err != nil {
			return nil, err
		}
		return got.(*travelerTally), nil
	}
	read := func(group string, count bool) scraper.Strategy {
		s := scraper.Strategy{
			Name: "traveler reviews " + group,
			Run: func(ctx context.Context, v *scraper.Visit) scraper.Result {
				t, err := tally(ctx, v)
				if err != nil {
					return scraper.Failed(err)
				}
				avg, n := t.stat(group)
				if count {
					return scraper.Found(strconv.Itoa(n))
				}
				if n == 0 {
					return scraper.Missing()
				}
				return scraper.Found(strconv.FormatFloat(avg, 'f', 2, 64))
			},
		}
		return scraper.After(panel, scraper.After(filter, s))
	}

	walk := opts.PanelTimeout * time.Duration(opts.ReviewPages+2)
	var fields []scraper.FieldSpec
	for _, group := range TravelerGroups {
		fields = append(fields,
			scraper.FieldSpec{
				Name:       "avg_review_score_" + group,
				Kind:       models.KindNumber,
				Strategies: []scraper.Strategy{read(group, false)},
				Parse:      services.ParseScore,
				Timeout:    walk,
			},
			scraper.FieldSpec{
				Name:       "avg_review_score_" + group + "_count",
				Kind:       models.KindNumber,
				Strategies: []scraper.Strategy{read(group, true)},
				Parse:      services.ParseCount,
				Timeout:    walk,
			},
		)
	}
	return fields
}
