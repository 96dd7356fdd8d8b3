package scraper

import (
	"context"
	"strings"
	"time"

	"booking-scraper/utils"
)

// DiscoveryProfile describes a search-results page: where the item links
// are, what signals the results rendered, and how to reach more of them.
type DiscoveryProfile struct {
	// ItemLinks locates the anchors of individual listings.
	ItemLinks string
	// ContentReady locators; any match means the results rendered.
	ContentReady []string
	// NextPage lists alternative "next page" / "load more" locators.
	// The first that resolves wins.
	NextPage []string
	// BlockMarkers are lower-case snippets of a captcha or error page.
	BlockMarkers []string
	// EmptyMarkers are lower-case snippets of a zero-results page.
	EmptyMarkers []string
	// Dismiss clears overlays once after each page load.
	Dismiss Prerequisite

	ReadyTimeout time.Duration
	SettleDelay  time.Duration
	MaxPages     int
}

// StopReason says why a discovery loop ended.
type StopReason string

const (
	StopCap       StopReason = "cap"
	StopSaturated StopReason = "saturated"
	StopPageLimit StopReason = "page-limit"
	StopBlocked   StopReason = "blocked"
	StopEmpty     StopReason = "empty"
	StopNoNext    StopReason = "no-next"
	StopError     StopReason = "error"
	StopCanceled  StopReason = "canceled"
)

// DiscoveryResult is the outcome of one search query.
type DiscoveryResult struct {
	Query  string
	URLs   []string
	Pages  int
	Reason StopReason
	Err    error
}

// Discoverer walks paginated search results collecting listing URLs.
type Discoverer struct {
	Profile DiscoveryProfile
	Logger  *utils.Logger
	Retry   *utils.RetryConfig
}

// NewDiscoverer creates a Discoverer with sane bounds filled in.
func NewDiscoverer(profile DiscoveryProfile, logger *utils.Logger, retry *utils.RetryConfig) *Discoverer {
	if profile.ReadyTimeout <= 0 {
		profile.ReadyTimeout = 15 * time.Second
	}
	if profile.MaxPages <= 0 {
		profile.MaxPages = 50
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 1}
	}
	return &Discoverer{Profile: profile, Logger: logger.With("component", "discoverer"), Retry: retry}
}

// Discover collects listing URLs for query into seen, which is shared across
// queries so deduplication and the overall limit (0 = none) span the whole
// run. It returns the original URLs newly added by this query. Blocked and
// failing pages end the loop early with whatever was collected so far.
func (d *Discoverer) Discover(ctx context.Context, page Page, query string, seen *utils.URLSet, limit int) DiscoveryResult {
	res := DiscoveryResult{Query: query}
	p := d.Profile

	err := d.Retry.Do(ctx, "discover-navigate", func() error {
		return page.Navigate(ctx, query)
	})
	if err != nil {
		return d.stop(res, StopError, utils.NewError(utils.KindDiscovery, "navigate", query, err))
	}
	fresh := true

	for {
		if ctx.Err() != nil {
			return d.stop(res, StopCanceled, ctx.Err())
		}
		res.Pages++

		ready := page.WaitUntil(ctx, d.contentReady(page), p.ReadyTimeout)
		if fresh {
			if err := p.Dismiss.Try(ctx, page); err != nil {
				d.Logger.Debug("[discover] dismissing overlays on page %d: %v", res.Pages, err)
			}
			fresh = false
		}
		if reason, hit := d.pageVerdict(ctx, page); hit {
			return d.stop(res, reason, nil)
		}
		if !ready {
			if ctx.Err() != nil {
				return d.stop(res, StopCanceled, ctx.Err())
			}
			return d.stop(res, StopEmpty, nil)
		}

		if err := page.ScrollToBottom(ctx); err != nil {
			d.Logger.Debug("[discover] scroll failed on page %d: %v", res.Pages, err)
		}
		_ = utils.Sleep(ctx, p.SettleDelay)

		added, capped := d.collect(ctx, page, seen, limit)
		res.URLs = append(res.URLs, added...)
		d.Logger.Info("[discover] page %d: +%d new (%d total)", res.Pages, len(added), seen.Size())

		switch {
		case capped:
			return d.stop(res, StopCap, nil)
		case len(added) == 0:
			return d.stop(res, StopSaturated, nil)
		case res.Pages >= p.MaxPages:
			return d.stop(res, StopPageLimit, nil)
		}

		next, navigated, err := d.advance(ctx, page)
		if err != nil {
			return d.stop(res, StopError, utils.NewError(utils.KindDiscovery, "advance", page.CurrentURL(ctx), err))
		}
		if !next {
			return d.stop(res, StopNoNext, nil)
		}
		fresh = navigated
		_ = utils.Sleep(ctx, p.SettleDelay)
	}
}

func (d *Discoverer) stop(res DiscoveryResult, reason StopReason, err error) DiscoveryResult {
	res.Reason = reason
	res.Err = err
	if err != nil && reason != StopCanceled {
		d.Logger.Warn("[discover] %s stopped after %d pages (%s): %v", res.Query, res.Pages, reason, err)
	} else {
		d.Logger.Info("[discover] %s stopped after %d pages (%s), %d urls", res.Query, res.Pages, reason, len(res.URLs))
	}
	return res
}

func (d *Discoverer) contentReady(page Page) func(context.Context) bool {
	locators := d.Profile.ContentReady
	if len(locators) == 0 {
		locators = []string{d.Profile.ItemLinks}
	}
	return func(ctx context.Context) bool {
		for _, loc := range locators {
			if Exists(ctx, page, loc) {
				return true
			}
		}
		return false
	}
}

// pageVerdict inspects the page text for block and empty-result markers.
func (d *Discoverer) pageVerdict(ctx context.Context, page Page) (StopReason, bool) {
	if len(d.Profile.BlockMarkers) == 0 && len(d.Profile.EmptyMarkers) == 0 {
		return "", false
	}
	src, err := page.RawSource(ctx)
	if err != nil {
		return "", false
	}
	lower := strings.ToLower(src)
	for _, m := range d.Profile.BlockMarkers {
		if strings.Contains(lower, m) {
			return StopBlocked, true
		}
	}
	for _, m := range d.Profile.EmptyMarkers {
		if strings.Contains(lower, m) {
			return StopEmpty, true
		}
	}
	return "", false
}

// collect merges the page's item links into seen. capped reports that the
// limit was reached.
func (d *Discoverer) collect(ctx context.Context, page Page, seen *utils.URLSet, limit int) (added []string, capped bool) {
	els, err := page.QueryAll(ctx, d.Profile.ItemLinks)
	if err != nil {
		d.Logger.Warn("[discover] collecting links: %v", err)
		return nil, false
	}
	base := page.CurrentURL(ctx)
	for _, el := range els {
		if limit > 0 && seen.Size() >= limit {
			return added, true
		}
		href, ok := el.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			continue
		}
		u := ResolveURL(base, href)
		if seen.Add(u) {
			added = append(added, u)
		}
	}
	return added, limit > 0 && seen.Size() >= limit
}

// advance follows the first next-page affordance that resolves. Anchors are
// navigated to directly, which navigated reports; anything else is clicked.
func (d *Discoverer) advance(ctx context.Context, page Page) (next, navigated bool, err error) {
	for _, loc := range d.Profile.NextPage {
		el, err := page.Query(ctx, loc)
		if err != nil || el == nil {
			continue
		}
		if href, ok := el.Attr("href"); ok && href != "" && !strings.HasPrefix(href, "#") {
			target := ResolveURL(page.CurrentURL(ctx), href)
			return true, true, d.Retry.Do(ctx, "discover-next", func() error {
				return page.Navigate(ctx, target)
			})
		}
		return true, false, el.Click(ctx)
	}
	return false, false, nil
}
