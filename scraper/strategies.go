package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ElementText reads the text of the first element matching locator.
func ElementText(locator string) Strategy {
	return Strategy{
		Name: "element " + locator,
		Run: func(ctx context.Context, v *Visit) Result {
			el, err := v.Page.Query(ctx, locator)
			if err != nil {
				return Failed(err)
			}
			if el == nil {
				return Missing()
			}
			text, err := el.Text(ctx)
			if err != nil {
				return Failed(err)
			}
			return Found(text)
		},
	}
}

// Attribute reads attr from the first element matching locator.
func Attribute(locator, attr string) Strategy {
	return Strategy{
		Name: fmt.Sprintf("attr %s[%s]", locator, attr),
		Run: func(ctx context.Context, v *Visit) Result {
			el, err := v.Page.Query(ctx, locator)
			if err != nil {
				return Failed(err)
			}
			if el == nil {
				return Missing()
			}
			val, ok := el.Attr(attr)
			if !ok {
				return Missing()
			}
			return Found(val)
		},
	}
}

// Elements reads the text of every element matching locator, one per line.
func Elements(locator string) Strategy {
	return Strategy{
		Name: "elements " + locator,
		Run: func(ctx context.Context, v *Visit) Result {
			els, err := v.Page.QueryAll(ctx, locator)
			if err != nil {
				return Failed(err)
			}
			var lines []string
			for _, el := range els {
				text, err := el.Text(ctx)
				if err != nil {
					continue
				}
				if text = strings.TrimSpace(text); text != "" {
					lines = append(lines, text)
				}
			}
			if len(lines) == 0 {
				return Missing()
			}
			return Found(strings.Join(lines, "\n"))
		},
	}
}

// Regex matches pattern against the raw page source. With one capture group
// the group is returned; with several they are joined by commas.
func Regex(pattern string) Strategy {
	re := regexp.MustCompile(pattern)
	return Strategy{
		Name: "regex " + pattern,
		Run: func(ctx context.Context, v *Visit) Result {
			src, err := v.Source(ctx)
			if err != nil {
				return Failed(err)
			}
			m := re.FindStringSubmatch(src)
			if m == nil {
				return Missing()
			}
			return Found(joinGroups(m))
		},
	}
}

// RegexAll returns the first capture group of every match, one per line.
func RegexAll(pattern string) Strategy {
	re := regexp.MustCompile(pattern)
	return Strategy{
		Name: "regex-all " + pattern,
		Run: func(ctx context.Context, v *Visit) Result {
			src, err := v.Source(ctx)
			if err != nil {
				return Failed(err)
			}
			matches := re.FindAllStringSubmatch(src, -1)
			if len(matches) == 0 {
				return Missing()
			}
			lines := make([]string, 0, len(matches))
			for _, m := range matches {
				lines = append(lines, joinGroups(m))
			}
			return Found(strings.Join(lines, "\n"))
		},
	}
}

// Selector queries the raw source with goquery instead of the live page.
// It still works when the DOM handle is unusable but the HTML arrived.
func Selector(selector string) Strategy {
	return Strategy{
		Name: "source " + selector,
		Run: func(ctx context.Context, v *Visit) Result {
			doc, err := v.Document(ctx)
			if err != nil {
				return Failed(err)
			}
			sel := doc.Find(selector).First()
			if sel.Length() == 0 {
				return Missing()
			}
			return Found(strings.TrimSpace(sel.Text()))
		},
	}
}

// Mentions reports "true" when any keyword occurs in the source
// (case-insensitive) and "false" otherwise. It never misses.
func Mentions(keywords ...string) Strategy {
	return Strategy{
		Name: "mentions " + strings.Join(keywords, "|"),
		Run: func(ctx context.Context, v *Visit) Result {
			src, err := v.Source(ctx)
			if err != nil {
				return Failed(err)
			}
			lower := strings.ToLower(src)
			for _, k := range keywords {
				if strings.Contains(lower, strings.ToLower(k)) {
					return Found("true")
				}
			}
			return Found("false")
		},
	}
}

// Refine narrows a found value to the first capture group of pattern.
func Refine(s Strategy, pattern string) Strategy {
	re := regexp.MustCompile(pattern)
	return Strategy{
		Name: s.Name + " ~ " + pattern,
		Run: func(ctx context.Context, v *Visit) Result {
			res := s.Run(ctx, v)
			if res.Status != StatusFound {
				return res
			}
			m := re.FindStringSubmatch(res.Raw)
			if m == nil {
				return Missing()
			}
			return Found(joinGroups(m))
		},
	}
}

// Prerequisite is a UI interaction a strategy depends on, such as opening a
// reviews panel. Key identifies it within a Visit.
type Prerequisite struct {
	Key string
	Run func(ctx context.Context, page Page) error
}

// After runs pre (once per Visit) before s. A failed prerequisite fails s.
func After(pre Prerequisite, s Strategy) Strategy {
	return Strategy{
		Name: s.Name + " after " + pre.Key,
		Run: func(ctx context.Context, v *Visit) Result {
			err := v.Once(ctx, pre.Key, func(ctx context.Context) error {
				return pre.Run(ctx, v.Page)
			})
			if err != nil {
				return Failed(fmt.Errorf("prerequisite %s: %w", pre.Key, err))
			}
			return s.Run(ctx, v)
		},
	}
}

// ClickFirst clicks the first locator that resolves, then waits up to
// timeout for ready to appear. An already visible ready element means the
// panel is open and nothing is clicked.
func ClickFirst(key string, locators []string, ready string, timeout time.Duration) Prerequisite {
	return Prerequisite{
		Key: key,
		Run: func(ctx context.Context, page Page) error {
			if ready != "" && Exists(ctx, page, ready) {
				return nil
			}
			for _, loc := range locators {
				el, err := page.Query(ctx, loc)
				if err != nil || el == nil {
					continue
				}
				if err := el.Click(ctx); err != nil {
					continue
				}
				if ready == "" {
					return nil
				}
				if page.WaitUntil(ctx, func(c context.Context) bool { return Exists(c, page, ready) }, timeout) {
					return nil
				}
				return fmt.Errorf("clicked %q but %q never appeared", loc, ready)
			}
			return fmt.Errorf("none of %d locators resolved", len(locators))
		},
	}
}

// DismissOverlays clicks, for each group, the first locator that resolves.
// Nothing resolving is not an error; only ctx ends it early.
func DismissOverlays(key string, groups ...[]string) Prerequisite {
	return Prerequisite{
		Key: key,
		Run: func(ctx context.Context, page Page) error {
			for _, locators := range groups {
				for _, loc := range locators {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					el, err := page.Query(ctx, loc)
					if err != nil || el == nil {
						continue
					}
					if el.Click(ctx) == nil {
						break
					}
				}
			}
			return ctx.Err()
		},
	}
}

// Try runs pre directly on page when it is set, outside any Visit.
func (pre Prerequisite) Try(ctx context.Context, page Page) error {
	if pre.Run == nil {
		return nil
	}
	return pre.Run(ctx, page)
}

func joinGroups(m []string) string {
	if len(m) == 1 {
		return m[0]
	}
	return strings.Join(m[1:], ",")
}
