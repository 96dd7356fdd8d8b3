package scraper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"booking-scraper/utils"
)

// ChromeOptions configures one headless browser session.
type ChromeOptions struct {
	ExecPath    string
	Headless    bool
	UserAgent   string
	StartupWait time.Duration
	// PageTimeout bounds one navigation. Zero means no bound beyond ctx.
	PageTimeout time.Duration
}

// ChromePage drives a dedicated Chrome instance through chromedp. Every
// ChromePage owns its own allocator, so no browser is shared across workers.
type ChromePage struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	pageTimeout time.Duration
	lastURL     string
}

// NewChromeSession starts a browser and returns a page bound to its first tab.
func NewChromeSession(parent context.Context, opts ChromeOptions) (*ChromePage, error) {
	execPath := opts.ExecPath
	if execPath == "" {
		execPath = findChromeBinary()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(1440, 900),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(execPath))
	}

	// The browser must outlive any per-request deadline on parent.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(parent), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	startup := opts.StartupWait
	if startup <= 0 {
		startup = 60 * time.Second
	}
	// The first Run allocates the browser and must not carry a deadline of
	// its own, or the browser dies with it.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	var err error
	select {
	case err = <-started:
	case <-time.After(startup):
		err = fmt.Errorf("no response after %v", startup)
	case <-parent.Done():
		err = parent.Err()
	}
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &ChromePage{tabCtx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc, pageTimeout: opts.PageTimeout}, nil
}

// NewChromeSessionFactory returns a factory that starts one browser per call.
func NewChromeSessionFactory(opts ChromeOptions) SessionFactory {
	return func(ctx context.Context) (Page, error) {
		return NewChromeSession(ctx, opts)
	}
}

// run executes actions on the tab, bounded by ctx's deadline and
// cancellation. A dead tab is reported as ErrSessionLost.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.tabCtx.Err() != nil {
		return utils.ErrSessionLost
	}

	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && p.tabCtx.Err() != nil {
		return fmt.Errorf("%w: %v", utils.ErrSessionLost, err)
	}
	return err
}

func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	if p.pageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.pageTimeout)
		defer cancel()
	}
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	p.lastURL = url
	return nil
}

func (p *ChromePage) Query(ctx context.Context, locator string) (Element, error) {
	nodes, err := p.nodes(ctx, locator)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return &chromeElement{page: p, node: nodes[0]}, nil
}

func (p *ChromePage) QueryAll(ctx context.Context, locator string) ([]Element, error) {
	nodes, err := p.nodes(ctx, locator)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &chromeElement{page: p, node: n})
	}
	return out, nil
}

func (p *ChromePage) nodes(ctx context.Context, locator string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, chromedp.Nodes(locator, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", locator, err)
	}
	return nodes, nil
}

func (p *ChromePage) RawSource(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page source: %w", err)
	}
	return html, nil
}

func (p *ChromePage) WaitUntil(ctx context.Context, predicate func(context.Context) bool, timeout time.Duration) bool {
	return pollUntil(ctx, predicate, timeout)
}

func (p *ChromePage) ScrollToBottom(ctx context.Context) error {
	return p.run(ctx, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
}

var _ OptionSelector = (*ChromePage)(nil)

// SelectOption sets the value of the <select> matching locator and fires
// its change event so the page's listeners react.
func (p *ChromePage) SelectOption(ctx context.Context, locator, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return false; }
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return true;
	})()`, locator)
	var fired bool
	if err := p.run(ctx,
		chromedp.SetValue(locator, value, chromedp.ByQuery),
		chromedp.Evaluate(script, &fired),
	); err != nil {
		return fmt.Errorf("select %s=%s: %w", locator, value, err)
	}
	if !fired {
		return fmt.Errorf("select %s: not found", locator)
	}
	return nil
}

func (p *ChromePage) CurrentURL(ctx context.Context) string {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil || loc == "" {
		return p.lastURL
	}
	return loc
}

func (p *ChromePage) Close() error {
	p.cancelTab()
	p.cancelAlloc()
	return nil
}

type chromeElement struct {
	page *ChromePage
	node *cdp.Node
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.page.run(ctx, chromedp.Text([]cdp.NodeID{e.node.NodeID}, &text, chromedp.ByNodeID))
	return text, err
}

func (e *chromeElement) Attr(name string) (string, bool) {
	return e.node.Attribute(name)
}

func (e *chromeElement) Click(ctx context.Context) error {
	return e.page.run(ctx, chromedp.Click([]cdp.NodeID{e.node.NodeID}, chromedp.ByNodeID))
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
