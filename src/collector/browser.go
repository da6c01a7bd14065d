package collector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/username/depositmirror/backend/src/models"
)

// extractRowsJS pulls every listing row's cell text, in column order, out of
// the rendered table.
const extractRowsJS = `Array.from(document.querySelectorAll('table tbody tr'))
	.map(tr => Array.from(tr.querySelectorAll('td')).map(td => td.innerText))`

// BrowserCollector drives a shared headless browser. The authenticated
// session (cookie state) is shared across concurrent fetches; each FetchPage
// call gets its own isolated tab, torn down on every exit path.
type BrowserCollector struct {
	cfg  Config
	host string

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	closeOnce sync.Once
}

// NewBrowserCollector launches the headless browser and injects the two
// upstream session cookies scoped to the target host. The returned collector
// must be Closed by the caller.
func NewBrowserCollector(ctx context.Context, cfg Config) (*BrowserCollector, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL %q: %w", cfg.BaseURL, err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	c := &BrowserCollector{
		cfg:           cfg,
		host:          u.Hostname(),
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}

	// Start the browser process eagerly so a broken Chrome install fails at
	// construction, not mid-run.
	if err := chromedp.Run(browserCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("launching headless browser: %w", err)
	}
	return c, nil
}

// FetchPage renders one listing page in a fresh tab and scrapes the table.
func (c *BrowserCollector) FetchPage(ctx context.Context, page int) ([]models.RawRow, error) {
	if err := c.browserCtx.Err(); err != nil {
		return nil, &FetchError{Page: page, Reason: ReasonNetwork,
			Err: fmt.Errorf("browser disconnected: %w", err)}
	}

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()

	// Honor the caller's cancellation as well as the tab's own lifetime.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	navCtx, cancelNav := context.WithTimeout(tabCtx, c.cfg.NavigateTimeout)
	defer cancelNav()

	err := chromedp.Run(navCtx,
		c.setSessionCookies(),
		chromedp.Navigate(c.cfg.pageURL(page)),
	)
	if err != nil {
		return nil, c.fetchErr(ctx, page, ReasonNetwork, err)
	}

	waitCtx, cancelWait := context.WithTimeout(tabCtx, c.cfg.TableTimeout)
	defer cancelWait()

	if err := chromedp.Run(waitCtx, chromedp.WaitVisible("table tbody", chromedp.ByQuery)); err != nil {
		return nil, c.fetchErr(ctx, page, ReasonRender, err)
	}

	var cells [][]string
	if err := chromedp.Run(waitCtx, chromedp.Evaluate(extractRowsJS, &cells)); err != nil {
		return nil, c.fetchErr(ctx, page, ReasonRender, err)
	}

	rows := make([]models.RawRow, 0, len(cells))
	for i, rowCells := range cells {
		if len(rowCells) == 0 {
			continue
		}
		row := rowFromCells(rowCells, page, i)
		// The upstream renders a single placeholder row while the table is
		// still loading; it is not data.
		if strings.TrimSpace(row.Order) == c.cfg.LoadingPlaceholder {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// setSessionCookies injects both upstream credentials scoped to the target host.
func (c *BrowserCollector) setSessionCookies() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		cookies := []struct{ name, value string }{
			{"XSRF-TOKEN", c.cfg.XSRFToken},
			{c.cfg.SessionCookieName, c.cfg.SessionToken},
		}
		for _, ck := range cookies {
			err := network.SetCookie(ck.name, ck.value).
				WithDomain(c.host).
				WithPath("/").
				Do(ctx)
			if err != nil {
				return fmt.Errorf("setting cookie %s: %w", ck.name, err)
			}
		}
		return nil
	})
}

// fetchErr classifies a chromedp failure, distinguishing deadline expiry
// from caller cancellation and render failures.
func (c *BrowserCollector) fetchErr(ctx context.Context, page int, reason string, err error) *FetchError {
	if ctx.Err() != nil {
		return &FetchError{Page: page, Reason: ReasonNetwork, Err: ctx.Err()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Page: page, Reason: ReasonTimeout, Err: err}
	}
	return &FetchError{Page: page, Reason: reason, Err: err}
}

// Close tears down the browser process and its allocator.
func (c *BrowserCollector) Close() error {
	c.closeOnce.Do(func() {
		c.browserCancel()
		c.allocCancel()
	})
	return nil
}
