// File: internal/browser/crawler.go

// Package browser drives a headless Chrome instance and translates between
// page DOM and the element descriptors the controller reasons about.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// Crawler owns one browser tab for the lifetime of a session. Each harvested
// element is tagged in the DOM with a stable data attribute so commands can
// address it later by id.
type Crawler struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// New launches the browser process, opens a tab and navigates it to the
// configured start page.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Crawler, error) {
	c := &Crawler{
		cfg:    cfg,
		logger: logger.Named("browser"),
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	c.tabCtx, c.tabCancel = chromedp.NewContext(c.allocCtx)

	if err := c.GoTo(ctx, cfg.StartPage); err != nil {
		c.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open start page: %w", err)
	}
	c.logger.Info("Browser launched", zap.String("start_page", cfg.StartPage), zap.Bool("headless", cfg.Headless))
	return c, nil
}

// GoTo navigates the tab to url and waits for the document to be ready.
func (c *Crawler) GoTo(ctx context.Context, url string) error {
	if !strings.Contains(url, "://") {
		url = "https://" + url
	}
	runCtx, cancel := c.opContext(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Crawl returns the tab's current URL and the element descriptors of the
// page, interactable elements first.
func (c *Crawler) Crawl(ctx context.Context) (string, []schemas.PageElement, error) {
	runCtx, cancel := c.opContext(ctx)
	defer cancel()

	var url string
	var raw []string
	if err := chromedp.Run(runCtx,
		chromedp.Location(&url),
		chromedp.Evaluate(harvestScript, &raw),
	); err != nil {
		return "", nil, fmt.Errorf("failed to crawl page: %w", err)
	}

	elements := make([]schemas.PageElement, len(raw))
	for i, r := range raw {
		elements[i] = schemas.PageElement(r)
	}
	c.logger.Debug("Page crawled", zap.String("url", url), zap.Int("elements", len(elements)))
	return url, elements, nil
}

// RunCommand executes a click or type command against the elements tagged by
// the most recent Crawl.
func (c *Crawler) RunCommand(ctx context.Context, cmd schemas.Command) error {
	action, id, payload, err := parseCommand(cmd)
	if err != nil {
		return err
	}
	sel := fmt.Sprintf(`[data-webpilot-id="%s"]`, id)

	runCtx, cancel := c.opContext(ctx)
	defer cancel()

	switch action {
	case "click":
		err = chromedp.Run(runCtx,
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		)
	case "type":
		err = chromedp.Run(runCtx,
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Focus(sel, chromedp.ByQuery),
			chromedp.Clear(sel, chromedp.ByQuery),
			chromedp.SendKeys(sel, payload, chromedp.ByQuery),
		)
	default:
		return fmt.Errorf("unknown action %q in command %q", action, cmd)
	}
	if err != nil {
		return fmt.Errorf("failed to run command %q: %w", cmd, err)
	}
	c.logger.Info("Command executed", zap.String("command", string(cmd)))
	return nil
}

// Shutdown closes the tab and kills the browser process.
func (c *Crawler) Shutdown(_ context.Context) error {
	if c.tabCancel != nil {
		c.tabCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.logger.Info("Browser shut down")
	return nil
}

// opContext bounds one browser operation by the navigation timeout.
func (c *Crawler) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// The chromedp context carries the tab; the caller's ctx only bounds time.
	opCtx, cancel := context.WithTimeout(c.tabCtx, timeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(time.Now().Add(timeout)) {
		cancel()
		return context.WithDeadline(c.tabCtx, deadline)
	}
	return opCtx, cancel
}

// parseCommand splits "click link [7]" or "type input [3] some text" into its
// action, element id and payload.
func parseCommand(cmd schemas.Command) (action, id, payload string, err error) {
	fields := strings.Fields(string(cmd))
	if len(fields) < 2 {
		return "", "", "", fmt.Errorf("malformed command %q", cmd)
	}
	action = fields[0]

	bracket := -1
	for i, f := range fields {
		if strings.HasPrefix(f, "[") && strings.HasSuffix(f, "]") {
			bracket = i
			break
		}
	}
	if bracket < 0 {
		return "", "", "", fmt.Errorf("command %q names no element id", cmd)
	}
	id = strings.Trim(fields[bracket], "[]")
	if bracket+1 < len(fields) {
		payload = strings.Join(fields[bracket+1:], " ")
	}
	return action, id, payload, nil
}

// harvestScript tags every visible interactable element with a sequential id
// and returns one descriptor per element: "<tag> [<id>] <label>". Headings are
// appended as untargetable "text" descriptors for context.
const harvestScript = `(() => {
	const out = [];
	let id = 0;
	const tagOf = (el) => {
		const t = el.tagName.toLowerCase();
		if (t === 'a') return 'link';
		if (t === 'button') return 'button';
		if (t === 'input') {
			const ty = (el.type || '').toLowerCase();
			if (ty === 'button' || ty === 'submit' || ty === 'reset') return 'button';
			if (ty === 'hidden') return '';
			return 'input';
		}
		if (t === 'textarea') return 'textarea';
		if (t === 'select') return 'select';
		return '';
	};
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
	};
	const label = (el) => {
		const text = el.innerText || el.value || el.placeholder ||
			el.getAttribute('aria-label') || el.name || el.title || '';
		return text.replace(/\s+/g, ' ').trim().slice(0, 120);
	};
	document.querySelectorAll('a, button, input, textarea, select').forEach((el) => {
		const tag = tagOf(el);
		if (!tag || !visible(el)) return;
		el.setAttribute('data-webpilot-id', String(id));
		out.push(tag + ' [' + id + '] ' + label(el));
		id++;
	});
	document.querySelectorAll('h1, h2, h3').forEach((el) => {
		if (!visible(el)) return;
		const text = label(el);
		if (!text) return;
		out.push('text [' + id + '] ' + text);
		id++;
	});
	return out;
})()`
