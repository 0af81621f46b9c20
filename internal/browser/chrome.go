// internal/browser/chrome.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tcgscout/tcgscout/internal/config"
	"github.com/tcgscout/tcgscout/internal/observability"
)

const defaultStartupTimeout = 30 * time.Second

// Chrome drives one tab of a dedicated headless Chromium process via chromedp.
type Chrome struct {
	logger *zap.Logger

	// allocCtx owns the browser process; tabCtx is the single tab derived from it.
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

var _ Driver = (*Chrome)(nil)

// Launch starts a browser process and confirms it responds by loading
// about:blank. A browser that does not answer within cfg.StartupTimeout is
// torn down and reported as an error; there is no retry.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Chrome, error) {
	c := &Chrome{logger: logger.Named("browser")}

	c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(cfg)...)

	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(observability.Printf(c.logger, zapcore.DebugLevel)),
		chromedp.WithErrorf(observability.Printf(c.logger, zapcore.DebugLevel)),
	}
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(observability.Printf(c.logger, zapcore.DebugLevel)))
	}
	c.tabCtx, c.tabCancel = chromedp.NewContext(c.allocCtx, ctxOpts...)

	timeout := cfg.StartupTimeout
	if timeout <= 0 {
		timeout = defaultStartupTimeout
	}

	// The first Run allocates the browser, so it must not carry a deadline of
	// its own or the process would die with it.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(c.tabCtx, chromedp.Navigate("about:blank"))
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("browser failed to start or respond: %w", err)
		}
	case <-timer.C:
		c.Close()
		<-started
		return nil, fmt.Errorf("browser did not respond within %s", timeout)
	case <-ctx.Done():
		c.Close()
		<-started
		return nil, fmt.Errorf("browser launch interrupted: %w", ctx.Err())
	}

	c.logger.Debug("Browser launched and responsive.")
	return c, nil
}

func isXPath(sel string) bool {
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(")
}

// queryOption picks XPath search for selectors that look like XPath.
func queryOption(sel string) chromedp.QueryOption {
	if isXPath(sel) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// run executes actions on the tab, bounded by both the tab lifetime and ctx.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(c.tabCtx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && runCtx.Err() != nil {
		// Surface the context error itself so callers can classify timeouts.
		return fmt.Errorf("%w: %v", runCtx.Err(), err)
	}
	return err
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *Chrome) WaitPresent(ctx context.Context, sel string) error {
	return c.run(ctx, chromedp.WaitReady(sel, queryOption(sel)))
}

func (c *Chrome) WaitClickable(ctx context.Context, sel string) error {
	by := queryOption(sel)
	return c.run(ctx,
		chromedp.WaitVisible(sel, by),
		chromedp.WaitEnabled(sel, by),
	)
}

func (c *Chrome) Click(ctx context.Context, sel string) error {
	return c.run(ctx, chromedp.Click(sel, queryOption(sel), chromedp.NodeVisible))
}

func (c *Chrome) SendKeys(ctx context.Context, sel, text string) error {
	return c.run(ctx, chromedp.SendKeys(sel, text, queryOption(sel)))
}

func (c *Chrome) Exists(ctx context.Context, sel string) (bool, error) {
	by := chromedp.ByQueryAll
	if isXPath(sel) {
		by = chromedp.BySearch
	}
	var nodes []*cdp.Node
	// AtLeast(0) makes the query return immediately instead of polling.
	if err := c.run(ctx, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (c *Chrome) OuterHTML(ctx context.Context, sel string) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.OuterHTML(sel, &html, queryOption(sel))); err != nil {
		return "", err
	}
	return html, nil
}

func (c *Chrome) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(actx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(actx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

func (c *Chrome) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	if len(cookies) == 0 {
		return nil
	}
	err := c.run(ctx, chromedp.ActionFunc(func(actx context.Context) error {
		return network.SetCookies(cookies).Do(actx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set %d cookies: %w", len(cookies), err)
	}
	return nil
}

func (c *Chrome) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	// Quality 100 selects PNG encoding.
	if err := c.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create screenshot directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}

// Close closes the tab gracefully, then kills the browser process.
func (c *Chrome) Close() error {
	c.closeOnce.Do(func() {
		if err := chromedp.Cancel(c.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.closeErr = fmt.Errorf("failed to close browser tab: %w", err)
		}
		c.tabCancel()
		c.allocCancel()
		c.logger.Debug("Browser closed.")
	})
	return c.closeErr
}
