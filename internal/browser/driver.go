// internal/browser/driver.go
package browser

import (
	"context"

	"github.com/chromedp/cdproto/network"
)

// Driver is the narrow set of page operations the scraper needs from a single
// browser tab. Selectors starting with "/" or "(" are treated as XPath, all
// others as CSS. Every method honours ctx cancellation and deadlines.
type Driver interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// WaitPresent blocks until sel matches a node in the DOM.
	WaitPresent(ctx context.Context, sel string) error
	// WaitClickable blocks until sel matches a visible, enabled node.
	WaitClickable(ctx context.Context, sel string) error
	Click(ctx context.Context, sel string) error
	// SendKeys types text into the first node matching sel. Special keys from
	// the cdproto kb package may be embedded in text.
	SendKeys(ctx context.Context, sel, text string) error
	// Exists reports whether sel currently matches any node, without waiting.
	Exists(ctx context.Context, sel string) (bool, error)
	// OuterHTML returns the serialized markup of the first node matching sel.
	OuterHTML(ctx context.Context, sel string) (string, error)
	// Cookies returns every cookie visible to the current page.
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	SetCookies(ctx context.Context, cookies []*network.CookieParam) error
	// Screenshot captures the full page as a PNG and writes it to path.
	Screenshot(ctx context.Context, path string) error
	// Close releases the tab and the browser process. It is safe to call more than once.
	Close() error
}
