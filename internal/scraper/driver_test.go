package scraper

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/network"

	"github.com/tcgscout/tcgscout/internal/browser"
	"github.com/tcgscout/tcgscout/internal/config"
)

// fakeDriver is a scripted stand-in for a browser tab. Selectors are present
// unless listed in missing; the account link is present only while the jar
// holds a session cookie the fake site accepts.
type fakeDriver struct {
	t   *testing.T
	sel config.SelectorConfig

	mu sync.Mutex

	jar         map[string]*network.Cookie
	validToken  string // session_id value the site accepts
	loginOK     bool   // whether submitting the form authenticates
	issuedToken string // session_id issued by a successful form submit

	// forbidForm fails the test if any credential form field is touched.
	forbidForm bool

	missing       map[string]bool
	navigateErr   map[string]error
	setCookiesErr error
	existsErr     error
	pageHTML      string

	visited     []string
	typed       map[string]string
	clicked     []string
	screenshots []string
	closed      int
}

var _ browser.Driver = (*fakeDriver)(nil)

func newFakeDriver(t *testing.T, cfg *config.Config) *fakeDriver {
	return &fakeDriver{
		t:           t,
		sel:         cfg.Site.Selectors,
		jar:         make(map[string]*network.Cookie),
		issuedToken: "tok-fresh",
		missing:     make(map[string]bool),
		navigateErr: make(map[string]error),
		typed:       make(map[string]string),
	}
}

func (f *fakeDriver) authenticated() bool {
	c, ok := f.jar["session_id"]
	return ok && f.validToken != "" && c.Value == f.validToken
}

func (f *fakeDriver) present(sel string) bool {
	if f.missing[sel] {
		return false
	}
	if sel == f.sel.AccountLink {
		return f.authenticated()
	}
	return true
}

func (f *fakeDriver) credentialField(sel string) bool {
	return sel == f.sel.EmailInput || sel == f.sel.PasswordInput || sel == f.sel.LoginSubmit
}

// block waits for sel or for ctx to end, like a bounded browser wait.
func (f *fakeDriver) block(ctx context.Context, sel string) error {
	f.mu.Lock()
	ok := f.present(sel)
	f.mu.Unlock()
	if ok {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited = append(f.visited, url)
	if err, ok := f.navigateErr[url]; ok {
		return err
	}
	return ctx.Err()
}

func (f *fakeDriver) WaitPresent(ctx context.Context, sel string) error {
	if f.forbidForm && f.credentialField(sel) {
		f.t.Errorf("credential form field %q touched", sel)
	}
	return f.block(ctx, sel)
}

func (f *fakeDriver) WaitClickable(ctx context.Context, sel string) error {
	return f.block(ctx, sel)
}

func (f *fakeDriver) Click(ctx context.Context, sel string) error {
	if f.forbidForm && f.credentialField(sel) {
		f.t.Errorf("credential form field %q touched", sel)
	}
	if err := f.block(ctx, sel); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicked = append(f.clicked, sel)
	if sel == f.sel.LoginSubmit && f.loginOK {
		f.validToken = f.issuedToken
		f.jar["session_id"] = &network.Cookie{
			Name: "session_id", Value: f.issuedToken, Domain: ".snkrdunk.com", Path: "/",
			Expires: 1893456000, HTTPOnly: true, Secure: true, SameSite: network.CookieSameSiteLax,
		}
	}
	return nil
}

func (f *fakeDriver) SendKeys(ctx context.Context, sel, text string) error {
	if f.forbidForm && f.credentialField(sel) {
		f.t.Errorf("credential form field %q touched", sel)
	}
	if err := f.block(ctx, sel); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[sel] += text
	return nil
}

func (f *fakeDriver) Exists(ctx context.Context, sel string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.present(sel), ctx.Err()
}

func (f *fakeDriver) OuterHTML(ctx context.Context, sel string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageHTML, ctx.Err()
}

func (f *fakeDriver) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cookies := []*network.Cookie{
		{Name: "_ga", Value: "GA1.2.3", Domain: ".google-analytics.com", Path: "/"},
	}
	for _, c := range f.jar {
		cookies = append(cookies, c)
	}
	return cookies, nil
}

func (f *fakeDriver) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setCookiesErr != nil {
		return f.setCookiesErr
	}
	for _, c := range cookies {
		if c.Expires != nil {
			f.t.Errorf("cookie %q injected with an expiry", c.Name)
		}
		f.jar[c.Name] = &network.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path}
	}
	return nil
}

func (f *fakeDriver) Screenshot(ctx context.Context, path string) error {
	f.mu.Lock()
	f.screenshots = append(f.screenshots, path)
	f.mu.Unlock()
	return os.WriteFile(path, []byte("\x89PNG fake"), 0o644)
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// -- results page helpers --

func itemHTML(name, price, img string) string {
	var b strings.Builder
	b.WriteString(`<li class="product__item"><a href="/en/trading-cards/1">`)
	if img != "" {
		b.WriteString(img)
	}
	if name != "" {
		fmt.Fprintf(&b, `<p class="product__item-name">%s</p>`, name)
	}
	if price != "" {
		fmt.Fprintf(&b, `<p class="product__item-price">%s</p>`, price)
	}
	b.WriteString(`</a></li>`)
	return b.String()
}

func imgTag(src string) string {
	return fmt.Sprintf(`<img src="%s" alt="">`, src)
}

func resultsPage(items ...string) string {
	return `<html><head><title>Search</title></head><body><ul class="product__list">` +
		strings.Join(items, "") +
		`</ul></body></html>`
}

func numberedItems(n int) []string {
	items := make([]string, n)
	for i := range items {
		items[i] = itemHTML(
			fmt.Sprintf("Pikachu #%03d", i),
			fmt.Sprintf("$%d", 10+i),
			imgTag(fmt.Sprintf("https://cdn.snkrdunk.com/items/%d.jpg", i)),
		)
	}
	return items
}
