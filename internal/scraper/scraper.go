// Package scraper drives a headless browser through the snkrdunk login and
// search flows and turns the results page into listings.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tcgscout/tcgscout/api/schemas"
	"github.com/tcgscout/tcgscout/internal/browser"
	"github.com/tcgscout/tcgscout/internal/config"
	"github.com/tcgscout/tcgscout/internal/observability"
	"github.com/tcgscout/tcgscout/internal/session"
)

// CookieStore persists the cookie blob between runs.
type CookieStore interface {
	Load() ([]session.Cookie, error)
	Save(cookies []session.Cookie) error
	Path() string
}

var _ CookieStore = (*session.Store)(nil)

// Scraper owns one browser tab and runs the login and search sequences on it.
// It is not safe for concurrent use; callers create one per search and Close it.
type Scraper struct {
	cfg     *config.Config
	creds   config.CredentialsConfig
	driver  browser.Driver
	store   CookieStore
	logger  *zap.Logger
	metrics *observability.Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	launched  bool
	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Scraper.
type Option func(*Scraper)

// WithDriver uses an existing driver instead of launching a browser.
// The scraper still closes it.
func WithDriver(d browser.Driver) Option {
	return func(s *Scraper) { s.driver = d }
}

// WithCookieStore replaces the file store derived from the session config.
func WithCookieStore(store CookieStore) Option {
	return func(s *Scraper) { s.store = store }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scraper) { s.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scraper) { s.metrics = m }
}

// WithSleep replaces the settle delay implementation.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scraper) { s.sleep = sleep }
}

// WithClock replaces the time source used to stamp results.
func WithClock(now func() time.Time) Option {
	return func(s *Scraper) { s.now = now }
}

// New prepares a scraper and, unless a driver was injected, launches a
// headless browser. A browser that fails to start is returned as an error.
func New(ctx context.Context, cfg *config.Config, creds config.CredentialsConfig, opts ...Option) (*Scraper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scraper: config is required")
	}

	s := &Scraper{
		cfg:   cfg,
		creds: creds,
		sleep: sleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.GetLogger()
	}
	s.logger = s.logger.Named("scraper")

	if s.store == nil {
		store, err := session.NewStore(cfg.Session.CookiePath, cfg.Site.BaseURL, s.logger)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	if s.driver == nil {
		chrome, err := browser.Launch(ctx, cfg.Browser, s.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBrowser, err)
		}
		s.driver = chrome
		s.launched = true
		s.metrics.BrowserStarted()
	}

	return s, nil
}

// Login authenticates the tab. A cached session is reused when the liveness
// check confirms it; otherwise the credential form is submitted and the new
// cookies are saved. On failure it returns schemas.AuthNone and an *AuthError.
func (s *Scraper) Login(ctx context.Context) (schemas.AuthMethod, error) {
	if s.replaySession(ctx) {
		s.logger.Info("Logged in with cached session.")
		s.metrics.IncLogin(string(schemas.AuthSessionReplay), "success")
		return schemas.AuthSessionReplay, nil
	}

	if err := s.credentialLogin(ctx); err != nil {
		s.logger.Error("Credential login failed.", zap.Error(err))
		s.metrics.IncLogin(string(schemas.AuthCredentials), "failure")
		return schemas.AuthNone, err
	}

	s.saveSession(ctx)
	s.logger.Info("Logged in with credentials.")
	s.metrics.IncLogin(string(schemas.AuthCredentials), "success")
	return schemas.AuthCredentials, nil
}

// replaySession injects the cached cookies and reports whether they yield an
// authenticated page. Every failure here means "fall through to the form".
func (s *Scraper) replaySession(ctx context.Context) bool {
	cookies, err := s.store.Load()
	switch {
	case errors.Is(err, session.ErrNoSession):
		s.logger.Info("No cached session.", zap.String("path", s.store.Path()))
		return false
	case err != nil:
		s.logger.Warn("Cached session unreadable, falling back to credential login.", zap.Error(err))
		return false
	}

	// Cookies can only be set once the tab has a document on the site's domain.
	if err := s.navigate(ctx, s.cfg.Site.HomeURL()); err != nil {
		s.logger.Warn("Could not open site before cookie injection.", zap.Error(err))
		return false
	}
	if err := s.driver.SetCookies(ctx, session.ToParams(cookies)); err != nil {
		s.logger.Warn("Cookie injection rejected, falling back to credential login.", zap.Error(err))
		return false
	}

	live, err := s.sessionLive(ctx)
	if err != nil {
		s.logger.Warn("Liveness check failed, falling back to credential login.", zap.Error(err))
		return false
	}
	if !live {
		s.logger.Info("Cached session expired.")
	}
	return live
}

// sessionLive reloads the home page and probes for the account link without waiting for it.
func (s *Scraper) sessionLive(ctx context.Context) (bool, error) {
	if err := s.navigate(ctx, s.cfg.Site.HomeURL()); err != nil {
		return false, err
	}
	if err := s.sleep(ctx, s.cfg.Scraper.SettleDelay); err != nil {
		return false, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.Scraper.ElementTimeout)
	defer cancel()
	return s.driver.Exists(probeCtx, s.cfg.Site.Selectors.AccountLink)
}

func (s *Scraper) credentialLogin(ctx context.Context) error {
	sel := s.cfg.Site.Selectors
	timeouts := s.cfg.Scraper

	steps := []step{
		{"login_page", ReasonNavigation, func(ctx context.Context) error {
			return s.navigate(ctx, s.cfg.Site.LoginURL())
		}},
		{"login_form", ReasonMissingElement, func(ctx context.Context) error {
			return s.wait(ctx, timeouts.ElementTimeout, func(ctx context.Context) error {
				return s.driver.WaitPresent(ctx, sel.EmailInput)
			})
		}},
		{"enter_credentials", ReasonMissingElement, func(ctx context.Context) error {
			return s.wait(ctx, timeouts.ElementTimeout, func(ctx context.Context) error {
				if err := s.driver.SendKeys(ctx, sel.EmailInput, s.creds.Email); err != nil {
					return err
				}
				return s.driver.SendKeys(ctx, sel.PasswordInput, s.creds.Password)
			})
		}},
		{"submit", ReasonMissingElement, func(ctx context.Context) error {
			return s.wait(ctx, timeouts.ElementTimeout, func(ctx context.Context) error {
				return s.driver.Click(ctx, sel.LoginSubmit)
			})
		}},
		{"confirm_login", ReasonTimeout, func(ctx context.Context) error {
			return s.wait(ctx, timeouts.LoginTimeout, func(ctx context.Context) error {
				return s.driver.WaitPresent(ctx, sel.AccountLink)
			})
		}},
	}

	stage, reason, err := s.runSteps(ctx, steps)
	if err == nil {
		return nil
	}
	return &AuthError{
		Stage:      stage,
		Reason:     reason,
		Screenshot: s.screenshot(ctx, s.cfg.Diagnostics.LoginScreenshot),
		Err:        err,
	}
}

// saveSession persists the current cookies. Failures are logged, not returned.
func (s *Scraper) saveSession(ctx context.Context) {
	cookies, err := s.driver.Cookies(ctx)
	if err != nil {
		s.logger.Warn("Could not read cookies after login.", zap.Error(err))
		return
	}
	if err := s.store.Save(session.FromNetwork(cookies)); err != nil {
		s.logger.Warn("Could not save session.", zap.String("path", s.store.Path()), zap.Error(err))
		return
	}
	s.logger.Debug("Session saved.", zap.String("path", s.store.Path()), zap.Int("cookies", len(cookies)))
}

// SearchAndScrape runs a search for query and extracts up to maxResults
// listings. A maxResults of zero returns an empty result without touching the
// browser and a negative one returns ErrInvalidMaxResults. A search the site
// answers with no items returns an empty result and a nil error; a page that
// never reaches the results state returns a *ScrapeError.
func (s *Scraper) SearchAndScrape(ctx context.Context, query string, maxResults int) (*schemas.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if maxResults < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxResults, maxResults)
	}
	if maxResults == 0 {
		s.logger.Debug("Search skipped, zero results requested.", zap.String("query", query))
		return s.newResult(query), nil
	}

	start := s.now()
	logger := s.logger.With(zap.String("query", query), zap.Int("max_results", maxResults))
	logger.Info("Starting search.")

	result, err := s.searchAndScrape(ctx, query, maxResults)
	s.metrics.ObserveScrape(s.now().Sub(start))
	if err != nil {
		s.metrics.IncSearch(string(ReasonOf(err)))
		logger.Error("Search failed.", zap.Error(err))
		return nil, err
	}

	s.metrics.AddListings(len(result.Listings), len(result.Skipped))
	s.metrics.IncSearch(string(StatusOf(result, nil)))
	if result.ExtractionFailed() {
		logger.Error("No result item could be read.", zap.Int("found", result.Found))
	}
	for _, skipped := range result.Skipped {
		logger.Warn("Skipped result item.", zap.Int("index", skipped.Index), zap.String("field", skipped.Field), zap.String("reason", skipped.Reason))
	}
	logger.Info("Search finished.",
		zap.Int("listings", len(result.Listings)),
		zap.Int("found", result.Found),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (s *Scraper) searchAndScrape(ctx context.Context, query string, maxResults int) (*schemas.SearchResult, error) {
	site := s.cfg.Site
	sel := site.Selectors
	timeouts := s.cfg.Scraper

	resultsSelector := sel.ResultItem
	if sel.EmptyMarker != "" {
		resultsSelector = sel.ResultItem + ", " + sel.EmptyMarker
	}

	var (
		html     string
		timedOut bool
	)
	steps := []step{
		{"home", ReasonNavigation, func(ctx context.Context) error {
			return s.navigate(ctx, site.HomeURL())
		}},
		{"open_search", ReasonMissingElement, func(ctx context.Context) error {
			return s.wait(ctx, timeouts.ElementTimeout, func(ctx context.Context) error {
				if err := s.driver.WaitClickable(ctx, sel.SearchLink); err != nil {
					return err
				}
				return s.driver.Click(ctx, sel.SearchLink)
			})
		}},
		{"enter_query", ReasonMissingElement, func(ctx context.Context) error {
			return s.wait(ctx, timeouts.ElementTimeout, func(ctx context.Context) error {
				if err := s.driver.WaitPresent(ctx, sel.SearchInput); err != nil {
					return err
				}
				return s.driver.SendKeys(ctx, sel.SearchInput, query+kb.Enter)
			})
		}},
		{"select_category", ReasonMissingElement, func(ctx context.Context) error {
			tab := site.CategoryTabXPath()
			return s.wait(ctx, timeouts.ResultsTimeout, func(ctx context.Context) error {
				if err := s.driver.WaitClickable(ctx, tab); err != nil {
					return err
				}
				return s.driver.Click(ctx, tab)
			})
		}},
		{"await_results", ReasonMissingElement, func(ctx context.Context) error {
			err := s.wait(ctx, timeouts.ResultsTimeout, func(ctx context.Context) error {
				return s.driver.WaitPresent(ctx, resultsSelector)
			})
			if err != nil {
				if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
					return err
				}
				var found bool
				checkErr := s.wait(ctx, timeouts.ElementTimeout, func(ctx context.Context) error {
					var err error
					found, err = s.driver.Exists(ctx, sel.ResultItem)
					return err
				})
				if checkErr != nil || found {
					return err
				}
				s.logger.Warn("No result item appeared before the timeout, treating the search as empty.",
					zap.String("query", query),
					zap.Duration("timeout", timeouts.ResultsTimeout),
				)
				timedOut = true
			}
			return s.sleep(ctx, timeouts.SettleDelay)
		}},
		{"snapshot", ReasonBrowser, func(ctx context.Context) error {
			var err error
			html, err = s.driver.OuterHTML(ctx, "html")
			return err
		}},
	}

	stage, reason, err := s.runSteps(ctx, steps)
	if err != nil {
		return nil, &ScrapeError{
			Stage:      stage,
			Reason:     reason,
			Screenshot: s.screenshot(ctx, s.cfg.Diagnostics.SearchScreenshot),
			Err:        err,
		}
	}

	parsed, err := extractListings(html, sel, site.HomeURL(), maxResults)
	if err != nil {
		return nil, &ScrapeError{Stage: "extract", Reason: ReasonBrowser, Err: err}
	}

	result := s.newResult(query)
	result.Listings = parsed.listings
	result.Found = parsed.found
	result.Skipped = parsed.skipped
	result.ResultsTimedOut = timedOut
	return result, nil
}

func (s *Scraper) newResult(query string) *schemas.SearchResult {
	return &schemas.SearchResult{
		SearchID:  uuid.NewString(),
		Query:     query,
		Listings:  []schemas.Listing{},
		ScrapedAt: s.now().UTC(),
	}
}

// step is one gated action of a sequence. reason is reported when the action
// fails with something other than a context error.
type step struct {
	stage  string
	reason Reason
	run    func(ctx context.Context) error
}

// runSteps executes steps in order and stops at the first failure.
func (s *Scraper) runSteps(ctx context.Context, steps []step) (string, Reason, error) {
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return st.stage, classify(ctx, err, st.reason), err
		}
		s.logger.Debug("Running step.", zap.String("stage", st.stage))
		if err := st.run(ctx); err != nil {
			return st.stage, classify(ctx, err, st.reason), err
		}
	}
	return "", "", nil
}

// wait runs fn under its own deadline.
func (s *Scraper) wait(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(waitCtx)
}

// navigate loads url bounded by the page load timeout.
func (s *Scraper) navigate(ctx context.Context, url string) error {
	return s.wait(ctx, s.cfg.Scraper.PageLoadTimeout, func(ctx context.Context) error {
		if err := s.driver.Navigate(ctx, url); err != nil {
			return fmt.Errorf("navigate to %s: %w", url, err)
		}
		return nil
	})
}

// screenshot captures the page for diagnosis and returns the path written,
// or "" if the capture failed. It runs even when ctx is already done.
func (s *Scraper) screenshot(ctx context.Context, path string) string {
	if path == "" {
		return ""
	}
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Scraper.ScreenshotTimeout)
	defer cancel()

	if err := s.driver.Screenshot(shotCtx, path); err != nil {
		s.logger.Warn("Could not capture diagnostic screenshot.", zap.String("path", path), zap.Error(err))
		return ""
	}
	s.logger.Info("Diagnostic screenshot saved.", zap.String("path", path))
	return path
}

// Close releases the tab and the browser process. It is safe to call more than once.
func (s *Scraper) Close() error {
	s.closeOnce.Do(func() {
		if s.driver == nil {
			return
		}
		s.closeErr = s.driver.Close()
		if s.launched {
			s.metrics.BrowserStopped()
		}
	})
	return s.closeErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
