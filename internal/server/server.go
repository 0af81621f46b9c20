// Package server is the HTTP front end: a search form, the results page, the
// search history and operational endpoints.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tcgscout/tcgscout/api/schemas"
	"github.com/tcgscout/tcgscout/internal/config"
	"github.com/tcgscout/tcgscout/internal/history"
	"github.com/tcgscout/tcgscout/internal/observability"
	"github.com/tcgscout/tcgscout/internal/scraper"
)

//go:embed templates/*.html
var templateFS embed.FS

// Searcher is the part of *scraper.Scraper a request needs.
type Searcher interface {
	Login(ctx context.Context) (schemas.AuthMethod, error)
	SearchAndScrape(ctx context.Context, query string, maxResults int) (*schemas.SearchResult, error)
	Close() error
}

var _ Searcher = (*scraper.Scraper)(nil)

// SearcherFactory starts a fresh browser session for one request.
type SearcherFactory func(ctx context.Context) (Searcher, error)

// Server serves the web UI. Each search gets its own browser, and at most
// server.max_browsers run at once.
type Server struct {
	cfg         *config.Config
	logger      *zap.Logger
	metrics     *observability.Metrics
	history     history.Store
	newSearcher SearcherFactory
	browsers    *semaphore.Weighted
	limiter     *rate.Limiter
	pages       map[string]*template.Template
	handler     http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithSearcherFactory replaces the chromedp-backed scraper, mainly for tests.
func WithSearcherFactory(f SearcherFactory) Option {
	return func(s *Server) { s.newSearcher = f }
}

// WithMetrics enables the counters and the /metrics endpoint.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds the server and its routes.
func New(cfg *config.Config, store history.Store, logger *zap.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server: config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("server: history store is required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		history:  store,
		browsers: semaphore.NewWeighted(cfg.Server.MaxBrowsers),
		limiter:  newLimiter(cfg.Server.RatePerMinute),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newSearcher == nil {
		s.newSearcher = s.launchScraper
	}

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	s.pages = pages
	s.handler = s.routes()
	return s, nil
}

// newLimiter allows perMinute searches a minute with no burst. Zero disables the limit.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{"index.html", "history.html"} {
		tmpl, err := template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("server: parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

var templateFuncs = template.FuncMap{
	"timestamp": func(t time.Time) string { return t.Local().Format("2006-01-02 15:04:05") },
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	return s.logRequests(mux)
}

// ServeHTTP lets the server be mounted directly or wrapped by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run listens on server.addr until ctx is canceled, then drains in-flight
// requests for up to server.shutdown_timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		ErrorLog:     zap.NewStdLog(s.logger),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening.", zap.String("addr", s.cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server: listen on %s: %w", s.cfg.Server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutdown signal received, waiting for in-flight searches to finish.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	<-errCh
	return nil
}

// launchScraper is the production SearcherFactory.
func (s *Server) launchScraper(ctx context.Context) (Searcher, error) {
	sc, err := scraper.New(ctx, s.cfg, s.cfg.Credentials,
		scraper.WithLogger(s.requestLogger(ctx)),
		scraper.WithMetrics(s.metrics),
	)
	if err != nil {
		return nil, err
	}
	return sc, nil
}
