package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tcgscout/tcgscout/api/schemas"
	"github.com/tcgscout/tcgscout/internal/scraper"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type bannerKind string

const (
	bannerError bannerKind = "error"
	bannerInfo  bannerKind = "info"
)

type banner struct {
	Kind    bannerKind
	Message string
}

type pageData struct {
	Query   string
	Result  *schemas.SearchResult
	Banner  *banner
	History []schemas.HistoryEntry
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", pageData{})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r.Context())
	term := strings.TrimSpace(r.PostFormValue("card_name"))
	data := pageData{Query: term}

	if term == "" {
		data.Banner = &banner{Kind: bannerError, Message: "Enter a card name to search."}
		s.render(w, http.StatusBadRequest, "index.html", data)
		return
	}
	if !s.cfg.Credentials.Present() {
		logger.Error("Marketplace credentials are not configured.")
		data.Banner = &banner{Kind: bannerError, Message: "Marketplace credentials are not configured on the server."}
		s.render(w, http.StatusServiceUnavailable, "index.html", data)
		return
	}
	if !s.limiter.Allow() {
		data.Banner = &banner{Kind: bannerError, Message: "Too many searches. Wait a moment and try again."}
		s.render(w, http.StatusTooManyRequests, "index.html", data)
		return
	}

	if err := s.browsers.Acquire(r.Context(), 1); err != nil {
		data.Banner = &banner{Kind: bannerError, Message: "The request was canceled while waiting for a browser."}
		s.render(w, http.StatusServiceUnavailable, "index.html", data)
		return
	}
	result, err := s.search(r.Context(), term)
	s.browsers.Release(1)

	status := scraper.StatusOf(result, err)
	s.record(r.Context(), term, result, status)

	code := http.StatusOK
	switch status {
	case schemas.StatusLoginFailed:
		logger.Error("Login failed.", zap.String("term", term), zap.Error(err))
		data.Banner = &banner{Kind: bannerError, Message: "Could not log in to the marketplace. Check the configured credentials."}
		code = http.StatusBadGateway
	case schemas.StatusScrapeFailed:
		logger.Error("Search failed.", zap.String("term", term), zap.Error(err))
		data.Banner = &banner{Kind: bannerError, Message: scrapeFailureMessage(err)}
		code = http.StatusBadGateway
	case schemas.StatusExtractFailed:
		logger.Error("No result item could be read.", zap.String("term", term), zap.Int("found", result.Found))
		data.Banner = &banner{Kind: bannerError, Message: fmt.Sprintf(
			"Found %d results for %q but none could be read. The page layout may have changed.", result.Found, term)}
		code = http.StatusBadGateway
	case schemas.StatusEmpty:
		data.Result = result
		data.Banner = &banner{Kind: bannerInfo, Message: fmt.Sprintf("No listings found for %q.", term)}
	default:
		data.Result = result
	}
	s.render(w, code, "index.html", data)
}

// search runs one login and search in a browser that lives only for this call.
func (s *Server) search(ctx context.Context, term string) (*schemas.SearchResult, error) {
	sc, err := s.newSearcher(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sc.Close(); err != nil {
			s.requestLogger(ctx).Warn("Failed to close browser.", zap.Error(err))
		}
	}()

	if _, err := sc.Login(ctx); err != nil {
		return nil, err
	}
	return sc.SearchAndScrape(ctx, term, s.cfg.Scraper.MaxResults)
}

// record logs the search term. A failed write never fails the request.
func (s *Server) record(ctx context.Context, term string, result *schemas.SearchResult, status schemas.SearchStatus) {
	entry := schemas.HistoryEntry{Term: term, Status: status}
	if result != nil {
		entry.ResultCount = len(result.Listings)
	}
	if _, err := s.history.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.metrics.IncHistoryError()
		s.requestLogger(ctx).Warn("Could not record search history.", zap.String("term", term), zap.Error(err))
	}
}

func scrapeFailureMessage(err error) string {
	var scrapeErr *scraper.ScrapeError
	if errors.As(err, &scrapeErr) {
		return fmt.Sprintf("The marketplace page did not load as expected (%s at step %s).", scrapeErr.Reason, scrapeErr.Stage)
	}
	if errors.Is(err, scraper.ErrBrowser) {
		return "The browser could not be started."
	}
	return "The search could not be completed."
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Server.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.requestLogger(r.Context()).Error("Could not read search history.", zap.Error(err))
		http.Error(w, "search history is unavailable", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			s.requestLogger(r.Context()).Warn("Failed to encode history response.", zap.Error(err))
		}
		return
	}
	s.render(w, http.StatusOK, "history.html", pageData{History: entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// render executes into a buffer first so a template error can still produce a 500.
func (s *Server) render(w http.ResponseWriter, code int, page string, data pageData) {
	var buf bytes.Buffer
	if err := s.pages[page].Execute(&buf, data); err != nil {
		s.logger.Error("Failed to render page.", zap.String("page", page), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	buf.WriteTo(w)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type loggerKey struct{}

// requestLogger returns the logger tagged with the current request ID, or the
// server logger outside a request.
func (s *Server) requestLogger(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return s.logger
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		logger := s.logger.With(zap.String("request_id", id))
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), loggerKey{}, logger)))
		logger.Debug("Handled request.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
