package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/tcgscout/tcgscout/api/schemas"
)

// Sentinel errors matched with errors.Is against a *ScrapeError or *AuthError.
var (
	ErrTimeout        = errors.New("timed out waiting for the page")
	ErrMissingElement = errors.New("expected element is missing")
	ErrNavigation     = errors.New("navigation failed")
	ErrBrowser        = errors.New("browser failure")
	ErrEmptyQuery     = errors.New("search query is empty")

	ErrInvalidMaxResults = errors.New("max results must not be negative")
)

// Reason classifies a structural failure.
type Reason string

const (
	ReasonTimeout        Reason = "timeout"
	ReasonMissingElement Reason = "missing_element"
	ReasonNavigation     Reason = "navigation"
	ReasonBrowser        Reason = "browser"
	ReasonCanceled       Reason = "canceled"
)

func (r Reason) sentinel() error {
	switch r {
	case ReasonTimeout:
		return ErrTimeout
	case ReasonMissingElement:
		return ErrMissingElement
	case ReasonNavigation:
		return ErrNavigation
	case ReasonCanceled:
		return context.Canceled
	default:
		return ErrBrowser
	}
}

// ScrapeError reports that a search sequence aborted before the results page
// could be read. It is distinct from a search that legitimately found nothing.
type ScrapeError struct {
	Stage  string
	Reason Reason
	// Screenshot is the path of the diagnostic capture, empty if none was written.
	Screenshot string
	Err        error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape failed at %s (%s): %v", e.Stage, e.Reason, e.Err)
}

func (e *ScrapeError) Unwrap() []error {
	return []error{e.Reason.sentinel(), e.Err}
}

// AuthError reports that the credential login did not reach an authenticated page.
type AuthError struct {
	Stage      string
	Reason     Reason
	Screenshot string
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login failed at %s (%s): %v", e.Stage, e.Reason, e.Err)
}

func (e *AuthError) Unwrap() []error {
	return []error{e.Reason.sentinel(), e.Err}
}

// classify picks the reason for err, raised during a step whose ordinary
// failure mode is fallback. Context errors take precedence.
func classify(ctx context.Context, err error, fallback Reason) Reason {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return fallback
	}
}

// ReasonOf extracts the failure reason from an error returned by the scraper,
// or "" when err carries none.
func ReasonOf(err error) Reason {
	var scrapeErr *ScrapeError
	if errors.As(err, &scrapeErr) {
		return scrapeErr.Reason
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return ""
}

// StatusOf summarizes a login or search outcome for the history log.
func StatusOf(result *schemas.SearchResult, err error) schemas.SearchStatus {
	var authErr *AuthError
	switch {
	case errors.As(err, &authErr):
		return schemas.StatusLoginFailed
	case err != nil:
		return schemas.StatusScrapeFailed
	case result.ExtractionFailed():
		return schemas.StatusExtractFailed
	case result.Empty():
		return schemas.StatusEmpty
	default:
		return schemas.StatusOK
	}
}
