package schemas

import (
	"fmt"
	"time"
)

// -- Listing Schemas --

// Listing is one parsed marketplace search result.
// Price keeps the site's display string; it is never parsed to a number.
type Listing struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	ImageURL string `json:"image_url"`
}

// ItemError records why a single result item was skipped during extraction.
type ItemError struct {
	// Index is the zero based position of the item element on the results page.
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d: %s: %s", e.Index, e.Field, e.Reason)
}

// SearchResult is the outcome of a search that reached the results page.
// Structural failures are reported as errors instead. Found tells a search the
// site answered with nothing (Found == 0) apart from one whose items could not
// be read (Found > 0 with no Listings).
type SearchResult struct {
	SearchID string    `json:"search_id"`
	Query    string    `json:"query"`
	Listings []Listing `json:"listings"`
	// Found is the number of item elements present on the page, before the
	// max results cap is applied.
	Found   int         `json:"found"`
	Skipped []ItemError `json:"skipped,omitempty"`
	// ResultsTimedOut is set when no item appeared before the results wait
	// expired and the empty page was accepted as a zero-match search.
	ResultsTimedOut bool      `json:"results_timed_out,omitempty"`
	ScrapedAt       time.Time `json:"scraped_at"`
}

// Empty reports whether the site returned no items for the search.
func (r *SearchResult) Empty() bool {
	return r == nil || (len(r.Listings) == 0 && r.Found == 0)
}

// ExtractionFailed reports whether items were on the page but none could be read.
func (r *SearchResult) ExtractionFailed() bool {
	return r != nil && r.Found > 0 && len(r.Listings) == 0
}

// AuthMethod identifies which flow authenticated a login call.
type AuthMethod string

const (
	AuthNone          AuthMethod = "none"
	AuthSessionReplay AuthMethod = "session_replay"
	AuthCredentials   AuthMethod = "credentials"
)
