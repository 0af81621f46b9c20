package schemas

import "time"

// SearchStatus summarizes how a logged search ended.
type SearchStatus string

const (
	StatusOK           SearchStatus = "ok"
	StatusEmpty        SearchStatus = "empty"
	StatusLoginFailed  SearchStatus = "login_failed"
	StatusScrapeFailed SearchStatus = "scrape_failed"
	// StatusExtractFailed means result items were found but none could be parsed.
	StatusExtractFailed SearchStatus = "extract_failed"
)

// HistoryEntry is one row of the search history log.
type HistoryEntry struct {
	ID          int64        `json:"id"`
	Term        string       `json:"term"`
	SearchedAt  time.Time    `json:"searched_at"`
	ResultCount int          `json:"result_count"`
	Status      SearchStatus `json:"status"`
}
