package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors for logins, searches and the
// browser pool. All methods are safe on a nil receiver so components can run
// without metrics in tests and one-shot CLI invocations.
type Metrics struct {
	Registry         *prometheus.Registry
	LoginsTotal      *prometheus.CounterVec
	SearchesTotal    *prometheus.CounterVec
	ListingsScraped  prometheus.Counter
	ItemsSkipped     prometheus.Counter
	ScrapeDuration   prometheus.Histogram
	BrowsersInUse    prometheus.Gauge
	HistoryWriteErrs prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	logins := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcgscout_logins_total",
			Help: "Login attempts by authentication method and result.",
		},
		[]string{"method", "result"},
	)
	searches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcgscout_searches_total",
			Help: "Searches by outcome (ok, empty, or a failure reason).",
		},
		[]string{"result"},
	)
	listings := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tcgscout_listings_scraped_total",
			Help: "Listings extracted from result pages.",
		},
	)
	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tcgscout_items_skipped_total",
			Help: "Result items dropped because a field could not be extracted.",
		},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tcgscout_scrape_duration_seconds",
			Help:    "Wall time of a search and scrape sequence.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)
	browsers := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcgscout_browsers_in_use",
			Help: "Headless browser processes currently running.",
		},
	)
	historyErrs := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tcgscout_history_write_errors_total",
			Help: "Search terms that could not be written to the history store.",
		},
	)

	registry.MustRegister(logins, searches, listings, skipped, duration, browsers, historyErrs)

	return &Metrics{
		Registry:         registry,
		LoginsTotal:      logins,
		SearchesTotal:    searches,
		ListingsScraped:  listings,
		ItemsSkipped:     skipped,
		ScrapeDuration:   duration,
		BrowsersInUse:    browsers,
		HistoryWriteErrs: historyErrs,
	}
}

// IncLogin counts a login attempt.
func (m *Metrics) IncLogin(method, result string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(method, result).Inc()
}

// IncSearch counts a finished search.
func (m *Metrics) IncSearch(result string) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(result).Inc()
}

// AddListings records extracted and skipped item counts.
func (m *Metrics) AddListings(extracted, skipped int) {
	if m == nil {
		return
	}
	m.ListingsScraped.Add(float64(extracted))
	m.ItemsSkipped.Add(float64(skipped))
}

// ObserveScrape records the duration of a search sequence.
func (m *Metrics) ObserveScrape(d time.Duration) {
	if m == nil {
		return
	}
	m.ScrapeDuration.Observe(d.Seconds())
}

// BrowserStarted and BrowserStopped track live browser processes.
func (m *Metrics) BrowserStarted() {
	if m == nil {
		return
	}
	m.BrowsersInUse.Inc()
}

func (m *Metrics) BrowserStopped() {
	if m == nil {
		return
	}
	m.BrowsersInUse.Dec()
}

// IncHistoryError counts a failed history write.
func (m *Metrics) IncHistoryError() {
	if m == nil {
		return
	}
	m.HistoryWriteErrs.Inc()
}
