// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal   *prometheus.CounterVec
	bytesFetchedTotal   prometheus.Counter
	fetchRetriesTotal   prometheus.Counter
	pagesBrowsedTotal   prometheus.Counter
	pagesHarvestedTotal prometheus.Counter
	recordsExtracted    prometheus.Counter
	extractionFailures  prometheus.Counter
	queueDepth          *prometheus.GaugeVec
	archiveUnits        prometheus.Gauge

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// more than once.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webharvest_pages_fetched_total",
				Help: "Total pages fetched, labeled by HTTP status.",
			},
			[]string{"status"},
		)
		bytesFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webharvest_bytes_fetched_total",
				Help: "Total page bytes fetched.",
			},
		)
		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webharvest_fetch_retries_total",
				Help: "Total fetch attempts beyond the first.",
			},
		)
		pagesBrowsedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webharvest_pages_browsed_total",
				Help: "Pages visited by the browse phase.",
			},
		)
		pagesHarvestedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webharvest_pages_harvested_total",
				Help: "Pages persisted by the harvest phase.",
			},
		)
		recordsExtracted = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webharvest_records_extracted_total",
				Help: "Structured records written by the extract phase.",
			},
		)
		extractionFailures = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webharvest_extraction_failures_total",
				Help: "Records skipped because the extraction function failed.",
			},
		)
		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webharvest_queue_depth",
				Help: "Currently pending items, labeled by queue.",
			},
			[]string{"queue"},
		)
		archiveUnits = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webharvest_archive_units",
				Help: "Number of archive units opened so far.",
			},
		)
	})
}

// PageFetched records one successful download.
func PageFetched(status int, bytes int) {
	Init()
	pagesFetchedTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	bytesFetchedTotal.Add(float64(bytes))
}

// FetchRetried records one retry attempt.
func FetchRetried() {
	Init()
	fetchRetriesTotal.Inc()
}

// PageBrowsed records one page visited during browse.
func PageBrowsed() {
	Init()
	pagesBrowsedTotal.Inc()
}

// PageHarvested records one page persisted during harvest.
func PageHarvested() {
	Init()
	pagesHarvestedTotal.Inc()
}

// RecordsExtracted adds n written records.
func RecordsExtracted(n int) {
	Init()
	recordsExtracted.Add(float64(n))
}

// ExtractionFailed records one skipped record.
func ExtractionFailed() {
	Init()
	extractionFailures.Inc()
}

// SetQueueDepth publishes the pending count for the named queue.
func SetQueueDepth(queue string, n int) {
	Init()
	queueDepth.WithLabelValues(queue).Set(float64(n))
}

// SetArchiveUnits publishes the archive unit count.
func SetArchiveUnits(n int) {
	Init()
	archiveUnits.Set(float64(n))
}

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}
