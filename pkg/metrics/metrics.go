// Package metrics defines the scraper's run metrics and exports them.
// Transport metrics live in pkg/client next to the code that updates them;
// all of them register with the default Prometheus registry via promauto.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the default Prometheus registry used by the scraper.
var Registry = prometheus.DefaultRegisterer

// Page results.
const (
	PageOK     = "ok"
	PageEmpty  = "empty"
	PageFailed = "failed"
)

var (
	// PagesTotal counts attempted pages by outcome.
	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Total number of search pages attempted by result",
		},
		[]string{"result"}, // "ok", "empty", "failed"
	)

	// RecordsWritten counts rows appended to the output file.
	RecordsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_records_written_total",
			Help: "Total number of product records written to the output file",
		},
	)

	// RecordsSkipped counts product elements dropped by field extraction.
	RecordsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_records_skipped_total",
			Help: "Total number of malformed product elements skipped",
		},
	)

	// LastRunSuccess is 1 when the last run completed without a fatal error.
	LastRunSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_last_run_success",
			Help: "Whether the last scrape run finished without a fatal error",
		},
	)
)

// WriteTextfile writes every registered metric to path in the text
// exposition format, suitable for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Run Metrics (pkg/metrics):
//   - scraper_pages_total{result} (Counter): pages attempted, by ok/empty/failed
//   - scraper_records_written_total (Counter): rows appended to the CSV
//   - scraper_records_skipped_total (Counter): product elements dropped by field extraction
//   - scraper_last_run_success (Gauge): 1 after a run without fatal error
//
// Transport Metrics (pkg/client):
//   - scraper_requests_total{status} (Counter): requests by HTTP status or "network_error"
//   - scraper_request_duration_seconds (Histogram): request duration
//   - scraper_errors_total{class} (Counter): errors by class (client, server, network)
//   - scraper_retries_total{error_class} (Counter): retry attempts
//   - scraper_retry_exhausted_total{error_class} (Counter): requests that used every attempt
//
// Example Prometheus Queries:
//
//   # Failed page ratio of the last runs
//   sum(scraper_pages_total{result="failed"}) / sum(scraper_pages_total)
//
//   # Alert when the nightly export broke
//   scraper_last_run_success == 0
