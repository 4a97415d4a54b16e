// Package metrics exposes Prometheus collectors describing deduplication runs.
// The job is a batch process, so collectors live on a dedicated registry that
// can be written to a node-exporter textfile when the run ends.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run carries the figures recorded for one finished run.
type Run struct {
	InputRecords     int
	OutputRecords    int
	UniqueURLs       int
	RatePercent      float64
	FinishedAt       time.Time
	DuplicatesBySite map[string]int
}

// Recorder owns the run-level collectors.
type Recorder struct {
	reg *prometheus.Registry

	inputRecords      prometheus.Gauge
	outputRecords     prometheus.Gauge
	duplicatesRemoved prometheus.Gauge
	dedupRate         prometheus.Gauge
	uniqueURLs        prometheus.Gauge
	lastSuccess       prometheus.Gauge
	duplicatesBySite  *prometheus.CounterVec
}

// NewRecorder registers the run collectors on reg, creating a registry when nil.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Recorder{
		reg: reg,
		inputRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dedup_input_records",
			Help: "Records read by the last run.",
		}),
		outputRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dedup_output_records",
			Help: "Records written by the last run.",
		}),
		duplicatesRemoved: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dedup_duplicates_removed",
			Help: "Records collapsed into another record by the last run.",
		}),
		dedupRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dedup_rate_percent",
			Help: "Share of input records removed by the last run.",
		}),
		uniqueURLs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dedup_unique_urls",
			Help: "Distinct page URLs in the last run's output.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dedup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
		duplicatesBySite: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dedup_duplicates_by_site_total",
			Help: "Duplicates removed, labeled by page host.",
		}, []string{"site"}),
	}
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// ObserveRun records the figures of a successful run.
func (r *Recorder) ObserveRun(run Run) {
	r.inputRecords.Set(float64(run.InputRecords))
	r.outputRecords.Set(float64(run.OutputRecords))
	r.duplicatesRemoved.Set(float64(run.InputRecords - run.OutputRecords))
	r.dedupRate.Set(run.RatePercent)
	r.uniqueURLs.Set(float64(run.UniqueURLs))
	if !run.FinishedAt.IsZero() {
		r.lastSuccess.Set(float64(run.FinishedAt.Unix()))
	}
	for site, n := range run.DuplicatesBySite {
		if n > 0 {
			r.duplicatesBySite.WithLabelValues(site).Add(float64(n))
		}
	}
}

// WriteTextfile writes the registry in text exposition format to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// DuplicatesBySite counts, per host, how many more input URLs than output URLs
// were seen.
func DuplicatesBySite(inputURLs, outputURLs []string) map[string]int {
	out := make(map[string]int)
	for _, u := range inputURLs {
		out[SanitizeSite(u)]++
	}
	for _, u := range outputURLs {
		out[SanitizeSite(u)]--
	}
	for site, n := range out {
		if n <= 0 {
			delete(out, site)
		}
	}
	return out
}
