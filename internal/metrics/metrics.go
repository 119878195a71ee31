// Package metrics counts Gerrit fetch activity in a private prometheus registry.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gerrit_stats"

// Recorder holds the counters for a single run. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	pages      *prometheus.CounterVec
	changes    *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duplicates *prometheus.CounterVec
}

// NewRecorder creates a Recorder backed by its own registry so repeated runs never collide.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests issued to Gerrit, by host and status code.",
		}, []string{"host", "code"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Result pages decoded, by host.",
		}, []string{"host"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Change records fetched, by host.",
		}, []string{"host"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_failures_total",
			Help:      "Host fetches that failed, by host and error kind.",
		}, []string{"host", "kind"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_changes_total",
			Help:      "Change records dropped as duplicates, by host.",
		}, []string{"host"}),
	}
	r.registry.MustRegister(r.requests, r.pages, r.changes, r.failures, r.duplicates)
	return r
}

// Request counts one HTTP round trip. code is 0 when no response was received.
func (r *Recorder) Request(host string, code int) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(host, strconv.Itoa(code)).Inc()
}

// Page counts one decoded page holding n records.
func (r *Recorder) Page(host string, n int) {
	if r == nil {
		return
	}
	r.pages.WithLabelValues(host).Inc()
	r.changes.WithLabelValues(host).Add(float64(n))
}

// Failure counts a failed host fetch.
func (r *Recorder) Failure(host string, kind error) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(host, fmt.Sprint(kind)).Inc()
}

// Duplicate counts a record dropped during deduplication.
func (r *Recorder) Duplicate(host string) {
	if r == nil {
		return
	}
	r.duplicates.WithLabelValues(host).Inc()
}

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes all counters in the text exposition format, for the
// node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
