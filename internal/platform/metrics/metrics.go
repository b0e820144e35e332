package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the download engine.
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	downloadsStartedTotal  prometheus.Counter
	downloadsFinishedTotal *prometheus.CounterVec
	segmentsFetchedTotal   prometheus.Counter
	segmentsInvalidTotal   prometheus.Counter
	activeDownloads        prometheus.Gauge
	errorsTotal            prometheus.Counter
}

// New creates and registers Prometheus metrics for the engine.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vidgrab_requests_total",
		Help: "Total number of HTTP requests received",
	})
	downloadsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vidgrab_downloads_started_total",
		Help: "Total number of download sessions started",
	})
	downloadsFinishedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgrab_downloads_finished_total",
		Help: "Total number of download sessions finished, by terminal status",
	}, []string{"status"})
	segmentsFetchedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vidgrab_segments_fetched_total",
		Help: "Total number of media segments fetched successfully",
	})
	segmentsInvalidTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vidgrab_segments_invalid_total",
		Help: "Total number of media segments dropped as invalid",
	})
	activeDownloads := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vidgrab_active_downloads",
		Help: "Number of download sessions currently in flight",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vidgrab_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		downloadsStartedTotal,
		downloadsFinishedTotal,
		segmentsFetchedTotal,
		segmentsInvalidTotal,
		activeDownloads,
		errorsTotal,
	)

	return &Metrics{
		registry:               registry,
		requestsTotal:          requestsTotal,
		downloadsStartedTotal:  downloadsStartedTotal,
		downloadsFinishedTotal: downloadsFinishedTotal,
		segmentsFetchedTotal:   segmentsFetchedTotal,
		segmentsInvalidTotal:   segmentsInvalidTotal,
		activeDownloads:        activeDownloads,
		errorsTotal:            errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncDownloadsStarted increments the started-downloads counter.
func (m *Metrics) IncDownloadsStarted() {
	m.downloadsStartedTotal.Inc()
}

// IncDownloadsFinished increments the finished-downloads counter for the
// given terminal status ("complete", "failed", "cancelled").
func (m *Metrics) IncDownloadsFinished(status string) {
	m.downloadsFinishedTotal.WithLabelValues(status).Inc()
}

// AddSegmentsFetched adds n to the fetched-segments counter.
func (m *Metrics) AddSegmentsFetched(n int) {
	m.segmentsFetchedTotal.Add(float64(n))
}

// AddSegmentsInvalid adds n to the invalid-segments counter.
func (m *Metrics) AddSegmentsInvalid(n int) {
	m.segmentsInvalidTotal.Add(float64(n))
}

// SetActiveDownloads sets the active downloads gauge.
func (m *Metrics) SetActiveDownloads(n int) {
	m.activeDownloads.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
