// Package metrics exposes Prometheus counters for the HTTP surface and the
// transcode worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder aggregates the pipeline's Prometheus collectors behind one
// registry so tests can create isolated instances.
type Recorder struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	jobOutcomes     *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	uploadedBytes   prometheus.Counter
	deletedObjects  prometheus.Counter
	activeJobs      prometheus.Gauge
}

func New() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vodworks_http_requests_total",
			Help: "HTTP requests by method, path, and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vodworks_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vodworks_transcode_jobs_total",
			Help: "Transcode job terminal outcomes.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vodworks_transcode_job_duration_seconds",
			Help:    "Wall-clock duration of completed transcode jobs.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vodworks_storage_uploaded_bytes_total",
			Help: "Bytes written to the object store.",
		}),
		deletedObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vodworks_storage_deleted_objects_total",
			Help: "Objects removed from the object store.",
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vodworks_transcode_jobs_active",
			Help: "Transcode jobs currently being processed.",
		}),
	}
	registry.MustRegister(
		r.requestCount,
		r.requestDuration,
		r.jobOutcomes,
		r.jobDuration,
		r.uploadedBytes,
		r.deletedObjects,
		r.activeJobs,
	)
	return r
}

var defaultRecorder = New()

// Default returns the process-wide recorder.
func Default() *Recorder {
	return defaultRecorder
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	r.requestCount.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (r *Recorder) JobStarted() {
	r.activeJobs.Inc()
}

func (r *Recorder) JobFinished(outcome string, duration time.Duration) {
	r.activeJobs.Dec()
	r.jobOutcomes.WithLabelValues(outcome).Inc()
	if outcome == "done" {
		r.jobDuration.Observe(duration.Seconds())
	}
}

func (r *Recorder) AddUploadedBytes(n int64) {
	if n > 0 {
		r.uploadedBytes.Add(float64(n))
	}
}

func (r *Recorder) AddDeletedObjects(n int) {
	if n > 0 {
		r.deletedObjects.Add(float64(n))
	}
}
