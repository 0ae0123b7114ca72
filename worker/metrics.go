package worker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports upload and prune activity for external
// scraping, in addition to the in-process atomic Metrics. Methods handle a
// nil receiver gracefully so a nil *PrometheusCollector is a no-op.
type PrometheusCollector struct {
	// UploadAttempts counts upload attempts by result.
	// Labels: result=[success, failure]
	UploadAttempts *prometheus.CounterVec

	// ReportsPruned counts reports evicted by the prune worker.
	ReportsPruned prometheus.Counter

	// BytesPruned tracks cumulative bytes reclaimed by pruning.
	BytesPruned prometheus.Counter
}

var (
	collectorOnce     sync.Once
	collectorInstance *PrometheusCollector
)

// NewPrometheusCollector creates and registers the worker's Prometheus
// metrics. If registerer is nil, prometheus.DefaultRegisterer is used.
// Idempotent: registration happens at most once per process.
func NewPrometheusCollector(registerer prometheus.Registerer) *PrometheusCollector {
	collectorOnce.Do(func() {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}

		c := &PrometheusCollector{
			UploadAttempts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crashcore_upload_attempts_total",
					Help: "Total report upload attempts by result",
				},
				[]string{"result"},
			),
			ReportsPruned: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "crashcore_reports_pruned_total",
					Help: "Total reports evicted by the prune worker",
				},
			),
			BytesPruned: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "crashcore_bytes_pruned_total",
					Help: "Total dump bytes reclaimed by the prune worker",
				},
			),
		}

		registerer.MustRegister(c.UploadAttempts, c.ReportsPruned, c.BytesPruned)
		collectorInstance = c
	})

	return collectorInstance
}

// ObserveUpload records the outcome of one upload attempt.
func (c *PrometheusCollector) ObserveUpload(success bool) {
	if c == nil {
		return
	}
	if success {
		c.UploadAttempts.WithLabelValues("success").Inc()
	} else {
		c.UploadAttempts.WithLabelValues("failure").Inc()
	}
}

// ObservePrune records one pruned report's reclaimed size.
func (c *PrometheusCollector) ObservePrune(bytes int64) {
	if c == nil {
		return
	}
	c.ReportsPruned.Inc()
	if bytes > 0 {
		c.BytesPruned.Add(float64(bytes))
	}
}
