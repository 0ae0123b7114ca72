package crashcore

import (
	"sync/atomic"
	"time"
)

// CaptureLatencyBuckets defines the latency histogram buckets in
// nanoseconds for a full capture (suspend through dump finalize). Buckets
// cover from 1ms to 60s with logarithmic spacing since a capture does far
// more I/O than a single block-device request.
var CaptureLatencyBuckets = []uint64{
	1_000_000,     // 1ms
	10_000_000,    // 10ms
	100_000_000,   // 100ms
	1_000_000_000, // 1s
	5_000_000_000, // 5s
	10_000_000_000,
	30_000_000_000,
	60_000_000_000,
}

const numCaptureLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a handler
// instance: capture counts/latency, upload attempts/outcomes, and pruning
// activity. All fields are safe for concurrent use.
type Metrics struct {
	CapturesStarted    atomic.Uint64
	CapturesSucceeded  atomic.Uint64
	CapturesFailed     atomic.Uint64

	UploadAttempts atomic.Uint64
	UploadSuccess  atomic.Uint64
	UploadFailure  atomic.Uint64
	UploadSkipped  atomic.Uint64

	ReportsPruned atomic.Uint64
	BytesPruned   atomic.Uint64

	TotalCaptureLatencyNs atomic.Uint64
	CaptureLatencyBuckets [numCaptureLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a zeroed Metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Stop records the instant the handler stopped, for uptime reporting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// ObserveCapture records the outcome and latency of one capture attempt.
func (m *Metrics) ObserveCapture(success bool, latency time.Duration) {
	m.CapturesStarted.Add(1)
	if success {
		m.CapturesSucceeded.Add(1)
	} else {
		m.CapturesFailed.Add(1)
	}
	ns := uint64(latency.Nanoseconds())
	m.TotalCaptureLatencyNs.Add(ns)
	for i, bucket := range CaptureLatencyBuckets {
		if ns <= bucket {
			m.CaptureLatencyBuckets[i].Add(1)
		}
	}
}

// ObserveUpload records the outcome of one upload attempt.
func (m *Metrics) ObserveUpload(success bool) {
	m.UploadAttempts.Add(1)
	if success {
		m.UploadSuccess.Add(1)
	} else {
		m.UploadFailure.Add(1)
	}
}

// ObserveSkippedUpload records an upload explicitly skipped (not attempted).
func (m *Metrics) ObserveSkippedUpload() {
	m.UploadSkipped.Add(1)
}

// ObservePrune records a pruned report's size.
func (m *Metrics) ObservePrune(bytes int64) {
	m.ReportsPruned.Add(1)
	if bytes > 0 {
		m.BytesPruned.Add(uint64(bytes))
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics safe to read without
// racing further updates.
type MetricsSnapshot struct {
	CapturesStarted, CapturesSucceeded, CapturesFailed uint64
	UploadAttempts, UploadSuccess, UploadFailure, UploadSkipped uint64
	ReportsPruned uint64
	BytesPruned   uint64
	UptimeSeconds float64
}

// Snapshot returns a consistent-enough point-in-time copy of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	var uptime float64
	if stop == 0 {
		uptime = time.Since(time.Unix(0, start)).Seconds()
	} else {
		uptime = time.Unix(0, stop).Sub(time.Unix(0, start)).Seconds()
	}
	return MetricsSnapshot{
		CapturesStarted:   m.CapturesStarted.Load(),
		CapturesSucceeded: m.CapturesSucceeded.Load(),
		CapturesFailed:    m.CapturesFailed.Load(),
		UploadAttempts:    m.UploadAttempts.Load(),
		UploadSuccess:     m.UploadSuccess.Load(),
		UploadFailure:     m.UploadFailure.Load(),
		UploadSkipped:     m.UploadSkipped.Load(),
		ReportsPruned:     m.ReportsPruned.Load(),
		BytesPruned:       m.BytesPruned.Load(),
		UptimeSeconds:     uptime,
	}
}
