package crashcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsObserveCapture(t *testing.T) {
	m := NewMetrics()
	m.ObserveCapture(true, 5*time.Millisecond)
	m.ObserveCapture(false, 2*time.Second)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.CapturesStarted)
	require.Equal(t, uint64(1), snap.CapturesSucceeded)
	require.Equal(t, uint64(1), snap.CapturesFailed)
}

func TestMetricsObserveUpload(t *testing.T) {
	m := NewMetrics()
	m.ObserveUpload(true)
	m.ObserveUpload(false)
	m.ObserveSkippedUpload()

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.UploadAttempts)
	require.Equal(t, uint64(1), snap.UploadSuccess)
	require.Equal(t, uint64(1), snap.UploadFailure)
	require.Equal(t, uint64(1), snap.UploadSkipped)
}

func TestMetricsObservePrune(t *testing.T) {
	m := NewMetrics()
	m.ObservePrune(1024)
	m.ObservePrune(2048)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.ReportsPruned)
	require.Equal(t, uint64(3072), snap.BytesPruned)
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics()
	m.ObserveCapture(true, 500*time.Microsecond) // falls in every bucket >= 1ms

	for i, want := range []uint64{1, 1, 1, 1, 1, 1, 1, 1} {
		require.Equal(t, want, m.CaptureLatencyBuckets[i].Load())
	}
}

func TestMetricsStop(t *testing.T) {
	m := NewMetrics()
	m.Stop()
	snap := m.Snapshot()
	require.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}
