// Package worker implements the Upload Worker and Prune Worker: background
// loops that move finalized reports to a remote collector and reclaim disk
// space, cooperating only through the shared Database.
package worker

import (
	"context"
	"sync"
	"time"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/database"
	"github.com/crashcore/crashcore/internal/logging"
)

// UploadConfig configures an UploadWorker.
type UploadConfig struct {
	Transport UploadTransport
	Metrics   *crashcore.Metrics
	Collector *PrometheusCollector // may be nil

	// PollInterval is the periodic wake-up in addition to explicit
	// ReportPending signals.
	PollInterval time.Duration

	// RateLimitInterval is the minimum spacing between upload attempts
	// when rate limiting is enabled; zero disables rate limiting.
	RateLimitInterval time.Duration

	// BackoffBase and BackoffCap bound the exponential retry delay keyed
	// on a report's upload_attempts.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// UploadWorker enumerates pending reports and attempts to upload each
// through an UploadTransport, honoring the database's uploads_enabled flag
// and rate limit, skipping reports whose lease is held elsewhere, and
// backing off reports that have already failed recently.
type UploadWorker struct {
	db     *database.Database
	cfg    UploadConfig
	bo     backoff
	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewUploadWorker constructs a worker against db. It does not start the
// background loop; call Start for that.
func NewUploadWorker(db *database.Database, cfg UploadConfig) *UploadWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &UploadWorker{
		db:     db,
		cfg:    cfg,
		bo:     newBackoff(cfg.BackoffBase, cfg.BackoffCap),
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ReportPending wakes the worker to consider the newly finalized report
// without waiting for the next poll tick. Non-blocking: if a wake-up is
// already queued this call is a no-op.
func (w *UploadWorker) ReportPending() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Start runs the worker loop until Stop is called. It blocks until the
// loop exits, so callers typically invoke it as `go worker.Start()`.
func (w *UploadWorker) Start() {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.runOnce()
		case <-w.signal:
			w.runOnce()
		}
	}
}

// Stop signals the worker to finish its in-flight upload and exit; the
// rest of the current pass is skipped. It blocks until the loop has
// returned.
func (w *UploadWorker) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

func (w *UploadWorker) runOnce() {
	enabled, err := w.db.Settings().GetUploadsEnabled()
	if err != nil {
		logging.Warn("upload worker: read uploads_enabled failed", "err", err)
		return
	}
	if !enabled {
		return
	}

	if w.cfg.RateLimitInterval > 0 {
		last, err := w.db.Settings().GetLastUploadAttemptTime()
		if err == nil && last > 0 {
			elapsed := time.Since(time.Unix(last, 0))
			if elapsed < w.cfg.RateLimitInterval {
				return
			}
		}
	}

	reports, err := w.db.GetPendingReports()
	if err != nil {
		logging.Warn("upload worker: enumerate pending reports failed", "err", err)
		return
	}

	for _, r := range reports {
		select {
		case <-w.stop:
			return
		default:
		}
		w.attempt(r)
		if w.cfg.RateLimitInterval > 0 {
			// An attempt just made resets the window for the rest of the pass.
			last, err := w.db.Settings().GetLastUploadAttemptTime()
			if err == nil && time.Since(time.Unix(last, 0)) < w.cfg.RateLimitInterval {
				return
			}
		}
	}
}

func (w *UploadWorker) attempt(r database.Report) {
	if d := w.bo.delay(r.UploadAttempts); d > 0 {
		if time.Since(time.Unix(r.LastUploadAttemptTime, 0)) < d {
			return
		}
	}

	lease, err := w.db.GetReportForUploading(r.UUID)
	if err != nil {
		if crashcore.IsCode(err, crashcore.CodeBusy) {
			return
		}
		logging.Warn("upload worker: lease report failed", "uuid", r.UUID.String(), "err", err)
		return
	}

	body, err := w.db.ReadReportBody(r)
	if err != nil {
		logging.Warn("upload worker: read report body failed", "uuid", r.UUID.String(), "err", err)
		w.db.RecordUploadAttempt(lease, false, "")
		w.observe(false)
		return
	}

	w.db.Settings().SetLastUploadAttemptTime(time.Now().Unix())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	serverID, err := w.cfg.Transport.Upload(ctx, r.UUID.String(), nil, body)
	cancel()

	if err != nil {
		logging.Warn("upload worker: upload failed", "uuid", r.UUID.String(), "err", err)
		w.db.RecordUploadAttempt(lease, false, "")
		w.observe(false)
		return
	}

	if err := w.db.RecordUploadAttempt(lease, true, serverID); err != nil {
		logging.Warn("upload worker: record upload attempt failed", "uuid", r.UUID.String(), "err", err)
	}
	w.observe(true)
}

func (w *UploadWorker) observe(success bool) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ObserveUpload(success)
	}
	if w.cfg.Collector != nil {
		w.cfg.Collector.ObserveUpload(success)
	}
}
