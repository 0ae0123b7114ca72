package worker

import (
	"sort"
	"sync"
	"time"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/database"
	"github.com/crashcore/crashcore/internal/logging"
)

// PruneConfig configures a PruneWorker.
type PruneConfig struct {
	Metrics   *crashcore.Metrics
	Collector *PrometheusCollector // may be nil

	// Interval between prune passes; defaults to once a day.
	Interval time.Duration

	// RetentionWindow: reports older than this (by creation time) are
	// evicted. Zero disables age-based eviction.
	RetentionWindow time.Duration

	// MaxTotalBytes caps the database's total dump size; when exceeded,
	// the oldest reports are evicted until back under budget. Zero
	// disables size-based eviction.
	MaxTotalBytes int64
}

// PruneWorker periodically evicts reports older than a retention window or
// in excess of a size budget, oldest first.
type PruneWorker struct {
	db   *database.Database
	cfg  PruneConfig
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewPruneWorker constructs a worker against db.
func NewPruneWorker(db *database.Database, cfg PruneConfig) *PruneWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &PruneWorker{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start runs the periodic prune loop until Stop is called.
func (w *PruneWorker) Start() {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.runOnce()
		}
	}
}

// Stop signals the worker to finish the report it is deleting and exit;
// the rest of the current pass is skipped.
func (w *PruneWorker) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

func (w *PruneWorker) runOnce() {
	reports, err := w.db.GetAllReports()
	if err != nil {
		logging.Warn("prune worker: enumerate reports failed", "err", err)
		return
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CreationTime < reports[j].CreationTime
	})

	var total int64
	for _, r := range reports {
		total += r.FileSize
	}

	now := time.Now()
	for _, r := range reports {
		select {
		case <-w.stop:
			return
		default:
		}

		evict := false
		if w.cfg.RetentionWindow != 0 && now.Sub(time.Unix(r.CreationTime, 0)) > w.cfg.RetentionWindow {
			evict = true
		}
		if w.cfg.MaxTotalBytes > 0 && total > w.cfg.MaxTotalBytes {
			evict = true
		}
		if !evict {
			continue
		}

		if err := w.db.DeleteReport(r.UUID); err != nil {
			if crashcore.IsCode(err, crashcore.CodeBusy) {
				continue
			}
			logging.Warn("prune worker: delete report failed", "uuid", r.UUID.String(), "err", err)
			continue
		}
		total -= r.FileSize
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ObservePrune(r.FileSize)
		}
		if w.cfg.Collector != nil {
			w.cfg.Collector.ObservePrune(r.FileSize)
		}
	}
}
