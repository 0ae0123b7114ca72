// Command crashhandler runs the out-of-process crash capture server: it
// listens for client registrations and crash notifications, writes
// minidump-style reports to a database, and runs background upload and
// prune workers against that database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/database"
	"github.com/crashcore/crashcore/internal/ipcserver"
	"github.com/crashcore/crashcore/internal/logging"
	"github.com/crashcore/crashcore/snapshot"
	"github.com/crashcore/crashcore/worker"
)

// annotationFlags implements flag.Value to collect repeated --annotation
// KEY=VALUE pairs.
type annotationFlags map[string]string

func (a annotationFlags) String() string {
	parts := make([]string, 0, len(a))
	for k, v := range a {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (a annotationFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("--annotation must be KEY=VALUE, got %q", value)
	}
	a[key] = val
	return nil
}

// lastChanceExitCode is the distinct code main exits with after logging an
// unrecovered panic in the handler itself; the core does not recover from handler-
// internal crashes beyond this, per spec's non-goals.
const lastChanceExitCode = 70

func main() {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("crashhandler: unrecovered panic", "panic", r, "stack", string(debug.Stack()))
			os.Exit(lastChanceExitCode)
		}
	}()

	os.Exit(run())
}

func run() int {
	var (
		databasePath  = flag.String("database", "", "database root directory (required)")
		uploadURL     = flag.String("url", "", "upload endpoint; empty disables upload")
		socketPath    = flag.String("socket", "", "Unix-domain socket path to listen on (required)")
		noRateLimit   = flag.Bool("no-rate-limit", false, "disable upload rate limiting")
		noUploadGzip  = flag.Bool("no-upload-gzip", false, "disable gzip compression of uploaded reports")
		verbose       = flag.Bool("v", false, "verbose logging")
		annotations   = make(annotationFlags)
	)
	flag.Var(annotations, "annotation", "KEY=VALUE annotation injected into every report (repeatable)")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(logConfig))

	if *databasePath == "" {
		logging.Error("crashhandler: --database is required")
		return 1
	}
	if *socketPath == "" {
		logging.Error("crashhandler: --socket is required")
		return 1
	}

	db, err := database.Initialize(*databasePath)
	if err != nil {
		logging.Error("crashhandler: database init failed", "err", err)
		return 1
	}
	defer db.Close()

	if *uploadURL == "" {
		if serr := db.Settings().SetUploadsEnabled(false); serr != nil {
			logging.Warn("crashhandler: could not disable uploads", "err", serr)
		}
	} else {
		if serr := db.Settings().SetUploadsEnabled(true); serr != nil {
			logging.Warn("crashhandler: could not enable uploads", "err", serr)
		}
	}

	transport, err := ipcserver.ListenUnix(*socketPath)
	if err != nil {
		logging.Error("crashhandler: socket bind failed", "err", err)
		return 1
	}

	metrics := crashcore.NewMetrics()
	defer metrics.Stop()

	srv := ipcserver.NewServer(transport, db, metrics, annotations, &snapshot.SanitizationPolicy{})

	rateLimitInterval := time.Minute
	if *noRateLimit {
		rateLimitInterval = 0
	}

	var uploadWorker *worker.UploadWorker
	if *uploadURL != "" {
		collector := worker.NewPrometheusCollector(nil)
		uploadWorker = worker.NewUploadWorker(db, worker.UploadConfig{
			Transport:         worker.NewHTTPTransport(*uploadURL, *noUploadGzip),
			Metrics:           metrics,
			Collector:         collector,
			PollInterval:      30 * time.Second,
			RateLimitInterval: rateLimitInterval,
			BackoffBase:       time.Second,
			BackoffCap:        time.Hour,
		})
		srv.SetPendingNotifier(uploadWorker)
		go uploadWorker.Start()
		defer uploadWorker.Stop()
	}

	pruneWorker := worker.NewPruneWorker(db, worker.PruneConfig{
		Metrics:         metrics,
		Interval:        24 * time.Hour,
		RetentionWindow: 30 * 24 * time.Hour,
	})
	go pruneWorker.Start()
	defer pruneWorker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info("crashhandler: signal received, shutting down")
		cancel()
	}()

	logging.Info("crashhandler: listening", "socket", *socketPath, "database", *databasePath)
	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		logging.Error("crashhandler: server exited with error", "err", err)
		return 1
	}

	return 0
}
