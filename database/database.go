package database

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dolthub/fslock"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/internal/logging"
	"github.com/crashcore/crashcore/internal/wire"
)

const leaseLockTimeout = 20 * time.Millisecond

// Database is a durable, multi-writer-safe store of crash reports: a
// settings file; new/, pending/, completed/ directories holding dump
// files; and a metadata index keyed by report uuid. Every mutating
// operation takes a file-system advisory lock covering its touched
// records, and renames across states are same-volume so they are atomic
// with respect to readers.
type Database struct {
	root         string
	newDir       string
	pendingDir   string
	completedDir string
	locksDir     string

	meta     *metadataIndex
	settings *Settings
}

// Initialize creates the directory tree under rootPath if absent, opens
// (or creates) the metadata index and settings file, and recovers from
// partial writes: orphaned files left under new/ by a process that died
// mid-write are removed, and pending entries whose dump file went missing
// are dropped from the index. It is safe to call while another handler
// process is already initialized against the same path.
func Initialize(rootPath string) (*Database, error) {
	d := &Database{
		root:         rootPath,
		newDir:       filepath.Join(rootPath, "new"),
		pendingDir:   filepath.Join(rootPath, "pending"),
		completedDir: filepath.Join(rootPath, "completed"),
		locksDir:     filepath.Join(rootPath, "locks"),
	}
	for _, dir := range []string{d.root, d.newDir, d.pendingDir, d.completedDir, d.locksDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, crashcore.Wrap("Database.Initialize", err)
		}
	}

	settings, err := openSettings(filepath.Join(rootPath, "settings"))
	if err != nil {
		return nil, crashcore.Wrap("Database.Initialize", err)
	}
	d.settings = settings

	meta, err := openMetadataIndex(filepath.Join(rootPath, "metadata"))
	if err != nil {
		return nil, crashcore.Wrap("Database.Initialize", err)
	}
	d.meta = meta

	if err := d.recover(); err != nil {
		meta.Close()
		return nil, crashcore.Wrap("Database.Initialize", err)
	}

	return d, nil
}

// recover sweeps new/ for orphaned files from a process that crashed mid
// write, and drops any indexed pending/uploading report whose dump file
// has gone missing.
func (d *Database) recover() error {
	entries, err := os.ReadDir(d.newDir)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		path := filepath.Join(d.newDir, ent.Name())
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			logging.Warn("database recover: could not remove orphaned new/ file", "path", path, "err", rerr)
		}
	}

	reports, err := d.meta.list(map[State]bool{StatePending: true, StateUploading: true})
	if err != nil {
		return err
	}
	for _, r := range reports {
		if _, err := os.Stat(filepath.Join(d.pendingDir, r.UUID.String()+".dmp")); os.IsNotExist(err) {
			if derr := d.meta.delete(r.UUID); derr != nil {
				logging.Warn("database recover: could not drop missing report", "uuid", r.UUID.String(), "err", derr)
			}
			continue
		}
		if r.State == StateUploading {
			// No in-process lease survives a restart; any lock file left
			// behind by a killed uploader is stale and can be replaced.
			os.Remove(filepath.Join(d.locksDir, r.UUID.String()+".lock"))
			r.State = StatePending
			if perr := d.meta.put(r); perr != nil {
				return perr
			}
		}
	}
	return nil
}

// Close releases the metadata index. It does not touch in-flight leases;
// callers must ensure no lease is outstanding before closing.
func (d *Database) Close() error {
	return d.meta.Close()
}

// Settings returns the database-wide settings accessor.
func (d *Database) Settings() *Settings {
	return d.settings
}

// PrepareNewReport allocates a fresh uuid and opens a writable file under
// new/, returning a handle with a sequential write cursor.
func (d *Database) PrepareNewReport() (*NewReport, error) {
	id := wire.NewUUID()
	path := filepath.Join(d.newDir, id.String()+".dmp")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, crashcore.Wrap("Database.PrepareNewReport", err)
	}
	return &NewReport{uuid: id, file: f, path: path}, nil
}

// FinishedWritingReport flushes and atomically moves the file from new/ to
// pending/, records the creation time, and makes the report visible to
// queries.
func (d *Database) FinishedWritingReport(nr *NewReport) (wire.UUID, error) {
	if err := nr.file.Sync(); err != nil {
		nr.file.Close()
		return wire.Nil, crashcore.Wrap("Database.FinishedWritingReport", err)
	}
	size, err := nr.file.Seek(0, io.SeekCurrent)
	if err != nil {
		size = 0
	}
	if err := nr.file.Close(); err != nil {
		return wire.Nil, crashcore.Wrap("Database.FinishedWritingReport", err)
	}

	pendingPath := filepath.Join(d.pendingDir, nr.uuid.String()+".dmp")
	if err := os.Rename(nr.path, pendingPath); err != nil {
		return wire.Nil, crashcore.Wrap("Database.FinishedWritingReport", err)
	}

	r := Report{
		UUID:         nr.uuid,
		State:        StatePending,
		CreationTime: time.Now().Unix(),
		FileSize:     size,
	}
	if err := d.meta.put(r); err != nil {
		return wire.Nil, crashcore.Wrap("Database.FinishedWritingReport", err)
	}
	return nr.uuid, nil
}

// ErrorWritingReport deletes the new/ file and discards the uuid.
func (d *Database) ErrorWritingReport(nr *NewReport) error {
	nr.file.Close()
	if err := os.Remove(nr.path); err != nil && !os.IsNotExist(err) {
		return crashcore.Wrap("Database.ErrorWritingReport", err)
	}
	return nil
}

// LookUpReport returns the report for id, or ErrNotFound.
func (d *Database) LookUpReport(id wire.UUID) (Report, error) {
	r, found, err := d.meta.get(id)
	if err != nil {
		return Report{}, crashcore.Wrap("Database.LookUpReport", err)
	}
	if !found {
		return Report{}, crashcore.Wrap("Database.LookUpReport", crashcore.ErrNotFound)
	}
	return r, nil
}

// GetPendingReports returns a snapshot of every report currently pending
// or uploading.
func (d *Database) GetPendingReports() ([]Report, error) {
	reports, err := d.meta.list(map[State]bool{StatePending: true, StateUploading: true})
	if err != nil {
		return nil, crashcore.Wrap("Database.GetPendingReports", err)
	}
	return reports, nil
}

// GetCompletedReports returns a snapshot of every completed report.
func (d *Database) GetCompletedReports() ([]Report, error) {
	reports, err := d.meta.list(map[State]bool{StateCompleted: true})
	if err != nil {
		return nil, crashcore.Wrap("Database.GetCompletedReports", err)
	}
	return reports, nil
}

// GetAllReports returns a snapshot of every report regardless of state,
// for callers (such as the prune worker) that need the full set.
func (d *Database) GetAllReports() ([]Report, error) {
	reports, err := d.meta.list(nil)
	if err != nil {
		return nil, crashcore.Wrap("Database.GetAllReports", err)
	}
	return reports, nil
}

// ReportFilePath returns the dump file's current location, which depends
// on the report's state (pending/uploading reports live under pending/,
// completed ones under completed/).
func (d *Database) ReportFilePath(r Report) string {
	if r.State == StateCompleted {
		return filepath.Join(d.completedDir, r.UUID.String()+".dmp")
	}
	return filepath.Join(d.pendingDir, r.UUID.String()+".dmp")
}

// ReadReportBody reads the full dump file for r into memory.
func (d *Database) ReadReportBody(r Report) ([]byte, error) {
	body, err := os.ReadFile(d.ReportFilePath(r))
	if err != nil {
		return nil, crashcore.Wrap("Database.ReadReportBody", err)
	}
	return body, nil
}

// DeleteReport removes a report's dump file (wherever it currently lives)
// and its metadata entry. It fails with Busy if an upload lease is held.
func (d *Database) DeleteReport(id wire.UUID) error {
	r, found, err := d.meta.get(id)
	if err != nil {
		return crashcore.Wrap("Database.DeleteReport", err)
	}
	if !found {
		return nil
	}

	lease, err := d.tryLease(id)
	if err != nil {
		return err
	}
	defer lease.release()

	path := d.ReportFilePath(r)
	if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
		return crashcore.Wrap("Database.DeleteReport", rerr)
	}
	if derr := d.meta.delete(id); derr != nil {
		return crashcore.Wrap("Database.DeleteReport", derr)
	}
	return nil
}

// ReportLease is an advisory exclusive lock on one report, acquired by
// GetReportForUploading and released by RecordUploadAttempt;
// SkipReportUpload and DeleteReport take and release one internally. At
// most one lease may exist per uuid across all processes sharing this
// database.
type ReportLease struct {
	uuid     wire.UUID
	lock     *fslock.Lock
	lockPath string
}

// UUID returns the leased report's uuid.
func (l *ReportLease) UUID() wire.UUID {
	return l.uuid
}

func (d *Database) tryLease(id wire.UUID) (*ReportLease, error) {
	path := filepath.Join(d.locksDir, id.String()+".lock")
	lock := fslock.New(path)
	if err := lock.LockWithTimeout(leaseLockTimeout); err != nil {
		return nil, crashcore.New("Database.tryLease", crashcore.CodeBusy, "report lease held elsewhere")
	}
	return &ReportLease{uuid: id, lock: lock, lockPath: path}, nil
}

func (l *ReportLease) release() {
	l.lock.Unlock()
	os.Remove(l.lockPath)
}

// GetReportForUploading acquires an advisory exclusive lock on the report
// and transitions it Pending -> Uploading. If a lease already exists
// (cross-process), returns a Busy error; if the report is not pending,
// returns NotFound.
func (d *Database) GetReportForUploading(id wire.UUID) (*ReportLease, error) {
	r, found, err := d.meta.get(id)
	if err != nil {
		return nil, crashcore.Wrap("Database.GetReportForUploading", err)
	}
	if !found || r.State == StateCompleted {
		return nil, crashcore.Wrap("Database.GetReportForUploading", crashcore.ErrNotFound)
	}

	lease, err := d.tryLease(id)
	if err != nil {
		return nil, err
	}

	r.State = StateUploading
	if err := d.meta.put(r); err != nil {
		lease.release()
		return nil, crashcore.Wrap("Database.GetReportForUploading", err)
	}
	return lease, nil
}

// RecordUploadAttempt increments upload_attempts, sets
// last_upload_attempt_time, and on success moves the report to completed/
// and marks it uploaded with the given server id. On failure it reverts
// the report to pending. Either way the lease is released.
func (d *Database) RecordUploadAttempt(lease *ReportLease, success bool, serverID string) error {
	defer lease.release()

	r, found, err := d.meta.get(lease.uuid)
	if err != nil {
		return crashcore.Wrap("Database.RecordUploadAttempt", err)
	}
	if !found {
		return crashcore.Wrap("Database.RecordUploadAttempt", crashcore.ErrNotFound)
	}

	r.UploadAttempts++
	r.LastUploadAttemptTime = time.Now().Unix()

	if success {
		pendingPath := filepath.Join(d.pendingDir, r.UUID.String()+".dmp")
		completedPath := filepath.Join(d.completedDir, r.UUID.String()+".dmp")
		if err := os.Rename(pendingPath, completedPath); err != nil {
			return crashcore.Wrap("Database.RecordUploadAttempt", err)
		}
		r.Uploaded = true
		r.ServerID = serverID
		r.State = StateCompleted
	} else {
		r.State = StatePending
	}

	if err := d.meta.put(r); err != nil {
		return crashcore.Wrap("Database.RecordUploadAttempt", err)
	}
	return nil
}

// SkipReportUpload transitions a pending report directly to completed
// without attempting an upload; upload_attempts, last_upload_attempt_time,
// and uploaded are left unchanged. Fails if a lease is held.
func (d *Database) SkipReportUpload(id wire.UUID) error {
	r, found, err := d.meta.get(id)
	if err != nil {
		return crashcore.Wrap("Database.SkipReportUpload", err)
	}
	if !found {
		return crashcore.Wrap("Database.SkipReportUpload", crashcore.ErrNotFound)
	}
	if r.State == StateCompleted {
		return crashcore.Wrap("Database.SkipReportUpload", crashcore.ErrNotFound)
	}

	lease, err := d.tryLease(id)
	if err != nil {
		return err
	}
	defer lease.release()

	pendingPath := filepath.Join(d.pendingDir, r.UUID.String()+".dmp")
	completedPath := filepath.Join(d.completedDir, r.UUID.String()+".dmp")
	if err := os.Rename(pendingPath, completedPath); err != nil {
		return crashcore.Wrap("Database.SkipReportUpload", err)
	}

	r.State = StateCompleted
	if err := d.meta.put(r); err != nil {
		return crashcore.Wrap("Database.SkipReportUpload", err)
	}
	return nil
}
