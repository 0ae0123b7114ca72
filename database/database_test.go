package database

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/internal/wire"
)

func writeReport(t *testing.T, db *Database, body string) wire.UUID {
	t.Helper()
	nr, err := db.PrepareNewReport()
	require.NoError(t, err)
	_, err = nr.Write([]byte(body))
	require.NoError(t, err)
	id, err := db.FinishedWritingReport(nr)
	require.NoError(t, err)
	return id
}

// S1 New report, upload success.
func TestScenarioS1NewReportUploadSuccess(t *testing.T) {
	db, err := Initialize(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	id := writeReport(t, db, "test\x00")

	pending, err := db.GetPendingReports()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	completed, err := db.GetCompletedReports()
	require.NoError(t, err)
	require.Len(t, completed, 0)

	r, err := db.LookUpReport(id)
	require.NoError(t, err)
	require.Equal(t, 0, r.UploadAttempts)
	require.False(t, r.Uploaded)

	lease, err := db.GetReportForUploading(id)
	require.NoError(t, err)
	require.NoError(t, db.RecordUploadAttempt(lease, true, "abc123"))

	r, err = db.LookUpReport(id)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, r.State)
	require.True(t, r.Uploaded)
	require.Equal(t, 1, r.UploadAttempts)
	require.Equal(t, "abc123", r.ServerID)
	require.Greater(t, r.LastUploadAttemptTime, int64(0))

	completed, err = db.GetCompletedReports()
	require.NoError(t, err)
	require.Len(t, completed, 1)
}

// S2 Upload retry.
func TestScenarioS2UploadRetry(t *testing.T) {
	db, err := Initialize(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	r0 := writeReport(t, db, "r0")
	r1 := writeReport(t, db, "r1")
	r2 := writeReport(t, db, "r2")

	lease1, err := db.GetReportForUploading(r1)
	require.NoError(t, err)
	require.NoError(t, db.RecordUploadAttempt(lease1, false, ""))

	lease2, err := db.GetReportForUploading(r2)
	require.NoError(t, err)
	require.NoError(t, db.RecordUploadAttempt(lease2, true, "abc123"))

	got0, err := db.LookUpReport(r0)
	require.NoError(t, err)
	require.Equal(t, StatePending, got0.State)
	require.Equal(t, 0, got0.UploadAttempts)

	got1, err := db.LookUpReport(r1)
	require.NoError(t, err)
	require.Equal(t, StatePending, got1.State)
	require.Equal(t, 1, got1.UploadAttempts)
	require.Greater(t, got1.LastUploadAttemptTime, int64(0))
	require.False(t, got1.Uploaded)
	require.Equal(t, "", got1.ServerID)

	got2, err := db.LookUpReport(r2)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, got2.State)
	require.Equal(t, 1, got2.UploadAttempts)
	require.True(t, got2.Uploaded)
	require.Equal(t, "abc123", got2.ServerID)

	lease1b, err := db.GetReportForUploading(r1)
	require.NoError(t, err)
	require.NoError(t, db.RecordUploadAttempt(lease1b, false, ""))
	got1, err = db.LookUpReport(r1)
	require.NoError(t, err)
	require.Equal(t, 2, got1.UploadAttempts)

	lease1c, err := db.GetReportForUploading(r1)
	require.NoError(t, err)
	require.NoError(t, db.RecordUploadAttempt(lease1c, true, "666hahaha"))
	got1, err = db.LookUpReport(r1)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, got1.State)
	require.Equal(t, 3, got1.UploadAttempts)
	require.True(t, got1.Uploaded)
}

// S3 Skip upload.
func TestScenarioS3SkipUpload(t *testing.T) {
	db, err := Initialize(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	_ = writeReport(t, db, "keep-pending")
	skipped := writeReport(t, db, "skip-me")

	require.NoError(t, db.SkipReportUpload(skipped))

	pending, err := db.GetPendingReports()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	completed, err := db.GetCompletedReports()
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.False(t, completed[0].Uploaded)
	require.Equal(t, 0, completed[0].UploadAttempts)
	require.Equal(t, int64(0), completed[0].LastUploadAttemptTime)
}

// S4 Dueling uploads.
func TestScenarioS4DuelingUploads(t *testing.T) {
	db, err := Initialize(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	id := writeReport(t, db, "dueling")

	lease1, err := db.GetReportForUploading(id)
	require.NoError(t, err)

	_, err = db.GetReportForUploading(id)
	require.True(t, crashcore.IsCode(err, crashcore.CodeBusy))

	require.NoError(t, db.RecordUploadAttempt(lease1, true, "winner"))

	_, err = db.GetReportForUploading(id)
	require.Error(t, err)
}

// S5 Error writing.
func TestScenarioS5ErrorWriting(t *testing.T) {
	root := t.TempDir()
	db, err := Initialize(root)
	require.NoError(t, err)
	defer db.Close()

	nr, err := db.PrepareNewReport()
	require.NoError(t, err)

	newPath := filepath.Join(root, "new", nr.UUID().String()+".dmp")
	_, err = os.Stat(newPath)
	require.NoError(t, err)

	require.NoError(t, db.ErrorWritingReport(nr))

	_, err = os.Stat(newPath)
	require.True(t, os.IsNotExist(err))

	_, err = db.LookUpReport(nr.UUID())
	require.Error(t, err)

	pending, err := db.GetPendingReports()
	require.NoError(t, err)
	for _, r := range pending {
		require.NotEqual(t, nr.UUID(), r.UUID)
	}
}

// S6 Move database.
func TestScenarioS6MoveDatabase(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "original")
	require.NoError(t, os.Mkdir(root, 0o755))

	db, err := Initialize(root)
	require.NoError(t, err)

	id := writeReport(t, db, "movable")
	require.NoError(t, db.Close())

	moved := filepath.Join(parent, "moved")
	require.NoError(t, os.Rename(root, moved))

	db2, err := Initialize(moved)
	require.NoError(t, err)
	defer db2.Close()

	r, err := db2.LookUpReport(id)
	require.NoError(t, err)
	require.Equal(t, id, r.UUID)

	_, err = os.Stat(filepath.Join(moved, "pending", id.String()+".dmp"))
	require.NoError(t, err)
}

// A second handler process (or, here, a second in-process handle) must be
// able to Initialize against the same root while the first is still open,
// per spec.md §4.1 — the file-based metadata index carries no directory-
// exclusive lock the way an embedded single-process store would.
func TestInitializeConcurrentlyFromTwoHandles(t *testing.T) {
	root := t.TempDir()

	db1, err := Initialize(root)
	require.NoError(t, err)
	defer db1.Close()

	db2, err := Initialize(root)
	require.NoError(t, err)
	defer db2.Close()

	id := writeReport(t, db1, "concurrent")

	r, err := db2.LookUpReport(id)
	require.NoError(t, err)
	require.Equal(t, id, r.UUID)
}

// Property 1: report uniqueness.
func TestPropertyReportUniqueness(t *testing.T) {
	db, err := Initialize(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	seen := make(map[wire.UUID]bool)
	for i := 0; i < 50; i++ {
		nr, err := db.PrepareNewReport()
		require.NoError(t, err)
		require.False(t, seen[nr.UUID()])
		seen[nr.UUID()] = true
		require.NoError(t, db.ErrorWritingReport(nr))
	}
}

// Property 3: pending/completed partition.
func TestPropertyPendingCompletedPartition(t *testing.T) {
	db, err := Initialize(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ids := make([]wire.UUID, 5)
	for i := range ids {
		ids[i] = writeReport(t, db, fmt.Sprintf("r%d", i))
	}
	lease, err := db.GetReportForUploading(ids[2])
	require.NoError(t, err)
	require.NoError(t, db.RecordUploadAttempt(lease, true, "x"))

	pending, err := db.GetPendingReports()
	require.NoError(t, err)
	completed, err := db.GetCompletedReports()
	require.NoError(t, err)
	require.Equal(t, len(ids), len(pending)+len(completed))

	seen := make(map[wire.UUID]bool)
	for _, r := range pending {
		seen[r.UUID] = true
	}
	for _, r := range completed {
		require.False(t, seen[r.UUID], "report counted in both partitions")
	}
}

// Property 5: relocation invariance is covered by TestScenarioS6MoveDatabase.

func TestSettingsClientIDStable(t *testing.T) {
	root := t.TempDir()
	db, err := Initialize(root)
	require.NoError(t, err)
	id1, err := db.Settings().GetClientID()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := Initialize(root)
	require.NoError(t, err)
	defer db2.Close()
	id2, err := db2.Settings().GetClientID()
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestSettingsUploadsEnabledRoundTrip(t *testing.T) {
	db, err := Initialize(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	enabled, err := db.Settings().GetUploadsEnabled()
	require.NoError(t, err)
	require.True(t, enabled)

	require.NoError(t, db.Settings().SetUploadsEnabled(false))
	enabled, err = db.Settings().GetUploadsEnabled()
	require.NoError(t, err)
	require.False(t, enabled)
}
