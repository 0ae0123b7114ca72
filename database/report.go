// Package database implements the durable, multi-writer-safe store of
// crash reports described for the Report Database: a settings file plus
// new/pending/completed directories for dump files, with a file-based
// metadata index keyed by report uuid.
package database

import (
	"os"

	"github.com/crashcore/crashcore/internal/wire"
)

// State is a report's position in the pending/uploading/completed state
// machine. Uploading is a transient sub-state of pending for query
// purposes: GetPendingReports returns both Pending and Uploading reports.
type State int

const (
	StatePending State = iota
	StateUploading
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateUploading:
		return "uploading"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Report is the durable, queryable record of one crash report. It is the
// value stored in the metadata index, independent of where its dump file
// currently lives on disk.
type Report struct {
	UUID                  wire.UUID
	State                 State
	CreationTime          int64
	UploadAttempts        int
	Uploaded              bool
	LastUploadAttemptTime int64
	ServerID              string
	FileSize              int64
}

// NewReport is the write handle returned by PrepareNewReport. It wraps a
// sequential write cursor over the report's file under new/ and the
// reserved uuid; it is not visible to any query until FinishedWritingReport
// moves it into pending/.
type NewReport struct {
	uuid wire.UUID
	file *os.File
	path string
}

// UUID returns the uuid reserved for this report.
func (n *NewReport) UUID() wire.UUID {
	return n.uuid
}

// Write appends to the report's dump file.
func (n *NewReport) Write(p []byte) (int, error) {
	return n.file.Write(p)
}
