package crashcore

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageFormat(t *testing.T) {
	e := New("Database.LookUpReport", CodeNotFound, "no such report")
	require.Contains(t, e.Error(), "Database.LookUpReport")
	require.Contains(t, e.Error(), "no such report")
}

func TestWrapPreservesCode(t *testing.T) {
	inner := New("Database.Open", CodeCorrupt, "bad magic")
	outer := Wrap("Database.Initialize", inner)
	require.Equal(t, CodeCorrupt, outer.Code)
	require.True(t, errors.Is(outer, inner))
}

func TestWrapMapsErrno(t *testing.T) {
	outer := Wrap("ProcessReader.Attach", syscall.EPERM)
	require.Equal(t, CodePermissionDenied, outer.Code)
	require.Equal(t, syscall.EPERM, outer.Errno)
}

func TestWrapNilIsNil(t *testing.T) {
	require.Nil(t, Wrap("op", nil))
}

func TestIsCode(t *testing.T) {
	err := New("op", CodeBusy, "leased")
	require.True(t, IsCode(err, CodeBusy))
	require.False(t, IsCode(err, CodeNotFound))
}

func TestSentinelMatching(t *testing.T) {
	specific := New("Database.GetReportForUploading", CodeBusy, "uuid abc already leased")
	require.True(t, errors.Is(specific, ErrBusy))
	require.False(t, errors.Is(specific, ErrNotFound))
}
