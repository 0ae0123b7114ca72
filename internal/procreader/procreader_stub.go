//go:build !linux

package procreader

import crashcore "github.com/crashcore/crashcore"

func attach(pid int) (Reader, error) {
	return nil, crashcore.Wrap("ProcessReader.Attach", crashcore.ErrNotImplemented)
}
