//go:build !linux

package ipcserver

import (
	"net"

	crashcore "github.com/crashcore/crashcore"
)

func peerPID(conn *net.UnixConn) (int32, error) {
	return 0, crashcore.Wrap("Transport.PeerPID", crashcore.ErrNotImplemented)
}
