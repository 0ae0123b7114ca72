//go:build linux

package ipcserver

import (
	"net"

	"golang.org/x/sys/unix"

	crashcore "github.com/crashcore/crashcore"
)

func peerPID(conn *net.UnixConn) (int32, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, crashcore.Wrap("Transport.PeerPID", err)
	}

	var cred *unix.Ucred
	var gerr error
	err = raw.Control(func(fd uintptr) {
		cred, gerr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, crashcore.Wrap("Transport.PeerPID", err)
	}
	if gerr != nil {
		return 0, crashcore.Wrap("Transport.PeerPID", gerr)
	}
	return cred.Pid, nil
}
