package ipcserver

import "github.com/crashcore/crashcore/internal/wire"

// Transport is the platform-specific channel the handler listens on: a
// Mach port receive right on one platform, a named-pipe endpoint on
// another, a Unix-domain socket on a third. It yields one Conn per
// connecting client.
type Transport interface {
	Accept() (Conn, error)
	Close() error
}

// Conn is one client's framed, bidirectional channel.
type Conn interface {
	ReadFrame() (wire.Frame, error)
	WriteFrame(msgType uint32, payload []byte) error
	Close() error
}
