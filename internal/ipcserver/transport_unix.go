package ipcserver

import (
	"net"
	"os"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/internal/wire"
)

// UnixTransport is the Unix-domain-socket concrete Transport. It removes
// any stale socket file left by a crashed prior handler before binding.
type UnixTransport struct {
	path     string
	listener *net.UnixListener
}

// ListenUnix binds a Unix-domain socket at path.
func ListenUnix(path string) (*UnixTransport, error) {
	os.Remove(path)
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, crashcore.Wrap("Transport.ListenUnix", err)
	}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, crashcore.Wrap("Transport.ListenUnix", err)
	}
	return &UnixTransport{path: path, listener: l}, nil
}

func (t *UnixTransport) Accept() (Conn, error) {
	c, err := t.listener.AcceptUnix()
	if err != nil {
		return nil, crashcore.Wrap("Transport.Accept", err)
	}
	return &unixConn{conn: c}, nil
}

func (t *UnixTransport) Close() error {
	err := t.listener.Close()
	os.Remove(t.path)
	return err
}

type unixConn struct {
	conn *net.UnixConn
}

func (c *unixConn) ReadFrame() (wire.Frame, error) {
	return wire.ReadFrame(c.conn)
}

func (c *unixConn) WriteFrame(msgType uint32, payload []byte) error {
	return wire.WriteFrame(c.conn, msgType, payload)
}

func (c *unixConn) Close() error {
	return c.conn.Close()
}

// PeerPID returns the connecting process's pid via SO_PEERCRED where
// supported; implementations that cannot determine it return an error.
func (c *unixConn) PeerPID() (int32, error) {
	return peerPID(c.conn)
}
