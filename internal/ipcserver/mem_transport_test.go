package ipcserver

import (
	"io"
	"sync"

	"github.com/crashcore/crashcore/internal/wire"
)

// memConn is an in-process Conn used by tests in place of a real socket.
type memConn struct {
	in       chan wire.Frame
	out      chan wire.Frame
	closeOne sync.Once
	closed   chan struct{}
}

func newMemConnPair() (client *memConn, server *memConn) {
	a := make(chan wire.Frame, 8)
	b := make(chan wire.Frame, 8)
	closed := make(chan struct{})
	client = &memConn{in: b, out: a, closed: closed}
	server = &memConn{in: a, out: b, closed: closed}
	return client, server
}

func (c *memConn) ReadFrame() (wire.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return wire.Frame{}, io.EOF
	}
}

func (c *memConn) WriteFrame(msgType uint32, payload []byte) error {
	select {
	case c.out <- wire.Frame{Type: msgType, Payload: payload}:
		return nil
	case <-c.closed:
		return io.EOF
	}
}

func (c *memConn) Close() error {
	c.closeOne.Do(func() { close(c.closed) })
	return nil
}

// memTransport hands a preloaded queue of server-side Conns to Accept.
type memTransport struct {
	accepted chan Conn
	closed   chan struct{}
	closeOne sync.Once
}

func newMemTransport() *memTransport {
	return &memTransport{accepted: make(chan Conn, 8), closed: make(chan struct{})}
}

func (t *memTransport) offer(c Conn) {
	t.accepted <- c
}

func (t *memTransport) Accept() (Conn, error) {
	select {
	case c := <-t.accepted:
		return c, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *memTransport) Close() error {
	t.closeOne.Do(func() { close(t.closed) })
	return nil
}
