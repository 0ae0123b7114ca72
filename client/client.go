// Package client implements the Client Stub: in-process fault interception
// and the IPC handshake with a running handler.
package client

import (
	"fmt"
	"net"
	"os"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/internal/wire"
)

// Client holds the connection to a handler process, established once at
// startup via Register, well before any fault can occur.
type Client struct {
	conn                   net.Conn
	requestDumpEventHandle uint32
}

// Register dials the handler's Unix-domain socket at path and performs the
// RegisterRequest/RegisterResponse handshake, advertising this process's
// pid and the stable address of its ExceptionInformation block.
func Register(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, crashcore.Wrap("client.Register", err)
	}

	req := wire.RegisterRequest{
		ClientProcessID:      uint32(os.Getpid()),
		ExceptionInfoAddress: exceptionInfoAddress(),
	}
	data, err := wire.Marshal(&req)
	if err != nil {
		conn.Close()
		return nil, crashcore.Wrap("client.Register", err)
	}
	if err := wire.WriteFrame(conn, wire.MsgRegisterRequest, data); err != nil {
		conn.Close()
		return nil, crashcore.Wrap("client.Register", err)
	}

	frame, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, crashcore.Wrap("client.Register", err)
	}
	if frame.Type != wire.MsgRegisterResponse {
		conn.Close()
		return nil, crashcore.New("client.Register", crashcore.CodeProtocolError, fmt.Sprintf("unexpected response type %d", frame.Type))
	}
	var resp wire.RegisterResponse
	if err := wire.Unmarshal(frame.Payload, &resp); err != nil {
		conn.Close()
		return nil, crashcore.Wrap("client.Register", err)
	}

	return &Client{conn: conn, requestDumpEventHandle: resp.RequestDumpEventHandle}, nil
}

// Close releases the connection to the handler without requesting a dump.
func (c *Client) Close() error {
	return c.conn.Close()
}

// requestDump sends a CrashDumpRequest describing the fault captured in
// globalExceptionInfo and blocks for the handler's reply, as the
// last thing this process does before terminating.
func (c *Client) requestDump(stackPointer uint64, threadID uint32) (wire.UUID, error) {
	req := wire.CrashDumpRequest{
		StackPointer: stackPointer,
		ThreadID:     threadID,
		ClientInfo: wire.ClientInfo{
			ExceptionInfoAddress: exceptionInfoAddress(),
		},
	}
	data, err := wire.Marshal(&req)
	if err != nil {
		return wire.Nil, crashcore.Wrap("client.requestDump", err)
	}
	if err := wire.WriteFrame(c.conn, wire.MsgCrashDumpRequest, data); err != nil {
		return wire.Nil, crashcore.Wrap("client.requestDump", err)
	}

	frame, err := wire.ReadFrame(c.conn)
	if err != nil {
		return wire.Nil, crashcore.Wrap("client.requestDump", err)
	}

	switch frame.Type {
	case wire.MsgDumpComplete:
		var resp wire.DumpComplete
		if err := wire.Unmarshal(frame.Payload, &resp); err != nil {
			return wire.Nil, crashcore.Wrap("client.requestDump", err)
		}
		return resp.ReportUUID, nil
	case wire.MsgDumpFailed:
		var resp wire.DumpFailed
		if err := wire.Unmarshal(frame.Payload, &resp); err != nil {
			return wire.Nil, crashcore.Wrap("client.requestDump", err)
		}
		return wire.Nil, crashcore.New("client.requestDump", crashcore.CodeInternal, resp.Reason)
	default:
		return wire.Nil, crashcore.New("client.requestDump", crashcore.CodeProtocolError, fmt.Sprintf("unexpected response type %d", frame.Type))
	}
}
