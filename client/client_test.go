package client

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crashcore/crashcore/internal/wire"
)

// fakeHandler is a minimal single-connection stand-in for the Handler
// Server, enough to exercise the Register/requestDump handshake without
// the real ipcserver.Server, whose crash-dump path would try to
// ptrace-attach to the test process itself.
func fakeHandler(t *testing.T, socketPath string, reply func(frame wire.Frame) (msgType uint32, payload []byte)) {
	t.Helper()
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			frame, err := wire.ReadFrame(conn)
			if err != nil {
				return
			}
			msgType, payload := reply(frame)
			if werr := wire.WriteFrame(conn, msgType, payload); werr != nil {
				return
			}
		}
	}()
}

func TestRegisterHandshake(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "handler.sock")
	fakeHandler(t, socketPath, func(frame wire.Frame) (uint32, []byte) {
		require.Equal(t, uint32(wire.MsgRegisterRequest), frame.Type)
		resp := wire.RegisterResponse{RequestDumpEventHandle: 7}
		data, err := wire.Marshal(&resp)
		require.NoError(t, err)
		return wire.MsgRegisterResponse, data
	})

	c, err := Register(socketPath)
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, uint32(7), c.requestDumpEventHandle)
}

func TestRequestDumpReturnsReportUUID(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "handler.sock")
	want := wire.NewUUID()

	fakeHandler(t, socketPath, func(frame wire.Frame) (uint32, []byte) {
		switch frame.Type {
		case wire.MsgRegisterRequest:
			resp := wire.RegisterResponse{RequestDumpEventHandle: 1}
			data, _ := wire.Marshal(&resp)
			return wire.MsgRegisterResponse, data
		default:
			resp := wire.DumpComplete{ReportUUID: want}
			data, _ := wire.Marshal(&resp)
			return wire.MsgDumpComplete, data
		}
	})

	c, err := Register(socketPath)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.requestDump(0x1000, uint32(os.Getpid()))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRequestDumpPropagatesFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "handler.sock")

	fakeHandler(t, socketPath, func(frame wire.Frame) (uint32, []byte) {
		switch frame.Type {
		case wire.MsgRegisterRequest:
			resp := wire.RegisterResponse{}
			data, _ := wire.Marshal(&resp)
			return wire.MsgRegisterResponse, data
		default:
			resp := wire.DumpFailed{Reason: "attach failed"}
			data, merr := wire.Marshal(&resp)
			require.NoError(t, merr)
			return wire.MsgDumpFailed, data
		}
	})

	c, err := Register(socketPath)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.requestDump(0, 1)
	require.Error(t, err)
	require.ErrorContains(t, err, "attach failed")
}

func TestExceptionInfoAddressStable(t *testing.T) {
	a := exceptionInfoAddress()
	setException(42, 0xdeadbeef)
	b := exceptionInfoAddress()
	require.Equal(t, a, b)
	require.Equal(t, uint32(42), globalExceptionInfo.threadID)
}

func TestInstallAndUninstallDoesNotPanic(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "handler.sock")
	fakeHandler(t, socketPath, func(frame wire.Frame) (uint32, []byte) {
		resp := wire.RegisterResponse{}
		data, _ := wire.Marshal(&resp)
		return wire.MsgRegisterResponse, data
	})

	c, err := Register(socketPath)
	require.NoError(t, err)

	stub := Install(c)
	time.Sleep(10 * time.Millisecond)
	stub.Uninstall()
	c.Close()
}
