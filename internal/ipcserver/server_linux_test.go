//go:build linux

package ipcserver

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crashcore/crashcore/internal/wire"
)

func TestExceptionRaisedCapturesAndCompletesDump(t *testing.T) {
	srv, transport := newTestServer(t)
	client, server := newMemConnPair()
	transport.offer(server)

	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	reg := wire.RegisterRequest{ClientProcessID: uint32(cmd.Process.Pid), ExceptionInfoAddress: 0}
	data, err := wire.Marshal(&reg)
	require.NoError(t, err)
	require.NoError(t, client.WriteFrame(wire.MsgRegisterRequest, data))
	_, err = client.ReadFrame()
	require.NoError(t, err)

	dump := wire.CrashDumpRequest{
		StackPointer: 0,
		ThreadID:     uint32(cmd.Process.Pid),
		ClientInfo:   wire.ClientInfo{ExceptionInfoAddress: 0},
	}
	ddata, err := wire.Marshal(&dump)
	require.NoError(t, err)
	require.NoError(t, client.WriteFrame(wire.MsgCrashDumpRequest, ddata))

	frame, err := client.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, uint32(wire.MsgDumpComplete), frame.Type)

	var complete wire.DumpComplete
	require.NoError(t, wire.Unmarshal(frame.Payload, &complete))
	require.False(t, complete.ReportUUID.IsNil())

	report, err := srv.db.LookUpReport(complete.ReportUUID)
	require.NoError(t, err)
	require.Equal(t, complete.ReportUUID, report.UUID)
}

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) ReportPending() {
	n.calls++
}

func TestExceptionRaisedNotifiesPendingUpload(t *testing.T) {
	srv, transport := newTestServer(t)
	notifier := &countingNotifier{}
	srv.SetPendingNotifier(notifier)

	client, server := newMemConnPair()
	transport.offer(server)

	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	reg := wire.RegisterRequest{ClientProcessID: uint32(cmd.Process.Pid), ExceptionInfoAddress: 0}
	data, err := wire.Marshal(&reg)
	require.NoError(t, err)
	require.NoError(t, client.WriteFrame(wire.MsgRegisterRequest, data))
	_, err = client.ReadFrame()
	require.NoError(t, err)

	dump := wire.CrashDumpRequest{
		StackPointer: 0,
		ThreadID:     uint32(cmd.Process.Pid),
		ClientInfo:   wire.ClientInfo{ExceptionInfoAddress: 0},
	}
	ddata, err := wire.Marshal(&dump)
	require.NoError(t, err)
	require.NoError(t, client.WriteFrame(wire.MsgCrashDumpRequest, ddata))

	frame, err := client.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, uint32(wire.MsgDumpComplete), frame.Type)
	require.Equal(t, 1, notifier.calls)
}
