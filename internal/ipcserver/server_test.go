package ipcserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/database"
	"github.com/crashcore/crashcore/internal/wire"
)

func newTestServer(t *testing.T) (*Server, *memTransport) {
	t.Helper()
	db, err := database.Initialize(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	transport := newMemTransport()
	srv := NewServer(transport, db, crashcore.NewMetrics(), map[string]string{"product": "crashcore"}, nil)
	return srv, transport
}

func TestRegisterAck(t *testing.T) {
	srv, transport := newTestServer(t)
	client, server := newMemConnPair()
	transport.offer(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	req := wire.RegisterRequest{ClientProcessID: 4242, ExceptionInfoAddress: 0x1000}
	data, err := wire.Marshal(&req)
	require.NoError(t, err)
	require.NoError(t, client.WriteFrame(wire.MsgRegisterRequest, data))

	frame, err := client.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, uint32(wire.MsgRegisterResponse), frame.Type)

	var resp wire.RegisterResponse
	require.NoError(t, wire.Unmarshal(frame.Payload, &resp))
}

// Property 8: at-most-once shutdown.
func TestShutdownRequiresStartupToken(t *testing.T) {
	srv, transport := newTestServer(t)
	_, server := newMemConnPair()
	transport.offer(server)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	// Wrong token: must be ignored, not accepted.
	bad := wire.Shutdown{Token: srv.StartupToken() + 1}
	data, err := wire.Marshal(&bad)
	require.NoError(t, err)
	srv.events <- mustUnmarshalShutdownEvent(t, data)

	select {
	case <-done:
		t.Fatal("server shut down on wrong token")
	case <-time.After(50 * time.Millisecond):
	}

	good := wire.Shutdown{Token: srv.StartupToken()}
	data2, err := wire.Marshal(&good)
	require.NoError(t, err)
	srv.events <- mustUnmarshalShutdownEvent(t, data2)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not shut down on correct token")
	}
}

func mustUnmarshalShutdownEvent(t *testing.T, data []byte) Event {
	t.Helper()
	var s wire.Shutdown
	require.NoError(t, wire.Unmarshal(data, &s))
	return Event{Type: EventShutdownRequested, ShutdownToken: s.Token}
}
