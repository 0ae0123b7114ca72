package ipcserver

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/database"
	"github.com/crashcore/crashcore/internal/logging"
	"github.com/crashcore/crashcore/internal/procreader"
	"github.com/crashcore/crashcore/internal/wire"
	"github.com/crashcore/crashcore/snapshot"
)

// Server is the Handler Server: a single-threaded cooperative event loop
// that accepts client registrations and crash notifications and
// orchestrates capture. Per-connection goroutines only read frames off
// the wire and translate them into Events on a channel; every event is
// fully processed — including suspending the target, building the
// snapshot, and writing the database record — before the next one is
// dequeued, so there is never more than one capture in flight.
type Server struct {
	transport Transport
	db        *database.Database
	metrics   *crashcore.Metrics
	policy    *snapshot.SanitizationPolicy

	annotations map[string]string

	startupToken uint64

	events chan Event
	peers  sync.Map // clientProcessID uint32 -> Conn

	notifyPending PendingNotifier
}

// PendingNotifier is notified when a new report finishes writing, so the
// Upload Worker can wake its poll loop instead of waiting out its next
// timer tick. *worker.UploadWorker satisfies this.
type PendingNotifier interface {
	ReportPending()
}

// NewServer constructs a Server with a freshly generated random startup
// token, required by Shutdown to prevent unauthorized shutdowns.
func NewServer(transport Transport, db *database.Database, metrics *crashcore.Metrics, annotations map[string]string, policy *snapshot.SanitizationPolicy) *Server {
	return &Server{
		transport:    transport,
		db:           db,
		metrics:      metrics,
		policy:       policy,
		annotations:  annotations,
		startupToken: generateToken(),
		events:       make(chan Event, 64),
	}
}

func generateToken() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// SetPendingNotifier wires a callback invoked after every successful
// capture, once the report is durably recorded as pending. Must be called
// before Run; nil disables the notification (the default).
func (s *Server) SetPendingNotifier(n PendingNotifier) {
	s.notifyPending = n
}

// StartupToken returns the token a caller must pass in a Shutdown message
// for the server to honor it.
func (s *Server) StartupToken() uint64 {
	return s.startupToken
}

// Run accepts connections and processes events until ctx is canceled or a
// Shutdown event carrying the correct startup token is received. On
// shutdown it finishes draining the currently running capture (there is
// at most one, since the loop is single-threaded) before returning.
func (s *Server) Run(ctx context.Context) error {
	go s.acceptLoop(ctx)
	go func() {
		<-ctx.Done()
		s.transport.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			if stop := s.dispatch(ev); stop {
				s.transport.Close()
				return nil
			}
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.transport.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logging.Warn("ipcserver: accept failed", "err", err)
			return
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn Conn) {
	var clientPID uint32
	defer func() {
		conn.Close()
		if clientPID != 0 {
			s.peers.Delete(clientPID)
		}
		select {
		case s.events <- Event{Type: EventTerminated, ClientProcessID: clientPID}:
		case <-ctx.Done():
		}
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return
		}

		var ev Event
		switch frame.Type {
		case wire.MsgRegisterRequest:
			var req wire.RegisterRequest
			if uerr := wire.Unmarshal(frame.Payload, &req); uerr != nil {
				logging.Warn("ipcserver: malformed RegisterRequest", "err", uerr)
				continue
			}
			clientPID = req.ClientProcessID
			s.peers.Store(clientPID, conn)
			ev = Event{Type: EventClientRegistered, ClientProcessID: clientPID, ExceptionInfoAddress: req.ExceptionInfoAddress, conn: conn}

		case wire.MsgCrashDumpRequest:
			var req wire.CrashDumpRequest
			if uerr := wire.Unmarshal(frame.Payload, &req); uerr != nil {
				logging.Warn("ipcserver: malformed CrashDumpRequest", "err", uerr)
				continue
			}
			ev = Event{
				Type:                    EventExceptionRaised,
				ClientProcessID:         clientPID,
				ThreadID:                req.ThreadID,
				StackPointer:            req.StackPointer,
				ExceptionInfoAddress:    req.ClientInfo.ExceptionInfoAddress,
				SanitizationInfoAddress: req.ClientInfo.SanitizationInfoAddress,
				conn:                    conn,
			}

		case wire.MsgShutdown:
			var req wire.Shutdown
			if uerr := wire.Unmarshal(frame.Payload, &req); uerr != nil {
				logging.Warn("ipcserver: malformed Shutdown", "err", uerr)
				continue
			}
			ev = Event{Type: EventShutdownRequested, ShutdownToken: req.Token}

		default:
			logging.Warn("ipcserver: unrecognized message type", "type", frame.Type)
			continue
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch processes one event to completion and reports whether the loop
// should stop.
func (s *Server) dispatch(ev Event) (stop bool) {
	switch ev.Type {
	case EventClientRegistered:
		s.handleRegistered(ev)
	case EventExceptionRaised:
		s.handleException(ev)
	case EventShutdownRequested:
		if ev.ShutdownToken != s.startupToken {
			logging.Warn("ipcserver: shutdown rejected: startup token mismatch")
			return false
		}
		logging.Info("ipcserver: shutdown accepted")
		return true
	case EventTerminated:
		logging.Debug("ipcserver: client terminated", "pid", ev.ClientProcessID)
	}
	return false
}

func (s *Server) handleRegistered(ev Event) {
	resp := wire.RegisterResponse{RequestDumpEventHandle: 1}
	data, err := wire.Marshal(&resp)
	if err != nil {
		logging.Warn("ipcserver: marshal RegisterResponse failed", "err", err)
		return
	}
	if err := ev.conn.WriteFrame(wire.MsgRegisterResponse, data); err != nil {
		logging.Warn("ipcserver: write RegisterResponse failed", "pid", ev.ClientProcessID, "err", err)
	}
}

func (s *Server) handleException(ev Event) {
	start := time.Now()
	reportID, err := s.capture(ev)
	s.metrics.ObserveCapture(err == nil, time.Since(start))

	if err != nil {
		logging.Warn("ipcserver: capture failed", "pid", ev.ClientProcessID, "err", err)
		failed := wire.DumpFailed{Reason: err.Error()}
		data, merr := wire.Marshal(&failed)
		if merr == nil {
			ev.conn.WriteFrame(wire.MsgDumpFailed, data)
		}
		return
	}

	complete := wire.DumpComplete{ReportUUID: reportID}
	data, err := wire.Marshal(&complete)
	if err != nil {
		logging.Warn("ipcserver: marshal DumpComplete failed", "err", err)
		return
	}
	if err := ev.conn.WriteFrame(wire.MsgDumpComplete, data); err != nil {
		logging.Warn("ipcserver: write DumpComplete failed", "pid", ev.ClientProcessID, "err", err)
	}
}

// capture suspends the client, builds a ProcessSnapshot, writes it to the
// database, and resumes (or on unrecoverable error, at least detaches
// from) the client. Any failure after PrepareNewReport converts to an
// ErrorWritingReport so the reservation is freed.
func (s *Server) capture(ev Event) (wire.UUID, error) {
	reader, err := procreader.Attach(int(ev.ClientProcessID))
	if err != nil {
		return wire.Nil, crashcore.Wrap("Server.capture", err)
	}
	defer reader.Detach()

	snap, err := snapshot.BuildSnapshot(reader, ev.ThreadID, 0, ev.StackPointer, ev.ExceptionInfoAddress, s.annotations, s.policy)
	if err != nil {
		return wire.Nil, crashcore.Wrap("Server.capture", err)
	}

	nr, err := s.db.PrepareNewReport()
	if err != nil {
		return wire.Nil, crashcore.Wrap("Server.capture", err)
	}

	if err := snapshot.Write(nr, snap); err != nil {
		s.db.ErrorWritingReport(nr)
		return wire.Nil, crashcore.Wrap("Server.capture", err)
	}

	id, err := s.db.FinishedWritingReport(nr)
	if err != nil {
		s.db.ErrorWritingReport(nr)
		return wire.Nil, crashcore.Wrap("Server.capture", err)
	}
	if s.notifyPending != nil {
		s.notifyPending.ReportPending()
	}
	return id, nil
}
