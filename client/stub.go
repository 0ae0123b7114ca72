package client

import (
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/crashcore/crashcore/internal/logging"
)

// fatalSignals are the signals this stub treats as unrecoverable faults,
// matching the set Crashpad-style handlers intercept on Linux.
var fatalSignals = []os.Signal{
	syscall.SIGSEGV,
	syscall.SIGABRT,
	syscall.SIGBUS,
	syscall.SIGFPE,
	syscall.SIGILL,
}

// Stub installs a fault interceptor for the current process and notifies a
// handler on fault.
//
// Go's runtime does not expose raw sigaction handler registration the way
// a C crash reporter would; the interceptor instead uses os/signal, which
// the Go runtime guarantees delivers even these synchronous signals to a
// notified channel. On receipt the stub populates ExceptionInformation,
// reports the crash over the handler connection, resets the signal's
// disposition to default, and re-raises it so the process still
// terminates (and core-dumps, if enabled) exactly as it would have
// without interception.
type Stub struct {
	client *Client
	sigCh  chan os.Signal
	mode   Mode
	helper HelperConfig

	stopOnce sync.Once
	done     chan struct{}
}

// Mode selects how the stub notifies the handler on fault.
type Mode int

const (
	// ModeConnected notifies an already-running handler over an existing
	// connection (the common case: a long-lived handler process started
	// once at application launch).
	ModeConnected Mode = iota
	// ModeStartHandlerAtCrash spawns a single-shot handler process only
	// when a fault actually occurs, avoiding the cost of a resident
	// handler for short-lived or rarely-crashing clients.
	ModeStartHandlerAtCrash
)

// HelperConfig configures ModeStartHandlerAtCrash.
type HelperConfig struct {
	// Path to the handler binary to spawn.
	Path string
	// Args are passed to the spawned handler in addition to the socket
	// path it should listen on, which the stub appends.
	Args []string
	// SocketPath is the Unix-domain socket the spawned handler will
	// listen on and this stub will dial immediately after spawning it.
	SocketPath string
}

// Install registers signal handlers and returns a Stub wired to an
// already-registered Client (ModeConnected).
func Install(c *Client) *Stub {
	s := &Stub{client: c, mode: ModeConnected, sigCh: make(chan os.Signal, 1), done: make(chan struct{})}
	signal.Notify(s.sigCh, fatalSignals...)
	go s.run()
	return s
}

// InstallStartHandlerAtCrash registers signal handlers that, only on
// fault, spawn a single-shot handler process and report the crash to it.
func InstallStartHandlerAtCrash(helper HelperConfig) *Stub {
	s := &Stub{mode: ModeStartHandlerAtCrash, helper: helper, sigCh: make(chan os.Signal, 1), done: make(chan struct{})}
	signal.Notify(s.sigCh, fatalSignals...)
	go s.run()
	return s
}

// Uninstall stops intercepting fatal signals, restoring default
// disposition.
func (s *Stub) Uninstall() {
	s.stopOnce.Do(func() {
		signal.Stop(s.sigCh)
		close(s.done)
	})
}

func (s *Stub) run() {
	for {
		select {
		case sig := <-s.sigCh:
			s.handleFault(sig)
			return
		case <-s.done:
			return
		}
	}
}

func (s *Stub) handleFault(sig os.Signal) {
	// os/signal exposes neither the faulting thread nor the OS-supplied
	// context, so the process id stands in for the thread id and the
	// signal number is stored in the context-address field.
	unixSig, _ := sig.(syscall.Signal)
	setException(uint32(os.Getpid()), uint64(unixSig))

	client := s.client
	if s.mode == ModeStartHandlerAtCrash {
		spawned, err := spawnHelper(s.helper)
		if err != nil {
			logging.Warn("client stub: failed to spawn handler at crash", "err", err)
		} else {
			client = spawned
		}
	}

	if client != nil {
		if _, err := client.requestDump(0, uint32(os.Getpid())); err != nil {
			logging.Warn("client stub: crash report failed", "err", err)
		}
		client.Close()
	}

	// Restore default disposition and re-raise so the process terminates
	// (and core-dumps, if enabled) exactly as it would have without this
	// interceptor.
	signal.Reset(sig)
	syscall.Kill(os.Getpid(), unixSig)
}

func spawnHelper(cfg HelperConfig) (*Client, error) {
	args := append(append([]string{}, cfg.Args...), cfg.SocketPath)
	cmd := exec.Command(cfg.Path, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return Register(cfg.SocketPath)
}
