// Package attach makes a running program debuggable from another process.
//
// The program calls Listen once, typically at startup, and calls trace.Step
// at the points where it may be stopped. An operator then runs
// dlv-attach PID PORT to trigger the activation backend and connect.
//
// Two activation backends exist. The signal backend, the default where
// SIGUSR2 is available, accepts a client after the process receives
// SIGUSR2. The polling backend checks for a pending client every
// PollInterval trace steps and works everywhere.
package attach

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/go-delve/attach/pkg/config"
	"github.com/go-delve/attach/pkg/engine"
	"github.com/go-delve/attach/pkg/logflags"
	"github.com/go-delve/attach/service"
)

var (
	// ErrAlreadyListening is returned by Listen while a Handle is active.
	ErrAlreadyListening = errors.New("already listening, call Unlisten first")
	// ErrUnsupported is returned when the requested backend is not
	// available on this platform.
	ErrUnsupported = errors.New("activation backend not supported on this platform")
)

// BackendKind selects an activation backend.
type BackendKind string

const (
	BackendDefault BackendKind = "default"
	BackendSignal  BackendKind = "signal"
	BackendPoll    BackendKind = "poll"
)

// ParseBackendKind parses the backend names accepted by the configuration
// file and the command line.
func ParseBackendKind(s string) (BackendKind, error) {
	switch k := BackendKind(s); k {
	case "", BackendDefault:
		return BackendDefault, nil
	case BackendSignal, BackendPoll:
		return k, nil
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// Backend binds listeners and arranges for clients to be accepted.
type Backend interface {
	Listen(port int, opts Options) (*Handle, error)
	Unlisten(h *Handle) error
}

// Options configures Listen.
type Options struct {
	Backend BackendKind

	// Host is the address the listener binds, default localhost.
	Host string

	// PollInterval is the number of trace steps between two checks for a
	// pending client of the polling backend.
	PollInterval int

	Prompt          string
	Aliases         map[string][]string
	ListLines       int
	SourceCacheSize int
	MaxFramePayload int

	// Precmd handlers are attached to the debugger of every session.
	Precmd []engine.PrecmdFunc
}

// OptionsFromConfig returns the Options described by conf.
func OptionsFromConfig(conf *config.Config) (Options, error) {
	kind, err := ParseBackendKind(conf.Backend)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Backend:         kind,
		Host:            conf.Host,
		PollInterval:    conf.PollInterval,
		Prompt:          conf.Prompt,
		Aliases:         conf.Aliases,
		ListLines:       conf.ListLines,
		SourceCacheSize: conf.SourceCacheSize,
		MaxFramePayload: conf.MaxFramePayload,
	}, nil
}

func (o *Options) applyDefaults() {
	if o.Backend == "" {
		o.Backend = BackendDefault
	}
	if o.Host == "" {
		o.Host = config.DefaultHost
	}
	if o.PollInterval <= 0 {
		o.PollInterval = config.DefaultPollInterval
	}
}

// Handle is an active listener.
type Handle struct {
	// Port the listener is bound to.
	Port int

	backend Backend
	srv     *service.Server
	inert   bool
	closed  bool

	// signal backend
	sigs        chan os.Signal
	prevIgnored bool
	stop        chan struct{}
	loopDone    chan struct{}

	// polling backend
	poller *poller
}

// Addr returns the address the listener is bound to, or nil for an inert
// Handle.
func (h *Handle) Addr() net.Addr {
	if h == nil || h.srv == nil {
		return nil
	}
	return h.srv.Addr()
}

// Active returns true while a debugging session is running on h.
func (h *Handle) Active() bool {
	return h != nil && h.srv != nil && h.srv.Active()
}

var (
	mu     sync.Mutex
	active *Handle
)

// Listen binds a loopback listener on port and arms the activation backend
// selected by opts. A port of 0 selects a free port, see Handle.Port.
//
// Only one Handle may be active at a time. Listen returns an inert Handle
// and an error wrapping ErrUnsupported when the signal backend is requested
// on a platform without signals; callers may treat it as a warning.
func Listen(port int, opts *Options) (*Handle, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.applyDefaults()

	mu.Lock()
	defer mu.Unlock()
	if active != nil {
		return nil, ErrAlreadyListening
	}
	b, err := backendFor(o.Backend)
	if err != nil {
		return nil, err
	}
	h, err := b.Listen(port, o)
	if err != nil {
		return h, err
	}
	active = h
	logflags.ListenerLogger().Infof("listening on %s (%s backend)", h.Addr(), o.Backend)
	return h, nil
}

// Unlisten closes the listener of h and restores the activation state Listen
// replaced. A session in progress is not interrupted. Unlisten accepts a nil
// or inert Handle and may be called more than once.
func Unlisten(h *Handle) error {
	if h == nil {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	if h.inert || h.closed {
		return nil
	}
	h.closed = true
	if active == h {
		active = nil
	}
	err := h.backend.Unlisten(h)
	logflags.ListenerLogger().Infof("stopped listening on port %d", h.Port)
	return err
}

func backendFor(kind BackendKind) (Backend, error) {
	switch kind {
	case BackendDefault:
		return defaultBackend, nil
	case BackendSignal:
		return signalBackend{}, nil
	case BackendPoll:
		return pollBackend{}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}

// bind listens on host:port and creates the server handing connections to
// debugging sessions. The server releases h when a client detaches.
func bind(h *Handle, port int, opts Options) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(opts.Host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("could not listen on port %d: %w", port, err)
	}
	h.Port = listener.Addr().(*net.TCPAddr).Port
	h.srv = service.NewServer(&service.Config{
		Listener:        listener,
		Prompt:          opts.Prompt,
		Aliases:         opts.Aliases,
		ListLines:       opts.ListLines,
		SourceCacheSize: opts.SourceCacheSize,
		MaxFramePayload: opts.MaxFramePayload,
		Precmd:          opts.Precmd,
		OnSessionEnd: func() {
			if h.poller != nil {
				h.poller.sessionEnded()
			}
		},
		OnDetach: func() {
			if err := Unlisten(h); err != nil {
				logflags.ListenerLogger().WithError(err).Error("releasing listener after detach")
			}
		},
	})
	return nil
}
