package service

import (
	"errors"
	"net"
	"sync"

	"github.com/go-delve/attach/pkg/engine"
	"github.com/go-delve/attach/pkg/logflags"
	"github.com/go-delve/attach/pkg/trace"
	"github.com/go-delve/attach/pkg/wire"
	"github.com/go-delve/attach/service/internal/sameuser"
)

// DetachCommand is the reserved command that ends a session and releases
// the listener.
const DetachCommand = "detach"

var (
	// ErrServerStopped is returned by Accept after Stop.
	ErrServerStopped = errors.New("server stopped")
	// ErrSessionActive is returned when a client is accepted while another
	// session is still running.
	ErrSessionActive = errors.New("a debugging session is already active")
)

// Server hands the connections accepted on its listener to debugging
// sessions, one session at a time.
//
// Connections are accepted by a background goroutine and handed over when
// Accept or Poll is called, so Poll never blocks.
type Server struct {
	config   *Config
	listener net.Listener
	log      logflags.Logger

	conns    chan net.Conn
	stopChan chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}

	mu     sync.Mutex
	active *Session
}

// NewServer creates a Server and starts accepting connections on
// config.Listener.
func NewServer(config *Config) *Server {
	s := &Server{
		config:   config,
		listener: config.Listener,
		log:      logflags.SessionLogger(),
		conns:    make(chan net.Conn),
		stopChan: make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go s.acceptLoop()
	return s
}

func (s *Server) acceptLoop() {
	defer close(s.loopDone)
	for {
		c, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				// We were supposed to exit, do nothing and return
			default:
				s.log.WithError(err).Error("accept failed")
			}
			return
		}
		if !sameuser.CanAccept(s.listener.Addr(), c.LocalAddr(), c.RemoteAddr()) {
			c.Close()
			continue
		}
		s.log.Debugf("connection from %s", c.RemoteAddr())
		select {
		case s.conns <- c:
		case <-s.stopChan:
			c.Close()
			return
		}
	}
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Accept blocks until a client connects and returns a new session for it.
func (s *Server) Accept() (*Session, error) {
	if s.Active() {
		return nil, ErrSessionActive
	}
	select {
	case c := <-s.conns:
		return s.newSession(c), nil
	case <-s.stopChan:
		return nil, ErrServerStopped
	}
}

// Poll returns a session if a client is already waiting, nil otherwise.
// It never blocks.
func (s *Server) Poll() *Session {
	if s.Active() {
		return nil
	}
	select {
	case c := <-s.conns:
		return s.newSession(c)
	default:
		return nil
	}
}

// Active returns true while a session is running.
func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Stop closes the listener and waits for the accept loop to exit. The
// active session, if any, is not affected. Stop is safe to call more than
// once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopChan)
		err = s.listener.Close()
		<-s.loopDone
	})
	return err
}

func (s *Server) newSession(conn net.Conn) *Session {
	opts := []wire.Option{}
	if s.config.MaxFramePayload != 0 {
		opts = append(opts, wire.WithMaxPayload(s.config.MaxFramePayload))
	}
	ss := &Session{
		server: s,
		ch:     wire.NewChannel(conn, opts...),
		done:   make(chan struct{}),
		log:    s.log.WithField("remote", conn.RemoteAddr().String()),
	}
	ss.dbg = engine.New(ss.ch, engine.Config{
		Prompt:          s.config.Prompt,
		Aliases:         s.config.Aliases,
		ListLines:       s.config.ListLines,
		SourceCacheSize: s.config.SourceCacheSize,
		Reserved: map[string]engine.ReservedFunc{
			DetachCommand: ss.detach,
		},
		OnEnd: ss.end,
	})
	for _, fn := range s.config.Precmd {
		ss.dbg.AttachPrecmdHandler(fn)
	}

	s.mu.Lock()
	s.active = ss
	s.mu.Unlock()
	return ss
}

func (s *Server) sessionEnded(ss *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == ss {
		s.active = nil
	}
}

// Session is one client connection served by a debugger.
type Session struct {
	server *Server
	ch     *wire.Channel
	dbg    *engine.Debugger
	log    logflags.Logger

	closeOnce sync.Once
	done      chan struct{}
	detached  bool
}

// Start makes the debugger stop at the next trace step of the host
// program.
func (ss *Session) Start() {
	ss.log.Info("session started")
	ss.dbg.SetTrace()
}

// StartAt starts the session and stops at f immediately. It must be called
// from the goroutine that reached f.
func (ss *Session) StartAt(f *trace.Frame) {
	ss.log.Info("session started")
	ss.dbg.StopAt(f)
}

// Debugger returns the engine serving the session.
func (ss *Session) Debugger() *engine.Debugger {
	return ss.dbg
}

// Done is closed when the session is over.
func (ss *Session) Done() <-chan struct{} {
	return ss.done
}

// Detached returns true if the session ended because of the detach
// command. Only meaningful after Done is closed.
func (ss *Session) Detached() bool {
	return ss.detached
}

// Close ends the session from the server side: the debugger lets the host
// program run and the connection is closed.
func (ss *Session) Close() {
	ss.dbg.Release()
	ss.close()
}

func (ss *Session) detach(d *engine.Debugger) bool {
	ss.log.Info("detach requested")
	ss.detached = true
	d.Release()
	ss.close()
	if ss.server.config.OnDetach != nil {
		ss.server.config.OnDetach()
	}
	return true
}

func (ss *Session) end() {
	if ss.ch.WriteFailed() || ss.ch.Closed() {
		ss.log.Info("client gone")
	}
	ss.close()
}

func (ss *Session) close() {
	ss.closeOnce.Do(func() {
		ss.ch.Close()
		ss.server.sessionEnded(ss)
		ss.log.Info("session ended")
		if ss.server.config.OnSessionEnd != nil {
			ss.server.config.OnSessionEnd()
		}
		close(ss.done)
	})
}
