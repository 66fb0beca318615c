package service

import (
	"errors"
	"net"
	"sync"
)

// ListenerPipe returns a full-duplex in-memory connection, like net.Pipe.
// Unlike net.Pipe one end of the connection is returned as an object
// satisfying the net.Listener interface.
// The first call to the Accept method of this object will return a net.Conn
// connected to the other net.Conn returned by ListenerPipe.
// Further connections can be created with Dial.
func ListenerPipe() (*PipeListener, net.Conn) {
	l := NewPipeListener()
	return l, l.Dial()
}

// PipeListener is an in-memory net.Listener. Every call to Dial creates a
// connection whose server end is returned by a call to Accept.
type PipeListener struct {
	pending   chan net.Conn
	closech   chan struct{}
	closeOnce sync.Once
}

// NewPipeListener returns a PipeListener with no pending connection.
func NewPipeListener() *PipeListener {
	return &PipeListener{
		pending: make(chan net.Conn, 8),
		closech: make(chan struct{}),
	}
}

// Dial returns the client end of a new connection. Dial does not block;
// at most 8 connections can be pending.
func (l *PipeListener) Dial() net.Conn {
	conn0, conn1 := net.Pipe()
	select {
	case l.pending <- conn0:
	case <-l.closech:
		conn0.Close()
	}
	return conn1
}

// Accept returns the next pending connection, it blocks until one is
// dialed or the listener is closed.
func (l *PipeListener) Accept() (net.Conn, error) {
	select {
	case <-l.closech:
		return nil, errors.New("accept failed: listener closed")
	default:
	}
	select {
	case c := <-l.pending:
		return c, nil
	case <-l.closech:
		return nil, errors.New("accept failed: listener closed")
	}
}

// Close closes the listener.
func (l *PipeListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closech)
	})
	return nil
}

// Addr returns the listener's network address.
func (l *PipeListener) Addr() net.Addr {
	return pipeAddr{}
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
