package service

import (
	"net"
	"strings"

	"github.com/go-delve/attach/pkg/logflags"
	"github.com/go-delve/attach/pkg/wire"
)

// Client is the operator side of a debugging session. All client methods
// are synchronous.
type Client struct {
	conn net.Conn
	ch   *wire.Channel
	log  logflags.Logger
}

// Dial connects to a debugged process listening on addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClientFromConn(conn), nil
}

// NewClientFromConn creates a client using conn.
func NewClientFromConn(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		ch:   wire.NewChannel(conn),
		log:  logflags.SessionLogger().WithField("remote", conn.RemoteAddr().String()),
	}
}

// SendCommand sends text to the debugger, terminated by a newline. It
// returns false if the connection is broken.
func (c *Client) SendCommand(text string) bool {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	c.log.Debugf("sending command %q", text)
	return c.ch.Send(wire.KindText, text) > 0
}

// Recv returns the output of the debugger up to and including its next
// prompt. If the session ends first closed is true and text holds the
// output received before the end.
func (c *Client) Recv() (text string, closed bool) {
	return c.ch.ReadUntilPrompt()
}

// SendAndRecv sends a command and returns its output.
func (c *Client) SendAndRecv(text string) (string, bool) {
	if !c.SendCommand(text) {
		return c.drain()
	}
	return c.Recv()
}

// RaiseEndOfInput tells the debugger its input is exhausted and returns
// the output that follows.
func (c *Client) RaiseEndOfInput() (string, bool) {
	if !c.ch.RaiseEndOfInput() {
		return "", true
	}
	return c.Recv()
}

// drain returns what is left to read after a failed write.
func (c *Client) drain() (string, bool) {
	text, _ := c.ch.ReadAll()
	return text, true
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.ch.Close()
}
