package wire

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-delve/attach/pkg/logflags"
)

// wireMaxLen is the number of payload bytes written to the wire log for
// each frame.
const wireMaxLen = 120

// DefaultMaxPayload is the largest payload accepted by a Channel unless
// WithMaxPayload is used.
const DefaultMaxPayload = 1 << 20

// ErrWriteFailed is returned by Write when the frame could not be sent.
var ErrWriteFailed = errors.New("write failed: peer gone")

// Channel exchanges frames over a connection it owns exclusively.
//
// Read primitives accumulate the payloads of incoming frames into an
// internal buffer and slice their result off it. They must be called from a
// single goroutine. Writes may come from any goroutine: each frame is
// written with a single call to the connection while holding a mutex, so
// frames are never interleaved.
type Channel struct {
	conn io.ReadWriteCloser
	rdr  *bufio.Reader

	inbuf      []byte
	maxPayload int

	writeMu     sync.Mutex
	outbuf      []byte
	writeFailed bool

	closed    atomic.Bool
	closeOnce sync.Once

	log logflags.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithMaxPayload sets the largest payload accepted in a single frame. A
// negative value disables the limit.
func WithMaxPayload(n int) Option {
	return func(c *Channel) {
		c.maxPayload = n
	}
}

// WithLogger replaces the wire logger.
func WithLogger(l logflags.Logger) Option {
	return func(c *Channel) {
		c.log = l
	}
}

// NewChannel wraps conn.
func NewChannel(conn io.ReadWriteCloser, opts ...Option) *Channel {
	c := &Channel{
		conn:       conn,
		rdr:        bufio.NewReader(conn),
		maxPayload: DefaultMaxPayload,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logflags.WireLogger()
	}
	return c
}

// Send writes a frame and returns the number of payload bytes sent, framing
// overhead excluded. It returns 0 if the underlying write failed, after
// which the session should be considered over.
func (c *Channel) Send(kind Kind, payload string) int {
	if err := c.send(kind, payload); err != nil {
		return 0
	}
	return len(payload)
}

func (c *Channel) send(kind Kind, payload string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.outbuf = AppendFrame(c.outbuf[:0], kind, payload)
	if logflags.Wire() {
		c.log.Debugf("<- %s", truncate(c.outbuf))
	}
	if _, err := c.conn.Write(c.outbuf); err != nil {
		if !c.writeFailed {
			c.log.WithError(err).Debug("write failed")
		}
		c.writeFailed = true
		return ErrWriteFailed
	}
	return nil
}

// Write sends p as a text frame. It implements io.Writer so that the
// debugger engine can print to the channel.
func (c *Channel) Write(p []byte) (int, error) {
	if err := c.send(KindText, string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WritePrompt sends s as a prompt frame.
func (c *Channel) WritePrompt(s string) int {
	return c.Send(KindPrompt, s)
}

// RaiseEndOfInput sends an end-of-input control frame. It returns false if
// the frame could not be sent.
func (c *Channel) RaiseEndOfInput() bool {
	return c.send(KindEndOfInput, "") == nil
}

// WriteFailed returns true if a write to the connection has failed.
func (c *Channel) WriteFailed() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeFailed
}

// Closed returns true once the channel has observed the end of the stream
// or has been closed.
func (c *Channel) Closed() bool {
	return c.closed.Load()
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

// ReadMessage blocks until a complete frame has been read.
//
// It returns io.EOF when the stream is closed, in which case the message
// holds whatever partial payload was received, and ErrEndOfInput when the
// peer sent an end-of-input frame. Once io.EOF has been returned every
// following call returns io.EOF immediately.
//
// A malformed frame closes the channel: the stream cannot be
// resynchronised after a bad header.
func (c *Channel) ReadMessage() (Message, error) {
	if c.closed.Load() {
		return Message{}, io.EOF
	}
	msg, err := ReadFrame(c.rdr, c.maxPayload)
	if err != nil {
		var ferr *FrameError
		switch {
		case errors.As(err, &ferr):
			c.log.WithError(err).Warn("closing channel")
			c.Close()
		case err == io.EOF:
		default:
			c.log.WithError(err).Debug("read failed")
		}
		c.closed.Store(true)
		return msg, io.EOF
	}
	if logflags.Wire() {
		c.log.Debugf("-> %s", truncate(AppendFrame(nil, msg.Kind, msg.Payload)))
	}
	if msg.Kind == KindEndOfInput {
		return Message{}, ErrEndOfInput
	}
	return msg, nil
}

// fill reads one message and appends its payload to the buffer.
func (c *Channel) fill() (Message, error) {
	msg, err := c.ReadMessage()
	c.inbuf = append(c.inbuf, msg.Payload...)
	return msg, err
}

func (c *Channel) consume(n int) string {
	s := string(c.inbuf[:n])
	c.inbuf = c.inbuf[n:]
	if len(c.inbuf) == 0 {
		c.inbuf = nil
	}
	return s
}

// Buffered returns the number of bytes received but not yet returned.
func (c *Channel) Buffered() int {
	return len(c.inbuf)
}

// ReadString returns the next n bytes of text. If the stream closes first
// it returns what is left, or io.EOF if nothing is. A negative n reads
// until the stream closes, like ReadAll.
func (c *Channel) ReadString(n int) (string, error) {
	if n < 0 {
		return c.ReadAll()
	}
	for len(c.inbuf) < n {
		if _, err := c.fill(); err != nil {
			if err == ErrEndOfInput {
				return "", err
			}
			break
		}
	}
	if n > len(c.inbuf) {
		n = len(c.inbuf)
	}
	if n == 0 && c.closed.Load() {
		return "", io.EOF
	}
	return c.consume(n), nil
}

// ReadAll returns all the text received until the stream closes.
func (c *Channel) ReadAll() (string, error) {
	for {
		if _, err := c.fill(); err != nil {
			if err == ErrEndOfInput {
				return "", err
			}
			break
		}
	}
	return c.consume(len(c.inbuf)), nil
}

// ReadLine returns the next line, terminator included. If max is positive
// at most max bytes are returned, even when no terminator was found; zero
// or a negative max means no limit. If the stream closes the text left is
// returned without a terminator; when nothing is left ReadLine returns
// io.EOF.
func (c *Channel) ReadLine(max int) (string, error) {
	if max == 0 {
		max = -1
	}
	for {
		if i := bytes.IndexByte(c.inbuf, '\n'); i >= 0 {
			end := i + 1
			if max >= 0 && end > max {
				end = max
			}
			return c.consume(end), nil
		}
		if max >= 0 && len(c.inbuf) >= max {
			return c.consume(max), nil
		}
		if _, err := c.fill(); err != nil {
			if err == ErrEndOfInput {
				return "", err
			}
			break
		}
	}
	if len(c.inbuf) == 0 {
		return "", io.EOF
	}
	return c.consume(len(c.inbuf)), nil
}

// ReadUntilPrompt returns all the text received up to and including the
// next prompt frame. If the stream closes first closed is true and text
// holds everything received before the close.
func (c *Channel) ReadUntilPrompt() (text string, closed bool) {
	for {
		msg, err := c.fill()
		if err == ErrEndOfInput {
			c.log.Debug("ignoring end of input while waiting for a prompt")
			continue
		}
		if err != nil {
			closed = true
			break
		}
		if msg.IsPrompt() {
			break
		}
	}
	return c.consume(len(c.inbuf)), closed
}

func truncate(b []byte) string {
	if len(b) > wireMaxLen {
		return strconv.Quote(string(b[:wireMaxLen])) + "..."
	}
	return strconv.Quote(string(b))
}
