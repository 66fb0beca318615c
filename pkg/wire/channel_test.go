package wire

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

// chunkConn returns one chunk per Read call, then io.EOF. Writes are
// collected in out.
type chunkConn struct {
	chunks   [][]byte
	out      bytes.Buffer
	closed   bool
	writeErr error
}

func (c *chunkConn) Read(p []byte) (int, error) {
	for len(c.chunks) > 0 && len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	return n, nil
}

func (c *chunkConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.out.Write(p)
}

func (c *chunkConn) Close() error {
	c.closed = true
	return nil
}

func frames(fs ...[]byte) *chunkConn {
	return &chunkConn{chunks: fs}
}

func text(s string) []byte   { return EncodeFrame(KindText, s) }
func prompt(s string) []byte { return EncodeFrame(KindPrompt, s) }

func TestChannelReadString(t *testing.T) {
	msg := "hello world"

	c := NewChannel(frames(text(msg)))
	if s, err := c.ReadString(len(msg)); err != nil || s != msg {
		t.Fatalf("ReadString(%d) = %q, %v", len(msg), s, err)
	}

	c = NewChannel(frames(text(msg)))
	if s, _ := c.ReadString(1); s != msg[:1] {
		t.Fatalf("ReadString(1) = %q", s)
	}

	c = NewChannel(frames(text(msg)))
	if s, _ := c.ReadString(len(msg) - 2); s != msg[:len(msg)-2] {
		t.Fatalf("first chunk %q", s)
	}
	if s, _ := c.ReadString(2); s != msg[len(msg)-2:] {
		t.Fatalf("second chunk %q", s)
	}

	c = NewChannel(frames(text("hello "), text("world")))
	if s, _ := c.ReadString(len(msg)); s != msg {
		t.Fatalf("ReadString across frames = %q", s)
	}

	c = NewChannel(frames(text("hello "), text("world")))
	if s, err := c.ReadString(-1); err != nil || s != msg {
		t.Fatalf("ReadString(-1) = %q, %v", s, err)
	}
	if s, err := c.ReadString(-1); err != nil || s != "" {
		t.Fatalf("ReadString(-1) after close = %q, %v", s, err)
	}
}

func TestChannelReadStringClosed(t *testing.T) {
	c := NewChannel(frames(text("abc")))
	if s, err := c.ReadString(10); err != nil || s != "abc" {
		t.Fatalf("short read at close = %q, %v", s, err)
	}
	if s, err := c.ReadString(10); err != io.EOF || s != "" {
		t.Fatalf("read after close = %q, %v", s, err)
	}
}

func TestChannelReadAll(t *testing.T) {
	c := NewChannel(frames(text("hello "), prompt("(Pdb) "), text("world")))
	s, err := c.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello (Pdb) world" {
		t.Fatalf("ReadAll = %q", s)
	}
}

func TestChannelReadLine(t *testing.T) {
	for _, tc := range []struct {
		name  string
		in    [][]byte
		max   int
		lines []string
	}{
		{"simple", [][]byte{text("hello world\n")}, -1, []string{"hello world\n"}},
		{"newline before size", [][]byte{text("hello world\n")}, 13, []string{"hello world\n"}},
		{"size before newline", [][]byte{text("hello world\n")}, 5, []string{"hello", " worl", "d\n"}},
		{"across frames", [][]byte{text("hel"), text("lo\nwor"), text("ld\n")}, -1, []string{"hello\n", "world\n"}},
		{"no newline at close", [][]byte{text("hello")}, -1, []string{"hello"}},
		{"empty line", [][]byte{text("\n\n")}, -1, []string{"\n", "\n"}},
		{"zero size", [][]byte{text("hello\nworld\n")}, 0, []string{"hello\n", "world\n"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChannel(frames(tc.in...))
			for _, want := range tc.lines {
				got, err := c.ReadLine(tc.max)
				if err != nil {
					t.Fatalf("ReadLine: %v", err)
				}
				if got != want {
					t.Fatalf("ReadLine = %q, want %q", got, want)
				}
			}
			if got, err := c.ReadLine(tc.max); err != io.EOF || got != "" {
				t.Fatalf("expected io.EOF after the last line, got %q, %v", got, err)
			}
		})
	}
}

func TestChannelReadUntilPrompt(t *testing.T) {
	c := NewChannel(frames(text("> main.go:10 main()\n"), text("-> for flag {\n"), prompt("(Pdb) "), text("next")))
	out, closed := c.ReadUntilPrompt()
	if closed {
		t.Fatalf("closed reported before the prompt")
	}
	if out != "> main.go:10 main()\n-> for flag {\n(Pdb) " {
		t.Fatalf("ReadUntilPrompt = %q", out)
	}
	out, closed = c.ReadUntilPrompt()
	if !closed || out != "next" {
		t.Fatalf("second ReadUntilPrompt = %q, %v", out, closed)
	}
	for i := 0; i < 3; i++ {
		out, closed = c.ReadUntilPrompt()
		if !closed || out != "" {
			t.Fatalf("ReadUntilPrompt after close = %q, %v", out, closed)
		}
	}
}

func TestChannelEndOfInput(t *testing.T) {
	c := NewChannel(frames(text("partial"), EncodeFrame(KindEndOfInput, ""), text(" line\n")))
	if _, err := c.ReadLine(-1); err != ErrEndOfInput {
		t.Fatalf("expected ErrEndOfInput, got %v", err)
	}
	line, err := c.ReadLine(-1)
	if err != nil || line != "partial line\n" {
		t.Fatalf("buffered text lost after end of input: %q, %v", line, err)
	}
}

func TestChannelWrite(t *testing.T) {
	conn := &chunkConn{}
	c := NewChannel(conn)
	if n := c.Send(KindText, "hello world"); n != len("hello world") {
		t.Fatalf("Send returned %d", n)
	}
	if n := c.WritePrompt("(Pdb) "); n != 6 {
		t.Fatalf("WritePrompt returned %d", n)
	}
	if n, err := c.Write([]byte("a|b")); n != 3 || err != nil {
		t.Fatalf("Write returned %d, %v", n, err)
	}
	if !c.RaiseEndOfInput() {
		t.Fatalf("RaiseEndOfInput failed")
	}
	if got, want := conn.out.String(), "11|0|hello world6|1|(Pdb) 3|0|a|b0|2|"; got != want {
		t.Fatalf("wire output %q, want %q", got, want)
	}
}

func TestChannelWriteFailure(t *testing.T) {
	conn := &chunkConn{writeErr: errors.New("broken pipe")}
	c := NewChannel(conn)
	if n := c.Send(KindText, "hello"); n != 0 {
		t.Fatalf("Send to a broken connection returned %d", n)
	}
	if _, err := c.Write([]byte("x")); err != ErrWriteFailed {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if c.RaiseEndOfInput() {
		t.Fatalf("RaiseEndOfInput reported success on a broken connection")
	}
	if !c.WriteFailed() {
		t.Fatalf("WriteFailed not set")
	}
}

func TestChannelMalformedFrameCloses(t *testing.T) {
	conn := frames([]byte("hello|0|"), text("never read"))
	c := NewChannel(conn)
	if _, err := c.ReadMessage(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if !conn.closed || !c.Closed() {
		t.Fatalf("channel not closed after a malformed frame")
	}
	if _, closed := c.ReadUntilPrompt(); !closed {
		t.Fatalf("closed not reported")
	}
}

func TestChannelOversizedFrameCloses(t *testing.T) {
	c := NewChannel(frames(text(strings.Repeat("x", 64))), WithMaxPayload(16))
	if _, err := c.ReadMessage(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestChannelOverTCP(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			done <- err
			return
		}
		srv := NewChannel(conn)
		defer srv.Close()
		for {
			line, err := srv.ReadLine(-1)
			if err != nil {
				done <- nil
				return
			}
			srv.Send(KindText, "echo: "+line)
			srv.WritePrompt("(Pdb) ")
		}
	}()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	cli := NewChannel(conn)
	for _, cmd := range []string{"p 1\n", "a|b|c\n", "\n"} {
		cli.Send(KindText, cmd)
		out, closed := cli.ReadUntilPrompt()
		if closed {
			t.Fatalf("connection closed early")
		}
		if want := "echo: " + cmd + "(Pdb) "; out != want {
			t.Fatalf("got %q, want %q", out, want)
		}
	}
	cli.Close()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
