package service

import (
	"testing"

	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/go-delve/attach/pkg/wire"
)

func TestClientProtocol(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l, conn := ListenerPipe()
	defer l.Close()
	srvConn, err := l.Accept()
	if err != nil {
		t.Fatal(err)
	}
	srv := wire.NewChannel(srvConn)
	c := NewClientFromConn(conn)

	var g errgroup.Group
	g.Go(func() error {
		srv.Send(wire.KindText, "> main.go:3 main.main()\n")
		srv.WritePrompt("(Pdb) ")
		for _, want := range []string{"p 1\n", "where\n"} {
			line, err := srv.ReadLine(-1)
			if err != nil {
				return err
			}
			if line != want {
				t.Errorf("server read %q, want %q", line, want)
			}
			srv.Send(wire.KindText, "1\n")
			srv.WritePrompt("(Pdb) ")
		}
		if _, err := srv.ReadLine(-1); err != wire.ErrEndOfInput {
			t.Errorf("expected end of input, got %v", err)
		}
		srv.Send(wire.KindText, "\n")
		return srv.Close()
	})

	if out, closed := c.Recv(); closed || out != "> main.go:3 main.main()\n(Pdb) " {
		t.Fatalf("preamble %q, %v", out, closed)
	}
	if out, closed := c.SendAndRecv("p 1"); closed || out != "1\n(Pdb) " {
		t.Fatalf("p 1 = %q, %v", out, closed)
	}
	if out, closed := c.SendAndRecv("where\n"); closed || out != "1\n(Pdb) " {
		t.Fatalf("where = %q, %v", out, closed)
	}
	if out, closed := c.RaiseEndOfInput(); !closed || out != "\n" {
		t.Fatalf("end of input = %q, %v", out, closed)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if c.SendCommand("p 2") {
		t.Fatalf("SendCommand succeeded on a closed connection")
	}
	c.Close()
}
