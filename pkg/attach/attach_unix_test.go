//go:build unix

package attach

import (
	"os"
	"os/signal"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/go-delve/attach/pkg/trace"
	"github.com/go-delve/attach/service"
)

const signalTestPort = 50010

func TestSignalSession(t *testing.T) {
	defer verifyNone(t)
	defer trace.SetHook(nil)
	defer signal.Reset(unix.SIGUSR2)
	signal.Ignore(unix.SIGUSR2)

	h, err := Listen(signalTestPort, &Options{Backend: BackendSignal})
	if err != nil {
		t.Fatal(err)
	}

	flag := true
	var g errgroup.Group
	loopOn(&g, &flag)

	if err := Trigger(os.Getpid()); err != nil {
		t.Fatal(err)
	}
	c, err := service.Dial(h.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var output strings.Builder
	out, closed := c.Recv()
	output.WriteString(out)
	if closed {
		t.Fatalf("session closed before the first prompt: %q", out)
	}
	out, _ = c.SendAndRecv("flag = False")
	output.WriteString(out)
	out, closed = c.SendAndRecv("detach")
	output.WriteString(out)
	if !closed {
		t.Fatalf("session still open after detach")
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(output.String(), "(Pdb) ") {
		t.Fatalf("no prompt in the session output: %q", output.String())
	}
	if trace.CurrentHook() != nil {
		t.Fatalf("trace hook installed after detach")
	}
	if !signal.Ignored(unix.SIGUSR2) {
		t.Fatalf("SIGUSR2 disposition not restored after detach")
	}

	h, err = Listen(signalTestPort, &Options{Backend: BackendSignal})
	if err != nil {
		t.Fatalf("Listen on the same port after detach: %v", err)
	}
	if err := Unlisten(h); err != nil {
		t.Fatal(err)
	}
}

func TestSignalDispositionRestored(t *testing.T) {
	defer verifyNone(t)
	defer signal.Reset(unix.SIGUSR2)

	for _, ignored := range []bool{false, true} {
		if ignored {
			signal.Ignore(unix.SIGUSR2)
		}
		h, err := Listen(0, &Options{Backend: BackendSignal})
		if err != nil {
			t.Fatal(err)
		}
		if signal.Ignored(unix.SIGUSR2) {
			t.Fatalf("SIGUSR2 still ignored while listening")
		}
		if err := Unlisten(h); err != nil {
			t.Fatal(err)
		}
		if got := signal.Ignored(unix.SIGUSR2); got != ignored {
			t.Fatalf("SIGUSR2 ignored = %v after Unlisten, want %v", got, ignored)
		}
	}
}
