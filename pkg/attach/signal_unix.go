//go:build unix

package attach

import (
	"errors"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/go-delve/attach/pkg/logflags"
	"github.com/go-delve/attach/service"
)

var defaultBackend Backend = signalBackend{}

// signalBackend accepts a client every time the process receives SIGUSR2.
type signalBackend struct{}

func (signalBackend) Listen(port int, opts Options) (*Handle, error) {
	h := &Handle{backend: signalBackend{}}
	if err := bind(h, port, opts); err != nil {
		return nil, err
	}
	h.prevIgnored = signal.Ignored(unix.SIGUSR2)
	h.sigs = make(chan os.Signal, 1)
	h.stop = make(chan struct{})
	h.loopDone = make(chan struct{})
	signal.Notify(h.sigs, unix.SIGUSR2)
	go h.handleSignals()
	return h, nil
}

func (signalBackend) Unlisten(h *Handle) error {
	signal.Stop(h.sigs)
	if h.prevIgnored {
		signal.Ignore(unix.SIGUSR2)
	}
	close(h.stop)
	err := h.srv.Stop()
	<-h.loopDone
	return err
}

// handleSignals accepts one client per SIGUSR2. Signals received while a
// session is running are dropped.
func (h *Handle) handleSignals() {
	defer close(h.loopDone)
	log := logflags.ListenerLogger()
	for {
		select {
		case <-h.sigs:
		case <-h.stop:
			return
		}
		log.Debug("SIGUSR2 received, waiting for a client")
		ss, err := h.srv.Accept()
		if err != nil {
			if !errors.Is(err, service.ErrServerStopped) {
				log.WithError(err).Error("accept failed")
			}
			return
		}
		ss.Start()
		select {
		case <-ss.Done():
		case <-h.stop:
			return
		}
		select {
		case <-h.sigs:
		default:
		}
	}
}

// Trigger sends the activation signal to the process pid.
func Trigger(pid int) error {
	return unix.Kill(pid, unix.SIGUSR2)
}
