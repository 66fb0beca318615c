//go:build !unix

package attach

import "fmt"

var defaultBackend Backend = pollBackend{}

// signalBackend returns inert handles where SIGUSR2 does not exist.
type signalBackend struct{}

func (signalBackend) Listen(port int, opts Options) (*Handle, error) {
	return &Handle{Port: port, backend: signalBackend{}, inert: true}, fmt.Errorf("signal backend: %w", ErrUnsupported)
}

func (signalBackend) Unlisten(h *Handle) error {
	return nil
}

// Trigger always fails: there is no activation signal on this platform.
func Trigger(pid int) error {
	return fmt.Errorf("trigger process %d: %w", pid, ErrUnsupported)
}
