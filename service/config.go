package service

import (
	"net"

	"github.com/go-delve/attach/pkg/engine"
)

// Config provides the configuration to expose a debugger on a listener.
type Config struct {
	// Listener is used to accept clients.
	Listener net.Listener

	// Prompt, Aliases, ListLines and SourceCacheSize configure the debugger
	// of every session. Zero values select the defaults of package config.
	Prompt          string
	Aliases         map[string][]string
	ListLines       int
	SourceCacheSize int

	// MaxFramePayload bounds the size of frames received from clients.
	// Zero selects wire.DefaultMaxPayload.
	MaxFramePayload int

	// Precmd handlers are attached, in order, to the debugger of every
	// session.
	Precmd []engine.PrecmdFunc

	// OnSessionEnd is called when a session is over, after its debugger
	// released the trace hook and before Session.Done is closed.
	OnSessionEnd func()

	// OnDetach is called after a client sent the detach command and the
	// session has been torn down. The owner of the listener is expected to
	// release it.
	OnDetach func()
}
