package attach

import (
	"sync"
	"sync/atomic"

	"github.com/go-delve/attach/pkg/trace"
	"github.com/go-delve/attach/service"
)

// pollBackend checks for a pending client from the trace hook. The session
// runs on the goroutine that executed the step.
type pollBackend struct{}

type poller struct {
	h        *Handle
	interval uint64
	steps    atomic.Uint64
	prevHook trace.Hook

	// mu orders polling against stop so that a session is either visible
	// to stop or never started.
	mu       sync.Mutex
	stopped  atomic.Bool
	restored bool
}

func (pollBackend) Listen(port int, opts Options) (*Handle, error) {
	h := &Handle{backend: pollBackend{}}
	if err := bind(h, port, opts); err != nil {
		return nil, err
	}
	p := &poller{h: h, interval: uint64(opts.PollInterval)}
	h.poller = p
	p.prevHook = trace.SetHook(p.hook)
	return h, nil
}

func (pollBackend) Unlisten(h *Handle) error {
	h.poller.stop()
	return h.srv.Stop()
}

func (p *poller) hook(f *trace.Frame) {
	if !p.stopped.Load() && p.steps.Add(1)%p.interval == 0 {
		if ss := p.poll(); ss != nil {
			ss.StartAt(f)
			return
		}
	}
	if p.prevHook != nil {
		p.prevHook(f)
	}
}

func (p *poller) poll() *service.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped.Load() {
		return nil
	}
	return p.h.srv.Poll()
}

// stop disables polling. The previous hook is put back right away unless a
// session owns the trace hook, in which case it is put back when that
// session ends.
func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped.Store(true)
	if !p.h.srv.Active() {
		p.restore()
	}
}

// sessionEnded runs after the session's debugger released the trace hook,
// which reinstalled p.hook.
func (p *poller) sessionEnded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped.Load() {
		p.restore()
	}
}

func (p *poller) restore() {
	if p.restored {
		return
	}
	p.restored = true
	trace.SetHook(p.prevHook)
}
