// Package engine implements the line oriented debugger that runs inside
// the debugged process.
//
// A Debugger stops the host program at trace steps (see package trace),
// prints the current location and reads commands from its IO until a
// command resumes execution. Commands follow the conventions of pdb: bare
// input that is not a command is evaluated as a starlark statement against
// the variables the host bound for the current step.
package engine

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.starlark.net/starlark"

	"github.com/go-delve/attach/pkg/config"
	"github.com/go-delve/attach/pkg/logflags"
	"github.com/go-delve/attach/pkg/trace"
)

// Engine is the capability set a session needs from a debugger.
type Engine interface {
	// SetTrace makes the debugger stop at the next trace step.
	SetTrace()
	// Evaluate runs one command line and returns true if the command
	// resumed execution of the host program.
	Evaluate(line string) bool
	// AttachPrecmdHandler appends fn to the precmd chain.
	AttachPrecmdHandler(fn PrecmdFunc)
}

// IO is where a Debugger reads commands and writes output.
type IO interface {
	io.Writer
	WritePrompt(s string) int
	ReadLine(max int) (string, error)
}

// PrecmdFunc transforms a command line before it is interpreted. Handlers
// run in the order they were attached, each receiving the output of the
// previous one.
type PrecmdFunc func(line string) string

// ReservedFunc handles a reserved command. It returns true if execution of
// the host program should resume.
type ReservedFunc func(d *Debugger) bool

// Config configures a Debugger.
type Config struct {
	Prompt          string
	Aliases         map[string][]string
	ListLines       int
	SourceCacheSize int

	// Reserved commands match the whole command line exactly. They are
	// looked up after the precmd chain and before aliases and the command
	// table.
	Reserved map[string]ReservedFunc

	// OnEnd is called when the session ends because of quit, end of
	// input or continue without breakpoints.
	OnEnd func()
}

type stopMode uint8

const (
	stopNever stopMode = iota
	stopAny
	stopSameFunction
	stopBreakpoints
)

// Debugger is the concrete Engine.
type Debugger struct {
	io     IO
	conf   Config
	cmds   *Commands
	precmd []PrecmdFunc
	log    logflags.Logger

	// mu is held by the goroutine interacting with the user. Other
	// goroutines reaching a trace step while it is held do not stop.
	mu sync.Mutex

	hookMu    sync.Mutex
	installed bool
	prevHook  trace.Hook
	ended     bool

	mode     stopMode
	nextFunc string
	bps      breakpoints

	frame    *trace.Frame
	globals  starlark.StringDict
	lastCmd  string
	cmdqueue []string
	listNext int

	sources *lru.Cache
}

var _ Engine = (*Debugger)(nil)

// New returns a Debugger using rw for its input and output.
func New(rw IO, conf Config) *Debugger {
	if conf.Prompt == "" {
		conf.Prompt = config.DefaultPrompt
	}
	if conf.ListLines <= 0 {
		conf.ListLines = config.DefaultListLines
	}
	if conf.SourceCacheSize <= 0 {
		conf.SourceCacheSize = config.DefaultSourceCacheSize
	}
	d := &Debugger{
		io:      rw,
		conf:    conf,
		log:     logflags.EngineLogger(),
		globals: starlark.StringDict{},
	}
	d.sources, _ = lru.New(conf.SourceCacheSize)
	d.cmds = debugCommands()
	if conf.Aliases != nil {
		d.cmds.Merge(conf.Aliases)
	}
	return d
}

// Prompt returns the prompt written before every command.
func (d *Debugger) Prompt() string {
	return d.conf.Prompt
}

// AttachPrecmdHandler appends fn to the precmd chain.
func (d *Debugger) AttachPrecmdHandler(fn PrecmdFunc) {
	d.precmd = append(d.precmd, fn)
}

// PrecmdLogger is a precmd handler that writes every command line to the
// engine log.
func PrecmdLogger(line string) string {
	logflags.EngineLogger().Debug(line)
	return line
}

// SetTrace installs the debugger's trace hook so that the host program
// stops at its next trace step. The hook it replaces is restored when the
// session ends.
func (d *Debugger) SetTrace() {
	d.hookMu.Lock()
	defer d.hookMu.Unlock()
	d.mode = stopAny
	if d.installed {
		return
	}
	d.ended = false
	d.installed = true
	d.prevHook = trace.SetHook(d.hook)
	d.log.Debug("trace hook installed")
}

// StopAt installs the trace hook and stops at f right away. It must be
// called from the goroutine that reached f.
func (d *Debugger) StopAt(f *trace.Frame) {
	d.SetTrace()
	d.hook(f)
}

// Release clears all breakpoints and restores the trace hook that was
// installed before SetTrace. The host program runs freely afterwards.
// Release is safe to call more than once.
func (d *Debugger) Release() {
	d.hookMu.Lock()
	defer d.hookMu.Unlock()
	d.bps.clear()
	d.mode = stopNever
	d.ended = true
	if !d.installed {
		return
	}
	d.installed = false
	trace.SetHook(d.prevHook)
	d.prevHook = nil
	d.log.Debug("trace hook released")
}

// Ended returns true once Release has been called.
func (d *Debugger) Ended() bool {
	d.hookMu.Lock()
	defer d.hookMu.Unlock()
	return d.ended
}

// Frame returns the location the host program is stopped at, or nil.
func (d *Debugger) Frame() *trace.Frame {
	return d.frame
}

func (d *Debugger) hook(f *trace.Frame) {
	if !d.mu.TryLock() {
		return
	}
	defer d.mu.Unlock()
	if !d.shouldStop(f) {
		return
	}
	d.interact(f)
}

// setMode selects where the host program stops next.
func (d *Debugger) setMode(mode stopMode, function string) {
	d.hookMu.Lock()
	defer d.hookMu.Unlock()
	d.mode, d.nextFunc = mode, function
}

func (d *Debugger) shouldStop(f *trace.Frame) bool {
	d.hookMu.Lock()
	mode, nextFunc, ended := d.mode, d.nextFunc, d.ended
	d.hookMu.Unlock()
	if ended {
		return false
	}
	if bp := d.bps.match(f); bp != nil {
		bp.hits++
		if bp.temporary {
			d.bps.remove(bp.id)
			fmt.Fprintf(d.io, "Deleted breakpoint %d at %s\n", bp.id, bp.location())
		} else {
			fmt.Fprintf(d.io, "Breakpoint %d hit at %s\n", bp.id, bp.location())
		}
		return true
	}
	switch mode {
	case stopAny:
		return true
	case stopSameFunction:
		return f.Function == nextFunc
	}
	return false
}

// interact runs the command loop for a stop at f.
func (d *Debugger) interact(f *trace.Frame) {
	d.frame = f
	d.listNext = 0
	defer func() { d.frame = nil }()

	d.printLocation(f)
	for !d.Ended() {
		var line string
		if len(d.cmdqueue) > 0 {
			line, d.cmdqueue = d.cmdqueue[0], d.cmdqueue[1:]
		} else {
			d.io.WritePrompt(d.conf.Prompt)
			var err error
			line, err = d.io.ReadLine(-1)
			if err != nil {
				d.log.WithError(err).Debug("end of input")
				line = "EOF"
			}
			line = strings.TrimRight(line, "\r\n")
		}
		if d.Evaluate(line) {
			return
		}
	}
}

// Evaluate runs one command line: the precmd chain, then reserved
// commands, aliases, the command table and finally starlark. It returns
// true if the command resumed execution.
func (d *Debugger) Evaluate(line string) (resume bool) {
	for _, fn := range d.precmd {
		line = fn(line)
	}
	if d.Ended() {
		return true
	}

	defer func() {
		if ierr := recover(); ierr != nil {
			d.log.Errorf("panic evaluating %q: %v\n%s", line, ierr, debug.Stack())
			d.printError(fmt.Errorf("internal error: %v", ierr))
			resume = false
		}
	}()

	cmdstr := strings.TrimSpace(line)
	if cmdstr == "" {
		if d.lastCmd == "" {
			return false
		}
		cmdstr = d.lastCmd
	} else if cmdstr != "EOF" {
		d.lastCmd = cmdstr
	}

	if strings.HasPrefix(cmdstr, "!") {
		d.printError(d.exec(cmdstr[1:]))
		return false
	}

	if fn, ok := d.conf.Reserved[cmdstr]; ok {
		return fn(d)
	}

	cmdstr = d.cmds.expandAlias(cmdstr)
	if i := strings.Index(cmdstr, ";;"); i >= 0 {
		d.cmdqueue = append([]string{strings.TrimSpace(cmdstr[i+2:])}, d.cmdqueue...)
		cmdstr = strings.TrimSpace(cmdstr[:i])
	}

	name, args := splitCommand(cmdstr)
	if cmd := d.cmds.Find(name); cmd != nil {
		resume, err := cmd.cmdFn(d, args)
		d.printError(err)
		return resume
	}
	d.printError(d.exec(cmdstr))
	return false
}

// end finishes the session and notifies the owner.
func (d *Debugger) end() {
	d.cmdqueue = nil
	d.Release()
	if d.conf.OnEnd != nil {
		d.conf.OnEnd()
	}
}

func (d *Debugger) printError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(d.io, "*** %v\n", err)
}

func (d *Debugger) printLocation(f *trace.Frame) {
	fmt.Fprintf(d.io, "> %s %s()\n", f.Location(), f.Function)
	if src, err := d.sourceLine(f.File, f.Line); err == nil {
		fmt.Fprintf(d.io, "-> %s\n", strings.TrimSpace(src))
	}
}

func splitCommand(cmdstr string) (name, args string) {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	name = vals[0]
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return name, args
}
