// Package trace is the execution-trace facility of dlv-attach.
//
// A program that wants to be debuggable calls Step at the points where it
// is safe to stop, typically once per iteration of its long running loops,
// passing the variables it wants to expose:
//
//	sc := trace.NewScope().Bind("flag", &flag)
//	for flag {
//		trace.Step(sc)
//		...
//	}
//
// Step costs a single atomic load until a hook is installed. The debugger
// engine and the polling activation backend install hooks with SetHook.
package trace

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync/atomic"
)

// Hook is called by Step on the goroutine executing the step.
type Hook func(*Frame)

var current atomic.Pointer[Hook]

// SetHook installs h as the process-wide trace hook and returns the hook it
// replaced. A nil h removes the hook.
func SetHook(h Hook) (prev Hook) {
	var hp *Hook
	if h != nil {
		hp = &h
	}
	if old := current.Swap(hp); old != nil {
		return *old
	}
	return nil
}

// CurrentHook returns the installed hook, or nil.
func CurrentHook() Hook {
	if hp := current.Load(); hp != nil {
		return *hp
	}
	return nil
}

// Step reports an execution step at the caller's location.
func Step(scope *Scope) {
	StepSkip(1, scope)
}

// StepSkip reports an execution step at the location of the caller skip
// frames up the stack, as in runtime.Caller. StepSkip(0, sc) is the same as
// Step(sc) called from the same place.
func StepSkip(skip int, scope *Scope) {
	hp := current.Load()
	if hp == nil {
		return
	}
	(*hp)(newFrame(skip+2, scope))
}

// Frame is the location of one execution step and the variables visible
// at it.
type Frame struct {
	Function string
	File     string
	Line     int
	Scope    *Scope
}

func newFrame(skip int, scope *Scope) *Frame {
	f := &Frame{Scope: scope}
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		f.Function = "?"
		return f
	}
	f.File, f.Line = file, line
	if fn := runtime.FuncForPC(pc); fn != nil {
		f.Function = fn.Name()
	}
	return f
}

// Location returns file:line, with the file reduced to its base name.
func (f *Frame) Location() string {
	if f.File == "" {
		return "?"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s:%d %s()", f.File, f.Line, f.Function)
}
