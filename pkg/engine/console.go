package engine

import (
	"fmt"
	"io"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	normalPrompt = ">>> "
	extraPrompt  = "... "

	exitCommand = "exit"
)

// interactCommand runs a read, eval, print loop over a copy of the current
// variables until end of input or exit.
func interactCommand(d *Debugger, args string) (bool, error) {
	thread := d.newThread()
	globals := d.env()

	fmt.Fprintln(d.io, "*interactive*")
	for {
		if err := d.rep(thread, globals); err != nil {
			break
		}
	}
	fmt.Fprintln(d.io, "now exiting interactive console...")
	return false, nil
}

// rep reads, evaluates, and prints one item.
//
// It returns an error only if reading failed or the user asked to exit.
// Starlark errors are printed.
func (d *Debugger) rep(thread *starlark.Thread, globals starlark.StringDict) error {
	eof := false

	prompt := normalPrompt
	readline := func() ([]byte, error) {
		d.io.WritePrompt(prompt)
		line, err := d.io.ReadLine(-1)
		if err != nil {
			eof = true
			return nil, io.EOF
		}
		if trimNewline(line) == exitCommand && prompt == normalPrompt {
			eof = true
			return nil, io.EOF
		}
		prompt = extraPrompt
		return []byte(trimNewline(line) + "\n"), nil
	}

	// parse
	f, err := syntax.ParseCompoundStmt("<stdin>", readline)
	if err != nil {
		if eof {
			return io.EOF
		}
		d.printConsoleError(err)
		return nil
	}

	if expr := soleExpr(f); expr != nil {
		v, err := starlark.EvalExpr(thread, expr, globals)
		if err != nil {
			d.printConsoleError(err)
			return nil
		}
		if v != starlark.None {
			fmt.Fprintln(d.io, v)
		}
		return nil
	}

	prog, err := starlark.FileProgram(f, globals.Has)
	if err != nil {
		d.printConsoleError(err)
		return nil
	}

	// execute (but do not freeze)
	res, err := prog.Init(thread, globals)
	if err != nil {
		d.printConsoleError(err)
	}

	// The global names from the previous call become
	// the predeclared names of this call.
	// If execution failed, some globals may be undefined.
	for k, v := range res {
		globals[k] = v
	}
	return nil
}

func (d *Debugger) printConsoleError(err error) {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		fmt.Fprintln(d.io, evalErr.Backtrace())
	} else {
		fmt.Fprintln(d.io, err)
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
