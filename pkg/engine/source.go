package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/go-delve/attach/pkg/trace"
)

// sourceLines returns the lines of filename, reading it through the source
// cache.
func (d *Debugger) sourceLines(filename string) ([]string, error) {
	if v, ok := d.sources.Get(filename); ok {
		return v.([]string), nil
	}
	fh, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	var lines []string
	s := bufio.NewScanner(fh)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	d.sources.Add(filename, lines)
	return lines, nil
}

func (d *Debugger) sourceLine(filename string, line int) (string, error) {
	lines, err := d.sourceLines(filename)
	if err != nil {
		return "", err
	}
	if line < 1 || line > len(lines) {
		return "", fmt.Errorf("line %d out of range for %s", line, filename)
	}
	return lines[line-1], nil
}

// printSource writes lines first through last of filename. The current
// line is marked with an arrow and breakpoints with a B.
func (d *Debugger) printSource(w io.Writer, filename string, first, last, current int) error {
	lines, err := d.sourceLines(filename)
	if err != nil {
		return err
	}
	if first < 1 {
		first = 1
	}
	if last > len(lines) {
		last = len(lines)
	}
	if first > last {
		return fmt.Errorf("no lines to list")
	}
	bplines := map[int]bool{}
	for _, bp := range d.bps.all() {
		if bp.matches(&trace.Frame{File: filename, Line: bp.line}) {
			bplines[bp.line] = true
		}
	}
	for i := first; i <= last; i++ {
		bpmark, arrow := " ", "  "
		if bplines[i] {
			bpmark = "B"
		}
		if i == current {
			arrow = "->"
		}
		fmt.Fprintf(w, "%4d %s%s\t%s\n", i, bpmark, arrow, lines[i-1])
	}
	return nil
}
