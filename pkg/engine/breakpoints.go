package engine

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-delve/attach/pkg/trace"
)

// Breakpoint stops the host program when a trace step happens at File:Line.
type Breakpoint struct {
	id        int
	file      string
	line      int
	temporary bool
	hits      int
}

// ID returns the breakpoint number.
func (bp *Breakpoint) ID() int { return bp.id }

// Hits returns how many times the breakpoint stopped the program.
func (bp *Breakpoint) Hits() int { return bp.hits }

func (bp *Breakpoint) location() string {
	return fmt.Sprintf("%s:%d", bp.file, bp.line)
}

// matches returns true if f is at bp. The breakpoint file matches any
// path it is a suffix of, at a path separator boundary.
func (bp *Breakpoint) matches(f *trace.Frame) bool {
	if f.Line != bp.line || f.File == "" {
		return false
	}
	if f.File == bp.file {
		return true
	}
	file := filepath.ToSlash(f.File)
	want := filepath.ToSlash(bp.file)
	return strings.HasSuffix(file, "/"+strings.TrimPrefix(want, "/"))
}

type breakpoints struct {
	mu     sync.Mutex
	lastID int
	list   []*Breakpoint
}

func (bs *breakpoints) add(file string, line int, temporary bool) *Breakpoint {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.lastID++
	bp := &Breakpoint{id: bs.lastID, file: file, line: line, temporary: temporary}
	bs.list = append(bs.list, bp)
	return bp
}

func (bs *breakpoints) remove(id int) *Breakpoint {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for i, bp := range bs.list {
		if bp.id == id {
			bs.list = append(bs.list[:i], bs.list[i+1:]...)
			return bp
		}
	}
	return nil
}

func (bs *breakpoints) clear() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.list = nil
}

func (bs *breakpoints) match(f *trace.Frame) *Breakpoint {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for _, bp := range bs.list {
		if bp.matches(f) {
			return bp
		}
	}
	return nil
}

func (bs *breakpoints) all() []*Breakpoint {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	r := append([]*Breakpoint(nil), bs.list...)
	sort.Slice(r, func(i, j int) bool { return r[i].id < r[j].id })
	return r
}

func (bs *breakpoints) len() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return len(bs.list)
}
