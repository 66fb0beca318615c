package engine

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"testing"

	"github.com/go-delve/attach/pkg/trace"
)

var errTestEndOfInput = errors.New("end of input")

// eoi in a fakeIO script makes ReadLine fail without ending the input.
const eoi = "\x04"

type fakeIO struct {
	in      []string
	out     strings.Builder
	prompts []string
}

func (f *fakeIO) Write(p []byte) (int, error) {
	return f.out.Write(p)
}

func (f *fakeIO) WritePrompt(s string) int {
	f.prompts = append(f.prompts, s)
	f.out.WriteString(s)
	return len(s)
}

func (f *fakeIO) ReadLine(max int) (string, error) {
	if len(f.in) == 0 {
		return "", io.EOF
	}
	line := f.in[0]
	f.in = f.in[1:]
	if line == eoi {
		return "", errTestEndOfInput
	}
	return line + "\n", nil
}

func newTestDebugger(t *testing.T, conf Config, input ...string) (*Debugger, *fakeIO) {
	t.Helper()
	t.Cleanup(func() { trace.SetHook(nil) })
	fio := &fakeIO{in: input}
	return New(fio, conf), fio
}

//go:noinline
func stepA(sc *trace.Scope) int {
	_, _, line, _ := runtime.Caller(0)
	trace.Step(sc)
	return line + 1
}

//go:noinline
func stepB(sc *trace.Scope) int {
	_, _, line, _ := runtime.Caller(0)
	trace.Step(sc)
	return line + 1
}

func TestPrecmdChainOrder(t *testing.T) {
	d, _ := newTestDebugger(t, Config{})
	var seen []string
	d.AttachPrecmdHandler(func(line string) string {
		seen = append(seen, "h1:"+line)
		return line + "-h1"
	})
	d.AttachPrecmdHandler(func(line string) string {
		seen = append(seen, "h2:"+line)
		return line
	})
	d.Evaluate("x")
	if len(seen) != 2 || seen[0] != "h1:x" || seen[1] != "h2:x-h1" {
		t.Fatalf("unexpected precmd calls %v", seen)
	}
}

func TestAssignmentWritesBack(t *testing.T) {
	flag := true
	sc := trace.NewScope().Bind("flag", &flag)
	ended := false
	d, fio := newTestDebugger(t, Config{OnEnd: func() { ended = true }}, "flag = False", "c")

	d.SetTrace()
	n := 0
	for ; flag && n < 10; n++ {
		stepA(sc)
	}

	if flag || n != 1 {
		t.Fatalf("flag=%v after %d iterations", flag, n)
	}
	if !ended || !d.Ended() {
		t.Fatalf("session did not end on continue without breakpoints")
	}
	if trace.CurrentHook() != nil {
		t.Fatalf("trace hook not restored")
	}
	out := fio.out.String()
	if !strings.Contains(out, "(Pdb) ") || !strings.Contains(out, "> engine_test.go:") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEvaluateExpressions(t *testing.T) {
	count := 3
	name := "loop"
	var small int8
	list := []int{1, 2, 3}
	sc := trace.NewScope().Bind("count", &count).Bind("name", &name).Bind("small", &small).Bind("list", &list)
	d, fio := newTestDebugger(t, Config{},
		"p count + 1",
		"count += 2",
		"count",
		"print(name)",
		"newvar = count * 10",
		"p newvar",
		"small = 1000",
		"list = [4]",
		"p len(list)",
		"!p = 7",
		"p p",
		"q")

	d.SetTrace()
	stepA(sc)

	if count != 5 {
		t.Fatalf("count = %d", count)
	}
	if small != 0 {
		t.Fatalf("overflowing assignment changed small to %d", small)
	}
	want := []string{
		"4\n",
		"(Pdb) 5\n",
		"(Pdb) loop\n",
		"(Pdb) 50\n",
		"*** 1000 overflows small (type int8)\n",
		"*** cannot assign to list: unsupported type list\n",
		"(Pdb) 3\n",
		"(Pdb) 7\n",
	}
	out := fio.out.String()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output does not contain %q:\n%s", w, out)
		}
	}
}

func TestEmptyLineRepeats(t *testing.T) {
	count := 0
	sc := trace.NewScope().Bind("count", &count)
	d, _ := newTestDebugger(t, Config{}, "count += 1", "", "", "q")
	d.SetTrace()
	stepA(sc)
	if count != 3 {
		t.Fatalf("count = %d", count)
	}
}

func TestNextStaysInFunction(t *testing.T) {
	sc := trace.NewScope()
	lineA := stepA(nil)
	d, fio := newTestDebugger(t, Config{}, "n", "n", "q")

	d.SetTrace()
	for i := 0; i < 3; i++ {
		stepA(sc)
		stepB(sc)
	}
	locA := fmt.Sprintf("> engine_test.go:%d ", lineA)
	if got := strings.Count(fio.out.String(), locA); got != 3 {
		t.Fatalf("expected 3 stops in stepA, got %d:\n%s", got, fio.out.String())
	}
	if strings.Contains(fio.out.String(), "stepB()") {
		t.Fatalf("next stopped in another function:\n%s", fio.out.String())
	}
}

func TestBreakpoints(t *testing.T) {
	sc := trace.NewScope()
	lineB := stepB(nil)
	d, fio := newTestDebugger(t, Config{},
		fmt.Sprintf("b engine_test.go:%d", lineB),
		"b",
		"c",
		"clear 1",
		fmt.Sprintf("tbreak %d", lineB),
		"c",
		"b",
		"c")

	d.SetTrace()
	for i := 0; i < 3; i++ {
		stepA(sc)
		stepB(sc)
	}

	out := fio.out.String()
	for _, w := range []string{
		fmt.Sprintf("Breakpoint 1 set at engine_test.go:%d", lineB),
		"Breakpoint 1 hit",
		"Deleted breakpoint 1",
		"Temporary breakpoint 2 set at",
		"Deleted breakpoint 2",
		"No breakpoints",
	} {
		if !strings.Contains(out, w) {
			t.Errorf("output does not contain %q:\n%s", w, out)
		}
	}
	if !d.Ended() {
		t.Fatalf("session still active after continue without breakpoints")
	}
}

func TestReservedCommand(t *testing.T) {
	flag := true
	sc := trace.NewScope().Bind("flag", &flag)
	detached := false
	conf := Config{
		Reserved: map[string]ReservedFunc{
			"detach": func(d *Debugger) bool {
				d.Release()
				detached = true
				return true
			},
		},
	}
	d, fio := newTestDebugger(t, conf, "alias detach p 1", "detach now", "flag = False", "detach")

	d.SetTrace()
	for i := 0; flag && i < 10; i++ {
		stepA(sc)
	}
	if !detached || !d.Ended() {
		t.Fatalf("detach not handled")
	}
	out := fio.out.String()
	if !strings.Contains(out, "*** detach is a command name") {
		t.Fatalf("reserved name accepted as alias:\n%s", out)
	}
	if trace.CurrentHook() != nil {
		t.Fatalf("trace hook not restored")
	}
}

func TestEndOfInputQuits(t *testing.T) {
	ended := 0
	d, _ := newTestDebugger(t, Config{OnEnd: func() { ended++ }}, eoi)
	d.SetTrace()
	stepA(nil)
	stepA(nil)
	if ended != 1 {
		t.Fatalf("OnEnd called %d times", ended)
	}
}

func TestPreviousHookRestored(t *testing.T) {
	calls := 0
	trace.SetHook(func(*trace.Frame) { calls++ })
	d, _ := newTestDebugger(t, Config{}, "q")
	d.SetTrace()
	stepA(nil)
	stepA(nil)
	if calls != 1 {
		t.Fatalf("previous hook called %d times after the session", calls)
	}
}

func TestInteract(t *testing.T) {
	flag := true
	sc := trace.NewScope().Bind("flag", &flag)
	d, fio := newTestDebugger(t, Config{},
		"interact",
		"flag = False",
		"def f(x):",
		"  return x * 2",
		"",
		"f(21)",
		"exit",
		"p flag",
		"interact",
		eoi,
		"q")

	d.SetTrace()
	stepA(sc)

	if !flag {
		t.Fatalf("interact changed a bound variable")
	}
	out := fio.out.String()
	for _, w := range []string{"*interactive*", ">>> ", "... ", "42\n", "(Pdb) True\n", "now exiting interactive console"} {
		if !strings.Contains(out, w) {
			t.Errorf("output does not contain %q:\n%s", w, out)
		}
	}
}

func TestAliases(t *testing.T) {
	count := 2
	sc := trace.NewScope().Bind("count", &count)
	d, fio := newTestDebugger(t, Config{Aliases: map[string][]string{"print": {"show"}}},
		"alias pc p count * %1",
		"pc 21",
		"alias",
		"show count",
		"unalias pc",
		"pc",
		"p 1;; p 2",
		"q")
	d.SetTrace()
	stepA(sc)

	out := fio.out.String()
	for _, w := range []string{"(Pdb) 42\n", "pc = p count * %1\n", "(Pdb) 2\n", "undefined: pc", "(Pdb) 1\n2\n"} {
		if !strings.Contains(out, w) {
			t.Errorf("output does not contain %q:\n%s", w, out)
		}
	}
}

func TestListAndWhere(t *testing.T) {
	d, fio := newTestDebugger(t, Config{ListLines: 5}, "list", "l", "where", "q")
	d.SetTrace()
	line := stepA(nil)

	out := fio.out.String()
	if !strings.Contains(out, fmt.Sprintf("%4d  ->\t\ttrace.Step(sc)", line)) {
		t.Fatalf("current line not marked:\n%s", out)
	}
	if !strings.Contains(out, fmt.Sprintf("%4d", line+5)) {
		t.Fatalf("second list did not continue:\n%s", out)
	}
	if !strings.Contains(out, "TestListAndWhere()") || !strings.Contains(out, "> ") {
		t.Fatalf("where output missing frames:\n%s", out)
	}
}

func TestHelp(t *testing.T) {
	d, fio := newTestDebugger(t, Config{})
	d.Evaluate("help")
	out := fio.out.String()
	for _, w := range []string{"Running the program", "continue (alias: c | cont)", "Type help followed by"} {
		if !strings.Contains(out, w) {
			t.Errorf("help output does not contain %q", w)
		}
	}
	if strings.Contains(out, "EOF") {
		t.Errorf("hidden command listed")
	}
	d.Evaluate("help nosuchcommand")
	if !strings.Contains(fio.out.String(), "*** command not available") {
		t.Errorf("missing error for unknown help topic")
	}
}

func TestCommandNames(t *testing.T) {
	names := CommandNames(map[string][]string{"next": {"nx"}})
	has := map[string]bool{}
	for _, n := range names {
		has[n] = true
	}
	for _, want := range []string{"continue", "c", "cont", "next", "nx", "interact"} {
		if !has[want] {
			t.Errorf("%q missing from %q", want, names)
		}
	}
	if has["EOF"] {
		t.Errorf("hidden command listed in %q", names)
	}
}

func TestOtherGoroutinesPassThrough(t *testing.T) {
	done := make(chan int, 1)
	d, _ := newTestDebugger(t, Config{})
	d.io = &blockingIO{fakeIO: fakeIO{in: []string{"q"}}, other: func() {
		n := 0
		for i := 0; i < 100; i++ {
			stepB(nil)
			n++
		}
		done <- n
	}}
	d.SetTrace()
	stepA(nil)
	if n := <-done; n != 100 {
		t.Fatalf("other goroutine blocked: %d", n)
	}
}

// blockingIO runs other on a new goroutine when the first prompt is
// written and waits for it before returning input.
type blockingIO struct {
	fakeIO
	other func()
	once  bool
}

func (b *blockingIO) WritePrompt(s string) int {
	if !b.once {
		b.once = true
		finished := make(chan struct{})
		go func() {
			b.other()
			close(finished)
		}()
		<-finished
	}
	return b.fakeIO.WritePrompt(s)
}
