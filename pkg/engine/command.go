package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
)

// maxAliasDepth bounds alias expansion so that an alias referring to
// itself terminates.
const maxAliasDepth = 16

type cmdfunc func(d *Debugger, args string) (resume bool, err error)

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	hidden         bool
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands is the command table of a Debugger.
type Commands struct {
	cmds []command

	// userAliases are defined with the alias command and expand to whole
	// command lines.
	userAliases map[string]string
}

var errNoCmd = errors.New("command not available")

func debugCommands() *Commands {
	c := &Commands{userAliases: map[string]string{}}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"where", "w", "bt"}, group: stackCmds, cmdFn: where, helpMsg: `Prints the stack of the goroutine stopped in the debugger.

	where

The most recent frame is at the bottom, marked with an arrow.`},
		{aliases: []string{"list", "l"}, group: stackCmds, cmdFn: listCommand, helpMsg: `Shows source code.

	list
	list .
	list <line>
	list <first>, <last>

Without arguments lists lines around the current line, or continues the
previous listing. With one argument lists lines around that line. With two
arguments lists the given range; if last is less than first it is a count.`},
		{aliases: []string{"print", "p"}, group: dataCmds, cmdFn: printVar, helpMsg: `Evaluates an expression.

	print <expression>

The expression is evaluated against the variables bound at the current step.`},
		{aliases: []string{"locals", "vars"}, group: dataCmds, cmdFn: locals, helpMsg: `Prints the variables bound at the current step.

	locals

Variables set from the debugger that are not bound to the program are listed
after them.`},
		{aliases: []string{"next", "n"}, group: runCmds, cmdFn: next, helpMsg: `Continues to the next step in the current function.

	next`},
		{aliases: []string{"step", "s"}, group: runCmds, cmdFn: step, helpMsg: `Continues to the next step in any function.

	step`},
		{aliases: []string{"continue", "c", "cont"}, group: runCmds, cmdFn: cont, helpMsg: `Continues until a breakpoint is hit.

	continue

Without breakpoints the debugging session ends and the program keeps running.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break [file:]<line>

Without arguments lists all breakpoints. The file matches any path ending in
it; when omitted the current file is used.`},
		{aliases: []string{"tbreak"}, group: breakCmds, cmdFn: tbreakpoint, helpMsg: `Sets a temporary breakpoint.

	tbreak [file:]<line>

The breakpoint is removed the first time it is hit.`},
		{aliases: []string{"clear", "cl"}, group: breakCmds, cmdFn: clearCmd, helpMsg: `Deletes breakpoints.

	clear [id ...]

Without arguments deletes all breakpoints.`},
		{aliases: []string{"alias"}, cmdFn: c.alias, helpMsg: `Defines a command alias.

	alias [name [command]]

Without arguments lists all aliases; with a name only shows that alias.
Occurrences of %1, %2, ... in command are replaced by the arguments the alias
is called with, %* by all of them.`},
		{aliases: []string{"unalias"}, cmdFn: c.unalias, helpMsg: `Deletes command aliases.

	unalias <name> ...`},
		{aliases: []string{"interact"}, group: dataCmds, cmdFn: interactCommand, helpMsg: `Starts an interactive console.

	interact

The console works on a copy of the current variables. Send end of input or
type "exit" to return to the debugger.`},
		{aliases: []string{"quit", "q", "exit"}, cmdFn: quit, helpMsg: `Ends the debugging session.

	quit

The program keeps running and can be attached to again.`},
		{aliases: []string{"EOF"}, hidden: true, cmdFn: eof, helpMsg: `Handles end of input like quit.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// Register adds a command, or replaces the function of an existing one.
func (c *Commands) Register(cmdstr string, cf func(d *Debugger, args string) (bool, error), helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find returns the command called cmdstr, or nil.
func (c *Commands) Find(cmdstr string) *command {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			return &c.cmds[i]
		}
	}
	return nil
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

// expandAlias replaces a leading user alias in cmdstr with its definition.
func (c *Commands) expandAlias(cmdstr string) string {
	for i := 0; i < maxAliasDepth; i++ {
		name, args := splitCommand(cmdstr)
		def, ok := c.userAliases[name]
		if !ok {
			break
		}
		fields := strings.Fields(args)
		for j, a := range fields {
			def = strings.Replace(def, "%"+strconv.Itoa(j+1), a, -1)
		}
		def = strings.Replace(def, "%*", args, -1)
		cmdstr = def
	}
	return cmdstr
}

// Names returns the name and aliases of every visible command.
func (c *Commands) Names() []string {
	var r []string
	for _, cmd := range c.cmds {
		if !cmd.hidden {
			r = append(r, cmd.aliases...)
		}
	}
	return r
}

// CommandNames returns the names and aliases of the commands of a
// debugger configured with aliases.
func CommandNames(aliases map[string][]string) []string {
	c := debugCommands()
	c.Merge(aliases)
	return c.Names()
}

func (c *Commands) help(d *Debugger, args string) (bool, error) {
	if args != "" {
		if cmd := c.Find(args); cmd != nil && !cmd.hidden {
			fmt.Fprintln(d.io, cmd.helpMsg)
			return false, nil
		}
		if def, ok := c.userAliases[args]; ok {
			fmt.Fprintf(d.io, "%s is an alias for %q\n", args, def)
			return false, nil
		}
		return false, errNoCmd
	}

	fmt.Fprintln(d.io, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(d.io, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(d.io, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group || cmd.hidden {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return false, err
		}
	}

	fmt.Fprintln(d.io)
	fmt.Fprintln(d.io, "Type help followed by a command for full documentation.")
	fmt.Fprintln(d.io, "Any other input is evaluated as a statement; prefix it with ! to force this.")
	return false, nil
}

// splitArgs splits args into words using shell quoting rules.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal arguments '%s'", args)
	}
	return v[0], nil
}

func where(d *Debugger, args string) (bool, error) {
	f := d.frame
	if f == nil {
		return false, errors.New("not stopped")
	}
	pcs := make([]uintptr, 128)
	pcs = pcs[:runtime.Callers(1, pcs)]
	frames := runtime.CallersFrames(pcs)

	var stack []runtime.Frame
	found := false
	for {
		fr, more := frames.Next()
		if !found && fr.Function == f.Function && fr.Line == f.Line {
			found = true
		}
		if found && fr.Function != "runtime.goexit" && fr.Function != "runtime.main" {
			stack = append(stack, fr)
		}
		if !more {
			break
		}
	}
	if !found {
		fmt.Fprintf(d.io, "> %s %s()\n", f.Location(), f.Function)
		return false, nil
	}
	for i := len(stack) - 1; i >= 0; i-- {
		mark := "  "
		if i == 0 {
			mark = "> "
		}
		fmt.Fprintf(d.io, "%s%s:%d %s()\n", mark, stack[i].File, stack[i].Line, stack[i].Function)
	}
	return false, nil
}

func listCommand(d *Debugger, args string) (bool, error) {
	f := d.frame
	if f == nil || f.File == "" {
		return false, errors.New("no source available")
	}
	n := d.conf.ListLines
	var first, last int
	switch args = strings.TrimSpace(args); {
	case args == "" && d.listNext > 0:
		first = d.listNext
		last = first + n - 1
	case args == "" || args == ".":
		first = f.Line - n/2
		last = first + n - 1
	default:
		parts := strings.SplitN(args, ",", 2)
		a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return false, fmt.Errorf("invalid line number %q", parts[0])
		}
		if len(parts) == 1 {
			first = a - n/2
			last = first + n - 1
			break
		}
		b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return false, fmt.Errorf("invalid line number %q", parts[1])
		}
		first, last = a, b
		if last < first {
			last = first + last
		}
	}
	if first < 1 {
		last += 1 - first
		first = 1
	}
	if err := d.printSource(d.io, f.File, first, last, f.Line); err != nil {
		return false, err
	}
	d.listNext = last + 1
	return false, nil
}

func printVar(d *Debugger, args string) (bool, error) {
	if args == "" {
		return false, errors.New("not enough arguments")
	}
	v, err := d.eval(args)
	if err != nil {
		return false, evalError(err)
	}
	fmt.Fprintln(d.io, v)
	return false, nil
}

func locals(d *Debugger, args string) (bool, error) {
	printed := map[string]bool{}
	for _, sc := range d.scopes() {
		for _, name := range sc.Names() {
			if printed[name] {
				continue
			}
			printed[name] = true
			v, _ := sc.Lookup(name)
			fmt.Fprintf(d.io, "%s = %s\n", name, goToStarlark(v))
		}
	}
	names := make([]string, 0, len(d.globals))
	for name := range d.globals {
		if !printed[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(d.io, "%s = %s\n", name, d.globals[name])
	}
	if len(printed) == 0 && len(names) == 0 {
		fmt.Fprintln(d.io, "(no variables)")
	}
	return false, nil
}

func next(d *Debugger, args string) (bool, error) {
	if d.frame == nil {
		return false, errors.New("not stopped")
	}
	d.setMode(stopSameFunction, d.frame.Function)
	return true, nil
}

func step(d *Debugger, args string) (bool, error) {
	d.setMode(stopAny, "")
	return true, nil
}

func cont(d *Debugger, args string) (bool, error) {
	if d.bps.len() == 0 {
		d.end()
		return true, nil
	}
	d.setMode(stopBreakpoints, "")
	return true, nil
}

func breakpoint(d *Debugger, args string) (bool, error) {
	return false, setBreakpoint(d, args, false)
}

func tbreakpoint(d *Debugger, args string) (bool, error) {
	return false, setBreakpoint(d, args, true)
}

func setBreakpoint(d *Debugger, args string, temporary bool) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) == 0 {
		if temporary {
			return errors.New("not enough arguments")
		}
		printBreakpoints(d)
		return nil
	}
	if len(v) != 1 {
		return fmt.Errorf("too many arguments")
	}
	file, line, err := parseLocation(d, v[0])
	if err != nil {
		return err
	}
	bp := d.bps.add(file, line, temporary)
	kind := "Breakpoint"
	if temporary {
		kind = "Temporary breakpoint"
	}
	fmt.Fprintf(d.io, "%s %d set at %s\n", kind, bp.id, bp.location())
	return nil
}

// parseLocation parses [file:]line.
func parseLocation(d *Debugger, loc string) (string, int, error) {
	file, linestr := "", loc
	if i := strings.LastIndex(loc, ":"); i >= 0 {
		file, linestr = loc[:i], loc[i+1:]
	}
	line, err := strconv.Atoi(linestr)
	if err != nil || line <= 0 {
		return "", 0, fmt.Errorf("invalid location %q", loc)
	}
	if file == "" {
		if d.frame == nil || d.frame.File == "" {
			return "", 0, errors.New("no current file")
		}
		file = d.frame.File
	}
	return filepath.Clean(file), line, nil
}

func printBreakpoints(d *Debugger) {
	bps := d.bps.all()
	if len(bps) == 0 {
		fmt.Fprintln(d.io, "No breakpoints")
		return
	}
	w := new(tabwriter.Writer)
	w.Init(d.io, 0, 8, 1, ' ', 0)
	fmt.Fprintln(w, "Num\tType\tWhere\tHits")
	for _, bp := range bps {
		kind := "breakpoint"
		if bp.temporary {
			kind = "tbreak"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", bp.id, kind, bp.location(), bp.hits)
	}
	w.Flush()
}

func clearCmd(d *Debugger, args string) (bool, error) {
	v, err := splitArgs(args)
	if err != nil {
		return false, err
	}
	if len(v) == 0 {
		for _, bp := range d.bps.all() {
			fmt.Fprintf(d.io, "Deleted breakpoint %d at %s\n", bp.id, bp.location())
		}
		d.bps.clear()
		return false, nil
	}
	for _, s := range v {
		id, err := strconv.Atoi(s)
		if err != nil {
			return false, fmt.Errorf("invalid breakpoint number %q", s)
		}
		bp := d.bps.remove(id)
		if bp == nil {
			return false, fmt.Errorf("no breakpoint number %d", id)
		}
		fmt.Fprintf(d.io, "Deleted breakpoint %d at %s\n", bp.id, bp.location())
	}
	return false, nil
}

func (c *Commands) alias(d *Debugger, args string) (bool, error) {
	name, def := splitCommand(args)
	switch {
	case name == "":
		names := make([]string, 0, len(c.userAliases))
		for name := range c.userAliases {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(d.io, "%s = %s\n", name, c.userAliases[name])
		}
	case def == "":
		def, ok := c.userAliases[name]
		if !ok {
			return false, fmt.Errorf("unknown alias %q", name)
		}
		fmt.Fprintf(d.io, "%s = %s\n", name, def)
	default:
		if _, reserved := d.conf.Reserved[name]; reserved || c.Find(name) != nil {
			return false, fmt.Errorf("%s is a command name", name)
		}
		c.userAliases[name] = def
	}
	return false, nil
}

func (c *Commands) unalias(d *Debugger, args string) (bool, error) {
	v, err := splitArgs(args)
	if err != nil {
		return false, err
	}
	if len(v) == 0 {
		return false, errors.New("not enough arguments")
	}
	for _, name := range v {
		delete(c.userAliases, name)
	}
	return false, nil
}

func quit(d *Debugger, args string) (bool, error) {
	d.end()
	return true, nil
}

func eof(d *Debugger, args string) (bool, error) {
	fmt.Fprintln(d.io)
	return quit(d, args)
}
