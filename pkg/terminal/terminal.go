// Package terminal implements the operator side of a debugging session: a
// line editor reading commands from the user's terminal and sending them
// to the debugged process.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"

	"github.com/go-delve/attach/pkg/config"
	"github.com/go-delve/attach/pkg/engine"
	"github.com/go-delve/attach/pkg/logflags"
	"github.com/go-delve/attach/service"
)

const historyFile string = "history"

// lineReader is the part of liner.State used by Term.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	ReadHistory(r io.Reader) (int, error)
	WriteHistory(w io.Writer) (int, error)
	Close() error
}

// Term represents the terminal running dlv-attach.
type Term struct {
	client *service.Client
	conf   *config.Config
	line   lineReader
	stdout io.Writer
	pw     *pagingWriter
	color  bool
	log    logflags.Logger

	completions *trie.Trie

	// InitFile is a file whose lines are sent as commands before the
	// user is prompted.
	InitFile  string
	initLines []string

	sigch chan os.Signal
}

// New returns a new Term reading from the process terminal.
func New(client *service.Client, conf *config.Config) *Term {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	pw := newStdout()
	t := newTerm(client, conf, line, pw)
	t.pw = pw
	t.color = stdoutIsTerminal()
	line.SetCompleter(t.complete)

	t.sigch = make(chan os.Signal, 1)
	signal.Notify(t.sigch, os.Interrupt)
	go t.sigintGuard(t.sigch)
	return t
}

func newTerm(client *service.Client, conf *config.Config, line lineReader, stdout io.Writer) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	t := &Term{
		client:      client,
		conf:        conf,
		line:        line,
		stdout:      stdout,
		log:         logflags.TerminalLogger(),
		completions: trie.New(),
	}
	names := append(engine.CommandNames(conf.Aliases), service.DetachCommand)
	for _, name := range names {
		t.completions.Add(name, nil)
	}
	return t
}

// Close returns the terminal to its previous mode and closes the
// connection.
func (t *Term) Close() {
	if t.sigch != nil {
		signal.Stop(t.sigch)
		close(t.sigch)
		t.sigch = nil
	}
	t.line.Close()
	t.client.Close()
}

// sigintGuard keeps Ctrl-C from killing the client while the debugged
// process runs. At the prompt Ctrl-C is handled by the line editor.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		fmt.Fprintf(os.Stderr, "received SIGINT, the debugged process keeps running (use %q or \"quit\" to end the session)\n", service.DetachCommand)
	}
}

func (t *Term) complete(line string) (c []string) {
	if strings.ContainsAny(line, " \t") {
		return nil
	}
	c = t.completions.PrefixSearch(strings.ToLower(line))
	sort.Strings(c)
	return c
}

// Run runs the session until the debugged process closes it. The exit
// status is 0 when the session ended normally.
func (t *Term) Run() (int, error) {
	defer t.Close()

	t.loadHistory()
	if t.InitFile != "" {
		if err := t.loadInitFile(); err != nil {
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	text, closed := t.client.Recv()
	for !closed {
		output, prompt := splitPrompt(text)
		fmt.Fprint(t.stdout, output)
		t.resetPager()

		line, err := t.nextLine(prompt)
		switch {
		case err == nil:
			t.log.Debugf("sending %q", line)
			t.pageMaybe()
			text, closed = t.client.SendAndRecv(line)
		case err == io.EOF:
			fmt.Fprintln(t.stdout)
			t.log.Debug("end of input")
			text, closed = t.client.RaiseEndOfInput()
		case errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(t.stdout)
			text = prompt
		default:
			t.saveHistory()
			return 1, fmt.Errorf("prompt for input failed: %w", err)
		}
	}
	fmt.Fprint(t.stdout, text)
	t.resetPager()
	t.sessionClosed()
	t.saveHistory()
	return 0, nil
}

// splitPrompt separates the prompt, the last line of text, from the output
// that precedes it.
func splitPrompt(text string) (output, prompt string) {
	i := strings.LastIndexByte(text, '\n')
	return text[:i+1], text[i+1:]
}

func (t *Term) nextLine(prompt string) (string, error) {
	if len(t.initLines) > 0 {
		var l string
		l, t.initLines = t.initLines[0], t.initLines[1:]
		fmt.Fprintf(t.stdout, "%s%s\n", prompt, l)
		return l, nil
	}
	l, err := t.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}
	return l, nil
}

// loadInitFile reads the commands of InitFile. Blank lines and lines
// starting with # are skipped.
func (t *Term) loadInitFile() error {
	data, err := os.ReadFile(t.InitFile)
	if err != nil {
		return err
	}
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		t.initLines = append(t.initLines, l)
	}
	return nil
}

func (t *Term) sessionClosed() {
	if t.color {
		fmt.Fprintf(t.stdout, terminalHighlightEscapeCode+"session closed"+terminalResetEscapeCode+"\n", ansiYellow)
	}
}

func (t *Term) pageMaybe() {
	if t.pw != nil {
		t.pw.PageMaybe()
	}
}

func (t *Term) resetPager() {
	if t.pw != nil {
		t.pw.Reset()
	}
}

func (t *Term) loadHistory() {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
		return
	}
	f, err := os.Open(fullHistoryFile)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := t.line.ReadHistory(f); err != nil {
		t.log.WithError(err).Error("reading history")
	}
}

func (t *Term) saveHistory() {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(fullHistoryFile), 0700); err != nil {
		fmt.Println("Error saving history file:", err)
		return
	}
	f, err := os.Create(fullHistoryFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
		return
	}
	defer f.Close()
	if _, err := t.line.WriteHistory(f); err != nil {
		fmt.Println("readline history error:", err)
	}
}
