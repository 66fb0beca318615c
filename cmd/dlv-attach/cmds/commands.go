package cmds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/attach/pkg/attach"
	"github.com/go-delve/attach/pkg/config"
	"github.com/go-delve/attach/pkg/logflags"
	"github.com/go-delve/attach/pkg/terminal"
	"github.com/go-delve/attach/pkg/trace"
	"github.com/go-delve/attach/pkg/version"
	"github.com/go-delve/attach/service"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// host is the host the debugged process listens on.
	host string
	// noSignal skips sending the activation signal, for targets using the
	// polling backend.
	noSignal bool
	// initFile is the path to initialization file.
	initFile string
	// verbose makes the version command print build information.
	verbose bool

	// demoPort and demoBackend configure the demo target.
	demoPort    int
	demoBackend string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const attachCommandLongDesc = `dlv-attach attaches an interactive debugging session to a running Go
program without restarting it.

The program must import github.com/go-delve/attach/pkg/attach, call
attach.Listen(PORT, nil) and call trace.Step at the points where it may be
stopped. dlv-attach sends SIGUSR2 to PID, connects to PORT and reads
debugger commands from the terminal. Type 'help' at the prompt for the
list of commands, 'detach' to end the session and release the port.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "dlv-attach [flags] PID PORT",
		Short: "Attach a debugging session to a running Go program.",
		Long:  attachCommandLongDesc,
		Args:  parseAttachArgs,
		Run:   attachCmd,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'dlv-attach help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'dlv-attach help log').")

	rootCommand.Flags().StringVar(&host, "host", conf.Host, "Host the debugged program listens on.")
	rootCommand.Flags().BoolVar(&noSignal, "no-signal", false, "Connect without sending SIGUSR2, for programs using the polling backend.")
	rootCommand.Flags().StringVar(&initFile, "init", "", "Init file, its lines are sent as commands before the first prompt.")

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dlv-attach\n%s\n", version.AttachVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	// 'demo' subcommand.
	demoCommand := &cobra.Command{
		Use:   "demo",
		Short: "Runs a sample program that can be attached to.",
		Long: `Runs a sample program that can be attached to.

The program listens on --port with the selected backend and loops forever,
stepping once per iteration with the variables 'i', 'running' and 'message'
bound. Set running = False from a session to make it exit.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			os.Exit(demo(ctx, cmd.OutOrStdout(), demoPort, demoBackend))
		},
	}
	demoCommand.Flags().IntVar(&demoPort, "port", 50010, "Port to listen on.")
	demoCommand.Flags().StringVar(&demoBackend, "backend", conf.Backend, `Activation backend (see 'dlv-attach help backend').`)
	rootCommand.AddCommand(demoCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "backend",
		Short: "Help about the --backend flag.",
		Long: `The --backend flag of the demo command selects how the debugged program
notices a client, possible values are:

	default		signal where SIGUSR2 exists, poll everywhere else.
	signal		A client is accepted after the process receives SIGUSR2.
	poll		The program checks for a waiting client every
			poll-interval trace steps (see the configuration file).
			Use 'dlv-attach --no-signal PID PORT' to connect.

`})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	wire		Log every frame sent and received
	session		Log session start, detach and end (default)
	listener	Log listener and activation backend events
	engine		Log debugger engine events
	terminal	Log commands sent by the terminal

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.SetGlobalNormalizationFunc(normalizeFlagName)
	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// normalizeFlagName accepts the keys of the configuration file as flag
// names: --log_output is the same as --log-output.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func parseAttachArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return errors.New("you must provide a PID and a PORT")
	}
	if _, err := strconv.Atoi(args[0]); err != nil {
		return fmt.Errorf("invalid pid: %q", args[0])
	}
	if port, err := strconv.Atoi(args[1]); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %q", args[1])
	}
	return nil
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, _ := strconv.Atoi(args[0])
	port, _ := strconv.Atoi(args[1])
	os.Exit(execute(pid, port))
}

func execute(pid, port int) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	if !noSignal {
		if err := attach.Trigger(pid); err != nil {
			fmt.Fprintf(os.Stderr, "could not signal process %d: %v\n", pid, err)
			return 1
		}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := service.Dial(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", addr, err)
		return 1
	}

	term := terminal.New(client, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}

// demo runs the sample program until ctx is done or running is set to
// false from a session.
func demo(ctx context.Context, out io.Writer, port int, backend string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	opts, err := attach.OptionsFromConfig(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if opts.Backend, err = attach.ParseBackendKind(backend); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	h, err := attach.Listen(port, &opts)
	switch {
	case errors.Is(err, attach.ErrUnsupported):
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	case err != nil:
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer attach.Unlisten(h)
	if addr := h.Addr(); addr != nil {
		fmt.Fprintf(out, "pid %d listening on %s\n", os.Getpid(), addr)
	}

	var (
		i       int
		running = true
		message = "hello"
	)
	sc := trace.NewScope().Bind("i", &i).Bind("running", &running).Bind("message", &message)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for running {
		i++
		trace.Step(sc)
		select {
		case <-ctx.Done():
			return 0
		case <-tick.C:
		}
	}
	fmt.Fprintf(out, "%s after %d steps\n", message, i)
	return 0
}
