package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nightcall/nightcall/cmd/nightcalld/help"
	"github.com/nightcall/nightcall/cmd/nightcalld/run"
	"github.com/nightcall/nightcall/services/diagnostic"
)

// shutdownTimeout bounds a clean shutdown once the first signal arrives.
const shutdownTimeout = 30 * time.Second

// These variables are populated via the Go linker.
var (
	version string
	commit  string
	branch  string
)

func init() {
	// If commit or branch are not set, make that clear.
	if commit == "" {
		commit = "unknown"
	}
	if branch == "" {
		branch = "unknown"
	}
}

func main() {
	m := Main{
		Diag:   diagnostic.BootstrapMainHandler(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	if err := m.Run(os.Args[1:]...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Main dispatches the nightcalld subcommands.
type Main struct {
	Diag run.Diagnostic

	Stdout io.Writer
	Stderr io.Writer
}

// Run executes the command named by the first argument. Without one the
// server runs.
func (m *Main) Run(args ...string) error {
	name, args := parseCommandName(args)

	switch name {
	case "", "run":
		return m.runServer(args)
	case "config":
		if err := run.NewPrintConfigCommand().Run(args...); err != nil {
			return fmt.Errorf("config: %s", err)
		}
	case "version":
		fmt.Fprintf(m.Stdout, "Nightcall version %s (git: %s %s)\n", version, branch, commit)
	case "help":
		if err := help.NewCommand().Run(args...); err != nil {
			return fmt.Errorf("help: %s", err)
		}
	default:
		return fmt.Errorf(`unknown command "%s"`+"\n"+`Run 'nightcalld help' for usage`+"\n\n", name)
	}

	return nil
}

// runServer starts the daemon and blocks until it shuts down. The first
// signal begins a clean shutdown; a second signal, or the shutdown
// timeout, forces a hard exit.
func (m *Main) runServer(args []string) error {
	cmd := run.NewCommand()

	// Tell the server the build details.
	cmd.Version = version
	cmd.Commit = commit
	cmd.Branch = branch

	err := cmd.Run(args...)
	if cmd.Diag != nil {
		// The command has built the configured diagnostic; prefer it.
		m.Diag = cmd.Diag
	}
	if err != nil {
		m.Diag.Error("encountered error", err)
		return fmt.Errorf("run: %s", err)
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	m.Diag.Info("listening for signals")

	sig := <-signals
	m.Diag.Info(fmt.Sprintf("%v received, initializing clean shutdown...", sig))
	go cmd.Close()

	select {
	case <-signals:
		m.Diag.Info("second signal received, initializing hard shutdown")
	case <-time.After(shutdownTimeout):
		m.Diag.Info("time limit reached, initializing hard shutdown")
	case <-cmd.Closed:
		m.Diag.Info("server shutdown completed")
	}
	return nil
}

// parseCommandName splits the subcommand from its arguments. A leading
// "-h" is rewritten to the help command and "help <cmd>" to "<cmd> -h".
func parseCommandName(args []string) (string, []string) {
	if len(args) == 0 {
		return "", nil
	}
	if args[0] == "-h" {
		args[0] = "help"
	}
	if strings.HasPrefix(args[0], "-") {
		return "", args
	}

	name := args[0]
	if name == "help" && len(args) > 1 {
		return args[1], append(args[2:], "-h")
	}
	return name, args[1:]
}
