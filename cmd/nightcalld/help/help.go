package help

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Command prints the top-level usage text for nightcalld.
type Command struct {
	Stdout io.Writer
}

// NewCommand returns a new instance of Command.
func NewCommand() *Command {
	return &Command{
		Stdout: os.Stdout,
	}
}

// Run executes the command.
func (cmd *Command) Run(args ...string) error {
	fmt.Fprintln(cmd.Stdout, strings.TrimSpace(usage))
	return nil
}

const usage = `
Nightcall is an on-call escalation daemon. It tracks open alerts, walks
their escalation policies and notifies responders until someone
acknowledges.

Usage:

	nightcalld [[command] [arguments]]

The commands are:

    config               display the default configuration
    help                 display this help text
    run                  start the server (the default command)
    version              display the Nightcall version

Running nightcalld with no arguments is the same as "nightcalld run".

The server reads its configuration from the first of:

    the -config flag
    the NIGHTCALL_CONFIG_PATH environment variable
    ~/.nightcall/nightcall.conf
    /etc/nightcall/nightcall.conf

Use "nightcalld help [command]" for more information about a command.
`
