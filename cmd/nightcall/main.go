package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nightcall/nightcall/client"
	"github.com/urfave/cli/v2"
)

// These variables are populated via the Go linker.
var (
	version string
	commit  string
	branch  string
)

const defaultURL = "http://localhost:9192"

func main() {
	app := &cli.App{
		Name:                 "nightcall",
		Usage:                "Nightcall on-call alerting command line client",
		UsageText:            "nightcall [global options] command [command options] [arguments]",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "The URL of the nightcalld server",
				Value:   defaultURL,
				EnvVars: []string{"NIGHTCALL_URL"},
			},
			&cli.BoolFlag{
				Name:    "skip-verify",
				Usage:   "Skip https certificate verification",
				EnvVars: []string{"NIGHTCALL_UNSAFE_SSL"},
			},
		},
		Before: withClient(),
		Commands: []*cli.Command{
			newRaiseCmd(),
			newListCmd(),
			newGetCmd(),
			newAckCmd(),
			newServiceTestCmd(),
			newLogLevelCmd(),
			newBackupCmd(),
			newVersionCmd(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withClient() cli.BeforeFunc {
	return func(ctx *cli.Context) error {
		c, err := client.New(client.Config{
			URL:                ctx.String("url"),
			UserAgent:          client.DefaultUserAgent + "/" + version,
			InsecureSkipVerify: ctx.Bool("skip-verify"),
		})
		if err != nil {
			return err
		}
		ctx.App.Metadata["client"] = c
		return nil
	}
}

func getClient(ctx *cli.Context) *client.Client {
	c, ok := ctx.App.Metadata["client"].(*client.Client)
	if !ok {
		panic("missing nightcall client")
	}
	return c
}

func newRaiseCmd() *cli.Command {
	var opt client.RaiseAlertOptions
	return &cli.Command{
		Name:      "raise",
		Usage:     "Raise a new alert and dispatch its first escalation level",
		ArgsUsage: "[message]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "message",
				Usage:       "alert message, may also be given as the trailing arguments",
				Aliases:     []string{"m"},
				Destination: &opt.Message,
			},
			&cli.StringFlag{
				Name:        "priority",
				Usage:       "alert priority, one of low, medium, high or critical",
				Aliases:     []string{"p"},
				Value:       "high",
				Destination: &opt.Priority,
			},
		},
		Action: func(ctx *cli.Context) error {
			if opt.Message == "" {
				opt.Message = strings.Join(ctx.Args().Slice(), " ")
			}
			a, err := getClient(ctx).RaiseAlert(opt)
			if err != nil {
				return err
			}
			printAlert(ctx.App.Writer, a)
			return nil
		},
	}
}

func newListCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List alerts, escalation policies, service tests or storage stores",
		Subcommands: []*cli.Command{
			newListAlertsCmd(),
			newListPoliciesCmd(),
			newListServiceTestsCmd(),
			newListStorageCmd(),
		},
	}
}

func newListAlertsCmd() *cli.Command {
	var opt client.ListAlertsOptions
	return &cli.Command{
		Name:    "alerts",
		Usage:   "List alerts ordered by creation time",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "status",
				Usage:       "only list alerts with this status, one of pending, acknowledged or exhausted",
				Aliases:     []string{"s"},
				Destination: &opt.Status,
			},
		},
		Action: func(ctx *cli.Context) error {
			alerts, err := getClient(ctx).ListAlerts(&opt)
			if err != nil {
				return err
			}
			outFmt := "%-36s %-8s %-12s %-12s %-5v %-20s %s\n"
			fmt.Fprintf(ctx.App.Writer, outFmt, "ID", "Priority", "Policy", "Status", "Level", "Created", "Message")
			for _, a := range alerts {
				fmt.Fprintf(ctx.App.Writer, outFmt,
					a.ID,
					a.Priority,
					a.Policy,
					a.Status,
					a.Level,
					a.CreatedAt.Local().Format(time.RFC822),
					a.Message,
				)
			}
			return nil
		},
	}
}

func newListPoliciesCmd() *cli.Command {
	return &cli.Command{
		Name:  "policies",
		Usage: "List the escalation policies the server routes priorities over",
		Action: func(ctx *cli.Context) error {
			policies, err := getClient(ctx).ListPolicies()
			if err != nil {
				return err
			}
			outFmt := "%-20s %-35s %s\n"
			fmt.Fprintf(ctx.App.Writer, outFmt, "Name", "Priorities", "Levels")
			for _, p := range policies {
				fmt.Fprintf(ctx.App.Writer, outFmt,
					p.Name,
					strings.Join(p.Priorities, ","),
					fmt.Sprintf("%d", len(p.Levels)),
				)
			}
			return nil
		},
	}
}

func newListServiceTestsCmd() *cli.Command {
	return &cli.Command{
		Name:  "service-tests",
		Usage: "List the services with test endpoints",
		Action: func(ctx *cli.Context) error {
			c := getClient(ctx)
			tests, err := c.ListServiceTests(c.ServiceTestsLink())
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.App.Writer, "%s\n", "Service")
			for _, t := range tests.Services {
				fmt.Fprintf(ctx.App.Writer, "%s\n", t.Name)
			}
			return nil
		},
	}
}

func newListStorageCmd() *cli.Command {
	return &cli.Command{
		Name:  "storage",
		Usage: "List the stores the server persists state in",
		Action: func(ctx *cli.Context) error {
			stores, err := getClient(ctx).ListStorage()
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.App.Writer, "%s\n", "Name")
			for _, s := range stores {
				fmt.Fprintf(ctx.App.Writer, "%s\n", s.Name)
			}
			return nil
		},
	}
}

func newGetCmd() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Display a single alert with its assignments",
		ArgsUsage: "<alert id>",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return errors.New("must provide exactly one alert ID")
			}
			c := getClient(ctx)
			a, err := c.Alert(c.AlertLink(ctx.Args().First()))
			if err != nil {
				return err
			}
			printAlert(ctx.App.Writer, a)
			return nil
		},
	}
}

func newAckCmd() *cli.Command {
	var opt client.AcknowledgeOptions
	return &cli.Command{
		Name:      "ack",
		Usage:     "Acknowledge an alert as a responder",
		ArgsUsage: "<alert id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "responder",
				Usage:       "ID of the acknowledging responder (required)",
				Aliases:     []string{"r"},
				Destination: &opt.Responder,
				Required:    true,
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return errors.New("must provide exactly one alert ID")
			}
			c := getClient(ctx)
			ack, err := c.Acknowledge(c.AlertLink(ctx.Args().First()), opt)
			if err != nil {
				return err
			}
			switch ack.Status {
			case "acknowledged":
				fmt.Fprintf(ctx.App.Writer, "acknowledged by %s at %s\n",
					ack.Responder.Name, ack.At.Local().Format(time.RFC822))
			case "already-acknowledged":
				fmt.Fprintf(ctx.App.Writer, "already acknowledged by %s at %s\n",
					ack.Responder.Name, ack.At.Local().Format(time.RFC822))
			default:
				fmt.Fprintln(ctx.App.Writer, ack.Status)
			}
			return nil
		},
	}
}

func newServiceTestCmd() *cli.Command {
	return &cli.Command{
		Name:      "service-test",
		Usage:     "Run tests for the named services using their default options",
		ArgsUsage: "<service> [service...]",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() == 0 {
				return errors.New("must provide at least one service name")
			}
			c := getClient(ctx)
			outFmt := "%-15s%-10v%s\n"
			fmt.Fprintf(ctx.App.Writer, outFmt, "Service", "Success", "Message")
			for _, name := range ctx.Args().Slice() {
				link := c.ServiceTestLink(name)
				st, err := c.ServiceTest(link)
				if err != nil {
					return err
				}
				tr, err := c.DoServiceTest(link, st.Options)
				if err != nil {
					return err
				}
				fmt.Fprintf(ctx.App.Writer, outFmt, name, tr.Success, tr.Message)
			}
			return nil
		},
	}
}

func newLogLevelCmd() *cli.Command {
	return &cli.Command{
		Name:      "loglevel",
		Usage:     "Set the logging level of the server, one of DEBUG, INFO, WARN or ERROR",
		ArgsUsage: "<level>",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return errors.New("must provide exactly one log level")
			}
			return getClient(ctx).LogLevel(ctx.Args().First())
		},
	}
}

func newBackupCmd() *cli.Command {
	return &cli.Command{
		Name:      "backup",
		Usage:     "Back up the storage database to a file",
		ArgsUsage: "<output file>",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return errors.New("must provide a backup file path")
			}
			f, err := os.Create(ctx.Args().First())
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := getClient(ctx).Backup(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.App.Writer, "backup written: %d bytes\n", n)
			return nil
		},
	}
}

func newVersionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Displays the Nightcall version",
		Action: func(ctx *cli.Context) error {
			fmt.Fprintf(ctx.App.Writer, "Nightcall version %s (git: %s %s)\n", version, branch, commit)
			return nil
		},
	}
}

func printAlert(w io.Writer, a client.Alert) {
	fmt.Fprintf(w, "ID: %s\n", a.ID)
	fmt.Fprintf(w, "Message: %s\n", a.Message)
	fmt.Fprintf(w, "Priority: %s\n", a.Priority)
	fmt.Fprintf(w, "Status: %s\n", a.Status)
	fmt.Fprintf(w, "Policy: %s\n", a.Policy)
	fmt.Fprintf(w, "Level: %d\n", a.Level)
	fmt.Fprintf(w, "Created: %s\n", a.CreatedAt.Local().Format(time.RFC822))
	if a.Status == "acknowledged" {
		fmt.Fprintf(w, "Acknowledged: %s by %s\n",
			a.AcknowledgedAt.Local().Format(time.RFC822), a.AcknowledgedBy.Name)
	}
	fmt.Fprintln(w, "Assignments:")
	outFmt := "%-12s %-10s %-18s %-5v %-20s %s\n"
	fmt.Fprintf(w, outFmt, "Responder", "Channel", "Address", "Level", "Dispatched", "Acknowledged")
	for _, as := range a.Assignments {
		acked := ""
		if !as.AcknowledgedAt.IsZero() {
			acked = as.AcknowledgedAt.Local().Format(time.RFC822)
		}
		fmt.Fprintf(w, outFmt,
			as.Responder.Name,
			as.Channel,
			as.Address,
			as.Level,
			as.DispatchedAt.Local().Format(time.RFC822),
			acked,
		)
	}
}
