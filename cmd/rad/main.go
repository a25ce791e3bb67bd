package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the admin API for client commands.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// runFlagKeys maps run flags to configuration keys.
var runFlagKeys = map[string]string{
	"executable":    "server.executable",
	"work-dir":      "server.work_dir",
	"process-name":  "server.process_name",
	"grace-period":  "supervisor.grace_period",
	"poll-interval": "supervisor.poll_interval",
	"probe-address": "probe.address",
	"output":        "output.path",
	"history":       "history.dsns",
	"admin-listen":  "admin.listen",
	"log-level":     "log.level",
	"log-format":    "log.format",
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createStatusCommand(apiFlags),
		createControlCommand("start", "Resume supervision after a stop", apiFlags),
		createControlCommand("stop", "Kill the server and hold until start", apiFlags),
		createControlCommand("restart", "Kill the server; supervision spawns a fresh one", apiFlags),
		createOutputCommand(apiFlags),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command; without a subcommand it supervises.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "rad",
		Short: "Rust dedicated server supervisor",
		Long: `rad launches a Rust dedicated server, watches its remote console port
and restarts it when it stops answering or exits.

The remote console password is read from the environment (RCON_PASSWORD by
default). Without it there is nothing to supervise and rad exits cleanly.

Examples:
  RCON_PASSWORD=secret rad
  rad run --config=/etc/rad.toml
  rad status --api-url=http://127.0.0.1:28080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	addRunFlags(root)
	return root
}

func createRunCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch and supervise the server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, flags)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.String("executable", "", "server executable")
	fs.String("work-dir", "", "server working directory")
	fs.String("process-name", "", "process name used to find and kill the server")
	fs.Duration("grace-period", 0, "time after spawn before health checks start")
	fs.Duration("poll-interval", 0, "health check interval")
	fs.String("probe-address", "", "TCP address probed for health (default 127.0.0.1:<rcon port>)")
	fs.String("output", "", "file receiving server output")
	fs.StringSlice("history", nil, "lifecycle history DSN (repeatable)")
	fs.String("admin-listen", "", "loopback address for the admin API, e.g. 127.0.0.1:28080")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: text or json")
}

func createStatusCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervision state from a running rad",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewAPIClient(flags.APIUrl, flags.APITimeout)
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createControlCommand(name, short string, flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewAPIClient(flags.APIUrl, flags.APITimeout)
			if err := c.Command(cmd.Context(), name); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s accepted\n", name)
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createOutputCommand(flags *APIFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "output",
		Short: "Print recent server output",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewAPIClient(flags.APIUrl, flags.APITimeout)
			lines, err := c.Output(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, l := range lines {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n",
					l.ObservedAt.UTC().Format(time.RFC3339Nano), l.Origin, l.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of lines (0 for all kept)")
	addAPIFlags(cmd, flags)
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "rad", version)
		},
	}
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", defaultAPIUrl, "admin API base URL")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}
