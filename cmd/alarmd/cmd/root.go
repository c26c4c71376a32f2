package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-groups/internal/config"
	"github.com/oshokin/alarm-groups/internal/service/server"
	"github.com/oshokin/alarm-groups/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// metricsAddress overrides the metrics HTTP address.
	metricsAddress string
	// noConsole disables the interactive prompt.
	noConsole bool
	// allowMultiple skips the running-instance check.
	allowMultiple bool

	// rootCmd represents the base command for running the scheduler daemon.
	rootCmd = &cobra.Command{
		Use:   "alarmd [listen-address]",
		Short: "Run the grouped alarm scheduler.",
		Long: `Starts the alarm scheduler. Alarms are grouped by interval into 5-second
buckets and every non-empty group is served by one worker that announces the
group's due alarms.

Commands are read from stdin at the "alarm> " prompt and accepted over gRPC:

  Start_Alarm(<id>): <seconds> [<category>] <message>
  Replace_Alarm(<id>): <seconds> [<category>] <message>
  Cancel_Alarm(<id>)
  View_Alarms

Every event is printed to stdout. Settings are read from the configuration
file; defaults apply when it does not exist. The listen address argument
overrides listen_addr from the file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				In:             cmd.InOrStdin(),
				Out:            cmd.OutOrStdout(),
				ConfigPath:     configPath,
				ListenAddress:  listenAddress,
				MetricsAddress: metricsAddress,
				NoConsole:      noConsole,
				AllowMultiple:  allowMultiple,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the alarmd CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&metricsAddress, "metrics", "m", "", "metrics listen address, overrides metrics_addr")
	rootCmd.Flags().BoolVar(&noConsole, "no-console", false, "do not read commands from stdin")
	rootCmd.Flags().BoolVar(&allowMultiple, "allow-multiple", false, "start even if another alarmd is running")
}
