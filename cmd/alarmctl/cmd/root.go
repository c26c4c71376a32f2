package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-groups/internal/config"
	"github.com/oshokin/alarm-groups/internal/service/client"
	"github.com/oshokin/alarm-groups/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// serverAddress overrides listen_addr from the configuration file.
	serverAddress string
	// reconnect keeps watch running across daemon restarts.
	reconnect bool

	// rootCmd represents the base command for talking to alarmd.
	rootCmd = &cobra.Command{
		Use:   "alarmctl",
		Short: "Control a running alarmd.",
		Long: `Sends commands to a running alarmd over gRPC, lists its alarms and
streams its events. The daemon address is listen_addr from the configuration
file unless --server is given.`,
	}

	// submitCmd sends one command line.
	submitCmd = &cobra.Command{
		Use:   "submit <command line>",
		Short: "Execute one command, e.g. 'Start_Alarm(1): 5 hello'.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			return client.Submit(ctx, options(cmd), strings.Join(args, " "))
		},
	}

	// listCmd prints stored alarms.
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored alarms.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return client.List(ctx, options(cmd))
		},
	}

	// watchCmd streams events.
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Print events as they happen until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return client.Watch(ctx, options(cmd))
		},
	}

	// journalCmd prints a local event journal.
	journalCmd = &cobra.Command{
		Use:   "journal [file]",
		Short: "Print events recorded in the journal file, defaults to journal_file.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			var path string
			if len(args) > 0 {
				path = args[0]
			}

			return client.Journal(ctx, options(cmd), path)
		},
	}
)

// signalContext is canceled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// options builds client options from the flags.
func options(cmd *cobra.Command) *client.Options {
	return &client.Options{
		Out:           cmd.OutOrStdout(),
		ConfigPath:    configPath,
		ServerAddress: serverAddress,
		Reconnect:     reconnect,
	}
}

// Execute runs the alarmctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server", "s", "", "daemon address, overrides listen_addr")
	watchCmd.Flags().BoolVarP(&reconnect, "reconnect", "r", false, "reconnect when the stream breaks")

	rootCmd.AddCommand(submitCmd, listCmd, watchCmd, journalCmd)
}
