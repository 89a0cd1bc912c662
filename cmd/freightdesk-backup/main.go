// Package main is the entrypoint for the freightdesk backup CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "freightdesk-backup",
		Short: "Database and file backups for freightdesk",
		Long: `freightdesk-backup creates, verifies and monitors backups of the freightdesk
database and uploaded files.

Configuration is read from a YAML file (--config, or freightdesk.yaml in the
working directory) overlaid with FREIGHTDESK_ environment variables.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(flags),
		newPreRestoreCmd(flags),
		newStatusCmd(flags),
		newHistoryCmd(flags),
		newHealthCmd(flags),
		newVerifyCmd(flags),
		newValidateCmd(flags),
		newContentsCmd(flags),
		newExtractCmd(flags),
		newConfigCmd(flags),
		newMigrateCmd(flags),
		newServeCmd(flags),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "freightdesk-backup %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
